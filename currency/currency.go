package currency

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/amjuarez/bytecoin-sub001/crypto"
	"github.com/amjuarez/bytecoin-sub001/wire"
)

// Consensus constants shared by every network.
const (
	// MaxBlockIndex is the highest representable block index. Unlock
	// times below it are block indexes; at or above it they are Unix
	// timestamps.
	MaxBlockIndex = 500000000

	// MaxBlockBlobSize is the absolute cap on a serialized block.
	MaxBlockBlobSize = 500000000

	// MaxTxSize is the absolute cap on a serialized transaction.
	MaxTxSize = 1000000000

	// COIN is the number of atomic units in one coin.
	COIN = 100000000

	// UndefinedUpgradeHeight marks a network with no hard-coded upgrade
	// height; the voted upgrade path applies instead.
	UndefinedUpgradeHeight = ^uint32(0)
)

// BlockMajorVersion values in use.
const (
	BlockMajorVersion1 = 1
	BlockMajorVersion2 = 2
)

// BlockMinorVersion values. Minor version 1 is the upgrade vote bit.
const (
	BlockMinorVersion0 = 0
	BlockMinorVersion1 = 1
)

// Currency is the immutable parameter set of one network. It is constructed
// once at startup and threaded by reference through every component; there is no
// process-wide mutable currency state.
type Currency struct {
	Name    string
	Testnet bool

	MinedMoneyUnlockWindow   uint32
	BlockFutureTimeLimit     uint64
	TimestampCheckWindow     int
	MoneySupply              uint64
	EmissionSpeedFactor      uint
	RewardBlocksWindow       uint32
	FullRewardZone           uint64
	CoinbaseBlobReservedSize uint64
	DecimalPoint             int
	MinimumFee               uint64
	DustThreshold            uint64

	DifficultyTarget uint64
	DifficultyWindow int
	DifficultyCut    int
	DifficultyLag    int

	MaxBlockSizeInitial           uint64
	MaxBlockSizeGrowthNumerator   uint64
	MaxBlockSizeGrowthDenominator uint64

	LockedTxAllowedDeltaBlocks  uint32
	LockedTxAllowedDeltaSeconds uint64

	MempoolTxLiveTime             uint64
	MempoolTxFromAltBlockLiveTime uint64

	UpgradeHeight          uint32
	UpgradeVotingThreshold uint32
	UpgradeVotingWindow    uint32
	UpgradeWindow          uint32

	genesisBlock *wire.MsgBlock
	genesisHash  crypto.Hash

	checkpoints []Checkpoint
}

// MainNet returns the production network parameters.
func MainNet() *Currency {
	c := defaultCurrency()
	c.checkpoints = append([]Checkpoint(nil), mainNetCheckpoints...)
	c.initGenesis()
	return c
}

// TestNet returns the test network parameters. The genesis nonce is bumped
// by one which flips the genesis hash and keeps the two networks disjoint.
func TestNet() *Currency {
	c := defaultCurrency()
	c.Name = c.Name + "-testnet"
	c.Testnet = true
	c.initGenesis()
	return c
}

func defaultCurrency() *Currency {
	blocksPerDay := uint32(24 * 60 * 60 / 240)

	return &Currency{
		Name: "bytecoin",

		MinedMoneyUnlockWindow:   6,
		BlockFutureTimeLimit:     60 * 60 * 2,
		TimestampCheckWindow:     30,
		MoneySupply:              uint64(320000*COIN) << 18,
		EmissionSpeedFactor:      18,
		RewardBlocksWindow:       100,
		FullRewardZone:           32000,
		CoinbaseBlobReservedSize: 600,
		DecimalPoint:             8,
		MinimumFee:               100000,
		DustThreshold:            100000,

		DifficultyTarget: 240,
		DifficultyWindow: 240,
		DifficultyCut:    30,
		DifficultyLag:    15,

		MaxBlockSizeInitial:           32000 * 10,
		MaxBlockSizeGrowthNumerator:   100 * 1024,
		MaxBlockSizeGrowthDenominator: 365 * 24 * 60 * 60 / 240,

		LockedTxAllowedDeltaBlocks:  1,
		LockedTxAllowedDeltaSeconds: 240 * 1,

		MempoolTxLiveTime:             60 * 60 * 14,
		MempoolTxFromAltBlockLiveTime: 60 * 60 * 24,

		UpgradeHeight:          UndefinedUpgradeHeight,
		UpgradeVotingThreshold: 90,
		UpgradeVotingWindow:    blocksPerDay,
		UpgradeWindow:          blocksPerDay,
	}
}

// GenesisBlock returns the network's genesis block.
func (c *Currency) GenesisBlock() *wire.MsgBlock {
	return c.genesisBlock
}

// GenesisHash returns the hash of the network's genesis block.
func (c *Currency) GenesisHash() crypto.Hash {
	return c.genesisHash
}

// Checkpoints returns the compiled-in checkpoint table, ordered by index.
func (c *Currency) Checkpoints() []Checkpoint {
	return c.checkpoints
}

// MaxBlockCumulativeSize returns the dynamic cumulative block size limit at
// the given height.
func (c *Currency) MaxBlockCumulativeSize(height uint64) uint64 {
	return c.MaxBlockSizeInitial +
		height*c.MaxBlockSizeGrowthNumerator/c.MaxBlockSizeGrowthDenominator
}

// IsUnlocked reports whether an output with the given unlock time may be
// spent in a transaction confirmed at blockIndex. Unlock times below
// MaxBlockIndex are block indexes; all other values are Unix timestamps
// compared against now.
func (c *Currency) IsUnlocked(unlockTime uint64, blockIndex uint32, now uint64) bool {
	if unlockTime < MaxBlockIndex {
		return uint64(blockIndex)+uint64(c.LockedTxAllowedDeltaBlocks) >= unlockTime
	}
	return now+c.LockedTxAllowedDeltaSeconds >= unlockTime
}

// CalculateUpgradeHeight returns the height at which a voted upgrade
// activates, given the height its voting completed at.
func (c *Currency) CalculateUpgradeHeight(votingCompleteHeight uint32) uint32 {
	return votingCompleteHeight + c.UpgradeWindow
}

// FormatAmount renders an atomic amount with the network's decimal point.
func (c *Currency) FormatAmount(amount uint64) string {
	s := formatUint(amount)
	if len(s) < c.DecimalPoint+1 {
		s = strings.Repeat("0", c.DecimalPoint+1-len(s)) + s
	}
	return s[:len(s)-c.DecimalPoint] + "." + s[len(s)-c.DecimalPoint:]
}

// ParseAmount parses a decimal coin amount into atomic units.
func (c *Currency) ParseAmount(str string) (uint64, error) {
	str = strings.TrimSpace(str)

	fractionSize := 0
	if pointIndex := strings.IndexByte(str, '.'); pointIndex != -1 {
		fractionSize = len(str) - pointIndex - 1
		for fractionSize > c.DecimalPoint && strings.HasSuffix(str, "0") {
			str = str[:len(str)-1]
			fractionSize--
		}
		if fractionSize > c.DecimalPoint {
			return 0, errors.Errorf("too many fractional digits in amount %q", str)
		}
		str = str[:pointIndex] + str[pointIndex+1:]
	}

	if str == "" {
		return 0, errors.New("empty amount")
	}
	str += strings.Repeat("0", c.DecimalPoint-fractionSize)

	var amount uint64
	for _, r := range str {
		if r < '0' || r > '9' {
			return 0, errors.Errorf("invalid character %q in amount", r)
		}
		digit := uint64(r - '0')
		if amount > (^uint64(0)-digit)/10 {
			return 0, errors.New("amount overflows 64 bits")
		}
		amount = amount*10 + digit
	}
	return amount, nil
}

// DecomposeAmount splits an amount into its power-of-ten digits, routing
// pieces at or below the dust threshold into the dust callback.
func DecomposeAmount(amount, dustThreshold uint64, chunk, dust func(uint64)) {
	if amount == 0 {
		return
	}

	order := uint64(1)
	for amount > 0 {
		piece := (amount % 10) * order
		amount /= 10
		order *= 10
		if piece == 0 {
			continue
		}
		if piece <= dustThreshold {
			dust(piece)
		} else {
			chunk(piece)
		}
	}
}

func formatUint(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
