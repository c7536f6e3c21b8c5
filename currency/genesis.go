package currency

import (
	"github.com/amjuarez/bytecoin-sub001/crypto"
	"github.com/amjuarez/bytecoin-sub001/wire"
)

// genesisOutputKey is the hard-coded one-time key of the genesis coinbase
// output. Generating the coinbase at startup would draw randomness, and the
// genesis block has to be identical on every node.
var genesisOutputKey = mustPublicKey("9b2e4c0281c0b02e7c53291a94d1d0cbff8883f8024f5142ee494ffbbd088071")

const (
	genesisNonce     = 70
	genesisTimestamp = 0
)

func (c *Currency) initGenesis() {
	coinbase := wire.MsgTx{
		Version:    wire.CurrentTxVersion,
		UnlockTime: uint64(c.MinedMoneyUnlockWindow),
		Inputs:     []wire.TxInput{&wire.CoinbaseInput{BlockIndex: 0}},
		Outputs: []wire.TxOutput{{
			Amount: c.MoneySupply >> c.EmissionSpeedFactor,
			Target: &wire.KeyOutput{Key: genesisOutputKey},
		}},
		Extra:      wire.AppendPubKeyToExtra(nil, genesisOutputKey),
		Signatures: [][]crypto.Signature{nil},
	}

	nonce := uint32(genesisNonce)
	if c.Testnet {
		nonce++
	}

	c.genesisBlock = &wire.MsgBlock{
		Header: wire.BlockHeader{
			MajorVersion: BlockMajorVersion1,
			MinorVersion: BlockMinorVersion0,
			Timestamp:    genesisTimestamp,
			Nonce:        nonce,
		},
		CoinbaseTx: coinbase,
	}
	c.genesisHash = c.genesisBlock.BlockHash()
}

func mustPublicKey(s string) crypto.PublicKey {
	hash, err := crypto.NewHashFromStr(s)
	if err != nil {
		panic(err)
	}
	return crypto.PublicKey(*hash)
}
