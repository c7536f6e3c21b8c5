package blockchain

import (
	"testing"
	"time"

	"github.com/amjuarez/bytecoin-sub001/crypto"
	"github.com/amjuarez/bytecoin-sub001/currency"
	"github.com/amjuarez/bytecoin-sub001/database/ldb"
	"github.com/amjuarez/bytecoin-sub001/wire"
)

// fakePool implements TxSource over a plain map for chain tests.
type fakePool struct {
	txs map[crypto.Hash]*wire.MsgTx
}

func newFakePool() *fakePool {
	return &fakePool{txs: make(map[crypto.Hash]*wire.MsgTx)}
}

func (p *fakePool) TakeTransaction(txHash crypto.Hash) (*wire.MsgTx, bool) {
	tx, ok := p.txs[txHash]
	if ok {
		delete(p.txs, txHash)
	}
	return tx, ok
}

func (p *fakePool) ReturnTransaction(tx *wire.MsgTx) {
	p.txs[tx.TxHash()] = tx
}

func (p *fakePool) has(txHash crypto.Hash) bool {
	_, ok := p.txs[txHash]
	return ok
}

// fixedClock pins validation time.
type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

// acceptAllChecker passes every ring signature; chain tests exercise the
// bookkeeping around verification, not the group math.
type acceptAllChecker struct{}

func (acceptAllChecker) CheckRingSignature(crypto.Hash, crypto.KeyImage,
	[]crypto.PublicKey, []crypto.Signature) bool {
	return true
}

// testHarness wires a chain over a throwaway leveldb store.
type testHarness struct {
	t     *testing.T
	cur   *currency.Currency
	db    *ldb.LevelDB
	cache *Cache
	chain *Chain
	pool  *fakePool

	minerKey crypto.PublicKey

	// generated mirrors AlreadyGeneratedCoins at the current tip for
	// reward computation while building blocks.
	generated uint64
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	// The test network has no compiled-in checkpoints to get in the way
	// of low-height reorganizations.
	cur := currency.TestNet()

	db, err := ldb.NewLevelDB(t.TempDir())
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cache, err := NewCache(cur, db)
	if err != nil {
		t.Fatalf("opening cache: %v", err)
	}

	pool := newFakePool()
	chain, err := NewChain(cur, cache, pool, acceptAllChecker{},
		fixedClock{now: time.Unix(1500000000, 0)})
	if err != nil {
		t.Fatalf("opening chain: %v", err)
	}

	var minerKey crypto.PublicKey
	minerKey[0] = 0xde

	return &testHarness{
		t:         t,
		cur:       cur,
		db:        db,
		cache:     cache,
		chain:     chain,
		pool:      pool,
		minerKey:  minerKey,
		generated: cur.GenesisBlock().CoinbaseTx.OutputAmount(),
	}
}

// baseReward returns the emission of the next block given the coins
// generated through its parent.
func (h *testHarness) baseReward(generatedAtParent uint64) uint64 {
	return (h.cur.MoneySupply - generatedAtParent) >> h.cur.EmissionSpeedFactor
}

// blockOptions parameterizes buildBlock.
type blockOptions struct {
	prevHash          crypto.Hash
	blockIndex        uint32
	timestamp         uint64
	generatedAtParent uint64
	transactions      []*wire.MsgTx

	// outputSplit optionally decomposes the coinbase value; amounts must
	// sum to the block reward. A nil split pays one output.
	outputSplit []uint64

	majorVersion uint8
	minorVersion uint8
}

// buildBlock assembles a valid block for the given parent state. Test
// chains space timestamps one difficulty target apart, which holds the
// difficulty at one.
func (h *testHarness) buildBlock(opts blockOptions) (*wire.MsgBlock, []byte) {
	h.t.Helper()

	var totalFee uint64
	txHashes := make([]crypto.Hash, 0, len(opts.transactions))
	for _, tx := range opts.transactions {
		totalFee += tx.Fee()
		txHashes = append(txHashes, tx.TxHash())
	}

	reward := h.baseReward(opts.generatedAtParent) + totalFee

	outputSplit := opts.outputSplit
	if outputSplit == nil {
		outputSplit = []uint64{reward}
	}

	var splitTotal uint64
	outputs := make([]wire.TxOutput, 0, len(outputSplit))
	for _, amount := range outputSplit {
		splitTotal += amount
		outputs = append(outputs, wire.TxOutput{
			Amount: amount,
			Target: &wire.KeyOutput{Key: h.minerKey},
		})
	}
	if splitTotal != reward {
		h.t.Fatalf("output split sums to %d, reward is %d", splitTotal, reward)
	}

	majorVersion := opts.majorVersion
	if majorVersion == 0 {
		majorVersion = currency.BlockMajorVersion1
	}

	block := &wire.MsgBlock{
		Header: wire.BlockHeader{
			MajorVersion: majorVersion,
			MinorVersion: opts.minorVersion,
			Timestamp:    opts.timestamp,
			PrevBlock:    opts.prevHash,
		},
		CoinbaseTx: wire.MsgTx{
			Version:    wire.CurrentTxVersion,
			UnlockTime: uint64(opts.blockIndex) + uint64(h.cur.MinedMoneyUnlockWindow),
			Inputs:     []wire.TxInput{&wire.CoinbaseInput{BlockIndex: opts.blockIndex}},
			Outputs:    outputs,
			Extra:      wire.AppendPubKeyToExtra(nil, h.minerKey),
			Signatures: [][]crypto.Signature{nil},
		},
		TxHashes: txHashes,
	}

	blob, err := block.Bytes()
	if err != nil {
		h.t.Fatalf("serializing test block: %v", err)
	}
	return block, blob
}

// extendMain builds and pushes count coinbase-only blocks on the current
// tip, returning the pushed blocks.
func (h *testHarness) extendMain(count int, outputSplit func(reward uint64) []uint64) []*wire.MsgBlock {
	h.t.Helper()

	blocks := make([]*wire.MsgBlock, 0, count)
	for i := 0; i < count; i++ {
		topIndex, err := h.cache.TopBlockIndex()
		if err != nil {
			h.t.Fatalf("TopBlockIndex: %v", err)
		}
		topHash, err := h.cache.TopBlockHash()
		if err != nil {
			h.t.Fatalf("TopBlockHash: %v", err)
		}

		opts := blockOptions{
			prevHash:          topHash,
			blockIndex:        topIndex + 1,
			timestamp:         uint64(topIndex+1) * h.cur.DifficultyTarget,
			generatedAtParent: h.generated,
		}
		if outputSplit != nil {
			opts.outputSplit = outputSplit(h.baseReward(h.generated))
		}

		block, blob := h.buildBlock(opts)
		h.processAdded(block, blob)
		blocks = append(blocks, block)
	}
	return blocks
}

// processAdded delivers a block and asserts it extended the main chain.
func (h *testHarness) processAdded(block *wire.MsgBlock, blob []byte) {
	h.t.Helper()

	status, err := h.chain.ProcessBlock(block, blob)
	if err != nil {
		h.t.Fatalf("ProcessBlock(%s): %v", block.BlockHash(), err)
	}
	if status != BlockAdded {
		h.t.Fatalf("ProcessBlock(%s): status %d, want BlockAdded", block.BlockHash(), status)
	}

	h.generated += h.baseReward(h.generated)
}

// buildSpendTx builds a transaction spending a single existing key output
// through a one-member ring. The accept-all checker lets the zero signature
// through.
func (h *testHarness) buildSpendTx(amount uint64, globalIndex uint32, keyImageTag byte,
	outputs []uint64, paymentID *crypto.Hash) *wire.MsgTx {

	h.t.Helper()

	var keyImage crypto.KeyImage
	keyImage[0] = keyImageTag

	txOutputs := make([]wire.TxOutput, 0, len(outputs))
	for i, outputAmount := range outputs {
		var key crypto.PublicKey
		key[0] = keyImageTag
		key[1] = byte(i)
		txOutputs = append(txOutputs, wire.TxOutput{
			Amount: outputAmount,
			Target: &wire.KeyOutput{Key: key},
		})
	}

	extra := []byte(nil)
	if paymentID != nil {
		nonce := append([]byte{0x00}, paymentID[:]...)
		var err error
		if extra, err = wire.AppendNonceToExtra(nil, nonce); err != nil {
			h.t.Fatalf("building payment id extra: %v", err)
		}
	}

	return &wire.MsgTx{
		Version:    wire.CurrentTxVersion,
		UnlockTime: 0,
		Inputs: []wire.TxInput{&wire.KeyInput{
			Amount:        amount,
			OutputOffsets: []uint32{globalIndex},
			KeyImage:      keyImage,
		}},
		Outputs:    txOutputs,
		Extra:      extra,
		Signatures: [][]crypto.Signature{{{}}},
	}
}

// allPrefixes enumerates every index prefix of the schema.
var allPrefixes = []byte{
	prefixSpentKeyImagesByBlock,
	prefixTxHashesByBlock,
	prefixRawBlock,
	prefixBlockIndexByHash,
	prefixBlockInfoByIndex,
	prefixBlockIndexByKeyImage,
	prefixScalars,
	prefixSchemeVersion,
	prefixTxInfoByHash,
	prefixKeyOutputAmount,
	prefixClosestTimestamp,
	prefixPaymentID,
	prefixTimestampBlockHashes,
	prefixKeyOutputAmounts,
	prefixKeyOutputInfo,
}

// dumpState snapshots every persisted record as key -> value.
func (h *testHarness) dumpState() map[string]string {
	h.t.Helper()

	state := make(map[string]string)
	for _, prefix := range allPrefixes {
		cursor, err := h.db.Cursor([]byte{prefix})
		if err != nil {
			h.t.Fatalf("cursor over prefix %c: %v", prefix, err)
		}
		for cursor.Next() {
			key, err := cursor.Key()
			if err != nil {
				h.t.Fatalf("cursor key: %v", err)
			}
			value, err := cursor.Value()
			if err != nil {
				h.t.Fatalf("cursor value: %v", err)
			}
			state[string(prefix)+string(key)] = string(value)
		}
		cursor.Close()
	}
	return state
}

// zeroCount is the serialized form of an exhausted count record. A pop
// leaves zeroed counters behind where the push created the counter; those
// are equivalent to the record being absent.
var zeroCount = string(serializeU32(0))

// statesEquivalent compares two state dumps, treating a zero-valued counter
// on one side and an absent record on the other as equal.
func (h *testHarness) statesEquivalent(before, after map[string]string) bool {
	h.t.Helper()

	for key, beforeValue := range before {
		afterValue, ok := after[key]
		if !ok {
			if beforeValue != zeroCount {
				h.t.Logf("record %x missing after", key)
				return false
			}
			continue
		}
		if beforeValue != afterValue {
			h.t.Logf("record %x differs: %x vs %x", key, beforeValue, afterValue)
			return false
		}
	}
	for key, afterValue := range after {
		if _, ok := before[key]; !ok && afterValue != zeroCount {
			h.t.Logf("record %x appeared after", key)
			return false
		}
	}
	return true
}
