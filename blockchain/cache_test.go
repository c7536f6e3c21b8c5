package blockchain

import (
	"testing"

	"github.com/amjuarez/bytecoin-sub001/database"
)

// TestFreshChainHasGenesis covers the state of a newly opened store.
func TestFreshChainHasGenesis(t *testing.T) {
	h := newTestHarness(t)

	topIndex, err := h.cache.TopBlockIndex()
	if err != nil {
		t.Fatalf("TopBlockIndex: %v", err)
	}
	if topIndex != 0 {
		t.Fatalf("fresh chain top index: got %d, want 0", topIndex)
	}

	topHash, err := h.cache.TopBlockHash()
	if err != nil {
		t.Fatalf("TopBlockHash: %v", err)
	}
	if topHash != h.cur.GenesisHash() {
		t.Fatalf("fresh chain top hash: got %s, want genesis %s", topHash, h.cur.GenesisHash())
	}

	// The genesis coinbase has one output; its assigned global index
	// vector is [0].
	indexes, err := h.cache.TransactionGlobalIndexes(h.cur.GenesisBlock().CoinbaseTx.TxHash())
	if err != nil {
		t.Fatalf("TransactionGlobalIndexes: %v", err)
	}
	if len(indexes) != 1 || indexes[0] != 0 {
		t.Fatalf("genesis global indexes: got %v, want [0]", indexes)
	}

	count, err := h.cache.TransactionsCount()
	if err != nil {
		t.Fatalf("TransactionsCount: %v", err)
	}
	if count != 1 {
		t.Fatalf("fresh chain transaction count: got %d, want 1", count)
	}
}

// TestLinearGrowth pushes ten coinbase-only blocks splitting a fixed
// denomination out of each reward and checks the per-amount index.
func TestLinearGrowth(t *testing.T) {
	h := newTestHarness(t)

	const denomination = 1000
	h.extendMain(10, func(reward uint64) []uint64 {
		return []uint64{denomination, reward - denomination}
	})

	topIndex, err := h.cache.TopBlockIndex()
	if err != nil {
		t.Fatalf("TopBlockIndex: %v", err)
	}
	if topIndex != 10 {
		t.Fatalf("top index: got %d, want 10", topIndex)
	}

	count, err := h.cache.KeyOutputsCountForAmount(denomination)
	if err != nil {
		t.Fatalf("KeyOutputsCountForAmount: %v", err)
	}
	if count != 10 {
		t.Fatalf("count(%d): got %d, want 10", denomination, count)
	}

	for i := uint32(0); i < 10; i++ {
		ref, err := h.cache.KeyOutput(denomination, i)
		if err != nil {
			t.Fatalf("KeyOutput(%d, %d): %v", denomination, i, err)
		}
		if ref.BlockIndex != i+1 {
			t.Fatalf("KeyOutput(%d, %d) points to block %d, want %d",
				denomination, i, ref.BlockIndex, i+1)
		}
	}

	// No record exists at or beyond the count.
	if _, err := h.cache.KeyOutput(denomination, count); !database.IsNotFoundError(err) {
		t.Fatalf("KeyOutput beyond count: got %v, want not-found", err)
	}

	difficulties, err := h.cache.LastCumulativeDifficulties(3, topIndex, true)
	if err != nil {
		t.Fatalf("LastCumulativeDifficulties: %v", err)
	}
	if len(difficulties) != 3 {
		t.Fatalf("got %d difficulties, want 3", len(difficulties))
	}
	for i := 1; i < len(difficulties); i++ {
		if difficulties[i] <= difficulties[i-1] {
			t.Fatalf("cumulative difficulties not strictly increasing: %v", difficulties)
		}
	}
}

// TestPushPopRoundTrip is the L1 law: pushing a block and popping it leaves
// every persisted index equivalent to its prior state.
func TestPushPopRoundTrip(t *testing.T) {
	h := newTestHarness(t)
	h.extendMain(3, nil)

	before := h.dumpState()

	h.extendMain(1, nil)
	if err := h.chain.PopBlock(); err != nil {
		t.Fatalf("PopBlock: %v", err)
	}

	after := h.dumpState()
	if !h.statesEquivalent(before, after) {
		t.Fatal("push+pop did not restore the persisted state")
	}

	topIndex, err := h.cache.TopBlockIndex()
	if err != nil {
		t.Fatalf("TopBlockIndex: %v", err)
	}
	if topIndex != 3 {
		t.Fatalf("top index after pop: got %d, want 3", topIndex)
	}
}

// TestSplitReapply is the L2 law: splitting a suffix off and re-applying
// the detached blocks is a no-op on every index.
func TestSplitReapply(t *testing.T) {
	h := newTestHarness(t)
	blocks := h.extendMain(5, nil)
	_ = blocks

	before := h.dumpState()

	segment, err := h.cache.Split(3)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if segment.StartIndex != 3 || len(segment.Blocks) != 3 {
		t.Fatalf("detached segment: start %d, %d blocks", segment.StartIndex, len(segment.Blocks))
	}

	parsed, err := h.chain.parseSegmentBlocks(segment)
	if err != nil {
		t.Fatalf("parseSegmentBlocks: %v", err)
	}
	for _, block := range parsed {
		if err := h.cache.PushBlock(block.block, block.transactions, block.info); err != nil {
			t.Fatalf("re-applying block %d: %v", block.blockIndex, err)
		}
	}

	after := h.dumpState()
	if !h.statesEquivalent(before, after) {
		t.Fatal("split+reapply changed the persisted state")
	}
}

// TestKeyOutputsCountAtOrBefore exercises the binary search over the dense
// per-amount index.
func TestKeyOutputsCountAtOrBefore(t *testing.T) {
	h := newTestHarness(t)

	const denomination = 1000
	h.extendMain(6, func(reward uint64) []uint64 {
		return []uint64{denomination, reward - denomination}
	})

	// Outputs of the denomination live in blocks 1..6; outputs created
	// strictly below block index 4 are those of blocks 1..3.
	count, err := h.cache.KeyOutputsCountAtOrBefore(denomination, 4)
	if err != nil {
		t.Fatalf("KeyOutputsCountAtOrBefore: %v", err)
	}
	if count != 3 {
		t.Fatalf("outputs below block 4: got %d, want 3", count)
	}

	count, err = h.cache.KeyOutputsCountAtOrBefore(denomination, 100)
	if err != nil {
		t.Fatalf("KeyOutputsCountAtOrBefore high: %v", err)
	}
	if count != 6 {
		t.Fatalf("outputs below block 100: got %d, want 6", count)
	}

	count, err = h.cache.KeyOutputsCountAtOrBefore(denomination, 1)
	if err != nil {
		t.Fatalf("KeyOutputsCountAtOrBefore low: %v", err)
	}
	if count != 0 {
		t.Fatalf("outputs below block 1: got %d, want 0", count)
	}
}

// TestRandomUnlockedOutputs checks the mined-money window filter and the
// supply cap.
func TestRandomUnlockedOutputs(t *testing.T) {
	h := newTestHarness(t)

	const denomination = 1000
	h.extendMain(10, func(reward uint64) []uint64 {
		return []uint64{denomination, reward - denomination}
	})

	topIndex, err := h.cache.TopBlockIndex()
	if err != nil {
		t.Fatalf("TopBlockIndex: %v", err)
	}
	now := uint64(1500000000)

	// Blocks 1..10 carry the denomination; the unlock window keeps the
	// newest six locked out, and coinbase unlock times gate the rest.
	// Outputs of blocks 1..4 pass the window filter at the tip.
	picked, err := h.cache.RandomUnlockedOutputs(denomination, 100, topIndex, now)
	if err != nil {
		t.Fatalf("RandomUnlockedOutputs: %v", err)
	}
	if len(picked) != 4 {
		t.Fatalf("unlocked outputs at tip: got %d, want 4", len(picked))
	}
	seen := make(map[uint32]bool)
	for _, globalIndex := range picked {
		if globalIndex > 3 {
			t.Fatalf("picked output %d inside the unlock window", globalIndex)
		}
		if seen[globalIndex] {
			t.Fatalf("output %d drawn twice", globalIndex)
		}
		seen[globalIndex] = true
	}

	// Asking for fewer draws caps the result without error.
	picked, err = h.cache.RandomUnlockedOutputs(denomination, 2, topIndex, now)
	if err != nil {
		t.Fatalf("RandomUnlockedOutputs small: %v", err)
	}
	if len(picked) != 2 {
		t.Fatalf("capped draw: got %d, want 2", len(picked))
	}

	// An amount with no outputs yields an empty result.
	picked, err = h.cache.RandomUnlockedOutputs(7777777, 5, topIndex, now)
	if err != nil {
		t.Fatalf("RandomUnlockedOutputs missing amount: %v", err)
	}
	if len(picked) != 0 {
		t.Fatalf("missing amount yielded %d outputs", len(picked))
	}
}

// TestTimestampIndexes covers the day-bucket catch-up index and the exact
// timestamp enumeration.
func TestTimestampIndexes(t *testing.T) {
	h := newTestHarness(t)

	// Timestamps advance 240 seconds per block: blocks 1..359 fill day
	// zero, later blocks day one. Push a day and a half.
	blocks := h.extendMain(540, nil)

	// The first block of day one is block 360 (timestamp 86400).
	blockIndex, err := h.cache.TimestampLowerBoundBlockIndex(86400 + 500)
	if err != nil {
		t.Fatalf("TimestampLowerBoundBlockIndex: %v", err)
	}
	if blockIndex != 360 {
		t.Fatalf("day-one lower bound: got %d, want 360", blockIndex)
	}

	// A timestamp on a day with no records walks back to the previous
	// recorded day.
	blockIndex, err = h.cache.TimestampLowerBoundBlockIndex(86400 * 10)
	if err != nil {
		t.Fatalf("TimestampLowerBoundBlockIndex future: %v", err)
	}
	if blockIndex != 360 {
		t.Fatalf("future lower bound: got %d, want 360", blockIndex)
	}

	// Exact timestamp enumeration returns the block hash.
	hashes, err := h.cache.BlockHashesByTimestamps(240, 1)
	if err != nil {
		t.Fatalf("BlockHashesByTimestamps: %v", err)
	}
	if len(hashes) != 1 || hashes[0] != blocks[0].BlockHash() {
		t.Fatalf("timestamp 240 enumeration: got %v", hashes)
	}

	// Popping the whole second day removes its closest-timestamp record.
	for i := 0; i < 181; i++ {
		if err := h.chain.PopBlock(); err != nil {
			t.Fatalf("PopBlock %d: %v", i, err)
		}
	}
	blockIndex, err = h.cache.TimestampLowerBoundBlockIndex(86400 + 500)
	if err != nil {
		t.Fatalf("TimestampLowerBoundBlockIndex after pop: %v", err)
	}
	if blockIndex != 0 {
		t.Fatalf("lower bound after popping day one: got %d, want 0 (day zero's record)", blockIndex)
	}
}

// TestSchemeVersionGuards covers the too-new refusal and the rebuild on a
// too-old version.
func TestSchemeVersionGuards(t *testing.T) {
	h := newTestHarness(t)
	h.extendMain(4, nil)
	before := h.dumpState()

	// A store claiming a newer layout refuses to open.
	newer := NewWriteBatch()
	if err := newer.InsertSchemeVersion(currentDBSchemeVersion + 1); err != nil {
		t.Fatalf("InsertSchemeVersion: %v", err)
	}
	toInsert, toRemove := newer.Extract()
	if err := h.db.Write(toInsert, toRemove); err != nil {
		t.Fatalf("writing newer version: %v", err)
	}
	if _, err := NewCache(h.cur, h.db); err == nil {
		t.Fatal("opening a newer schema must fail")
	}

	// A store claiming an older layout rebuilds its indexes from the raw
	// blocks and converges to the same state.
	older := NewWriteBatch()
	if err := older.InsertSchemeVersion(currentDBSchemeVersion - 1); err != nil {
		t.Fatalf("InsertSchemeVersion: %v", err)
	}
	toInsert, toRemove = older.Extract()
	if err := h.db.Write(toInsert, toRemove); err != nil {
		t.Fatalf("writing older version: %v", err)
	}

	rebuilt, err := NewCache(h.cur, h.db)
	if err != nil {
		t.Fatalf("rebuild open: %v", err)
	}
	topIndex, err := rebuilt.TopBlockIndex()
	if err != nil {
		t.Fatalf("TopBlockIndex after rebuild: %v", err)
	}
	if topIndex != 4 {
		t.Fatalf("top index after rebuild: got %d, want 4", topIndex)
	}

	h.cache = rebuilt
	after := h.dumpState()
	if !h.statesEquivalent(before, after) {
		t.Fatal("rebuild diverged from the original indexes")
	}
}
