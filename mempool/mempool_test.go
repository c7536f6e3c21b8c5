// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"sort"
	"testing"
	"time"

	"github.com/amjuarez/bytecoin-sub001/crypto"
	"github.com/amjuarez/bytecoin-sub001/currency"
	"github.com/amjuarez/bytecoin-sub001/wire"
)

// fakeChain implements ChainBackend with scriptable verdicts.
type fakeChain struct {
	topIndex uint32
	topHash  crypto.Hash

	// rejected holds hashes CheckTransactionInputs fails for.
	rejected map[crypto.Hash]error
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		topIndex: 10,
		topHash:  crypto.HashData([]byte("tip")),
		rejected: make(map[crypto.Hash]error),
	}
}

func (c *fakeChain) CheckTransactionInputs(tx *wire.MsgTx, uptoBlockIndex uint32) (uint32, error) {
	if err, ok := c.rejected[tx.TxHash()]; ok {
		return 0, err
	}
	return uptoBlockIndex, nil
}

func (c *fakeChain) TopBlockIndex() (uint32, error) {
	return c.topIndex, nil
}

func (c *fakeChain) TopBlockHash() (crypto.Hash, error) {
	return c.topHash, nil
}

// settableClock lets tests advance time.
type settableClock struct {
	now time.Time
}

func (c *settableClock) Now() time.Time { return c.now }

func newTestPool() (*TxPool, *fakeChain, *settableClock) {
	chain := newFakeChain()
	clock := &settableClock{now: time.Unix(1500000000, 0)}
	pool := New(Config{
		Currency: currency.TestNet(),
		Chain:    chain,
		Clock:    clock,
	})
	return pool, chain, clock
}

const testInputAmount = 10000000

// spendTx builds a pool-admissible transaction with a configurable fee,
// extra padding (to vary the blob size), and key image tag.
func spendTx(keyImageTag byte, fee uint64, padding int) *wire.MsgTx {
	var keyImage crypto.KeyImage
	keyImage[0] = keyImageTag

	var outputKey crypto.PublicKey
	outputKey[0] = keyImageTag
	outputKey[1] = byte(padding)

	return &wire.MsgTx{
		Version:    wire.CurrentTxVersion,
		UnlockTime: 0,
		Inputs: []wire.TxInput{&wire.KeyInput{
			Amount:        testInputAmount,
			OutputOffsets: []uint32{uint32(keyImageTag)},
			KeyImage:      keyImage,
		}},
		Outputs: []wire.TxOutput{{
			Amount: testInputAmount - fee,
			Target: &wire.KeyOutput{Key: outputKey},
		}},
		Extra:      make([]byte, padding),
		Signatures: [][]crypto.Signature{{{}}},
	}
}

// TestPoolAdmission covers the basic admission checks.
func TestPoolAdmission(t *testing.T) {
	pool, _, _ := newTestPool()

	tx := spendTx(1, 200000, 0)
	if err := pool.AddTransaction(tx, false); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	if !pool.HaveTransaction(tx.TxHash()) {
		t.Fatal("admitted transaction not found")
	}
	if pool.Count() != 1 {
		t.Fatalf("pool count: got %d, want 1", pool.Count())
	}

	// A duplicate is refused.
	if err := pool.AddTransaction(tx, false); err == nil {
		t.Fatal("duplicate admission succeeded")
	}

	// A fee below the floor is refused, unless kept by block.
	cheap := spendTx(2, 1, 0)
	err := pool.AddTransaction(cheap, false)
	var ruleErr TxRuleError
	if !asTxRuleError(err, &ruleErr) || ruleErr.RejectCode != RejectInsufficientFee {
		t.Fatalf("cheap admission: got %v, want RejectInsufficientFee", err)
	}
	if err := pool.AddTransaction(cheap, true); err != nil {
		t.Fatalf("kept-by-block cheap admission: %v", err)
	}
}

// TestPoolDoubleSpendScreen covers the pool-internal key image screen.
func TestPoolDoubleSpendScreen(t *testing.T) {
	pool, _, _ := newTestPool()

	first := spendTx(7, 200000, 0)
	if err := pool.AddTransaction(first, false); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}

	// Same key image, different payload.
	conflict := spendTx(7, 300000, 4)
	err := pool.AddTransaction(conflict, false)
	var ruleErr TxRuleError
	if !asTxRuleError(err, &ruleErr) || ruleErr.RejectCode != RejectDoubleSpend {
		t.Fatalf("conflicting admission: got %v, want RejectDoubleSpend", err)
	}

	// Kept-by-block transactions bypass the screen; competing chains
	// resolve the conflict later.
	if err := pool.AddTransaction(conflict, true); err != nil {
		t.Fatalf("kept-by-block conflict admission: %v", err)
	}

	// Removing one spender keeps the image held by the other.
	pool.RemoveTransaction(first.TxHash())
	if len(pool.spentKeyImages) != 1 {
		t.Fatalf("spent image index: got %d entries, want 1", len(pool.spentKeyImages))
	}
	pool.RemoveTransaction(conflict.TxHash())
	if len(pool.spentKeyImages) != 0 {
		t.Fatal("spent image index not empty after removals")
	}
}

// TestPoolPriorityOrder is the L3 law: the maintained order equals the
// order recomputed from the primary index.
func TestPoolPriorityOrder(t *testing.T) {
	pool, _, clock := newTestPool()

	// Varied fees and sizes; insertion order deliberately scrambled.
	fees := []uint64{200000, 900000, 150000, 500000, 500000}
	paddings := []int{10, 200, 0, 50, 300}
	for i := range fees {
		clock.now = clock.now.Add(time.Second)
		if err := pool.AddTransaction(spendTx(byte(10+i), fees[i], paddings[i]), false); err != nil {
			t.Fatalf("AddTransaction %d: %v", i, err)
		}
	}

	// Recompute the expected order from the primary index alone.
	expected := make([]*TxDesc, 0, pool.Count())
	for _, desc := range pool.pool {
		expected = append(expected, desc)
	}
	sort.Slice(expected, func(i, j int) bool {
		return lessPriority(expected[j], expected[i])
	})

	got := pool.MiningDescs()
	if len(got) != len(expected) {
		t.Fatalf("ordered index length %d, primary %d", len(got), len(expected))
	}
	for i := range got {
		if got[i].Hash != expected[i].Hash {
			t.Fatalf("priority order diverges at %d", i)
		}
	}

	// Removing from the middle keeps both indexes consistent.
	pool.RemoveTransaction(got[2].Hash)
	if len(pool.MiningDescs()) != len(pool.pool) {
		t.Fatal("indexes diverged after removal")
	}
}

// TestPoolExpiry covers the lifetime sweep with its two limits.
func TestPoolExpiry(t *testing.T) {
	pool, _, clock := newTestPool()
	cur := pool.cfg.Currency

	normal := spendTx(1, 200000, 0)
	kept := spendTx(2, 200000, 8)
	if err := pool.AddTransaction(normal, false); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	if err := pool.AddTransaction(kept, true); err != nil {
		t.Fatalf("AddTransaction kept: %v", err)
	}

	// Just past the normal lifetime only the normal transaction expires.
	clock.now = clock.now.Add(time.Duration(cur.MempoolTxLiveTime+1) * time.Second)
	removed := pool.RemoveExpiredTransactions()
	if len(removed) != 1 || removed[0] != normal.TxHash() {
		t.Fatalf("first sweep removed %v", removed)
	}

	// Past the kept-by-block lifetime the rest goes too.
	clock.now = clock.now.Add(time.Duration(cur.MempoolTxFromAltBlockLiveTime) * time.Second)
	removed = pool.RemoveExpiredTransactions()
	if len(removed) != 1 || removed[0] != kept.TxHash() {
		t.Fatalf("second sweep removed %v", removed)
	}
	if pool.Count() != 0 {
		t.Fatal("pool not empty after sweeps")
	}
}

// TestPoolGetDifference covers the known-hash reconciliation.
func TestPoolGetDifference(t *testing.T) {
	pool, _, _ := newTestPool()

	held := spendTx(1, 200000, 0)
	if err := pool.AddTransaction(held, false); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}

	gone := crypto.HashData([]byte("no longer pooled"))
	newDescs, removed := pool.GetDifference([]crypto.Hash{gone})

	if len(newDescs) != 1 || newDescs[0].Hash != held.TxHash() {
		t.Fatalf("new descs: %v", newDescs)
	}
	if len(removed) != 1 || removed[0] != gone {
		t.Fatalf("removed hashes: %v", removed)
	}
}

// TestFillBlockTemplate covers the size budget, chain recheck, and key
// image collision handling of template assembly.
func TestFillBlockTemplate(t *testing.T) {
	pool, chain, _ := newTestPool()

	good := spendTx(1, 900000, 0)
	stale := spendTx(2, 800000, 0)
	conflictA := spendTx(3, 700000, 0)
	conflictB := spendTx(3, 600000, 16)

	if err := pool.AddTransaction(good, false); err != nil {
		t.Fatalf("AddTransaction good: %v", err)
	}
	if err := pool.AddTransaction(stale, false); err != nil {
		t.Fatalf("AddTransaction stale: %v", err)
	}
	if err := pool.AddTransaction(conflictA, false); err != nil {
		t.Fatalf("AddTransaction conflictA: %v", err)
	}
	// The second spender of key image 3 only enters kept-by-block.
	if err := pool.AddTransaction(conflictB, true); err != nil {
		t.Fatalf("AddTransaction conflictB: %v", err)
	}

	// The stale transaction no longer validates against the chain.
	chain.rejected[stale.TxHash()] = txRuleError(RejectInvalid, "gone stale")

	template, err := pool.FillBlockTemplate(0, 1<<20)
	if err != nil {
		t.Fatalf("FillBlockTemplate: %v", err)
	}

	selected := make(map[crypto.Hash]bool)
	for _, desc := range template.Transactions() {
		selected[desc.Hash] = true
	}

	if !selected[good.TxHash()] {
		t.Fatal("valid transaction missing from template")
	}
	if selected[stale.TxHash()] {
		t.Fatal("stale transaction selected")
	}
	if selected[conflictA.TxHash()] == selected[conflictB.TxHash()] {
		t.Fatal("exactly one of the conflicting spenders must be selected")
	}

	wantFee := good.Fee() + conflictA.Fee()
	if !selected[conflictA.TxHash()] {
		wantFee = good.Fee() + conflictB.Fee()
	}
	if template.TotalFee() != wantFee {
		t.Fatalf("template fee: got %d, want %d", template.TotalFee(), wantFee)
	}

	// A tiny budget yields an empty template.
	template, err = pool.FillBlockTemplate(0, 1)
	if err != nil {
		t.Fatalf("FillBlockTemplate tiny: %v", err)
	}
	if len(template.Transactions()) != 0 {
		t.Fatal("tiny budget still selected transactions")
	}
}

func asTxRuleError(err error, target *TxRuleError) bool {
	if err == nil {
		return false
	}
	ruleErr, ok := err.(TxRuleError)
	if ok {
		*target = ruleErr
	}
	return ok
}
