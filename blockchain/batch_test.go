package blockchain

import (
	"bytes"
	"testing"

	"github.com/amjuarez/bytecoin-sub001/crypto"
)

// TestWriteBatchKeyLayout pins the key space: one-byte prefixes with
// big-endian numeric components so iteration order is numeric order.
func TestWriteBatchKeyLayout(t *testing.T) {
	batch := NewWriteBatch()

	ref := PackedOutputReference{BlockIndex: 9, TransactionIndex: 1, OutputIndex: 2}
	if err := batch.InsertKeyOutputGlobalIndexes(0x0102, []PackedOutputReference{ref}, 7); err != nil {
		t.Fatalf("InsertKeyOutputGlobalIndexes: %v", err)
	}

	toInsert, toRemove := batch.Extract()
	if len(toRemove) != 0 {
		t.Fatalf("unexpected removals: %d", len(toRemove))
	}
	if len(toInsert) != 2 {
		t.Fatalf("inserts: got %d, want count record plus one reference", len(toInsert))
	}

	countKey := toInsert[0].Key
	wantCountKey := []byte{'b', 0, 0, 0, 0, 0, 0, 0x01, 0x02}
	if !bytes.Equal(countKey, wantCountKey) {
		t.Fatalf("count key: got %x, want %x", countKey, wantCountKey)
	}

	// The per-index record extends the count key by the big-endian global
	// index; the two shapes share the prefix and differ in length.
	refKey := toInsert[1].Key
	wantRefKey := append(append([]byte(nil), wantCountKey...), 0, 0, 0, 6)
	if !bytes.Equal(refKey, wantRefKey) {
		t.Fatalf("reference key: got %x, want %x", refKey, wantRefKey)
	}

	// Big-endian components order numerically under lexicographic
	// comparison.
	lowAmount := keyAmount(prefixKeyOutputAmount, 5)
	highAmount := keyAmount(prefixKeyOutputAmount, 0x100)
	if bytes.Compare(lowAmount, highAmount) >= 0 {
		t.Fatal("amount keys do not sort numerically")
	}
	lowIndex := keyAmountIndex(prefixKeyOutputAmount, 5, 2)
	highIndex := keyAmountIndex(prefixKeyOutputAmount, 5, 0x10000)
	if bytes.Compare(lowIndex, highIndex) >= 0 {
		t.Fatal("index keys do not sort numerically")
	}
}

// TestWriteBatchInvariantChecks ensures inconsistent arguments fail before
// any KV work is recorded.
func TestWriteBatchInvariantChecks(t *testing.T) {
	batch := NewWriteBatch()

	refs := make([]PackedOutputReference, 5)
	if err := batch.InsertKeyOutputGlobalIndexes(10, refs, 3); !IsInvariantError(err) {
		t.Fatalf("undersized total: got %v, want InvariantError", err)
	}

	if err := batch.InsertKeyOutputAmounts([]uint64{1, 2, 3}, 2); !IsInvariantError(err) {
		t.Fatalf("undersized amount total: got %v, want InvariantError", err)
	}

	if err := batch.InsertPaymentID(crypto.Hash{}, crypto.Hash{}, 0); !IsInvariantError(err) {
		t.Fatalf("zero payment count: got %v, want InvariantError", err)
	}

	if err := batch.RemoveCachedBlock(crypto.Hash{}, 0); !IsInvariantError(err) {
		t.Fatalf("genesis removal: got %v, want InvariantError", err)
	}

	toInsert, toRemove := batch.Extract()
	if len(toInsert) != 0 || len(toRemove) != 0 {
		t.Fatal("failed calls leaked KV operations into the batch")
	}
}

// TestReadBatchLifecycle covers the request/submit/extract protocol,
// including the not-ready failure and absent key handling.
func TestReadBatchLifecycle(t *testing.T) {
	batch := NewReadBatch().
		RequestLastBlockIndex().
		RequestCachedBlock(3)

	if _, err := batch.ExtractResult(); err != ErrResultNotReady {
		t.Fatalf("premature extract: got %v, want ErrResultNotReady", err)
	}

	keys := batch.RawKeys()
	if len(keys) != 2 {
		t.Fatalf("raw keys: got %d, want 2", len(keys))
	}

	// The scalar is present, the map-valued block info is absent.
	values := [][]byte{serializeU32(41), nil}
	found := []bool{true, false}
	if err := batch.SubmitRawResult(values, found); err != nil {
		t.Fatalf("SubmitRawResult: %v", err)
	}

	result, err := batch.ExtractResult()
	if err != nil {
		t.Fatalf("ExtractResult: %v", err)
	}
	if !result.LastBlockIndex.Present || result.LastBlockIndex.Value != 41 {
		t.Fatalf("scalar result: %+v", result.LastBlockIndex)
	}
	if _, ok := result.BlockInfos[3]; ok {
		t.Fatal("absent key produced a map entry")
	}

	// Mismatched submission shapes are rejected.
	other := NewReadBatch().RequestLastBlockIndex()
	if err := other.SubmitRawResult(nil, nil); err == nil {
		t.Fatal("mismatched submission accepted")
	}
}

// TestWriteBatchPaymentIDSequence pins the append/truncate record shapes of
// the payment id index.
func TestWriteBatchPaymentIDSequence(t *testing.T) {
	paymentID := crypto.HashData([]byte("pid"))
	txHash := crypto.HashData([]byte("tx"))

	batch := NewWriteBatch()
	if err := batch.InsertPaymentID(txHash, paymentID, 3); err != nil {
		t.Fatalf("InsertPaymentID: %v", err)
	}
	toInsert, _ := batch.Extract()
	if len(toInsert) != 2 {
		t.Fatalf("inserts: got %d, want count and entry", len(toInsert))
	}

	wantEntryKey := keyHashIndex(prefixPaymentID, paymentID, 2)
	if !bytes.Equal(toInsert[1].Key, wantEntryKey) {
		t.Fatalf("entry key: got %x, want %x", toInsert[1].Key, wantEntryKey)
	}
	if !bytes.Equal(toInsert[1].Value, txHash[:]) {
		t.Fatal("entry value is not the transaction hash")
	}

	truncate := NewWriteBatch()
	if err := truncate.RemovePaymentID(paymentID, 2); err != nil {
		t.Fatalf("RemovePaymentID: %v", err)
	}
	toInsert, toRemove := truncate.Extract()
	if len(toInsert) != 1 || len(toRemove) != 1 {
		t.Fatalf("truncate shape: %d inserts, %d removes", len(toInsert), len(toRemove))
	}
	if !bytes.Equal(toRemove[0], keyHashIndex(prefixPaymentID, paymentID, 2)) {
		t.Fatal("truncate removes the wrong entry")
	}
}
