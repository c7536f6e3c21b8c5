package ldb

import (
	"bytes"
	"testing"

	"github.com/amjuarez/bytecoin-sub001/database"
)

func openTestDB(t *testing.T) *LevelDB {
	t.Helper()

	db, err := NewLevelDB(t.TempDir())
	if err != nil {
		t.Fatalf("NewLevelDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestBatchWriteAndGet covers atomic batched writes and point reads.
func TestBatchWriteAndGet(t *testing.T) {
	db := openTestDB(t)

	toInsert := []database.KeyValue{
		{Key: []byte("a1"), Value: []byte("first")},
		{Key: []byte("a2"), Value: []byte("second")},
		{Key: []byte("b1"), Value: []byte("third")},
	}
	if err := db.Write(toInsert, nil); err != nil {
		t.Fatalf("Write: %v", err)
	}

	value, found, err := db.Get([]byte("a2"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found || !bytes.Equal(value, []byte("second")) {
		t.Fatalf("Get a2: found=%v value=%q", found, value)
	}

	if _, found, err = db.Get([]byte("missing")); err != nil || found {
		t.Fatalf("Get missing: found=%v err=%v", found, err)
	}

	// A later batch can insert and remove in one atomic step.
	if err := db.Write([]database.KeyValue{{Key: []byte("a3"), Value: []byte("fourth")}},
		[][]byte{[]byte("a1")}); err != nil {
		t.Fatalf("mixed Write: %v", err)
	}
	if _, found, _ := db.Get([]byte("a1")); found {
		t.Fatal("removed key still present")
	}

	values, flags, err := db.GetMulti([][]byte{[]byte("a2"), []byte("a1"), []byte("a3")})
	if err != nil {
		t.Fatalf("GetMulti: %v", err)
	}
	wantFlags := []bool{true, false, true}
	for i := range wantFlags {
		if flags[i] != wantFlags[i] {
			t.Fatalf("GetMulti flags: got %v, want %v", flags, wantFlags)
		}
	}
	if !bytes.Equal(values[2], []byte("fourth")) {
		t.Fatalf("GetMulti value: %q", values[2])
	}
}

// TestCursorPrefixIteration covers ordered prefix scans with key trimming.
func TestCursorPrefixIteration(t *testing.T) {
	db := openTestDB(t)

	toInsert := []database.KeyValue{
		{Key: []byte("p\x00\x02"), Value: []byte("two")},
		{Key: []byte("p\x00\x01"), Value: []byte("one")},
		{Key: []byte("q\x00\x01"), Value: []byte("other")},
	}
	if err := db.Write(toInsert, nil); err != nil {
		t.Fatalf("Write: %v", err)
	}

	cursor, err := db.Cursor([]byte("p"))
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	defer cursor.Close()

	var keys [][]byte
	for cursor.Next() {
		key, err := cursor.Key()
		if err != nil {
			t.Fatalf("Key: %v", err)
		}
		keys = append(keys, append([]byte(nil), key...))
	}

	if len(keys) != 2 {
		t.Fatalf("prefix scan: got %d keys, want 2", len(keys))
	}
	// Keys arrive in lexicographic order with the prefix trimmed.
	if !bytes.Equal(keys[0], []byte{0x00, 0x01}) || !bytes.Equal(keys[1], []byte{0x00, 0x02}) {
		t.Fatalf("prefix scan keys: %x", keys)
	}
}
