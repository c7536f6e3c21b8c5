package database

// KeyValue is a single pending insert of a write batch.
type KeyValue struct {
	Key   []byte
	Value []byte
}

// Database defines the contract the blockchain cache requires of its
// embedded ordered key-value store: multi-key point reads, atomic batched
// writes, and prefix iteration for index rebuilds.
type Database interface {
	// Get returns the value of the given key. The second return value
	// reports whether the key exists; a missing key is not an error.
	Get(key []byte) (value []byte, found bool, err error)

	// GetMulti returns the values of the given keys in order along with a
	// parallel presence vector.
	GetMulti(keys [][]byte) (values [][]byte, found []bool, err error)

	// Write applies all inserts and removals atomically: either every
	// operation becomes visible or none does.
	Write(toInsert []KeyValue, toRemove [][]byte) error

	// Cursor begins iterating the keys under the given prefix in
	// lexicographic order.
	Cursor(prefix []byte) (Cursor, error)

	// Close closes the database.
	Close() error
}

// Cursor iterates over database entries under some prefix.
type Cursor interface {
	// Next moves the iterator to the next key/value pair. It returns
	// false once the iterator is exhausted.
	Next() bool

	// Key returns the key of the current key/value pair, trimmed of the
	// prefix the cursor was opened with. The caller should not modify the
	// contents of the returned slice, and its contents may change on the
	// next call to Next.
	Key() ([]byte, error)

	// Value returns the value of the current key/value pair. The caller
	// should not modify the contents of the returned slice, and its
	// contents may change on the next call to Next.
	Value() ([]byte, error)

	// Close releases associated resources.
	Close() error
}
