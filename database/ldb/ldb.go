package ldb

import (
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	ldbErrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/amjuarez/bytecoin-sub001/database"
)

// LevelDB defines a thin wrapper around leveldb.
type LevelDB struct {
	ldb *leveldb.DB
}

// NewLevelDB opens a leveldb instance defined by the given path.
func NewLevelDB(path string) (*LevelDB, error) {
	// Open leveldb. If it doesn't exist, create it.
	options := &opt.Options{
		Compression: opt.SnappyCompression,
		Filter:      filter.NewBloomFilter(10),
	}
	ldb, err := leveldb.OpenFile(path, options)

	// If the database is corrupted, attempt to recover.
	if _, corrupted := err.(*ldbErrors.ErrCorrupted); corrupted {
		log.Warnf("LevelDB corruption detected for path %s, "+
			"attempting recovery", path)
		ldb, err = leveldb.RecoverFile(path, nil)
		if err != nil {
			return nil, errors.Wrapf(err, "recovery of %s failed", path)
		}
		log.Warnf("LevelDB recovered from corruption for path %s", path)
	}

	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &LevelDB{ldb: ldb}, nil
}

// Close closes the leveldb instance.
func (db *LevelDB) Close() error {
	return errors.WithStack(db.ldb.Close())
}

// Get returns the value of an existing key. A missing key is reported via
// the found flag, not as an error.
func (db *LevelDB) Get(key []byte) ([]byte, bool, error) {
	value, err := db.ldb.Get(key, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, errors.WithStack(err)
	}
	return value, true, nil
}

// GetMulti reads the given keys from one snapshot so a concurrent batch
// write cannot be observed halfway through.
func (db *LevelDB) GetMulti(keys [][]byte) ([][]byte, []bool, error) {
	snapshot, err := db.ldb.GetSnapshot()
	if err != nil {
		return nil, nil, errors.WithStack(err)
	}
	defer snapshot.Release()

	values := make([][]byte, len(keys))
	found := make([]bool, len(keys))
	for i, key := range keys {
		value, err := snapshot.Get(key, nil)
		if err != nil {
			if errors.Is(err, leveldb.ErrNotFound) {
				continue
			}
			return nil, nil, errors.WithStack(err)
		}
		values[i] = value
		found[i] = true
	}
	return values, found, nil
}

// Write applies all inserts and removals in one leveldb batch. Leveldb
// batches are atomic and synced before Write returns.
func (db *LevelDB) Write(toInsert []database.KeyValue, toRemove [][]byte) error {
	batch := new(leveldb.Batch)
	for _, kv := range toInsert {
		batch.Put(kv.Key, kv.Value)
	}
	for _, key := range toRemove {
		batch.Delete(key)
	}

	options := &opt.WriteOptions{Sync: true}
	return errors.WithStack(db.ldb.Write(batch, options))
}
