package blockchain

import (
	"encoding/binary"

	"github.com/amjuarez/bytecoin-sub001/crypto"
)

// One-byte prefixes partitioning the key space of the store. Integer key
// components are big-endian so lexicographic iteration order is numeric
// order.
const (
	prefixSpentKeyImagesByBlock = '0' // block index -> key image set
	prefixTxHashesByBlock       = '1' // block index -> ordered tx hashes
	prefixRawBlock              = '4' // block index -> raw block blob
	prefixBlockIndexByHash      = '5' // block hash -> block index
	prefixBlockInfoByIndex      = '6' // block index -> CachedBlockInfo
	prefixBlockIndexByKeyImage  = '7' // key image -> block index
	prefixScalars               = '8' // well-known sub-key -> scalar
	prefixSchemeVersion         = '9' // "db_scheme_version" -> u32
	prefixTxInfoByHash          = 'a' // tx hash -> ExtendedTransactionInfo
	prefixKeyOutputAmount       = 'b' // amount [, global index] -> count / ref
	prefixClosestTimestamp      = 'e' // midnight -> block index
	prefixPaymentID             = 'f' // payment id [, seq] -> count / tx hash
	prefixTimestampBlockHashes  = 'g' // timestamp -> block hashes
	prefixKeyOutputAmounts      = 'h' // enum index / sub-key -> amount / count
	prefixKeyOutputInfo         = 'j' // (amount, global index) -> KeyOutputInfo
)

// Well-known sub-keys of scalar records.
const (
	lastBlockIndexKey     = "last_block_index"
	transactionsCountKey  = "txs_count"
	keyOutputAmountsCount = "key_amounts_count"
	schemeVersionKey      = "db_scheme_version"
)

// currentDBSchemeVersion is the version of the persistent layout written on
// first open. Lower on-disk versions trigger an index rebuild from raw
// blocks; higher versions refuse to open.
const currentDBSchemeVersion = 2

func keyBlockIndex(prefix byte, blockIndex uint32) []byte {
	key := make([]byte, 5)
	key[0] = prefix
	binary.BigEndian.PutUint32(key[1:], blockIndex)
	return key
}

func keyHash(prefix byte, hash crypto.Hash) []byte {
	key := make([]byte, 1+crypto.HashSize)
	key[0] = prefix
	copy(key[1:], hash[:])
	return key
}

func keyKeyImage(prefix byte, keyImage crypto.KeyImage) []byte {
	key := make([]byte, 1+len(keyImage))
	key[0] = prefix
	copy(key[1:], keyImage[:])
	return key
}

func keySubKey(prefix byte, subKey string) []byte {
	key := make([]byte, 1+len(subKey))
	key[0] = prefix
	copy(key[1:], subKey)
	return key
}

// keyAmount addresses the per-amount count scalar under a dual-shape prefix.
func keyAmount(prefix byte, amount uint64) []byte {
	key := make([]byte, 9)
	key[0] = prefix
	binary.BigEndian.PutUint64(key[1:], amount)
	return key
}

// keyAmountIndex addresses a per-(amount, global index) record. Readers of
// the dual-shape prefixes distinguish it from keyAmount by length.
func keyAmountIndex(prefix byte, amount uint64, globalIndex uint32) []byte {
	key := make([]byte, 13)
	key[0] = prefix
	binary.BigEndian.PutUint64(key[1:], amount)
	binary.BigEndian.PutUint32(key[9:], globalIndex)
	return key
}

func keyTimestamp(prefix byte, timestamp uint64) []byte {
	key := make([]byte, 9)
	key[0] = prefix
	binary.BigEndian.PutUint64(key[1:], timestamp)
	return key
}

func keyHashIndex(prefix byte, hash crypto.Hash, index uint32) []byte {
	key := make([]byte, 1+crypto.HashSize+4)
	key[0] = prefix
	copy(key[1:], hash[:])
	binary.BigEndian.PutUint32(key[1+crypto.HashSize:], index)
	return key
}

func keyEnumIndex(prefix byte, index uint32) []byte {
	key := make([]byte, 5)
	key[0] = prefix
	binary.BigEndian.PutUint32(key[1:], index)
	return key
}
