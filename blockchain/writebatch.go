package blockchain

import (
	"sort"

	"github.com/amjuarez/bytecoin-sub001/crypto"
	"github.com/amjuarez/bytecoin-sub001/database"
	"github.com/amjuarez/bytecoin-sub001/wire"
)

// WriteBatch assembles the index mutations of one composite operation into a
// homogeneous list of raw key-value operations so the store can apply them
// atomically. No deduplication is performed; callers must not insert and
// remove the same key within one batch.
type WriteBatch struct {
	toInsert []database.KeyValue
	toRemove [][]byte
	consumed bool
}

// NewWriteBatch returns an empty write batch.
func NewWriteBatch() *WriteBatch {
	return &WriteBatch{}
}

// Extract yields the accumulated inserts and removals and consumes the
// batch.
func (b *WriteBatch) Extract() (toInsert []database.KeyValue, toRemove [][]byte) {
	toInsert, toRemove = b.toInsert, b.toRemove
	b.toInsert, b.toRemove = nil, nil
	b.consumed = true
	return toInsert, toRemove
}

func (b *WriteBatch) insert(key, value []byte) {
	b.toInsert = append(b.toInsert, database.KeyValue{Key: key, Value: value})
}

func (b *WriteBatch) remove(key []byte) {
	b.toRemove = append(b.toRemove, key)
}

// InsertSpentKeyImages records the key images spent by the block at the
// given index: the per-block set plus one key-image-to-block entry each.
func (b *WriteBatch) InsertSpentKeyImages(blockIndex uint32, spentKeyImages []crypto.KeyImage) error {
	sorted := append([]crypto.KeyImage(nil), spentKeyImages...)
	sort.Slice(sorted, func(i, j int) bool {
		return lessKeyImage(sorted[i], sorted[j])
	})

	b.insert(keyBlockIndex(prefixSpentKeyImagesByBlock, blockIndex), serializeKeyImageList(sorted))
	for _, keyImage := range sorted {
		b.insert(keyKeyImage(prefixBlockIndexByKeyImage, keyImage), serializeU32(blockIndex))
	}
	return nil
}

// RemoveSpentKeyImages reverses InsertSpentKeyImages for a popped block.
func (b *WriteBatch) RemoveSpentKeyImages(blockIndex uint32, spentKeyImages []crypto.KeyImage) error {
	b.remove(keyBlockIndex(prefixSpentKeyImagesByBlock, blockIndex))
	for _, keyImage := range spentKeyImages {
		b.remove(keyKeyImage(prefixBlockIndexByKeyImage, keyImage))
	}
	return nil
}

// InsertCachedTransaction stores a transaction record and refreshes the
// total transaction count scalar.
func (b *WriteBatch) InsertCachedTransaction(info ExtendedTransactionInfo, totalTxsCount uint64) error {
	b.insert(keyHash(prefixTxInfoByHash, info.TransactionHash), serializeTransactionInfo(info))
	b.insert(keySubKey(prefixTxInfoByHash, transactionsCountKey), serializeU64(totalTxsCount))
	return nil
}

// RemoveCachedTransaction deletes a transaction record and refreshes the
// total transaction count scalar.
func (b *WriteBatch) RemoveCachedTransaction(transactionHash crypto.Hash, totalTxsCount uint64) error {
	b.remove(keyHash(prefixTxInfoByHash, transactionHash))
	b.insert(keySubKey(prefixTxInfoByHash, transactionsCountKey), serializeU64(totalTxsCount))
	return nil
}

// InsertPaymentID appends a transaction hash to a payment id's sequence and
// stores the new per-payment-id count.
func (b *WriteBatch) InsertPaymentID(transactionHash crypto.Hash, paymentID crypto.Hash,
	totalTxsCountForPaymentID uint32) error {

	if totalTxsCountForPaymentID == 0 {
		return invariantError("inserting payment id %s with zero count", paymentID)
	}

	b.insert(keyHash(prefixPaymentID, paymentID), serializeU32(totalTxsCountForPaymentID))
	b.insert(keyHashIndex(prefixPaymentID, paymentID, totalTxsCountForPaymentID-1),
		transactionHash[:])
	return nil
}

// RemovePaymentID truncates a payment id's sequence to the given count.
func (b *WriteBatch) RemovePaymentID(paymentID crypto.Hash, totalTxsCountForPaymentID uint32) error {
	b.insert(keyHash(prefixPaymentID, paymentID), serializeU32(totalTxsCountForPaymentID))
	b.remove(keyHashIndex(prefixPaymentID, paymentID, totalTxsCountForPaymentID))
	return nil
}

// InsertCachedBlock stores the block info, the block's ordered transaction
// hashes, the hash-to-index mapping, and bumps the last-block-index scalar.
func (b *WriteBatch) InsertCachedBlock(info CachedBlockInfo, blockIndex uint32,
	blockTxs []crypto.Hash) error {

	b.insert(keyBlockIndex(prefixBlockInfoByIndex, blockIndex), serializeBlockInfo(info))
	b.insert(keyBlockIndex(prefixTxHashesByBlock, blockIndex), serializeHashList(blockTxs))
	b.insert(keyHash(prefixBlockIndexByHash, info.BlockHash), serializeU32(blockIndex))
	b.insert(keySubKey(prefixScalars, lastBlockIndexKey), serializeU32(blockIndex))
	return nil
}

// RemoveCachedBlock deletes a block's records and rewinds the
// last-block-index scalar to the parent.
func (b *WriteBatch) RemoveCachedBlock(blockHash crypto.Hash, blockIndex uint32) error {
	if blockIndex == 0 {
		return invariantError("removing genesis block")
	}

	b.remove(keyBlockIndex(prefixBlockInfoByIndex, blockIndex))
	b.remove(keyBlockIndex(prefixTxHashesByBlock, blockIndex))
	b.remove(keyHash(prefixBlockIndexByHash, blockHash))
	b.insert(keySubKey(prefixScalars, lastBlockIndexKey), serializeU32(blockIndex-1))
	return nil
}

// InsertKeyOutputGlobalIndexes stores the per-amount count and the packed
// references of the newly assigned tail of global indexes
// [total-len(outputs), total).
func (b *WriteBatch) InsertKeyOutputGlobalIndexes(amount uint64, outputs []PackedOutputReference,
	totalOutputsCountForAmount uint32) error {

	if uint32(len(outputs)) > totalOutputsCountForAmount {
		return invariantError("inserting %d outputs for amount %d with total count %d",
			len(outputs), amount, totalOutputsCountForAmount)
	}

	b.insert(keyAmount(prefixKeyOutputAmount, amount), serializeU32(totalOutputsCountForAmount))
	currentOutputID := totalOutputsCountForAmount - uint32(len(outputs))
	for _, output := range outputs {
		b.insert(keyAmountIndex(prefixKeyOutputAmount, amount, currentOutputID),
			serializePackedOutputReference(output))
		currentOutputID++
	}
	return nil
}

// RemoveKeyOutputGlobalIndexes rewrites the per-amount count to the new
// total and removes the packed references at [newTotal, newTotal+toRemove).
func (b *WriteBatch) RemoveKeyOutputGlobalIndexes(amount uint64, outputsToRemoveCount,
	newTotalOutputsCountForAmount uint32) error {

	if newTotalOutputsCountForAmount+outputsToRemoveCount < newTotalOutputsCountForAmount {
		return invariantError("key output removal overflows for amount %d", amount)
	}

	b.insert(keyAmount(prefixKeyOutputAmount, amount), serializeU32(newTotalOutputsCountForAmount))
	for i := uint32(0); i < outputsToRemoveCount; i++ {
		b.remove(keyAmountIndex(prefixKeyOutputAmount, amount, newTotalOutputsCountForAmount+i))
	}
	return nil
}

// InsertKeyOutputAmounts appends newly seen amounts to the amount
// enumeration and stores the new enumeration count.
func (b *WriteBatch) InsertKeyOutputAmounts(amounts []uint64, totalKeyOutputAmountsCount uint32) error {
	if uint32(len(amounts)) > totalKeyOutputAmountsCount {
		return invariantError("inserting %d amounts with total count %d",
			len(amounts), totalKeyOutputAmountsCount)
	}

	sorted := append([]uint64(nil), amounts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	b.insert(keySubKey(prefixKeyOutputAmounts, keyOutputAmountsCount),
		serializeU32(totalKeyOutputAmountsCount))
	currentAmountID := totalKeyOutputAmountsCount - uint32(len(sorted))
	for _, amount := range sorted {
		b.insert(keyEnumIndex(prefixKeyOutputAmounts, currentAmountID), serializeU64(amount))
		currentAmountID++
	}
	return nil
}

// RemoveKeyOutputAmounts truncates the amount enumeration to the new count.
func (b *WriteBatch) RemoveKeyOutputAmounts(amountsToRemoveCount, newTotalKeyOutputAmountsCount uint32) error {
	b.insert(keySubKey(prefixKeyOutputAmounts, keyOutputAmountsCount),
		serializeU32(newTotalKeyOutputAmountsCount))
	for i := uint32(0); i < amountsToRemoveCount; i++ {
		b.remove(keyEnumIndex(prefixKeyOutputAmounts, newTotalKeyOutputAmountsCount+i))
	}
	return nil
}

// InsertRawBlock stores a block's raw blob.
func (b *WriteBatch) InsertRawBlock(blockIndex uint32, rawBlock wire.RawBlock) error {
	b.insert(keyBlockIndex(prefixRawBlock, blockIndex), serializeRawBlock(rawBlock))
	return nil
}

// RemoveRawBlock deletes a block's raw blob.
func (b *WriteBatch) RemoveRawBlock(blockIndex uint32) error {
	b.remove(keyBlockIndex(prefixRawBlock, blockIndex))
	return nil
}

// InsertClosestTimestampBlockIndex records the first block index of a
// calendar day keyed by its midnight timestamp.
func (b *WriteBatch) InsertClosestTimestampBlockIndex(timestamp uint64, blockIndex uint32) error {
	b.insert(keyTimestamp(prefixClosestTimestamp, timestamp), serializeU32(blockIndex))
	return nil
}

// RemoveClosestTimestampBlockIndex deletes a day's closest-block record.
func (b *WriteBatch) RemoveClosestTimestampBlockIndex(timestamp uint64) error {
	b.remove(keyTimestamp(prefixClosestTimestamp, timestamp))
	return nil
}

// InsertTimestamp stores the hashes of all blocks carrying the exact
// timestamp.
func (b *WriteBatch) InsertTimestamp(timestamp uint64, blockHashes []crypto.Hash) error {
	b.insert(keyTimestamp(prefixTimestampBlockHashes, timestamp), serializeHashList(blockHashes))
	return nil
}

// RemoveTimestamp deletes a timestamp's block hash list.
func (b *WriteBatch) RemoveTimestamp(timestamp uint64) error {
	b.remove(keyTimestamp(prefixTimestampBlockHashes, timestamp))
	return nil
}

// InsertKeyOutputInfo stores the denormalized key output record for
// (amount, globalIndex).
func (b *WriteBatch) InsertKeyOutputInfo(amount uint64, globalIndex uint32, info KeyOutputInfo) error {
	b.insert(keyAmountIndex(prefixKeyOutputInfo, amount, globalIndex), serializeKeyOutputInfo(info))
	return nil
}

// RemoveKeyOutputInfo deletes the key output record for (amount,
// globalIndex).
func (b *WriteBatch) RemoveKeyOutputInfo(amount uint64, globalIndex uint32) error {
	b.remove(keyAmountIndex(prefixKeyOutputInfo, amount, globalIndex))
	return nil
}

// InsertSchemeVersion stores the database layout version.
func (b *WriteBatch) InsertSchemeVersion(version uint32) error {
	b.insert(keySubKey(prefixSchemeVersion, schemeVersionKey), serializeU32(version))
	return nil
}

func lessKeyImage(a, b crypto.KeyImage) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
