package blockchain

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/amjuarez/bytecoin-sub001/crypto"
	"github.com/amjuarez/bytecoin-sub001/database"
	"github.com/amjuarez/bytecoin-sub001/wire"
)

// ExtractOutputKeysStatus reports the outcome of a ring member lookup.
type ExtractOutputKeysStatus int

// Lookup outcomes.
const (
	ExtractOutputKeysSuccess ExtractOutputKeysStatus = iota
	ExtractOutputKeysOutputLocked
	ExtractOutputKeysInvalidGlobalIndex
)

// BlockHash returns the hash of the block at the given index.
func (c *Cache) BlockHash(blockIndex uint32) (crypto.Hash, error) {
	info, err := c.BlockInfo(blockIndex)
	if err != nil {
		return crypto.Hash{}, err
	}
	return info.BlockHash, nil
}

// BlockIndex returns the main-chain index of the block with the given hash.
func (c *Cache) BlockIndex(blockHash crypto.Hash) (uint32, error) {
	result, err := c.readDatabase(NewReadBatch().RequestBlockIndexByBlockHash(blockHash))
	if err != nil {
		return 0, err
	}
	index, ok := result.BlockIndexesByHash[blockHash]
	if !ok {
		return 0, errors.Wrapf(database.ErrNotFound, "block %s", blockHash)
	}
	return index, nil
}

// HasBlock returns whether the given hash is on the main chain.
func (c *Cache) HasBlock(blockHash crypto.Hash) (bool, error) {
	_, err := c.BlockIndex(blockHash)
	if database.IsNotFoundError(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// BlockInfo returns the cached block info of the given index, consulting the
// in-memory window before touching the store.
func (c *Cache) BlockInfo(blockIndex uint32) (CachedBlockInfo, error) {
	if info, ok := c.blockInfoFromWindow(blockIndex); ok {
		return info, nil
	}

	result, err := c.readDatabase(NewReadBatch().RequestCachedBlock(blockIndex))
	if err != nil {
		return CachedBlockInfo{}, err
	}
	info, ok := result.BlockInfos[blockIndex]
	if !ok {
		return CachedBlockInfo{}, errors.Wrapf(database.ErrNotFound, "block info %d", blockIndex)
	}
	return info, nil
}

func (c *Cache) blockInfoFromWindow(blockIndex uint32) (CachedBlockInfo, bool) {
	if len(c.unitsCache) == 0 || c.topBlockIndex == nil {
		return CachedBlockInfo{}, false
	}
	top := *c.topBlockIndex
	windowStart := top + 1 - uint32(len(c.unitsCache))
	if blockIndex < windowStart || blockIndex > top {
		return CachedBlockInfo{}, false
	}
	return c.unitsCache[blockIndex-windowStart], true
}

// RawBlock returns the exact raw block bytes originally stored for the given
// index, suitable for rebroadcast.
func (c *Cache) RawBlock(blockIndex uint32) (wire.RawBlock, error) {
	result, err := c.readDatabase(NewReadBatch().RequestRawBlock(blockIndex))
	if err != nil {
		return wire.RawBlock{}, err
	}
	rawBlock, ok := result.RawBlocks[blockIndex]
	if !ok {
		return wire.RawBlock{}, errors.Wrapf(database.ErrNotFound, "raw block %d", blockIndex)
	}
	return rawBlock, nil
}

// Transaction returns the extended info persisted for a transaction.
func (c *Cache) Transaction(txHash crypto.Hash) (ExtendedTransactionInfo, error) {
	result, err := c.readDatabase(NewReadBatch().RequestCachedTransaction(txHash))
	if err != nil {
		return ExtendedTransactionInfo{}, err
	}
	info, ok := result.Transactions[txHash]
	if !ok {
		return ExtendedTransactionInfo{}, errors.Wrapf(database.ErrNotFound, "transaction %s", txHash)
	}
	return info, nil
}

// HasTransaction returns whether the transaction is on the main chain.
func (c *Cache) HasTransaction(txHash crypto.Hash) (bool, error) {
	_, err := c.Transaction(txHash)
	if database.IsNotFoundError(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// TransactionGlobalIndexes returns the per-output global output indexes
// assigned to a transaction at append time.
func (c *Cache) TransactionGlobalIndexes(txHash crypto.Hash) ([]uint32, error) {
	info, err := c.Transaction(txHash)
	if err != nil {
		return nil, err
	}
	return info.GlobalIndexes, nil
}

// TransactionHashesByBlock returns a block's ordered transaction hashes,
// coinbase first.
func (c *Cache) TransactionHashesByBlock(blockIndex uint32) ([]crypto.Hash, error) {
	result, err := c.readDatabase(NewReadBatch().RequestTransactionHashesByBlock(blockIndex))
	if err != nil {
		return nil, err
	}
	hashes, ok := result.TxHashesByBlock[blockIndex]
	if !ok {
		return nil, errors.Wrapf(database.ErrNotFound, "tx hashes for block %d", blockIndex)
	}
	return hashes, nil
}

// useGenesis selects whether history walks include block zero.
type useGenesis bool

// LastTimestamps returns up to count block timestamps ending at uptoIndex,
// oldest first.
func (c *Cache) LastTimestamps(count int, uptoIndex uint32, includeGenesis bool) ([]uint64, error) {
	return c.lastUnits(count, uptoIndex, useGenesis(includeGenesis),
		func(info CachedBlockInfo) uint64 { return info.Timestamp })
}

// LastCumulativeDifficulties returns up to count cumulative difficulties
// ending at uptoIndex, oldest first.
func (c *Cache) LastCumulativeDifficulties(count int, uptoIndex uint32, includeGenesis bool) ([]uint64, error) {
	return c.lastUnits(count, uptoIndex, useGenesis(includeGenesis),
		func(info CachedBlockInfo) uint64 { return info.CumulativeDifficulty })
}

// LastBlockSizes returns up to count block sizes ending at uptoIndex, oldest
// first.
func (c *Cache) LastBlockSizes(count int, uptoIndex uint32, includeGenesis bool) ([]uint64, error) {
	return c.lastUnits(count, uptoIndex, useGenesis(includeGenesis),
		func(info CachedBlockInfo) uint64 { return uint64(info.BlockSize) })
}

// lastUnits walks backwards from uptoIndex collecting up to count values,
// serving what it can from the in-memory window and fetching the rest from
// the store in chunks. Values are returned oldest first.
func (c *Cache) lastUnits(count int, uptoIndex uint32, genesis useGenesis,
	pred func(CachedBlockInfo) uint64) ([]uint64, error) {

	if count == 0 {
		return nil, nil
	}

	first := uint32(0)
	if uint64(count) <= uint64(uptoIndex) {
		first = uptoIndex + 1 - uint32(count)
	}
	if first == 0 && !bool(genesis) {
		if uptoIndex == 0 {
			return nil, nil
		}
		first = 1
	}

	values := make([]uint64, 0, uptoIndex-first+1)
	for blockIndex := first; ; blockIndex++ {
		// Drain the window once it covers the rest of the range.
		if info, ok := c.blockInfoFromWindow(blockIndex); ok {
			values = append(values, pred(info))
		} else {
			chunkEnd := blockIndex + dbReadChunkSize - 1
			if chunkEnd > uptoIndex {
				chunkEnd = uptoIndex
			}
			batch := NewReadBatch()
			for i := blockIndex; i <= chunkEnd && i >= blockIndex; i++ {
				batch.RequestCachedBlock(i)
			}
			result, err := c.readDatabase(batch)
			if err != nil {
				return nil, err
			}
			for i := blockIndex; i <= chunkEnd && i >= blockIndex; i++ {
				info, ok := result.BlockInfos[i]
				if !ok {
					return nil, errors.Wrapf(database.ErrNotFound, "block info %d", i)
				}
				values = append(values, pred(info))
			}
			blockIndex = chunkEnd
		}

		if blockIndex == uptoIndex {
			break
		}
	}

	return values, nil
}

// KeyOutputsCountForAmount returns the dense global output count of an
// amount.
func (c *Cache) KeyOutputsCountForAmount(amount uint64) (uint32, error) {
	return c.updateKeyOutputCount(amount, 0)
}

// KeyOutput returns the packed reference of the output at (amount,
// globalIndex).
func (c *Cache) KeyOutput(amount uint64, globalIndex uint32) (PackedOutputReference, error) {
	result, err := c.readDatabase(NewReadBatch().RequestKeyOutputGlobalIndex(amount, globalIndex))
	if err != nil {
		return PackedOutputReference{}, err
	}
	ref, ok := result.KeyOutputReferences[AmountIndex{Amount: amount, Index: globalIndex}]
	if !ok {
		return PackedOutputReference{}, errors.Wrapf(database.ErrNotFound,
			"key output (%d, %d)", amount, globalIndex)
	}
	return ref, nil
}

// KeyOutputsCountAtOrBefore returns how many outputs of the amount were
// created at block indexes strictly below the given block index. It binary
// searches the dense global index space, lazily fetching packed references.
func (c *Cache) KeyOutputsCountAtOrBefore(amount uint64, blockIndex uint32) (uint32, error) {
	total, err := c.KeyOutputsCountForAmount(amount)
	if err != nil {
		return 0, err
	}

	var searchErr error
	boundary := sort.Search(int(total), func(i int) bool {
		if searchErr != nil {
			return true
		}
		ref, err := c.KeyOutput(amount, uint32(i))
		if err != nil {
			searchErr = err
			return true
		}
		return ref.BlockIndex >= blockIndex
	})
	if searchErr != nil {
		return 0, searchErr
	}
	return uint32(boundary), nil
}

// CheckIfSpent returns whether the key image is recorded spent at a block
// index at or below uptoBlockIndex.
func (c *Cache) CheckIfSpent(keyImage crypto.KeyImage, uptoBlockIndex uint32) (bool, error) {
	result, err := c.readDatabase(NewReadBatch().RequestBlockIndexBySpentKeyImage(keyImage))
	if err != nil {
		return false, err
	}
	blockIndex, ok := result.BlockIndexesByKeyImage[keyImage]
	return ok && blockIndex <= uptoBlockIndex, nil
}

// ExtractKeyOutputKeys resolves the public keys of the outputs at the given
// global indexes of an amount, verifying each is unlocked with respect to
// uptoBlockIndex. The keys are returned in input order.
func (c *Cache) ExtractKeyOutputKeys(amount uint64, globalIndexes []uint32,
	uptoBlockIndex uint32, now uint64) (ExtractOutputKeysStatus, []crypto.PublicKey, error) {

	batch := NewReadBatch()
	for _, globalIndex := range globalIndexes {
		batch.RequestKeyOutputInfo(amount, globalIndex)
	}
	result, err := c.readDatabase(batch)
	if err != nil {
		return ExtractOutputKeysInvalidGlobalIndex, nil, err
	}

	keys := make([]crypto.PublicKey, 0, len(globalIndexes))
	for _, globalIndex := range globalIndexes {
		info, ok := result.KeyOutputInfos[AmountIndex{Amount: amount, Index: globalIndex}]
		if !ok {
			return ExtractOutputKeysInvalidGlobalIndex, nil, nil
		}
		if !c.currency.IsUnlocked(info.UnlockTime, uptoBlockIndex, now) {
			log.Debugf("output (%d, %d) is locked", amount, globalIndex)
			return ExtractOutputKeysOutputLocked, nil, nil
		}
		keys = append(keys, info.PublicKey)
	}
	return ExtractOutputKeysSuccess, keys, nil
}

// RandomUnlockedOutputs draws up to count distinct global indexes of the
// amount, rejecting outputs that are locked or within the mined-money unlock
// window below uptoBlockIndex. Exhausting the supply caps the result; it is
// not an error.
func (c *Cache) RandomUnlockedOutputs(amount uint64, count int,
	uptoBlockIndex uint32, now uint64) ([]uint32, error) {

	outputsCount, err := c.KeyOutputsCountForAmount(amount)
	if err != nil {
		return nil, err
	}

	toPick := count
	if int(outputsCount) < toPick {
		toPick = int(outputsCount)
	}

	var upperBlockIndex uint32
	if uptoBlockIndex > c.currency.MinedMoneyUnlockWindow {
		upperBlockIndex = uptoBlockIndex - c.currency.MinedMoneyUnlockWindow
	}

	generator := crypto.NewShuffleGenerator(outputsCount)
	picked := make([]uint32, 0, toPick)

	for len(picked) < toPick {
		candidates := make([]uint32, 0, toPick-len(picked))
		for len(candidates) < toPick-len(picked) {
			globalIndex, err := generator.Next()
			if err != nil {
				// Sequence exhausted; return what was gathered.
				return picked, nil
			}
			candidates = append(candidates, globalIndex)
		}

		batch := NewReadBatch()
		for _, globalIndex := range candidates {
			batch.RequestKeyOutputInfo(amount, globalIndex)
		}
		result, err := c.readDatabase(batch)
		if err != nil {
			return nil, err
		}

		refBatch := NewReadBatch()
		for _, globalIndex := range candidates {
			refBatch.RequestKeyOutputGlobalIndex(amount, globalIndex)
		}
		refResult, err := c.readDatabase(refBatch)
		if err != nil {
			return nil, err
		}

		for _, globalIndex := range candidates {
			info, ok := result.KeyOutputInfos[AmountIndex{Amount: amount, Index: globalIndex}]
			if !ok {
				return nil, invariantError("key output info (%d, %d) missing below count %d",
					amount, globalIndex, outputsCount)
			}
			ref, ok := refResult.KeyOutputReferences[AmountIndex{Amount: amount, Index: globalIndex}]
			if !ok {
				return nil, invariantError("key output reference (%d, %d) missing below count %d",
					amount, globalIndex, outputsCount)
			}

			if !c.currency.IsUnlocked(info.UnlockTime, uptoBlockIndex, now) {
				continue
			}
			if ref.BlockIndex > upperBlockIndex {
				continue
			}
			picked = append(picked, globalIndex)
		}
	}

	return picked, nil
}

// TransactionsByPaymentID enumerates the hashes of all stored transactions
// tagged with the payment id, in insertion order.
func (c *Cache) TransactionsByPaymentID(paymentID crypto.Hash) ([]crypto.Hash, error) {
	countResult, err := c.readDatabase(NewReadBatch().RequestTransactionCountByPaymentID(paymentID))
	if err != nil {
		return nil, err
	}
	count := countResult.TxCountsByPaymentID[paymentID]
	if count == 0 {
		return nil, nil
	}

	batch := NewReadBatch()
	for i := uint32(0); i < count; i++ {
		batch.RequestTransactionHashByPaymentID(paymentID, i)
	}
	result, err := c.readDatabase(batch)
	if err != nil {
		return nil, err
	}

	hashes := make([]crypto.Hash, 0, count)
	for i := uint32(0); i < count; i++ {
		hash, ok := result.TxHashesByPaymentID[PaymentIndex{PaymentID: paymentID, Index: i}]
		if !ok {
			return nil, invariantError("payment id %s count %d but entry %d missing",
				paymentID, count, i)
		}
		hashes = append(hashes, hash)
	}
	return hashes, nil
}

// BlockHashesByTimestamps returns the hashes of all blocks whose timestamp
// falls in [timestampBegin, timestampBegin+seconds).
func (c *Cache) BlockHashesByTimestamps(timestampBegin uint64, seconds int) ([]crypto.Hash, error) {
	if seconds == 0 {
		return nil, nil
	}

	batch := NewReadBatch()
	for timestamp := timestampBegin; timestamp < timestampBegin+uint64(seconds); timestamp++ {
		batch.RequestBlockHashesByTimestamp(timestamp)
	}
	result, err := c.readDatabase(batch)
	if err != nil {
		return nil, err
	}

	var blockHashes []crypto.Hash
	for timestamp := timestampBegin; timestamp < timestampBegin+uint64(seconds); timestamp++ {
		blockHashes = append(blockHashes, result.BlockHashesByTimestamp[timestamp]...)
	}
	return blockHashes, nil
}

// TimestampLowerBoundBlockIndex returns the index of the first block of the
// day containing the timestamp, stepping backwards day by day until a
// record is found. Zero is returned when the chain predates every record.
func (c *Cache) TimestampLowerBoundBlockIndex(timestamp uint64) (uint32, error) {
	midnight := roundToMidnight(timestamp)

	for {
		result, err := c.readDatabase(NewReadBatch().RequestClosestTimestampBlockIndex(midnight))
		if err != nil {
			return 0, err
		}
		if blockIndex, ok := result.ClosestTimestamps[midnight]; ok {
			return blockIndex, nil
		}
		if midnight < secondsInDay {
			return 0, nil
		}
		midnight -= secondsInDay
	}
}

// BlockHashes returns up to maxCount block hashes starting at startIndex.
func (c *Cache) BlockHashes(startIndex uint32, maxCount int) ([]crypto.Hash, error) {
	topIndex, err := c.TopBlockIndex()
	if err != nil {
		return nil, err
	}
	if startIndex > topIndex {
		return nil, nil
	}

	count := int(topIndex-startIndex) + 1
	if count > maxCount {
		count = maxCount
	}

	batch := NewReadBatch()
	for i := 0; i < count; i++ {
		batch.RequestCachedBlock(startIndex + uint32(i))
	}
	result, err := c.readDatabase(batch)
	if err != nil {
		return nil, err
	}

	hashes := make([]crypto.Hash, 0, count)
	for i := 0; i < count; i++ {
		info, ok := result.BlockInfos[startIndex+uint32(i)]
		if !ok {
			return nil, errors.Wrapf(database.ErrNotFound, "block info %d", startIndex+uint32(i))
		}
		hashes = append(hashes, info.BlockHash)
	}
	return hashes, nil
}
