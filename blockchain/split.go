package blockchain

import (
	"github.com/amjuarez/bytecoin-sub001/crypto"
	"github.com/amjuarez/bytecoin-sub001/wire"
)

// DetachedSegment holds the suffix of the chain removed by a split, in
// ascending height order, with everything needed to re-apply each block to
// this or another cache.
type DetachedSegment struct {
	StartIndex uint32
	Blocks     []PushedBlockInfo
}

// Split atomically removes every record introduced at heights >= splitIndex
// across all indexes and returns the removed suffix for potential re-apply.
// In-memory caches are invalidated only after the removal batch commits.
func (c *Cache) Split(splitIndex uint32) (*DetachedSegment, error) {
	topIndex, err := c.TopBlockIndex()
	if err != nil {
		return nil, err
	}
	if splitIndex == 0 || splitIndex > topIndex {
		return nil, invariantError("split index %d out of range (0, %d]", splitIndex, topIndex)
	}

	log.Debugf("split at index %d started, top block index %d", splitIndex, topIndex)

	segment := &DetachedSegment{StartIndex: splitIndex}

	type deletedBlock struct {
		blockIndex     uint32
		blockHash      crypto.Hash
		spentKeyImages []crypto.KeyImage
		timestamp      uint64
	}
	var deletingBlocks []deletedBlock

	for blockIndex := splitIndex; blockIndex <= topIndex; blockIndex++ {
		pushedInfo, blockHash, err := c.extendedPushedBlockInfo(blockIndex)
		if err != nil {
			return nil, err
		}
		segment.Blocks = append(segment.Blocks, pushedInfo)
		deletingBlocks = append(deletingBlocks, deletedBlock{
			blockIndex:     blockIndex,
			blockHash:      blockHash,
			spentKeyImages: pushedInfo.SpentKeyImages,
			timestamp:      pushedInfo.Timestamp,
		})
	}

	batch := NewWriteBatch()

	// Remove blocks newest first so the last-block-index scalar settles
	// at splitIndex-1.
	for i := len(deletingBlocks) - 1; i >= 0; i-- {
		block := deletingBlocks[i]
		if err := batch.RemoveCachedBlock(block.blockHash, block.blockIndex); err != nil {
			return nil, err
		}
		if err := batch.RemoveRawBlock(block.blockIndex); err != nil {
			return nil, err
		}
		if err := batch.RemoveSpentKeyImages(block.blockIndex, block.spentKeyImages); err != nil {
			return nil, err
		}
		if err := c.removeTimestamp(batch, block.timestamp, block.blockHash); err != nil {
			return nil, err
		}
	}

	deletingTxHashes, err := c.transactionHashesFromBlockIndex(splitIndex, topIndex)
	if err != nil {
		return nil, err
	}
	if err := c.removeTransactions(batch, deletingTxHashes); err != nil {
		return nil, err
	}
	if err := c.removePaymentIDs(batch, deletingTxHashes); err != nil {
		return nil, err
	}

	// The minimum removed global index per amount is the new dense count.
	boundaries := make(map[uint64]uint32)
	readBatch := NewReadBatch()
	for _, txHash := range deletingTxHashes {
		readBatch.RequestCachedTransaction(txHash)
	}
	txResult, err := c.readDatabase(readBatch)
	if err != nil {
		return nil, err
	}
	for _, txHash := range deletingTxHashes {
		info, ok := txResult.Transactions[txHash]
		if !ok {
			return nil, invariantError("split: transaction %s has no cached info", txHash)
		}
		for amount, indexes := range info.AmountToKeyIndexes {
			for _, index := range indexes {
				if boundary, ok := boundaries[amount]; !ok || index < boundary {
					boundaries[amount] = index
				}
			}
		}
	}

	if err := c.removeKeyOutputs(batch, boundaries); err != nil {
		return nil, err
	}
	if err := c.deleteClosestTimestampBlockIndex(batch, splitIndex); err != nil {
		return nil, err
	}

	log.Debugf("split: performing delete operations")
	if err := c.commit(batch); err != nil {
		return nil, err
	}

	c.invalidateCaches()
	log.Debugf("split at index %d completed", splitIndex)
	return segment, nil
}

// extendedPushedBlockInfo reconstructs the standalone push parameters of the
// block at blockIndex from its persisted records.
func (c *Cache) extendedPushedBlockInfo(blockIndex uint32) (PushedBlockInfo, crypto.Hash, error) {
	batch := NewReadBatch().
		RequestRawBlock(blockIndex).
		RequestCachedBlock(blockIndex).
		RequestSpentKeyImagesByBlock(blockIndex)
	if blockIndex > 0 {
		batch.RequestCachedBlock(blockIndex - 1)
	}

	result, err := c.readDatabase(batch)
	if err != nil {
		return PushedBlockInfo{}, crypto.Hash{}, err
	}

	info, ok := result.BlockInfos[blockIndex]
	if !ok {
		return PushedBlockInfo{}, crypto.Hash{}, invariantError("block info %d missing", blockIndex)
	}
	rawBlock, ok := result.RawBlocks[blockIndex]
	if !ok {
		return PushedBlockInfo{}, crypto.Hash{}, invariantError("raw block %d missing", blockIndex)
	}

	var previousInfo CachedBlockInfo
	if blockIndex > 0 {
		if previousInfo, ok = result.BlockInfos[blockIndex-1]; !ok {
			return PushedBlockInfo{}, crypto.Hash{}, invariantError("block info %d missing", blockIndex-1)
		}
	}

	pushedInfo := PushedBlockInfo{
		RawBlock:        rawBlock,
		SpentKeyImages:  result.SpentKeyImagesByBlock[blockIndex],
		BlockSize:       uint64(info.BlockSize),
		GeneratedCoins:  info.AlreadyGeneratedCoins - previousInfo.AlreadyGeneratedCoins,
		BlockDifficulty: info.CumulativeDifficulty - previousInfo.CumulativeDifficulty,
		Timestamp:       info.Timestamp,
	}
	return pushedInfo, info.BlockHash, nil
}

func (c *Cache) transactionHashesFromBlockIndex(splitIndex, topIndex uint32) ([]crypto.Hash, error) {
	batch := NewReadBatch()
	for blockIndex := splitIndex; blockIndex <= topIndex; blockIndex++ {
		batch.RequestTransactionHashesByBlock(blockIndex)
	}
	result, err := c.readDatabase(batch)
	if err != nil {
		return nil, err
	}

	var txHashes []crypto.Hash
	for blockIndex := splitIndex; blockIndex <= topIndex; blockIndex++ {
		txHashes = append(txHashes, result.TxHashesByBlock[blockIndex]...)
	}
	return txHashes, nil
}

func (c *Cache) removeTransactions(batch *WriteBatch, txHashes []crypto.Hash) error {
	txsCount, err := c.TransactionsCount()
	if err != nil {
		return err
	}
	if txsCount < uint64(len(txHashes)) {
		return invariantError("removing %d transactions but only %d stored", len(txHashes), txsCount)
	}

	for _, txHash := range txHashes {
		txsCount--
		if err := batch.RemoveCachedTransaction(txHash, txsCount); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cache) removePaymentIDs(batch *WriteBatch, txHashes []crypto.Hash) error {
	// Count the removals per payment id, then truncate each sequence from
	// its tail.
	paymentCounts := make(map[crypto.Hash]uint32)

	for _, txHash := range txHashes {
		paymentID, ok, err := c.paymentIDOfStoredTransaction(txHash)
		if err != nil {
			return err
		}
		if ok {
			paymentCounts[paymentID]++
		}
	}

	for paymentID, toDelete := range paymentCounts {
		result, err := c.readDatabase(NewReadBatch().RequestTransactionCountByPaymentID(paymentID))
		if err != nil {
			return err
		}
		count := result.TxCountsByPaymentID[paymentID]
		if count < toDelete {
			return invariantError("payment id %s count %d below removals %d", paymentID, count, toDelete)
		}
		for i := uint32(0); i < toDelete; i++ {
			if err := batch.RemovePaymentID(paymentID, count-i-1); err != nil {
				return err
			}
		}
	}
	return nil
}

// paymentIDOfStoredTransaction recovers the payment id of a main-chain
// transaction by re-parsing its raw blob.
func (c *Cache) paymentIDOfStoredTransaction(txHash crypto.Hash) (crypto.Hash, bool, error) {
	info, err := c.Transaction(txHash)
	if err != nil {
		return crypto.Hash{}, false, err
	}

	tx, err := c.rawTransaction(info.BlockIndex, info.TransactionIndex)
	if err != nil {
		return crypto.Hash{}, false, err
	}

	paymentID, ok := wire.PaymentIDFromExtra(tx.Extra)
	return paymentID, ok, nil
}

func (c *Cache) removeKeyOutputs(batch *WriteBatch, boundaries map[uint64]uint32) error {
	if len(boundaries) == 0 {
		return nil
	}

	readBatch := NewReadBatch()
	for amount := range boundaries {
		readBatch.RequestKeyOutputCountForAmount(amount)
	}
	result, err := c.readDatabase(readBatch)
	if err != nil {
		return err
	}

	var zeroedAmounts int
	for amount, boundary := range boundaries {
		outputsCount := result.KeyOutputCounts[amount]
		if boundary > outputsCount {
			return invariantError("split boundary %d beyond count %d for amount %d",
				boundary, outputsCount, amount)
		}

		if err := batch.RemoveKeyOutputGlobalIndexes(amount, outputsCount-boundary, boundary); err != nil {
			return err
		}
		for index := boundary; index < outputsCount; index++ {
			if err := batch.RemoveKeyOutputInfo(amount, index); err != nil {
				return err
			}
		}

		// Rewind the in-memory count to the boundary. The delta is
		// negative; this is the intended semantics of the original's
		// unsigned subtraction.
		if _, err := c.updateKeyOutputCount(amount, int64(boundary)-int64(outputsCount)); err != nil {
			return err
		}
		if boundary == 0 {
			zeroedAmounts++
		}
	}

	if zeroedAmounts > 0 {
		amountsCount, err := c.keyAmountsCount()
		if err != nil {
			return err
		}
		if uint32(zeroedAmounts) > amountsCount {
			return invariantError("removing %d amounts from enumeration of %d", zeroedAmounts, amountsCount)
		}
		newCount := amountsCount - uint32(zeroedAmounts)
		if err := batch.RemoveKeyOutputAmounts(uint32(zeroedAmounts), newCount); err != nil {
			return err
		}
	}
	return nil
}

// removeTimestamp drops a block hash from its timestamp bucket, removing the
// bucket entirely once empty.
func (c *Cache) removeTimestamp(batch *WriteBatch, timestamp uint64, blockHash crypto.Hash) error {
	result, err := c.readDatabase(NewReadBatch().RequestBlockHashesByTimestamp(timestamp))
	if err != nil {
		return err
	}

	hashes, ok := result.BlockHashesByTimestamp[timestamp]
	if !ok {
		return nil
	}

	remaining := hashes[:0]
	removed := false
	for _, hash := range hashes {
		if !removed && hash == blockHash {
			removed = true
			continue
		}
		remaining = append(remaining, hash)
	}

	if len(remaining) == 0 {
		log.Debugf("deleting timestamp %d", timestamp)
		return batch.RemoveTimestamp(timestamp)
	}
	return batch.InsertTimestamp(timestamp, remaining)
}

// deleteClosestTimestampBlockIndex maintains the day-bucket index across a
// split: when the split block's day keeps an earlier block, its midnight
// record survives; from the following day onward, midnights are deleted
// walking forward while records remain.
func (c *Cache) deleteClosestTimestampBlockIndex(batch *WriteBatch, splitIndex uint32) error {
	info, err := c.BlockInfo(splitIndex)
	if err != nil {
		return err
	}

	midnight := roundToMidnight(info.Timestamp)
	result, err := c.readDatabase(NewReadBatch().RequestClosestTimestampBlockIndex(midnight))
	if err != nil {
		return err
	}

	blockIndex, ok := result.ClosestTimestamps[midnight]
	if !ok {
		return invariantError("no closest-timestamp record for midnight %d", midnight)
	}

	if splitIndex != blockIndex {
		// An earlier block of this day survives the split.
		midnight += secondsInDay
	}

	for {
		result, err := c.readDatabase(NewReadBatch().RequestClosestTimestampBlockIndex(midnight))
		if err != nil {
			return err
		}
		if _, ok := result.ClosestTimestamps[midnight]; !ok {
			break
		}
		if err := batch.RemoveClosestTimestampBlockIndex(midnight); err != nil {
			return err
		}
		midnight += secondsInDay
	}
	return nil
}

// rawTransaction re-parses the transaction at the given position of a
// stored block.
func (c *Cache) rawTransaction(blockIndex uint32, transactionIndex uint16) (*wire.MsgTx, error) {
	rawBlock, err := c.RawBlock(blockIndex)
	if err != nil {
		return nil, err
	}

	var block wire.MsgBlock
	if err := deserializeBlock(&block, rawBlock.Block); err != nil {
		return nil, err
	}

	if transactionIndex == 0 {
		return &block.CoinbaseTx, nil
	}
	if int(transactionIndex) > len(rawBlock.Transactions) {
		return nil, invariantError("transaction index %d beyond %d blobs in block %d",
			transactionIndex, len(rawBlock.Transactions), blockIndex)
	}

	var tx wire.MsgTx
	if err := deserializeTx(&tx, rawBlock.Transactions[transactionIndex-1]); err != nil {
		return nil, err
	}
	return &tx, nil
}
