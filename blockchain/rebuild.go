package blockchain

import (
	"encoding/binary"

	"github.com/amjuarez/bytecoin-sub001/crypto"
	"github.com/amjuarez/bytecoin-sub001/currency"
	"github.com/amjuarez/bytecoin-sub001/wire"
)

// rebuildIndexes reconstructs every derived index from the raw block
// records, used when the store was written by an older schema version. The
// derived indexes are wiped first; the raw blocks and the fresh schema
// version record are the only survivors.
func (c *Cache) rebuildIndexes() error {
	log.Infof("rebuilding blockchain indexes from raw blocks")

	rawBlocks, err := c.collectRawBlocks()
	if err != nil {
		return err
	}

	if err := c.wipeDerivedIndexes(); err != nil {
		return err
	}

	batch := NewWriteBatch()
	if err := batch.InsertSchemeVersion(currentDBSchemeVersion); err != nil {
		return err
	}
	if err := c.commit(batch); err != nil {
		return err
	}
	c.invalidateCaches()

	for blockIndex, rawBlock := range rawBlocks {
		if err := c.replayRawBlock(uint32(blockIndex), rawBlock); err != nil {
			return err
		}
	}

	log.Infof("index rebuild complete, %d blocks replayed", len(rawBlocks))
	return nil
}

// collectRawBlocks reads the contiguous raw block sequence from the store.
func (c *Cache) collectRawBlocks() ([]wire.RawBlock, error) {
	cursor, err := c.db.Cursor([]byte{prefixRawBlock})
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	var rawBlocks []wire.RawBlock
	for cursor.Next() {
		key, err := cursor.Key()
		if err != nil {
			return nil, err
		}
		if len(key) != 4 {
			return nil, invariantError("malformed raw block key of length %d", len(key))
		}
		blockIndex := binary.BigEndian.Uint32(key)
		if blockIndex != uint32(len(rawBlocks)) {
			return nil, invariantError("raw block sequence has a gap at index %d", len(rawBlocks))
		}

		value, err := cursor.Value()
		if err != nil {
			return nil, err
		}
		rawBlock, err := deserializeRawBlock(value)
		if err != nil {
			return nil, err
		}
		rawBlocks = append(rawBlocks, rawBlock)
	}
	return rawBlocks, nil
}

// wipeDerivedIndexes removes every record except the raw blocks.
func (c *Cache) wipeDerivedIndexes() error {
	prefixes := []byte{
		prefixSpentKeyImagesByBlock,
		prefixTxHashesByBlock,
		prefixBlockIndexByHash,
		prefixBlockInfoByIndex,
		prefixBlockIndexByKeyImage,
		prefixScalars,
		prefixSchemeVersion,
		prefixTxInfoByHash,
		prefixKeyOutputAmount,
		prefixClosestTimestamp,
		prefixPaymentID,
		prefixTimestampBlockHashes,
		prefixKeyOutputAmounts,
		prefixKeyOutputInfo,
	}

	var toRemove [][]byte
	for _, prefix := range prefixes {
		cursor, err := c.db.Cursor([]byte{prefix})
		if err != nil {
			return err
		}
		for cursor.Next() {
			key, err := cursor.Key()
			if err != nil {
				cursor.Close()
				return err
			}
			fullKey := make([]byte, 0, len(key)+1)
			fullKey = append(fullKey, prefix)
			fullKey = append(fullKey, key...)
			toRemove = append(toRemove, fullKey)
		}
		if err := cursor.Close(); err != nil {
			return err
		}
	}

	return c.db.Write(nil, toRemove)
}

// replayRawBlock re-derives one block's records. The chain was valid when
// first stored, so validation is not repeated; sizes, fees, difficulty and
// emission are recomputed from the raw data and the currency rules.
func (c *Cache) replayRawBlock(blockIndex uint32, rawBlock wire.RawBlock) error {
	var block wire.MsgBlock
	if err := deserializeBlock(&block, rawBlock.Block); err != nil {
		return err
	}

	transactions := make([]*wire.MsgTx, 0, len(rawBlock.Transactions))
	blockSize := uint64(block.CoinbaseTx.SerializeSize())
	var totalFee uint64
	var spentKeyImages []crypto.KeyImage

	for _, blob := range rawBlock.Transactions {
		var tx wire.MsgTx
		if err := deserializeTx(&tx, blob); err != nil {
			return err
		}
		blockSize += uint64(len(blob))
		totalFee += tx.Fee()
		for _, input := range tx.Inputs {
			if keyInput, ok := input.(*wire.KeyInput); ok {
				spentKeyImages = append(spentKeyImages, keyInput.KeyImage)
			}
		}
		transactions = append(transactions, &tx)
	}

	difficulty := uint64(1)
	generatedCoins := block.CoinbaseTx.OutputAmount()

	if blockIndex > 0 {
		topIndex := blockIndex - 1

		window := c.currency.DifficultyWindow + c.currency.DifficultyLag
		timestamps, err := c.LastTimestamps(window, topIndex, true)
		if err != nil {
			return err
		}
		difficulties, err := c.LastCumulativeDifficulties(window, topIndex, true)
		if err != nil {
			return err
		}
		difficulty = c.currency.NextDifficulty(block.Header.MajorVersion, timestamps, difficulties)

		sizes, err := c.LastBlockSizes(int(c.currency.RewardBlocksWindow), topIndex, true)
		if err != nil {
			return err
		}
		parentInfo, err := c.BlockInfo(topIndex)
		if err != nil {
			return err
		}

		penalizeFee := block.Header.MajorVersion >= currency.BlockMajorVersion2
		_, emissionChange, err := c.currency.BlockReward(medianUint64(sizes), blockSize,
			parentInfo.AlreadyGeneratedCoins, totalFee, penalizeFee)
		if err != nil {
			return err
		}
		generatedCoins = emissionChange
	}

	return c.PushBlock(&block, transactions, PushedBlockInfo{
		RawBlock:        rawBlock,
		SpentKeyImages:  spentKeyImages,
		BlockSize:       blockSize,
		GeneratedCoins:  generatedCoins,
		BlockDifficulty: difficulty,
		Timestamp:       block.Header.Timestamp,
	})
}
