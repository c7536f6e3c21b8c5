package blockchain

import (
	"github.com/pkg/errors"

	"github.com/amjuarez/bytecoin-sub001/crypto"
	"github.com/amjuarez/bytecoin-sub001/currency"
	"github.com/amjuarez/bytecoin-sub001/database"
	"github.com/amjuarez/bytecoin-sub001/wire"
)

const (
	// unitsCacheSize bounds the in-memory window of recent block infos.
	unitsCacheSize = 1000

	// dbReadChunkSize is how many block infos one read batch requests
	// when walking backwards through history.
	dbReadChunkSize = 200

	// secondsInDay is the width of the closest-timestamp index buckets.
	secondsInDay = 24 * 60 * 60
)

// PushedBlockInfo carries everything needed to re-apply a block to another
// cache segment: the raw block, the key images it spent, and its standalone
// size, coins, and difficulty deltas.
type PushedBlockInfo struct {
	RawBlock        wire.RawBlock
	SpentKeyImages  []crypto.KeyImage
	BlockSize       uint64
	GeneratedCoins  uint64
	BlockDifficulty uint64
	Timestamp       uint64
}

// Cache is the persistent blockchain cache: every index of the schema layered
// over one KV store, together with the bounded in-memory caches that keep the
// hot paths off disk. All mutations flow through write batches so a crash
// can never leave the indexes half-updated.
//
// Cache methods are not safe for concurrent use; the chain manager serializes
// access.
type Cache struct {
	currency *currency.Currency
	db       database.Database

	// Lazily loaded scalars; nil means not yet read from the store.
	topBlockIndex         *uint32
	topBlockHash          *crypto.Hash
	transactionsCount     *uint64
	keyOutputAmountsCount *uint32

	// keyOutputCounts caches the dense output count per amount. Values
	// are signed so split can rewind them with negative deltas.
	keyOutputCounts map[uint64]int64

	// unitsCache is the sliding window of the newest block infos.
	unitsCache []CachedBlockInfo

	// broken is latched when an invariant violation surfaces; every
	// further mutation is refused.
	broken bool
}

// NewCache opens the cache over the given store. A missing schema version
// record is written as the current version; a lower version triggers an
// index rebuild from the raw block records; a higher version refuses to
// open.
func NewCache(cur *currency.Currency, db database.Database) (*Cache, error) {
	c := &Cache{
		currency:        cur,
		db:              db,
		keyOutputCounts: make(map[uint64]int64),
	}

	rebuild, err := c.checkSchemeVersion()
	if err != nil {
		return nil, err
	}
	if rebuild {
		if err := c.rebuildIndexes(); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func (c *Cache) checkSchemeVersion() (rebuild bool, err error) {
	result, err := c.readDatabase(NewReadBatch().RequestSchemeVersion())
	if err != nil {
		return false, err
	}

	if !result.SchemeVersion.Present {
		log.Debugf("DB scheme version not found, writing %d", currentDBSchemeVersion)
		batch := NewWriteBatch()
		if err := batch.InsertSchemeVersion(currentDBSchemeVersion); err != nil {
			return false, err
		}
		return false, c.commit(batch)
	}

	switch version := result.SchemeVersion.Value; {
	case version < currentDBSchemeVersion:
		log.Warnf("DB scheme version %d is older than expected %d, "+
			"rebuilding indexes from raw blocks", version, currentDBSchemeVersion)
		return true, nil
	case version > currentDBSchemeVersion:
		return false, errors.Errorf("DB scheme version %d is newer than expected %d, "+
			"please update your software", version, currentDBSchemeVersion)
	}
	return false, nil
}

// readDatabase fills a read batch from the store and extracts its typed
// result.
func (c *Cache) readDatabase(batch *ReadBatch) (*ReadResult, error) {
	values, found, err := c.db.GetMulti(batch.RawKeys())
	if err != nil {
		return nil, errors.Wrap(err, "database read failed")
	}
	if err := batch.SubmitRawResult(values, found); err != nil {
		return nil, err
	}
	return batch.ExtractResult()
}

// commit extracts a write batch and applies it to the store atomically.
func (c *Cache) commit(batch *WriteBatch) error {
	if c.broken {
		return invariantError("cache is latched broken, refusing writes")
	}

	toInsert, toRemove := batch.Extract()
	if err := c.db.Write(toInsert, toRemove); err != nil {
		return errors.Wrap(err, "batch commit failed")
	}
	return nil
}

// Empty returns whether the cache holds no blocks at all, genesis included.
func (c *Cache) Empty() (bool, error) {
	result, err := c.readDatabase(NewReadBatch().RequestLastBlockIndex())
	if err != nil {
		return false, err
	}
	return !result.LastBlockIndex.Present, nil
}

// TopBlockIndex returns the index of the chain tip.
func (c *Cache) TopBlockIndex() (uint32, error) {
	if c.topBlockIndex == nil {
		result, err := c.readDatabase(NewReadBatch().RequestLastBlockIndex())
		if err != nil {
			return 0, err
		}
		index := result.LastBlockIndex.Value
		c.topBlockIndex = &index
	}
	return *c.topBlockIndex, nil
}

// TopBlockHash returns the hash of the chain tip.
func (c *Cache) TopBlockHash() (crypto.Hash, error) {
	if c.topBlockHash == nil {
		topIndex, err := c.TopBlockIndex()
		if err != nil {
			return crypto.Hash{}, err
		}
		info, err := c.BlockInfo(topIndex)
		if err != nil {
			return crypto.Hash{}, err
		}
		hash := info.BlockHash
		c.topBlockHash = &hash
	}
	return *c.topBlockHash, nil
}

// TransactionsCount returns the total number of transactions on the main
// chain.
func (c *Cache) TransactionsCount() (uint64, error) {
	if c.transactionsCount == nil {
		result, err := c.readDatabase(NewReadBatch().RequestTransactionsCount())
		if err != nil {
			return 0, err
		}
		count := result.TransactionsCount.Value
		c.transactionsCount = &count
	}
	return *c.transactionsCount, nil
}

// keyAmountsCount returns the size of the key output amount enumeration.
func (c *Cache) keyAmountsCount() (uint32, error) {
	if c.keyOutputAmountsCount == nil {
		result, err := c.readDatabase(NewReadBatch().RequestKeyOutputAmountsCount())
		if err != nil {
			return 0, err
		}
		count := result.KeyOutputAmountsCount.Value
		c.keyOutputAmountsCount = &count
	}
	return *c.keyOutputAmountsCount, nil
}

// updateKeyOutputCount applies a signed delta to an amount's dense output
// count, faulting the current value in from the store on first touch, and
// returns the new count. A first output for an amount also grows the amount
// enumeration counter; the split path shrinks counts with negative deltas.
func (c *Cache) updateKeyOutputCount(amount uint64, diff int64) (uint32, error) {
	count, ok := c.keyOutputCounts[amount]
	if !ok {
		result, err := c.readDatabase(NewReadBatch().RequestKeyOutputCountForAmount(amount))
		if err != nil {
			return 0, err
		}
		count = int64(result.KeyOutputCounts[amount])
		c.keyOutputCounts[amount] = count
	}

	newCount := count + diff
	if newCount < 0 {
		return 0, invariantError("key output count for amount %d went negative", amount)
	}

	if count == 0 && newCount > 0 {
		// First output of this amount: the amount joins the
		// enumeration.
		if _, err := c.keyAmountsCount(); err != nil {
			return 0, err
		}
		*c.keyOutputAmountsCount++
	}

	c.keyOutputCounts[amount] = newCount
	return uint32(newCount), nil
}

// PushBlock appends a fully validated block to the top of the chain. All
// index updates are accumulated into one write batch; the in-memory caches
// are only touched after the commit succeeds.
func (c *Cache) PushBlock(block *wire.MsgBlock, transactions []*wire.MsgTx,
	info PushedBlockInfo) error {

	if err := c.pushBlock(block, transactions, info); err != nil {
		// Per-amount counters may have been bumped for a batch that
		// never committed.
		c.invalidateCaches()
		return err
	}
	return nil
}

func (c *Cache) pushBlock(block *wire.MsgBlock, transactions []*wire.MsgTx,
	info PushedBlockInfo) error {

	blockHash := block.BlockHash()
	log.Debugf("push block %s with %d transactions", blockHash, len(transactions)+1)

	topIndex, err := c.TopBlockIndex()
	if err != nil {
		return err
	}
	empty, err := c.Empty()
	if err != nil {
		return err
	}

	newIndex := topIndex + 1
	lastInfo := CachedBlockInfo{}
	if empty {
		newIndex = 0
	} else {
		lastInfo, err = c.BlockInfo(topIndex)
		if err != nil {
			return err
		}
	}

	blockInfo := CachedBlockInfo{
		BlockHash:                    blockHash,
		Timestamp:                    block.Header.Timestamp,
		CumulativeDifficulty:         lastInfo.CumulativeDifficulty + info.BlockDifficulty,
		AlreadyGeneratedCoins:        lastInfo.AlreadyGeneratedCoins + info.GeneratedCoins,
		AlreadyGeneratedTransactions: lastInfo.AlreadyGeneratedTransactions + uint64(len(transactions)) + 1,
		BlockSize:                    uint32(info.BlockSize),
	}

	batch := NewWriteBatch()
	if err := batch.InsertSpentKeyImages(newIndex, info.SpentKeyImages); err != nil {
		return err
	}

	// The coinbase hash leads the block's transaction hash list.
	blockTxs := make([]crypto.Hash, 0, len(block.TxHashes)+1)
	blockTxs = append(blockTxs, block.CoinbaseTx.TxHash())
	blockTxs = append(blockTxs, block.TxHashes...)

	if err := batch.InsertCachedBlock(blockInfo, newIndex, blockTxs); err != nil {
		return err
	}
	if err := batch.InsertRawBlock(newIndex, info.RawBlock); err != nil {
		return err
	}

	transactionIndex := uint16(0)
	if err := c.pushTransaction(&block.CoinbaseTx, newIndex, transactionIndex, batch); err != nil {
		return err
	}
	for _, tx := range transactions {
		transactionIndex++
		if err := c.pushTransaction(tx, newIndex, transactionIndex, batch); err != nil {
			return err
		}
	}

	// Record the first block of each calendar day for wall-clock catchup.
	midnight := roundToMidnight(block.Header.Timestamp)
	midnightResult, err := c.readDatabase(NewReadBatch().RequestClosestTimestampBlockIndex(midnight))
	if err != nil {
		return err
	}
	if _, exists := midnightResult.ClosestTimestamps[midnight]; !exists {
		if err := batch.InsertClosestTimestampBlockIndex(midnight, newIndex); err != nil {
			return err
		}
	}

	if err := c.insertBlockTimestamp(batch, block.Header.Timestamp, blockHash); err != nil {
		return err
	}

	if err := c.commit(batch); err != nil {
		return err
	}

	c.topBlockIndex = &newIndex
	c.topBlockHash = &blockHash

	c.unitsCache = append(c.unitsCache, blockInfo)
	if len(c.unitsCache) > unitsCacheSize {
		c.unitsCache = c.unitsCache[1:]
	}

	log.Debugf("push block %s completed, new top index %d", blockHash, newIndex)
	return nil
}

// pushTransaction adds one transaction's records to the batch: the extended
// info with freshly assigned global output indexes, the per-amount count
// bumps, key output infos, and the payment id entry if tagged.
func (c *Cache) pushTransaction(tx *wire.MsgTx, blockIndex uint32,
	transactionIndex uint16, batch *WriteBatch) error {

	txHash := tx.TxHash()
	info := ExtendedTransactionInfo{
		TransactionHash:    txHash,
		BlockIndex:         blockIndex,
		TransactionIndex:   transactionIndex,
		UnlockTime:         tx.UnlockTime,
		GlobalIndexes:      make([]uint32, 0, len(tx.Outputs)),
		AmountToKeyIndexes: make(map[uint64][]uint32),
	}

	keyIndexes := make(map[uint64][]PackedOutputReference)
	var newKeyAmounts []uint64

	for outputIndex, output := range tx.Outputs {
		ref := PackedOutputReference{
			BlockIndex:       blockIndex,
			TransactionIndex: transactionIndex,
			OutputIndex:      uint16(outputIndex),
		}

		switch target := output.Target.(type) {
		case *wire.KeyOutput:
			keyIndexes[output.Amount] = append(keyIndexes[output.Amount], ref)

			countForAmount, err := c.updateKeyOutputCount(output.Amount, 1)
			if err != nil {
				return err
			}
			if countForAmount == 1 {
				newKeyAmounts = append(newKeyAmounts, output.Amount)
			}

			globalIndex := countForAmount - 1
			info.GlobalIndexes = append(info.GlobalIndexes, globalIndex)
			info.AmountToKeyIndexes[output.Amount] = append(info.AmountToKeyIndexes[output.Amount], globalIndex)

			err = batch.InsertKeyOutputInfo(output.Amount, globalIndex, KeyOutputInfo{
				PublicKey:       target.Key,
				TransactionHash: txHash,
				OutputIndex:     uint16(outputIndex),
				UnlockTime:      tx.UnlockTime,
			})
			if err != nil {
				return err
			}

		default:
			return invariantError("unhandled output variant %T in tx %s", output.Target, txHash)
		}
	}

	for amount, outputs := range keyIndexes {
		totalCount, err := c.updateKeyOutputCount(amount, 0)
		if err != nil {
			return err
		}
		if err := batch.InsertKeyOutputGlobalIndexes(amount, outputs, totalCount); err != nil {
			return err
		}
	}

	if len(newKeyAmounts) > 0 {
		amountsCount, err := c.keyAmountsCount()
		if err != nil {
			return err
		}
		if err := batch.InsertKeyOutputAmounts(newKeyAmounts, amountsCount); err != nil {
			return err
		}
	}

	if paymentID, ok := wire.PaymentIDFromExtra(tx.Extra); ok {
		if err := c.insertPaymentID(batch, txHash, paymentID); err != nil {
			return err
		}
	}

	txsCount, err := c.TransactionsCount()
	if err != nil {
		return err
	}
	if err := batch.InsertCachedTransaction(info, txsCount+1); err != nil {
		return err
	}
	*c.transactionsCount = txsCount + 1
	return nil
}

func (c *Cache) insertPaymentID(batch *WriteBatch, txHash crypto.Hash, paymentID crypto.Hash) error {
	result, err := c.readDatabase(NewReadBatch().RequestTransactionCountByPaymentID(paymentID))
	if err != nil {
		return err
	}
	count := result.TxCountsByPaymentID[paymentID]
	return batch.InsertPaymentID(txHash, paymentID, count+1)
}

func (c *Cache) insertBlockTimestamp(batch *WriteBatch, timestamp uint64, blockHash crypto.Hash) error {
	result, err := c.readDatabase(NewReadBatch().RequestBlockHashesByTimestamp(timestamp))
	if err != nil {
		return err
	}
	hashes := append(result.BlockHashesByTimestamp[timestamp], blockHash)
	return batch.InsertTimestamp(timestamp, hashes)
}

// invalidateCaches drops every in-memory cache. It is the last step of every
// mutation that cannot prove its caches still valid.
func (c *Cache) invalidateCaches() {
	c.topBlockIndex = nil
	c.topBlockHash = nil
	c.transactionsCount = nil
	c.keyOutputAmountsCount = nil
	c.keyOutputCounts = make(map[uint64]int64)
	c.unitsCache = nil
}

// markBroken latches the cache against further writes after an invariant
// violation.
func (c *Cache) markBroken() {
	c.broken = true
}

func roundToMidnight(timestamp uint64) uint64 {
	return timestamp - timestamp%secondsInDay
}
