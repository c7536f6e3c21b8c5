package blockchain

import (
	"time"

	"github.com/pkg/errors"

	"github.com/amjuarez/bytecoin-sub001/crypto"
	"github.com/amjuarez/bytecoin-sub001/currency"
	"github.com/amjuarez/bytecoin-sub001/database"
	"github.com/amjuarez/bytecoin-sub001/wire"
)

// Clock supplies wall-clock time. It is injected so validation can be tested
// against fixed times.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// RealClock returns the system clock.
func RealClock() Clock { return realClock{} }

// TxSource is the contract the chain manager requires of the transaction
// pool: blocks confirm transactions by taking them out of the pool, and
// reorganized-out transactions flow back in.
type TxSource interface {
	// TakeTransaction removes the transaction with the given hash from
	// the pool and returns it. The second return value reports whether
	// the pool held it.
	TakeTransaction(txHash crypto.Hash) (*wire.MsgTx, bool)

	// ReturnTransaction re-admits a transaction displaced by a reorg,
	// marked kept-by-block.
	ReturnTransaction(tx *wire.MsgTx)
}

// ProcessBlockStatus reports what became of a delivered block.
type ProcessBlockStatus int

// Process outcomes.
const (
	// BlockAdded means the block extended the main chain, either
	// directly or through a reorganization.
	BlockAdded ProcessBlockStatus = iota

	// BlockAlreadyExists means the block was a duplicate delivery.
	BlockAlreadyExists

	// BlockAddedToAlternative means the block was recorded on an
	// alternative chain that has not overtaken the main chain.
	BlockAddedToAlternative

	// BlockRejected means the block failed validation; the error carries
	// the reason.
	BlockRejected
)

// altBlockEntry tracks one block of an alternative chain.
type altBlockEntry struct {
	block                *wire.MsgBlock
	blockBlob            []byte
	blockIndex           uint32
	cumulativeDifficulty uint64
}

// Chain owns the mutation of the persistent main chain: appends, pops,
// alternative chain tracking, and reorganization onto the heaviest subchain.
//
// Chain methods are not safe for concurrent use; the core facade serializes
// access on its event loop.
type Chain struct {
	currency    *currency.Currency
	cache       *Cache
	upgrade     *UpgradeDetector
	pool        TxSource
	ringChecker crypto.RingSignatureChecker
	clock       Clock

	altBlocks map[crypto.Hash]*altBlockEntry
}

// NewChain assembles a chain manager over an opened cache. An empty cache is
// seeded with the currency's genesis block.
func NewChain(cur *currency.Currency, cache *Cache, pool TxSource,
	ringChecker crypto.RingSignatureChecker, clock Clock) (*Chain, error) {

	chain := &Chain{
		currency:    cur,
		cache:       cache,
		pool:        pool,
		ringChecker: ringChecker,
		clock:       clock,
		altBlocks:   make(map[crypto.Hash]*altBlockEntry),
	}

	empty, err := cache.Empty()
	if err != nil {
		return nil, err
	}
	if empty {
		log.Infof("storing genesis block %s", cur.GenesisHash())
		if err := chain.pushGenesis(); err != nil {
			return nil, err
		}
	}

	chain.upgrade, err = NewUpgradeDetector(cur, cache, currency.BlockMajorVersion2)
	if err != nil {
		return nil, err
	}

	return chain, nil
}

func (ch *Chain) pushGenesis() error {
	genesis := ch.currency.GenesisBlock()
	blob, err := genesis.Bytes()
	if err != nil {
		return err
	}

	return ch.cache.PushBlock(genesis, nil, PushedBlockInfo{
		RawBlock:        wire.RawBlock{Block: blob},
		BlockSize:       uint64(genesis.CoinbaseTx.SerializeSize()),
		GeneratedCoins:  genesis.CoinbaseTx.OutputAmount(),
		BlockDifficulty: 1,
		Timestamp:       genesis.Header.Timestamp,
	})
}

// Cache exposes the chain's query surface.
func (ch *Chain) Cache() *Cache {
	return ch.cache
}

// TopBlockIndex returns the index of the chain tip.
func (ch *Chain) TopBlockIndex() (uint32, error) {
	return ch.cache.TopBlockIndex()
}

// TopBlockHash returns the hash of the chain tip.
func (ch *Chain) TopBlockHash() (crypto.Hash, error) {
	return ch.cache.TopBlockHash()
}

// UpgradeDetector exposes the active protocol version tracker.
func (ch *Chain) UpgradeDetector() *UpgradeDetector {
	return ch.upgrade
}

// ProcessBlock is the main workhorse for handling insertion of new blocks
// into the chain. It rejects duplicates, routes blocks onto the main chain
// or an alternative chain, and triggers a reorganization when an alternative
// chain accumulates more work than the main chain.
func (ch *Chain) ProcessBlock(block *wire.MsgBlock, blockBlob []byte) (ProcessBlockStatus, error) {
	blockHash := block.BlockHash()
	log.Tracef("processing block %s", blockHash)

	// The block must not already exist on the main chain.
	onMain, err := ch.cache.HasBlock(blockHash)
	if err != nil {
		return BlockRejected, err
	}
	if onMain {
		return BlockAlreadyExists, nil
	}

	// The block must not already exist as an alternative block.
	if _, exists := ch.altBlocks[blockHash]; exists {
		return BlockAlreadyExists, nil
	}

	if err := ch.checkBlockSanity(block); err != nil {
		return BlockRejected, err
	}

	topHash, err := ch.cache.TopBlockHash()
	if err != nil {
		return BlockRejected, err
	}

	if block.Header.PrevBlock == topHash {
		if err := ch.appendToMain(block, blockBlob); err != nil {
			return BlockRejected, err
		}
		log.Debugf("accepted block %s", blockHash)
		return BlockAdded, nil
	}

	return ch.processAlternativeBlock(block, blockBlob)
}

// appendToMain validates a block against the current tip and pushes it.
// The block's non-coinbase transactions are taken from the pool; on any
// failure they are returned before the error surfaces.
func (ch *Chain) appendToMain(block *wire.MsgBlock, blockBlob []byte) error {
	topIndex, err := ch.cache.TopBlockIndex()
	if err != nil {
		return err
	}
	newIndex := topIndex + 1

	if err := ch.checkBlockVersion(block, newIndex); err != nil {
		return err
	}
	if err := ch.checkBlockTimestamp(block, topIndex); err != nil {
		return err
	}

	difficulty, err := ch.NextBlockDifficulty()
	if err != nil {
		return err
	}
	if err := ch.checkProofOfWork(block, newIndex, difficulty); err != nil {
		return err
	}

	// Take the block's transactions out of the pool. From here on every
	// failure path must hand them back.
	transactions := make([]*wire.MsgTx, 0, len(block.TxHashes))
	returnTaken := func() {
		for _, tx := range transactions {
			ch.pool.ReturnTransaction(tx)
		}
	}
	for _, txHash := range block.TxHashes {
		tx, ok := ch.pool.TakeTransaction(txHash)
		if !ok {
			returnTaken()
			return ruleError(ErrMissingPoolTx,
				"block references transaction "+txHash.String()+" not present in pool")
		}
		transactions = append(transactions, tx)
	}

	state, err := ch.validateBlockTransactions(block, transactions, newIndex)
	if err != nil {
		returnTaken()
		return err
	}

	blockSize := uint64(block.CoinbaseTx.SerializeSize())
	for _, tx := range transactions {
		blockSize += uint64(tx.SerializeSize())
	}

	if blockSize > ch.currency.MaxBlockCumulativeSize(uint64(newIndex)) {
		returnTaken()
		return ruleError(ErrOversizeBlock, "block exceeds the cumulative size limit")
	}

	medianSize, err := ch.medianBlockSize(topIndex)
	if err != nil {
		returnTaken()
		return err
	}

	parentInfo, err := ch.cache.BlockInfo(topIndex)
	if err != nil {
		returnTaken()
		return err
	}

	penalizeFee := block.Header.MajorVersion >= currency.BlockMajorVersion2
	reward, emissionChange, err := ch.currency.BlockReward(medianSize, blockSize,
		parentInfo.AlreadyGeneratedCoins, state.totalFee, penalizeFee)
	if err != nil {
		returnTaken()
		return ruleError(ErrOversizeBlock, err.Error())
	}

	if err := ch.validateCoinbase(block, newIndex, reward); err != nil {
		returnTaken()
		return err
	}

	txBlobs := make([][]byte, 0, len(transactions))
	for _, tx := range transactions {
		blob, blobErr := tx.Bytes()
		if blobErr != nil {
			returnTaken()
			return blobErr
		}
		txBlobs = append(txBlobs, blob)
	}

	err = ch.cache.PushBlock(block, transactions, PushedBlockInfo{
		RawBlock:        wire.RawBlock{Block: blockBlob, Transactions: txBlobs},
		SpentKeyImages:  state.spentKeyImages,
		BlockSize:       blockSize,
		GeneratedCoins:  emissionChange,
		BlockDifficulty: difficulty,
		Timestamp:       block.Header.Timestamp,
	})
	if err != nil {
		returnTaken()
		if IsInvariantError(err) {
			ch.cache.markBroken()
		}
		return err
	}

	ch.upgrade.BlockPushed(block.Header.MajorVersion, block.Header.MinorVersion)
	return nil
}

// NextBlockDifficulty computes the difficulty required of the next main
// chain block.
func (ch *Chain) NextBlockDifficulty() (uint64, error) {
	topIndex, err := ch.cache.TopBlockIndex()
	if err != nil {
		return 0, err
	}

	window := ch.currency.DifficultyWindow + ch.currency.DifficultyLag
	timestamps, err := ch.cache.LastTimestamps(window, topIndex, true)
	if err != nil {
		return 0, err
	}
	difficulties, err := ch.cache.LastCumulativeDifficulties(window, topIndex, true)
	if err != nil {
		return 0, err
	}

	version := ch.upgrade.BlockMajorVersionForHeight(topIndex + 1)
	difficulty := ch.currency.NextDifficulty(version, timestamps, difficulties)
	if difficulty == 0 {
		return 0, invariantError("next difficulty overflowed")
	}
	return difficulty, nil
}

// processAlternativeBlock records a block whose parent is not the current
// tip and reorganizes when its chain becomes the heaviest.
func (ch *Chain) processAlternativeBlock(block *wire.MsgBlock, blockBlob []byte) (ProcessBlockStatus, error) {
	blockHash := block.BlockHash()

	parentIndex, parentCumulativeDifficulty, err := ch.lookupAltParent(block.Header.PrevBlock)
	if err != nil {
		return BlockRejected, err
	}

	blockIndex := parentIndex + 1

	// Checkpointed history can never be reorganized out.
	if blockIndex <= ch.currency.HighestCheckpointIndex() {
		if checkpointHash, ok := ch.currency.CheckpointAt(blockIndex); !ok || checkpointHash != blockHash {
			return BlockRejected, ruleError(ErrCheckpointMismatch,
				"alternative block conflicts with a checkpoint")
		}
	}

	if err := ch.checkBlockVersion(block, blockIndex); err != nil {
		return BlockRejected, err
	}

	difficulty, err := ch.altChainDifficulty(block.Header.PrevBlock, parentIndex)
	if err != nil {
		return BlockRejected, err
	}
	if err := ch.checkProofOfWork(block, blockIndex, difficulty); err != nil {
		return BlockRejected, err
	}

	entry := &altBlockEntry{
		block:                block,
		blockBlob:            blockBlob,
		blockIndex:           blockIndex,
		cumulativeDifficulty: parentCumulativeDifficulty + difficulty,
	}
	ch.altBlocks[blockHash] = entry

	topIndex, err := ch.cache.TopBlockIndex()
	if err != nil {
		return BlockRejected, err
	}
	topInfo, err := ch.cache.BlockInfo(topIndex)
	if err != nil {
		return BlockRejected, err
	}

	if entry.cumulativeDifficulty > topInfo.CumulativeDifficulty {
		log.Infof("alternative chain tip %s (index %d, cumulative difficulty %d) "+
			"is heavier than the main chain, reorganizing",
			blockHash, blockIndex, entry.cumulativeDifficulty)
		if err := ch.reorganize(blockHash); err != nil {
			delete(ch.altBlocks, blockHash)
			return BlockRejected, err
		}
		return BlockAdded, nil
	}

	log.Infof("added alternative block %s at index %d", blockHash, blockIndex)
	return BlockAddedToAlternative, nil
}

// lookupAltParent resolves a prospective alternative block's parent to its
// index and cumulative difficulty, on either the main chain or the alt map.
func (ch *Chain) lookupAltParent(parentHash crypto.Hash) (uint32, uint64, error) {
	if entry, ok := ch.altBlocks[parentHash]; ok {
		return entry.blockIndex, entry.cumulativeDifficulty, nil
	}

	parentIndex, err := ch.cache.BlockIndex(parentHash)
	if err != nil {
		if database.IsNotFoundError(err) {
			return 0, 0, ruleError(ErrMissingParent,
				"previous block "+parentHash.String()+" is unknown")
		}
		return 0, 0, err
	}

	parentInfo, err := ch.cache.BlockInfo(parentIndex)
	if err != nil {
		return 0, 0, err
	}
	return parentIndex, parentInfo.CumulativeDifficulty, nil
}

// altChainDifficulty computes the required difficulty for the block
// extending the given alternative parent, mixing alt entries above the fork
// with main-chain history below it.
func (ch *Chain) altChainDifficulty(parentHash crypto.Hash, parentIndex uint32) (uint64, error) {
	window := ch.currency.DifficultyWindow + ch.currency.DifficultyLag

	// Gather the alt-chain suffix, newest first.
	var altTimestamps, altDifficulties []uint64
	hash := parentHash
	forkIndex := parentIndex
	for {
		entry, ok := ch.altBlocks[hash]
		if !ok {
			break
		}
		altTimestamps = append(altTimestamps, entry.block.Header.Timestamp)
		altDifficulties = append(altDifficulties, entry.cumulativeDifficulty)
		hash = entry.block.Header.PrevBlock
		forkIndex = entry.blockIndex - 1
		if len(altTimestamps) >= window {
			break
		}
	}

	timestamps := make([]uint64, 0, window)
	difficulties := make([]uint64, 0, window)

	if len(altTimestamps) < window {
		mainCount := window - len(altTimestamps)
		mainTimestamps, err := ch.cache.LastTimestamps(mainCount, forkIndex, true)
		if err != nil {
			return 0, err
		}
		mainDifficulties, err := ch.cache.LastCumulativeDifficulties(mainCount, forkIndex, true)
		if err != nil {
			return 0, err
		}
		timestamps = append(timestamps, mainTimestamps...)
		difficulties = append(difficulties, mainDifficulties...)
	}

	// Reverse the alt suffix into oldest-first order.
	for i := len(altTimestamps) - 1; i >= 0; i-- {
		timestamps = append(timestamps, altTimestamps[i])
		difficulties = append(difficulties, altDifficulties[i])
	}

	version := ch.upgrade.BlockMajorVersionForHeight(parentIndex + 1)
	difficulty := ch.currency.NextDifficulty(version, timestamps, difficulties)
	if difficulty == 0 {
		return 0, invariantError("alternative chain difficulty overflowed")
	}
	return difficulty, nil
}

// reorganize switches the main chain to the alternative chain ending at
// altTip. The displaced main-chain suffix becomes the new alternative
// chain; its transactions return to the pool. A mid-switch failure restores
// the original chain and discards the alt tip.
func (ch *Chain) reorganize(altTip crypto.Hash) error {
	// Walk the alternative chain back to its fork point.
	var altChain []*altBlockEntry
	hash := altTip
	for {
		entry, ok := ch.altBlocks[hash]
		if !ok {
			break
		}
		altChain = append([]*altBlockEntry{entry}, altChain...)
		hash = entry.block.Header.PrevBlock
	}
	if len(altChain) == 0 {
		return invariantError("reorganize called with unknown alternative tip %s", altTip)
	}

	forkIndex := altChain[0].blockIndex - 1
	if forkIndex+1 <= ch.currency.HighestCheckpointIndex() {
		return ruleError(ErrCheckpointMismatch,
			"reorganization would rewind checkpointed history")
	}

	log.Infof("reorganizing: fork index %d, %d alternative blocks", forkIndex, len(altChain))

	segment, err := ch.cache.Split(forkIndex + 1)
	if err != nil {
		return err
	}
	for range segment.Blocks {
		ch.upgrade.BlockPopped()
	}

	// Give the displaced transactions back to the pool so the alt blocks
	// (and future templates) can use them.
	displaced, err := ch.parseSegmentBlocks(segment)
	if err != nil {
		ch.cache.markBroken()
		return err
	}
	for _, parsed := range displaced {
		for _, tx := range parsed.transactions {
			ch.pool.ReturnTransaction(tx)
		}
	}

	applyFailed := error(nil)
	applied := 0
	for _, entry := range altChain {
		if err := ch.appendToMain(entry.block, entry.blockBlob); err != nil {
			applyFailed = err
			break
		}
		applied++
	}

	if applyFailed != nil {
		log.Warnf("reorganization failed after %d blocks: %s; restoring original chain",
			applied, applyFailed)
		if err := ch.restoreSegment(forkIndex, applied, displaced); err != nil {
			ch.cache.markBroken()
			return err
		}
		delete(ch.altBlocks, altTip)
		return applyFailed
	}

	// The switch succeeded: applied alt entries leave the alt map and the
	// displaced main blocks join it.
	for _, entry := range altChain {
		delete(ch.altBlocks, entry.block.BlockHash())
	}
	for _, parsed := range displaced {
		ch.altBlocks[parsed.block.BlockHash()] = &altBlockEntry{
			block:                parsed.block,
			blockBlob:            parsed.info.RawBlock.Block,
			blockIndex:           parsed.blockIndex,
			cumulativeDifficulty: parsed.cumulativeDifficulty,
		}
	}

	log.Infof("reorganization complete, new top %s", altTip)
	return nil
}

// parsedSegmentBlock is a displaced main-chain block re-parsed from its raw
// records.
type parsedSegmentBlock struct {
	block                *wire.MsgBlock
	transactions         []*wire.MsgTx
	blockIndex           uint32
	cumulativeDifficulty uint64
	info                 PushedBlockInfo
}

func (ch *Chain) parseSegmentBlocks(segment *DetachedSegment) ([]parsedSegmentBlock, error) {
	parsed := make([]parsedSegmentBlock, 0, len(segment.Blocks))

	cumulativeDifficulty := uint64(0)
	if segment.StartIndex > 0 {
		parentInfo, err := ch.cache.BlockInfo(segment.StartIndex - 1)
		if err != nil {
			return nil, err
		}
		cumulativeDifficulty = parentInfo.CumulativeDifficulty
	}

	for i, pushedInfo := range segment.Blocks {
		var block wire.MsgBlock
		if err := deserializeBlock(&block, pushedInfo.RawBlock.Block); err != nil {
			return nil, err
		}

		transactions := make([]*wire.MsgTx, 0, len(pushedInfo.RawBlock.Transactions))
		for _, blob := range pushedInfo.RawBlock.Transactions {
			var tx wire.MsgTx
			if err := deserializeTx(&tx, blob); err != nil {
				return nil, err
			}
			transactions = append(transactions, &tx)
		}

		cumulativeDifficulty += pushedInfo.BlockDifficulty
		parsed = append(parsed, parsedSegmentBlock{
			block:                &block,
			transactions:         transactions,
			blockIndex:           segment.StartIndex + uint32(i),
			cumulativeDifficulty: cumulativeDifficulty,
			info:                 pushedInfo,
		})
	}
	return parsed, nil
}

// restoreSegment rolls back a failed reorganization: the partially applied
// alternative blocks are split off again and the original blocks re-pushed
// from their detached copies.
func (ch *Chain) restoreSegment(forkIndex uint32, appliedCount int, displaced []parsedSegmentBlock) error {
	if appliedCount > 0 {
		segment, err := ch.cache.Split(forkIndex + 1)
		if err != nil {
			return err
		}
		for i := 0; i < appliedCount; i++ {
			ch.upgrade.BlockPopped()
		}

		// Hand the partially applied alternative transactions back to
		// the pool; the displaced blocks may need them again below.
		reSplit, err := ch.parseSegmentBlocks(segment)
		if err != nil {
			return err
		}
		for _, parsed := range reSplit {
			for _, tx := range parsed.transactions {
				ch.pool.ReturnTransaction(tx)
			}
		}
	}

	for _, parsed := range displaced {
		// Reclaim the transactions handed to the pool during the
		// attempt.
		for _, txHash := range parsed.block.TxHashes {
			if _, ok := ch.pool.TakeTransaction(txHash); !ok {
				return invariantError("restore: transaction %s vanished from pool", txHash)
			}
		}
		if err := ch.cache.PushBlock(parsed.block, parsed.transactions, parsed.info); err != nil {
			return err
		}
		ch.upgrade.BlockPushed(parsed.block.Header.MajorVersion, parsed.block.Header.MinorVersion)
	}
	return nil
}

// PopBlock removes the top block from the main chain and returns its
// non-coinbase transactions to the pool.
func (ch *Chain) PopBlock() error {
	topIndex, err := ch.cache.TopBlockIndex()
	if err != nil {
		return err
	}
	if topIndex == 0 {
		return errors.New("cannot pop the genesis block")
	}

	segment, err := ch.cache.Split(topIndex)
	if err != nil {
		return err
	}
	ch.upgrade.BlockPopped()

	parsed, err := ch.parseSegmentBlocks(segment)
	if err != nil {
		ch.cache.markBroken()
		return err
	}
	for _, block := range parsed {
		for _, tx := range block.transactions {
			ch.pool.ReturnTransaction(tx)
		}
	}
	return nil
}
