package core

import (
	"bytes"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/amjuarez/bytecoin-sub001/blockchain"
	"github.com/amjuarez/bytecoin-sub001/crypto"
	"github.com/amjuarez/bytecoin-sub001/currency"
	"github.com/amjuarez/bytecoin-sub001/database"
	"github.com/amjuarez/bytecoin-sub001/mempool"
	"github.com/amjuarez/bytecoin-sub001/wire"
)

// maxBlocksPerQuery caps how many items one QueryBlocks response carries.
const maxBlocksPerQuery = 200

// HandleResult is the outcome of delivering a block or transaction blob.
type HandleResult int

// Delivery outcomes.
const (
	// ResultAdded means the item was accepted and is reflected in
	// subsequent queries.
	ResultAdded HandleResult = iota

	// ResultAlreadyExists means the item was a duplicate; not an error
	// for the pipeline.
	ResultAlreadyExists

	// ResultRejected means the item failed validation; the returned
	// error carries the reason and the delivering peer should be
	// penalized.
	ResultRejected
)

// Config holds the collaborators a Core composes.
type Config struct {
	Currency    *currency.Currency
	DB          database.Database
	RingChecker crypto.RingSignatureChecker
	Clock       blockchain.Clock
}

// Core is the single entry point the outside world talks to: it composes the
// cache, chain manager, transaction pool and upgrade detector, and
// serializes every operation the way the original daemon's dispatcher
// thread did.
type Core struct {
	mtx sync.Mutex

	currency *currency.Currency
	cache    *blockchain.Cache
	chain    *blockchain.Chain
	pool     *mempool.TxPool
	clock    blockchain.Clock
}

// chainView adapts the not-yet-constructed chain for the pool. All calls
// happen under the core mutex, after New completes.
type chainView struct {
	core *Core
}

func (v chainView) CheckTransactionInputs(tx *wire.MsgTx, uptoBlockIndex uint32) (uint32, error) {
	return v.core.chain.CheckTransactionInputs(tx, uptoBlockIndex)
}

func (v chainView) TopBlockIndex() (uint32, error) {
	return v.core.chain.TopBlockIndex()
}

func (v chainView) TopBlockHash() (crypto.Hash, error) {
	return v.core.chain.TopBlockHash()
}

// New assembles a core over an opened database.
func New(cfg Config) (*Core, error) {
	cache, err := blockchain.NewCache(cfg.Currency, cfg.DB)
	if err != nil {
		return nil, err
	}

	c := &Core{
		currency: cfg.Currency,
		cache:    cache,
	}

	clock := cfg.Clock
	if clock == nil {
		clock = blockchain.RealClock()
	}
	c.clock = clock

	c.pool = mempool.New(mempool.Config{
		Currency: cfg.Currency,
		Chain:    chainView{core: c},
		Clock:    clock,
	})

	c.chain, err = blockchain.NewChain(cfg.Currency, cache, c.pool, cfg.RingChecker, clock)
	if err != nil {
		return nil, err
	}

	return c, nil
}

// HandleIncomingBlock parses and processes a block blob delivered by a peer
// or a miner.
func (c *Core) HandleIncomingBlock(blob []byte) (HandleResult, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	var block wire.MsgBlock
	if err := block.Deserialize(bytes.NewReader(blob)); err != nil {
		return ResultRejected, blockchain.RuleError{
			ErrorCode:   blockchain.ErrParseFailure,
			Description: "block blob failed deserialization: " + err.Error(),
		}
	}

	status, err := c.chain.ProcessBlock(&block, blob)
	switch status {
	case blockchain.BlockAlreadyExists:
		return ResultAlreadyExists, nil
	case blockchain.BlockAdded, blockchain.BlockAddedToAlternative:
		return ResultAdded, nil
	}
	return ResultRejected, err
}

// HandleIncomingTx parses a transaction blob and admits it into the pool.
func (c *Core) HandleIncomingTx(blob []byte, keptByBlock bool) (HandleResult, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(blob)); err != nil {
		return ResultRejected, blockchain.RuleError{
			ErrorCode:   blockchain.ErrParseFailure,
			Description: "transaction blob failed deserialization: " + err.Error(),
		}
	}

	if c.pool.HaveTransaction(tx.TxHash()) {
		return ResultAlreadyExists, nil
	}
	onChain, err := c.cache.HasTransaction(tx.TxHash())
	if err != nil {
		return ResultRejected, err
	}
	if onChain {
		return ResultAlreadyExists, nil
	}

	if err := c.pool.AddTransaction(&tx, keptByBlock); err != nil {
		return ResultRejected, err
	}
	return ResultAdded, nil
}

// BlockTemplateResult carries the assembled template and its mining
// parameters.
type BlockTemplateResult struct {
	Block      *wire.MsgBlock
	Difficulty uint64
	Height     uint32
}

// GetBlockTemplate assembles a block template paying the given miner key,
// filled with pool transactions in fee density order.
func (c *Core) GetBlockTemplate(minerKey crypto.PublicKey, extraNonce []byte) (*BlockTemplateResult, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	topIndex, err := c.cache.TopBlockIndex()
	if err != nil {
		return nil, err
	}
	topHash, err := c.cache.TopBlockHash()
	if err != nil {
		return nil, err
	}
	newIndex := topIndex + 1

	difficulty, err := c.chain.NextBlockDifficulty()
	if err != nil {
		return nil, err
	}

	medianSize, err := c.medianBlockSize(topIndex)
	if err != nil {
		return nil, err
	}

	template, err := c.pool.FillBlockTemplate(medianSize,
		c.currency.MaxBlockCumulativeSize(uint64(newIndex)))
	if err != nil {
		return nil, err
	}

	parentInfo, err := c.cache.BlockInfo(topIndex)
	if err != nil {
		return nil, err
	}

	majorVersion := c.chain.UpgradeDetector().BlockMajorVersionForHeight(newIndex)
	penalizeFee := majorVersion >= currency.BlockMajorVersion2

	// The coinbase size feeds back into the reward penalty; one
	// construction pass with the template's sizes is enough because the
	// coinbase size is stable across the reward values seen here.
	coinbase, err := c.constructCoinbase(newIndex, medianSize, template.TotalSize(),
		parentInfo.AlreadyGeneratedCoins, template.TotalFee(), penalizeFee, minerKey, extraNonce)
	if err != nil {
		return nil, err
	}

	txHashes := make([]crypto.Hash, 0, len(template.Transactions()))
	for _, desc := range template.Transactions() {
		txHashes = append(txHashes, desc.Hash)
	}

	block := &wire.MsgBlock{
		Header: wire.BlockHeader{
			MajorVersion: majorVersion,
			MinorVersion: currency.BlockMinorVersion0,
			Timestamp:    uint64(c.clockNow()),
			PrevBlock:    topHash,
		},
		CoinbaseTx: *coinbase,
		TxHashes:   txHashes,
	}

	return &BlockTemplateResult{
		Block:      block,
		Difficulty: difficulty,
		Height:     newIndex,
	}, nil
}

// constructCoinbase builds the miner transaction of a template: the reward
// decomposed into power-of-ten denominations paid to the miner key.
func (c *Core) constructCoinbase(blockIndex uint32, medianSize, txsSize, alreadyGeneratedCoins,
	fee uint64, penalizeFee bool, minerKey crypto.PublicKey, extraNonce []byte) (*wire.MsgTx, error) {

	// Account for the coinbase's own reserved size in the reward
	// computation, mirroring template assembly on the original daemon.
	currentBlockSize := txsSize + c.currency.CoinbaseBlobReservedSize
	reward, _, err := c.currency.BlockReward(medianSize, currentBlockSize,
		alreadyGeneratedCoins, fee, penalizeFee)
	if err != nil {
		return nil, err
	}

	var outAmounts []uint64
	currency.DecomposeAmount(reward, c.currency.DustThreshold,
		func(chunk uint64) { outAmounts = append(outAmounts, chunk) },
		func(dust uint64) { outAmounts = append(outAmounts, dust) })

	outputs := make([]wire.TxOutput, 0, len(outAmounts))
	for _, amount := range outAmounts {
		outputs = append(outputs, wire.TxOutput{
			Amount: amount,
			Target: &wire.KeyOutput{Key: minerKey},
		})
	}

	extra := wire.AppendPubKeyToExtra(nil, minerKey)
	if len(extraNonce) > 0 {
		if extra, err = wire.AppendNonceToExtra(extra, extraNonce); err != nil {
			return nil, err
		}
	}

	return &wire.MsgTx{
		Version:    wire.CurrentTxVersion,
		UnlockTime: uint64(blockIndex) + uint64(c.currency.MinedMoneyUnlockWindow),
		Inputs:     []wire.TxInput{&wire.CoinbaseInput{BlockIndex: blockIndex}},
		Outputs:    outputs,
		Extra:      extra,
		Signatures: [][]crypto.Signature{nil},
	}, nil
}

// QueryItem is one element of a QueryBlocks response: a bare hash before the
// full-blob offset, a full raw block at or after it.
type QueryItem struct {
	BlockHash crypto.Hash
	RawBlock  *wire.RawBlock
}

// QueryBlocksResult is the response shape of QueryBlocks.
type QueryBlocksResult struct {
	StartHeight    uint32
	CurrentHeight  uint32
	FullBlobOffset uint32
	Items          []QueryItem
}

// QueryBlocks serves chain catch-up: knownHashes is the caller's sparse
// chain view, newest first; the response walks forward from the highest
// known main-chain block, carrying bare hashes until sinceTimestamp is
// reached and full blocks after.
func (c *Core) QueryBlocks(knownHashes []crypto.Hash, sinceTimestamp uint64) (*QueryBlocksResult, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	topIndex, err := c.cache.TopBlockIndex()
	if err != nil {
		return nil, err
	}

	startHeight, err := c.findSplitPoint(knownHashes)
	if err != nil {
		return nil, err
	}

	fullOffset, err := c.cache.TimestampLowerBoundBlockIndex(sinceTimestamp)
	if err != nil {
		return nil, err
	}
	if fullOffset < startHeight {
		fullOffset = startHeight
	}

	result := &QueryBlocksResult{
		StartHeight:    startHeight,
		CurrentHeight:  topIndex + 1,
		FullBlobOffset: fullOffset,
	}

	count := 0
	for blockIndex := startHeight; blockIndex <= topIndex && count < maxBlocksPerQuery; blockIndex, count = blockIndex+1, count+1 {
		blockHash, err := c.cache.BlockHash(blockIndex)
		if err != nil {
			return nil, err
		}

		item := QueryItem{BlockHash: blockHash}
		if blockIndex >= fullOffset {
			rawBlock, err := c.cache.RawBlock(blockIndex)
			if err != nil {
				return nil, err
			}
			item.RawBlock = &rawBlock
		}
		result.Items = append(result.Items, item)
	}

	return result, nil
}

// findSplitPoint locates the highest caller-known block still on the main
// chain. Callers always share genesis.
func (c *Core) findSplitPoint(knownHashes []crypto.Hash) (uint32, error) {
	for _, hash := range knownHashes {
		index, err := c.cache.BlockIndex(hash)
		if err != nil {
			if database.IsNotFoundError(err) {
				continue
			}
			return 0, err
		}
		return index, nil
	}
	return 0, nil
}

// RandomAmountOutputs is the response entry of GetRandomOutsForAmounts.
type RandomAmountOutputs struct {
	Amount        uint64
	GlobalIndexes []uint32
	Keys          []crypto.PublicKey
}

// GetRandomOutsForAmounts draws ring decoy candidates for each requested
// amount: unlocked outputs outside the mined-money unlock window, without
// replacement. An amount with a short supply yields fewer entries.
func (c *Core) GetRandomOutsForAmounts(amounts []uint64, count int) ([]RandomAmountOutputs, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	topIndex, err := c.cache.TopBlockIndex()
	if err != nil {
		return nil, err
	}
	now := uint64(c.clockNow())

	results := make([]RandomAmountOutputs, 0, len(amounts))
	for _, amount := range amounts {
		globalIndexes, err := c.cache.RandomUnlockedOutputs(amount, count, topIndex, now)
		if err != nil {
			return nil, err
		}

		status, keys, err := c.cache.ExtractKeyOutputKeys(amount, globalIndexes, topIndex, now)
		if err != nil {
			return nil, err
		}
		if status != blockchain.ExtractOutputKeysSuccess {
			return nil, errors.Errorf("randomly drawn outputs failed extraction for amount %d", amount)
		}

		results = append(results, RandomAmountOutputs{
			Amount:        amount,
			GlobalIndexes: globalIndexes,
			Keys:          keys,
		})
	}
	return results, nil
}

// GetTransactionGlobalIndexes returns the global output indexes assigned to
// a main-chain transaction.
func (c *Core) GetTransactionGlobalIndexes(txHash crypto.Hash) ([]uint32, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.cache.TransactionGlobalIndexes(txHash)
}

// PoolDelta describes how the pool diverged from a caller's known view.
type PoolDelta struct {
	IsTipCurrent  bool
	NewTxs        []*wire.MsgTx
	RemovedHashes []crypto.Hash
}

// GetPoolDelta reconciles a caller's pool view: transactions it has not
// seen, and hashes it knows that are gone. IsTipCurrent reports whether the
// caller's chain tip is still ours.
func (c *Core) GetPoolDelta(knownPoolHashes []crypto.Hash, knownTip crypto.Hash) (*PoolDelta, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	topHash, err := c.cache.TopBlockHash()
	if err != nil {
		return nil, err
	}

	newDescs, removed := c.pool.GetDifference(knownPoolHashes)
	delta := &PoolDelta{
		IsTipCurrent:  topHash == knownTip,
		RemovedHashes: removed,
	}
	for _, desc := range newDescs {
		delta.NewTxs = append(delta.NewTxs, desc.Tx)
	}
	return delta, nil
}

// TopBlock returns the tip index and hash.
func (c *Core) TopBlock() (uint32, crypto.Hash, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	index, err := c.cache.TopBlockIndex()
	if err != nil {
		return 0, crypto.Hash{}, err
	}
	hash, err := c.cache.TopBlockHash()
	if err != nil {
		return 0, crypto.Hash{}, err
	}
	return index, hash, nil
}

// RemoveExpiredPoolTransactions runs the pool's lifetime sweep. The daemon
// schedules it periodically on the event loop.
func (c *Core) RemoveExpiredPoolTransactions() []crypto.Hash {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.pool.RemoveExpiredTransactions()
}

// Chain exposes the chain manager for test rigs; production callers stay on
// the facade.
func (c *Core) Chain() *blockchain.Chain {
	return c.chain
}

// Pool exposes the transaction pool for test rigs; production callers stay
// on the facade.
func (c *Core) Pool() *mempool.TxPool {
	return c.pool
}

func (c *Core) medianBlockSize(topIndex uint32) (uint64, error) {
	sizes, err := c.cache.LastBlockSizes(int(c.currency.RewardBlocksWindow), topIndex, true)
	if err != nil {
		return 0, err
	}
	if len(sizes) == 0 {
		return 0, nil
	}

	sorted := append([]uint64(nil), sizes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	if len(sorted)%2 == 1 {
		return sorted[len(sorted)/2], nil
	}
	return (sorted[len(sorted)/2-1] + sorted[len(sorted)/2]) / 2, nil
}

func (c *Core) clockNow() int64 {
	return c.clock.Now().Unix()
}
