// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/amjuarez/bytecoin-sub001/crypto"
	"github.com/amjuarez/bytecoin-sub001/wire"
)

// blockTxState accumulates the per-block facts transaction validation
// produces for the write batch.
type blockTxState struct {
	spentKeyImages []crypto.KeyImage
	totalFee       uint64
}

// CheckTransactionSanity performs the context-free checks every transaction
// must pass: supported variants only, at least one input, valid outputs, no
// amount overflow, and distinct key images.
func CheckTransactionSanity(tx *wire.MsgTx) error {
	if len(tx.Inputs) == 0 {
		return ruleError(ErrTxMalformed, "transaction has no inputs")
	}
	if len(tx.Signatures) != len(tx.Inputs) {
		return ruleError(ErrTxMalformed, "signature group count differs from input count")
	}

	seenKeyImages := make(map[crypto.KeyImage]struct{})
	var inputTotal uint64
	for i, input := range tx.Inputs {
		switch in := input.(type) {
		case *wire.CoinbaseInput:
			// Coinbase inputs only appear in coinbase transactions,
			// checked in block context.

		case *wire.KeyInput:
			if in.Amount == 0 {
				return ruleError(ErrTxMalformed, "key input with zero amount")
			}
			if len(in.OutputOffsets) == 0 {
				return ruleError(ErrTxMalformed, "key input with empty ring")
			}
			// The first offset is absolute; every later one must be
			// positive so the resolved global indexes strictly
			// increase.
			for j, offset := range in.OutputOffsets {
				if j > 0 && offset == 0 {
					return ruleError(ErrTxMalformed, "unsorted ring member offsets")
				}
			}
			if len(tx.Signatures[i]) != len(in.OutputOffsets) {
				return ruleError(ErrTxMalformed, fmt.Sprintf(
					"input %d carries %d signatures for a ring of %d",
					i, len(tx.Signatures[i]), len(in.OutputOffsets)))
			}
			if _, seen := seenKeyImages[in.KeyImage]; seen {
				return ruleError(ErrTxMalformed, "duplicate key image within transaction")
			}
			seenKeyImages[in.KeyImage] = struct{}{}

			if inputTotal+in.Amount < inputTotal {
				return ruleError(ErrTxMalformed, "input amounts overflow")
			}
			inputTotal += in.Amount

		default:
			return ruleError(ErrTxMalformed, fmt.Sprintf("unsupported input variant %T", input))
		}
	}

	var outputTotal uint64
	for _, output := range tx.Outputs {
		if output.Amount == 0 {
			return ruleError(ErrTxMalformed, "output with zero amount")
		}
		switch output.Target.(type) {
		case *wire.KeyOutput:
		default:
			return ruleError(ErrTxMalformed, fmt.Sprintf("unsupported output variant %T", output.Target))
		}
		if outputTotal+output.Amount < outputTotal {
			return ruleError(ErrTxMalformed, "output amounts overflow")
		}
		outputTotal += output.Amount
	}

	return nil
}

// checkBlockSanity performs the context-free block checks: a well-formed
// coinbase and no duplicated transaction hashes.
func (ch *Chain) checkBlockSanity(block *wire.MsgBlock) error {
	if !block.CoinbaseTx.IsCoinbase() {
		return ruleError(ErrCoinbaseMismatch,
			"first transaction is not a well-formed coinbase")
	}
	if len(block.CoinbaseTx.Extra) > int(ch.currency.CoinbaseBlobReservedSize) {
		return ruleError(ErrCoinbaseMismatch, "coinbase extra too large")
	}

	seen := make(map[crypto.Hash]struct{}, len(block.TxHashes))
	for _, txHash := range block.TxHashes {
		if _, ok := seen[txHash]; ok {
			return ruleError(ErrTxMalformed, "duplicate transaction hash in block")
		}
		seen[txHash] = struct{}{}
	}
	return nil
}

// checkBlockVersion verifies the header's major version against the upgrade
// detector's expectation for the block's height.
func (ch *Chain) checkBlockVersion(block *wire.MsgBlock, blockIndex uint32) error {
	expected := ch.upgrade.BlockMajorVersionForHeight(blockIndex)
	if block.Header.MajorVersion != expected {
		return ruleError(ErrBadVersion, fmt.Sprintf(
			"block major version %d, expected %d at index %d",
			block.Header.MajorVersion, expected, blockIndex))
	}
	return nil
}

// checkBlockTimestamp verifies the header timestamp against the median of
// the recent window and the future time limit.
func (ch *Chain) checkBlockTimestamp(block *wire.MsgBlock, topIndex uint32) error {
	limit := uint64(ch.clock.Now().Unix()) + ch.currency.BlockFutureTimeLimit
	if block.Header.Timestamp > limit {
		return ruleError(ErrBadTimestamp, fmt.Sprintf(
			"block timestamp %d is more than %d seconds in the future",
			block.Header.Timestamp, ch.currency.BlockFutureTimeLimit))
	}

	timestamps, err := ch.cache.LastTimestamps(ch.currency.TimestampCheckWindow, topIndex, true)
	if err != nil {
		return err
	}
	if block.Header.Timestamp < medianUint64(timestamps) {
		return ruleError(ErrBadTimestamp, fmt.Sprintf(
			"block timestamp %d is below the median of the last %d blocks",
			block.Header.Timestamp, len(timestamps)))
	}
	return nil
}

func medianUint64(timestamps []uint64) uint64 {
	if len(timestamps) == 0 {
		return 0
	}
	sorted := append([]uint64(nil), timestamps...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[len(sorted)/2]
}

// checkProofOfWork verifies the block's proof of work, or, at or below the
// highest checkpoint, substitutes the checkpoint hash comparison.
func (ch *Chain) checkProofOfWork(block *wire.MsgBlock, blockIndex uint32, difficulty uint64) error {
	if blockIndex <= ch.currency.HighestCheckpointIndex() {
		checkpointHash, ok := ch.currency.CheckpointAt(blockIndex)
		if ok {
			if block.BlockHash() != checkpointHash {
				return ruleError(ErrCheckpointMismatch, fmt.Sprintf(
					"block at checkpointed index %d does not match the checkpoint", blockIndex))
			}
		}
		// Below the highest checkpoint the expensive hash is skipped.
		return nil
	}

	powHash := crypto.PowHash(block.HashingBlob())
	if !crypto.CheckHashDifficulty(powHash, difficulty) {
		return ruleError(ErrBadProofOfWork, fmt.Sprintf(
			"proof of work does not meet difficulty %d", difficulty))
	}
	return nil
}

// validateCoinbase checks the coinbase of a prospective block: exactly one
// coinbase input carrying the new height, the mandated unlock time, and
// outputs summing to the block reward.
func (ch *Chain) validateCoinbase(block *wire.MsgBlock, blockIndex uint32, reward uint64) error {
	coinbase := &block.CoinbaseTx

	if len(coinbase.Inputs) != 1 {
		return ruleError(ErrCoinbaseMismatch, "coinbase must have exactly one input")
	}
	input, ok := coinbase.Inputs[0].(*wire.CoinbaseInput)
	if !ok {
		return ruleError(ErrCoinbaseMismatch, "coinbase input has the wrong variant")
	}
	if input.BlockIndex != blockIndex {
		return ruleError(ErrCoinbaseMismatch, fmt.Sprintf(
			"coinbase input carries height %d, expected %d", input.BlockIndex, blockIndex))
	}

	expectedUnlock := uint64(blockIndex) + uint64(ch.currency.MinedMoneyUnlockWindow)
	if coinbase.UnlockTime != expectedUnlock {
		return ruleError(ErrCoinbaseMismatch, fmt.Sprintf(
			"coinbase unlock time %d, expected %d", coinbase.UnlockTime, expectedUnlock))
	}

	if outputTotal := coinbase.OutputAmount(); outputTotal != reward {
		return ruleError(ErrRewardMismatch, fmt.Sprintf(
			"coinbase pays %d, block reward is %d", outputTotal, reward))
	}
	return nil
}

// validateBlockTransactions verifies every non-coinbase transaction of a
// prospective block against the current chain and collects the block's
// spent key images and fee total. Intra-block double spends are caught
// here; cross-chain ones inside CheckTransactionInputs.
func (ch *Chain) validateBlockTransactions(block *wire.MsgBlock, transactions []*wire.MsgTx,
	blockIndex uint32) (*blockTxState, error) {

	state := &blockTxState{}
	seenKeyImages := make(map[crypto.KeyImage]struct{})

	for _, tx := range transactions {
		if err := CheckTransactionSanity(tx); err != nil {
			return nil, err
		}
		if tx.IsCoinbase() {
			return nil, ruleError(ErrCoinbaseMismatch, "coinbase in the transaction list")
		}
		if _, err := ch.CheckTransactionInputs(tx, blockIndex-1); err != nil {
			return nil, err
		}

		for _, input := range tx.Inputs {
			keyInput, ok := input.(*wire.KeyInput)
			if !ok {
				continue
			}
			if _, seen := seenKeyImages[keyInput.KeyImage]; seen {
				return nil, ruleError(ErrDoubleSpend,
					"key image spent twice within one block")
			}
			seenKeyImages[keyInput.KeyImage] = struct{}{}
			state.spentKeyImages = append(state.spentKeyImages, keyInput.KeyImage)
		}

		state.totalFee += tx.Fee()
	}

	return state, nil
}

// ringCheckJob is one ring signature verification handed to the worker pool.
type ringCheckJob struct {
	prefixHash crypto.Hash
	keyImage   crypto.KeyImage
	ring       []crypto.PublicKey
	signatures []crypto.Signature
}

// CheckTransactionInputs verifies a transaction's inputs against the chain
// state at uptoBlockIndex: ring members exist and are unlocked, key images
// are unseen, and ring signatures verify. It returns the highest main-chain
// block index the transaction references, which pool admission records for
// cheap revalidation.
func (ch *Chain) CheckTransactionInputs(tx *wire.MsgTx, uptoBlockIndex uint32) (uint32, error) {
	prefixHash := tx.PrefixHash()
	now := uint64(ch.clock.Now().Unix())

	var maxUsedBlock uint32
	jobs := make([]ringCheckJob, 0, len(tx.Inputs))

	for inputIndex, input := range tx.Inputs {
		keyInput, ok := input.(*wire.KeyInput)
		if !ok {
			return 0, ruleError(ErrTxMalformed, "non-coinbase transaction with a coinbase input")
		}

		spent, err := ch.cache.CheckIfSpent(keyInput.KeyImage, uptoBlockIndex)
		if err != nil {
			return 0, err
		}
		if spent {
			return 0, ruleError(ErrDoubleSpend,
				"key image already spent on the main chain")
		}

		globalIndexes := keyInput.GlobalOutputIndexes()
		status, keys, err := ch.cache.ExtractKeyOutputKeys(keyInput.Amount,
			globalIndexes, uptoBlockIndex, now)
		if err != nil {
			return 0, err
		}
		switch status {
		case ExtractOutputKeysOutputLocked:
			return 0, ruleError(ErrOutputLocked, "ring references a locked output")
		case ExtractOutputKeysInvalidGlobalIndex:
			return 0, ruleError(ErrInvalidGlobalIndex, "ring references a nonexistent output")
		}

		for _, globalIndex := range globalIndexes {
			ref, err := ch.cache.KeyOutput(keyInput.Amount, globalIndex)
			if err != nil {
				return 0, err
			}
			if ref.BlockIndex > maxUsedBlock {
				maxUsedBlock = ref.BlockIndex
			}
		}

		jobs = append(jobs, ringCheckJob{
			prefixHash: prefixHash,
			keyImage:   keyInput.KeyImage,
			ring:       keys,
			signatures: tx.Signatures[inputIndex],
		})
	}

	if err := ch.checkRingSignatures(jobs); err != nil {
		return 0, err
	}
	return maxUsedBlock, nil
}

// checkRingSignatures fans the CPU-heavy signature checks out over a worker
// pool and gathers the first failure. The workers perform pure computation
// only; chain state is never touched off the validation path.
func (ch *Chain) checkRingSignatures(jobs []ringCheckJob) error {
	if len(jobs) == 0 {
		return nil
	}

	workers := runtime.NumCPU()
	if workers > len(jobs) {
		workers = len(jobs)
	}

	jobChan := make(chan ringCheckJob, len(jobs))
	for _, job := range jobs {
		jobChan <- job
	}
	close(jobChan)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobChan {
				if !ch.ringChecker.CheckRingSignature(job.prefixHash, job.keyImage,
					job.ring, job.signatures) {

					mu.Lock()
					if firstErr == nil {
						firstErr = ruleError(ErrBadRingSignature,
							"ring signature verification failed")
					}
					mu.Unlock()
					return
				}
			}
		}()
	}
	wg.Wait()

	return firstErr
}

// medianBlockSize returns the median of the last reward-window block sizes
// ending at topIndex.
func (ch *Chain) medianBlockSize(topIndex uint32) (uint64, error) {
	sizes, err := ch.cache.LastBlockSizes(int(ch.currency.RewardBlocksWindow), topIndex, true)
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
