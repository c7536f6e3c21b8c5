package blockchain

import (
	"github.com/pkg/errors"

	"github.com/amjuarez/bytecoin-sub001/crypto"
	"github.com/amjuarez/bytecoin-sub001/wire"
)

// AmountIndex addresses one output within an amount's dense global index
// space.
type AmountIndex struct {
	Amount uint64
	Index  uint32
}

// PaymentIndex addresses one transaction within a payment id's sequence.
type PaymentIndex struct {
	PaymentID crypto.Hash
	Index     uint32
}

// readRequestKind discriminates the typed interpretation of one requested
// key.
type readRequestKind int

const (
	reqSpentKeyImagesByBlock readRequestKind = iota
	reqBlockIndexByKeyImage
	reqCachedTransaction
	reqTxHashesByBlock
	reqCachedBlock
	reqBlockIndexByHash
	reqKeyOutputCountForAmount
	reqKeyOutputGlobalIndex
	reqRawBlock
	reqLastBlockIndex
	reqClosestTimestamp
	reqKeyOutputAmountsCount
	reqKeyOutputAmount
	reqTxCountByPaymentID
	reqTxHashByPaymentID
	reqBlockHashesByTimestamp
	reqTransactionsCount
	reqKeyOutputInfo
	reqSchemeVersion
)

type readRequest struct {
	kind readRequestKind
	key  []byte

	blockIndex  uint32
	hash        crypto.Hash
	keyImage    crypto.KeyImage
	amountIndex AmountIndex
	timestamp   uint64
	enumIndex   uint32
}

// ScalarU32 is a scalar read result together with its presence flag.
type ScalarU32 struct {
	Value   uint32
	Present bool
}

// ScalarU64 is a scalar read result together with its presence flag.
type ScalarU64 struct {
	Value   uint64
	Present bool
}

// ReadResult holds the typed results of a submitted read batch. Absent keys
// are dropped from map-valued results and reported absent for scalars.
type ReadResult struct {
	SpentKeyImagesByBlock  map[uint32][]crypto.KeyImage
	BlockIndexesByKeyImage map[crypto.KeyImage]uint32
	Transactions           map[crypto.Hash]ExtendedTransactionInfo
	TxHashesByBlock        map[uint32][]crypto.Hash
	BlockInfos             map[uint32]CachedBlockInfo
	BlockIndexesByHash     map[crypto.Hash]uint32
	KeyOutputCounts        map[uint64]uint32
	KeyOutputReferences    map[AmountIndex]PackedOutputReference
	RawBlocks              map[uint32]wire.RawBlock
	ClosestTimestamps      map[uint64]uint32
	KeyOutputAmounts       map[uint32]uint64
	TxCountsByPaymentID    map[crypto.Hash]uint32
	TxHashesByPaymentID    map[PaymentIndex]crypto.Hash
	BlockHashesByTimestamp map[uint64][]crypto.Hash
	KeyOutputInfos         map[AmountIndex]KeyOutputInfo

	LastBlockIndex        ScalarU32
	KeyOutputAmountsCount ScalarU32
	TransactionsCount     ScalarU64
	SchemeVersion         ScalarU32
}

func newReadResult() *ReadResult {
	return &ReadResult{
		SpentKeyImagesByBlock:  make(map[uint32][]crypto.KeyImage),
		BlockIndexesByKeyImage: make(map[crypto.KeyImage]uint32),
		Transactions:           make(map[crypto.Hash]ExtendedTransactionInfo),
		TxHashesByBlock:        make(map[uint32][]crypto.Hash),
		BlockInfos:             make(map[uint32]CachedBlockInfo),
		BlockIndexesByHash:     make(map[crypto.Hash]uint32),
		KeyOutputCounts:        make(map[uint64]uint32),
		KeyOutputReferences:    make(map[AmountIndex]PackedOutputReference),
		RawBlocks:              make(map[uint32]wire.RawBlock),
		ClosestTimestamps:      make(map[uint64]uint32),
		KeyOutputAmounts:       make(map[uint32]uint64),
		TxCountsByPaymentID:    make(map[crypto.Hash]uint32),
		TxHashesByPaymentID:    make(map[PaymentIndex]crypto.Hash),
		BlockHashesByTimestamp: make(map[uint64][]crypto.Hash),
		KeyOutputInfos:         make(map[AmountIndex]KeyOutputInfo),
	}
}

// ReadBatch registers interest in a set of keys, hands their serialized form
// to the store, and decodes the store's answers into a typed ReadResult.
type ReadBatch struct {
	requests  []readRequest
	result    *ReadResult
	submitted bool
}

// NewReadBatch returns an empty read batch.
func NewReadBatch() *ReadBatch {
	return &ReadBatch{result: newReadResult()}
}

// RequestSpentKeyImagesByBlock registers interest in a block's spent key
// image set.
func (b *ReadBatch) RequestSpentKeyImagesByBlock(blockIndex uint32) *ReadBatch {
	b.requests = append(b.requests, readRequest{
		kind:       reqSpentKeyImagesByBlock,
		key:        keyBlockIndex(prefixSpentKeyImagesByBlock, blockIndex),
		blockIndex: blockIndex,
	})
	return b
}

// RequestBlockIndexBySpentKeyImage registers interest in the block index a
// key image was spent at.
func (b *ReadBatch) RequestBlockIndexBySpentKeyImage(keyImage crypto.KeyImage) *ReadBatch {
	b.requests = append(b.requests, readRequest{
		kind:     reqBlockIndexByKeyImage,
		key:      keyKeyImage(prefixBlockIndexByKeyImage, keyImage),
		keyImage: keyImage,
	})
	return b
}

// RequestCachedTransaction registers interest in a transaction record.
func (b *ReadBatch) RequestCachedTransaction(txHash crypto.Hash) *ReadBatch {
	b.requests = append(b.requests, readRequest{
		kind: reqCachedTransaction,
		key:  keyHash(prefixTxInfoByHash, txHash),
		hash: txHash,
	})
	return b
}

// RequestTransactionHashesByBlock registers interest in a block's ordered
// transaction hash list.
func (b *ReadBatch) RequestTransactionHashesByBlock(blockIndex uint32) *ReadBatch {
	b.requests = append(b.requests, readRequest{
		kind:       reqTxHashesByBlock,
		key:        keyBlockIndex(prefixTxHashesByBlock, blockIndex),
		blockIndex: blockIndex,
	})
	return b
}

// RequestCachedBlock registers interest in a block info record.
func (b *ReadBatch) RequestCachedBlock(blockIndex uint32) *ReadBatch {
	b.requests = append(b.requests, readRequest{
		kind:       reqCachedBlock,
		key:        keyBlockIndex(prefixBlockInfoByIndex, blockIndex),
		blockIndex: blockIndex,
	})
	return b
}

// RequestBlockIndexByBlockHash registers interest in the index of the block
// with the given hash.
func (b *ReadBatch) RequestBlockIndexByBlockHash(blockHash crypto.Hash) *ReadBatch {
	b.requests = append(b.requests, readRequest{
		kind: reqBlockIndexByHash,
		key:  keyHash(prefixBlockIndexByHash, blockHash),
		hash: blockHash,
	})
	return b
}

// RequestKeyOutputCountForAmount registers interest in an amount's dense
// output count.
func (b *ReadBatch) RequestKeyOutputCountForAmount(amount uint64) *ReadBatch {
	b.requests = append(b.requests, readRequest{
		kind:        reqKeyOutputCountForAmount,
		key:         keyAmount(prefixKeyOutputAmount, amount),
		amountIndex: AmountIndex{Amount: amount},
	})
	return b
}

// RequestKeyOutputGlobalIndex registers interest in the packed reference of
// one (amount, global index) output.
func (b *ReadBatch) RequestKeyOutputGlobalIndex(amount uint64, globalIndex uint32) *ReadBatch {
	b.requests = append(b.requests, readRequest{
		kind:        reqKeyOutputGlobalIndex,
		key:         keyAmountIndex(prefixKeyOutputAmount, amount, globalIndex),
		amountIndex: AmountIndex{Amount: amount, Index: globalIndex},
	})
	return b
}

// RequestRawBlock registers interest in a block's raw blob.
func (b *ReadBatch) RequestRawBlock(blockIndex uint32) *ReadBatch {
	b.requests = append(b.requests, readRequest{
		kind:       reqRawBlock,
		key:        keyBlockIndex(prefixRawBlock, blockIndex),
		blockIndex: blockIndex,
	})
	return b
}

// RequestLastBlockIndex registers interest in the top block index scalar.
func (b *ReadBatch) RequestLastBlockIndex() *ReadBatch {
	b.requests = append(b.requests, readRequest{
		kind: reqLastBlockIndex,
		key:  keySubKey(prefixScalars, lastBlockIndexKey),
	})
	return b
}

// RequestClosestTimestampBlockIndex registers interest in a day's closest
// block index record.
func (b *ReadBatch) RequestClosestTimestampBlockIndex(timestamp uint64) *ReadBatch {
	b.requests = append(b.requests, readRequest{
		kind:      reqClosestTimestamp,
		key:       keyTimestamp(prefixClosestTimestamp, timestamp),
		timestamp: timestamp,
	})
	return b
}

// RequestKeyOutputAmountsCount registers interest in the size of the amount
// enumeration.
func (b *ReadBatch) RequestKeyOutputAmountsCount() *ReadBatch {
	b.requests = append(b.requests, readRequest{
		kind: reqKeyOutputAmountsCount,
		key:  keySubKey(prefixKeyOutputAmounts, keyOutputAmountsCount),
	})
	return b
}

// RequestKeyOutputAmount registers interest in the enumeration entry at the
// given position.
func (b *ReadBatch) RequestKeyOutputAmount(index uint32) *ReadBatch {
	b.requests = append(b.requests, readRequest{
		kind:      reqKeyOutputAmount,
		key:       keyEnumIndex(prefixKeyOutputAmounts, index),
		enumIndex: index,
	})
	return b
}

// RequestTransactionCountByPaymentID registers interest in a payment id's
// sequence length.
func (b *ReadBatch) RequestTransactionCountByPaymentID(paymentID crypto.Hash) *ReadBatch {
	b.requests = append(b.requests, readRequest{
		kind: reqTxCountByPaymentID,
		key:  keyHash(prefixPaymentID, paymentID),
		hash: paymentID,
	})
	return b
}

// RequestTransactionHashByPaymentID registers interest in one entry of a
// payment id's sequence.
func (b *ReadBatch) RequestTransactionHashByPaymentID(paymentID crypto.Hash, index uint32) *ReadBatch {
	b.requests = append(b.requests, readRequest{
		kind:      reqTxHashByPaymentID,
		key:       keyHashIndex(prefixPaymentID, paymentID, index),
		hash:      paymentID,
		enumIndex: index,
	})
	return b
}

// RequestBlockHashesByTimestamp registers interest in the hashes of all
// blocks carrying the exact timestamp.
func (b *ReadBatch) RequestBlockHashesByTimestamp(timestamp uint64) *ReadBatch {
	b.requests = append(b.requests, readRequest{
		kind:      reqBlockHashesByTimestamp,
		key:       keyTimestamp(prefixTimestampBlockHashes, timestamp),
		timestamp: timestamp,
	})
	return b
}

// RequestTransactionsCount registers interest in the total transaction count
// scalar.
func (b *ReadBatch) RequestTransactionsCount() *ReadBatch {
	b.requests = append(b.requests, readRequest{
		kind: reqTransactionsCount,
		key:  keySubKey(prefixTxInfoByHash, transactionsCountKey),
	})
	return b
}

// RequestKeyOutputInfo registers interest in the denormalized record of one
// (amount, global index) output.
func (b *ReadBatch) RequestKeyOutputInfo(amount uint64, globalIndex uint32) *ReadBatch {
	b.requests = append(b.requests, readRequest{
		kind:        reqKeyOutputInfo,
		key:         keyAmountIndex(prefixKeyOutputInfo, amount, globalIndex),
		amountIndex: AmountIndex{Amount: amount, Index: globalIndex},
	})
	return b
}

// RequestSchemeVersion registers interest in the database layout version.
func (b *ReadBatch) RequestSchemeVersion() *ReadBatch {
	b.requests = append(b.requests, readRequest{
		kind: reqSchemeVersion,
		key:  keySubKey(prefixSchemeVersion, schemeVersionKey),
	})
	return b
}

// RawKeys returns the serialized keys of all registered requests, in
// registration order.
func (b *ReadBatch) RawKeys() [][]byte {
	keys := make([][]byte, len(b.requests))
	for i, req := range b.requests {
		keys[i] = req.key
	}
	return keys
}

// SubmitRawResult decodes the parallel (value, present) vectors the store
// produced for RawKeys into the typed result maps.
func (b *ReadBatch) SubmitRawResult(values [][]byte, found []bool) error {
	if len(values) != len(b.requests) || len(found) != len(b.requests) {
		return errors.Errorf("submitted %d values and %d flags for %d requests",
			len(values), len(found), len(b.requests))
	}

	for i, req := range b.requests {
		if !found[i] {
			continue
		}
		if err := b.decodeInto(req, values[i]); err != nil {
			return err
		}
	}

	b.submitted = true
	return nil
}

// ExtractResult returns the typed result object. It fails with
// ErrResultNotReady when called before submission.
func (b *ReadBatch) ExtractResult() (*ReadResult, error) {
	if !b.submitted {
		return nil, ErrResultNotReady
	}
	return b.result, nil
}

func (b *ReadBatch) decodeInto(req readRequest, value []byte) error {
	switch req.kind {
	case reqSpentKeyImagesByBlock:
		keyImages, err := deserializeKeyImageList(value)
		if err != nil {
			return err
		}
		b.result.SpentKeyImagesByBlock[req.blockIndex] = keyImages

	case reqBlockIndexByKeyImage:
		blockIndex, err := deserializeU32(value)
		if err != nil {
			return err
		}
		b.result.BlockIndexesByKeyImage[req.keyImage] = blockIndex

	case reqCachedTransaction:
		info, err := deserializeTransactionInfo(value)
		if err != nil {
			return err
		}
		b.result.Transactions[req.hash] = info

	case reqTxHashesByBlock:
		hashes, err := deserializeHashList(value)
		if err != nil {
			return err
		}
		b.result.TxHashesByBlock[req.blockIndex] = hashes

	case reqCachedBlock:
		info, err := deserializeBlockInfo(value)
		if err != nil {
			return err
		}
		b.result.BlockInfos[req.blockIndex] = info

	case reqBlockIndexByHash:
		blockIndex, err := deserializeU32(value)
		if err != nil {
			return err
		}
		b.result.BlockIndexesByHash[req.hash] = blockIndex

	case reqKeyOutputCountForAmount:
		count, err := deserializeU32(value)
		if err != nil {
			return err
		}
		b.result.KeyOutputCounts[req.amountIndex.Amount] = count

	case reqKeyOutputGlobalIndex:
		ref, err := deserializePackedOutputReference(value)
		if err != nil {
			return err
		}
		b.result.KeyOutputReferences[req.amountIndex] = ref

	case reqRawBlock:
		rawBlock, err := deserializeRawBlock(value)
		if err != nil {
			return err
		}
		b.result.RawBlocks[req.blockIndex] = rawBlock

	case reqLastBlockIndex:
		index, err := deserializeU32(value)
		if err != nil {
			return err
		}
		b.result.LastBlockIndex = ScalarU32{Value: index, Present: true}

	case reqClosestTimestamp:
		blockIndex, err := deserializeU32(value)
		if err != nil {
			return err
		}
		b.result.ClosestTimestamps[req.timestamp] = blockIndex

	case reqKeyOutputAmountsCount:
		count, err := deserializeU32(value)
		if err != nil {
			return err
		}
		b.result.KeyOutputAmountsCount = ScalarU32{Value: count, Present: true}

	case reqKeyOutputAmount:
		amount, err := deserializeU64(value)
		if err != nil {
			return err
		}
		b.result.KeyOutputAmounts[req.enumIndex] = amount

	case reqTxCountByPaymentID:
		count, err := deserializeU32(value)
		if err != nil {
			return err
		}
		b.result.TxCountsByPaymentID[req.hash] = count

	case reqTxHashByPaymentID:
		var txHash crypto.Hash
		if err := txHash.SetBytes(value); err != nil {
			return err
		}
		b.result.TxHashesByPaymentID[PaymentIndex{PaymentID: req.hash, Index: req.enumIndex}] = txHash

	case reqBlockHashesByTimestamp:
		hashes, err := deserializeHashList(value)
		if err != nil {
			return err
		}
		b.result.BlockHashesByTimestamp[req.timestamp] = hashes

	case reqTransactionsCount:
		count, err := deserializeU64(value)
		if err != nil {
			return err
		}
		b.result.TransactionsCount = ScalarU64{Value: count, Present: true}

	case reqKeyOutputInfo:
		info, err := deserializeKeyOutputInfo(value)
		if err != nil {
			return err
		}
		b.result.KeyOutputInfos[req.amountIndex] = info

	case reqSchemeVersion:
		version, err := deserializeU32(value)
		if err != nil {
			return err
		}
		b.result.SchemeVersion = ScalarU32{Value: version, Present: true}

	default:
		return errors.Errorf("unhandled read request kind %d", req.kind)
	}

	return nil
}
