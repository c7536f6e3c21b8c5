package blockchain

import (
	"bytes"
	"sort"

	"github.com/pkg/errors"

	"github.com/amjuarez/bytecoin-sub001/crypto"
	"github.com/amjuarez/bytecoin-sub001/wire"
)

// CachedBlockInfo is the per-block record persisted under the block-info
// index. The cumulative fields make difficulty and emission lookups O(1).
type CachedBlockInfo struct {
	BlockHash                    crypto.Hash
	Timestamp                    uint64
	CumulativeDifficulty         uint64
	AlreadyGeneratedCoins        uint64
	AlreadyGeneratedTransactions uint64
	BlockSize                    uint32
}

// PackedOutputReference locates a single output by block index, transaction
// index within the block, and output index within the transaction.
type PackedOutputReference struct {
	BlockIndex       uint32
	TransactionIndex uint16
	OutputIndex      uint16
}

// KeyOutputInfo is the denormalized per-output record used for fast ring
// member lookup.
type KeyOutputInfo struct {
	PublicKey       crypto.PublicKey
	TransactionHash crypto.Hash
	OutputIndex     uint16
	UnlockTime      uint64
}

// ExtendedTransactionInfo is the per-transaction record persisted under the
// transaction-info index.
type ExtendedTransactionInfo struct {
	TransactionHash  crypto.Hash
	BlockIndex       uint32
	TransactionIndex uint16
	UnlockTime       uint64

	// GlobalIndexes holds the per-amount global output index assigned to
	// each output, in output order.
	GlobalIndexes []uint32

	// AmountToKeyIndexes groups the assigned global indexes by amount.
	AmountToKeyIndexes map[uint64][]uint32
}

func serializeU32(v uint32) []byte {
	var buf bytes.Buffer
	_ = wire.WriteElement(&buf, v)
	return buf.Bytes()
}

func deserializeU32(data []byte) (uint32, error) {
	var v uint32
	err := wire.ReadElement(bytes.NewReader(data), &v)
	return v, errors.WithStack(err)
}

func serializeU64(v uint64) []byte {
	var buf bytes.Buffer
	_ = wire.WriteElement(&buf, v)
	return buf.Bytes()
}

func deserializeU64(data []byte) (uint64, error) {
	var v uint64
	err := wire.ReadElement(bytes.NewReader(data), &v)
	return v, errors.WithStack(err)
}

func serializeBlockInfo(info CachedBlockInfo) []byte {
	var buf bytes.Buffer
	_ = wire.WriteElement(&buf, info.BlockHash)
	_ = wire.WriteVarInt(&buf, info.Timestamp)
	_ = wire.WriteVarInt(&buf, info.CumulativeDifficulty)
	_ = wire.WriteVarInt(&buf, info.AlreadyGeneratedCoins)
	_ = wire.WriteVarInt(&buf, info.AlreadyGeneratedTransactions)
	_ = wire.WriteVarInt(&buf, uint64(info.BlockSize))
	return buf.Bytes()
}

func deserializeBlockInfo(data []byte) (CachedBlockInfo, error) {
	var info CachedBlockInfo
	r := bytes.NewReader(data)

	if err := wire.ReadElement(r, &info.BlockHash); err != nil {
		return info, errors.WithStack(err)
	}
	var err error
	if info.Timestamp, err = wire.ReadVarInt(r); err != nil {
		return info, errors.WithStack(err)
	}
	if info.CumulativeDifficulty, err = wire.ReadVarInt(r); err != nil {
		return info, errors.WithStack(err)
	}
	if info.AlreadyGeneratedCoins, err = wire.ReadVarInt(r); err != nil {
		return info, errors.WithStack(err)
	}
	if info.AlreadyGeneratedTransactions, err = wire.ReadVarInt(r); err != nil {
		return info, errors.WithStack(err)
	}
	size, err := wire.ReadVarInt(r)
	if err != nil {
		return info, errors.WithStack(err)
	}
	info.BlockSize = uint32(size)
	return info, nil
}

func serializePackedOutputReference(ref PackedOutputReference) []byte {
	var buf bytes.Buffer
	_ = wire.WriteVarInt(&buf, uint64(ref.BlockIndex))
	_ = wire.WriteVarInt(&buf, uint64(ref.TransactionIndex))
	_ = wire.WriteVarInt(&buf, uint64(ref.OutputIndex))
	return buf.Bytes()
}

func deserializePackedOutputReference(data []byte) (PackedOutputReference, error) {
	var ref PackedOutputReference
	r := bytes.NewReader(data)

	blockIndex, err := wire.ReadVarInt(r)
	if err != nil {
		return ref, errors.WithStack(err)
	}
	txIndex, err := wire.ReadVarInt(r)
	if err != nil {
		return ref, errors.WithStack(err)
	}
	outputIndex, err := wire.ReadVarInt(r)
	if err != nil {
		return ref, errors.WithStack(err)
	}

	ref.BlockIndex = uint32(blockIndex)
	ref.TransactionIndex = uint16(txIndex)
	ref.OutputIndex = uint16(outputIndex)
	return ref, nil
}

func serializeKeyOutputInfo(info KeyOutputInfo) []byte {
	var buf bytes.Buffer
	_ = wire.WriteElement(&buf, info.PublicKey)
	_ = wire.WriteElement(&buf, info.TransactionHash)
	_ = wire.WriteVarInt(&buf, uint64(info.OutputIndex))
	_ = wire.WriteVarInt(&buf, info.UnlockTime)
	return buf.Bytes()
}

func deserializeKeyOutputInfo(data []byte) (KeyOutputInfo, error) {
	var info KeyOutputInfo
	r := bytes.NewReader(data)

	if err := wire.ReadElement(r, &info.PublicKey); err != nil {
		return info, errors.WithStack(err)
	}
	if err := wire.ReadElement(r, &info.TransactionHash); err != nil {
		return info, errors.WithStack(err)
	}
	outputIndex, err := wire.ReadVarInt(r)
	if err != nil {
		return info, errors.WithStack(err)
	}
	info.OutputIndex = uint16(outputIndex)
	if info.UnlockTime, err = wire.ReadVarInt(r); err != nil {
		return info, errors.WithStack(err)
	}
	return info, nil
}

func serializeTransactionInfo(info ExtendedTransactionInfo) []byte {
	var buf bytes.Buffer
	_ = wire.WriteElement(&buf, info.TransactionHash)
	_ = wire.WriteVarInt(&buf, uint64(info.BlockIndex))
	_ = wire.WriteVarInt(&buf, uint64(info.TransactionIndex))
	_ = wire.WriteVarInt(&buf, info.UnlockTime)

	_ = wire.WriteVarInt(&buf, uint64(len(info.GlobalIndexes)))
	for _, index := range info.GlobalIndexes {
		_ = wire.WriteVarInt(&buf, uint64(index))
	}

	// The amount map is serialized in ascending amount order so the
	// record bytes are deterministic.
	amounts := make([]uint64, 0, len(info.AmountToKeyIndexes))
	for amount := range info.AmountToKeyIndexes {
		amounts = append(amounts, amount)
	}
	sort.Slice(amounts, func(i, j int) bool { return amounts[i] < amounts[j] })

	_ = wire.WriteVarInt(&buf, uint64(len(amounts)))
	for _, amount := range amounts {
		indexes := info.AmountToKeyIndexes[amount]
		_ = wire.WriteVarInt(&buf, amount)
		_ = wire.WriteVarInt(&buf, uint64(len(indexes)))
		for _, index := range indexes {
			_ = wire.WriteVarInt(&buf, uint64(index))
		}
	}

	return buf.Bytes()
}

func deserializeTransactionInfo(data []byte) (ExtendedTransactionInfo, error) {
	var info ExtendedTransactionInfo
	r := bytes.NewReader(data)

	if err := wire.ReadElement(r, &info.TransactionHash); err != nil {
		return info, errors.WithStack(err)
	}
	blockIndex, err := wire.ReadVarInt(r)
	if err != nil {
		return info, errors.WithStack(err)
	}
	info.BlockIndex = uint32(blockIndex)

	txIndex, err := wire.ReadVarInt(r)
	if err != nil {
		return info, errors.WithStack(err)
	}
	info.TransactionIndex = uint16(txIndex)

	if info.UnlockTime, err = wire.ReadVarInt(r); err != nil {
		return info, errors.WithStack(err)
	}

	indexCount, err := wire.ReadVarInt(r)
	if err != nil {
		return info, errors.WithStack(err)
	}
	info.GlobalIndexes = make([]uint32, indexCount)
	for i := range info.GlobalIndexes {
		index, err := wire.ReadVarInt(r)
		if err != nil {
			return info, errors.WithStack(err)
		}
		info.GlobalIndexes[i] = uint32(index)
	}

	amountCount, err := wire.ReadVarInt(r)
	if err != nil {
		return info, errors.WithStack(err)
	}
	info.AmountToKeyIndexes = make(map[uint64][]uint32, amountCount)
	for i := uint64(0); i < amountCount; i++ {
		amount, err := wire.ReadVarInt(r)
		if err != nil {
			return info, errors.WithStack(err)
		}
		perAmountCount, err := wire.ReadVarInt(r)
		if err != nil {
			return info, errors.WithStack(err)
		}
		indexes := make([]uint32, perAmountCount)
		for j := range indexes {
			index, err := wire.ReadVarInt(r)
			if err != nil {
				return info, errors.WithStack(err)
			}
			indexes[j] = uint32(index)
		}
		info.AmountToKeyIndexes[amount] = indexes
	}

	return info, nil
}

func serializeHashList(hashes []crypto.Hash) []byte {
	var buf bytes.Buffer
	_ = wire.WriteVarInt(&buf, uint64(len(hashes)))
	for _, hash := range hashes {
		_ = wire.WriteElement(&buf, hash)
	}
	return buf.Bytes()
}

func deserializeHashList(data []byte) ([]crypto.Hash, error) {
	r := bytes.NewReader(data)
	count, err := wire.ReadVarInt(r)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	hashes := make([]crypto.Hash, count)
	for i := range hashes {
		if err := wire.ReadElement(r, &hashes[i]); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	return hashes, nil
}

func serializeKeyImageList(keyImages []crypto.KeyImage) []byte {
	var buf bytes.Buffer
	_ = wire.WriteVarInt(&buf, uint64(len(keyImages)))
	for _, keyImage := range keyImages {
		_ = wire.WriteElement(&buf, keyImage)
	}
	return buf.Bytes()
}

func deserializeKeyImageList(data []byte) ([]crypto.KeyImage, error) {
	r := bytes.NewReader(data)
	count, err := wire.ReadVarInt(r)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	keyImages := make([]crypto.KeyImage, count)
	for i := range keyImages {
		if err := wire.ReadElement(r, &keyImages[i]); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	return keyImages, nil
}

func serializeRawBlock(rawBlock wire.RawBlock) []byte {
	blob, _ := rawBlock.Bytes()
	return blob
}

func deserializeRawBlock(data []byte) (wire.RawBlock, error) {
	var rawBlock wire.RawBlock
	err := rawBlock.Deserialize(bytes.NewReader(data))
	return rawBlock, errors.WithStack(err)
}

// deserializeBlock parses a serialized block blob.
func deserializeBlock(block *wire.MsgBlock, blob []byte) error {
	return errors.WithStack(block.Deserialize(bytes.NewReader(blob)))
}

// deserializeTx parses a serialized transaction blob.
func deserializeTx(tx *wire.MsgTx, blob []byte) error {
	return errors.WithStack(tx.Deserialize(bytes.NewReader(blob)))
}
