// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"io"

	"github.com/pkg/errors"

	"github.com/amjuarez/bytecoin-sub001/crypto"
)

// maxTxPerBlock bounds deserialization allocations for the transaction hash
// list of a block.
const maxTxPerBlock = 1 << 17

// BlockHeader holds the consensus header fields of a block.
type BlockHeader struct {
	// MajorVersion selects the consensus rule set; transitions are driven
	// by the upgrade detector.
	MajorVersion uint8

	// MinorVersion doubles as the upgrade vote bit.
	MinorVersion uint8

	// Timestamp is seconds since the Unix epoch, claimed by the miner.
	Timestamp uint64

	// PrevBlock is the hash of the parent block.
	PrevBlock crypto.Hash

	// Nonce is iterated by miners searching for a proof of work.
	Nonce uint32
}

// Serialize encodes the header to w.
func (h *BlockHeader) Serialize(w io.Writer) error {
	if err := WriteVarInt(w, uint64(h.MajorVersion)); err != nil {
		return err
	}
	if err := WriteVarInt(w, uint64(h.MinorVersion)); err != nil {
		return err
	}
	if err := WriteVarInt(w, h.Timestamp); err != nil {
		return err
	}
	if err := WriteElement(w, h.PrevBlock); err != nil {
		return err
	}
	return WriteElement(w, h.Nonce)
}

// Deserialize decodes a header from r.
func (h *BlockHeader) Deserialize(r io.Reader) error {
	major, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	h.MajorVersion = uint8(major)

	minor, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	h.MinorVersion = uint8(minor)

	if h.Timestamp, err = ReadVarInt(r); err != nil {
		return err
	}
	if err := ReadElement(r, &h.PrevBlock); err != nil {
		return err
	}
	return ReadElement(r, &h.Nonce)
}

// MsgBlock is the in-memory representation of a block: header, coinbase
// transaction, and the hashes of the other transactions it confirms.
type MsgBlock struct {
	Header     BlockHeader
	CoinbaseTx MsgTx
	TxHashes   []crypto.Hash
}

// Serialize encodes the full block to w.
func (b *MsgBlock) Serialize(w io.Writer) error {
	if err := b.Header.Serialize(w); err != nil {
		return err
	}
	if err := b.CoinbaseTx.Serialize(w); err != nil {
		return err
	}
	if err := WriteVarInt(w, uint64(len(b.TxHashes))); err != nil {
		return err
	}
	for _, hash := range b.TxHashes {
		if err := WriteElement(w, hash); err != nil {
			return err
		}
	}
	return nil
}

// Deserialize decodes a block from r.
func (b *MsgBlock) Deserialize(r io.Reader) error {
	if err := b.Header.Deserialize(r); err != nil {
		return err
	}
	if err := b.CoinbaseTx.Deserialize(r); err != nil {
		return err
	}

	count, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	if count > maxTxPerBlock {
		return errors.Errorf("too many transactions in block: %d", count)
	}
	b.TxHashes = make([]crypto.Hash, count)
	for i := range b.TxHashes {
		if err := ReadElement(r, &b.TxHashes[i]); err != nil {
			return err
		}
	}
	return nil
}

// Bytes returns the serialized block blob.
func (b *MsgBlock) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := b.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SerializeSize returns the size in bytes of the serialized block.
func (b *MsgBlock) SerializeSize() int {
	var buf bytes.Buffer
	if err := b.Serialize(&buf); err != nil {
		return 0
	}
	return buf.Len()
}

// MerkleRoot computes the tree hash over the coinbase hash followed by the
// block's other transaction hashes.
func (b *MsgBlock) MerkleRoot() crypto.Hash {
	leaves := make([]crypto.Hash, 0, len(b.TxHashes)+1)
	leaves = append(leaves, b.CoinbaseTx.TxHash())
	leaves = append(leaves, b.TxHashes...)
	return crypto.TreeHash(leaves)
}

// HashingBlob assembles the bytes the proof of work and the block identifier
// are computed over: the serialized header, the merkle root, and the
// varint-encoded transaction count (coinbase included).
func (b *MsgBlock) HashingBlob() []byte {
	var buf bytes.Buffer
	_ = b.Header.Serialize(&buf)

	root := b.MerkleRoot()
	buf.Write(root[:])

	_ = WriteVarInt(&buf, uint64(len(b.TxHashes)+1))
	return buf.Bytes()
}

// BlockHash computes the block identifier: the hash of the hashing blob.
func (b *MsgBlock) BlockHash() crypto.Hash {
	return crypto.HashData(b.HashingBlob())
}

// RawBlock pairs the serialized block blob with the serialized blobs of the
// transactions it confirms. This is the exact shape stored on disk and
// relayed to peers.
type RawBlock struct {
	Block        []byte
	Transactions [][]byte
}

// Serialize encodes the raw block to w.
func (rb *RawBlock) Serialize(w io.Writer) error {
	if err := WriteVarBytes(w, rb.Block); err != nil {
		return err
	}
	if err := WriteVarInt(w, uint64(len(rb.Transactions))); err != nil {
		return err
	}
	for _, txBlob := range rb.Transactions {
		if err := WriteVarBytes(w, txBlob); err != nil {
			return err
		}
	}
	return nil
}

// Deserialize decodes a raw block from r.
func (rb *RawBlock) Deserialize(r io.Reader) error {
	var err error
	if rb.Block, err = ReadVarBytes(r, "block blob"); err != nil {
		return err
	}

	count, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	if count > maxTxPerBlock {
		return errors.Errorf("too many transaction blobs: %d", count)
	}
	rb.Transactions = make([][]byte, count)
	for i := range rb.Transactions {
		if rb.Transactions[i], err = ReadVarBytes(r, "transaction blob"); err != nil {
			return err
		}
	}
	return nil
}

// Bytes returns the serialized raw block.
func (rb *RawBlock) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := rb.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
