// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"testing"

	"github.com/davecgh/go-spew/spew"

	"github.com/amjuarez/bytecoin-sub001/crypto"
)

func testKey(b byte) crypto.PublicKey {
	var key crypto.PublicKey
	key[0] = b
	return key
}

func testKeyImage(b byte) crypto.KeyImage {
	var keyImage crypto.KeyImage
	keyImage[0] = b
	return keyImage
}

func sampleTx() *MsgTx {
	return &MsgTx{
		Version:    CurrentTxVersion,
		UnlockTime: 500,
		Inputs: []TxInput{
			&KeyInput{
				Amount:        100000,
				OutputOffsets: []uint32{3, 1, 5},
				KeyImage:      testKeyImage(7),
			},
		},
		Outputs: []TxOutput{
			{Amount: 90000, Target: &KeyOutput{Key: testKey(1)}},
			{Amount: 5000, Target: &KeyOutput{Key: testKey(2)}},
		},
		Extra:      AppendPubKeyToExtra(nil, testKey(9)),
		Signatures: [][]crypto.Signature{{{1}, {2}, {3}}},
	}
}

// TestTxSerializeRoundTrip ensures reserializing a parsed transaction yields
// the same bytes and the same hash.
func TestTxSerializeRoundTrip(t *testing.T) {
	tx := sampleTx()

	blob, err := tx.Bytes()
	if err != nil {
		t.Fatalf("Bytes: unexpected error %v", err)
	}

	var parsed MsgTx
	if err := parsed.Deserialize(bytes.NewReader(blob)); err != nil {
		t.Fatalf("Deserialize: unexpected error %v", err)
	}

	reblob, err := parsed.Bytes()
	if err != nil {
		t.Fatalf("Bytes after parse: unexpected error %v", err)
	}
	if !bytes.Equal(blob, reblob) {
		t.Fatalf("serialized bytes differ after round trip:\nfirst: %x\nsecond: %x", blob, reblob)
	}

	if tx.TxHash() != parsed.TxHash() {
		t.Fatalf("hash mismatch after round trip: %v vs %v", tx.TxHash(), parsed.TxHash())
	}
}

// TestTxGlobalOutputIndexes checks relative offset resolution.
func TestTxGlobalOutputIndexes(t *testing.T) {
	input := &KeyInput{OutputOffsets: []uint32{3, 1, 5}}
	got := input.GlobalOutputIndexes()
	want := []uint32{3, 4, 9}

	if len(got) != len(want) {
		t.Fatalf("got %d indexes, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected indexes: %s", spew.Sdump(got))
		}
	}
}

// TestTxFee checks fee computation and the coinbase predicate.
func TestTxFee(t *testing.T) {
	tx := sampleTx()
	if got, want := tx.Fee(), uint64(100000-95000); got != want {
		t.Fatalf("fee: got %d, want %d", got, want)
	}
	if tx.IsCoinbase() {
		t.Fatal("sample transaction misdetected as coinbase")
	}

	coinbase := &MsgTx{
		Inputs:     []TxInput{&CoinbaseInput{BlockIndex: 12}},
		Signatures: [][]crypto.Signature{nil},
	}
	if !coinbase.IsCoinbase() {
		t.Fatal("coinbase not detected")
	}
	if coinbase.Fee() != 0 {
		t.Fatal("coinbase fee must be zero")
	}
}

// TestBlockSerializeRoundTrip ensures a parsed block reserializes to the
// same bytes and identifier hash.
func TestBlockSerializeRoundTrip(t *testing.T) {
	block := &MsgBlock{
		Header: BlockHeader{
			MajorVersion: 1,
			MinorVersion: 0,
			Timestamp:    1400000000,
			PrevBlock:    crypto.HashData([]byte("parent")),
			Nonce:        42,
		},
		CoinbaseTx: MsgTx{
			Version:    CurrentTxVersion,
			UnlockTime: 16,
			Inputs:     []TxInput{&CoinbaseInput{BlockIndex: 10}},
			Outputs:    []TxOutput{{Amount: 1000, Target: &KeyOutput{Key: testKey(4)}}},
			Signatures: [][]crypto.Signature{nil},
		},
		TxHashes: []crypto.Hash{sampleTx().TxHash()},
	}

	blob, err := block.Bytes()
	if err != nil {
		t.Fatalf("Bytes: unexpected error %v", err)
	}

	var parsed MsgBlock
	if err := parsed.Deserialize(bytes.NewReader(blob)); err != nil {
		t.Fatalf("Deserialize: unexpected error %v", err)
	}

	if block.BlockHash() != parsed.BlockHash() {
		t.Fatalf("block hash mismatch after round trip")
	}

	reblob, err := parsed.Bytes()
	if err != nil {
		t.Fatalf("Bytes after parse: unexpected error %v", err)
	}
	if !bytes.Equal(blob, reblob) {
		t.Fatal("serialized block bytes differ after round trip")
	}
}

// TestRawBlockRoundTrip covers the stored raw block shape.
func TestRawBlockRoundTrip(t *testing.T) {
	rawBlock := RawBlock{
		Block:        []byte{1, 2, 3},
		Transactions: [][]byte{{4, 5}, {6}},
	}

	blob, err := rawBlock.Bytes()
	if err != nil {
		t.Fatalf("Bytes: unexpected error %v", err)
	}

	var parsed RawBlock
	if err := parsed.Deserialize(bytes.NewReader(blob)); err != nil {
		t.Fatalf("Deserialize: unexpected error %v", err)
	}
	if !bytes.Equal(parsed.Block, rawBlock.Block) || len(parsed.Transactions) != 2 {
		t.Fatalf("raw block mismatch: %s", spew.Sdump(parsed))
	}
}

// TestPaymentIDFromExtra exercises the extra scanner against the payment id
// nonce layout.
func TestPaymentIDFromExtra(t *testing.T) {
	paymentID := crypto.HashData([]byte("payment"))

	nonce := append([]byte{0x00}, paymentID[:]...)
	extra := AppendPubKeyToExtra(nil, testKey(3))
	extra, err := AppendNonceToExtra(extra, nonce)
	if err != nil {
		t.Fatalf("AppendNonceToExtra: unexpected error %v", err)
	}

	got, ok := PaymentIDFromExtra(extra)
	if !ok {
		t.Fatal("payment id not found")
	}
	if got != paymentID {
		t.Fatalf("payment id mismatch: got %v, want %v", got, paymentID)
	}

	if _, ok := PaymentIDFromExtra(AppendPubKeyToExtra(nil, testKey(3))); ok {
		t.Fatal("payment id reported for extra without one")
	}
}

// TestVarIntBoundaries pins the varint encoding at its length boundaries.
func TestVarIntBoundaries(t *testing.T) {
	values := []uint64{0, 0x7f, 0x80, 0x3fff, 0x4000, 1<<63 - 1, 1 << 63}

	for _, value := range values {
		var buf bytes.Buffer
		if err := WriteVarInt(&buf, value); err != nil {
			t.Fatalf("WriteVarInt(%d): %v", value, err)
		}
		if buf.Len() != VarIntSerializeSize(value) {
			t.Fatalf("VarIntSerializeSize(%d) = %d, wrote %d bytes",
				value, VarIntSerializeSize(value), buf.Len())
		}
		got, err := ReadVarInt(&buf)
		if err != nil {
			t.Fatalf("ReadVarInt(%d): %v", value, err)
		}
		if got != value {
			t.Fatalf("varint round trip: got %d, want %d", got, value)
		}
	}
}
