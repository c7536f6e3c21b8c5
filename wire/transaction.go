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

const (
	// CurrentTxVersion is the transaction version created and relayed by
	// this software.
	CurrentTxVersion = 1

	// coinbaseInputTag marks a coinbase (block-height) input on the wire.
	coinbaseInputTag = 0xff

	// keyInputTag marks a key-spend (ring) input on the wire.
	keyInputTag = 0x02

	// keyOutputTag marks a one-time-key output target on the wire.
	keyOutputTag = 0x02

	// maxInputsPerTx and maxOutputsPerTx bound deserialization allocations.
	maxInputsPerTx  = 1 << 16
	maxOutputsPerTx = 1 << 16

	// RingSignatureSize is the serialized size of one ring member's
	// signature element.
	RingSignatureSize = 64
)

// TxInput is the tagged union of transaction input variants. Exactly two
// variants exist: CoinbaseInput and KeyInput. Every consumer must switch
// over both and reject unknown variants so adding one surfaces every site.
type TxInput interface {
	txInput()
}

// CoinbaseInput mints the block reward. It carries the height of the block
// it mints into instead of referencing prior outputs.
type CoinbaseInput struct {
	BlockIndex uint32
}

func (*CoinbaseInput) txInput() {}

// KeyInput spends a one-time output. The ring members are addressed by
// ascending relative offsets into the per-amount global output index space;
// the key image tags the real spend.
type KeyInput struct {
	Amount        uint64
	OutputOffsets []uint32
	KeyImage      crypto.KeyImage
}

func (*KeyInput) txInput() {}

// GlobalOutputIndexes converts the relative offsets carried on the wire to
// absolute per-amount global output indexes.
func (in *KeyInput) GlobalOutputIndexes() []uint32 {
	indexes := make([]uint32, len(in.OutputOffsets))
	var sum uint32
	for i, offset := range in.OutputOffsets {
		sum += offset
		indexes[i] = sum
	}
	return indexes
}

// OutputTarget is the tagged union of output variants. KeyOutput is the only
// variant currently in use.
type OutputTarget interface {
	outputTarget()
}

// KeyOutput is a one-time destination key.
type KeyOutput struct {
	Key crypto.PublicKey
}

func (*KeyOutput) outputTarget() {}

// TxOutput is a single transaction output: a public amount and its target.
type TxOutput struct {
	Amount uint64
	Target OutputTarget
}

// MsgTx is the in-memory representation of a transaction.
type MsgTx struct {
	Version    uint8
	UnlockTime uint64
	Inputs     []TxInput
	Outputs    []TxOutput
	Extra      []byte

	// Signatures carries one signature group per input, with one element
	// per ring member. Coinbase inputs carry an empty group.
	Signatures [][]crypto.Signature
}

// SerializePrefix encodes the transaction prefix (everything except the
// signatures) to w.
func (tx *MsgTx) SerializePrefix(w io.Writer) error {
	if err := WriteVarInt(w, uint64(tx.Version)); err != nil {
		return err
	}
	if err := WriteVarInt(w, tx.UnlockTime); err != nil {
		return err
	}

	if err := WriteVarInt(w, uint64(len(tx.Inputs))); err != nil {
		return err
	}
	for _, input := range tx.Inputs {
		if err := writeTxInput(w, input); err != nil {
			return err
		}
	}

	if err := WriteVarInt(w, uint64(len(tx.Outputs))); err != nil {
		return err
	}
	for _, output := range tx.Outputs {
		if err := writeTxOutput(w, output); err != nil {
			return err
		}
	}

	return WriteVarBytes(w, tx.Extra)
}

// Serialize encodes the full transaction including its signature groups.
// The per-input signature counts are implied by the inputs and are not
// written, matching the protocol's compact layout.
func (tx *MsgTx) Serialize(w io.Writer) error {
	if err := tx.SerializePrefix(w); err != nil {
		return err
	}

	for i, group := range tx.Signatures {
		expected := signatureCountForInput(tx.Inputs[i])
		if len(group) != expected {
			return errors.Errorf("input %d carries %d signatures, want %d",
				i, len(group), expected)
		}
		for _, sig := range group {
			if err := WriteElement(w, sig); err != nil {
				return err
			}
		}
	}
	return nil
}

// Deserialize decodes a transaction from r.
func (tx *MsgTx) Deserialize(r io.Reader) error {
	version, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	tx.Version = uint8(version)

	if tx.UnlockTime, err = ReadVarInt(r); err != nil {
		return err
	}

	inputCount, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	if inputCount > maxInputsPerTx {
		return errors.Errorf("too many transaction inputs: %d", inputCount)
	}
	tx.Inputs = make([]TxInput, inputCount)
	for i := range tx.Inputs {
		if tx.Inputs[i], err = readTxInput(r); err != nil {
			return err
		}
	}

	outputCount, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	if outputCount > maxOutputsPerTx {
		return errors.Errorf("too many transaction outputs: %d", outputCount)
	}
	tx.Outputs = make([]TxOutput, outputCount)
	for i := range tx.Outputs {
		if tx.Outputs[i], err = readTxOutput(r); err != nil {
			return err
		}
	}

	if tx.Extra, err = ReadVarBytes(r, "transaction extra"); err != nil {
		return err
	}

	tx.Signatures = make([][]crypto.Signature, inputCount)
	for i, input := range tx.Inputs {
		count := signatureCountForInput(input)
		group := make([]crypto.Signature, count)
		for j := range group {
			if err := ReadElement(r, &group[j]); err != nil {
				return err
			}
		}
		tx.Signatures[i] = group
	}

	return nil
}

// SerializeSize returns the number of bytes the serialized transaction
// occupies.
func (tx *MsgTx) SerializeSize() int {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return 0
	}
	return buf.Len()
}

// Bytes returns the serialized transaction blob.
func (tx *MsgTx) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// TxHash computes the transaction identifier: the hash over the full
// serialized transaction.
func (tx *MsgTx) TxHash() crypto.Hash {
	var buf bytes.Buffer
	_ = tx.Serialize(&buf)
	return crypto.HashData(buf.Bytes())
}

// PrefixHash computes the hash over the transaction prefix. Ring signatures
// sign the prefix hash, not the full transaction hash.
func (tx *MsgTx) PrefixHash() crypto.Hash {
	var buf bytes.Buffer
	_ = tx.SerializePrefix(&buf)
	return crypto.HashData(buf.Bytes())
}

// IsCoinbase reports whether the transaction is a coinbase: exactly one
// input of the coinbase variant.
func (tx *MsgTx) IsCoinbase() bool {
	if len(tx.Inputs) != 1 {
		return false
	}
	_, ok := tx.Inputs[0].(*CoinbaseInput)
	return ok
}

// OutputAmount sums the amounts of all outputs.
func (tx *MsgTx) OutputAmount() uint64 {
	var total uint64
	for _, output := range tx.Outputs {
		total += output.Amount
	}
	return total
}

// InputAmount sums the amounts of all key inputs. Coinbase inputs carry no
// amount.
func (tx *MsgTx) InputAmount() uint64 {
	var total uint64
	for _, input := range tx.Inputs {
		switch in := input.(type) {
		case *KeyInput:
			total += in.Amount
		case *CoinbaseInput:
		}
	}
	return total
}

// Fee returns inputs minus outputs, or zero for a coinbase.
func (tx *MsgTx) Fee() uint64 {
	inputs := tx.InputAmount()
	outputs := tx.OutputAmount()
	if inputs < outputs {
		return 0
	}
	return inputs - outputs
}

func signatureCountForInput(input TxInput) int {
	switch in := input.(type) {
	case *CoinbaseInput:
		return 0
	case *KeyInput:
		return len(in.OutputOffsets)
	}
	return 0
}

func writeTxInput(w io.Writer, input TxInput) error {
	switch in := input.(type) {
	case *CoinbaseInput:
		if _, err := w.Write([]byte{coinbaseInputTag}); err != nil {
			return err
		}
		return WriteVarInt(w, uint64(in.BlockIndex))

	case *KeyInput:
		if _, err := w.Write([]byte{keyInputTag}); err != nil {
			return err
		}
		if err := WriteVarInt(w, in.Amount); err != nil {
			return err
		}
		if err := WriteVarInt(w, uint64(len(in.OutputOffsets))); err != nil {
			return err
		}
		for _, offset := range in.OutputOffsets {
			if err := WriteVarInt(w, uint64(offset)); err != nil {
				return err
			}
		}
		return WriteElement(w, in.KeyImage)
	}

	return errors.Errorf("unhandled input variant %T", input)
}

func readTxInput(r io.Reader) (TxInput, error) {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return nil, err
	}

	switch tag[0] {
	case coinbaseInputTag:
		blockIndex, err := ReadVarInt(r)
		if err != nil {
			return nil, err
		}
		return &CoinbaseInput{BlockIndex: uint32(blockIndex)}, nil

	case keyInputTag:
		input := &KeyInput{}
		var err error
		if input.Amount, err = ReadVarInt(r); err != nil {
			return nil, err
		}
		offsetCount, err := ReadVarInt(r)
		if err != nil {
			return nil, err
		}
		if offsetCount > maxInputsPerTx {
			return nil, errors.Errorf("ring size too large: %d", offsetCount)
		}
		input.OutputOffsets = make([]uint32, offsetCount)
		for i := range input.OutputOffsets {
			offset, err := ReadVarInt(r)
			if err != nil {
				return nil, err
			}
			input.OutputOffsets[i] = uint32(offset)
		}
		if err := ReadElement(r, &input.KeyImage); err != nil {
			return nil, err
		}
		return input, nil
	}

	return nil, errors.Errorf("unknown input tag 0x%02x", tag[0])
}

func writeTxOutput(w io.Writer, output TxOutput) error {
	if err := WriteVarInt(w, output.Amount); err != nil {
		return err
	}

	switch target := output.Target.(type) {
	case *KeyOutput:
		if _, err := w.Write([]byte{keyOutputTag}); err != nil {
			return err
		}
		return WriteElement(w, target.Key)
	}

	return errors.Errorf("unhandled output variant %T", output.Target)
}

func readTxOutput(r io.Reader) (TxOutput, error) {
	amount, err := ReadVarInt(r)
	if err != nil {
		return TxOutput{}, err
	}

	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return TxOutput{}, err
	}

	switch tag[0] {
	case keyOutputTag:
		target := &KeyOutput{}
		if err := ReadElement(r, &target.Key); err != nil {
			return TxOutput{}, err
		}
		return TxOutput{Amount: amount, Target: target}, nil
	}

	return TxOutput{}, errors.Errorf("unknown output tag 0x%02x", tag[0])
}
