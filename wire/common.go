// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/amjuarez/bytecoin-sub001/crypto"
)

const (
	// MaxVarIntPayload is the maximum payload size for a variable length
	// integer.
	MaxVarIntPayload = 10

	// maxAllocSize caps up-front slice allocations driven by attacker
	// controlled counts read off the wire.
	maxAllocSize = 1 << 20
)

// ErrVarIntTooLong is returned when a variable length integer does not
// terminate within MaxVarIntPayload bytes.
var ErrVarIntTooLong = errors.New("varint exceeds maximum length")

// ReadVarInt reads a variable length integer from r and returns it as a
// uint64. The encoding is the 7-bit little-endian group encoding used
// throughout the protocol's binary format.
func ReadVarInt(r io.Reader) (uint64, error) {
	var result uint64
	var buf [1]byte
	for shift := uint(0); ; shift += 7 {
		if shift >= 64 {
			return 0, ErrVarIntTooLong
		}
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}
		b := buf[0]
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
	}
	return result, nil
}

// WriteVarInt serializes val to w using a variable number of bytes depending
// on its value.
func WriteVarInt(w io.Writer, val uint64) error {
	var buf [MaxVarIntPayload]byte
	n := 0
	for val >= 0x80 {
		buf[n] = byte(val&0x7f) | 0x80
		val >>= 7
		n++
	}
	buf[n] = byte(val)
	_, err := w.Write(buf[:n+1])
	return err
}

// VarIntSerializeSize returns the number of bytes it would take to serialize
// val as a variable length integer.
func VarIntSerializeSize(val uint64) int {
	size := 1
	for val >= 0x80 {
		val >>= 7
		size++
	}
	return size
}

// ReadVarBytes reads a variable length byte array. A byte array is encoded
// as a varint containing the length of the array followed by the bytes
// themselves.
func ReadVarBytes(r io.Reader, fieldName string) ([]byte, error) {
	count, err := ReadVarInt(r)
	if err != nil {
		return nil, err
	}
	if count > maxAllocSize {
		return nil, errors.Errorf("%s is larger than the max allowed size "+
			"[count %d, max %d]", fieldName, count, maxAllocSize)
	}

	b := make([]byte, count)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// WriteVarBytes serializes a variable length byte array to w as a varint
// followed by the bytes.
func WriteVarBytes(w io.Writer, bytes []byte) error {
	if err := WriteVarInt(w, uint64(len(bytes))); err != nil {
		return err
	}
	_, err := w.Write(bytes)
	return err
}

// ReadElement reads the next sequence of bytes from r using little endian
// depending on the concrete type of element pointed to.
func ReadElement(r io.Reader, element interface{}) error {
	switch e := element.(type) {
	case *uint32:
		var buf [4]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return err
		}
		*e = binary.LittleEndian.Uint32(buf[:])
		return nil

	case *uint64:
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return err
		}
		*e = binary.LittleEndian.Uint64(buf[:])
		return nil

	case *crypto.Hash:
		_, err := io.ReadFull(r, e[:])
		return err

	case *crypto.PublicKey:
		_, err := io.ReadFull(r, e[:])
		return err

	case *crypto.KeyImage:
		_, err := io.ReadFull(r, e[:])
		return err

	case *crypto.Signature:
		_, err := io.ReadFull(r, e[:])
		return err
	}

	return errors.Errorf("unhandled element type %T", element)
}

// WriteElement writes the little endian representation of element to w.
func WriteElement(w io.Writer, element interface{}) error {
	switch e := element.(type) {
	case uint32:
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], e)
		_, err := w.Write(buf[:])
		return err

	case uint64:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], e)
		_, err := w.Write(buf[:])
		return err

	case crypto.Hash:
		_, err := w.Write(e[:])
		return err

	case crypto.PublicKey:
		_, err := w.Write(e[:])
		return err

	case crypto.KeyImage:
		_, err := w.Write(e[:])
		return err

	case crypto.Signature:
		_, err := w.Write(e[:])
		return err
	}

	return errors.Errorf("unhandled element type %T", element)
}

// readElements reads multiple items from r.
func readElements(r io.Reader, elements ...interface{}) error {
	for _, element := range elements {
		if err := ReadElement(r, element); err != nil {
			return err
		}
	}
	return nil
}

// writeElements writes multiple items to w.
func writeElements(w io.Writer, elements ...interface{}) error {
	for _, element := range elements {
		if err := WriteElement(w, element); err != nil {
			return err
		}
	}
	return nil
}
