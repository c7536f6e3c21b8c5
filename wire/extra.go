package wire

import (
	"github.com/pkg/errors"

	"github.com/amjuarez/bytecoin-sub001/crypto"
)

// Tags of the TLV-ish records packed into a transaction's extra bytes.
const (
	extraTagPadding = 0x00
	extraTagPubKey  = 0x01
	extraTagNonce   = 0x02

	// extraNoncePaymentID marks a 32-byte payment id inside an extra
	// nonce record.
	extraNoncePaymentID = 0x00

	// MaxExtraNonceSize is the largest extra nonce a transaction may
	// carry.
	MaxExtraNonceSize = 255
)

// PaymentIDFromExtra scans a transaction's extra bytes for a payment id
// record. The second return value reports whether one was found; malformed
// extra simply yields no payment id, it is not a validation failure.
func PaymentIDFromExtra(extra []byte) (crypto.Hash, bool) {
	for i := 0; i < len(extra); {
		switch extra[i] {
		case extraTagPadding:
			i++

		case extraTagPubKey:
			i += 1 + 32

		case extraTagNonce:
			if i+1 >= len(extra) {
				return crypto.Hash{}, false
			}
			length := int(extra[i+1])
			nonce := extra[i+2:]
			if length > len(nonce) {
				return crypto.Hash{}, false
			}
			nonce = nonce[:length]
			if length == 1+crypto.HashSize && nonce[0] == extraNoncePaymentID {
				var paymentID crypto.Hash
				copy(paymentID[:], nonce[1:])
				return paymentID, true
			}
			i += 2 + length

		default:
			// Unknown records cannot be skipped without a length.
			return crypto.Hash{}, false
		}
	}
	return crypto.Hash{}, false
}

// PubKeyFromExtra scans a transaction's extra bytes for the transaction
// public key record.
func PubKeyFromExtra(extra []byte) (crypto.PublicKey, bool) {
	for i := 0; i < len(extra); {
		switch extra[i] {
		case extraTagPadding:
			i++

		case extraTagPubKey:
			if i+1+32 > len(extra) {
				return crypto.PublicKey{}, false
			}
			var key crypto.PublicKey
			copy(key[:], extra[i+1:i+1+32])
			return key, true

		case extraTagNonce:
			if i+1 >= len(extra) {
				return crypto.PublicKey{}, false
			}
			i += 2 + int(extra[i+1])

		default:
			return crypto.PublicKey{}, false
		}
	}
	return crypto.PublicKey{}, false
}

// AppendPubKeyToExtra appends a transaction public key record.
func AppendPubKeyToExtra(extra []byte, key crypto.PublicKey) []byte {
	extra = append(extra, extraTagPubKey)
	return append(extra, key[:]...)
}

// AppendNonceToExtra appends an extra nonce record.
func AppendNonceToExtra(extra []byte, nonce []byte) ([]byte, error) {
	if len(nonce) > MaxExtraNonceSize {
		return nil, errors.Errorf("extra nonce too large: %d bytes", len(nonce))
	}
	extra = append(extra, extraTagNonce, byte(len(nonce)))
	return append(extra, nonce...), nil
}
