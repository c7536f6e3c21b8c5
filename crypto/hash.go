package crypto

import (
	"encoding/hex"

	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"
)

// HashSize is the length in bytes of Hash.
const HashSize = 32

// Hash is the 32-byte content-addressed identifier used for blocks,
// transactions and payment ids.
type Hash [HashSize]byte

// String returns the Hash as a hexadecimal string in natural byte order.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero returns whether the hash is all zeroes.
func (h *Hash) IsZero() bool {
	return *h == Hash{}
}

// SetBytes sets the hash from the passed byte slice. An error is returned if
// the number of bytes passed in is not HashSize.
func (h *Hash) SetBytes(newHash []byte) error {
	if len(newHash) != HashSize {
		return errors.Errorf("invalid hash length of %d, want %d",
			len(newHash), HashSize)
	}
	copy(h[:], newHash)
	return nil
}

// NewHashFromStr creates a Hash from a hash string. The string should be the
// hexadecimal string of a hash.
func NewHashFromStr(hash string) (*Hash, error) {
	decoded, err := hex.DecodeString(hash)
	if err != nil {
		return nil, errors.Wrapf(err, "couldn't decode hash %q", hash)
	}

	newHash := new(Hash)
	if err := newHash.SetBytes(decoded); err != nil {
		return nil, err
	}
	return newHash, nil
}

// HashData hashes the given data with Keccak-256 and returns the resulting
// Hash. This is the "cn_fast_hash" of the original protocol.
func HashData(data []byte) Hash {
	var h Hash
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write(data)
	copy(h[:], hasher.Sum(nil))
	return h
}

// PowHash computes the proof-of-work hash of a block hashing blob. The memory
// hard function of the original daemon is out of this node's scope; the
// proof-of-work contract only requires a deterministic preimage-resistant
// hash, so the identifier hash is reused.
func PowHash(hashingBlob []byte) Hash {
	return HashData(hashingBlob)
}

// TreeHash computes the Merkle root hash of the given leaf hashes using the
// CryptoNote tree-hash construction: the largest power of two <= len leaves
// are reduced pairwise after the overflow tail has been folded in.
func TreeHash(hashes []Hash) Hash {
	switch len(hashes) {
	case 0:
		return Hash{}
	case 1:
		return hashes[0]
	case 2:
		return hashPair(hashes[0], hashes[1])
	}

	cnt := 1
	for cnt*2 < len(hashes) {
		cnt *= 2
	}

	buf := make([]Hash, cnt)
	copy(buf, hashes[:2*cnt-len(hashes)])

	for i, j := 2*cnt-len(hashes), 2*cnt-len(hashes); j < cnt; i, j = i+2, j+1 {
		buf[j] = hashPair(hashes[i], hashes[i+1])
	}

	for cnt > 2 {
		cnt /= 2
		for i, j := 0, 0; j < cnt; i, j = i+2, j+1 {
			buf[j] = hashPair(buf[i], buf[i+1])
		}
	}

	return hashPair(buf[0], buf[1])
}

func hashPair(a, b Hash) Hash {
	var concatenated [2 * HashSize]byte
	copy(concatenated[:HashSize], a[:])
	copy(concatenated[HashSize:], b[:])
	return HashData(concatenated[:])
}
