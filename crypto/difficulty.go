package crypto

import (
	"math/big"
)

var maxHash = new(big.Int).Lsh(big.NewInt(1), 256)

// CheckHashDifficulty reports whether the given proof-of-work hash satisfies
// the difficulty, i.e. whether hash * difficulty < 2^256. A difficulty of
// zero is never satisfied.
func CheckHashDifficulty(hash Hash, difficulty uint64) bool {
	if difficulty == 0 {
		return false
	}

	// The hash is interpreted as a little-endian 256-bit integer.
	reversed := make([]byte, HashSize)
	for i := 0; i < HashSize; i++ {
		reversed[i] = hash[HashSize-1-i]
	}

	hashValue := new(big.Int).SetBytes(reversed)
	product := hashValue.Mul(hashValue, new(big.Int).SetUint64(difficulty))
	return product.Cmp(maxHash) < 0
}
