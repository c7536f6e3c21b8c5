package crypto

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/pkg/errors"
)

// ErrSequenceEnded is returned by ShuffleGenerator.Next once every value of
// the sequence has been yielded.
var ErrSequenceEnded = errors.New("shuffle sequence ended")

// ShuffleGenerator yields every integer in [0, n) exactly once, in uniformly
// random order, without materializing the full permutation up front. Random
// output selection draws ring decoys through it.
type ShuffleGenerator struct {
	selected map[uint32]uint32
	count    uint32
	n        uint32
}

// NewShuffleGenerator returns a generator over [0, n).
func NewShuffleGenerator(n uint32) *ShuffleGenerator {
	return &ShuffleGenerator{
		selected: make(map[uint32]uint32),
		n:        n,
	}
}

// Next returns the next value of the shuffled sequence, or ErrSequenceEnded
// when all n values have been produced. This is a lazy Fisher-Yates: a swap
// table records only the displaced positions.
func (g *ShuffleGenerator) Next() (uint32, error) {
	if g.count >= g.n {
		return 0, ErrSequenceEnded
	}

	remaining := g.n - g.count
	offset := randUint32(remaining)
	position := g.count + offset

	value, ok := g.selected[position]
	if !ok {
		value = position
	}

	current, ok := g.selected[g.count]
	if !ok {
		current = g.count
	}
	g.selected[position] = current
	delete(g.selected, g.count)

	g.count++
	return value, nil
}

// Empty returns whether the sequence has been exhausted.
func (g *ShuffleGenerator) Empty() bool {
	return g.count >= g.n
}

// randUint32 returns a uniform random value in [0, n) from the system CSPRNG.
func randUint32(n uint32) uint32 {
	if n <= 1 {
		return 0
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(errors.Wrap(err, "system random source failed"))
	}
	return uint32(binary.LittleEndian.Uint64(buf[:]) % uint64(n))
}
