package currency

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/amjuarez/bytecoin-sub001/crypto"
)

// Checkpoint pins a block index to a known-good hash. Blocks at or below the
// highest checkpoint bypass proof-of-work checking and can never be
// reorganized out.
type Checkpoint struct {
	Index uint32
	Hash  crypto.Hash
}

var mainNetCheckpoints = []Checkpoint{
	{1100, mustHash("990a83b3e77ba5def86311da34793e09fa3b0a2875571bd59449173fddf4e129")},
	{4200, mustHash("76af92fc41eadf9c99df91efc08011d0fce6f3f55b131da2449c187f432f91f7")},
	{11000, mustHash("970c15459e4d484166c36e303fcf35886e14633b40b1fe4e3f250eb03eaca1f8")},
	{22000, mustHash("ae9ab36c4ff2cf215d49ffa4358d108dd777b8897c2d873a064dc103fea2b5ab")},
	{33000, mustHash("3fac95a900e65391d693e2cb331a26c757595baac133b9fa24936dd50fc7465f")},
	{44000, mustHash("071a97648427ad25ec206ae7101534c9b011376f05dee04780b5edb22f9a919e")},
	{47000, mustHash("a2fda9ea94260ed7177aec5b74802606bc7800d4a1713f761ac71a0883b4b480")},
	{55000, mustHash("57f48bc9b2dddace94bddc8858cf1cdf5e68cc0db763d7ebcab71b388755e0ce")},
	{66000, mustHash("90a2bc9e75503d386d41c48e698d474c337291f8c4417d63e90a8b5727f06320")},
}

// AddCheckpoint extends the checkpoint table at runtime. Conflicting entries
// for an already-checkpointed index are rejected.
func (c *Currency) AddCheckpoint(index uint32, hash crypto.Hash) error {
	for _, cp := range c.checkpoints {
		if cp.Index == index {
			if cp.Hash == hash {
				return nil
			}
			return errors.Errorf("conflicting checkpoint for index %d", index)
		}
	}

	c.checkpoints = append(c.checkpoints, Checkpoint{Index: index, Hash: hash})
	// Keep the table ordered so HighestCheckpointIndex stays O(1).
	for i := len(c.checkpoints) - 1; i > 0 && c.checkpoints[i].Index < c.checkpoints[i-1].Index; i-- {
		c.checkpoints[i], c.checkpoints[i-1] = c.checkpoints[i-1], c.checkpoints[i]
	}
	return nil
}

// CheckpointAt returns the checkpoint hash for the given index, if any.
func (c *Currency) CheckpointAt(index uint32) (crypto.Hash, bool) {
	for _, cp := range c.checkpoints {
		if cp.Index == index {
			return cp.Hash, true
		}
	}
	return crypto.Hash{}, false
}

// HighestCheckpointIndex returns the index of the highest checkpoint, or
// zero when the table is empty.
func (c *Currency) HighestCheckpointIndex() uint32 {
	if len(c.checkpoints) == 0 {
		return 0
	}
	return c.checkpoints[len(c.checkpoints)-1].Index
}

// ParseCheckpoint parses an "INDEX:HASH" command line argument.
func ParseCheckpoint(arg string) (Checkpoint, error) {
	parts := strings.Split(arg, ":")
	if len(parts) != 2 {
		return Checkpoint{}, errors.Errorf("malformed checkpoint %q, want INDEX:HASH", arg)
	}

	index, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return Checkpoint{}, errors.Wrapf(err, "malformed checkpoint index %q", parts[0])
	}

	hash, err := crypto.NewHashFromStr(parts[1])
	if err != nil {
		return Checkpoint{}, errors.Wrapf(err, "malformed checkpoint hash %q", parts[1])
	}

	return Checkpoint{Index: uint32(index), Hash: *hash}, nil
}

func mustHash(s string) crypto.Hash {
	hash, err := crypto.NewHashFromStr(s)
	if err != nil {
		panic(err)
	}
	return *hash
}
