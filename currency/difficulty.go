package currency

import (
	"math/bits"
	"sort"
)

// NextDifficulty computes the difficulty required of the next block from the
// timestamps and cumulative difficulties of recent blocks, both ordered from
// oldest to newest. The major version parameter is carried for forks that
// alter the retarget window; the current rule set is version independent.
func (c *Currency) NextDifficulty(majorVersion uint8, timestamps []uint64,
	cumulativeDifficulties []uint64) uint64 {

	window := c.DifficultyWindow

	// Work on the newest W entries of private copies.
	if len(timestamps) > window {
		timestamps = timestamps[len(timestamps)-window:]
		cumulativeDifficulties = cumulativeDifficulties[len(cumulativeDifficulties)-window:]
	}
	timestamps = append([]uint64(nil), timestamps...)

	length := len(timestamps)
	if length <= 1 {
		return 1
	}

	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })

	cutBegin, cutEnd := 0, length
	if length > window-2*c.DifficultyCut {
		cutBegin = (length - (window - 2*c.DifficultyCut) + 1) / 2
		cutEnd = cutBegin + (window - 2*c.DifficultyCut)
	}

	timeSpan := timestamps[cutEnd-1] - timestamps[cutBegin]
	if timeSpan == 0 {
		timeSpan = 1
	}

	totalWork := cumulativeDifficulties[cutEnd-1] - cumulativeDifficulties[cutBegin]

	hi, lo := bits.Mul64(totalWork, c.DifficultyTarget)
	if hi != 0 || lo+timeSpan-1 < lo {
		// Overflow signals the caller that the chain's work outgrew
		// 64-bit retargeting.
		return 0
	}

	return (lo + timeSpan - 1) / timeSpan
}
