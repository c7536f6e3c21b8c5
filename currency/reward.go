package currency

import (
	"math/bits"

	"github.com/pkg/errors"
)

// ErrBlockTooBig is returned by BlockReward when the block exceeds twice the
// effective median size and earns no reward at all.
var ErrBlockTooBig = errors.New("block cumulative size is too big")

// BlockReward computes the reward of a block and the change to the emitted
// coin total. The base reward decays geometrically with the coins already
// generated; blocks larger than the effective median are penalized
// quadratically, and past the fee-penalization fork the same curve applies
// to the collected fees.
func (c *Currency) BlockReward(medianSize, currentBlockSize, alreadyGeneratedCoins,
	fee uint64, penalizeFee bool) (reward uint64, emissionChange uint64, err error) {

	baseReward := (c.MoneySupply - alreadyGeneratedCoins) >> c.EmissionSpeedFactor

	if medianSize < c.FullRewardZone {
		medianSize = c.FullRewardZone
	}
	if currentBlockSize > 2*medianSize {
		return 0, 0, errors.Wrapf(ErrBlockTooBig,
			"size %d, expected less than %d", currentBlockSize, 2*medianSize)
	}

	penalizedBaseReward := penalizedAmount(baseReward, medianSize, currentBlockSize)
	penalizedFee := fee
	if penalizeFee {
		penalizedFee = penalizedAmount(fee, medianSize, currentBlockSize)
	}

	emissionChange = penalizedBaseReward - (fee - penalizedFee)
	reward = penalizedBaseReward + penalizedFee
	return reward, emissionChange, nil
}

// penalizedAmount applies the penalty curve amount*(2*m*s - s*s)/(m*m) for a
// block of size s against effective median m. Sizes at or below the median
// pass the amount through unchanged.
func penalizedAmount(amount, medianSize, currentBlockSize uint64) uint64 {
	if currentBlockSize <= medianSize {
		return amount
	}

	// productHi:productLo = amount * (2*median - size) * size, carried in
	// 128 bits; both factors are bounded by 2*median so the first product
	// fits.
	productHi, productLo := bits.Mul64(amount, 2*medianSize-currentBlockSize)

	carryHi, lo := bits.Mul64(productLo, currentBlockSize)
	hi := productHi * currentBlockSize
	hi += carryHi

	medianSquaredHi, medianSquaredLo := bits.Mul64(medianSize, medianSize)

	penalized, _ := div128(hi, lo, medianSquaredHi, medianSquaredLo)
	return penalized
}

// div128 divides the 128-bit value aHi:aLo by the 128-bit value bHi:bLo,
// returning a 64-bit quotient. The divisor is a squared 64-bit value whose
// high word is small relative to the dividend in every reachable case.
func div128(aHi, aLo, bHi, bLo uint64) (quotient, remainder uint64) {
	if bHi == 0 {
		if aHi >= bLo {
			// Quotient would not fit 64 bits; saturate. Unreachable
			// for penalty inputs since amount/median ratios are
			// bounded, kept as a guard.
			return ^uint64(0), 0
		}
		return bits.Div64(aHi, aLo, bLo)
	}

	// Long division via shifted subtraction; at most 64 iterations since
	// the divisor's high word is nonzero.
	var q uint64
	rHi, rLo := aHi, aLo
	for shift := 63; shift >= 0; shift-- {
		sHi, sLo, overflow := shl128(bHi, bLo, uint(shift))
		if overflow {
			continue
		}
		if cmp128(rHi, rLo, sHi, sLo) >= 0 {
			rHi, rLo = sub128(rHi, rLo, sHi, sLo)
			q |= 1 << uint(shift)
		}
	}
	return q, rLo
}

func shl128(hi, lo uint64, shift uint) (uint64, uint64, bool) {
	if shift == 0 {
		return hi, lo, false
	}
	if shift >= 64 {
		return 0, 0, true
	}
	if hi>>(64-shift) != 0 {
		return 0, 0, true
	}
	return hi<<shift | lo>>(64-shift), lo << shift, false
}

func cmp128(aHi, aLo, bHi, bLo uint64) int {
	switch {
	case aHi != bHi:
		if aHi > bHi {
			return 1
		}
		return -1
	case aLo != bLo:
		if aLo > bLo {
			return 1
		}
		return -1
	}
	return 0
}

func sub128(aHi, aLo, bHi, bLo uint64) (uint64, uint64) {
	lo, borrow := bits.Sub64(aLo, bLo, 0)
	hi, _ := bits.Sub64(aHi, bHi, borrow)
	return hi, lo
}
