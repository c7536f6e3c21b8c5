package crypto

import (
	"filippo.io/edwards25519"
)

// lsagChecker verifies the node's linkable ring signatures over the
// edwards25519 group. A signature is one (c, r) scalar pair per ring member;
// verification recomputes the commitment chain and compares the challenge
// sum against the hash of the transcript.
type lsagChecker struct{}

// NewRingChecker returns the production ring signature checker.
func NewRingChecker() RingSignatureChecker {
	return lsagChecker{}
}

func (lsagChecker) CheckRingSignature(prefixHash Hash, keyImage KeyImage,
	ring []PublicKey, signatures []Signature) bool {

	if len(ring) == 0 || len(signatures) != len(ring) {
		return false
	}

	imagePoint, err := new(edwards25519.Point).SetBytes(keyImage[:])
	if err != nil {
		return false
	}

	transcript := make([]byte, 0, HashSize+len(ring)*64)
	transcript = append(transcript, prefixHash[:]...)

	challengeSum := edwards25519.NewScalar()

	for i, member := range ring {
		c, err := scalarFromBytes(signatures[i][:32])
		if err != nil {
			return false
		}
		r, err := scalarFromBytes(signatures[i][32:])
		if err != nil {
			return false
		}

		memberPoint, err := new(edwards25519.Point).SetBytes(member[:])
		if err != nil {
			return false
		}

		// L_i = r_i*G + c_i*P_i
		commitment := new(edwards25519.Point).VarTimeDoubleScalarBaseMult(c, memberPoint, r)

		// R_i = r_i*Hp(P_i) + c_i*I
		keyHashPoint := hashToPoint(member)
		linkLeft := new(edwards25519.Point).ScalarMult(r, keyHashPoint)
		linkRight := new(edwards25519.Point).ScalarMult(c, imagePoint)
		link := new(edwards25519.Point).Add(linkLeft, linkRight)

		transcript = append(transcript, commitment.Bytes()...)
		transcript = append(transcript, link.Bytes()...)
		challengeSum.Add(challengeSum, c)
	}

	expected := hashToScalar(transcript)
	return challengeSum.Equal(expected) == 1
}

func scalarFromBytes(b []byte) (*edwards25519.Scalar, error) {
	return edwards25519.NewScalar().SetCanonicalBytes(b)
}

// hashToScalar maps arbitrary bytes onto the scalar field via a widened
// Keccak digest.
func hashToScalar(data []byte) *edwards25519.Scalar {
	first := HashData(data)
	second := HashData(first[:])

	var wide [64]byte
	copy(wide[:32], first[:])
	copy(wide[32:], second[:])

	scalar, err := edwards25519.NewScalar().SetUniformBytes(wide[:])
	if err != nil {
		// SetUniformBytes only fails on a wrong input length.
		panic(err)
	}
	return scalar
}

// hashToPoint maps a public key onto the prime-order subgroup. The node's
// convention derives the point as Hs(P)*G.
func hashToPoint(key PublicKey) *edwards25519.Point {
	return new(edwards25519.Point).ScalarBaseMult(hashToScalar(key[:]))
}
