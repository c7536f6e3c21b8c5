package crypto

// PublicKey is a 32-byte curve point identifying a one-time output key.
type PublicKey [32]byte

// SecretKey is a 32-byte scalar.
type SecretKey [32]byte

// KeyImage is the 32-byte tag derived from a one-time spend key. The set of
// key images seen on the main chain is what prevents double spends.
type KeyImage [32]byte

// Signature is one ring-signature element, covering a single ring member.
type Signature [64]byte

// RingSignatureChecker verifies a ring signature over a set of candidate
// output keys. The concrete group arithmetic lives outside the chain core;
// the core only relies on this contract.
type RingSignatureChecker interface {
	// CheckRingSignature reports whether signatures proves ownership of one
	// of the keys in ring for the transaction prefix hash and key image.
	CheckRingSignature(prefixHash Hash, keyImage KeyImage, ring []PublicKey, signatures []Signature) bool
}
