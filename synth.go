package bucketleak

import (
	"github.com/nullprobe/bucketleak/internal/modmath"
)

// defaultScanMultiple bounds the fallback key scan to modulus * 128
// candidates. Generous enough that every bucket of an unstructured hash is
// reached with overwhelming probability, small enough that the scan
// terminates quickly when a bucket is genuinely unreachable.
const defaultScanMultiple = 128

// Synthesizer produces numeric keys that land in requested buckets under a
// calibrated hash model. It holds no mutable state and is safe for
// concurrent use.
type Synthesizer struct {
	model Model
	hash  HashFunc
	scan  uint64 // scan bound as a multiple of the modulus
}

// NewSynthesizer builds a Synthesizer for the given model and hash.
// scanMultiple bounds the fallback brute-force search to
// modulus*scanMultiple candidate values; zero selects the default.
func NewSynthesizer(model Model, h HashFunc, scanMultiple uint64) *Synthesizer {
	if scanMultiple == 0 {
		scanMultiple = defaultScanMultiple
	}
	return &Synthesizer{model: model, hash: h, scan: scanMultiple}
}

// Model returns the calibrated model the synthesizer was built with.
func (s *Synthesizer) Model() Model {
	return s.model
}

// KeyForBucket returns a key value whose hash lands in bucket under the
// given modulus, and whether one was found. "Not found" is an expected
// outcome (the bucket may be unreachable once the target mitigates the
// affine hash), so it is reported as ok=false rather than an error.
//
// Under the affine model the key is computed directly from the modular
// inverse of the multiplier and verified against the real hash; a
// verification mismatch falls through to the bounded scan rather than
// trusting the model.
func (s *Synthesizer) KeyForBucket(bucket, modulus uint64) (uint64, bool) {
	if modulus == 0 || bucket >= modulus {
		return 0, false
	}

	if s.model.Linear {
		if key, ok := s.linearKey(bucket, modulus); ok {
			return key, true
		}
	}
	return s.scanKey(bucket, modulus)
}

// linearKey inverts hash(k) = k * multiplier modulo the table size:
// k = bucket * multiplier^-1 mod modulus.
func (s *Synthesizer) linearKey(bucket, modulus uint64) (uint64, bool) {
	inv, ok := modmath.Inverse(s.model.Multiplier, modulus)
	if !ok {
		return 0, false
	}
	key := modmath.MulMod(bucket, inv, modulus)
	// Verify against the real hash, not the model. With key < modulus and
	// a 32-bit multiplier the product never wraps at 64 bits; if the hash
	// wraps anyway the model is stale and the caller falls back to the
	// bounded scan.
	if s.hash(key)%modulus != bucket {
		return 0, false
	}
	return key, true
}

// scanKey walks candidate keys in increasing order until one hashes into
// the target bucket or the scan bound is exhausted.
func (s *Synthesizer) scanKey(bucket, modulus uint64) (uint64, bool) {
	limit := modulus * s.scan
	for key := uint64(0); key < limit; key++ {
		if s.hash(key)%modulus == bucket {
			return key, true
		}
	}
	return 0, false
}
