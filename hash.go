package bucketleak

// HashFunc models the numeric-key hash of the system under test. It must
// be deterministic for the duration of a run; the engine calls it both
// during calibration and when verifying synthesized keys.
type HashFunc func(value uint64) uint64

// cfHashMultiplier is the golden-ratio constant the target uses to hash
// integer keys. Hashes of small integers are exact multiples of it, which
// is what makes bucket placement predictable.
const cfHashMultiplier = 0x9e3779b9

// CFHash is the default hash model: value times the golden-ratio constant
// with ordinary 64-bit wraparound.
func CFHash(value uint64) uint64 {
	return value * cfHashMultiplier
}

// defaultSampleCount is the number of small integers observed during
// calibration. Affine models are fully determined by hash(1); the extra
// samples guard against piecewise behavior near zero.
const defaultSampleCount = 16

// Model is the calibrated hash model. It is immutable after calibration
// and safe to share across goroutines.
type Model struct {
	// Multiplier is hash(1), the affine constant candidate. Meaningful
	// only when Linear is true.
	Multiplier uint64

	// Linear reports whether hash(i) == i * Multiplier held for every
	// sampled i. When false, downstream key synthesis falls back to a
	// bounded scan.
	Linear bool
}

// Calibrate observes h over the integers [0, samples) and decides whether
// the model is affine. Calibration never fails: a non-affine hash is a
// valid, expected outcome (it means the target mitigated the technique)
// and simply switches synthesis to the fallback strategy.
//
// samples values below 2 are raised to the default, since at least
// hash(0) and hash(1) are needed to say anything at all.
func Calibrate(h HashFunc, samples int) Model {
	if samples < 2 {
		samples = defaultSampleCount
	}
	candidate := h(1)
	for i := 0; i < samples; i++ {
		if h(uint64(i)) != uint64(i)*candidate {
			return Model{Multiplier: candidate, Linear: false}
		}
	}
	return Model{Multiplier: candidate, Linear: true}
}
