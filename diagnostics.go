package bucketleak

import (
	"encoding/binary"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/spaolacci/murmur3"
)

// Report characterizes the target's hash behavior before an investigative
// run. It is the library form of the preflight phase: if the technique no
// longer applies, the report says why instead of letting a run fail
// modulus by modulus.
type Report struct {
	// RunID tags the report so it can be correlated with recorded
	// corpora and logs from the same session.
	RunID       uuid.UUID
	GeneratedAt time.Time

	// Deterministic is true if repeated observations of the same value
	// hashed identically. Per-process randomization shows up here.
	Deterministic bool

	// Linear and Multiplier are the calibration result.
	Linear     bool
	Multiplier uint64

	// BucketPrediction is true if synthesized keys verifiably landed in
	// their target buckets across the fixed modulus set.
	BucketPrediction bool

	// MatchesXXHash64 and MatchesMurmur3 fingerprint known mitigation
	// shapes: a target that swapped the integer hash for a scrambled
	// one is identified by name rather than just "non-linear".
	MatchesXXHash64 bool
	MatchesMurmur3  bool

	// Vulnerable summarizes whether the reconstruction technique
	// applies to this target as-is.
	Vulnerable bool
}

// predictionBuckets is how many buckets per modulus the prediction probe
// verifies. Full coverage happens during the real run; the probe only
// needs enough spread to catch a broken model.
const predictionBuckets = 8

// Diagnose observes h and reports whether the address-reconstruction
// technique applies. samples below 2 selects the calibration default.
func Diagnose(h HashFunc, samples int) *Report {
	if samples < 2 {
		samples = defaultSampleCount
	}

	report := &Report{
		RunID:         uuid.New(),
		GeneratedAt:   time.Now().UTC(),
		Deterministic: true,
	}

	for i := 0; i < samples; i++ {
		v := uint64(i)
		if h(v) != h(v) {
			report.Deterministic = false
			break
		}
	}

	model := Calibrate(h, samples)
	report.Linear = model.Linear
	report.Multiplier = model.Multiplier

	report.MatchesXXHash64 = matchesScramble(h, samples, func(v uint64) uint64 {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], v)
		return xxhash.Sum64(buf[:])
	})
	report.MatchesMurmur3 = matchesScramble(h, samples, func(v uint64) uint64 {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], v)
		return murmur3.Sum64(buf[:])
	})

	if report.Deterministic {
		report.BucketPrediction = verifyBucketPrediction(model, h)
	}

	report.Vulnerable = report.Deterministic && report.Linear && report.BucketPrediction
	return report
}

// matchesScramble reports whether h agrees with the reference scrambler on
// every sampled value.
func matchesScramble(h HashFunc, samples int, ref func(uint64) uint64) bool {
	for i := 0; i < samples; i++ {
		if h(uint64(i)) != ref(uint64(i)) {
			return false
		}
	}
	return true
}

// verifyBucketPrediction synthesizes a handful of keys per fixed modulus
// and checks each against the real hash.
func verifyBucketPrediction(model Model, h HashFunc) bool {
	synth := NewSynthesizer(model, h, 0)
	for _, modulus := range tablePrimes {
		buckets := uint64(predictionBuckets)
		if buckets > modulus {
			buckets = modulus
		}
		for bucket := uint64(0); bucket < buckets; bucket++ {
			key, ok := synth.KeyForBucket(bucket, modulus)
			if !ok {
				return false
			}
			if h(key)%modulus != bucket {
				return false
			}
		}
	}
	return true
}
