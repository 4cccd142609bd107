package bucketleak

// defaultMinResidues is the minimum number of succeeded moduli required
// before the CRT fold is attempted. Two residues already rule out most
// coincidental reconciliations; callers wanting guaranteed 64-bit
// uniqueness should require the full modulus set.
const defaultMinResidues = 2

// EngineOption is a functional option for configuring an Engine.
type EngineOption func(*engineConfig)

type engineConfig struct {
	hash         HashFunc
	moduli       []uint64
	workers      int
	minResidues  int
	sampleCount  int
	scanMultiple uint64
	recorder     *Recorder
}

func defaultEngineConfig() *engineConfig {
	return &engineConfig{
		hash:        CFHash,
		moduli:      Moduli(),
		workers:     1,
		minResidues: defaultMinResidues,
		sampleCount: defaultSampleCount,
	}
}

// WithHash sets the hash model of the system under test. Defaults to
// CFHash, the golden-ratio integer hash.
func WithHash(h HashFunc) EngineOption {
	return func(c *engineConfig) {
		c.hash = h
	}
}

// WithModuli overrides the probed table sizes. Values must be odd primes;
// the default nine-prime set is the only one whose product is guaranteed
// to exceed 2^64.
func WithModuli(moduli []uint64) EngineOption {
	return func(c *engineConfig) {
		c.moduli = append([]uint64(nil), moduli...)
	}
}

// WithWorkers sets the number of moduli probed in parallel. Work per
// modulus is independent after calibration, so parallelism only affects
// latency, never attribution.
func WithWorkers(n int) EngineOption {
	return func(c *engineConfig) {
		c.workers = n
	}
}

// WithMinResidues sets how many moduli must produce residues before the
// combination step runs. Fewer successes abort the reconstruction rather
// than risk a false answer.
func WithMinResidues(n int) EngineOption {
	return func(c *engineConfig) {
		c.minResidues = n
	}
}

// WithSampleCount sets how many small integers the calibrator observes.
func WithSampleCount(n int) EngineOption {
	return func(c *engineConfig) {
		c.sampleCount = n
	}
}

// WithScanMultiple bounds the fallback brute-force key search to
// modulus*n candidates per bucket.
func WithScanMultiple(n uint64) EngineOption {
	return func(c *engineConfig) {
		c.scanMultiple = n
	}
}

// WithRecorder persists every round-trip exchange to the recorder for
// later offline replay.
func WithRecorder(r *Recorder) EngineOption {
	return func(c *engineConfig) {
		c.recorder = r
	}
}
