package bucketleak

import "testing"

// TestKeyForBucketAffineProperty checks the core synthesis property: for
// every fixed modulus and every bucket, the synthesized key's hash lands
// in that bucket.
func TestKeyForBucketAffineProperty(t *testing.T) {
	model := Calibrate(CFHash, 16)
	synth := NewSynthesizer(model, CFHash, 0)

	for _, modulus := range Moduli() {
		for bucket := uint64(0); bucket < modulus; bucket++ {
			key, ok := synth.KeyForBucket(bucket, modulus)
			if !ok {
				t.Fatalf("modulus %d bucket %d: no key under the affine model", modulus, bucket)
			}
			if got := (key * model.Multiplier) % modulus; got != bucket {
				t.Fatalf("modulus %d bucket %d: key %d lands in bucket %d",
					modulus, bucket, key, got)
			}
			if got := CFHash(key) % modulus; got != bucket {
				t.Fatalf("modulus %d bucket %d: key %d real hash lands in bucket %d",
					modulus, bucket, key, got)
			}
		}
	}
}

func TestKeyForBucketFallbackScan(t *testing.T) {
	model := Calibrate(scrambledHash, 16)
	if model.Linear {
		t.Fatal("fixture hash must be non-linear")
	}
	synth := NewSynthesizer(model, scrambledHash, 0)

	const modulus = 23
	for bucket := uint64(0); bucket < modulus; bucket++ {
		key, ok := synth.KeyForBucket(bucket, modulus)
		if !ok {
			t.Fatalf("bucket %d: scan exhausted for a well-distributed hash", bucket)
		}
		if got := scrambledHash(key) % modulus; got != bucket {
			t.Fatalf("bucket %d: key %d lands in bucket %d", bucket, key, got)
		}
	}
}

func TestKeyForBucketUnreachable(t *testing.T) {
	// A constant hash reaches exactly one bucket; every other bucket must
	// exhaust the bounded scan instead of looping forever.
	constant := func(uint64) uint64 { return 5 }
	synth := NewSynthesizer(Calibrate(constant, 16), constant, 4)

	const modulus = 23
	key, ok := synth.KeyForBucket(5, modulus)
	if !ok || constant(key)%modulus != 5 {
		t.Fatalf("bucket 5 should be reachable, got key %d ok %v", key, ok)
	}
	if _, ok := synth.KeyForBucket(6, modulus); ok {
		t.Fatal("bucket 6 should be unreachable under a constant hash")
	}
}

func TestKeyForBucketRejectsBadInput(t *testing.T) {
	synth := NewSynthesizer(Calibrate(CFHash, 16), CFHash, 0)
	if _, ok := synth.KeyForBucket(23, 23); ok {
		t.Error("bucket == modulus should not synthesize")
	}
	if _, ok := synth.KeyForBucket(0, 0); ok {
		t.Error("zero modulus should not synthesize")
	}
}

// TestKeyForBucketStaleModel forces a model whose multiplier disagrees
// with the real hash; verification must reject the direct computation and
// the scan must still find a correct key.
func TestKeyForBucketStaleModel(t *testing.T) {
	stale := Model{Multiplier: 7, Linear: true}
	synth := NewSynthesizer(stale, CFHash, 0)

	const modulus = 23
	for bucket := uint64(0); bucket < modulus; bucket++ {
		key, ok := synth.KeyForBucket(bucket, modulus)
		if !ok {
			t.Fatalf("bucket %d: no key", bucket)
		}
		if got := CFHash(key) % modulus; got != bucket {
			t.Fatalf("bucket %d: stale model produced unverified key %d (bucket %d)",
				bucket, key, got)
		}
	}
}
