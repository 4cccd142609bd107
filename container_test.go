package bucketleak

import (
	"errors"
	"testing"

	bkerrors "github.com/nullprobe/bucketleak/errors"
)

func TestBuildContainerParity(t *testing.T) {
	synth := NewSynthesizer(Calibrate(CFHash, 16), CFHash, 0)

	for _, modulus := range Moduli() {
		for _, pattern := range []Pattern{PatternEven, PatternOdd} {
			container, err := BuildContainer(synth, pattern, modulus)
			if err != nil {
				t.Fatalf("modulus %d pattern %s: %v", modulus, pattern, err)
			}
			if !container.Complete() {
				t.Fatalf("modulus %d pattern %s: missing buckets %v",
					modulus, pattern, container.MissingBuckets)
			}

			wantParity := pattern.firstBucket()
			seen := make(map[uint64]bool)
			for _, key := range container.Keys {
				bucket := CFHash(key) % modulus
				if bucket%2 != wantParity {
					t.Fatalf("modulus %d pattern %s: key %d occupies bucket %d of wrong parity",
						modulus, pattern, key, bucket)
				}
				if seen[bucket] {
					t.Fatalf("modulus %d pattern %s: bucket %d occupied twice",
						modulus, pattern, bucket)
				}
				seen[bucket] = true
			}

			wantKeys := int(modulus+1) / 2
			if pattern == PatternOdd {
				wantKeys = int(modulus-1) / 2
			}
			if len(container.Keys) != wantKeys {
				t.Fatalf("modulus %d pattern %s: %d keys, want %d",
					modulus, pattern, len(container.Keys), wantKeys)
			}
		}
	}
}

// TestBuildContainerBoundary pins the documented boundary case: modulus
// 23, EVEN pattern fills buckets 0,2,...,22 with 12 keys, and the
// serialized container carries 13 logical entries with the marker.
func TestBuildContainerBoundary(t *testing.T) {
	synth := NewSynthesizer(Calibrate(CFHash, 16), CFHash, 0)

	container, err := BuildContainer(synth, PatternEven, 23)
	if err != nil {
		t.Fatal(err)
	}
	if len(container.Keys) != 12 {
		t.Fatalf("got %d keys, want 12", len(container.Keys))
	}
	if container.EntryCount() != 13 {
		t.Fatalf("got %d entries, want 13", container.EntryCount())
	}

	data, err := EncodeArchive(container)
	if err != nil {
		t.Fatal(err)
	}
	keys, err := DecodeArchive(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 13 {
		t.Fatalf("decoded %d logical entries, want 13", len(keys))
	}
}

func TestBuildContainerReportsUnreachableBuckets(t *testing.T) {
	constant := func(uint64) uint64 { return 4 }
	synth := NewSynthesizer(Calibrate(constant, 16), constant, 2)

	container, err := BuildContainer(synth, PatternEven, 23)
	if err != nil {
		t.Fatal(err)
	}
	if container.Complete() {
		t.Fatal("constant hash cannot populate every even bucket")
	}
	if len(container.Keys) != 1 {
		t.Fatalf("got %d keys, want 1 (only bucket 4 is reachable)", len(container.Keys))
	}
	if len(container.MissingBuckets) != 11 {
		t.Fatalf("got %d missing buckets, want 11", len(container.MissingBuckets))
	}
}

func TestBuildContainerRejectsBadModulus(t *testing.T) {
	synth := NewSynthesizer(Calibrate(CFHash, 16), CFHash, 0)
	for _, modulus := range []uint64{0, 1, 2, 24} {
		if _, err := BuildContainer(synth, PatternEven, modulus); !errors.Is(err, bkerrors.ErrBadModulus) {
			t.Errorf("modulus %d: err = %v, want ErrBadModulus", modulus, err)
		}
	}
}

func TestPatternString(t *testing.T) {
	if PatternEven.String() != "even" || PatternOdd.String() != "odd" {
		t.Fatalf("got %q/%q", PatternEven, PatternOdd)
	}
}
