package bucketleak

import (
	"errors"
	"math/big"
	"testing"

	bkerrors "github.com/nullprobe/bucketleak/errors"
)

// TestSolveCRTRecoversArbitraryValues checks the combiner property: direct
// remainders of any 64-bit value across the nine fixed moduli fold back to
// exactly that value.
func TestSolveCRTRecoversArbitraryValues(t *testing.T) {
	rng := newTestRNG(t)
	values := []uint64{0, 1, fixedMarkerAddress, ^uint64(0)}
	for i := 0; i < 200; i++ {
		values = append(values, rng.Uint64())
	}

	for _, value := range values {
		records := make([]ResidueRecord, 0, len(tablePrimes))
		for _, m := range tablePrimes {
			records = append(records, ResidueRecord{Modulus: m, Remainder: value % m})
		}
		got, err := SolveCRT(records)
		if err != nil {
			t.Fatalf("value %#x: %v", value, err)
		}
		if got != value {
			t.Fatalf("value %#x: reconstructed %#x", value, got)
		}
	}
}

// TestSolveCRTPartialSets folds arbitrary coprime subsets and checks the
// result against a big.Int reference: the unique representative below the
// product of the participating moduli.
func TestSolveCRTPartialSets(t *testing.T) {
	rng := newTestRNG(t)
	moduli := Moduli()

	for i := 0; i < 500; i++ {
		value := rng.Uint64()

		// Pick a random subset of size >= 2, in random order.
		rng.Shuffle(len(moduli), func(a, b int) { moduli[a], moduli[b] = moduli[b], moduli[a] })
		size := 2 + int(rng.Uint64N(uint64(len(moduli)-1)))
		subset := moduli[:size]

		records := make([]ResidueRecord, 0, size)
		product := big.NewInt(1)
		for _, m := range subset {
			records = append(records, ResidueRecord{Modulus: m, Remainder: value % m})
			product.Mul(product, new(big.Int).SetUint64(m))
		}

		want := new(big.Int).Mod(new(big.Int).SetUint64(value), product).Uint64()
		got, err := SolveCRT(records)
		if err != nil {
			t.Fatalf("iter %d: %v", i, err)
		}
		if got != want {
			t.Fatalf("iter %d: subset %v of %#x folded to %d, want %d",
				i, subset, value, got, want)
		}
	}
}

func TestSolveCRTEmpty(t *testing.T) {
	if _, err := SolveCRT(nil); !errors.Is(err, bkerrors.ErrNoResidues) {
		t.Fatalf("err = %v, want ErrNoResidues", err)
	}
}

func TestSolveCRTRepeatedModulus(t *testing.T) {
	records := []ResidueRecord{
		{Modulus: 23, Remainder: 5},
		{Modulus: 41, Remainder: 7},
		{Modulus: 23, Remainder: 5},
	}
	if _, err := SolveCRT(records); !errors.Is(err, bkerrors.ErrNotCoprime) {
		t.Fatalf("err = %v, want ErrNotCoprime", err)
	}
}

func TestSolveCRTNonCoprimeComposites(t *testing.T) {
	records := []ResidueRecord{
		{Modulus: 12, Remainder: 5},
		{Modulus: 18, Remainder: 7},
	}
	if _, err := SolveCRT(records); !errors.Is(err, bkerrors.ErrNotCoprime) {
		t.Fatalf("err = %v, want ErrNotCoprime", err)
	}
}

func TestSolveCRTRejectsMalformedRecords(t *testing.T) {
	if _, err := SolveCRT([]ResidueRecord{{Modulus: 23, Remainder: 23}}); !errors.Is(err, bkerrors.ErrValueRange) {
		t.Fatalf("err = %v, want ErrValueRange for remainder == modulus", err)
	}
	records := []ResidueRecord{
		{Modulus: 23, Remainder: 1},
		{Modulus: 0, Remainder: 0},
	}
	if _, err := SolveCRT(records); !errors.Is(err, bkerrors.ErrValueRange) {
		t.Fatalf("err = %v, want ErrValueRange for zero modulus", err)
	}
}

func TestSolveCRTSingleRecord(t *testing.T) {
	got, err := SolveCRT([]ResidueRecord{{Modulus: 631, Remainder: 213}})
	if err != nil {
		t.Fatal(err)
	}
	if got != 213 {
		t.Fatalf("got %d, want 213", got)
	}
}
