package bucketleak

import (
	"fmt"

	bkerrors "github.com/nullprobe/bucketleak/errors"
	"github.com/nullprobe/bucketleak/internal/modmath"
)

// SolveCRT folds the collected congruences into the unique value below the
// product of the moduli, via the iterative Chinese Remainder construction.
//
// The running solution and the running product are kept in 128 bits: the
// full nine-prime product exceeds 2^64, and the multiply-before-reduce
// steps must never wrap silently. Because the product of the fixed moduli
// exceeds 2^64, the folded value for a genuine 64-bit input is already the
// unique 64-bit representative; a folded value that does not fit in 64
// bits means the residues are inconsistent with any 64-bit value and is
// reported as ErrValueRange.
//
// Moduli must be pairwise coprime. With the fixed distinct-prime set the
// inverse in each folding step always exists; a missing inverse therefore
// indicates a repeated or non-coprime modulus in the input.
func SolveCRT(records []ResidueRecord) (uint64, error) {
	if len(records) == 0 {
		return 0, bkerrors.ErrNoResidues
	}

	first := records[0]
	if first.Modulus == 0 || first.Remainder >= first.Modulus {
		return 0, fmt.Errorf("%w: record 0 has remainder %d for modulus %d",
			bkerrors.ErrValueRange, first.Remainder, first.Modulus)
	}

	x := modmath.U128(first.Remainder)
	product := modmath.U128(first.Modulus)

	for i, rec := range records[1:] {
		m := rec.Modulus
		if m == 0 || rec.Remainder >= m {
			return 0, fmt.Errorf("%w: record %d has remainder %d for modulus %d",
				bkerrors.ErrValueRange, i+1, rec.Remainder, m)
		}

		productModM := product.Mod64(m)
		inv, ok := modmath.Inverse(productModM, m)
		if !ok {
			return 0, fmt.Errorf("%w: modulus %d shares a factor with the running product",
				bkerrors.ErrNotCoprime, m)
		}

		// k = (r - x) * product^-1 mod m, then x += k * product.
		diff := (rec.Remainder + m - x.Mod64(m)) % m
		k := modmath.MulMod(diff, inv, m)

		step, overflow := product.Mul64(k)
		if !overflow {
			x, overflow = x.Add(step)
		}
		if !overflow {
			product, overflow = product.Mul64(m)
		}
		if overflow {
			// Unreachable for the fixed prime set (product < 2^81), kept
			// as a guard against caller-supplied moduli.
			return 0, fmt.Errorf("%w: running product overflowed 128 bits at modulus %d",
				bkerrors.ErrValueRange, m)
		}
	}

	if !x.IsUint64() {
		return 0, fmt.Errorf("%w: folded value has high bits %#x",
			bkerrors.ErrValueRange, x.Hi)
	}
	return x.Lo, nil
}
