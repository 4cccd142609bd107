package bucketleak

import (
	"fmt"

	bkerrors "github.com/nullprobe/bucketleak/errors"
)

// ResidueRecord is one recovered congruence: hash(marker) mod Modulus ==
// Remainder. Records accumulate across moduli and feed the CRT fold.
type ResidueRecord struct {
	Modulus   uint64
	Remainder uint64
}

// ExtractResidue reconciles the marker's observed positions in the even-
// and odd-pattern key orders of the same modulus into the marker's true
// bucket index.
//
// In a fully even-populated table the marker can only sit in an odd
// bucket, so its position Pe among bucket-sorted keys implies bucket
// 2*Pe-1; symmetrically the odd pattern implies bucket 2*Po. One of the
// two observations is displaced by exactly one probing step (the marker's
// true bucket was pre-occupied by that pattern), so the candidates must
// differ by one, modulo the table size. Any other relationship means the
// probing model desynchronized and the modulus is excluded rather than
// producing a wrong residue.
func ExtractResidue(evenKeys, oddKeys []ArchiveKey, modulus uint64) (ResidueRecord, error) {
	if modulus < 3 || modulus%2 == 0 {
		return ResidueRecord{}, fmt.Errorf("%w: %d", bkerrors.ErrBadModulus, modulus)
	}

	pe, err := MarkerPosition(evenKeys)
	if err != nil {
		return ResidueRecord{}, fmt.Errorf("even pattern: %w", err)
	}
	po, err := MarkerPosition(oddKeys)
	if err != nil {
		return ResidueRecord{}, fmt.Errorf("odd pattern: %w", err)
	}

	m := int64(modulus)
	evenCandidate := 2*int64(pe) - 1
	oddCandidate := 2 * int64(po)

	var bucket int64
	switch {
	case modSigned(evenCandidate+1, m) == oddCandidate:
		bucket = evenCandidate
	case modSigned(oddCandidate+1, m) == evenCandidate:
		bucket = oddCandidate
	case oddCandidate == m-1 && evenCandidate == 1:
		// The marker's true bucket is the table's last (even) slot: in
		// the even pattern its probe wrapped past bucket 0 to land on
		// bucket 1.
		bucket = oddCandidate
	default:
		return ResidueRecord{}, fmt.Errorf("%w: modulus %d, even position %d, odd position %d",
			bkerrors.ErrResidueDesync, modulus, pe, po)
	}

	if bucket < 0 || bucket >= m {
		return ResidueRecord{}, fmt.Errorf("%w: modulus %d, reconciled bucket %d out of range",
			bkerrors.ErrResidueDesync, modulus, bucket)
	}
	return ResidueRecord{Modulus: modulus, Remainder: uint64(bucket)}, nil
}

// modSigned returns a mod m normalized into [0, m).
func modSigned(a, m int64) int64 {
	a %= m
	if a < 0 {
		a += m
	}
	return a
}
