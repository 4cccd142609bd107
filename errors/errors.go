// Package errors defines all exported error sentinels for the bucketleak
// library.
//
// This is the single source of truth for error values. The top-level
// bucketleak package, the sim package, and the command-line driver all
// import from here, ensuring errors.Is checks work across package
// boundaries.
package errors

import "errors"

// Synthesis and container construction errors.
var (
	ErrKeySynthesis = errors.New("bucketleak: no key reaches the target bucket")
	ErrKeyCollision = errors.New("bucketleak: two buckets synthesized the same key value")
	ErrBadModulus   = errors.New("bucketleak: modulus must be an odd prime greater than 2")
)

// Archive decode errors. Any of these signals a structural change in the
// system under test; the engine aborts rather than guessing past them.
var (
	ErrDecodeFormat  = errors.New("bucketleak: archive document violates the expected shape")
	ErrMarkerMissing = errors.New("bucketleak: archive contains no marker entry")
)

// Residue and combination errors.
var (
	ErrResidueDesync        = errors.New("bucketleak: marker positions do not reconcile to a bucket")
	ErrNoResidues           = errors.New("bucketleak: no residues to combine")
	ErrInsufficientResidues = errors.New("bucketleak: too few moduli produced residues")
	ErrNotCoprime           = errors.New("bucketleak: moduli are not pairwise coprime")
	ErrValueRange           = errors.New("bucketleak: combined value does not fit in 64 bits")
)

// Engine errors.
var (
	ErrRoundTrip = errors.New("bucketleak: round trip failed")
)

// Corpus errors.
var (
	ErrInvalidMagic    = errors.New("bucketleak: invalid corpus magic number")
	ErrInvalidVersion  = errors.New("bucketleak: unsupported corpus version")
	ErrCorruptedCorpus = errors.New("bucketleak: corpus record digest mismatch")
	ErrUnknownRequest  = errors.New("bucketleak: no recorded response for request")
	ErrRecorderClosed  = errors.New("bucketleak: recorder is closed")
)
