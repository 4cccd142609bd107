// testutil_test.go holds shared test helpers: the deterministic per-test
// RNG and the reference hash models used to exercise the non-affine
// fallback paths.
package bucketleak

import (
	"encoding/binary"
	"hash/fnv"
	"math/rand/v2"
	"testing"

	"github.com/cespare/xxhash/v2"
)

// Named seeds for deterministic reproduction.
const (
	testSeed1 = 0x1234567890ABCDEF
	testSeed2 = 0xFEDCBA9876543210
)

func newTestRNG(t testing.TB) *rand.Rand {
	t.Helper()
	h := fnv.New128a()
	h.Write([]byte(t.Name()))
	sum := h.Sum(nil)
	s1 := binary.LittleEndian.Uint64(sum[:8])
	s2 := binary.LittleEndian.Uint64(sum[8:])
	return rand.New(rand.NewPCG(testSeed1^s1, testSeed2^s2))
}

// scrambledHash is a deterministic non-affine hash model, standing in for
// a target that mitigated the predictable integer hash.
func scrambledHash(v uint64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return xxhash.Sum64(buf[:])
}

// fixedMarkerAddress is the end-to-end fixture's true marker address.
const fixedMarkerAddress = uint64(0x00000001EB91AB60)
