// Package sim provides a reference implementation of the round-trip
// collaborator: an open-addressing keyed table with linear probing whose
// marker hash is a configurable address. It exists to validate the
// reconstruction engine against controlled fixtures and to power the CLI
// demo mode; it is not the system under test.
package sim

import (
	"context"
	"fmt"
	"sort"

	"github.com/nullprobe/bucketleak"
)

// Target simulates the deserialize/reserialize cycle of the system under
// test. Deserializing places keys into a hash table in archive order;
// reserializing emits them in bucket-scan order, which is the information
// leak the engine exploits.
type Target struct {
	// Hash is the numeric-key hash. Defaults to bucketleak.CFHash.
	Hash bucketleak.HashFunc

	// MarkerAddress is the marker object's address; the marker hashes to
	// its own address.
	MarkerAddress uint64
}

// tablePrimes mirrors the capacity progression of the simulated target.
var tablePrimes = []uint64{23, 41, 71, 127, 191, 251, 383, 631, 1087}

// tableSizeFor returns the prime capacity the target selects for the given
// entry count: the smallest prime keeping the table at most half full.
func tableSizeFor(count int) (uint64, error) {
	want := uint64(2*count - 3)
	for _, p := range tablePrimes {
		if p >= want {
			return p, nil
		}
	}
	return 0, fmt.Errorf("sim: no table size for %d entries", count)
}

// RoundTrip decodes the archive, rebuilds the table, and reserializes the
// keys in bucket order.
func (t *Target) RoundTrip(_ context.Context, archive []byte) ([]byte, error) {
	keys, err := bucketleak.DecodeArchive(archive)
	if err != nil {
		return nil, fmt.Errorf("sim: decode: %w", err)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("sim: empty container")
	}

	size, err := tableSizeFor(len(keys))
	if err != nil {
		return nil, err
	}

	hash := t.Hash
	if hash == nil {
		hash = bucketleak.CFHash
	}

	type slotKey struct {
		slot uint64
		key  bucketleak.ArchiveKey
	}
	occupied := make(map[uint64]bool, len(keys))
	placed := make([]slotKey, 0, len(keys))

	for _, key := range keys {
		h := t.MarkerAddress
		if !key.Marker {
			h = hash(key.Value)
		}
		slot := h % size
		probes := uint64(0)
		for occupied[slot] {
			slot = (slot + 1) % size
			probes++
			if probes > size {
				return nil, fmt.Errorf("sim: table of size %d overflowed", size)
			}
		}
		occupied[slot] = true
		placed = append(placed, slotKey{slot: slot, key: key})
	}

	sort.Slice(placed, func(i, j int) bool { return placed[i].slot < placed[j].slot })

	ordered := make([]bucketleak.ArchiveKey, len(placed))
	for i, p := range placed {
		ordered[i] = p.key
	}
	data, err := bucketleak.EncodeArchiveKeys(ordered)
	if err != nil {
		return nil, fmt.Errorf("sim: encode: %w", err)
	}
	return data, nil
}
