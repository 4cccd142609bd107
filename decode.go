package bucketleak

import (
	"fmt"

	bkerrors "github.com/nullprobe/bucketleak/errors"
)

// ArchiveKey is one logical key decoded from an archive document, in the
// container's serialized order.
type ArchiveKey struct {
	// Marker is true if the entry resolved to the well-known marker
	// object rather than a numeric key.
	Marker bool

	// Value is the numeric key value. Zero and meaningless when Marker
	// is true.
	Value uint64
}

// DecodeArchive parses a keyed-archive document back into the container's
// logical key order.
//
// The decoder is strict: a missing root, an out-of-range reference, an
// absent key-list field, or an entry of unexpected shape all return
// ErrDecodeFormat. The format deviating from these assumptions signals a
// behavioral change in the system under test (for example a mitigation)
// and must never be guessed past.
func DecodeArchive(data []byte) ([]ArchiveKey, error) {
	var doc archiveDocument
	if err := decMode.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", bkerrors.ErrDecodeFormat, err)
	}
	if len(doc.Objects) == 0 {
		return nil, fmt.Errorf("%w: empty object table", bkerrors.ErrDecodeFormat)
	}
	if doc.Top == nil {
		return nil, fmt.Errorf("%w: missing $top", bkerrors.ErrDecodeFormat)
	}

	rootRef, ok := doc.Top["root"]
	if !ok {
		return nil, fmt.Errorf("%w: missing root reference", bkerrors.ErrDecodeFormat)
	}
	rootVal, err := resolve(doc.Objects, rootRef)
	if err != nil {
		return nil, fmt.Errorf("root: %w", err)
	}
	record, ok := rootVal.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: root is not a record (got %T)",
			bkerrors.ErrDecodeFormat, rootVal)
	}

	entries, err := keyList(doc.Objects, record)
	if err != nil {
		return nil, err
	}

	keys := make([]ArchiveKey, 0, len(entries))
	for i, entry := range entries {
		value, err := resolve(doc.Objects, entry)
		if err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}
		key, err := interpretKey(doc.Objects, value)
		if err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// MarkerPosition returns the 0-based position of the single marker entry.
// No marker is ErrMarkerMissing; more than one means the document does not
// describe a container this engine built and is a format violation.
func MarkerPosition(keys []ArchiveKey) (int, error) {
	pos := -1
	for i, k := range keys {
		if !k.Marker {
			continue
		}
		if pos >= 0 {
			return 0, fmt.Errorf("%w: markers at positions %d and %d",
				bkerrors.ErrDecodeFormat, pos, i)
		}
		pos = i
	}
	if pos < 0 {
		return 0, bkerrors.ErrMarkerMissing
	}
	return pos, nil
}

// asReference reports whether v is the reference map {"$uid": n} and, if
// so, the referenced index.
func asReference(v any) (uint64, bool) {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return 0, false
	}
	raw, ok := m[uidField]
	if !ok {
		return 0, false
	}
	switch n := raw.(type) {
	case uint64:
		return n, true
	case int64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	default:
		return 0, false
	}
}

// resolve returns v itself if it is inline, or the referenced object table
// entry if v is a reference. References resolve exactly one level; chained
// references are a format violation, not followed.
func resolve(objects []any, v any) (any, error) {
	idx, isRef := asReference(v)
	if !isRef {
		return v, nil
	}
	if idx >= uint64(len(objects)) {
		return nil, fmt.Errorf("%w: reference %d out of range (table size %d)",
			bkerrors.ErrDecodeFormat, idx, len(objects))
	}
	resolved := objects[idx]
	if _, chained := asReference(resolved); chained {
		return nil, fmt.Errorf("%w: chained reference at index %d",
			bkerrors.ErrDecodeFormat, idx)
	}
	return resolved, nil
}

// keyList locates the container record's ordered key-reference field. The
// field may hold the list inline or point one level of indirection to a
// separate list record.
func keyList(objects []any, record map[string]any) ([]any, error) {
	raw, ok := record["NS.keys"]
	if !ok {
		return nil, fmt.Errorf("%w: container record has no key list",
			bkerrors.ErrDecodeFormat)
	}
	if entries, inline := raw.([]any); inline {
		return entries, nil
	}
	resolved, err := resolve(objects, raw)
	if err != nil {
		return nil, fmt.Errorf("key list: %w", err)
	}
	// A separate list record is either the list itself or a record with
	// the list under NS.objects.
	switch list := resolved.(type) {
	case []any:
		return list, nil
	case map[string]any:
		if entries, ok := list["NS.objects"].([]any); ok {
			return entries, nil
		}
	}
	return nil, fmt.Errorf("%w: key list field is neither inline nor a list record",
		bkerrors.ErrDecodeFormat)
}

// interpretKey classifies a resolved key entry as a numeric key or the
// marker. A record whose class descriptor resolves (possibly transitively)
// to the marker class is the marker regardless of its stored fields.
func interpretKey(objects []any, value any) (ArchiveKey, error) {
	switch v := value.(type) {
	case uint64:
		return ArchiveKey{Value: v}, nil
	case int64:
		if v < 0 {
			return ArchiveKey{}, fmt.Errorf("%w: negative numeric key %d",
				bkerrors.ErrDecodeFormat, v)
		}
		return ArchiveKey{Value: uint64(v)}, nil
	case map[string]any:
		marker, err := isMarkerRecord(objects, v)
		if err != nil {
			return ArchiveKey{}, err
		}
		if !marker {
			return ArchiveKey{}, fmt.Errorf("%w: record of unexpected class in key list",
				bkerrors.ErrDecodeFormat)
		}
		return ArchiveKey{Marker: true}, nil
	default:
		return ArchiveKey{}, fmt.Errorf("%w: key entry of unexpected type %T",
			bkerrors.ErrDecodeFormat, value)
	}
}

// isMarkerRecord resolves the record's class descriptor and walks the
// superclass chain looking for the marker class name. Chain length is
// bounded by the object table size to terminate on reference cycles.
func isMarkerRecord(objects []any, record map[string]any) (bool, error) {
	classRef, ok := record["$class"]
	if !ok {
		return false, fmt.Errorf("%w: record has no class descriptor",
			bkerrors.ErrDecodeFormat)
	}

	for depth := 0; depth <= len(objects); depth++ {
		resolved, err := resolve(objects, classRef)
		if err != nil {
			return false, fmt.Errorf("class descriptor: %w", err)
		}
		class, ok := resolved.(map[string]any)
		if !ok {
			return false, fmt.Errorf("%w: class descriptor is not a record (got %T)",
				bkerrors.ErrDecodeFormat, resolved)
		}

		name, ok := class["$classname"].(string)
		if !ok {
			return false, fmt.Errorf("%w: class record has no $classname",
				bkerrors.ErrDecodeFormat)
		}
		if name == markerClassName {
			return true, nil
		}
		if chain, ok := class["$classes"].([]any); ok {
			for _, c := range chain {
				if s, ok := c.(string); ok && s == markerClassName {
					return true, nil
				}
			}
		}

		super, ok := class["$superclass"]
		if !ok {
			return false, nil
		}
		classRef = super
	}
	return false, fmt.Errorf("%w: class descriptor chain does not terminate",
		bkerrors.ErrDecodeFormat)
}
