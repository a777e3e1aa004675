package shardclient

import (
	"errors"
	"fmt"
	"math"
)

// Document is a string-keyed metadata or command document attached to
// exactly one RPC. It is not persisted beyond that call.
type Document map[string]interface{}

// ErrNoSuchKey is returned by the Extract* helpers when the requested field
// is absent from the document. Callers that treat absence as a normal
// outcome must test for it with errors.Is.
var ErrNoSuchKey = errors.New("no such key")

// AsDocument converts a decoded document value to a Document. Nested
// documents come out of the msgpack decoder as plain maps, so both
// representations are accepted.
func AsDocument(v interface{}) (Document, bool) {
	switch d := v.(type) {
	case Document:
		return d, true
	case map[string]interface{}:
		return Document(d), true
	default:
		return nil, false
	}
}

// ExtractIntegerField reads an integer field from a document. Absence is
// reported as ErrNoSuchKey; a present field of a non-integer type is a
// type error. All integer widths the msgpack decoder may produce are
// accepted.
func ExtractIntegerField(doc Document, key string) (int64, error) {
	v, ok := doc[key]
	if !ok {
		return 0, fmt.Errorf("field %q: %w", key, ErrNoSuchKey)
	}

	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case uint:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("field %q: value %d overflows int64", key, n)
		}
		return int64(n), nil
	default:
		return 0, fmt.Errorf("field %q: expected an integer, got %T", key, v)
	}
}

// ExtractStringField reads a string field from a document. Absence is
// reported as ErrNoSuchKey.
func ExtractStringField(doc Document, key string) (string, error) {
	v, ok := doc[key]
	if !ok {
		return "", fmt.Errorf("field %q: %w", key, ErrNoSuchKey)
	}

	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q: expected a string, got %T", key, v)
	}
	return s, nil
}
