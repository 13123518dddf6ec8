// Package mediaref normalizes the heterogeneous media-reference shapes that
// page scraping produces. Different extraction paths yield a bare URL, a
// per-quality mapping, or a list mixing both, for logically the same asset;
// Flatten collapses all of them into one ordered, deduplicated URL list so
// downstream code never inspects shapes.
package mediaref

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Kind tags the variant held by a Ref.
type Kind int

const (
	KindNull Kind = iota
	KindScalar
	KindSequence
	KindMapping
)

// Entry is one key/value pair of a mapping Ref.
type Entry struct {
	Key   string
	Value Ref
}

// Ref is a tagged variant over the shapes a scraped media reference can take:
// absent/null, a scalar string, an ordered sequence, or a keyed mapping that
// remembers key encounter order. The zero value is the null reference.
type Ref struct {
	kind    Kind
	scalar  string
	seq     []Ref
	entries []Entry
}

// Null returns the absent reference.
func Null() Ref { return Ref{} }

// Scalar wraps a single URL string.
func Scalar(s string) Ref { return Ref{kind: KindScalar, scalar: s} }

// Sequence wraps an ordered list of references.
func Sequence(refs ...Ref) Ref { return Ref{kind: KindSequence, seq: refs} }

// Mapping wraps keyed references, preserving the given order.
func Mapping(entries ...Entry) Ref { return Ref{kind: KindMapping, entries: entries} }

// Kind returns the variant tag.
func (r Ref) Kind() Kind { return r.kind }

// IsNull reports whether the reference is absent.
func (r Ref) IsNull() bool { return r.kind == KindNull }

// Flatten walks the reference depth-first following each container's natural
// iteration order and returns the unique non-empty leaf strings. The first
// occurrence of a string wins for ordering; later duplicates are dropped.
func Flatten(r Ref) []string {
	out := make([]string, 0, 4)
	seen := make(map[string]struct{})
	flattenInto(r, &out, seen)
	return out
}

func flattenInto(r Ref, out *[]string, seen map[string]struct{}) {
	switch r.kind {
	case KindNull:
	case KindScalar:
		if r.scalar == "" {
			return
		}
		if _, dup := seen[r.scalar]; dup {
			return
		}
		seen[r.scalar] = struct{}{}
		*out = append(*out, r.scalar)
	case KindSequence:
		for _, child := range r.seq {
			flattenInto(child, out, seen)
		}
	case KindMapping:
		for _, entry := range r.entries {
			flattenInto(entry.Value, out, seen)
		}
	}
}

// UnmarshalJSON decodes an arbitrary scraped JSON value into the variant,
// preserving mapping key order as encountered in the document. Non-string
// scalars (numbers, booleans) are kept as their literal text so traversal
// stays total over whatever the scraper hands us.
func (r *Ref) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	ref, err := decodeValue(dec)
	if err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("trailing data after JSON value")
	}
	*r = ref
	return nil
}

func decodeValue(dec *json.Decoder) (Ref, error) {
	tok, err := dec.Token()
	if err != nil {
		return Ref{}, err
	}
	switch v := tok.(type) {
	case nil:
		return Null(), nil
	case string:
		return Scalar(v), nil
	case json.Number:
		return Scalar(v.String()), nil
	case bool:
		return Scalar(fmt.Sprintf("%t", v)), nil
	case json.Delim:
		switch v {
		case '[':
			var seq []Ref
			for dec.More() {
				child, err := decodeValue(dec)
				if err != nil {
					return Ref{}, err
				}
				seq = append(seq, child)
			}
			if _, err := dec.Token(); err != nil { // closing ]
				return Ref{}, err
			}
			return Sequence(seq...), nil
		case '{':
			var entries []Entry
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Ref{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Ref{}, fmt.Errorf("mediaref: unexpected mapping key %v", keyTok)
				}
				child, err := decodeValue(dec)
				if err != nil {
					return Ref{}, err
				}
				entries = append(entries, Entry{Key: key, Value: child})
			}
			if _, err := dec.Token(); err != nil { // closing }
				return Ref{}, err
			}
			return Mapping(entries...), nil
		}
	}
	return Ref{}, fmt.Errorf("mediaref: unexpected token %v", tok)
}

// MarshalJSON renders the variant back to JSON, keeping mapping key order.
func (r Ref) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeValue(&buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeValue(buf *bytes.Buffer, r Ref) error {
	switch r.kind {
	case KindNull:
		buf.WriteString("null")
	case KindScalar:
		b, err := json.Marshal(r.scalar)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindSequence:
		buf.WriteByte('[')
		for i, child := range r.seq {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeValue(buf, child); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindMapping:
		buf.WriteByte('{')
		for i, entry := range r.entries {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(entry.Key)
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := encodeValue(buf, entry.Value); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	}
	return nil
}
