package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Field is one top-level entry of a Document.
type Field struct {
	Key   string
	Value json.RawMessage
}

// Document is a JSON object whose key order is preserved. Values are kept as
// raw JSON and never interpreted beyond equality checks.
type Document []Field

// ParseDocument decodes a JSON object. Anything other than an object is
// rejected. A repeated key keeps its first position and its last value.
func ParseDocument(data []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.New("document must be a JSON object")
	}

	doc := Document{}
	index := map[string]int{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("read key: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("read value for %q: %w", key, err)
		}
		if i, seen := index[key]; seen {
			doc[i].Value = value
			continue
		}
		index[key] = len(doc)
		doc = append(doc, Field{Key: key, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("read document end: %w", err)
	}
	if dec.More() {
		return nil, errors.New("trailing data after document")
	}
	return doc, nil
}

// MustParseDocument is ParseDocument for literals in tests and fixtures.
func MustParseDocument(data string) Document {
	doc, err := ParseDocument([]byte(data))
	if err != nil {
		panic(err)
	}
	return doc
}

// Get returns the raw value stored under key.
func (d Document) Get(key string) (json.RawMessage, bool) {
	for _, field := range d {
		if field.Key == key {
			return field.Value, true
		}
	}
	return nil, false
}

// Keys returns the keys in document order.
func (d Document) Keys() []string {
	keys := make([]string, len(d))
	for i, field := range d {
		keys[i] = field.Key
	}
	return keys
}

// Equal reports whether d and other hold equal JSON values, ignoring order.
func (d Document) Equal(other Document) bool {
	left, err := json.Marshal(d)
	if err != nil {
		return false
	}
	right, err := json.Marshal(other)
	if err != nil {
		return false
	}
	return ValuesEqual(left, right)
}

// MarshalJSON writes the fields in order. A nil Document encodes as {}.
func (d Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, field := range d {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(field.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if len(field.Value) == 0 {
			buf.WriteString("null")
			continue
		}
		if err := json.Compact(&buf, field.Value); err != nil {
			return nil, fmt.Errorf("field %q: %w", field.Key, err)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object, keeping key order.
func (d *Document) UnmarshalJSON(data []byte) error {
	doc, err := ParseDocument(data)
	if err != nil {
		return err
	}
	*d = doc
	return nil
}

var _ json.Marshaler = Document{}
var _ json.Unmarshaler = (*Document)(nil)
