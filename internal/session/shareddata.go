package session

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// SharedData is the insertion-ordered string-keyed map that accumulates
// stage results and seed values. Append-only in practice; overwriting a
// key keeps its original position. It JSON round-trips preserving key
// order, so serialized sessions resume byte-for-byte equivalent.
type SharedData struct {
	keys   []string
	values map[string]json.RawMessage
}

// NewSharedData returns an empty map.
func NewSharedData() *SharedData {
	return &SharedData{values: make(map[string]json.RawMessage)}
}

// Set marshals v and stores it under key.
func (d *SharedData) Set(key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("shared data %q: %w", key, err)
	}
	d.SetRaw(key, raw)
	return nil
}

// SetRaw stores a pre-marshaled value under key.
func (d *SharedData) SetRaw(key string, raw json.RawMessage) {
	if d.values == nil {
		d.values = make(map[string]json.RawMessage)
	}
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = raw
}

// Raw returns the stored JSON for key.
func (d *SharedData) Raw(key string) (json.RawMessage, bool) {
	if d == nil || d.values == nil {
		return nil, false
	}
	raw, ok := d.values[key]
	return raw, ok
}

// Value unmarshals the stored JSON for key into an interface{}.
func (d *SharedData) Value(key string) (interface{}, bool) {
	raw, ok := d.Raw(key)
	if !ok {
		return nil, false
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	return v, true
}

// Keys returns the keys in insertion order.
func (d *SharedData) Keys() []string {
	out := make([]string, len(d.keys))
	copy(out, d.keys)
	return out
}

// Len returns the number of stored keys.
func (d *SharedData) Len() int {
	return len(d.keys)
}

// MarshalJSON writes the map as a JSON object in insertion order.
func (d *SharedData) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range d.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(d.values[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object preserving its key order.
func (d *SharedData) UnmarshalJSON(data []byte) error {
	d.keys = nil
	d.values = make(map[string]json.RawMessage)

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("shared data: expected object, got %v", tok)
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("shared data: non-string key %v", keyTok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		d.SetRaw(key, raw)
	}
	// Consume closing brace.
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}
