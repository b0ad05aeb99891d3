package tracker

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MaxMetadataValueLen bounds a single metadata value. The module's store
// rejects oversized fields, so the handle enforces the same limit up front.
const MaxMetadataValueLen = 1024

// Metadata is an in-memory handle on one area description's key/value
// annotations. Keys keep their first-insertion order. Mutations are local
// until the handle is persisted back through the service.
type Metadata struct {
	keys   []string
	values map[string]string
}

// NewMetadata returns an empty metadata handle.
func NewMetadata() *Metadata {
	return &Metadata{values: make(map[string]string)}
}

// Get returns the value for key and whether it is present.
func (m *Metadata) Get(key string) (string, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Set writes key to value in the handle. The write is rejected for an empty
// key or an oversized value.
func (m *Metadata) Set(key, value string) error {
	if key == "" {
		return fmt.Errorf("metadata key must not be empty")
	}
	if len(value) > MaxMetadataValueLen {
		return fmt.Errorf("metadata value for %q exceeds %d bytes", key, MaxMetadataValueLen)
	}
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
	return nil
}

// Keys returns the keys in insertion order.
func (m *Metadata) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Len returns the number of keys.
func (m *Metadata) Len() int { return len(m.keys) }

// Clone returns an independent copy of the handle.
func (m *Metadata) Clone() *Metadata {
	c := NewMetadata()
	for _, k := range m.keys {
		c.keys = append(c.keys, k)
		c.values[k] = m.values[k]
	}
	return c
}

// MarshalJSON renders the mapping as a JSON object in insertion order.
func (m *Metadata) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(m.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
