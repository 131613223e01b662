// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

// Package property provides the ordered string dictionary attached to
// devices, nodes and every object exported to the session host.
package property

import (
	"fmt"
	"sort"
	"strings"
)

// Item is a single key/value pair.
type Item struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// ReadOnly is the read view of a property dictionary. Hooks receive it where
// mutation is not allowed.
type ReadOnly interface {
	Get(key string) (string, bool)
	Len() int
	Keys() []string
	Items() []Item
}

// Properties is an insertion-ordered string to string mapping.
// The zero value is an empty dictionary ready to use. A nil *Properties reads
// as empty.
//
// Properties is not safe for concurrent mutation.
type Properties struct {
	keys   []string
	values map[string]string
}

// Compile-time interface check.
var _ ReadOnly = (*Properties)(nil)

// New creates an empty dictionary.
func New() *Properties {
	return &Properties{values: make(map[string]string)}
}

// FromPairs builds a dictionary from alternating keys and values.
// Panics on an odd number of arguments.
func FromPairs(kv ...string) *Properties {
	if len(kv)%2 != 0 {
		panic("property: FromPairs requires an even number of arguments")
	}
	p := New()
	for i := 0; i < len(kv); i += 2 {
		p.Set(kv[i], kv[i+1])
	}
	return p
}

// FromMap builds a dictionary from a map. Keys are inserted in sorted order so
// the result is deterministic.
func FromMap(m map[string]string) *Properties {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	p := New()
	for _, k := range keys {
		p.Set(k, m[k])
	}
	return p
}

// FromItems builds a dictionary from ordered items. Later duplicates win but
// keep the position of the first occurrence.
func FromItems(items []Item) *Properties {
	p := New()
	for _, it := range items {
		p.Set(it.Key, it.Value)
	}
	return p
}

// Copy returns a deep copy of src. A nil src yields an empty dictionary.
func Copy(src ReadOnly) *Properties {
	p := New()
	if src == nil {
		return p
	}
	if pp, ok := src.(*Properties); ok && pp == nil {
		return p
	}
	for _, it := range src.Items() {
		p.Set(it.Key, it.Value)
	}
	return p
}

// Copy returns a deep copy of the dictionary.
func (p *Properties) Copy() *Properties {
	return Copy(p)
}

// Get returns the value for key.
func (p *Properties) Get(key string) (string, bool) {
	if p == nil || p.values == nil {
		return "", false
	}
	v, ok := p.values[key]
	return v, ok
}

// Value returns the value for key or the empty string.
func (p *Properties) Value(key string) string {
	v, _ := p.Get(key)
	return v
}

// Set stores value under key. An existing key keeps its position.
func (p *Properties) Set(key, value string) {
	if p.values == nil {
		p.values = make(map[string]string)
	}
	if _, exists := p.values[key]; !exists {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
}

// Setf stores a formatted value under key.
func (p *Properties) Setf(key, format string, args ...any) {
	p.Set(key, fmt.Sprintf(format, args...))
}

// Unset removes key. Returns true if the key was present.
func (p *Properties) Unset(key string) bool {
	if p == nil || p.values == nil {
		return false
	}
	if _, exists := p.values[key]; !exists {
		return false
	}
	delete(p.values, key)
	for i, k := range p.keys {
		if k == key {
			p.keys = append(p.keys[:i], p.keys[i+1:]...)
			break
		}
	}
	return true
}

// Update merges other into p, last write wins per key.
// Returns the number of keys whose value changed or were added.
func (p *Properties) Update(other ReadOnly) int {
	if other == nil {
		return 0
	}
	changed := 0
	for _, it := range other.Items() {
		if old, ok := p.Get(it.Key); ok && old == it.Value {
			continue
		}
		p.Set(it.Key, it.Value)
		changed++
	}
	return changed
}

// Len returns the number of keys.
func (p *Properties) Len() int {
	if p == nil {
		return 0
	}
	return len(p.keys)
}

// Keys returns the keys in insertion order.
func (p *Properties) Keys() []string {
	if p == nil {
		return nil
	}
	keys := make([]string, len(p.keys))
	copy(keys, p.keys)
	return keys
}

// Items returns the pairs in insertion order.
func (p *Properties) Items() []Item {
	if p == nil {
		return nil
	}
	items := make([]Item, 0, len(p.keys))
	for _, k := range p.keys {
		items = append(items, Item{Key: k, Value: p.values[k]})
	}
	return items
}

// Map returns a copy of the dictionary as a plain map.
func (p *Properties) Map() map[string]string {
	m := make(map[string]string, p.Len())
	for _, it := range p.Items() {
		m[it.Key] = it.Value
	}
	return m
}

// String renders the dictionary as {k=v, ...} in insertion order.
func (p *Properties) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, it := range p.Items() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(it.Key)
		b.WriteByte('=')
		b.WriteString(it.Value)
	}
	b.WriteByte('}')
	return b.String()
}
