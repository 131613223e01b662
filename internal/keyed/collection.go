// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

// Package keyed provides an id-indexed, insertion-ordered collection.
//
// Cardinalities are bounded by the hardware inventory, so lookups are a
// linear scan over a slice.
package keyed

import "errors"

// ErrDuplicateID is returned when inserting an entry whose id is already present.
var ErrDuplicateID = errors.New("id already present in collection")

// Entry is anything carrying a backend-assigned id.
type Entry interface {
	ID() uint32
}

// Collection holds entries keyed by id in insertion order.
// The zero value is an empty collection ready to use.
type Collection[E Entry] struct {
	entries []E
}

// Find returns the entry with the given id.
func (c *Collection[E]) Find(id uint32) (E, bool) {
	if i := c.index(id); i >= 0 {
		return c.entries[i], true
	}
	var zero E
	return zero, false
}

// Insert appends e. Returns ErrDuplicateID if its id is already present.
func (c *Collection[E]) Insert(e E) error {
	if c.index(e.ID()) >= 0 {
		return ErrDuplicateID
	}
	c.entries = append(c.entries, e)
	return nil
}

// Remove deletes and returns the entry with the given id.
func (c *Collection[E]) Remove(id uint32) (E, bool) {
	i := c.index(id)
	if i < 0 {
		var zero E
		return zero, false
	}
	e := c.entries[i]
	c.entries = append(c.entries[:i], c.entries[i+1:]...)
	return e, true
}

// Len returns the number of entries.
func (c *Collection[E]) Len() int {
	return len(c.entries)
}

// Each calls fn for each entry in insertion order until fn returns false.
// fn must not mutate the collection.
func (c *Collection[E]) Each(fn func(E) bool) {
	for _, e := range c.entries {
		if !fn(e) {
			return
		}
	}
}

// IDs returns the ids in insertion order.
func (c *Collection[E]) IDs() []uint32 {
	ids := make([]uint32, len(c.entries))
	for i, e := range c.entries {
		ids[i] = e.ID()
	}
	return ids
}

// Drain empties the collection and returns its former entries in insertion
// order. Teardown iterates the returned slice, so entries released during
// iteration cannot shift it.
func (c *Collection[E]) Drain() []E {
	out := c.entries
	c.entries = nil
	return out
}

func (c *Collection[E]) index(id uint32) int {
	for i, e := range c.entries {
		if e.ID() == id {
			return i
		}
	}
	return -1
}
