// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package address

import "github.com/google/btree"

// Entry is one (range, value) pair held by a Space.
type Entry[A Addr, V any] struct {
	Range Range[A]
	Value V
}

type item[A Addr, V any] struct {
	r Range[A]
	v V
}

func lessItem[A Addr, V any](a, b item[A, V]) bool {
	return a.r.Less(b.r)
}

// Space is an ordered map from non-overlapping Ranges to a payload value.
// It never stores two ranges that intersect. Queries run in O(log n + k)
// where k is the number of results, backed by a B-tree rather than a
// hand-rolled interval tree: with non-overlapping keys a plain ordered map
// is sufficient, exactly as the original implementation observes for its
// std::map-backed version (see address_space.h).
type Space[A Addr, V any] struct {
	tree *btree.BTreeG[item[A, V]]
}

// NewSpace returns an empty address space.
func NewSpace[A Addr, V any]() *Space[A, V] {
	return &Space[A, V]{tree: btree.NewG(32, lessItem[A, V])}
}

// Insert adds range -> value unless range intersects an already-stored
// range, in which case it returns false and leaves the space unchanged.
func (s *Space[A, V]) Insert(r Range[A], v V) bool {
	if _, _, ok := s.FindFirstIntersection(r); ok {
		return false
	}
	s.tree.ReplaceOrInsert(item[A, V]{r: r, v: v})
	return true
}

// RemoveExact removes the entry whose key equals r exactly.
func (s *Space[A, V]) RemoveExact(r Range[A]) bool {
	_, found := s.tree.Delete(item[A, V]{r: r})
	return found
}

// Get returns the value stored at the exact key r.
func (s *Space[A, V]) Get(r Range[A]) (V, bool) {
	it, ok := s.tree.Get(item[A, V]{r: r})
	return it.v, ok
}

// Len returns the number of stored ranges.
func (s *Space[A, V]) Len() int { return s.tree.Len() }

// FindFirstIntersection returns the lowest-keyed stored range intersecting
// r, mirroring AddressSpace<>::FindFirstIntersection: locate the first
// entry with key >= r; if it or its predecessor intersects, return it;
// otherwise report not-found.
func (s *Space[A, V]) FindFirstIntersection(r Range[A]) (Range[A], V, bool) {
	var (
		itFound item[A, V]
		hasIt   bool
	)
	s.tree.AscendGreaterOrEqual(item[A, V]{r: r}, func(cur item[A, V]) bool {
		itFound = cur
		hasIt = true
		return false
	})

	if hasIt && itFound.r.Equal(r) {
		return itFound.r, itFound.v, true
	}

	var (
		prevFound item[A, V]
		hasPrev   bool
		skip      = hasIt
		pivot     = item[A, V]{r: r}
	)
	if hasIt {
		pivot = itFound
	}
	s.tree.DescendLessOrEqual(pivot, func(cur item[A, V]) bool {
		if skip {
			skip = false
			return true
		}
		prevFound = cur
		hasPrev = true
		return false
	})

	if hasPrev && prevFound.r.Intersects(r) {
		return prevFound.r, prevFound.v, true
	}
	if hasIt && itFound.r.Intersects(r) {
		return itFound.r, itFound.v, true
	}

	var zero V
	return Range[A]{}, zero, false
}

// FindContaining returns the stored range that contains r in its
// entirety, if any.
func (s *Space[A, V]) FindContaining(r Range[A]) (Range[A], V, bool) {
	rng, v, ok := s.FindFirstIntersection(r)
	if !ok || !rng.Contains(r) {
		var zero V
		return Range[A]{}, zero, false
	}
	return rng, v, true
}

// FindIntersecting returns every stored entry intersecting r, in
// ascending key order. Because stored ranges never overlap, entries
// intersecting r form one contiguous run starting at
// FindFirstIntersection, so this still runs in O(log n + k).
func (s *Space[A, V]) FindIntersecting(r Range[A]) []Entry[A, V] {
	first, _, ok := s.FindFirstIntersection(r)
	if !ok {
		return nil
	}
	var result []Entry[A, V]
	s.tree.AscendGreaterOrEqual(item[A, V]{r: first}, func(cur item[A, V]) bool {
		if !cur.r.Intersects(r) {
			return false
		}
		result = append(result, Entry[A, V]{Range: cur.r, Value: cur.v})
		return true
	})
	return result
}

// Ranges returns every stored entry in ascending key order.
func (s *Space[A, V]) Ranges() []Entry[A, V] {
	result := make([]Entry[A, V], 0, s.tree.Len())
	s.tree.Ascend(func(cur item[A, V]) bool {
		result = append(result, Entry[A, V]{Range: cur.r, Value: cur.v})
		return true
	})
	return result
}
