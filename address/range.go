// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package address

// Range is a half-open interval [start, start+size) over one of the Addr
// kinds. A zero-size range is never constructed; see NewRange.
type Range[A Addr] struct {
	start A
	size  uint32
}

// NewRange builds a Range, reporting false if size is zero rather than
// panicking: callers that compute a size dynamically (from symbol or
// section data) treat a zero result as "nothing to insert", not a bug.
func NewRange[A Addr](start A, size uint32) (Range[A], bool) {
	if size == 0 {
		return Range[A]{}, false
	}
	return Range[A]{start: start, size: size}, true
}

// MustNewRange is NewRange for call sites that have already checked size
// is non-zero (e.g. a literal constant in a test).
func MustNewRange[A Addr](start A, size uint32) Range[A] {
	r, ok := NewRange(start, size)
	if !ok {
		panic("address: zero-size range")
	}
	return r
}

// Start returns the inclusive lower bound of the range.
func (r Range[A]) Start() A { return r.start }

// Size returns the range's length in bytes.
func (r Range[A]) Size() uint32 { return r.size }

// End returns the exclusive upper bound of the range.
func (r Range[A]) End() A { return Add(r.start, int32(r.size)) }

// Contains reports whether other lies entirely within r.
func (r Range[A]) Contains(other Range[A]) bool {
	if other.start < r.start {
		return false
	}
	if other.End() > r.End() {
		return false
	}
	return true
}

// Intersects reports whether r and other share at least one byte.
func (r Range[A]) Intersects(other Range[A]) bool {
	if other.End() <= r.start {
		return false
	}
	if other.start >= r.End() {
		return false
	}
	return true
}

// Less implements the (start, size) strict weak ordering used to store
// ranges in an ordered map.
func (r Range[A]) Less(other Range[A]) bool {
	if r.start != other.start {
		return r.start < other.start
	}
	return r.size < other.size
}

// Equal reports whether r and other have the same start and size.
func (r Range[A]) Equal(other Range[A]) bool {
	return r.start == other.start && r.size == other.size
}

func (r Range[A]) String() string {
	return fmtAddr(r.start) + "+" + fmtAddr(A(r.size))
}
