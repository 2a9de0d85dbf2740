// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package address

import "testing"

func TestRangeContainsAndIntersects(t *testing.T) {
	tcs := []struct {
		name       string
		r, other   Range[Relative]
		contains   bool
		intersects bool
	}{
		{
			name:       "identical",
			r:          MustNewRange(Relative(0), 10),
			other:      MustNewRange(Relative(0), 10),
			contains:   true,
			intersects: true,
		},
		{
			name:       "nested",
			r:          MustNewRange(Relative(0), 10),
			other:      MustNewRange(Relative(2), 4),
			contains:   true,
			intersects: true,
		},
		{
			name:       "adjacent, no overlap",
			r:          MustNewRange(Relative(0), 10),
			other:      MustNewRange(Relative(10), 5),
			contains:   false,
			intersects: false,
		},
		{
			name:       "partial overlap",
			r:          MustNewRange(Relative(0), 10),
			other:      MustNewRange(Relative(5), 10),
			contains:   false,
			intersects: true,
		},
		{
			name:       "disjoint",
			r:          MustNewRange(Relative(0), 10),
			other:      MustNewRange(Relative(100), 10),
			contains:   false,
			intersects: false,
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.r.Contains(tc.other); got != tc.contains {
				t.Errorf("Contains() = %v, want %v", got, tc.contains)
			}
			if got := tc.r.Intersects(tc.other); got != tc.intersects {
				t.Errorf("Intersects() = %v, want %v", got, tc.intersects)
			}
		})
	}
}

func TestNewRangeRejectsZeroSize(t *testing.T) {
	if _, ok := NewRange(Relative(0), 0); ok {
		t.Fatal("NewRange with size 0 should fail")
	}
}

func TestSpaceInsertRejectsOverlap(t *testing.T) {
	s := NewSpace[Relative, string]()

	if !s.Insert(MustNewRange(Relative(0), 10), "a") {
		t.Fatal("first insert should succeed")
	}
	if s.Insert(MustNewRange(Relative(5), 10), "b") {
		t.Fatal("overlapping insert should fail")
	}
	if !s.Insert(MustNewRange(Relative(10), 10), "b") {
		t.Fatal("adjacent, non-overlapping insert should succeed")
	}
	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
}

func TestSpaceRemoveExact(t *testing.T) {
	s := NewSpace[Relative, string]()
	r := MustNewRange(Relative(0), 10)
	s.Insert(r, "a")

	if s.RemoveExact(MustNewRange(Relative(1), 9)) {
		t.Fatal("RemoveExact with a non-matching key should fail")
	}
	if !s.RemoveExact(r) {
		t.Fatal("RemoveExact with the exact key should succeed")
	}
	if s.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", s.Len())
	}
}

func TestSpaceFindFirstIntersection(t *testing.T) {
	s := NewSpace[Relative, string]()
	s.Insert(MustNewRange(Relative(0), 10), "a")
	s.Insert(MustNewRange(Relative(20), 10), "b")
	s.Insert(MustNewRange(Relative(40), 10), "c")

	tcs := []struct {
		name    string
		query   Range[Relative]
		want    string
		wantOK  bool
	}{
		{"exact match", MustNewRange(Relative(20), 10), "b", true},
		{"overlaps predecessor", MustNewRange(Relative(5), 2), "a", true},
		{"overlaps successor boundary", MustNewRange(Relative(18), 4), "b", true},
		{"in a gap", MustNewRange(Relative(11), 2), "", false},
		{"past everything", MustNewRange(Relative(100), 2), "", false},
		{"before everything", MustNewRange(Relative(0), 1), "a", true},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			_, v, ok := s.FindFirstIntersection(tc.query)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if ok && v != tc.want {
				t.Fatalf("v = %q, want %q", v, tc.want)
			}
		})
	}
}

func TestSpaceFindContaining(t *testing.T) {
	s := NewSpace[Relative, string]()
	s.Insert(MustNewRange(Relative(0), 10), "a")

	if _, _, ok := s.FindContaining(MustNewRange(Relative(2), 4)); !ok {
		t.Fatal("expected a containing range")
	}
	if _, _, ok := s.FindContaining(MustNewRange(Relative(8), 4)); ok {
		t.Fatal("partial overlap should not count as containing")
	}
}

func TestSpaceFindIntersecting(t *testing.T) {
	s := NewSpace[Relative, string]()
	s.Insert(MustNewRange(Relative(0), 10), "a")
	s.Insert(MustNewRange(Relative(10), 10), "b")
	s.Insert(MustNewRange(Relative(20), 10), "c")
	s.Insert(MustNewRange(Relative(100), 10), "d")

	entries := s.FindIntersecting(MustNewRange(Relative(5), 20))
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(entries))
	}
	for i, want := range []string{"a", "b", "c"} {
		if entries[i].Value != want {
			t.Errorf("entries[%d] = %q, want %q", i, entries[i].Value, want)
		}
	}
}
