// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decompose

import "regexp"

// StaticInitRange names a pair of public symbols bracketing a static
// initializer array (e.g. "__xi_a"/"__xi_z"), per spec.md §4.3.4.
type StaticInitRange struct {
	Begin *regexp.Regexp
	End   *regexp.Regexp
}

// ImportThunkKey identifies a (module, function) import thunk treated
// as non-returning regardless of its own symbol metadata.
type ImportThunkKey struct {
	Module   string
	Function string
}

// Options configures one call to Decompose, mirroring the caller-facing
// knobs spec.md §6 lists alongside the decompose entry point.
type Options struct {
	// StaticInitRanges lists symbol-name regex pairs whose bracketed
	// byte range must remain one contiguous block.
	StaticInitRanges []StaticInitRange
	// ExtraNonReturningFunctions names additional functions (by
	// undecorated name) to treat as non-returning.
	ExtraNonReturningFunctions map[string]bool
	// ExtraNonReturningImports names additional import thunks to treat
	// as non-returning.
	ExtraNonReturningImports map[ImportThunkKey]bool
	// EnforceDecompositionChecking is carried in the options but
	// Decompose does not read it; no check changes with it.
	// basicblock.Decompose takes its own enforce argument instead.
	EnforceDecompositionChecking bool
}
