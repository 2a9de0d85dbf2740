// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package syzygylog provides the debug logger shared by the decompose,
// basicblock and imagesource packages, following the same discard-unless-enabled pattern each
// teacher package (wasm, validate) keeps to itself.
package syzygylog

import (
	"io"
	"log"
	"os"
)

// PrintDebugInfo toggles whether New's loggers write to stderr instead of
// discarding output. Flip it before constructing a logger; it has no
// effect on loggers already created.
var PrintDebugInfo = false

// New returns a *log.Logger tagged with prefix, writing to os.Stderr when
// PrintDebugInfo is set and discarding otherwise.
func New(prefix string) *log.Logger {
	var w io.Writer = io.Discard
	if PrintDebugInfo {
		w = os.Stderr
	}
	return log.New(w, prefix, log.Lshortfile)
}
