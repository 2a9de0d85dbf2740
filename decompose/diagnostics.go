// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decompose

import (
	"fmt"

	"github.com/google/syzygy-sub008/address"
	"github.com/google/syzygy-sub008/blockgraph"
)

// Severity classifies a Diagnostic, per spec.md §7's error-kind table.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// Diagnostic is one non-fatal observation produced during decomposition:
// an input inconsistency, an incomplete walk, a coverage gap, or an
// unvisited fixup. Decomposition entry points return a list of these
// alongside the populated graph rather than failing outright, per
// spec.md §7.
type Diagnostic struct {
	Severity Severity
	Block    blockgraph.BlockID
	Addr     address.Relative
	Message  string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("[%s] block=%d addr=%s: %s", d.Severity, d.Block, fmtRel(d.Addr), d.Message)
}

func fmtRel(a address.Relative) string {
	return fmt.Sprintf("0x%08x", uint32(a))
}

type diagSink struct {
	diags []Diagnostic
}

func (s *diagSink) add(sev Severity, block blockgraph.BlockID, addr address.Relative, format string, args ...interface{}) {
	s.diags = append(s.diags, Diagnostic{
		Severity: sev,
		Block:    block,
		Addr:     addr,
		Message:  fmt.Sprintf(format, args...),
	})
}
