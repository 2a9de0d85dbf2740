// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command syzygy-decompose runs the macro and basic-block decomposers
// over one or more PE images and prints a summary of the resulting
// block graph.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/google/syzygy-sub008/basicblock"
	"github.com/google/syzygy-sub008/blockgraph"
	"github.com/google/syzygy-sub008/decompose"
	"github.com/google/syzygy-sub008/imagesource"
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: syzygy-decompose [options] file1.dll [file2.exe [...]]

ex:
 $> syzygy-decompose -bb ./foo.dll

options:
`,
		)
		flag.PrintDefaults()
		os.Exit(1)
	}
}

var (
	flagMapped = flag.Bool("mapped", false, "decode the PE header manually instead of via the saferwall/pe parser")
	flagBB     = flag.Bool("bb", false, "also run the basic-block decomposer over every code block")
	flagDiag   = flag.Bool("diag", false, "print every diagnostic, not just the counts")
	flagStrict = flag.Bool("strict", false, "turn basic-block decomposition checks into hard errors")
)

func main() {
	log.SetPrefix("syzygy-decompose: ")
	log.SetFlags(0)

	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
	}

	for i, fname := range flag.Args() {
		if i > 0 {
			fmt.Printf("\n")
		}
		process(fname)
	}
}

func process(fname string) {
	img, err := openImage(fname)
	if err != nil {
		log.Fatalf("could not open %q: %v", fname, err)
	}

	g, diags, err := decompose.Decompose(img, imagesource.NoSymbols{}, imagesource.SimpleX86Decoder{}, decompose.Options{})
	if err != nil {
		log.Fatalf("%s: decompose: %v", fname, err)
	}

	fmt.Printf("%s:\n", fname)
	printBlockSummary(g)
	printDiagnostics(diags)

	if *flagBB {
		runBasicBlockPass(g)
	}
}

func openImage(fname string) (imagesource.ImageSource, error) {
	if *flagMapped {
		return imagesource.OpenMapped(fname)
	}
	return imagesource.OpenPE(fname)
}

func printBlockSummary(g *blockgraph.BlockGraph) {
	counts := map[blockgraph.BlockKind]int{}
	var total uint32
	for _, b := range g.Blocks() {
		counts[b.Kind()]++
		total += b.Size()
	}

	fmt.Printf("  sections: %d\n", len(g.Sections()))
	fmt.Printf("  blocks:   %d (%d bytes)\n", len(g.Blocks()), total)
	kinds := make([]blockgraph.BlockKind, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	for _, k := range kinds {
		fmt.Printf("    %-10s %d\n", k, counts[k])
	}
}

func printDiagnostics(diags []decompose.Diagnostic) {
	var warnings, errors int
	for _, d := range diags {
		switch d.Severity {
		case decompose.SeverityWarning:
			warnings++
		case decompose.SeverityError:
			errors++
		}
	}
	fmt.Printf("  diagnostics: %d (%d warnings, %d errors)\n", len(diags), warnings, errors)
	if *flagDiag {
		for _, d := range diags {
			fmt.Printf("    %s\n", d)
		}
	}
}

func runBasicBlockPass(g *blockgraph.BlockGraph) {
	var blocks, failed int
	for _, b := range g.Blocks() {
		if b.Kind() != blockgraph.CodeBlock {
			continue
		}
		blocks++
		sg, err := basicblock.Decompose(b, imagesource.SimpleX86Decoder{}, *flagStrict)
		if err != nil {
			failed++
			if *flagDiag {
				fmt.Printf("    %s: basic-block decompose: %v\n", b.Name(), err)
			}
			continue
		}
		if *flagDiag {
			fmt.Printf("    %-24s %d basic blocks\n", b.Name(), len(sg.BasicBlocks()))
		}
	}
	fmt.Printf("  basic-block pass: %d code blocks, %d failed\n", blocks, failed)
}
