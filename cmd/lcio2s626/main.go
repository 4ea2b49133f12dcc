// Copyright ©2023 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command lcio2s626 converts a LCIO file into an s626 raw scan data file.
package main // import "github.com/go-daq/sensoray/cmd/lcio2s626"

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-daq/sensoray/internal/xcnv"
	"go-hep.org/x/hep/lcio"
)

func main() {
	log.SetPrefix("lcio2s626: ")
	log.SetFlags(0)

	oname := flag.String("o", "out.raw", "path to output s626 raw file")

	flag.Usage = func() {
		fmt.Printf(`lcio2s626 converts an LCIO event file to a raw scan stream.

Usage: lcio2s626 [OPTIONS] file.lcio

Example:

 $> lcio2s626 -o out.raw ./input.lcio

Options:
`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		log.Fatalf("missing input LCIO file")
	}
	if *oname == "" {
		flag.Usage()
		log.Fatalf("invalid output s626 file name")
	}

	fname := flag.Arg(0)
	n, err := numEvents(fname)
	if err != nil {
		log.Fatalf("could not assess number of events: %+v", err)
	}
	log.Printf("converting %d scans from %s...", n, fname)

	err = process(*oname, fname, progressStep(n))
	if err != nil {
		log.Fatalf("could not convert LCIO file: %+v", err)
	}
}

// progressStep spaces the progress report lines of a conversion about
// a tenth of the stream apart.
func progressStep(n int64) int {
	if n < 10 {
		return 1
	}
	return int(n / 10)
}

func numEvents(fname string) (int64, error) {
	r, err := lcio.Open(fname)
	if err != nil {
		return 0, fmt.Errorf("could not open %q: %w", fname, err)
	}
	defer r.Close()

	var n int64
	for r.Next() {
		n++
	}

	err = r.Err()
	if err != nil && err != io.EOF {
		return 0, fmt.Errorf("could not assess number of events in %q: %w", fname, err)
	}

	return n, nil
}

func process(oname, fname string, freq int) error {
	r, err := lcio.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open LCIO file: %w", err)
	}
	defer r.Close()

	f, err := os.Create(oname)
	if err != nil {
		return fmt.Errorf("could not create output s626 file: %w", err)
	}
	defer f.Close()

	err = xcnv.LCIO2Scans(f, r, freq, log.Default())
	if err != nil {
		return fmt.Errorf("could not convert LCIO to s626: %w", err)
	}

	err = f.Close()
	if err != nil {
		return fmt.Errorf("could not close output s626 file: %w", err)
	}
	return nil
}
