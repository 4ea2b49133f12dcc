// Copyright ©2023 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command s626-lcio converts an s626 raw scan data file to an LCIO one.
package main // import "github.com/go-daq/sensoray/cmd/s626-lcio"

import (
	"compress/flate"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/go-daq/sensoray/internal/sformat"
	"github.com/go-daq/sensoray/internal/xcnv"
	"go-hep.org/x/hep/lcio"
)

var (
	msg = log.New(os.Stdout, "s626-lcio: ", 0)
)

func main() {
	var (
		oname = flag.String("o", "out.lcio", "path to output LCIO file")
		compr = flag.Int("lvl", flate.DefaultCompression, "compression level for output LCIO file")
		run   = flag.Int("run", -1, "run number (inferred from the file name if negative)")
	)

	flag.Usage = func() {
		fmt.Printf(`s626-lcio converts a raw scan stream to an LCIO event file.

Usage: s626-lcio [OPTIONS] file.raw

Example:

 $> s626-lcio -o out.lcio -lvl=9 ./s626-001-2023-06-01-10h32m07s.raw

Options:
`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		msg.Fatalf("missing input s626 raw file")
	}

	if *oname == "" {
		flag.Usage()
		msg.Fatalf("invalid output LCIO file name")
	}

	err := process(*oname, *compr, int32(*run), flag.Arg(0))
	if err != nil {
		msg.Fatalf("could not convert s626 file: %+v", err)
	}
}

func process(oname string, lvl int, run int32, fname string) error {
	f, err := os.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open s626 file: %w", err)
	}
	defer f.Close()

	if run < 0 {
		run, err = runNbrFrom(fname)
		if err != nil {
			return fmt.Errorf("could not infer run from %q: %w", fname, err)
		}
	}

	w, err := lcio.Create(oname)
	if err != nil {
		return fmt.Errorf("could not create output LCIO file: %w", err)
	}
	defer w.Close()

	w.SetCompressionLevel(lvl)

	err = xcnv.Scans2LCIO(w, sformat.NewDecoder(f), run, msg)
	if err != nil {
		return fmt.Errorf("could not convert s626 to LCIO: %w", err)
	}

	err = w.Close()
	if err != nil {
		return fmt.Errorf("could not close output LCIO file: %w", err)
	}

	return nil
}

// runNbrFrom extracts the device id from a run file name. Run files
// carry no run counter, so the device id stands in for it.
func runNbrFrom(fname string) (int32, error) {
	var (
		name = filepath.Base(fname)
		dev  int32
	)
	_, err := fmt.Sscanf(name, "s626-%d-", &dev)
	return dev, err
}
