// Copyright ©2023 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// s626-dump decodes and displays s626 scan data files.
//
// Usage: s626-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]
//
// Example:
//
//	$> s626-dump ./s626-001-2023-06-01-10h32m07s.raw
//	=== S626-ID 0x01 ===
//	cycle:            0
//	time:    2023-06-01T10:32:07.1234567Z
//	samples:          4
//	  adc[ 0] =   1023
//	  adc[ 1] =  -2048
//	  adc[ 2] =    512
//	  adc[ 3] =      0
//	[...]
package main // import "github.com/go-daq/sensoray/cmd/s626-dump"

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/go-daq/sensoray/internal/sformat"
)

func main() {
	log.SetPrefix("s626-dump: ")
	log.SetFlags(0)

	flag.Usage = func() {
		fmt.Printf(`s626-dump decodes and displays s626 scan data files.

Usage: s626-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]

Example:

 $> s626-dump ./s626-001-2023-06-01-10h32m07s.raw
 === S626-ID 0x01 ===
 cycle:            0
 time:    2023-06-01T10:32:07.1234567Z
 samples:          4
   adc[ 0] =   1023
   adc[ 1] =  -2048
   adc[ 2] =    512
   adc[ 3] =      0
 [...]

`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		log.Fatalf("missing path to input scan data file")
	}

	for _, fname := range flag.Args() {
		err := process(os.Stdout, fname)
		if err != nil {
			log.Fatalf("could not dump file %q: %+v", fname, err)
		}
	}
}

func process(w io.Writer, fname string) error {
	wbuf := bufio.NewWriter(w)
	defer wbuf.Flush()

	f, err := os.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open %q: %w", fname, err)
	}
	defer f.Close()

	dec := sformat.NewDecoder(f)
loop:
	for {
		var frame sformat.Frame
		err := dec.Decode(&frame)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break loop
			}
			return fmt.Errorf("could not decode frame: %w", err)
		}
		fmt.Fprintf(wbuf, "=== S626-ID 0x%02x ===\n", frame.DevID)
		fmt.Fprintf(wbuf, "cycle:   % 10d\n", frame.Cycle)
		fmt.Fprintf(wbuf, "time:    %v\n", time.Unix(0, int64(frame.Time)).UTC().Format(time.RFC3339Nano))
		fmt.Fprintf(wbuf, "samples: % 10d\n", len(frame.Data))

		for i, adc := range frame.Data {
			fmt.Fprintf(wbuf, "  adc[%2d] = % 6d\n", i, adc)
		}
	}

	return nil
}
