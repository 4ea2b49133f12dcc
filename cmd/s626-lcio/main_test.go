// Copyright ©2023 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"compress/flate"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-daq/sensoray/internal/sformat"
)

func TestRunNbrFrom(t *testing.T) {
	for _, tc := range []struct {
		fname string
		run   int32
	}{
		{
			fname: "./s626-001-2023-06-01-10h32m07s.raw",
			run:   1,
		},
		{
			fname: "/some/dir/s626-063-2023-06-01-10h32m07s.raw",
			run:   63,
		},
		{
			fname: "../some/dir/s626-009-2023-06-01-10h32m07s.raw",
			run:   9,
		},
	} {
		t.Run(tc.fname, func(t *testing.T) {
			got, err := runNbrFrom(tc.fname)
			if err != nil {
				t.Fatalf("could not infer run number: %+v", err)
			}
			if got != tc.run {
				t.Fatalf("invalid run: got=%d, want=%d", got, tc.run)
			}
		})
	}
}

func TestScans2LCIO(t *testing.T) {
	tmp := t.TempDir()

	frames := []sformat.Frame{
		{
			DevID: 1,
			Cycle: 0,
			Time:  1685615527123456789,
			Data:  []int16{1023, -2048, 512, 0},
		},
		{
			DevID: 1,
			Cycle: 1,
			Time:  1685615527133456789,
			Data:  []int16{1022, -2047, 513, 1},
		},
	}

	fname := filepath.Join(tmp, "s626-001-2023-06-01-10h32m07s.raw")
	f, err := os.Create(fname)
	if err != nil {
		t.Fatalf("could not create raw scan file: %+v", err)
	}
	defer f.Close()

	enc := sformat.NewEncoder(f)
	for i := range frames {
		err = enc.Encode(&frames[i])
		if err != nil {
			t.Fatalf("could not encode frame %d: %+v", i, err)
		}
	}

	err = f.Close()
	if err != nil {
		t.Fatalf("could not close raw scan file: %+v", err)
	}

	err = process(fname+".lcio", flate.DefaultCompression, -1, fname)
	if err != nil {
		t.Fatalf("could not convert scan file: %+v", err)
	}
}
