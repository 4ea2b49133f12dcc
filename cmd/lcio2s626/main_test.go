// Copyright ©2023 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/go-daq/sensoray/internal/sformat"
	"github.com/go-daq/sensoray/internal/xcnv"
	"go-hep.org/x/hep/lcio"
)

func TestLCIO2S626(t *testing.T) {
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

	raw := new(bytes.Buffer)
	enc := sformat.NewEncoder(raw)
	for i := range frames {
		err := enc.Encode(&frames[i])
		if err != nil {
			t.Fatalf("could not encode frame %d: %+v", i, err)
		}
	}

	const run = 1
	lname := filepath.Join(tmp, "scans.lcio")
	lw, err := lcio.Create(lname)
	if err != nil {
		t.Fatalf("could not create LCIO file: %+v", err)
	}
	defer lw.Close()

	err = xcnv.Scans2LCIO(lw, sformat.NewDecoder(raw), run, log.Default())
	if err != nil {
		t.Fatalf("could not convert to LCIO: %+v", err)
	}
	err = lw.Close()
	if err != nil {
		t.Fatalf("could not close LCIO file: %+v", err)
	}

	n, err := numEvents(lname)
	if err != nil {
		t.Fatalf("could not retrieve number of events: %+v", err)
	}
	if got, want := n, int64(len(frames)); got != want {
		t.Fatalf("invalid number of events: got=%d, want=%d", got, want)
	}

	oname := filepath.Join(tmp, "out.raw")
	err = process(oname, lname, 1)
	if err != nil {
		t.Fatalf("could not process LCIO->s626: %+v", err)
	}

	out, err := os.Open(oname)
	if err != nil {
		t.Fatalf("could not open output scan file: %+v", err)
	}
	defer out.Close()

	dec := sformat.NewDecoder(out)
	for i, want := range frames {
		var frame sformat.Frame
		err := dec.Decode(&frame)
		if err != nil {
			t.Fatalf("could not decode frame %d: %+v", i, err)
		}
		if !reflect.DeepEqual(frame, want) {
			t.Fatalf("invalid frame %d:\ngot= %+v\nwant=%+v", i, frame, want)
		}
	}

	var frame sformat.Frame
	if err := dec.Decode(&frame); !errors.Is(err, io.EOF) {
		t.Fatalf("invalid end of stream error: got=%+v, want=%+v", err, io.EOF)
	}
}
