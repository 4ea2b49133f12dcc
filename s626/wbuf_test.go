// Copyright ©2023 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package s626

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/go-daq/sensoray/internal/sformat"
	"github.com/go-daq/sensoray/s626/internal/regs"
)

func TestWBuf(t *testing.T) {
	w := &wbuf{p: make([]byte, 8)}
	n, err := w.Write(make([]byte, 9))
	if err != nil {
		t.Fatalf("could not write: %+v", err)
	}
	if got, want := n, 8; got != want {
		t.Fatalf("invalid write size: got=%d, want=%d", got, want)
	}
	n, err = w.Write([]byte{1})
	if !errors.Is(err, io.EOF) {
		t.Fatalf("invalid write error: got=%+v, want=%+v", err, io.EOF)
	}
	if n != 0 {
		t.Fatalf("invalid write size: got=%d, want=0", n)
	}
}

func TestDAQSendScan(t *testing.T) {
	dev, _, _ := newTestDevice(t)

	cli, srv := net.Pipe()
	defer cli.Close()
	defer srv.Close()

	type result struct {
		frame sformat.Frame
		err   error
	}
	out := make(chan result, 1)
	go func() {
		var res result
		defer func() { out <- res }()

		hdr := make([]byte, 8)
		if _, res.err = io.ReadFull(srv, hdr); res.err != nil {
			return
		}
		if string(hdr[:4]) != "HDR\x00" {
			res.err = fmt.Errorf("invalid header magic %q", hdr[:4])
			return
		}
		body := make([]byte, binary.LittleEndian.Uint32(hdr[4:]))
		if _, res.err = io.ReadFull(srv, body); res.err != nil {
			return
		}
		if res.err = sformat.NewDecoder(bytes.NewReader(body)).Decode(&res.frame); res.err != nil {
			return
		}
		_, res.err = srv.Write([]byte("ACK\x00"))
	}()

	scan := Scan{
		Seq:     7,
		Time:    time.Unix(0, 1700000000000000000),
		Samples: []int16{11, -22},
	}
	err := dev.daqSendScan(cli, nil, scan)
	if err != nil {
		t.Fatalf("could not send scan: %+v", err)
	}

	res := <-out
	if res.err != nil {
		t.Fatalf("could not receive scan: %+v", res.err)
	}
	if got, want := res.frame.DevID, uint8(1); got != want {
		t.Fatalf("invalid frame device id: got=%d, want=%d", got, want)
	}
	if got, want := res.frame.Cycle, uint32(7); got != want {
		t.Fatalf("invalid frame cycle: got=%d, want=%d", got, want)
	}
	if got, want := res.frame.Time, uint64(1700000000000000000); got != want {
		t.Fatalf("invalid frame time: got=%d, want=%d", got, want)
	}
	if !reflect.DeepEqual(res.frame.Data, scan.Samples) {
		t.Fatalf("invalid frame data: got=%v, want=%v", res.frame.Data, scan.Samples)
	}
}

func TestDAQSendScanNAK(t *testing.T) {
	dev, _, _ := newTestDevice(t)

	cli, srv := net.Pipe()
	defer cli.Close()
	defer srv.Close()

	go func() {
		hdr := make([]byte, 8)
		if _, err := io.ReadFull(srv, hdr); err != nil {
			return
		}
		body := make([]byte, binary.LittleEndian.Uint32(hdr[4:]))
		if _, err := io.ReadFull(srv, body); err != nil {
			return
		}
		_, _ = srv.Write([]byte("NAK\x00"))
	}()

	err := dev.daqSendScan(cli, nil, Scan{Samples: []int16{1}})
	if err == nil || !strings.Contains(err.Error(), "invalid ACK") {
		t.Fatalf("invalid NAK error: %+v", err)
	}
}

func TestRunFile(t *testing.T) {
	odir := t.TempDir()
	scans := make(chan Scan, 4)
	dev, bus, irq := newTestDevice(t,
		WithRunDir(odir),
		WithScanHandler(func(scan Scan) { scans <- scan }),
	)

	err := dev.Initialize()
	if err != nil {
		t.Fatalf("could not initialize device: %+v", err)
	}
	defer dev.Close()

	cmd := AcqCommand{
		Slots:     []Slot{{Chan: 0, Range: Range10V}},
		Start:     Trig{Src: TrigNow},
		ScanBegin: Trig{Src: TrigTimer, Arg: 1000000},
		Convert:   Trig{Src: TrigNow},
		ScanEnd:   Trig{Src: TrigCount, Arg: 1},
		Stop:      Trig{Src: TrigCount, Arg: 2},
	}
	if err := dev.Arm(&cmd); err != nil {
		t.Fatalf("could not arm acquisition: %+v", err)
	}
	if err := dev.Start(); err != nil {
		t.Fatalf("could not start acquisition: %+v", err)
	}

	want := [][]int16{{1111}, {-2222}}
	for i, data := range want {
		loadScan(t, dev, data)
		bus.setU32(regs.P_ISR, regs.IRQ_RPS1)
		irq.events <- 1
		<-irq.armed
		scan := <-scans
		if got, want := scan.Seq, uint32(i); got != want {
			t.Fatalf("scan %d: invalid seq: got=%d, want=%d", i, got, want)
		}
	}
	if got, want := dev.State(), "idle"; got != want {
		t.Fatalf("invalid state: got=%q, want=%q", got, want)
	}

	// The run file holds one bare frame per scan.
	files, err := filepath.Glob(filepath.Join(odir, "s626-001-*.raw"))
	if err != nil {
		t.Fatalf("could not list run files: %+v", err)
	}
	if len(files) != 1 {
		t.Fatalf("invalid run files: %q", files)
	}
	f, err := os.Open(files[0])
	if err != nil {
		t.Fatalf("could not open run file: %+v", err)
	}
	defer f.Close()

	dec := sformat.NewDecoder(f)
	for i, data := range want {
		var frame sformat.Frame
		if err := dec.Decode(&frame); err != nil {
			t.Fatalf("could not decode frame %d: %+v", i, err)
		}
		if got, want := frame.Cycle, uint32(i); got != want {
			t.Fatalf("frame %d: invalid cycle: got=%d, want=%d", i, got, want)
		}
		if !reflect.DeepEqual(frame.Data, data) {
			t.Fatalf("frame %d: invalid data: got=%v, want=%v", i, frame.Data, data)
		}
	}
	var frame sformat.Frame
	if err := dec.Decode(&frame); !errors.Is(err, io.EOF) {
		t.Fatalf("invalid end of run file: got=%+v, want=%+v", err, io.EOF)
	}
}
