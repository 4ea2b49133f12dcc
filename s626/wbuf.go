// Copyright ©2023 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package s626

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"time"

	"github.com/go-daq/sensoray/internal/sformat"
	"golang.org/x/sync/errgroup"
)

// wbuf is a fixed-capacity frame buffer.
type wbuf struct {
	p []byte
	c int
}

func (w *wbuf) Write(p []byte) (int, error) {
	if w.c >= len(w.p) {
		return 0, io.EOF
	}
	n := copy(w.p[w.c:], p)
	w.c += n
	return n, nil
}

// openSink dials the scan stream endpoint and creates the run file,
// as configured. Either may be absent.
func (dev *Device) openSink() (net.Conn, *os.File, error) {
	var (
		sck net.Conn
		f   *os.File
		err error
	)
	if addr := dev.cfg.daq.addr; addr != "" {
		dev.msg.Printf("dialing scan sink %q...", addr)
		sck, err = net.Dial("tcp", addr)
		if err != nil {
			return nil, nil, fmt.Errorf("s626: could not dial scan sink %q: %w", addr, err)
		}
		dev.msg.Printf("dialing scan sink %q... [ok]", addr)
	}
	if dir := dev.cfg.run.dir; dir != "" {
		fname := path.Join(dir, fmt.Sprintf(
			"s626-%03d-%v.raw",
			dev.id, time.Now().UTC().Format("2006-01-02-15h04m05s"),
		))
		f, err = os.Create(fname)
		if err != nil {
			if sck != nil {
				_ = sck.Close()
			}
			return nil, nil, fmt.Errorf("s626: could not create run file %q: %w", fname, err)
		}
	}
	return sck, f, nil
}

func (dev *Device) sink() (net.Conn, *os.File) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.daq.sck, dev.daq.f
}

func (dev *Device) closeSink() {
	dev.mu.Lock()
	sck := dev.daq.sck
	f := dev.daq.f
	dev.daq.sck = nil
	dev.daq.f = nil
	dev.mu.Unlock()

	if sck != nil {
		_ = sck.Close()
	}
	if f != nil {
		err := f.Close()
		if err != nil {
			dev.msg.Printf("could not close run file: %+v", err)
		}
	}
}

// daqSendScan frames scan and hands it to the sinks in parallel: the
// run file gets the bare frame, the scan stream gets it behind the
// usual header and ACK handshake.
func (dev *Device) daqSendScan(sck net.Conn, f *os.File, scan Scan) error {
	defer func() {
		dev.daq.w.c = 0
	}()

	errorf := func(format string, args ...interface{}) error {
		err := fmt.Errorf(format, args...)
		dev.msg.Printf("%+v", err)
		return err
	}

	dev.daq.w.c = 0
	err := dev.daq.enc.Encode(&sformat.Frame{
		DevID: dev.id,
		Cycle: scan.Seq,
		Time:  uint64(scan.Time.UnixNano()),
		Data:  scan.Samples,
	})
	if err != nil {
		return errorf("s626: could not encode scan %d: %w", scan.Seq, err)
	}
	cur := dev.daq.w.c

	var grp errgroup.Group

	if f != nil {
		grp.Go(func() error {
			_, err := f.Write(dev.daq.w.p[:cur])
			if err != nil {
				return errorf("s626: could not archive scan %d: %w", scan.Seq, err)
			}
			return nil
		})
	}

	if sck != nil {
		grp.Go(func() error {
			hdr := dev.daq.hdr[:8]
			copy(hdr, "HDR\x00")
			binary.LittleEndian.PutUint32(hdr[4:], uint32(cur))

			_, err := sck.Write(hdr)
			if err != nil {
				return errorf("s626: could not send scan %d header to %v: %w", scan.Seq, sck.RemoteAddr(), err)
			}
			_, err = sck.Write(dev.daq.w.p[:cur])
			if err != nil {
				return errorf("s626: could not send scan %d to %v: %w", scan.Seq, sck.RemoteAddr(), err)
			}

			// wait for ACK
			_, err = io.ReadFull(sck, hdr[:4])
			if err != nil {
				return errorf("s626: could not read ACK for scan %d from %v: %+v", scan.Seq, sck.RemoteAddr(), err)
			}
			if string(hdr[:4]) != "ACK\x00" {
				return errorf("s626: invalid ACK for scan %d from %v: %q", scan.Seq, sck.RemoteAddr(), hdr[:4])
			}
			return nil
		})
	}

	return grp.Wait()
}
