// Copyright ©2023 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command s626-tdaq exposes an s626 board as a TDAQ process.
//
// The process serves the usual run-control command handlers (/config,
// /init, /reset, /start, /stop, /quit) and publishes completed scans
// as s626 frames on its /scans output end-point. The /config frame
// body, when not empty, holds the scan period in nanoseconds (u32),
// the number of scans to acquire (u32, 0 for no limit) and the list of
// analog input channels (u32 count followed by one u32 per channel).
package main // import "github.com/go-daq/sensoray/cmd/s626-tdaq"

import (
	"bytes"
	"context"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/go-daq/sensoray/internal/sformat"
	"github.com/go-daq/sensoray/s626"
	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"golang.org/x/xerrors"
)

func main() {
	cmd := flags.New()

	dev := server{
		devuio: "/dev/uio0",
		devdma: "/dev/udmabuf0",
		buf:    new(bytes.Buffer),
	}
	dev.enc = sformat.NewEncoder(dev.buf)
	if len(cmd.Args) > 0 {
		dev.devuio = cmd.Args[0]
	}
	if len(cmd.Args) > 1 {
		dev.devdma = cmd.Args[1]
	}

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.OutputHandle("/scans", dev.scans)

	srv.RunHandle(dev.run)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

type server struct {
	devuio string
	devdma string

	dev *s626.Device
	cmd s626.AcqCommand

	buf  *bytes.Buffer
	enc  *sformat.Encoder
	data chan []byte
	n    uint64
}

func (srv *server) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")

	srv.cmd = s626.AcqCommand{
		Slots:     []s626.Slot{{Chan: 0, Range: s626.Range10V}},
		Start:     s626.Trig{Src: s626.TrigNow},
		ScanBegin: s626.Trig{Src: s626.TrigTimer, Arg: uint32(time.Millisecond.Nanoseconds())},
		Convert:   s626.Trig{Src: s626.TrigNow},
		Stop:      s626.Trig{Src: s626.TrigNone},
		Round:     s626.RoundNearest,
	}

	if len(req.Body) > 0 {
		dec := tdaq.NewDecoder(bytes.NewReader(req.Body))
		period := dec.ReadU32()
		count := dec.ReadU32()
		n := int(dec.ReadU32())
		slots := make([]s626.Slot, 0, n)
		for i := 0; i < n; i++ {
			slots = append(slots, s626.Slot{
				Chan:  int(dec.ReadU32()),
				Range: s626.Range10V,
			})
		}
		if period > 0 {
			srv.cmd.ScanBegin.Arg = period
		}
		if count > 0 {
			srv.cmd.Stop = s626.Trig{Src: s626.TrigCount, Arg: count}
		}
		if len(slots) > 0 {
			srv.cmd.Slots = slots
		}
	}

	srv.cmd.ScanEnd = s626.Trig{Src: s626.TrigCount, Arg: uint32(len(srv.cmd.Slots))}
	ctx.Msg.Infof("config: period=%v count=%d chans=%d",
		time.Duration(srv.cmd.ScanBegin.Arg), srv.cmd.Stop.Arg, len(srv.cmd.Slots),
	)
	return nil
}

func (srv *server) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")
	if srv.dev != nil {
		ctx.Msg.Errorf("device already initialized")
		return xerrors.Errorf("device already initialized")
	}

	dev, err := s626.NewDevice(
		s626.WithDevUIO(srv.devuio),
		s626.WithDevDMA(srv.devdma),
		s626.WithScanHandler(srv.publish),
	)
	if err != nil {
		ctx.Msg.Errorf("could not create s626 device: %+v", err)
		return xerrors.Errorf("could not create s626 device: %w", err)
	}

	err = dev.Initialize()
	if err != nil {
		_ = dev.Close()
		ctx.Msg.Errorf("could not initialize s626 device: %+v", err)
		return xerrors.Errorf("could not initialize s626 device: %w", err)
	}

	srv.dev = dev
	srv.data = make(chan []byte, 1024)
	atomic.StoreUint64(&srv.n, 0)
	return nil
}

func (srv *server) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	if srv.dev != nil {
		err := srv.dev.Cancel()
		if err != nil {
			ctx.Msg.Errorf("could not cancel acquisition: %+v", err)
			return xerrors.Errorf("could not cancel acquisition: %w", err)
		}
	}
	srv.data = make(chan []byte, 1024)
	atomic.StoreUint64(&srv.n, 0)
	return nil
}

func (srv *server) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	if srv.dev == nil {
		ctx.Msg.Errorf("device not initialized")
		return xerrors.Errorf("device not initialized")
	}

	cmd := srv.cmd
	err := srv.dev.Arm(&cmd)
	if err != nil {
		ctx.Msg.Errorf("could not arm acquisition: %+v", err)
		return xerrors.Errorf("could not arm acquisition: %w", err)
	}

	err = srv.dev.Start()
	if err != nil {
		ctx.Msg.Errorf("could not start acquisition: %+v", err)
		return xerrors.Errorf("could not start acquisition: %w", err)
	}
	return nil
}

func (srv *server) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	n := atomic.LoadUint64(&srv.n)
	ctx.Msg.Debugf("received /stop command... -> scans=%d", n)
	if srv.dev == nil {
		return nil
	}
	err := srv.dev.Cancel()
	if err != nil {
		ctx.Msg.Errorf("could not cancel acquisition: %+v", err)
		return xerrors.Errorf("could not cancel acquisition: %w", err)
	}
	return nil
}

func (srv *server) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	if srv.dev == nil {
		return nil
	}
	err := srv.dev.Close()
	srv.dev = nil
	if err != nil {
		ctx.Msg.Errorf("could not close s626 device: %+v", err)
		return xerrors.Errorf("could not close s626 device: %w", err)
	}
	return nil
}

func (srv *server) scans(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case data := <-srv.data:
		dst.Body = data
	}
	return nil
}

func (srv *server) run(ctx tdaq.Context) error {
	tick := time.NewTicker(10 * time.Second)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Ctx.Done():
			return nil
		case <-tick.C:
			if srv.dev == nil {
				continue
			}
			ctx.Msg.Debugf("state=%s scans=%d", srv.dev.State(), atomic.LoadUint64(&srv.n))
		}
	}
}

// publish runs on the interrupt goroutine: it encodes the scan and
// hands it to the /scans output handler, dropping the scan when the
// queue is full.
func (srv *server) publish(scan s626.Scan) {
	srv.buf.Reset()
	err := srv.enc.Encode(&sformat.Frame{
		DevID: srv.dev.ID(),
		Cycle: scan.Seq,
		Time:  uint64(scan.Time.UnixNano()),
		Data:  scan.Samples,
	})
	if err != nil {
		return
	}
	raw := make([]byte, srv.buf.Len())
	copy(raw, srv.buf.Bytes())
	select {
	case srv.data <- raw:
		atomic.AddUint64(&srv.n, 1)
	default:
	}
}
