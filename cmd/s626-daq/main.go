// Copyright ©2023 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command s626-daq drives a data acquisition run on a Sensoray 626 board.
//
// Usage: s626-daq [OPTIONS]
//
// Example:
//
//	$> s626-daq -chans=0,1,2,3 -period=1ms -count=1000 -o=/home/user/data
//	$> s626-daq -chans=0:5V,1:10V -period=500us -srv-addr=clrtodaq0:8080
//
// Options:
//
//	-chans string
//	  	comma-separated list of analog input channels to sample (chan[:range])
//	-count int
//	  	number of scans to acquire (0 means stream until interrupted)
//	-dev-dma string
//	  	path to the DMA buffer device (default "/dev/udmabuf0")
//	-dev-uio string
//	  	path to the UIO interrupt device (default "/dev/uio0")
//	-o string
//	  	path to the output run directory (default "/home/root/run")
//	-period duration
//	  	time interval between two scans (default 1ms)
//	-srv-addr string
//	  	address of the scan sink server (default "localhost:8080")
//	-timeout duration
//	  	overall timeout for the acquisition (0 means none)
package main // import "github.com/go-daq/sensoray/cmd/s626-daq"

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/go-daq/sensoray/s626"
)

func main() {
	log.SetPrefix("s626-daq: ")
	log.SetFlags(0)

	var (
		chans   = flag.String("chans", "0", "comma-separated list of analog input channels to sample (chan[:range])")
		period  = flag.Duration("period", 1*time.Millisecond, "time interval between two scans")
		count   = flag.Int("count", 0, "number of scans to acquire (0 means stream until interrupted)")
		addr    = flag.String("srv-addr", "localhost:8080", "address of the scan sink server")
		odir    = flag.String("o", "/home/root/run", "path to the output run directory")
		devuio  = flag.String("dev-uio", "/dev/uio0", "path to the UIO interrupt device")
		devdma  = flag.String("dev-dma", "/dev/udmabuf0", "path to the DMA buffer device")
		timeout = flag.Duration("timeout", 0, "overall timeout for the acquisition (0 means none)")
	)

	flag.Parse()

	slots, err := parseChans(*chans)
	if err != nil {
		log.Fatalf("could not parse channel list %q: %+v", *chans, err)
	}

	err = run(slots, *period, *count, *addr, *odir, *devuio, *devdma, *timeout)
	if err != nil {
		log.Fatalf("could not run acquisition: %+v", err)
	}
}

func run(slots []s626.Slot, period time.Duration, count int, addr, odir, devuio, devdma string, timeout time.Duration) error {
	dev, err := s626.NewDevice(
		s626.WithDevUIO(devuio),
		s626.WithDevDMA(devdma),
		s626.WithDAQAddr(addr),
		s626.WithRunDir(odir),
	)
	if err != nil {
		return fmt.Errorf("could not create s626 device: %w", err)
	}
	defer dev.Close()

	err = dev.Initialize()
	if err != nil {
		return fmt.Errorf("could not initialize s626 device: %w", err)
	}

	cmd := s626.AcqCommand{
		Slots:     slots,
		Start:     s626.Trig{Src: s626.TrigNow},
		ScanBegin: s626.Trig{Src: s626.TrigTimer, Arg: uint32(period.Nanoseconds())},
		Convert:   s626.Trig{Src: s626.TrigNow},
		ScanEnd:   s626.Trig{Src: s626.TrigCount, Arg: uint32(len(slots))},
		Stop:      s626.Trig{Src: s626.TrigNone},
		Round:     s626.RoundNearest,
	}
	if count > 0 {
		cmd.Stop = s626.Trig{Src: s626.TrigCount, Arg: uint32(count)}
	}

	err = dev.Arm(&cmd)
	if err != nil {
		return fmt.Errorf("could not arm acquisition: %w", err)
	}
	log.Printf("scan period: %v", time.Duration(cmd.ScanBegin.Arg))

	err = dev.Start()
	if err != nil {
		return fmt.Errorf("could not start acquisition: %w", err)
	}
	log.Printf("acquisition running...")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	defer signal.Stop(stop)

	go func() {
		<-stop
		log.Printf("interrupt received, cancelling acquisition...")
		err := dev.Cancel()
		if err != nil {
			log.Printf("could not cancel acquisition: %+v", err)
		}
	}()

	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err = dev.Wait(ctx)
	if err != nil {
		_ = dev.Cancel()
		return fmt.Errorf("could not complete acquisition: %w", err)
	}

	return nil
}

func parseChans(s string) ([]s626.Slot, error) {
	var slots []s626.Slot
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		var (
			rng  = s626.Range10V
			name = tok
		)
		if i := strings.Index(tok, ":"); i >= 0 {
			name = tok[:i]
			switch v := tok[i+1:]; v {
			case "5V", "5v":
				rng = s626.Range5V
			case "10V", "10v":
				rng = s626.Range10V
			default:
				return nil, fmt.Errorf("invalid range %q", v)
			}
		}
		ch, err := strconv.Atoi(name)
		if err != nil {
			return nil, fmt.Errorf("invalid channel %q: %w", name, err)
		}
		if ch < 0 || ch >= 16 {
			return nil, fmt.Errorf("channel %d out of range [0, 16)", ch)
		}
		slots = append(slots, s626.Slot{Chan: ch, Range: rng})
	}
	if len(slots) == 0 {
		return nil, fmt.Errorf("empty channel list")
	}
	return slots, nil
}
