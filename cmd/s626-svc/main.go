// Copyright ©2023 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command s626-svc runs the s626 acquisition service, taking run
// control commands over TCP and shipping scan data to the DAQ sink.
package main // import "github.com/go-daq/sensoray/cmd/s626-svc"

import (
	"flag"
	"log"

	"github.com/go-daq/sensoray/s626"
)

func main() {
	var (
		addr = flag.String("addr", ":9999", "s626-svc [addr]:port to listen on for run control commands")
		odir = flag.String("o", "/home/root/run", "output dir")
		daq  = flag.String("daq-addr", "localhost:8080", "address of the scan sink server")

		devuio = flag.String("dev-uio", "/dev/uio0", "path to the UIO interrupt device")
		devdma = flag.String("dev-dma", "/dev/udmabuf0", "path to the DMA buffer device")
	)

	log.SetPrefix("s626-svc: ")
	log.SetFlags(0)

	flag.Parse()

	err := s626.Serve(*addr, *odir, *devuio, *devdma, s626.WithDAQAddr(*daq))
	if err != nil {
		log.Fatalf("could not run s626-svc service: %+v", err)
	}
}
