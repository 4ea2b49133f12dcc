// Copyright ©2023 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command s626-srv receives scan frames from s626 acquisition clients
// and stores them on disk.
//
// Each client connection carries a stream of framed messages. A message
// is a 4-byte "HDR\x00" marker followed by a little-endian uint32 body
// length and the body itself, one scan frame per message. Every frame is
// CRC-checked before it is acknowledged with "ACK\x00".
package main // import "github.com/go-daq/sensoray/cmd/s626-srv"

import (
	"bytes"
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/go-daq/sensoray/internal/sformat"
)

func main() {
	log.SetPrefix("s626-srv: ")
	log.SetFlags(0)

	var (
		odir = flag.String("dir", ".", "output directory where to store scan data files")
		addr = flag.String("addr", ":8080", "[ip]:[port] to listen on")
	)

	flag.Parse()

	run(*odir, *addr)
}

func run(odir, addr string) {
	srv, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("could not listen on %q: %+v", addr, err)
	}
	defer srv.Close()

	for {
		conn, err := srv.Accept()
		if err != nil {
			log.Printf("could not accept connection: %+v", err)
			continue
		}
		go serve(conn, odir)
	}
}

func serve(conn net.Conn, odir string) {
	defer conn.Close()

	log.Printf("serving %q...", conn.RemoteAddr().String())

	var (
		hdr   = make([]byte, 8)
		body  []byte
		frame sformat.Frame
		f     *os.File
	)
	defer func() {
		if f == nil {
			return
		}
		err := f.Close()
		if err != nil {
			log.Printf("could not close output file %q: %+v", f.Name(), err)
		}
	}()

	for {
		_, err := io.ReadFull(conn, hdr)
		if err != nil {
			if err != io.EOF {
				log.Printf("could not read frame header: %+v", err)
			}
			return
		}
		if string(hdr[:4]) != "HDR\x00" {
			log.Printf("invalid frame header: %q", hdr[:4])
			return
		}
		size := int(binary.LittleEndian.Uint32(hdr[4:]))
		if cap(body) < size {
			body = make([]byte, size)
		}
		body = body[:size]

		_, err = io.ReadFull(conn, body)
		if err != nil {
			log.Printf("could not read frame body: %+v", err)
			return
		}

		err = sformat.NewDecoder(bytes.NewReader(body)).Decode(&frame)
		if err != nil {
			log.Printf("could not decode frame: %+v", err)
			return
		}

		if f == nil {
			fname := filepath.Join(odir, fmt.Sprintf(
				"s626-%03d-%v.raw",
				frame.DevID, time.Now().UTC().Format("2006-01-02-15h04m05s"),
			))
			f, err = os.Create(fname)
			if err != nil {
				log.Printf("could not create output file %q: %+v", fname, err)
				return
			}
			log.Printf("storing scans from device %03d to %q", frame.DevID, fname)
		}

		_, err = f.Write(body)
		if err != nil {
			log.Printf("could not write frame to %q: %+v", f.Name(), err)
			return
		}

		copy(hdr[:4], "ACK\x00")
		_, err = conn.Write(hdr[:4])
		if err != nil {
			log.Printf("could not send back ACK: %+v", err)
			return
		}
	}
}
