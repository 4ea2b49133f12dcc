// Copyright ©2023 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sformat describes and handles data in the scan stream
// format.
package sformat // import "github.com/go-daq/sensoray/internal/sformat"

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/go-daq/sensoray/internal/crc16"
	"golang.org/x/xerrors"
)

const (
	scanHeader  = 0xb6 // scan header marker
	scanTrailer = 0xa6 // scan trailer marker
)

// Frame is one complete pass over the poll list: the samples of every
// armed slot, stamped with the device, the scan cycle and the host
// time of the end-of-scan interrupt.
type Frame struct {
	DevID uint8
	Cycle uint32 // scan index, counted from the start of the stream
	Time  uint64 // host time, in ns since the unix epoch
	Data  []int16
}

// FrameLen returns the encoded size of a frame of n samples.
func FrameLen(n int) int {
	// markers + devid + cycle + time + count + samples + crc
	return 1 + 1 + 4 + 8 + 2 + 2*n + 2 + 1
}

// Encoder writes scan frames to an output stream.
// Encoder computes the CRC-16 checksum on the fly and inserts it
// before the trailer marker.
type Encoder struct {
	w   io.Writer
	buf []byte
	err error
	crc crc16.Hash16
}

// NewEncoder returns a new Encoder that writes to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{
		w:   w,
		buf: make([]byte, 8),
		crc: crc16.New(nil),
	}
}

func (enc *Encoder) crcw(p []byte) {
	_, _ = enc.crc.Write(p) // can not fail.
}

func (enc *Encoder) reset() {
	enc.crc.Reset()
}

// Encode writes the scan frame to the stream, computes the CRC-16
// checksum on the fly and inserts it before the trailer marker.
func (enc *Encoder) Encode(frame *Frame) error {
	if frame == nil {
		return nil
	}

	enc.reset()

	enc.writeU8(scanHeader)
	if enc.err != nil {
		return fmt.Errorf("sformat: could not write scan header marker: %w", enc.err)
	}

	enc.writeU8(frame.DevID)
	enc.writeU32(frame.Cycle)
	enc.writeU64(frame.Time)
	enc.writeU16(uint16(len(frame.Data)))
	for _, v := range frame.Data {
		enc.writeU16(uint16(v))
	}

	crc := enc.crc.Sum16()
	enc.writeU16(crc)
	enc.writeU8(scanTrailer)

	return enc.err
}

func (enc *Encoder) write(p []byte) {
	if enc.err != nil {
		return
	}
	_, enc.err = enc.w.Write(p)
	enc.crcw(p)
}

func (enc *Encoder) writeU8(v uint8) {
	const n = 1
	enc.buf[0] = v
	enc.write(enc.buf[:n])
}

func (enc *Encoder) writeU16(v uint16) {
	const n = 2
	binary.BigEndian.PutUint16(enc.buf[:n], v)
	enc.write(enc.buf[:n])
}

func (enc *Encoder) writeU32(v uint32) {
	const n = 4
	binary.BigEndian.PutUint32(enc.buf[:n], v)
	enc.write(enc.buf[:n])
}

func (enc *Encoder) writeU64(v uint64) {
	const n = 8
	binary.BigEndian.PutUint64(enc.buf[:n], v)
	enc.write(enc.buf[:n])
}

// Decoder reads (and validates) scan frames from an underlying data
// source. Decoder computes the CRC-16 checksum on the fly and checks
// it against the one carried by the frame.
type Decoder struct {
	r io.Reader

	buf []byte
	err error
	crc crc16.Hash16
}

// NewDecoder creates a decoder that reads and validates frames from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r:   r,
		buf: make([]byte, 8),
		crc: crc16.New(nil),
	}
}

func (dec *Decoder) crcw(p []byte) {
	_, _ = dec.crc.Write(p) // can not fail.
}

func (dec *Decoder) reset() {
	dec.crc.Reset()
}

// Decode reads the next scan frame from the stream into frame,
// reusing its sample storage when large enough.
func (dec *Decoder) Decode(frame *Frame) error {
	dec.reset()

	v := dec.readU8()
	if dec.err != nil {
		return xerrors.Errorf("sformat: could not read scan header marker: %w", dec.err)
	}
	if v != scanHeader {
		return xerrors.Errorf("sformat: invalid scan header marker (got=0x%x)", v)
	}
	dec.crcU8(v)

	hdr := make([]byte, 15) // devid + cycle + time + count
	dec.read(hdr)
	if dec.err != nil {
		if xerrors.Is(dec.err, io.EOF) {
			dec.err = io.ErrUnexpectedEOF
		}
		return xerrors.Errorf("sformat: could not read scan header: %w", dec.err)
	}
	dec.crcw(hdr)

	frame.DevID = hdr[0]
	frame.Cycle = binary.BigEndian.Uint32(hdr[1 : 1+4])
	frame.Time = binary.BigEndian.Uint64(hdr[5 : 5+8])

	n := int(binary.BigEndian.Uint16(hdr[13 : 13+2]))
	if cap(frame.Data) < n {
		frame.Data = make([]int16, n)
	}
	frame.Data = frame.Data[:n]

	raw := make([]byte, 2*n)
	dec.read(raw)
	if dec.err != nil {
		if xerrors.Is(dec.err, io.EOF) {
			dec.err = io.ErrUnexpectedEOF
		}
		return xerrors.Errorf(
			"sformat: scan %d could not read %d samples: %w",
			frame.Cycle, n, dec.err,
		)
	}
	dec.crcw(raw)
	for i := range frame.Data {
		frame.Data[i] = int16(binary.BigEndian.Uint16(raw[2*i:]))
	}

	var (
		compCRC = dec.crc.Sum16()
		recvCRC = dec.readU16()
	)
	if dec.err != nil {
		if xerrors.Is(dec.err, io.EOF) {
			dec.err = io.ErrUnexpectedEOF
		}
		return xerrors.Errorf(
			"sformat: scan %d could not read CRC-16: %w",
			frame.Cycle, dec.err,
		)
	}
	if compCRC != recvCRC {
		return xerrors.Errorf(
			"sformat: scan %d inconsistent CRC: recv=0x%04x comp=0x%04x",
			frame.Cycle, recvCRC, compCRC,
		)
	}

	v = dec.readU8()
	if dec.err != nil {
		if xerrors.Is(dec.err, io.EOF) {
			dec.err = io.ErrUnexpectedEOF
		}
		return xerrors.Errorf(
			"sformat: scan %d could not read trailer marker: %w",
			frame.Cycle, dec.err,
		)
	}
	if v != scanTrailer {
		return xerrors.Errorf(
			"sformat: scan %d invalid trailer marker (got=0x%x)",
			frame.Cycle, v,
		)
	}

	return dec.err
}

func (dec *Decoder) read(p []byte) {
	if dec.err != nil {
		return
	}
	_, dec.err = io.ReadFull(dec.r, p)
}

func (dec *Decoder) readU8() uint8 {
	dec.load(1)
	return dec.buf[0]
}

func (dec *Decoder) readU16() uint16 {
	const n = 2
	dec.load(n)
	return binary.BigEndian.Uint16(dec.buf[:n])
}

func (dec *Decoder) load(n int) {
	if dec.err != nil {
		return
	}
	_, dec.err = io.ReadFull(dec.r, dec.buf[:n])
}

func (dec *Decoder) crcU8(v uint8) {
	dec.buf[0] = v
	dec.crcw(dec.buf[:1])
}
