// Copyright ©2023 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xcnv

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/go-daq/sensoray/internal/sformat"
	"go-hep.org/x/hep/lcio"
)

// Scans2LCIO drains the scan frames of dec into an LCIO event file,
// one event per scan.
func Scans2LCIO(w *lcio.Writer, dec *sformat.Decoder, run int32, msg *log.Logger) error {
	var (
		buf = new(bytes.Buffer)
		raw = &lcio.GenericObject{
			Data: []lcio.GenericObjectData{
				{I32s: nil},
			},
		}
	)

loop:
	for i := 0; ; i++ {
		if i%100 == 0 {
			msg.Printf("processing scan %d...", i)
		}
		var frame sformat.Frame
		err := dec.Decode(&frame)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break loop
			}
			return fmt.Errorf("could not decode scan: %w", err)
		}

		if i == 0 {
			err = w.WriteRunHeader(&lcio.RunHeader{
				RunNumber: run,
				Detector:  "S626",
				Descr:     "",
				Params: lcio.Params{
					Ints: map[string][]int32{
						"Clock":   {2}, // MHz
						"Trigger": {0},
					},
				},
			})
			if err != nil {
				return fmt.Errorf("could not write run header: %w", err)
			}
		}

		evt := lcio.Event{
			RunNumber:   run,
			EventNumber: int32(frame.Cycle),
			TimeStamp:   int64(frame.Time),
			Detector:    "S626",
		}
		raw.Data[0].I32s = i32sFrom(buf, &frame)
		evt.Add("RU_S626", raw)

		err = w.WriteEvent(&evt)
		if err != nil {
			return fmt.Errorf("could not write scan event: %w", err)
		}
	}

	return nil
}

// i32sFrom packs a 4-word header and the encoded frame into the
// int32 payload of a generic object. Words are little-endian, the
// frame is zero-padded to a whole number of words.
func i32sFrom(buf *bytes.Buffer, frame *sformat.Frame) []int32 {
	const hdr = 4 // marker, cycle, device id, payload size

	buf.Reset()
	err := sformat.NewEncoder(buf).Encode(frame)
	if err != nil {
		panic(err)
	}

	raw := buf.Bytes()
	if pad := (4 - len(raw)%4) % 4; pad != 0 {
		raw = append(raw, make([]byte, pad)...)
	}

	i32s := make([]int32, hdr+len(raw)/4)
	i32s[0] = 0xcafe
	i32s[1] = int32(frame.Cycle)
	i32s[2] = int32(frame.DevID)
	i32s[3] = int32(4 * len(i32s))
	for i := range i32s[hdr:] {
		i32s[hdr+i] = int32(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return i32s
}
