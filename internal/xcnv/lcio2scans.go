// Copyright ©2023 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xcnv

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log"

	"github.com/go-daq/sensoray/internal/sformat"
	"go-hep.org/x/hep/lcio"
)

// LCIO2Scans re-emits the scan frames carried by an LCIO event file
// as a raw scan stream.
func LCIO2Scans(w io.Writer, r *lcio.Reader, freq int, msg *log.Logger) error {
	var (
		enc = sformat.NewEncoder(w)
		i   = 0
	)

	for r.Next() {
		if i%freq == 0 {
			msg.Printf("processing scan %d...", i)
		}
		evt := r.Event()
		raw := evt.Get("RU_S626").(*lcio.GenericObject).Data[0].I32s
		buf := bytesFromI32s(raw[4:])
		dec := sformat.NewDecoder(bytes.NewReader(buf))

		var frame sformat.Frame
		err := dec.Decode(&frame)
		if err != nil {
			return fmt.Errorf("could not decode scan: %w", err)
		}
		err = enc.Encode(&frame)
		if err != nil {
			return fmt.Errorf("could not re-encode scan: %w", err)
		}
		i++
	}

	return nil
}

// bytesFromI32s undoes the little-endian word packing of i32sFrom.
func bytesFromI32s(raw []int32) []byte {
	buf := make([]byte, 4*len(raw))
	for i, v := range raw {
		binary.LittleEndian.PutUint32(buf[4*i:], uint32(v))
	}
	return buf
}
