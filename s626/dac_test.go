// Copyright ©2023 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package s626

import (
	"errors"
	"testing"

	"github.com/go-daq/sensoray/s626/internal/regs"
)

func TestWriteDAC(t *testing.T) {
	dev, bus, _ := newTestDevice(t)
	err := dev.Initialize()
	if err != nil {
		t.Fatalf("could not initialize device: %+v", err)
	}
	defer dev.Close()

	err = dev.WriteDAC(2, -100)
	if err != nil {
		t.Fatalf("could not write dac: %+v", err)
	}

	// A negative setpoint raises the channel's polarity bit and stages
	// the magnitude in the serial frame word.
	if got, want := bus.gaReg(regs.LP_DACPOL), uint16(1<<2); got != want {
		t.Fatalf("invalid dac polarities: got=0x%04x, want=0x%04x", got, want)
	}
	if got, want := dev.anaU32(regs.DAC_WDMABUF_OS), uint32(0x0f004064); got != want {
		t.Fatalf("invalid frame word: got=0x%08x, want=0x%08x", got, want)
	}
	// Channels 2 and 3 live behind write strobe 1.
	if got, want := bus.u32(regs.VECTPORT(2)), uint32(regs.XSD2|regs.XFIFO_1|regs.WS1); got != want {
		t.Fatalf("invalid time slot 2: got=0x%08x, want=0x%08x", got, want)
	}

	err = dev.WriteDAC(1, 8191)
	if err != nil {
		t.Fatalf("could not write dac: %+v", err)
	}
	if got, want := bus.gaReg(regs.LP_DACPOL), uint16(1<<2); got != want {
		t.Fatalf("invalid dac polarities: got=0x%04x, want=0x%04x", got, want)
	}
	if got, want := dev.anaU32(regs.DAC_WDMABUF_OS), uint32(0x0f00dfff); got != want {
		t.Fatalf("invalid frame word: got=0x%08x, want=0x%08x", got, want)
	}
	if got, want := bus.u32(regs.VECTPORT(2)), uint32(regs.XSD2|regs.XFIFO_1|regs.WS2); got != want {
		t.Fatalf("invalid time slot 2: got=0x%08x, want=0x%08x", got, want)
	}

	for _, tc := range []struct {
		name string
		ch   int
		v    int
	}{
		{name: "chan-high", ch: numAOChans, v: 0},
		{name: "chan-low", ch: -1, v: 0},
		{name: "value-high", ch: 0, v: aoFullScale + 1},
		{name: "value-low", ch: 0, v: -aoFullScale - 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if err := dev.WriteDAC(tc.ch, tc.v); err == nil {
				t.Fatalf("expected an error for dac(%d, %d)", tc.ch, tc.v)
			}
		})
	}
}

func TestWriteDACBusTimeout(t *testing.T) {
	dev, bus, _ := newTestDevice(t)
	err := dev.Initialize()
	if err != nil {
		t.Fatalf("could not initialize device: %+v", err)
	}
	defer dev.Close()

	bus.debiStuck = true
	err = dev.WriteDAC(0, 1000)
	var berr *BusTimeoutError
	if !errors.As(err, &berr) {
		t.Fatalf("invalid dac error: got=%+v", err)
	}
	if got, want := berr.Op, "debi write"; got != want {
		t.Fatalf("invalid op: got=%q, want=%q", got, want)
	}
	if got, want := berr.Addr, uint16(regs.LP_DACPOL); got != want {
		t.Fatalf("invalid addr: got=0x%04x, want=0x%04x", got, want)
	}
}
