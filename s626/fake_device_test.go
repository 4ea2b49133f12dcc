// Copyright ©2023 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package s626

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"

	"github.com/go-daq/sensoray/internal/sformat"
	"github.com/go-daq/sensoray/s626/internal/regs"
)

// fakeBus models the bridge register file and, behind the DEBI engine,
// the local gate array. Writes of whole registers run the side effects
// a driver handshake relies on: masked master-control stores, queued
// DEBI transactions, write-1-to-clear interrupt status and the
// time-slot 0 shift path into FB BUFFER 2.
type fakeBus struct {
	mu  sync.Mutex
	mem [regs.BAR_SPAN]byte
	ga  map[uint16]uint16

	debiStuck bool // leave DEBI uploads pending to provoke timeouts
}

func newFakeBus() *fakeBus {
	bus := &fakeBus{ga: make(map[uint16]uint16)}
	// Idle bus levels: ADC end-of-convert high, DAC output fifo
	// drained.
	bus.putU32(regs.P_PSR, regs.PSR_GPIO2)
	bus.putU32(regs.P_SSR, regs.SSR_AF2_OUT)
	return bus
}

func (bus *fakeBus) ReadAt(p []byte, off int64) (int, error) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	if off < 0 || int(off)+len(p) > len(bus.mem) {
		return 0, fmt.Errorf("fake bus: read [0x%x:0x%x] out of range", off, int(off)+len(p))
	}
	copy(p, bus.mem[off:])
	return len(p), nil
}

func (bus *fakeBus) WriteAt(p []byte, off int64) (int, error) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	if off < 0 || int(off)+len(p) > len(bus.mem) {
		return 0, fmt.Errorf("fake bus: write [0x%x:0x%x] out of range", off, int(off)+len(p))
	}
	if len(p) == 4 {
		bus.apply(uint32(off), binary.LittleEndian.Uint32(p))
		return len(p), nil
	}
	copy(bus.mem[off:], p)
	return len(p), nil
}

// apply mimics the bridge side effects of one register write.
func (bus *fakeBus) apply(off, v uint32) {
	switch off {
	case regs.P_MC1:
		mask := uint16(v >> 16)
		mc := uint16(bus.u32at(regs.P_MC1))
		mc = mc&^mask | uint16(v)&mask
		// The audio output DMA retires as soon as it is enabled.
		mc &^= uint16(regs.MC1_A2OUT)
		bus.putU32(regs.P_MC1, uint32(mc))
	case regs.P_MC2:
		mask := uint16(v >> 16)
		mc := uint16(bus.u32at(regs.P_MC2))
		mc = mc&^mask | uint16(v)&mask
		// A DEBI upload runs at once and the flag drops. The i2c
		// upload flag latches instead: the engine reports the shadow
		// registers taken over by reading it back as set.
		if mc&uint16(regs.MC2_UPLD_DEBI) != 0 && !bus.debiStuck {
			bus.debi()
			mc &^= uint16(regs.MC2_UPLD_DEBI)
		}
		bus.putU32(regs.P_MC2, uint32(mc))
	case regs.P_ISR:
		// Write-1-to-clear.
		bus.putU32(regs.P_ISR, bus.u32at(regs.P_ISR)&^v)
	case regs.VECTPORT(0):
		bus.putU32(off, v)
		if v&regs.EOS == 0 {
			return
		}
		// Slot 0 runs as soon as it terminates the list: RSD3 shifts
		// in the pulled-up SD3 line, RSD2 the grounded SD2 line.
		switch v & regs.RSD3 {
		case regs.RSD3:
			bus.putU32(regs.P_FB_BUFFER2, 0xff000000)
		case regs.RSD2:
			bus.putU32(regs.P_FB_BUFFER2, 0x00000000)
		}
	default:
		bus.putU32(off, v)
	}
}

// debi runs one queued DEBI transaction against the gate array.
func (bus *fakeBus) debi() {
	cmd := bus.u32at(regs.P_DEBICMD)
	addr := uint16(cmd)
	if cmd&regs.DEBI_CMD_READ != 0 {
		bus.putU32(regs.P_DEBIAD, uint32(bus.ga[addr]))
		return
	}
	bus.ga[addr] = uint16(bus.u32at(regs.P_DEBIAD))
}

func (bus *fakeBus) u32at(off uint32) uint32 {
	return binary.LittleEndian.Uint32(bus.mem[off:])
}

func (bus *fakeBus) putU32(off, v uint32) {
	binary.LittleEndian.PutUint32(bus.mem[off:], v)
}

// setU32 pokes a bridge register, bypassing the write side effects.
func (bus *fakeBus) setU32(off, v uint32) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.putU32(off, v)
}

// u32 peeks a bridge register.
func (bus *fakeBus) u32(off uint32) uint32 {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	return bus.u32at(off)
}

// gaSet pokes a gate-array register.
func (bus *fakeBus) gaSet(addr, v uint16) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.ga[addr] = v
}

// gaReg peeks a gate-array register.
func (bus *fakeBus) gaReg(addr uint16) uint16 {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	return bus.ga[addr]
}

// fakeIRQ models the UIO interrupt stream: one blocking 4-byte read
// per event, one write to re-arm the bridge.
type fakeIRQ struct {
	events chan uint32
	armed  chan int
}

func newFakeIRQ() *fakeIRQ {
	return &fakeIRQ{
		events: make(chan uint32),
		armed:  make(chan int, 1),
	}
}

func (f *fakeIRQ) Read(p []byte) (int, error) {
	v, ok := <-f.events
	if !ok {
		return 0, io.EOF
	}
	binary.LittleEndian.PutUint32(p, v)
	return 4, nil
}

func (f *fakeIRQ) Write(p []byte) (int, error) {
	f.armed <- 1
	return len(p), nil
}

func (f *fakeIRQ) Close() error {
	close(f.events)
	return nil
}

// ram is a plain memory block standing in for the DMA window.
type ram []byte

func (r ram) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || int(off)+len(p) > len(r) {
		return 0, fmt.Errorf("fake dma: read [0x%x:0x%x] out of range", off, int(off)+len(p))
	}
	copy(p, r[off:])
	return len(p), nil
}

func (r ram) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || int(off)+len(p) > len(r) {
		return 0, fmt.Errorf("fake dma: write [0x%x:0x%x] out of range", off, int(off)+len(p))
	}
	copy(r[off:], p)
	return len(p), nil
}

// newTestDevice wires a Device to an in-memory register file, DMA
// window and interrupt stream.
func newTestDevice(t *testing.T, opts ...Option) (*Device, *fakeBus, *fakeIRQ) {
	t.Helper()

	bus := newFakeBus()
	irq := newFakeIRQ()
	dev := &Device{
		msg:     log.New(io.Discard, "s626: ", 0),
		id:      1,
		mmio:    bus,
		dma:     make(ram, regs.RPSBUF_SIZE+regs.ANABUF_SIZE),
		irq:     irq,
		physRPS: 0x10000000,
	}
	dev.physAna = dev.physRPS + regs.RPSBUF_SIZE
	for _, opt := range opts {
		opt(&dev.cfg)
	}
	dev.cntr = makeCounters(dev)
	dev.daq.w = &wbuf{p: make([]byte, sformat.FrameLen(numAIChans))}
	dev.daq.enc = sformat.NewEncoder(dev.daq.w)
	return dev, bus, irq
}

// aiRaw encodes a signed sample the way the ADC presents it in a raw
// FB BUFFER 1 word: two's complement in the top 14 payload bits.
func aiRaw(v int16) uint32 {
	u := uint16(int32(v) + 0x2000)
	return uint32(u^0x2000) << 18
}

// loadScan stores one scan into the analog DMA page, past the slot 0
// dword that carries the trailing conversion of the previous scan.
func loadScan(t *testing.T, dev *Device, samples []int16) {
	t.Helper()
	var buf [4]byte
	for i, v := range samples {
		binary.LittleEndian.PutUint32(buf[:], aiRaw(v))
		_, err := dev.dma.WriteAt(buf[:], int64(regs.RPSBUF_SIZE)+int64(i+1)*4)
		if err != nil {
			t.Fatalf("could not load scan slot %d: %+v", i, err)
		}
	}
}
