// Copyright ©2023 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package s626

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"math"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-daq/sensoray/internal/mmap"
	"github.com/go-daq/sensoray/internal/sformat"
	"github.com/go-daq/sensoray/s626/internal/regs"
)

const (
	devUIO = "/dev/uio0"
	devDMA = "/dev/udmabuf0"
)

// Scan is one completed pass over the poll list of a streaming
// acquisition.
type Scan struct {
	Seq     uint32    // scan index, counted from Start
	Time    time.Time // host time of the end-of-scan interrupt
	Samples []int16   // one signed sample per poll-list slot
	Last    bool      // end of acquisition, no scan follows this one
}

type acqState uint8

const (
	stateIdle acqState = iota
	stateArmed
	stateStreaming
	stateRetiring
	stateCancelled
)

func (st acqState) String() string {
	switch st {
	case stateIdle:
		return "idle"
	case stateArmed:
		return "armed"
	case stateStreaming:
		return "streaming"
	case stateRetiring:
		return "retiring"
	case stateCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("acqState(%d)", uint8(st))
}

// Counters 4 and 5 double as the acquisition pacing timers.
const (
	cntrConvTimer = 4 // convert pacing timer (counter 1B)
	cntrScanTimer = 5 // scan pacing timer (counter 2B)
)

// Device controls one Sensoray 626 analog/digital I/O board through
// its UIO register mapping and a u-dma-buf DMA window.
type Device struct {
	msg *log.Logger
	id  uint8 // device identifier in scan frames

	mem struct {
		uio *os.File // one blocking 4-byte read per interrupt
		dma *os.File
		bar *mmap.Handle
		win *mmap.Handle
	}

	mmio rwer          // register file
	dma  rwer          // DMA window: RPS program page, then analog page
	irq  io.ReadWriter // interrupt event stream

	physRPS uint32 // bus address of the RPS program
	physAna uint32 // bus address of the analog page

	mu  sync.Mutex // serializes access to the register file
	err error
	cfg config
	buf [4]byte // register access scratch

	dacpol       uint16    // DAC polarity register image
	trimSetpoint [11]uint8 // trim DAC setpoint images
	evEnab       uint16    // counter event-enable image
	misc2        uint16    // battery and watchdog control image

	cntr [numCntrs]*Counter

	acq struct {
		state acqState
		cmd   AcqCommand
		ppl   []uint8 // compiled poll list

		seq          uint32 // scans published since Start
		running      bool   // command in flight
		continuous   bool   // no stop count
		sampleCount  int    // remaining scans
		convertCount int    // remaining convert triggers in the scan
		trig         bool   // one-shot software trigger armed
		eoa          chan int
	}

	daq struct {
		quit chan int // closed to stop the interrupt service loop
		done chan int // interrupt service loop exited

		w   *wbuf
		enc *sformat.Encoder
		hdr [8]byte // 'HDR\0'+u32 scratch
		sck net.Conn
		f   *os.File
	}

	closed bool
}

// NewDevice opens the board bound to the configured UIO and u-dma-buf
// device nodes. The hardware is left untouched until Initialize.
func NewDevice(opts ...Option) (*Device, error) {
	dev := &Device{
		msg: log.New(os.Stdout, "s626: ", 0),
	}

	WithDevUIO(devUIO)(&dev.cfg)
	WithDevDMA(devDMA)(&dev.cfg)

	for _, opt := range opts {
		opt(&dev.cfg)
	}
	dev.id = uioID(dev.cfg.dev.uio)

	uio, err := os.OpenFile(dev.cfg.dev.uio, os.O_RDWR|os.O_SYNC, 0666)
	if err != nil {
		return nil, fmt.Errorf("s626: could not open %q: %w", dev.cfg.dev.uio, err)
	}
	defer func() {
		if err != nil {
			_ = uio.Close()
		}
	}()
	dev.mem.uio = uio
	dev.irq = uio

	dma, err := os.OpenFile(dev.cfg.dev.dma, os.O_RDWR|os.O_SYNC, 0666)
	if err != nil {
		return nil, fmt.Errorf("s626: could not open %q: %w", dev.cfg.dev.dma, err)
	}
	defer func() {
		if err != nil {
			_ = dma.Close()
		}
	}()
	dev.mem.dma = dma

	err = dev.mmapBAR()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = dev.mem.bar.Close()
		}
	}()

	err = dev.mmapDMA()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = dev.mem.win.Close()
		}
	}()

	base := dev.cfg.dev.base
	if base == 0 {
		base, err = physAddr(dev.cfg.dev.dma)
		if err != nil {
			return nil, fmt.Errorf("s626: could not locate DMA window: %w", err)
		}
	}
	dev.physRPS = base
	dev.physAna = base + regs.RPSBUF_SIZE

	dev.cntr = makeCounters(dev)
	dev.daq.w = &wbuf{p: make([]byte, sformat.FrameLen(numAIChans))}
	dev.daq.enc = sformat.NewEncoder(dev.daq.w)

	return dev, nil
}

func (dev *Device) mmapBAR() error {
	h, err := mmap.Map(dev.mem.uio, regs.BAR_SPAN)
	if err != nil {
		return fmt.Errorf("s626: could not map registers: %w", err)
	}
	dev.mem.bar = h
	dev.mmio = h
	return nil
}

func (dev *Device) mmapDMA() error {
	h, err := mmap.Map(dev.mem.dma, regs.RPSBUF_SIZE+regs.ANABUF_SIZE)
	if err != nil {
		return fmt.Errorf("s626: could not map DMA window: %w", err)
	}
	dev.mem.win = h
	dev.dma = h
	return nil
}

// physAddr reads the physical base address of the u-dma-buf window
// from its sysfs entry.
func physAddr(devdma string) (uint32, error) {
	fname := path.Join("/sys/class/u-dma-buf", path.Base(devdma), "phys_addr")
	raw, err := os.ReadFile(fname)
	if err != nil {
		return 0, fmt.Errorf("could not read %q: %w", fname, err)
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("could not parse %q: %w", fname, err)
	}
	if v > math.MaxUint32 {
		return 0, fmt.Errorf("dma window 0x%x not in 32-bit bus address space", v)
	}
	return uint32(v), nil
}

// uioID derives the device identifier from the UIO node name,
// /dev/uio3 giving 3.
func uioID(dev string) uint8 {
	digits := strings.TrimFunc(path.Base(dev), func(r rune) bool {
		return r < '0' || r > '9'
	})
	id, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return uint8(id)
}

// Initialize resets the board: bus engines, ADC and DAC front-ends,
// counters, digital I/O and the interrupt lines. The first call also
// starts the interrupt service loop.
func (dev *Device) Initialize() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.closed {
		return fmt.Errorf("s626: device is closed")
	}
	if dev.acq.state != stateIdle {
		return ErrBusy
	}

	dev.err = nil
	err := dev.initHardware()
	if err != nil {
		return err
	}

	if dev.daq.quit == nil {
		dev.daq.quit = make(chan int)
		dev.daq.done = make(chan int, 1)
		go dev.irqLoop()
	}
	return nil
}

// State reports the acquisition engine state.
func (dev *Device) State() string {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.acq.state.String()
}

// ID reports the board id, derived from the UIO device node.
func (dev *Device) ID() uint8 {
	return dev.id
}

// Counter returns counter channel i (0 to 5).
func (dev *Device) Counter(i int) *Counter {
	return dev.cntr[i]
}

// Arm validates cmd and programs the board for it, leaving the
// sequencer stopped. Timer arguments are rewritten to the periods the
// 2 MHz timebase can realize; the rewritten values are stored back
// into cmd.
func (dev *Device) Arm(cmd *AcqCommand) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.acq.state != stateIdle {
		return ErrBusy
	}

	// Realizing a timer argument can raise the scan-period floor:
	// validate until the command passes unchanged.
	c := *cmd
	c.Slots = append([]Slot(nil), cmd.Slots...)
	for {
		begin, conv := c.ScanBegin, c.Convert
		err := c.Validate()
		if err != nil {
			return err
		}
		if c.ScanBegin == begin && c.Convert == conv {
			break
		}
	}
	cmd.ScanBegin = c.ScanBegin
	cmd.Convert = c.Convert

	dev.err = nil

	dev.writeU32(regs.P_IER, 0)
	dev.writeU32(regs.P_ISR, regs.IRQ_RPS1|regs.IRQ_GPIO3)
	dev.dioClearIrq()

	dev.acq.cmd = c
	dev.acq.ppl = makePollList(c.Slots)
	dev.acq.seq = 0
	dev.acq.running = true
	dev.acq.convertCount = 0
	dev.acq.trig = false

	switch c.ScanBegin.Src {
	case TrigTimer:
		k := dev.cntr[cntrScanTimer]
		div, _ := computeDivider(c.ScanBegin.Arg, c.Round, timeBase)
		dev.timerLoad(k, div-1)
		k.ops.setEnable(k, ClkEnabAlways)
	case TrigExt:
		if c.Start.Src != TrigExt {
			dev.dioSetIrq(c.ScanBegin.Arg)
		}
	}

	switch c.Convert.Src {
	case TrigTimer:
		k := dev.cntr[cntrConvTimer]
		div, _ := computeDivider(c.Convert.Arg, c.Round, timeBase)
		dev.timerLoad(k, div-1)
		k.ops.setEnable(k, ClkEnabIndex)
	case TrigExt:
		if c.ScanBegin.Src != TrigExt && c.Start.Src == TrigExt {
			dev.dioSetIrq(c.Convert.Arg)
		}
	}

	switch c.Stop.Src {
	case TrigCount:
		dev.acq.sampleCount = int(c.Stop.Arg)
		dev.acq.continuous = false
	case TrigNone:
		dev.acq.continuous = true
		dev.acq.sampleCount = 1
	}

	dev.resetADC(dev.acq.ppl)

	if dev.err != nil {
		dev.acq.running = false
		return fmt.Errorf("s626: could not arm acquisition: %w", dev.err)
	}

	dev.acq.state = stateArmed
	return nil
}

// Start launches the armed acquisition. A NOW start source releases
// the sequencer immediately; EXT and INT starts leave it waiting for
// the configured edge or for Trigger.
func (dev *Device) Start() error {
	sck, f, err := dev.openSink()
	if err != nil {
		return err
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.acq.state != stateArmed {
		if sck != nil {
			_ = sck.Close()
		}
		if f != nil {
			_ = f.Close()
		}
		return ErrNotArmed
	}
	dev.daq.sck = sck
	dev.daq.f = f

	dev.err = nil
	cmd := &dev.acq.cmd
	switch cmd.Start.Src {
	case TrigNow:
		dev.mcEnable(regs.MC1_ERPS1, regs.P_MC1)
	case TrigExt:
		dev.dioSetIrq(cmd.Start.Arg)
	case TrigInt:
		dev.acq.trig = true
	}

	dev.writeU32(regs.P_IER, regs.IRQ_GPIO3|regs.IRQ_RPS1)

	if dev.err != nil {
		return fmt.Errorf("s626: could not start acquisition: %w", dev.err)
	}

	dev.acq.state = stateStreaming
	dev.acq.eoa = make(chan int)
	return nil
}

// Trigger fires the armed software start trigger. The identifier must
// match the one the command was armed with, and a trigger fires only
// once.
func (dev *Device) Trigger(id uint32) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.acq.state != stateStreaming || !dev.acq.trig {
		return &TriggerError{ID: id}
	}
	if id != dev.acq.cmd.Start.Arg {
		return &TriggerError{ID: id}
	}
	dev.acq.trig = false

	dev.err = nil
	dev.mcEnable(regs.MC1_ERPS1, regs.P_MC1)
	if dev.err != nil {
		return fmt.Errorf("s626: could not trigger acquisition: %w", dev.err)
	}
	return nil
}

// Cancel stops the acquisition: the sequencer halts, interrupts are
// masked and armed trigger lines are dropped. Scans already published
// stay published; no end-of-acquisition scan follows.
func (dev *Device) Cancel() error {
	dev.mu.Lock()
	if dev.acq.state == stateIdle {
		dev.mu.Unlock()
		return nil
	}

	dev.err = nil
	dev.mcDisable(regs.MC1_ERPS1, regs.P_MC1)
	dev.writeU32(regs.P_IER, 0)
	dev.acq.running = false
	dev.acq.trig = false
	dev.acq.convertCount = 0
	dev.acq.state = stateCancelled
	err := dev.err
	eoa := dev.acq.eoa
	dev.acq.eoa = nil
	dev.mu.Unlock()

	if eoa != nil {
		close(eoa)
	}
	dev.closeSink()

	dev.mu.Lock()
	if dev.acq.state == stateCancelled {
		dev.acq.state = stateIdle
	}
	dev.mu.Unlock()

	if err != nil {
		return fmt.Errorf("s626: could not cancel acquisition: %w", err)
	}
	return nil
}

// Wait blocks until the acquisition in flight retires or ctx expires.
func (dev *Device) Wait(ctx context.Context) error {
	dev.mu.Lock()
	eoa := dev.acq.eoa
	dev.mu.Unlock()

	if eoa == nil {
		return nil
	}
	select {
	case <-eoa:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("s626: could not wait for end of acquisition: %w", ctx.Err())
	}
}

// Close cancels any acquisition in flight, stops the interrupt
// service loop and releases the device nodes. Closing a closed device
// is a no-op.
func (dev *Device) Close() error {
	dev.mu.Lock()
	if dev.closed {
		dev.mu.Unlock()
		return nil
	}
	dev.closed = true

	if dev.acq.state != stateIdle {
		dev.err = nil
		dev.mcDisable(regs.MC1_ERPS1, regs.P_MC1)
		dev.writeU32(regs.P_IER, 0)
		dev.acq.running = false
		dev.acq.trig = false
		dev.acq.state = stateIdle
	}
	eoa := dev.acq.eoa
	dev.acq.eoa = nil
	quit := dev.daq.quit
	done := dev.daq.done
	dev.mu.Unlock()

	if eoa != nil {
		close(eoa)
	}

	if quit != nil {
		close(quit)
	}
	if c, ok := dev.irq.(io.Closer); ok {
		// Unblocks the pending interrupt read.
		_ = c.Close()
	}
	if done != nil {
		const timeout = 5 * time.Second
		tck := time.NewTimer(timeout)
		defer tck.Stop()
		select {
		case <-done:
		case <-tck.C:
			return fmt.Errorf("s626: could not stop interrupt service (timeout=%v)", timeout)
		}
	}

	dev.closeSink()

	if dev.mem.bar == nil && dev.mem.win == nil && dev.mem.dma == nil {
		return nil
	}

	var (
		errBAR = dev.mem.bar.Close()
		errWin = dev.mem.win.Close()
		errDMA = dev.mem.dma.Close()
	)
	dev.mem.bar = nil
	dev.mem.win = nil
	dev.mem.dma = nil
	dev.mem.uio = nil

	if errBAR != nil {
		return fmt.Errorf("s626: could not unmap registers: %w", errBAR)
	}
	if errWin != nil {
		return fmt.Errorf("s626: could not unmap DMA window: %w", errWin)
	}
	if errDMA != nil {
		return fmt.Errorf("s626: could not close DMA device: %w", errDMA)
	}
	return nil
}

// irqLoop services the board interrupts: each 4-byte read of the UIO
// node reports one masked interrupt, and writing 1 back re-enables it
// at the bridge.
func (dev *Device) irqLoop() {
	var buf [4]byte
	for {
		_, err := io.ReadFull(dev.irq, buf[:])
		if err != nil {
			select {
			case <-dev.daq.quit:
			default:
				dev.msg.Printf("could not read interrupt event: %+v", err)
			}
			dev.daq.done <- 1
			return
		}

		for _, scan := range dev.serveIRQ() {
			dev.publish(scan)
		}

		binary.LittleEndian.PutUint32(buf[:], 1)
		_, err = dev.irq.Write(buf[:])
		if err != nil {
			select {
			case <-dev.daq.quit:
			default:
				dev.msg.Printf("could not rearm interrupt: %+v", err)
			}
			dev.daq.done <- 1
			return
		}
	}
}

// serveIRQ dispatches one board interrupt and returns the scans it
// completed.
func (dev *Device) serveIRQ() []Scan {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	dev.err = nil

	irqstatus := dev.readU32(regs.P_IER)
	irqtype := dev.readU32(regs.P_ISR)

	// Mask and acknowledge before dispatching.
	dev.writeU32(regs.P_IER, 0)
	dev.writeU32(regs.P_ISR, irqtype)

	var scans []Scan
	if irqtype&regs.IRQ_RPS1 != 0 && dev.acq.running {
		scan, finished := dev.handleEOS()
		scans = append(scans, scan)
		if finished {
			irqstatus = 0
		}
	}
	if irqtype&regs.IRQ_GPIO3 != 0 {
		dev.checkDIOInterrupts()
		dev.checkCounterInterrupts()
	}

	dev.writeU32(regs.P_IER, irqstatus)

	if dev.err != nil {
		dev.msg.Printf("could not serve interrupt: %+v", dev.err)
	}
	return scans
}

// handleEOS drains the freshly finished scan from the analog page.
// The first dword is skipped: it holds the trailing conversion of the
// previous scan.
func (dev *Device) handleEOS() (Scan, bool) {
	cmd := &dev.acq.cmd

	scan := Scan{
		Seq:     dev.acq.seq,
		Time:    time.Now(),
		Samples: make([]int16, len(dev.acq.ppl)),
	}
	for i := range scan.Samples {
		scan.Samples[i] = aiSample(aiRegToUint(dev.anaU32(i + 1)))
	}
	dev.acq.seq++

	if !dev.acq.continuous {
		dev.acq.sampleCount--
	}
	finished := dev.acq.sampleCount <= 0
	if finished {
		dev.acq.running = false
		dev.mcDisable(regs.MC1_ERPS1, regs.P_MC1)
		dev.acq.state = stateRetiring
		scan.Last = true
	}

	if dev.acq.running && cmd.ScanBegin.Src == TrigExt {
		dev.dioSetIrq(cmd.ScanBegin.Arg)
	}
	return scan, finished
}

// checkDIOInterrupts finds the digital group with captured edges and
// services it.
func (dev *Device) checkDIOInterrupts() {
	for group := 0; group < regs.DIO_BANKS; group++ {
		irqbit := dev.debiRead(regs.RDCAPFLG(group))
		if irqbit != 0 {
			dev.handleDIOInterrupt(irqbit, group)
			return
		}
	}
}

// handleDIOInterrupt services one captured edge. An edge on an armed
// trigger line advances the acquisition.
func (dev *Device) handleDIOInterrupt(irqbit uint16, group int) {
	dev.dioResetIrq(group, irqbit)

	if !dev.acq.running {
		return
	}
	cmd := &dev.acq.cmd

	// matched reports whether the captured edge is exactly the arg
	// trigger line.
	matched := func(arg uint32) bool {
		n := int(arg) - 16*group
		return n >= 0 && n < 16 && irqbit>>uint(n) == 1
	}

	if cmd.Start.Src == TrigExt && matched(cmd.Start.Arg) {
		dev.mcEnable(regs.MC1_ERPS1, regs.P_MC1)

		if cmd.ScanBegin.Src == TrigExt {
			dev.dioSetIrq(cmd.ScanBegin.Arg)
		}
	}
	if cmd.ScanBegin.Src == TrigExt && matched(cmd.ScanBegin.Arg) {
		dev.mcEnable(regs.MC2_ADC_RPS, regs.P_MC2)

		switch cmd.Convert.Src {
		case TrigExt:
			dev.acq.convertCount = len(dev.acq.ppl)
			dev.dioSetIrq(cmd.Convert.Arg)
		case TrigTimer:
			// Arm the convert timer for the whole scan.
			k := dev.cntr[cntrConvTimer]
			dev.acq.convertCount = len(dev.acq.ppl)
			k.ops.setEnable(k, ClkEnabAlways)
		}
	}
	if cmd.Convert.Src == TrigExt && matched(cmd.Convert.Arg) {
		dev.mcEnable(regs.MC2_ADC_RPS, regs.P_MC2)

		dev.acq.convertCount--
		if dev.acq.convertCount > 0 {
			dev.dioSetIrq(cmd.Convert.Arg)
		}
	}
}

// checkCounterInterrupts clears fired counter events and paces the
// acquisition timers.
func (dev *Device) checkCounterInterrupts() {
	flags := dev.debiRead(regs.LP_RDMISC2)

	if flags&regs.IRQ_COINT1A != 0 {
		k := dev.cntr[0]
		k.ops.resetCapFlags(k)
	}
	if flags&regs.IRQ_COINT2A != 0 {
		k := dev.cntr[1]
		k.ops.resetCapFlags(k)
	}
	if flags&regs.IRQ_COINT3A != 0 {
		k := dev.cntr[2]
		k.ops.resetCapFlags(k)
	}
	if flags&regs.IRQ_COINT1B != 0 {
		k := dev.cntr[3]
		k.ops.resetCapFlags(k)
	}
	if flags&regs.IRQ_COINT2B != 0 {
		k := dev.cntr[cntrConvTimer]
		k.ops.resetCapFlags(k)

		if dev.acq.running && dev.acq.convertCount > 0 {
			dev.acq.convertCount--
			if dev.acq.convertCount == 0 {
				k.ops.setEnable(k, ClkEnabIndex)
			}
			if dev.acq.cmd.Convert.Src == TrigTimer {
				dev.mcEnable(regs.MC2_ADC_RPS, regs.P_MC2)
			}
		}
	}
	if flags&regs.IRQ_COINT3B != 0 {
		k := dev.cntr[cntrScanTimer]
		k.ops.resetCapFlags(k)

		if dev.acq.running {
			if dev.acq.cmd.ScanBegin.Src == TrigTimer {
				dev.mcEnable(regs.MC2_ADC_RPS, regs.P_MC2)
			}
			if dev.acq.cmd.Convert.Src == TrigTimer {
				kc := dev.cntr[cntrConvTimer]
				dev.acq.convertCount = len(dev.acq.ppl)
				kc.ops.setEnable(kc, ClkEnabAlways)
			}
		}
	}
}

// publish hands one completed scan to the registered handler and the
// configured sinks. It runs on the interrupt service goroutine, after
// the register file has been released.
func (dev *Device) publish(scan Scan) {
	if h := dev.cfg.daq.scan; h != nil {
		h(scan)
	}

	sck, f := dev.sink()
	if sck != nil || f != nil {
		err := dev.daqSendScan(sck, f, scan)
		if err != nil {
			// Drop the sinks rather than stall the acquisition.
			dev.closeSink()
		}
	}

	if scan.Last {
		dev.retire()
	}
}

// retire completes the transition to idle once the final scan has
// been published.
func (dev *Device) retire() {
	dev.mu.Lock()
	if dev.acq.state == stateRetiring {
		dev.acq.state = stateIdle
	}
	eoa := dev.acq.eoa
	dev.acq.eoa = nil
	dev.mu.Unlock()

	if eoa != nil {
		close(eoa)
	}
	dev.closeSink()
}
