// Copyright ©2023 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package s626

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/go-daq/sensoray/s626/internal/regs"
)

func TestInitialize(t *testing.T) {
	dev, bus, _ := newTestDevice(t)
	err := dev.Initialize()
	if err != nil {
		t.Fatalf("could not initialize device: %+v", err)
	}
	defer dev.Close()

	if got, want := dev.State(), "idle"; got != want {
		t.Fatalf("invalid state: got=%q, want=%q", got, want)
	}
	if got, want := dev.ID(), uint8(1); got != want {
		t.Fatalf("invalid device id: got=%d, want=%d", got, want)
	}

	const engines = regs.MC1_DEBI | regs.MC1_AUDIO | regs.MC1_I2C
	if got := bus.u32(regs.P_MC1); got&engines != engines {
		t.Fatalf("bus engines not enabled: mc1=0x%x", got)
	}
	if got := bus.u32(regs.P_IER); got != 0 {
		t.Fatalf("interrupts enabled out of acquisition: ier=0x%x", got)
	}

	// The serial frame path parks on the 0xFF marker, ready for the
	// next DAC frame.
	if got, want := bus.u32(regs.P_FB_BUFFER2), uint32(0xff000000); got != want {
		t.Fatalf("serial frame path not parked: fb2=0x%x", got)
	}

	// The counters come up benign: soft index, free running, no
	// interrupts.
	m, err := dev.Counter(0).Mode()
	if err != nil {
		t.Fatalf("could not read counter mode: %+v", err)
	}
	want := Mode{
		LoadSrc: LoadOnIndex,
		IndxSrc: IndexSoft,
		ClkSrc:  ClkSrcCounter,
		ClkMult: ClkMult1x,
		ClkEnab: ClkEnabAlways,
	}
	if m != want {
		t.Fatalf("invalid counter mode:\ngot= %+v\nwant=%+v", m, want)
	}

	// Initializing an idle device again is allowed.
	err = dev.Initialize()
	if err != nil {
		t.Fatalf("could not re-initialize device: %+v", err)
	}
}

func TestInitializeBusError(t *testing.T) {
	dev, bus, _ := newTestDevice(t)
	bus.debiStuck = true

	err := dev.Initialize()
	var berr *BusTimeoutError
	if !errors.As(err, &berr) {
		t.Fatalf("invalid initialize error: got=%+v", err)
	}
	if dev.daq.quit != nil {
		t.Fatalf("interrupt service must not start on a dead bus")
	}

	err = dev.Close()
	if err != nil {
		t.Fatalf("could not close device: %+v", err)
	}
}

func TestAcqStopCount(t *testing.T) {
	scans := make(chan Scan, 8)
	dev, bus, irq := newTestDevice(t, WithScanHandler(func(scan Scan) { scans <- scan }))

	err := dev.Initialize()
	if err != nil {
		t.Fatalf("could not initialize device: %+v", err)
	}
	defer dev.Close()

	fire := func(cause uint32) {
		t.Helper()
		bus.setU32(regs.P_ISR, cause)
		irq.events <- 1
		<-irq.armed
	}

	cmd := AcqCommand{
		Slots:     []Slot{{Chan: 0, Range: Range10V}, {Chan: 3, Range: Range5V}},
		Start:     Trig{Src: TrigNow},
		ScanBegin: Trig{Src: TrigTimer, Arg: 999900},
		Convert:   Trig{Src: TrigNow},
		ScanEnd:   Trig{Src: TrigCount, Arg: 2},
		Stop:      Trig{Src: TrigCount, Arg: 3},
	}
	err = dev.Arm(&cmd)
	if err != nil {
		t.Fatalf("could not arm acquisition: %+v", err)
	}
	if got, want := cmd.ScanBegin.Arg, uint32(1000000); got != want {
		t.Fatalf("invalid realized scan period: got=%d, want=%d", got, want)
	}
	if got, want := dev.State(), "armed"; got != want {
		t.Fatalf("invalid state: got=%q, want=%q", got, want)
	}
	if err := dev.Arm(&cmd); !errors.Is(err, ErrBusy) {
		t.Fatalf("invalid re-arm error: got=%+v, want=%+v", err, ErrBusy)
	}
	if err := dev.Initialize(); !errors.Is(err, ErrBusy) {
		t.Fatalf("invalid initialize-while-armed error: got=%+v, want=%+v", err, ErrBusy)
	}

	err = dev.Start()
	if err != nil {
		t.Fatalf("could not start acquisition: %+v", err)
	}
	if got, want := dev.State(), "streaming"; got != want {
		t.Fatalf("invalid state: got=%q, want=%q", got, want)
	}
	if bus.u32(regs.P_MC1)&regs.MC1_ERPS1 == 0 {
		t.Fatalf("sequencer not running")
	}
	if got, want := bus.u32(regs.P_IER), uint32(regs.IRQ_GPIO3|regs.IRQ_RPS1); got != want {
		t.Fatalf("invalid interrupt enables: got=0x%x, want=0x%x", got, want)
	}

	samples := [][]int16{
		{100, -200},
		{42, -8192},
		{8191, 0},
	}
	for i, data := range samples {
		loadScan(t, dev, data)
		fire(regs.IRQ_RPS1)

		scan := <-scans
		if got, want := scan.Seq, uint32(i); got != want {
			t.Fatalf("scan %d: invalid seq: got=%d, want=%d", i, got, want)
		}
		if !reflect.DeepEqual(scan.Samples, data) {
			t.Fatalf("scan %d: invalid samples: got=%v, want=%v", i, scan.Samples, data)
		}
		if got, want := scan.Last, i == len(samples)-1; got != want {
			t.Fatalf("scan %d: invalid last flag: got=%v, want=%v", i, got, want)
		}
	}

	if got, want := dev.State(), "idle"; got != want {
		t.Fatalf("invalid state: got=%q, want=%q", got, want)
	}
	if bus.u32(regs.P_MC1)&regs.MC1_ERPS1 != 0 {
		t.Fatalf("sequencer still running after the stop count")
	}
	if got := bus.u32(regs.P_IER); got != 0 {
		t.Fatalf("interrupts still enabled after the stop count: ier=0x%x", got)
	}
	err = dev.Wait(context.Background())
	if err != nil {
		t.Fatalf("could not wait for end of acquisition: %+v", err)
	}

	// A stray interrupt after the stop count publishes nothing.
	fire(regs.IRQ_RPS1)
	select {
	case scan := <-scans:
		t.Fatalf("unexpected scan after the stop count: %+v", scan)
	default:
	}

	err = dev.Close()
	if err != nil {
		t.Fatalf("could not close device: %+v", err)
	}
}

func TestAcqTrigger(t *testing.T) {
	scans := make(chan Scan, 4)
	dev, bus, irq := newTestDevice(t, WithScanHandler(func(scan Scan) { scans <- scan }))

	err := dev.Initialize()
	if err != nil {
		t.Fatalf("could not initialize device: %+v", err)
	}
	defer dev.Close()

	// Nothing armed, nothing to fire.
	var terr *TriggerError
	if err := dev.Trigger(0); !errors.As(err, &terr) {
		t.Fatalf("invalid trigger error: got=%+v", err)
	}

	cmd := AcqCommand{
		Slots:     []Slot{{Chan: 2, Range: Range10V}},
		Start:     Trig{Src: TrigInt},
		ScanBegin: Trig{Src: TrigTimer, Arg: 1000000},
		Convert:   Trig{Src: TrigNow},
		ScanEnd:   Trig{Src: TrigCount, Arg: 1},
		Stop:      Trig{Src: TrigCount, Arg: 1},
	}
	err = dev.Arm(&cmd)
	if err != nil {
		t.Fatalf("could not arm acquisition: %+v", err)
	}
	err = dev.Start()
	if err != nil {
		t.Fatalf("could not start acquisition: %+v", err)
	}
	if bus.u32(regs.P_MC1)&regs.MC1_ERPS1 != 0 {
		t.Fatalf("sequencer must wait for the software trigger")
	}

	err = dev.Trigger(3)
	if !errors.As(err, &terr) {
		t.Fatalf("invalid trigger error: got=%+v", err)
	}
	if got, want := terr.ID, uint32(3); got != want {
		t.Fatalf("invalid trigger id: got=%d, want=%d", got, want)
	}

	err = dev.Trigger(0)
	if err != nil {
		t.Fatalf("could not fire trigger: %+v", err)
	}
	if bus.u32(regs.P_MC1)&regs.MC1_ERPS1 == 0 {
		t.Fatalf("sequencer not released by the trigger")
	}

	// The trigger fires only once.
	if err := dev.Trigger(0); !errors.As(err, &terr) {
		t.Fatalf("invalid re-trigger error: got=%+v", err)
	}

	loadScan(t, dev, []int16{1234})
	bus.setU32(regs.P_ISR, regs.IRQ_RPS1)
	irq.events <- 1
	<-irq.armed

	scan := <-scans
	if !scan.Last {
		t.Fatalf("invalid last flag: %+v", scan)
	}
	if got, want := dev.State(), "idle"; got != want {
		t.Fatalf("invalid state: got=%q, want=%q", got, want)
	}
}

func TestAcqExtStart(t *testing.T) {
	scans := make(chan Scan, 4)
	dev, bus, irq := newTestDevice(t, WithScanHandler(func(scan Scan) { scans <- scan }))

	err := dev.Initialize()
	if err != nil {
		t.Fatalf("could not initialize device: %+v", err)
	}
	defer dev.Close()

	fire := func(cause uint32) {
		t.Helper()
		bus.setU32(regs.P_ISR, cause)
		irq.events <- 1
		<-irq.armed
	}

	cmd := AcqCommand{
		Slots:     []Slot{{Chan: 1, Range: Range10V}},
		Start:     Trig{Src: TrigExt, Arg: 5},
		ScanBegin: Trig{Src: TrigTimer, Arg: 1000000},
		Convert:   Trig{Src: TrigNow},
		ScanEnd:   Trig{Src: TrigCount, Arg: 1},
		Stop:      Trig{Src: TrigCount, Arg: 1},
	}
	err = dev.Arm(&cmd)
	if err != nil {
		t.Fatalf("could not arm acquisition: %+v", err)
	}
	err = dev.Start()
	if err != nil {
		t.Fatalf("could not start acquisition: %+v", err)
	}

	// The start line is armed for rising edges, the sequencer is not
	// released yet.
	if got := bus.gaReg(regs.WRINTSEL(0)); got&(1<<5) == 0 {
		t.Fatalf("start line not armed: intsel=0x%04x", got)
	}
	if got := bus.gaReg(regs.WREDGSEL(0)); got&(1<<5) == 0 {
		t.Fatalf("start line not set to rising edges: edgsel=0x%04x", got)
	}
	if bus.u32(regs.P_MC1)&regs.MC1_ERPS1 != 0 {
		t.Fatalf("sequencer must wait for the start edge")
	}

	// An edge captured on another line is ignored.
	bus.gaSet(regs.RDCAPFLG(0), 1<<4)
	fire(regs.IRQ_GPIO3)
	if bus.u32(regs.P_MC1)&regs.MC1_ERPS1 != 0 {
		t.Fatalf("sequencer released by the wrong line")
	}

	// The armed edge releases it.
	bus.gaSet(regs.RDCAPFLG(0), 1<<5)
	fire(regs.IRQ_GPIO3)
	if bus.u32(regs.P_MC1)&regs.MC1_ERPS1 == 0 {
		t.Fatalf("sequencer not released by the start edge")
	}

	loadScan(t, dev, []int16{-77})
	fire(regs.IRQ_RPS1)
	scan := <-scans
	if !scan.Last {
		t.Fatalf("invalid last flag: %+v", scan)
	}
	if got, want := dev.State(), "idle"; got != want {
		t.Fatalf("invalid state: got=%q, want=%q", got, want)
	}
}

func TestAcqExtScan(t *testing.T) {
	scans := make(chan Scan, 4)
	dev, bus, irq := newTestDevice(t, WithScanHandler(func(scan Scan) { scans <- scan }))

	err := dev.Initialize()
	if err != nil {
		t.Fatalf("could not initialize device: %+v", err)
	}
	defer dev.Close()

	fire := func(cause uint32) {
		t.Helper()
		bus.setU32(regs.P_ISR, cause)
		irq.events <- 1
		<-irq.armed
	}

	// Scans gated on edges of digital input line 17, in the second
	// i/o group.
	cmd := AcqCommand{
		Slots:     []Slot{{Chan: 6, Range: Range5V}},
		Start:     Trig{Src: TrigNow},
		ScanBegin: Trig{Src: TrigExt, Arg: 17},
		Convert:   Trig{Src: TrigNow},
		ScanEnd:   Trig{Src: TrigCount, Arg: 1},
		Stop:      Trig{Src: TrigCount, Arg: 2},
	}
	err = dev.Arm(&cmd)
	if err != nil {
		t.Fatalf("could not arm acquisition: %+v", err)
	}
	if got := bus.gaReg(regs.WRINTSEL(1)); got&(1<<1) == 0 {
		t.Fatalf("scan line not armed: intsel=0x%04x", got)
	}
	err = dev.Start()
	if err != nil {
		t.Fatalf("could not start acquisition: %+v", err)
	}
	if bus.u32(regs.P_MC1)&regs.MC1_ERPS1 == 0 {
		t.Fatalf("sequencer not running")
	}

	for i := 0; i < 2; i++ {
		bus.gaSet(regs.RDCAPFLG(1), 1<<1)
		fire(regs.IRQ_GPIO3)
		if bus.u32(regs.P_MC2)&regs.MC2_ADC_RPS == 0 {
			t.Fatalf("scan %d: trigger signal not raised", i)
		}

		loadScan(t, dev, []int16{int16(i + 1)})
		fire(regs.IRQ_RPS1)
		scan := <-scans
		if got, want := scan.Seq, uint32(i); got != want {
			t.Fatalf("scan %d: invalid seq: got=%d, want=%d", i, got, want)
		}
		if got, want := scan.Last, i == 1; got != want {
			t.Fatalf("scan %d: invalid last flag: got=%v, want=%v", i, got, want)
		}
	}

	if got, want := dev.State(), "idle"; got != want {
		t.Fatalf("invalid state: got=%q, want=%q", got, want)
	}
}

func TestAcqTimerPacing(t *testing.T) {
	dev, bus, irq := newTestDevice(t)

	err := dev.Initialize()
	if err != nil {
		t.Fatalf("could not initialize device: %+v", err)
	}
	defer dev.Close()

	fire := func(cause uint32) {
		t.Helper()
		bus.setU32(regs.P_ISR, cause)
		irq.events <- 1
		<-irq.armed
	}

	cmd := AcqCommand{
		Slots:     []Slot{{Chan: 0, Range: Range10V}, {Chan: 1, Range: Range10V}},
		Start:     Trig{Src: TrigNow},
		ScanBegin: Trig{Src: TrigTimer, Arg: 10000000},
		Convert:   Trig{Src: TrigTimer, Arg: 250000},
		ScanEnd:   Trig{Src: TrigCount, Arg: 2},
		Stop:      Trig{Src: TrigNone},
	}
	err = dev.Arm(&cmd)
	if err != nil {
		t.Fatalf("could not arm acquisition: %+v", err)
	}

	// The pacing timers hold one period less one tick, the scan timer
	// runs, the convert timer waits on its index gate.
	if v, err := dev.Counter(cntrScanTimer).Latch(); err != nil || v != 19999 {
		t.Fatalf("invalid scan timer counts: got=(%d, %v), want=(19999, nil)", v, err)
	}
	if v, err := dev.Counter(cntrConvTimer).Latch(); err != nil || v != 499 {
		t.Fatalf("invalid convert timer counts: got=(%d, %v), want=(499, nil)", v, err)
	}
	m, err := dev.Counter(cntrScanTimer).Mode()
	if err != nil {
		t.Fatalf("could not read scan timer mode: %+v", err)
	}
	if got, want := m.ClkEnab, ClkEnabAlways; got != want {
		t.Fatalf("invalid scan timer gate: got=%v, want=%v", got, want)
	}
	m, err = dev.Counter(cntrConvTimer).Mode()
	if err != nil {
		t.Fatalf("could not read convert timer mode: %+v", err)
	}
	if got, want := m.ClkEnab, ClkEnabIndex; got != want {
		t.Fatalf("invalid convert timer gate: got=%v, want=%v", got, want)
	}

	err = dev.Start()
	if err != nil {
		t.Fatalf("could not start acquisition: %+v", err)
	}

	convertCount := func() int {
		dev.mu.Lock()
		defer dev.mu.Unlock()
		return dev.acq.convertCount
	}

	// A scan timer overflow raises the scan trigger signal and frees
	// the convert timer for one scan's worth of conversions.
	bus.gaSet(regs.LP_RDMISC2, regs.IRQ_COINT3B)
	fire(regs.IRQ_GPIO3)
	if bus.u32(regs.P_MC2)&regs.MC2_ADC_RPS == 0 {
		t.Fatalf("scan trigger signal not raised")
	}
	if got, want := convertCount(), 2; got != want {
		t.Fatalf("invalid convert budget: got=%d, want=%d", got, want)
	}
	m, err = dev.Counter(cntrConvTimer).Mode()
	if err != nil {
		t.Fatalf("could not read convert timer mode: %+v", err)
	}
	if got, want := m.ClkEnab, ClkEnabAlways; got != want {
		t.Fatalf("convert timer not released: got=%v, want=%v", got, want)
	}

	// Convert timer overflows pace the conversions; the timer gates
	// again after the last one of the scan.
	bus.gaSet(regs.LP_RDMISC2, regs.IRQ_COINT2B)
	fire(regs.IRQ_GPIO3)
	if got, want := convertCount(), 1; got != want {
		t.Fatalf("invalid convert budget: got=%d, want=%d", got, want)
	}
	fire(regs.IRQ_GPIO3)
	if got, want := convertCount(), 0; got != want {
		t.Fatalf("invalid convert budget: got=%d, want=%d", got, want)
	}
	m, err = dev.Counter(cntrConvTimer).Mode()
	if err != nil {
		t.Fatalf("could not read convert timer mode: %+v", err)
	}
	if got, want := m.ClkEnab, ClkEnabIndex; got != want {
		t.Fatalf("convert timer not re-gated: got=%v, want=%v", got, want)
	}

	err = dev.Cancel()
	if err != nil {
		t.Fatalf("could not cancel acquisition: %+v", err)
	}
}

func TestAcqCancel(t *testing.T) {
	scans := make(chan Scan, 4)
	dev, bus, irq := newTestDevice(t, WithScanHandler(func(scan Scan) { scans <- scan }))

	err := dev.Initialize()
	if err != nil {
		t.Fatalf("could not initialize device: %+v", err)
	}
	defer dev.Close()

	// Cancelling an idle device is a no-op.
	err = dev.Cancel()
	if err != nil {
		t.Fatalf("could not cancel idle device: %+v", err)
	}

	cmd := AcqCommand{
		Slots:     []Slot{{Chan: 0, Range: Range10V}},
		Start:     Trig{Src: TrigNow},
		ScanBegin: Trig{Src: TrigTimer, Arg: 1000000},
		Convert:   Trig{Src: TrigNow},
		ScanEnd:   Trig{Src: TrigCount, Arg: 1},
		Stop:      Trig{Src: TrigNone},
	}
	err = dev.Arm(&cmd)
	if err != nil {
		t.Fatalf("could not arm acquisition: %+v", err)
	}
	err = dev.Start()
	if err != nil {
		t.Fatalf("could not start acquisition: %+v", err)
	}

	loadScan(t, dev, []int16{55})
	bus.setU32(regs.P_ISR, regs.IRQ_RPS1)
	irq.events <- 1
	<-irq.armed

	scan := <-scans
	if scan.Last {
		t.Fatalf("continuous scan flagged as last: %+v", scan)
	}

	err = dev.Cancel()
	if err != nil {
		t.Fatalf("could not cancel acquisition: %+v", err)
	}
	if got, want := dev.State(), "idle"; got != want {
		t.Fatalf("invalid state: got=%q, want=%q", got, want)
	}
	if bus.u32(regs.P_MC1)&regs.MC1_ERPS1 != 0 {
		t.Fatalf("sequencer still running after cancel")
	}
	if got := bus.u32(regs.P_IER); got != 0 {
		t.Fatalf("interrupts still enabled after cancel: ier=0x%x", got)
	}
	err = dev.Wait(context.Background())
	if err != nil {
		t.Fatalf("could not wait after cancel: %+v", err)
	}

	// The engine re-arms after a cancel.
	err = dev.Arm(&cmd)
	if err != nil {
		t.Fatalf("could not re-arm after cancel: %+v", err)
	}
	err = dev.Start()
	if err != nil {
		t.Fatalf("could not re-start after cancel: %+v", err)
	}
	err = dev.Cancel()
	if err != nil {
		t.Fatalf("could not cancel acquisition: %+v", err)
	}
}

func TestStartNotArmed(t *testing.T) {
	dev, _, _ := newTestDevice(t)
	err := dev.Initialize()
	if err != nil {
		t.Fatalf("could not initialize device: %+v", err)
	}
	defer dev.Close()

	if err := dev.Start(); !errors.Is(err, ErrNotArmed) {
		t.Fatalf("invalid start error: got=%+v, want=%+v", err, ErrNotArmed)
	}
}

func TestWaitTimeout(t *testing.T) {
	dev, _, _ := newTestDevice(t)
	err := dev.Initialize()
	if err != nil {
		t.Fatalf("could not initialize device: %+v", err)
	}
	defer dev.Close()

	// Nothing in flight.
	err = dev.Wait(context.Background())
	if err != nil {
		t.Fatalf("could not wait on idle device: %+v", err)
	}

	cmd := AcqCommand{
		Slots:     []Slot{{Chan: 0, Range: Range10V}},
		Start:     Trig{Src: TrigNow},
		ScanBegin: Trig{Src: TrigTimer, Arg: 1000000},
		Convert:   Trig{Src: TrigNow},
		ScanEnd:   Trig{Src: TrigCount, Arg: 1},
		Stop:      Trig{Src: TrigCount, Arg: 1},
	}
	if err := dev.Arm(&cmd); err != nil {
		t.Fatalf("could not arm acquisition: %+v", err)
	}
	if err := dev.Start(); err != nil {
		t.Fatalf("could not start acquisition: %+v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err = dev.Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("invalid wait error: got=%+v, want=%+v", err, context.DeadlineExceeded)
	}

	if err := dev.Cancel(); err != nil {
		t.Fatalf("could not cancel acquisition: %+v", err)
	}
	if err := dev.Wait(context.Background()); err != nil {
		t.Fatalf("could not wait after cancel: %+v", err)
	}
}

func TestDeviceClose(t *testing.T) {
	dev, _, _ := newTestDevice(t)
	err := dev.Initialize()
	if err != nil {
		t.Fatalf("could not initialize device: %+v", err)
	}

	err = dev.Close()
	if err != nil {
		t.Fatalf("could not close device: %+v", err)
	}
	err = dev.Close()
	if err != nil {
		t.Fatalf("second close must be a no-op: %+v", err)
	}

	err = dev.Initialize()
	if err == nil || !strings.Contains(err.Error(), "closed") {
		t.Fatalf("invalid initialize-after-close error: %+v", err)
	}
}
