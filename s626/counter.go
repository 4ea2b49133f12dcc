// Copyright ©2023 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package s626

import (
	"fmt"

	"github.com/go-daq/sensoray/s626/internal/regs"
)

// LoadSrc selects the event that copies the preload register into the
// counts.
type LoadSrc uint8

const (
	LoadOnIndex     LoadSrc = iota // preload when the index fires
	LoadOnOverflow                 // preload when the counts overflow
	LoadOnOverflowA                // preload when the A sibling overflows
	LoadNone
)

// IntSrc selects the counter events that raise an interrupt.
type IntSrc uint8

const (
	IntNone IntSrc = iota
	IntOverflow
	IntIndex
	IntBoth
)

// LatchSrc selects the event that latches the counts of a counter
// pair.
type LatchSrc uint8

const (
	LatchOnRead      LatchSrc = iota // latch on each read
	LatchOnIndexA                    // latch both siblings on index of A
	LatchOnIndexB                    // latch both siblings on index of B
	LatchOnOverflowA                 // latch both siblings on overflow of A
)

// IndxSrc selects the index source of a counter.
type IndxSrc uint8

const (
	IndexEncoder  IndxSrc = iota // hardware index pin
	IndexDigital                 // digital input channel
	IndexSoft                    // software pulses only
	IndexDisabled
)

// IndxPol selects the active edge of a hardware index.
type IndxPol uint8

const (
	IndexPos IndxPol = iota
	IndexNeg
)

// ClkSrc selects what a counter counts.
type ClkSrc uint8

const (
	ClkSrcCounter  ClkSrc = 0 // encoder clocks
	ClkSrcTimer    ClkSrc = 2 // the 2 MHz system clock
	ClkSrcExtender ClkSrc = 3 // overflows of the A sibling, B channels only
)

// ClkPol selects the active clock edge. In timer mode it selects the
// counting direction instead.
type ClkPol uint8

const (
	ClkPolPos ClkPol = iota
	ClkPolNeg

	CntDirUp   = ClkPolPos
	CntDirDown = ClkPolNeg
)

// ClkMult selects the quadrature clock multiplier.
type ClkMult uint8

const (
	ClkMult4x ClkMult = iota
	ClkMult2x
	ClkMult1x
	ClkMultSpecial
)

// ClkEnab gates the counting clock.
type ClkEnab uint8

const (
	ClkEnabAlways ClkEnab = iota
	ClkEnabIndex // count only while the index flag is set
)

// A Mode describes the configuration of one counter channel. The
// latch source is shared by both siblings of a counter pair and is
// configured separately with SetLatchSrc; Mode carries it for
// read-back only.
type Mode struct {
	LoadSrc  LoadSrc
	LatchSrc LatchSrc
	IntSrc   IntSrc
	IndxSrc  IndxSrc
	IndxPol  IndxPol
	ClkSrc   ClkSrc
	ClkPol   ClkPol
	ClkMult  ClkMult
	ClkEnab  ClkEnab
}

// A Counter is one of the six 24-bit counter channels of the board.
// Channels 0 to 2 are the A sides of the three counter pairs, channels
// 3 to 5 the B sides. An A channel and its B sibling share one
// CRA/CRB register couple, so configuring one rewrites part of the
// other's control bits.
type Counter struct {
	dev   *Device
	idx   int
	cra   uint16 // control registers of this channel's pair
	crb   uint16
	latch uint16     // LSW address of the latch/preload pair
	evb   [4]uint16  // MISC2 event bits, indexed by interrupt source
	ops   cntrOps    // register encoding of this channel's side
}

// cntrOps is the side-specific register encoding of a counter channel.
type cntrOps interface {
	setMode(k *Counter, m Mode, disableIntSrc bool)
	getMode(k *Counter) Mode
	setEnable(k *Counter, enab ClkEnab)
	setIntSrc(k *Counter, src IntSrc)
	setLoadTrig(k *Counter, src LoadSrc)
	pulseIndex(k *Counter)
	resetCapFlags(k *Counter)
}

type (
	cntrA struct{}
	cntrB struct{}
)

var (
	_ cntrOps = cntrA{}
	_ cntrOps = cntrB{}
)

// makeCounters builds the descriptors of the six counter channels.
func makeCounters(dev *Device) [numCntrs]*Counter {
	var (
		ks  [numCntrs]*Counter
		cra = [3]uint16{regs.LP_CR0A, regs.LP_CR1A, regs.LP_CR2A}
		crb = [3]uint16{regs.LP_CR0B, regs.LP_CR1B, regs.LP_CR2B}
		lsw = [numCntrs]uint16{
			regs.LP_CNTR0ALSW, regs.LP_CNTR1ALSW, regs.LP_CNTR2ALSW,
			regs.LP_CNTR0BLSW, regs.LP_CNTR1BLSW, regs.LP_CNTR2BLSW,
		}
	)
	for i := range ks {
		k := &Counter{
			dev:   dev,
			idx:   i,
			cra:   cra[i%3],
			crb:   crb[i%3],
			latch: lsw[i],
			evb: [4]uint16{
				0,
				regs.OVERFLG(i),
				regs.INDXFLG(i),
				regs.OVERFLG(i) | regs.INDXFLG(i),
			},
			ops: cntrA{},
		}
		if i >= 3 {
			k.ops = cntrB{}
		}
		ks[i] = k
	}
	return ks
}

// Chan returns the channel number of the counter.
func (k *Counter) Chan() int { return k.idx }

// SetMode configures the counter. Interrupt generation stays disabled
// regardless of the IntSrc field; use SetIntSrc to enable it.
func (k *Counter) SetMode(m Mode) error {
	dev := k.dev
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.err = nil
	k.ops.setMode(k, m, true)
	if dev.err != nil {
		return fmt.Errorf("s626: could not configure counter %d: %w", k.idx, dev.err)
	}
	return nil
}

// Mode returns the current configuration of the counter.
func (k *Counter) Mode() (Mode, error) {
	dev := k.dev
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.err = nil
	m := k.ops.getMode(k)
	if dev.err != nil {
		return Mode{}, fmt.Errorf("s626: could not read mode of counter %d: %w", k.idx, dev.err)
	}
	return m, nil
}

// SetEnable gates the counting clock.
func (k *Counter) SetEnable(enab ClkEnab) error {
	dev := k.dev
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.err = nil
	k.ops.setEnable(k, enab)
	if dev.err != nil {
		return fmt.Errorf("s626: could not enable counter %d: %w", k.idx, dev.err)
	}
	return nil
}

// SetIntSrc selects the counter events that raise an interrupt.
func (k *Counter) SetIntSrc(src IntSrc) error {
	dev := k.dev
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.err = nil
	k.ops.setIntSrc(k, src)
	if dev.err != nil {
		return fmt.Errorf("s626: could not set interrupt source of counter %d: %w", k.idx, dev.err)
	}
	return nil
}

// SetLatchSrc selects the latching event of the counter pair.
func (k *Counter) SetLatchSrc(src LatchSrc) error {
	dev := k.dev
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.err = nil
	k.setLatchSrc(src)
	if dev.err != nil {
		return fmt.Errorf("s626: could not set latch source of counter %d: %w", k.idx, dev.err)
	}
	return nil
}

// SetLoadTrig selects the event that copies the preload register into
// the counts.
func (k *Counter) SetLoadTrig(src LoadSrc) error {
	dev := k.dev
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.err = nil
	k.ops.setLoadTrig(k, src)
	if dev.err != nil {
		return fmt.Errorf("s626: could not set load trigger of counter %d: %w", k.idx, dev.err)
	}
	return nil
}

// Preload writes v to the preload register without transferring it to
// the counts.
func (k *Counter) Preload(v uint32) error {
	dev := k.dev
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.err = nil
	k.preload(v)
	if dev.err != nil {
		return fmt.Errorf("s626: could not preload counter %d: %w", k.idx, dev.err)
	}
	return nil
}

// Latch latches the counts and returns them.
func (k *Counter) Latch() (uint32, error) {
	dev := k.dev
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.err = nil
	v := k.readLatch()
	if dev.err != nil {
		return 0, fmt.Errorf("s626: could not read counter %d: %w", k.idx, dev.err)
	}
	return v, nil
}

// Write latches v into the counts through a software preload.
func (k *Counter) Write(v uint32) error {
	dev := k.dev
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.err = nil
	k.preload(v)
	// A software index pulse transfers the preload value.
	k.ops.setLoadTrig(k, LoadOnIndex)
	k.ops.pulseIndex(k)
	k.ops.setLoadTrig(k, LoadOnOverflowA)
	if dev.err != nil {
		return fmt.Errorf("s626: could not write counter %d: %w", k.idx, dev.err)
	}
	return nil
}

// PulseIndex fires a software index pulse.
func (k *Counter) PulseIndex() error {
	dev := k.dev
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.err = nil
	k.ops.pulseIndex(k)
	if dev.err != nil {
		return fmt.Errorf("s626: could not pulse index of counter %d: %w", k.idx, dev.err)
	}
	return nil
}

// ResetCapFlags clears the captured index and overflow flags of the
// counter.
func (k *Counter) ResetCapFlags() error {
	dev := k.dev
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.err = nil
	k.ops.resetCapFlags(k)
	if dev.err != nil {
		return fmt.Errorf("s626: could not reset capture flags of counter %d: %w", k.idx, dev.err)
	}
	return nil
}

// AsTimer programs the counter as a self-reloading down counter
// preloaded with ticks intervals of the 2 MHz timebase, raising an
// overflow event at each reload. The clock is left disabled; arm it
// with SetEnable.
func (k *Counter) AsTimer(ticks uint32) error {
	dev := k.dev
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.err = nil
	dev.timerLoad(k, ticks)
	if dev.err != nil {
		return fmt.Errorf("s626: could not program counter %d as timer: %w", k.idx, dev.err)
	}
	return nil
}

// ConfigEncoder configures the counter as a free-running quadrature
// counter with initial counts v.
func (k *Counter) ConfigEncoder(v uint32) error {
	dev := k.dev
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.err = nil
	m := Mode{
		LoadSrc: LoadOnIndex,
		IndxSrc: IndexSoft,
		ClkSrc:  ClkSrcCounter,
		ClkPol:  ClkPolPos,
		ClkMult: ClkMult1x,
		ClkEnab: ClkEnabIndex,
	}
	k.ops.setMode(k, m, true)
	k.preload(v)
	k.ops.pulseIndex(k)
	k.setLatchSrc(LatchOnRead)
	k.ops.setEnable(k, ClkEnabAlways)
	if dev.err != nil {
		return fmt.Errorf("s626: could not configure encoder %d: %w", k.idx, dev.err)
	}
	return nil
}

func (k *Counter) setLatchSrc(src LatchSrc) {
	k.dev.debiReplace(k.crb, ^uint16(regs.CRBMSK_INTCTRL|regs.CRBMSK_LATCHSRC),
		uint16(src)<<regs.CRB_S_LATCHSRC)
}

func (k *Counter) preload(v uint32) {
	k.dev.debiWrite(k.latch, uint16(v))
	k.dev.debiWrite(k.latch+2, uint16(v>>16))
}

func (k *Counter) readLatch() uint32 {
	v := uint32(k.dev.debiRead(k.latch))
	v |= uint32(k.dev.debiRead(k.latch+2)) << 16
	return v
}

func (cntrA) setMode(k *Counter, m Mode, disableIntSrc bool) {
	dev := k.dev

	// A-side images of CRA and CRB.
	cra := uint16(m.LoadSrc)<<regs.CRA_S_LOADSRC_A |
		uint16(m.IndxSrc)<<regs.CRA_S_INDXSRC_A
	if !disableIntSrc {
		cra |= uint16(m.IntSrc) << regs.CRA_S_INTSRC_A
	}
	crb := uint16(regs.CRBMSK_INTRESETCMD|regs.CRBMSK_INTRESET_A) |
		uint16(m.ClkEnab)<<regs.CRB_S_CLKENAB_A

	switch m.ClkSrc {
	case ClkSrcTimer, ClkSrcExtender:
		// Extenders do not exist on A channels, they degrade to
		// plain timers. The counting direction rides in the count
		// source field and the polarity bit reads back as set.
		cra |= (uint16(regs.CNTSRC_SYSCLK) | uint16(m.ClkPol)) << regs.CRA_S_CNTSRC_A
		cra |= 1 << regs.CRA_S_CLKPOL_A
		cra |= regs.CLKMULT_1X << regs.CRA_S_CLKMULT_A
	default:
		cra |= regs.CNTSRC_ENCODER << regs.CRA_S_CNTSRC_A
		cra |= uint16(m.ClkPol) << regs.CRA_S_CLKPOL_A
		mult := m.ClkMult
		if mult == ClkMultSpecial {
			mult = ClkMult1x
		}
		cra |= uint16(mult) << regs.CRA_S_CLKMULT_A
	}

	// A software index has no polarity.
	if m.IndxSrc != IndexSoft {
		cra |= uint16(m.IndxPol) << regs.CRA_S_INDXPOL_A
	}

	// Commit, preserving the B-side fields of CRA and everything but
	// the interrupt controls and the A clock enable in CRB.
	dev.debiReplace(k.cra, regs.CRAMSK_INDXSRC_B|regs.CRAMSK_CNTSRC_B, cra)
	dev.debiReplace(k.crb, ^uint16(regs.CRBMSK_INTCTRL|regs.CRBMSK_CLKENAB_A), crb)
}

func (cntrA) getMode(k *Counter) Mode {
	dev := k.dev
	cra := dev.debiRead(k.cra)
	crb := dev.debiRead(k.crb)

	m := Mode{
		LoadSrc:  LoadSrc(cra >> regs.CRA_S_LOADSRC_A & 3),
		LatchSrc: LatchSrc(crb >> regs.CRB_S_LATCHSRC & 3),
		IntSrc:   IntSrc(cra >> regs.CRA_S_INTSRC_A & 3),
		IndxSrc:  IndxSrc(cra >> regs.CRA_S_INDXSRC_A & 3),
		IndxPol:  IndxPol(cra >> regs.CRA_S_INDXPOL_A & 1),
		ClkEnab:  ClkEnab(crb >> regs.CRB_S_CLKENAB_A & 1),
	}

	cntsrc := cra >> regs.CRA_S_CNTSRC_A & 3
	if cntsrc&regs.CNTSRC_SYSCLK != 0 {
		m.ClkSrc = ClkSrcTimer
		m.ClkPol = ClkPol(cntsrc & 1)
		m.ClkMult = ClkMult1x
	} else {
		m.ClkSrc = ClkSrcCounter
		m.ClkPol = ClkPol(cra >> regs.CRA_S_CLKPOL_A & 1)
		m.ClkMult = ClkMult(cra >> regs.CRA_S_CLKMULT_A & 3)
		if m.ClkMult == ClkMultSpecial {
			m.ClkMult = ClkMult1x
		}
	}
	return m
}

func (cntrA) setEnable(k *Counter, enab ClkEnab) {
	k.dev.debiReplace(k.crb, ^uint16(regs.CRBMSK_INTCTRL|regs.CRBMSK_CLKENAB_A),
		uint16(enab)<<regs.CRB_S_CLKENAB_A)
}

func (cntrA) setIntSrc(k *Counter, src IntSrc) {
	dev := k.dev
	// Reset any pending interrupt of this channel.
	dev.debiReplace(k.crb, ^uint16(regs.CRBMSK_INTCTRL),
		regs.CRBMSK_INTRESETCMD|regs.CRBMSK_INTRESET_A)
	dev.debiReplace(k.cra, ^uint16(regs.CRAMSK_INTSRC_A),
		uint16(src)<<regs.CRA_S_INTSRC_A)
	dev.evEnab = dev.evEnab&^k.evb[3] | k.evb[src]
}

func (cntrA) setLoadTrig(k *Counter, src LoadSrc) {
	k.dev.debiReplace(k.cra, ^uint16(regs.CRAMSK_LOADSRC_A),
		uint16(src)<<regs.CRA_S_LOADSRC_A)
}

func (cntrA) pulseIndex(k *Counter) {
	dev := k.dev
	cra := dev.debiRead(k.cra)
	// Toggle the index polarity twice to simulate an index pulse.
	dev.debiWrite(k.cra, cra^regs.CRAMSK_INDXPOL_A)
	dev.debiWrite(k.cra, cra)
}

func (cntrA) resetCapFlags(k *Counter) {
	k.dev.debiReplace(k.crb, ^uint16(regs.CRBMSK_INTCTRL),
		regs.CRBMSK_INTRESETCMD|regs.CRBMSK_INTRESET_A)
}

func (cntrB) setMode(k *Counter, m Mode, disableIntSrc bool) {
	dev := k.dev

	// B-side images of CRA and CRB.
	cra := uint16(m.IndxSrc) << regs.CRA_S_INDXSRC_B
	crb := uint16(regs.CRBMSK_INTRESETCMD|regs.CRBMSK_INTRESET_B) |
		uint16(m.ClkEnab)<<regs.CRB_S_CLKENAB_B |
		uint16(m.LoadSrc)<<regs.CRB_S_LOADSRC_B
	if !disableIntSrc {
		crb |= uint16(m.IntSrc) << regs.CRB_S_INTSRC_B
	}

	switch m.ClkSrc {
	case ClkSrcTimer:
		cra |= (uint16(regs.CNTSRC_SYSCLK) | uint16(m.ClkPol)) << regs.CRA_S_CNTSRC_B
		crb |= 1 << regs.CRB_S_CLKPOL_B
		crb |= regs.CLKMULT_1X << regs.CRB_S_CLKMULT_B
	case ClkSrcExtender:
		cra |= (uint16(regs.CNTSRC_SYSCLK) | uint16(m.ClkPol)) << regs.CRA_S_CNTSRC_B
		crb |= 1 << regs.CRB_S_CLKPOL_B
		crb |= regs.CLKMULT_SPECIAL << regs.CRB_S_CLKMULT_B
	default:
		cra |= regs.CNTSRC_ENCODER << regs.CRA_S_CNTSRC_B
		crb |= uint16(m.ClkPol) << regs.CRB_S_CLKPOL_B
		mult := m.ClkMult
		if mult == ClkMultSpecial {
			mult = ClkMult1x
		}
		crb |= uint16(mult) << regs.CRB_S_CLKMULT_B
	}

	if m.IndxSrc != IndexSoft {
		crb |= uint16(m.IndxPol) << regs.CRB_S_INDXPOL_B
	}

	// Commit, preserving the A-side fields of CRA and only the A
	// clock enable and the latch source in CRB.
	dev.debiReplace(k.cra, ^uint16(regs.CRAMSK_INDXSRC_B|regs.CRAMSK_CNTSRC_B), cra)
	dev.debiReplace(k.crb, regs.CRBMSK_CLKENAB_A|regs.CRBMSK_LATCHSRC, crb)
}

func (cntrB) getMode(k *Counter) Mode {
	dev := k.dev
	cra := dev.debiRead(k.cra)
	crb := dev.debiRead(k.crb)

	m := Mode{
		LoadSrc:  LoadSrc(crb >> regs.CRB_S_LOADSRC_B & 3),
		LatchSrc: LatchSrc(crb >> regs.CRB_S_LATCHSRC & 3),
		IntSrc:   IntSrc(crb >> regs.CRB_S_INTSRC_B & 3),
		IndxSrc:  IndxSrc(cra >> regs.CRA_S_INDXSRC_B & 3),
		IndxPol:  IndxPol(crb >> regs.CRB_S_INDXPOL_B & 1),
		ClkEnab:  ClkEnab(crb >> regs.CRB_S_CLKENAB_B & 1),
	}

	cntsrc := cra >> regs.CRA_S_CNTSRC_B & 3
	switch {
	case crb>>regs.CRB_S_CLKMULT_B&3 == regs.CLKMULT_SPECIAL:
		m.ClkSrc = ClkSrcExtender
		m.ClkMult = ClkMult1x
		m.ClkPol = ClkPol(cntsrc & 1)
	case cntsrc&regs.CNTSRC_SYSCLK != 0:
		m.ClkSrc = ClkSrcTimer
		m.ClkMult = ClkMult1x
		m.ClkPol = ClkPol(cntsrc & 1)
	default:
		m.ClkSrc = ClkSrcCounter
		m.ClkMult = ClkMult(crb >> regs.CRB_S_CLKMULT_B & 3)
		m.ClkPol = ClkPol(crb >> regs.CRB_S_CLKPOL_B & 1)
	}
	return m
}

func (cntrB) setEnable(k *Counter, enab ClkEnab) {
	k.dev.debiReplace(k.crb, ^uint16(regs.CRBMSK_INTCTRL|regs.CRBMSK_CLKENAB_B),
		uint16(enab)<<regs.CRB_S_CLKENAB_B)
}

func (cntrB) setIntSrc(k *Counter, src IntSrc) {
	dev := k.dev
	// Cache the writable image of CRB.
	crb := dev.debiRead(k.crb) &^ uint16(regs.CRBMSK_INTCTRL)
	// Reset any pending interrupt of this channel.
	dev.debiWrite(k.crb, crb|regs.CRBMSK_INTRESETCMD|regs.CRBMSK_INTRESET_B)
	crb = crb&^uint16(regs.CRBMSK_INTSRC_B) | uint16(src)<<regs.CRB_S_INTSRC_B
	dev.debiWrite(k.crb, crb)
	dev.evEnab = dev.evEnab&^k.evb[3] | k.evb[src]
}

func (cntrB) setLoadTrig(k *Counter, src LoadSrc) {
	k.dev.debiReplace(k.crb, ^uint16(regs.CRBMSK_LOADSRC_B|regs.CRBMSK_INTCTRL),
		uint16(src)<<regs.CRB_S_LOADSRC_B)
}

func (cntrB) pulseIndex(k *Counter) {
	dev := k.dev
	crb := dev.debiRead(k.crb) &^ uint16(regs.CRBMSK_INTCTRL)
	dev.debiWrite(k.crb, crb^regs.CRBMSK_INDXPOL_B)
	dev.debiWrite(k.crb, crb)
}

func (cntrB) resetCapFlags(k *Counter) {
	k.dev.debiReplace(k.crb, ^uint16(regs.CRBMSK_INTCTRL),
		regs.CRBMSK_INTRESETCMD|regs.CRBMSK_INTRESET_B)
}

// timerLoad configures counter k as a periodic down counter preloaded
// with tick system-clock intervals. The clock enable is left to the
// caller.
func (dev *Device) timerLoad(k *Counter, tick uint32) {
	m := Mode{
		LoadSrc: LoadOnIndex,
		IndxSrc: IndexSoft,
		ClkSrc:  ClkSrcTimer,
		ClkPol:  CntDirDown,
		ClkMult: ClkMult1x,
		ClkEnab: ClkEnabIndex,
	}
	k.ops.setMode(k, m, false)
	k.preload(tick)
	// A software index pulse transfers the preload value.
	k.ops.setLoadTrig(k, LoadOnIndex)
	k.ops.pulseIndex(k)
	// From now on reload on overflow, and interrupt at each reload.
	k.ops.setLoadTrig(k, LoadOnOverflow)
	k.ops.setIntSrc(k, IntOverflow)
	k.setLatchSrc(LatchOnIndexA)
}

// countersInit puts all six counters in a benign configuration with
// interrupts off and captured events cleared.
func (dev *Device) countersInit() {
	m := Mode{
		LoadSrc: LoadOnIndex,
		IndxSrc: IndexSoft,
		ClkSrc:  ClkSrcCounter,
		ClkPol:  ClkPolPos,
		ClkMult: ClkMult1x,
		ClkEnab: ClkEnabIndex,
	}
	for _, k := range dev.cntr {
		k.ops.setMode(k, m, true)
		k.ops.setIntSrc(k, IntNone)
		k.ops.resetCapFlags(k)
		k.ops.setEnable(k, ClkEnabAlways)
	}
}
