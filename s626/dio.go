// Copyright ©2023 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package s626

import (
	"fmt"

	"github.com/go-daq/sensoray/s626/internal/regs"
)

// Edge selects which transition of a digital input line raises its
// capture flag.
type Edge uint8

const (
	EdgeFalling Edge = iota
	EdgeRising
)

// ReadDIO returns the input states of the 16 lines of a digital i/o
// group.
func (dev *Device) ReadDIO(group int) (uint16, error) {
	if group < 0 || group >= regs.DIO_BANKS {
		return 0, fmt.Errorf("s626: invalid dio group %d", group)
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()

	dev.err = nil
	v := dev.debiRead(regs.RDDIN(group))
	if dev.err != nil {
		return 0, fmt.Errorf("s626: could not read dio group %d: %w", group, dev.err)
	}
	return v, nil
}

// WriteDIO drives the 16 output lines of a digital i/o group.
func (dev *Device) WriteDIO(group int, bits uint16) error {
	if group < 0 || group >= regs.DIO_BANKS {
		return fmt.Errorf("s626: invalid dio group %d", group)
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()

	dev.err = nil
	dev.debiWrite(regs.WRDOUT(group), bits)
	if dev.err != nil {
		return fmt.Errorf("s626: could not write dio group %d: %w", group, dev.err)
	}
	return nil
}

// SetEdge selects the transition captured on one digital input line.
func (dev *Device) SetEdge(group, line int, pol Edge) error {
	if group < 0 || group >= regs.DIO_BANKS || line < 0 || line >= 16 {
		return fmt.Errorf("s626: invalid dio line %d.%d", group, line)
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()

	dev.err = nil
	mask := uint16(1) << uint(line)
	sel := dev.debiRead(regs.RDEDGSEL(group))
	if pol == EdgeRising {
		sel |= mask
	} else {
		sel &^= mask
	}
	dev.debiWrite(regs.WREDGSEL(group), sel)
	if dev.err != nil {
		return fmt.Errorf("s626: could not set edge of dio line %d.%d: %w", group, line, dev.err)
	}
	return nil
}

// EnableDIOInt arms the masked lines of a digital i/o group as
// interrupt sources. A captured edge on an armed line raises the
// group interrupt and disarms that line until it is armed again.
func (dev *Device) EnableDIOInt(group int, mask uint16) error {
	if group < 0 || group >= regs.DIO_BANKS {
		return fmt.Errorf("s626: invalid dio group %d", group)
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()

	dev.err = nil
	dev.debiWrite(regs.WRINTSEL(group), mask|dev.debiRead(regs.RDINTSEL(group)))
	dev.debiWrite(regs.LP_MISC1, regs.MISC1_EDCAP)
	dev.debiWrite(regs.WRCAPSEL(group), mask|dev.debiRead(regs.RDCAPSEL(group)))
	if dev.err != nil {
		return fmt.Errorf("s626: could not enable dio interrupts of group %d: %w", group, dev.err)
	}
	return nil
}

// ClearDIOInt disarms the masked lines of a digital i/o group and
// clears their captured-edge flags and interrupt enables.
func (dev *Device) ClearDIOInt(group int, mask uint16) error {
	if group < 0 || group >= regs.DIO_BANKS {
		return fmt.Errorf("s626: invalid dio group %d", group)
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()

	dev.err = nil
	dev.debiWrite(regs.WRINTSEL(group), dev.debiRead(regs.RDINTSEL(group))&^mask)
	dev.dioResetIrq(group, mask)
	if dev.err != nil {
		return fmt.Errorf("s626: could not clear dio interrupts of group %d: %w", group, dev.err)
	}
	return nil
}

// dioSetIrq arms one digital input line as a rising-edge interrupt
// source of the acquisition state machine.
func (dev *Device) dioSetIrq(ch uint32) {
	group := int(ch / 16)
	mask := uint16(1) << (ch % 16)
	dev.debiWrite(regs.WREDGSEL(group), mask|dev.debiRead(regs.RDEDGSEL(group)))
	dev.debiWrite(regs.WRINTSEL(group), mask|dev.debiRead(regs.RDINTSEL(group)))
	dev.debiWrite(regs.LP_MISC1, regs.MISC1_EDCAP)
	dev.debiWrite(regs.WRCAPSEL(group), mask|dev.debiRead(regs.RDCAPSEL(group)))
}

// dioResetIrq disarms the masked lines and clears their captured-edge
// flags.
func (dev *Device) dioResetIrq(group int, mask uint16) {
	dev.debiWrite(regs.LP_MISC1, regs.MISC1_NOEDCAP)
	dev.debiWrite(regs.WRCAPSEL(group), mask)
}

// dioClearIrq disarms every digital input line and clears all
// captured-edge flags.
func (dev *Device) dioClearIrq() {
	dev.debiWrite(regs.LP_MISC1, regs.MISC1_NOEDCAP)
	for group := 0; group < regs.DIO_BANKS; group++ {
		dev.debiWrite(regs.WRCAPSEL(group), 0xffff)
	}
}

// dioInit puts the digital i/o banks in their reset state: outputs
// low, captures disarmed, interrupts disabled.
func (dev *Device) dioInit() {
	dev.debiWrite(regs.LP_MISC1, regs.MISC1_NOEDCAP)
	for group := 0; group < regs.DIO_BANKS; group++ {
		dev.debiWrite(regs.WRINTSEL(group), 0)
		dev.debiWrite(regs.WRCAPSEL(group), 0xffff)
		dev.debiWrite(regs.WREDGSEL(group), 0)
		dev.debiWrite(regs.WRDOUT(group), 0)
	}
}
