// Copyright ©2023 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package s626

import (
	"fmt"

	"github.com/go-daq/sensoray/s626/internal/regs"
)

// Physical trim DAC channels and the EEPROM addresses of their factory
// setpoints, in logical channel order.
var (
	trimChan = [...]uint8{10, 9, 8, 3, 2, 7, 6, 1, 0, 5, 4}
	trimAdrs = [...]uint8{0x40, 0x41, 0x42, 0x50, 0x51, 0x52, 0x53, 0x60, 0x61, 0x62, 0x63}
)

// WriteDAC sets analog output ch to the signed setpoint v, -8191
// (negative full scale) to 8191.
func (dev *Device) WriteDAC(ch, v int) error {
	if ch < 0 || ch >= numAOChans {
		return fmt.Errorf("s626: invalid dac channel %d", ch)
	}
	if v < -aoFullScale || v > aoFullScale {
		return fmt.Errorf("s626: dac value %d out of range", v)
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()

	dev.err = nil
	dev.setDAC(ch, v)
	if dev.err != nil {
		return fmt.Errorf("s626: could not write dac %d: %w", ch, dev.err)
	}
	return nil
}

func (dev *Device) setDAC(ch, v int) {
	// Split the setpoint into a polarity bit and a magnitude.
	sign := uint16(1) << uint(ch)
	if v < 0 {
		v = -v
		dev.dacpol |= sign
	} else {
		dev.dacpol &^= sign
	}
	if v > aoFullScale {
		v = aoFullScale
	}

	// Slots 2 and 3 of time-slot list 2 shift the setpoint out to the
	// addressed DAC chip. Slots 4 and 5 address a nonexistent trim
	// channel so that the serial clock keeps running to the end of
	// the frame.
	ws := uint32(regs.WS2)
	if ch&2 != 0 {
		ws = regs.WS1
	}
	dev.writeU32(regs.VECTPORT(2), regs.XSD2|regs.XFIFO_1|ws)
	dev.writeU32(regs.VECTPORT(3), regs.XSD2|regs.XFIFO_0|ws)
	dev.writeU32(regs.VECTPORT(4), regs.XSD2|regs.XFIFO_3|regs.WS3)
	dev.writeU32(regs.VECTPORT(5), regs.XSD2|regs.XFIFO_2|regs.WS3|regs.EOS)

	val := uint32(0x0F000000) // trailing trim NOP keeps the clock running
	val |= 0x00004000         // address the main dual DACs
	val |= uint32(ch&1) << 15 // DAC A or B within the chip
	val |= uint32(v)
	dev.sendDAC(val)
}

// writeTrimDAC sets one trim DAC, addressed by its logical channel.
func (dev *Device) writeTrimDAC(logical int, data uint8) {
	dev.trimSetpoint[logical] = data

	// Slots 2 and 3 shift the setpoint to the trim DAC. Slots 4 and 5
	// send a NOP to main DAC 0 to keep the serial clock running.
	dev.writeU32(regs.VECTPORT(2), regs.XSD2|regs.XFIFO_1|regs.WS3)
	dev.writeU32(regs.VECTPORT(3), regs.XSD2|regs.XFIFO_0|regs.WS3)
	dev.writeU32(regs.VECTPORT(4), regs.XSD2|regs.XFIFO_3|regs.WS1)
	dev.writeU32(regs.VECTPORT(5), regs.XSD2|regs.XFIFO_2|regs.WS1|regs.EOS)

	dev.sendDAC(uint32(trimChan[logical])<<8 | uint32(data))
}

// loadTrimDACs restores all trim DAC setpoints from the EEPROM.
func (dev *Device) loadTrimDACs() {
	for i, addr := range trimAdrs {
		dev.writeTrimDAC(i, dev.i2cRead(addr))
	}
}

// sendDAC clocks one serial frame out of time-slot list 2. val holds
// the two payload bytes for the addressed DAC plus the trailing word
// that keeps the serial clock coherent. The caller programmed slots 2
// to 5; slot 0 is used here to trap and release list execution.
func (dev *Device) sendDAC(val uint32) {
	if dev.err != nil {
		return
	}

	// The polarity image gates the serial stream and must be stable
	// before slot 0 runs.
	dev.debiWrite(regs.LP_DACPOL, dev.dacpol)

	// Stage the frame word and let the audio DMA push it into the A2
	// output fifo. The transfer terminates at the protection address
	// right after the one dword.
	dev.anaSetU32(regs.DAC_WDMABUF_OS, val)
	dev.mcEnable(regs.MC1_A2OUT, regs.P_MC1)
	dev.writeU32(regs.P_ISR, regs.ISR_AFOU)
	cnt := 0
	for ; cnt < dacTimeout && dev.mcTest(regs.MC1_A2OUT, regs.P_MC1); cnt++ {
	}
	if cnt >= dacTimeout {
		dev.fail(&BusTimeoutError{Op: "dac dma"})
	}

	// Release the list by clearing the end-of-list trap in slot 0,
	// and wait for slot 1 to move the frame word from the fifo into
	// the output buffer.
	dev.writeU32(regs.VECTPORT(0), regs.XSD2|regs.RSD3|regs.SIB_A2)
	cnt = 0
	for ; cnt < dacTimeout && dev.readU32(regs.P_SSR)&regs.SSR_AF2_OUT == 0; cnt++ {
	}
	if cnt >= dacTimeout {
		dev.fail(&BusTimeoutError{Op: "dac fifo"})
	}

	// Trap execution at slot 0 again once the frame is out. Slot 0
	// stores the 0x00 shifted in on SD2 to FB BUFFER 2, so a clear
	// MSB means the trap caught. If the MSB is already clear the
	// sequencer restarted before the trap was set, which leaves it
	// trapped all the same.
	dev.writeU32(regs.VECTPORT(0), regs.XSD2|regs.XFIFO_2|regs.RSD2|regs.SIB_A2|regs.EOS)
	if dev.readU32(regs.P_FB_BUFFER2)&0xff000000 != 0 {
		cnt = 0
		for ; cnt < dacTimeout && dev.readU32(regs.P_FB_BUFFER2)&0xff000000 != 0; cnt++ {
		}
		if cnt >= dacTimeout {
			dev.fail(&BusTimeoutError{Op: "dac frame"})
		}
	}

	// Rewrite slot 0 to shift in the pulled-up SD3 line so that the
	// next frame starts from a 0xFF marker, and wait for it to
	// execute once.
	dev.writeU32(regs.VECTPORT(0), regs.RSD3|regs.SIB_A2|regs.EOS)
	cnt = 0
	for ; cnt < dacTimeout && dev.readU32(regs.P_FB_BUFFER2)&0xff000000 != 0xff000000; cnt++ {
	}
	if cnt >= dacTimeout {
		dev.fail(&BusTimeoutError{Op: "dac frame"})
	}
}
