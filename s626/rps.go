// Copyright ©2023 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package s626

import (
	"encoding/binary"
	"fmt"

	"github.com/go-daq/sensoray/s626/internal/regs"
)

// compileRPS emits the scan program run by RPS task 1: an optional
// wait for the scan trigger signal, then one conversion per poll list
// slot, a dummy conversion that flushes the last sample out of the
// ADC pipeline, an optional interrupt, and a jump back to the first
// instruction. The program is a closed loop; a master-control bit
// starts and stops it without rebuilding.
//
// pauseScan gates each scan on the ADC trigger signal, pauseConvert
// gates each conversion on it, irq raises an interrupt per scan.
func compileRPS(ppl []uint8, physRPS, physAna uint32, pauseScan, pauseConvert, irq bool) []uint32 {
	prog := make([]uint32, 0, regs.RPSBUF_SIZE/4)

	if pauseScan {
		// Hold until the scan trigger signal is raised, then eat it.
		prog = append(prog,
			regs.RPS_PAUSE|regs.RPS_SIGADC,
			regs.RPS_CLRSIGNAL|regs.RPS_SIGADC,
		)
	}

	// Throwaway gain write. The first sequencer DEBI write following
	// a host DEBI write fails silently, which would leave the gain of
	// the first slot unprogrammed.
	prog = append(prog,
		regs.RPS_LDREG|regs.P_DEBICMD>>2,
		regs.DEBI_CMD_WRWORD|regs.LP_GSEL,
		regs.RPS_LDREG|regs.P_DEBIAD>>2,
		regs.GSEL_BIPOLAR5V,
		regs.RPS_CLRSIGNAL|regs.RPS_DEBI,
		regs.RPS_UPLOAD|regs.RPS_DEBI,
		regs.RPS_PAUSE|regs.RPS_DEBI,
	)

	items := 0
	for i := 0; i < len(ppl) && i < numAIChans; i++ {
		gsel := uint32(regs.GSEL_BIPOLAR10V)
		if ppl[i]&regs.RANGE_5V != 0 {
			gsel = regs.GSEL_BIPOLAR5V
		}
		sel := uint32(ppl[i])<<8 | gsel

		// Program the gain, then the input channel, through the
		// DEBI shadow registers.
		prog = append(prog,
			regs.RPS_LDREG|regs.P_DEBICMD>>2,
			regs.DEBI_CMD_WRWORD|regs.LP_GSEL,
			regs.RPS_LDREG|regs.P_DEBIAD>>2,
			sel,
			regs.RPS_CLRSIGNAL|regs.RPS_DEBI,
			regs.RPS_UPLOAD|regs.RPS_DEBI,
			regs.RPS_PAUSE|regs.RPS_DEBI,
			regs.RPS_LDREG|regs.P_DEBICMD>>2,
			regs.DEBI_CMD_WRWORD|regs.LP_ISEL,
			regs.RPS_LDREG|regs.P_DEBIAD>>2,
			sel,
			regs.RPS_CLRSIGNAL|regs.RPS_DEBI,
			regs.RPS_UPLOAD|regs.RPS_DEBI,
			regs.RPS_PAUSE|regs.RPS_DEBI,
		)

		// Analog settling, at least 10 µs. Chained jumps pad better
		// than no-ops: every jump flushes the instruction prefetch.
		adrs := physRPS + uint32(len(prog))*4
		for n := 0; n < 10*regs.RPSCLK_PER_US/2; n++ {
			adrs += 8
			prog = append(prog, regs.RPS_JUMP, adrs)
		}

		if pauseConvert {
			// Hold until the convert trigger signal is raised.
			prog = append(prog,
				regs.RPS_PAUSE|regs.RPS_SIGADC,
				regs.RPS_CLRSIGNAL|regs.RPS_SIGADC,
			)
		}

		// Pulse the start line, wait for end-of-convert, and store
		// the previous conversion to the slot's DMA dword.
		prog = append(prog,
			regs.RPS_LDREG|regs.P_GPIO>>2,
			regs.GPIO_BASE|regs.GPIO1_LO,
			regs.RPS_NOP, // stretch the start pulse
			regs.RPS_LDREG|regs.P_GPIO>>2,
			regs.GPIO_BASE|regs.GPIO1_HI,
			regs.RPS_PAUSE|regs.RPS_GPIO2,
			regs.RPS_STREG|regs.BUGFIX_STREG(regs.P_FB_BUFFER1)>>2,
			physAna+uint32(i)<<2,
		)

		items = i + 1
		if ppl[i]&regs.EOPL != 0 {
			break
		}
	}

	// Let the ADC stabilize for 2 µs before the flushing dummy
	// conversion, or its sample can repeat the previous one.
	for n := 0; n < 2*regs.RPSCLK_PER_US; n++ {
		prog = append(prog, regs.RPS_NOP)
	}

	prog = append(prog,
		regs.RPS_LDREG|regs.P_GPIO>>2,
		regs.GPIO_BASE|regs.GPIO1_LO,
		regs.RPS_NOP,
		regs.RPS_LDREG|regs.P_GPIO>>2,
		regs.GPIO_BASE|regs.GPIO1_HI,
		regs.RPS_PAUSE|regs.RPS_GPIO2,
		regs.RPS_STREG|regs.BUGFIX_STREG(regs.P_FB_BUFFER1)>>2,
		physAna+uint32(items)<<2,
	)

	// Mark the end of the scan loop.
	// prog = append(prog, regs.RPS_CLRSIGNAL|regs.RPS_SIGADC)

	if irq {
		prog = append(prog, regs.RPS_IRQ)
	}

	prog = append(prog, regs.RPS_JUMP, physRPS)
	return prog
}

// resetADC stops the sequencer and reloads the scan program for the
// given poll list. The caller restarts the sequencer.
func (dev *Device) resetADC(ppl []uint8) {
	dev.mcDisable(regs.MC1_ERPS1, regs.P_MC1)
	dev.writeU32(regs.P_RPSADDR1, dev.physRPS)

	prog := compileRPS(ppl, dev.physRPS, dev.physAna,
		dev.acq.cmd.ScanBegin.Src != TrigFollow,
		dev.acq.cmd.Convert.Src != TrigNow,
		dev.acq.running)
	dev.writeRPS(prog)

	dev.writeU32(regs.P_RPSADDR1, dev.physRPS)
}

// writeRPS serializes a program into the RPS region of the DMA window.
func (dev *Device) writeRPS(prog []uint32) {
	if dev.err != nil {
		return
	}
	buf := make([]byte, len(prog)*4)
	for i, v := range prog {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}
	if _, err := dev.dma.WriteAt(buf, 0); err != nil {
		dev.fail(fmt.Errorf("s626: could not load rps program: %w", err))
	}
}
