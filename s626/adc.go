// Copyright ©2023 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package s626

import (
	"fmt"
	"time"

	"github.com/go-daq/sensoray/s626/internal/regs"
)

// Range selects the bipolar input range of an analog input channel.
type Range uint8

const (
	Range5V  Range = iota // ±5V
	Range10V              // ±10V
)

func (rng Range) gsel() uint16 {
	if rng == Range5V {
		return regs.GSEL_BIPOLAR5V
	}
	return regs.GSEL_BIPOLAR10V
}

// Slot is one entry of an acquisition poll list: an analog input
// channel paired with its input range.
type Slot struct {
	Chan  int
	Range Range
}

// makePollList encodes channel/range slots into the board's poll list
// format and flags the last entry as end-of-list. The board scans at
// most 16 slots; extra ones are dropped.
func makePollList(slots []Slot) []uint8 {
	if len(slots) == 0 {
		return nil
	}
	if len(slots) > numAIChans {
		slots = slots[:numAIChans]
	}
	ppl := make([]uint8, len(slots))
	for i, s := range slots {
		ppl[i] = uint8(s.Chan) & regs.CHANMASK
		if s.Range == Range5V {
			ppl[i] |= regs.RANGE_5V
		}
	}
	ppl[len(ppl)-1] |= regs.EOPL
	return ppl
}

// aiRegToUint extracts the 14-bit ADC sample of a raw FB BUFFER 1
// word and recodes it from two's complement to offset binary.
func aiRegToUint(v uint32) uint16 {
	return uint16(v>>18)&0x3fff ^ 0x2000
}

// aiSample recodes an offset-binary ADC sample to a signed count,
// -8192 (negative full scale) to 8191.
func aiSample(u uint16) int16 {
	return int16(u) - 0x2000
}

// ReadADC runs one conversion on the given analog input channel and
// returns the signed sample. The device must be idle: single
// conversions share the ADC front-end with streaming acquisitions.
func (dev *Device) ReadADC(ch int, rng Range) (int16, error) {
	if ch < 0 || ch >= numAIChans {
		return 0, fmt.Errorf("s626: invalid adc channel %d", ch)
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.acq.state != stateIdle {
		return 0, ErrBusy
	}

	dev.err = nil
	sel := uint16(ch)<<8 | rng.gsel()
	dev.debiWrite(regs.LP_GSEL, sel)
	dev.debiWrite(regs.LP_ISEL, sel)

	// Let the analog input settle on the new channel, then convert.
	time.Sleep(10 * time.Microsecond)
	dev.adcConvert()

	// FB BUFFER 1 lags one conversion behind. A dummy conversion
	// shifts the sample out of the ADC pipeline.
	time.Sleep(4 * time.Microsecond)
	dev.adcConvert()
	v := aiSample(aiRegToUint(dev.readU32(regs.P_FB_BUFFER1)))

	if dev.err != nil {
		return 0, fmt.Errorf("s626: could not read adc: %w", dev.err)
	}
	return v, nil
}

// adcConvert pulses GPIO1 low to start one conversion and waits for
// the end-of-convert flag on GPIO2.
func (dev *Device) adcConvert() {
	if dev.err != nil {
		return
	}
	gpio := dev.readU32(regs.P_GPIO)
	// Assert the start command long enough for the ADC to see it.
	dev.writeU32(regs.P_GPIO, gpio&^regs.GPIO1_HI)
	dev.writeU32(regs.P_GPIO, gpio&^regs.GPIO1_HI)
	dev.writeU32(regs.P_GPIO, gpio&^regs.GPIO1_HI)
	dev.writeU32(regs.P_GPIO, gpio|regs.GPIO1_HI)
	for i := 0; i < adcTimeout; i++ {
		if dev.err != nil {
			return
		}
		if dev.readU32(regs.P_PSR)&regs.PSR_GPIO2 != 0 {
			return
		}
	}
	dev.fail(&BusTimeoutError{Op: "adc convert"})
}
