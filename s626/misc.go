// Copyright ©2023 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package s626

import (
	"fmt"
	"time"

	"github.com/go-daq/sensoray/s626/internal/regs"
)

// EnableBattery switches the on-board backup battery charger.
func (dev *Device) EnableBattery(on bool) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	dev.err = nil
	switch {
	case on:
		dev.misc2 |= regs.MISC2_BATT_ENABLE
	default:
		dev.misc2 &^= regs.MISC2_BATT_ENABLE
	}
	dev.writeMisc2(dev.misc2)
	if dev.err != nil {
		return fmt.Errorf("s626: could not switch battery charger: %w", dev.err)
	}
	return nil
}

// Watchdog intervals the board can realize, with their WDMODE
// selects.
var wdIntervals = map[time.Duration]uint16{
	250 * time.Millisecond: 0,
	500 * time.Millisecond: 1,
	1 * time.Second:        2,
	10 * time.Second:       3,
}

// SetWatchdog arms the watchdog timer with one of the intervals the
// board supports (250ms, 500ms, 1s or 10s). A zero interval disarms
// it.
func (dev *Device) SetWatchdog(interval time.Duration) error {
	var bits uint16
	if interval != 0 {
		sel, ok := wdIntervals[interval]
		if !ok {
			return fmt.Errorf("s626: invalid watchdog interval %v", interval)
		}
		bits = regs.MISC2_WDENABLE | sel
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()

	dev.err = nil
	dev.misc2 = dev.misc2&^(regs.MISC2_WDENABLE|regs.MISC2_WDMODE) | bits
	dev.writeMisc2(dev.misc2)
	if dev.err != nil {
		return fmt.Errorf("s626: could not program watchdog: %w", dev.err)
	}
	return nil
}
