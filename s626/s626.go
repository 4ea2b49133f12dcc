// Copyright ©2023 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package s626 controls Sensoray 626 multifunction i/o boards.
//
// The board couples an SAA7146A PCI bridge to a local gate array that
// carries a 16-channel 14-bit ADC, four 14-bit DACs, 48 digital i/o
// channels and six 24-bit up/down counters. The package drives the
// bridge registers through a UIO mapping, programs the on-board RPS
// sequencer for hardware paced acquisitions and streams the digitized
// scans back through a DMA buffer.
package s626 // import "github.com/go-daq/sensoray/s626"

const (
	numAIChans  = 16 // single-ended analog inputs
	numAOChans  = 4  // 14-bit analog outputs
	numDIOChans = 48 // digital i/o channels, three banks of 16
	numCntrs    = 6  // 24-bit counter channels, three A/B pairs

	// aoFullScale is the largest DAC setpoint magnitude. Sign lives
	// in the polarity register, not in the setpoint.
	aoFullScale = 0x1FFF
)
