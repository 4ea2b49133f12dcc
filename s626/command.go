// Copyright ©2023 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package s626

import "fmt"

// TrigSrc names an event source for one phase of a streaming
// acquisition.
type TrigSrc uint8

const (
	TrigNone   TrigSrc = iota // no event
	TrigNow                   // fire immediately
	TrigTimer                 // paced by an on-board timer counter
	TrigExt                   // edges on a digital input line
	TrigInt                   // released by a software trigger
	TrigFollow                // follow the inner phase with no gate
	TrigCount                 // fire after a count
)

func (src TrigSrc) String() string {
	switch src {
	case TrigNone:
		return "none"
	case TrigNow:
		return "now"
	case TrigTimer:
		return "timer"
	case TrigExt:
		return "ext"
	case TrigInt:
		return "int"
	case TrigFollow:
		return "follow"
	case TrigCount:
		return "count"
	}
	return fmt.Sprintf("TrigSrc(%d)", uint8(src))
}

// Trig pairs a trigger source with its argument. The argument of a
// timer source is a period in nanoseconds, of an external source a
// digital input line 0 to 39, of a count source a number of scans.
type Trig struct {
	Src TrigSrc
	Arg uint32
}

// Round selects how timer periods round to the 2 MHz timebase.
type Round uint8

const (
	RoundNearest Round = iota
	RoundDown
	RoundUp
)

// AcqCommand describes a streaming acquisition over a poll list.
type AcqCommand struct {
	Slots     []Slot // analog input slots, scanned in order
	Start     Trig   // what starts the acquisition
	ScanBegin Trig   // what starts each scan
	Convert   Trig   // what paces conversions within a scan
	ScanEnd   Trig   // scan boundary, a count equal to len(Slots)
	Stop      Trig   // what ends the acquisition
	Round     Round  // timer rounding policy
}

// timeBase is the period of the counter timebase, in nanoseconds.
const timeBase = 500

// Pacing limits, in nanoseconds, and the other argument bounds.
const (
	minPeriod    = 200000
	maxPeriod    = 2000000000
	maxExtLine   = 39
	maxStopCount = 0x00ffffff // the counters latch 24 bits
)

// computeDivider converts a period in nanoseconds to a divider of the
// base clock period, rounding per rnd. It returns the divider and the
// realized period.
func computeDivider(ns uint32, rnd Round, base uint32) (uint32, uint32) {
	var div uint32
	switch rnd {
	case RoundDown:
		div = ns / base
	case RoundUp:
		div = (ns + base - 1) / base
	default:
		div = (ns + base/2) / base
	}
	return div, div * base
}

func trigIn(src TrigSrc, set ...TrigSrc) bool {
	for _, s := range set {
		if src == s {
			return true
		}
	}
	return false
}

// Validate checks the command the way the board will run it and
// realizes its timing: timer periods are rounded to the 2 MHz
// timebase and an undersized scan period is widened to cover all
// conversions of one scan. The realized arguments are written back
// into the command.
func (cmd *AcqCommand) Validate() error {
	// Step 1: every trigger source must come from its supported set.
	switch {
	case !trigIn(cmd.Start.Src, TrigNow, TrigInt, TrigExt):
		return &ValidationError{Step: 1, Field: "start", Reason: "unsupported source " + cmd.Start.Src.String()}
	case !trigIn(cmd.ScanBegin.Src, TrigTimer, TrigExt, TrigFollow):
		return &ValidationError{Step: 1, Field: "scan begin", Reason: "unsupported source " + cmd.ScanBegin.Src.String()}
	case !trigIn(cmd.Convert.Src, TrigTimer, TrigExt, TrigNow):
		return &ValidationError{Step: 1, Field: "convert", Reason: "unsupported source " + cmd.Convert.Src.String()}
	case !trigIn(cmd.ScanEnd.Src, TrigCount):
		return &ValidationError{Step: 1, Field: "scan end", Reason: "unsupported source " + cmd.ScanEnd.Src.String()}
	case !trigIn(cmd.Stop.Src, TrigCount, TrigNone):
		return &ValidationError{Step: 1, Field: "stop", Reason: "unsupported source " + cmd.Stop.Src.String()}
	}

	// Step 2: sources must be mutually compatible. Every pairing of
	// the sets above runs on this board, so there is nothing to
	// cross-check.

	// Step 3: arguments must be in range for their sources.
	if len(cmd.Slots) == 0 {
		return &ValidationError{Step: 3, Field: "slots", Reason: "empty poll list"}
	}
	for _, s := range cmd.Slots {
		if s.Chan < 0 || s.Chan >= numAIChans {
			return &ValidationError{Step: 3, Field: "slots", Reason: fmt.Sprintf("invalid channel %d", s.Chan)}
		}
	}
	if cmd.Start.Src == TrigExt {
		if cmd.Start.Arg > maxExtLine {
			return &ValidationError{Step: 3, Field: "start", Reason: "trigger line out of range"}
		}
	} else if cmd.Start.Arg != 0 {
		return &ValidationError{Step: 3, Field: "start", Reason: "unexpected argument"}
	}
	switch cmd.ScanBegin.Src {
	case TrigExt:
		if cmd.ScanBegin.Arg > maxExtLine {
			return &ValidationError{Step: 3, Field: "scan begin", Reason: "trigger line out of range"}
		}
	case TrigTimer:
		if cmd.ScanBegin.Arg < minPeriod || cmd.ScanBegin.Arg > maxPeriod {
			return &ValidationError{Step: 3, Field: "scan begin", Reason: "period out of range"}
		}
	}
	switch cmd.Convert.Src {
	case TrigExt:
		if cmd.Convert.Arg > maxExtLine {
			return &ValidationError{Step: 3, Field: "convert", Reason: "trigger line out of range"}
		}
	case TrigTimer:
		if cmd.Convert.Arg < minPeriod || cmd.Convert.Arg > maxPeriod {
			return &ValidationError{Step: 3, Field: "convert", Reason: "period out of range"}
		}
	}
	if int(cmd.ScanEnd.Arg) != len(cmd.Slots) {
		return &ValidationError{Step: 3, Field: "scan end", Reason: "argument must equal the slot count"}
	}
	switch cmd.Stop.Src {
	case TrigCount:
		if cmd.Stop.Arg > maxStopCount {
			return &ValidationError{Step: 3, Field: "stop", Reason: "scan count out of range"}
		}
	case TrigNone:
		if cmd.Stop.Arg != 0 {
			return &ValidationError{Step: 3, Field: "stop", Reason: "unexpected argument"}
		}
	}

	// Step 4: realize the timer periods on the timebase, then
	// stretch an undersized scan period over the conversions of one
	// scan.
	if cmd.ScanBegin.Src == TrigTimer {
		_, cmd.ScanBegin.Arg = computeDivider(cmd.ScanBegin.Arg, cmd.Round, timeBase)
	}
	if cmd.Convert.Src == TrigTimer {
		_, cmd.Convert.Arg = computeDivider(cmd.Convert.Arg, cmd.Round, timeBase)
		if cmd.ScanBegin.Src == TrigTimer {
			span := uint64(cmd.Convert.Arg) * uint64(cmd.ScanEnd.Arg)
			if span > maxPeriod {
				return &ValidationError{Step: 4, Field: "scan begin", Reason: "scan period cannot cover all conversions"}
			}
			if uint64(cmd.ScanBegin.Arg) < span {
				cmd.ScanBegin.Arg = uint32(span)
			}
		}
	}

	return nil
}
