// Copyright ©2023 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package s626

import (
	"errors"
	"testing"
)

func TestComputeDivider(t *testing.T) {
	for _, tc := range []struct {
		ns   uint32
		rnd  Round
		div  uint32
		real uint32
	}{
		{ns: 999, rnd: RoundNearest, div: 2, real: 1000},
		{ns: 999, rnd: RoundDown, div: 1, real: 500},
		{ns: 999, rnd: RoundUp, div: 2, real: 1000},
		{ns: 1249, rnd: RoundNearest, div: 2, real: 1000},
		{ns: 1250, rnd: RoundNearest, div: 3, real: 1500},
		{ns: 500, rnd: RoundDown, div: 1, real: 500},
		{ns: 200000, rnd: RoundUp, div: 400, real: 200000},
	} {
		div, real := computeDivider(tc.ns, tc.rnd, timeBase)
		if div != tc.div || real != tc.real {
			t.Errorf("ns=%d rnd=%d: got=(%d, %d), want=(%d, %d)",
				tc.ns, tc.rnd, div, real, tc.div, tc.real,
			)
		}
	}
}

func TestAcqCommandValidate(t *testing.T) {
	slots := []Slot{{Chan: 0, Range: Range10V}, {Chan: 1, Range: Range5V}}

	for _, tc := range []struct {
		name      string
		cmd       AcqCommand
		wantBegin uint32
		wantConv  uint32
		err       *ValidationError
	}{
		{
			name: "ok-now",
			cmd: AcqCommand{
				Slots:     slots,
				Start:     Trig{Src: TrigNow},
				ScanBegin: Trig{Src: TrigTimer, Arg: 999900},
				Convert:   Trig{Src: TrigNow},
				ScanEnd:   Trig{Src: TrigCount, Arg: 2},
				Stop:      Trig{Src: TrigCount, Arg: 100},
			},
			wantBegin: 1000000,
		},
		{
			name: "ok-round-down",
			cmd: AcqCommand{
				Slots:     slots,
				Start:     Trig{Src: TrigNow},
				ScanBegin: Trig{Src: TrigTimer, Arg: 999900},
				Convert:   Trig{Src: TrigNow},
				ScanEnd:   Trig{Src: TrigCount, Arg: 2},
				Stop:      Trig{Src: TrigNone},
				Round:     RoundDown,
			},
			wantBegin: 999500,
		},
		{
			name: "ok-follow",
			cmd: AcqCommand{
				Slots:     slots,
				Start:     Trig{Src: TrigInt},
				ScanBegin: Trig{Src: TrigFollow},
				Convert:   Trig{Src: TrigTimer, Arg: 250000},
				ScanEnd:   Trig{Src: TrigCount, Arg: 2},
				Stop:      Trig{Src: TrigCount, Arg: 1},
			},
			wantConv: 250000,
		},
		{
			name: "ok-widened",
			cmd: AcqCommand{
				Slots: []Slot{
					{Chan: 0}, {Chan: 1}, {Chan: 2}, {Chan: 3},
				},
				Start:     Trig{Src: TrigNow},
				ScanBegin: Trig{Src: TrigTimer, Arg: 200000},
				Convert:   Trig{Src: TrigTimer, Arg: 300000},
				ScanEnd:   Trig{Src: TrigCount, Arg: 4},
				Stop:      Trig{Src: TrigNone},
			},
			wantBegin: 1200000,
			wantConv:  300000,
		},
		{
			name: "err-start-src",
			cmd: AcqCommand{
				Start: Trig{Src: TrigTimer},
			},
			err: &ValidationError{Step: 1, Field: "start"},
		},
		{
			name: "err-scan-begin-src",
			cmd: AcqCommand{
				Slots:     slots,
				Start:     Trig{Src: TrigNow},
				ScanBegin: Trig{Src: TrigNow},
			},
			err: &ValidationError{Step: 1, Field: "scan begin"},
		},
		{
			name: "err-convert-src",
			cmd: AcqCommand{
				Slots:     slots,
				Start:     Trig{Src: TrigNow},
				ScanBegin: Trig{Src: TrigFollow},
				Convert:   Trig{Src: TrigInt},
			},
			err: &ValidationError{Step: 1, Field: "convert"},
		},
		{
			name: "err-scan-end-src",
			cmd: AcqCommand{
				Slots:     slots,
				Start:     Trig{Src: TrigNow},
				ScanBegin: Trig{Src: TrigFollow},
				Convert:   Trig{Src: TrigNow},
				ScanEnd:   Trig{Src: TrigNone},
			},
			err: &ValidationError{Step: 1, Field: "scan end"},
		},
		{
			name: "err-stop-src",
			cmd: AcqCommand{
				Slots:     slots,
				Start:     Trig{Src: TrigNow},
				ScanBegin: Trig{Src: TrigFollow},
				Convert:   Trig{Src: TrigNow},
				ScanEnd:   Trig{Src: TrigCount, Arg: 2},
				Stop:      Trig{Src: TrigNow},
			},
			err: &ValidationError{Step: 1, Field: "stop"},
		},
		{
			name: "err-no-slots",
			cmd: AcqCommand{
				Start:     Trig{Src: TrigNow},
				ScanBegin: Trig{Src: TrigFollow},
				Convert:   Trig{Src: TrigNow},
				ScanEnd:   Trig{Src: TrigCount},
				Stop:      Trig{Src: TrigNone},
			},
			err: &ValidationError{Step: 3, Field: "slots"},
		},
		{
			name: "err-bad-chan",
			cmd: AcqCommand{
				Slots:     []Slot{{Chan: numAIChans}},
				Start:     Trig{Src: TrigNow},
				ScanBegin: Trig{Src: TrigFollow},
				Convert:   Trig{Src: TrigNow},
				ScanEnd:   Trig{Src: TrigCount, Arg: 1},
				Stop:      Trig{Src: TrigNone},
			},
			err: &ValidationError{Step: 3, Field: "slots"},
		},
		{
			name: "err-start-arg",
			cmd: AcqCommand{
				Slots:     slots,
				Start:     Trig{Src: TrigNow, Arg: 5},
				ScanBegin: Trig{Src: TrigFollow},
				Convert:   Trig{Src: TrigNow},
				ScanEnd:   Trig{Src: TrigCount, Arg: 2},
				Stop:      Trig{Src: TrigNone},
			},
			err: &ValidationError{Step: 3, Field: "start"},
		},
		{
			name: "err-trig-int-arg",
			cmd: AcqCommand{
				Slots:     slots,
				Start:     Trig{Src: TrigInt, Arg: 7},
				ScanBegin: Trig{Src: TrigFollow},
				Convert:   Trig{Src: TrigNow},
				ScanEnd:   Trig{Src: TrigCount, Arg: 2},
				Stop:      Trig{Src: TrigNone},
			},
			err: &ValidationError{Step: 3, Field: "start"},
		},
		{
			name: "err-ext-line",
			cmd: AcqCommand{
				Slots:     slots,
				Start:     Trig{Src: TrigExt, Arg: maxExtLine + 1},
				ScanBegin: Trig{Src: TrigFollow},
				Convert:   Trig{Src: TrigNow},
				ScanEnd:   Trig{Src: TrigCount, Arg: 2},
				Stop:      Trig{Src: TrigNone},
			},
			err: &ValidationError{Step: 3, Field: "start"},
		},
		{
			name: "err-scan-line",
			cmd: AcqCommand{
				Slots:     slots,
				Start:     Trig{Src: TrigNow},
				ScanBegin: Trig{Src: TrigExt, Arg: 41},
				Convert:   Trig{Src: TrigNow},
				ScanEnd:   Trig{Src: TrigCount, Arg: 2},
				Stop:      Trig{Src: TrigNone},
			},
			err: &ValidationError{Step: 3, Field: "scan begin"},
		},
		{
			name: "err-period-low",
			cmd: AcqCommand{
				Slots:     slots,
				Start:     Trig{Src: TrigNow},
				ScanBegin: Trig{Src: TrigTimer, Arg: minPeriod - 1},
				Convert:   Trig{Src: TrigNow},
				ScanEnd:   Trig{Src: TrigCount, Arg: 2},
				Stop:      Trig{Src: TrigNone},
			},
			err: &ValidationError{Step: 3, Field: "scan begin"},
		},
		{
			name: "err-period-high",
			cmd: AcqCommand{
				Slots:     slots,
				Start:     Trig{Src: TrigNow},
				ScanBegin: Trig{Src: TrigTimer, Arg: maxPeriod + 1},
				Convert:   Trig{Src: TrigNow},
				ScanEnd:   Trig{Src: TrigCount, Arg: 2},
				Stop:      Trig{Src: TrigNone},
			},
			err: &ValidationError{Step: 3, Field: "scan begin"},
		},
		{
			name: "err-convert-period",
			cmd: AcqCommand{
				Slots:     slots,
				Start:     Trig{Src: TrigNow},
				ScanBegin: Trig{Src: TrigFollow},
				Convert:   Trig{Src: TrigTimer, Arg: 100},
				ScanEnd:   Trig{Src: TrigCount, Arg: 2},
				Stop:      Trig{Src: TrigNone},
			},
			err: &ValidationError{Step: 3, Field: "convert"},
		},
		{
			name: "err-scan-end-count",
			cmd: AcqCommand{
				Slots:     slots,
				Start:     Trig{Src: TrigNow},
				ScanBegin: Trig{Src: TrigFollow},
				Convert:   Trig{Src: TrigNow},
				ScanEnd:   Trig{Src: TrigCount, Arg: 3},
				Stop:      Trig{Src: TrigNone},
			},
			err: &ValidationError{Step: 3, Field: "scan end"},
		},
		{
			name: "err-stop-count",
			cmd: AcqCommand{
				Slots:     slots,
				Start:     Trig{Src: TrigNow},
				ScanBegin: Trig{Src: TrigFollow},
				Convert:   Trig{Src: TrigNow},
				ScanEnd:   Trig{Src: TrigCount, Arg: 2},
				Stop:      Trig{Src: TrigCount, Arg: maxStopCount + 1},
			},
			err: &ValidationError{Step: 3, Field: "stop"},
		},
		{
			name: "err-stop-none-arg",
			cmd: AcqCommand{
				Slots:     slots,
				Start:     Trig{Src: TrigNow},
				ScanBegin: Trig{Src: TrigFollow},
				Convert:   Trig{Src: TrigNow},
				ScanEnd:   Trig{Src: TrigCount, Arg: 2},
				Stop:      Trig{Src: TrigNone, Arg: 1},
			},
			err: &ValidationError{Step: 3, Field: "stop"},
		},
		{
			name: "err-short-scan",
			cmd: AcqCommand{
				Slots:     slots,
				Start:     Trig{Src: TrigNow},
				ScanBegin: Trig{Src: TrigTimer, Arg: maxPeriod},
				Convert:   Trig{Src: TrigTimer, Arg: maxPeriod},
				ScanEnd:   Trig{Src: TrigCount, Arg: 2},
				Stop:      Trig{Src: TrigNone},
			},
			err: &ValidationError{Step: 4, Field: "scan begin"},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cmd := tc.cmd
			err := cmd.Validate()
			if tc.err != nil {
				var verr *ValidationError
				if !errors.As(err, &verr) {
					t.Fatalf("invalid error: got=%+v, want=%+v", err, tc.err)
				}
				if verr.Step != tc.err.Step || verr.Field != tc.err.Field {
					t.Fatalf("invalid error: got=%+v, want=%+v", verr, tc.err)
				}
				return
			}
			if err != nil {
				t.Fatalf("could not validate command: %+v", err)
			}
			if got, want := cmd.ScanBegin.Arg, tc.wantBegin; got != want {
				t.Fatalf("invalid realized scan period: got=%d, want=%d", got, want)
			}
			if got, want := cmd.Convert.Arg, tc.wantConv; got != want {
				t.Fatalf("invalid realized convert period: got=%d, want=%d", got, want)
			}
		})
	}
}

func TestTrigSrcString(t *testing.T) {
	for _, tc := range []struct {
		src  TrigSrc
		want string
	}{
		{TrigNone, "none"},
		{TrigNow, "now"},
		{TrigTimer, "timer"},
		{TrigExt, "ext"},
		{TrigInt, "int"},
		{TrigFollow, "follow"},
		{TrigCount, "count"},
		{TrigSrc(42), "TrigSrc(42)"},
	} {
		if got := tc.src.String(); got != tc.want {
			t.Errorf("src=%d: got=%q, want=%q", uint8(tc.src), got, tc.want)
		}
	}
}
