// Copyright ©2023 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package s626

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy reports that a streaming acquisition is already armed
	// or running.
	ErrBusy = errors.New("s626: device busy")

	// ErrNotArmed reports an operation that needs an armed streaming
	// command.
	ErrNotArmed = errors.New("s626: no armed command")
)

// BusTimeoutError reports a bus handshake that did not complete within
// its poll budget.
type BusTimeoutError struct {
	Op   string // bus operation, e.g. "debi write"
	Addr uint16 // gate-array address, for DEBI operations
}

func (e *BusTimeoutError) Error() string {
	if e.Addr != 0 {
		return fmt.Sprintf("s626: %s timeout (addr 0x%04x)", e.Op, e.Addr)
	}
	return fmt.Sprintf("s626: %s timeout", e.Op)
}

// ValidationError reports a streaming command rejected during
// validation.
//
// Validation runs in four ordered steps: trigger source membership,
// trigger source compatibility, argument ranges, argument adjustment.
// Step is the first step that rejected the command.
type ValidationError struct {
	Step   int
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("s626: invalid command: step %d: %s: %s", e.Step, e.Field, e.Reason)
}

// TriggerError reports a software trigger that cannot fire: its
// identifier does not match the armed command, or no command is
// waiting for one.
type TriggerError struct {
	ID uint32
}

func (e *TriggerError) Error() string {
	return fmt.Sprintf("s626: wrong trigger id %d", e.ID)
}
