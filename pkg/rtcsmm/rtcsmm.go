// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rtcsmm contains two SMM drivers that touch the RTC seconds
// register from SMI handlers.
//
// The power button driver reads the seconds register and posts it to the
// debug port. The combined driver increments the seconds register, in BCD
// and wrapping at 60, every time software writes 0xC2 to the SMI command
// port.
//
// Handlers select their register and restore the index port to 0 without
// saving what the interrupted code had selected. Unless the handler chip and
// the foreground chip share a lock (cmos.WithLock) an SMI landing between a
// foreground index write and its data access corrupts that access.
package rtcsmm

import (
	"fmt"

	"github.com/u-root/cmoskit/pkg/cmos"
	"github.com/u-root/cmoskit/pkg/logger"
	"github.com/u-root/cmoskit/pkg/portio"
	"github.com/u-root/cmoskit/pkg/smm"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var log = logger.LogContainer.GetSimpleLogger()

const (
	SecondsRegister  = cmos.Seconds
	DebugPort        = portio.Debug
	SwSmiCommandPort = portio.SMICommand
)

// SwSmiTriggerValue is the software SMI code the combined driver answers.
const SwSmiTriggerValue uint8 = 0xC2

// Handlers are the SMI callbacks. Chip reaches the RTC and Port the debug
// port; usually Port is Chip.Port().
type Handlers struct {
	Chip *cmos.Chip
	Port *portio.Port
	// DebugPort receives the POST codes. Zero means DebugPort.
	DebugPort uint16
	// WaitForUpdate runs the update guard before reading the seconds
	// register.
	WaitForUpdate bool
}

func (h *Handlers) debugPort() uint16 {
	if h.DebugPort == 0 {
		return DebugPort
	}
	return h.DebugPort
}

func (h *Handlers) guard() error {
	if !h.WaitForUpdate {
		return nil
	}
	_, err := h.Chip.UpdateGuard().WaitUntilStable()
	return err
}

// Diagnostic posts the raw seconds register to the debug port.
func (h *Handlers) Diagnostic(_ smm.DispatchHandle, _ interface{}, _ []byte) error {
	if err := h.guard(); err != nil {
		return err
	}
	sec, err := h.Chip.ReadRegister(SecondsRegister)
	if err != nil {
		return err
	}
	if err := h.Port.Write8(h.debugPort(), sec); err != nil {
		return err
	}
	log.Infow("power button SMI", logger.LogContainer.Hex8("seconds", sec))
	return nil
}

// IncrementSeconds advances the seconds register by one, wrapping 59 to 0,
// and posts the new value to the debug port before storing it.
func (h *Handlers) IncrementSeconds(_ smm.DispatchHandle, _ interface{}, _ []byte) (err error) {
	if err := h.guard(); err != nil {
		return err
	}
	s, err := h.Chip.Select(SecondsRegister)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, s.Release())
	}()

	old, err := s.Read()
	if err != nil {
		return err
	}
	next := cmos.BinaryToBCD((cmos.BCDToBinary(old) + 1) % 60)
	if err := h.Port.Write8(h.debugPort(), next); err != nil {
		return err
	}
	if err := s.Reselect(); err != nil {
		return err
	}
	if err := s.Write(next); err != nil {
		return err
	}
	log.Infow("SW SMI", logger.LogContainer.Hex8("old", old), logger.LogContainer.Hex8("new", next))
	return nil
}

// Trigger writes value to the SMI command port cmdPort. On real hardware the
// chipset raises the SMI before the write retires.
func Trigger(p *portio.Port, cmdPort uint16, value uint8) error {
	if !p.Available() {
		return fmt.Errorf("SMI command port 0x%02x: %w", cmdPort, portio.ErrUnavailable)
	}
	log.Debugw("writing SMI command port", logger.LogContainer.Hex8("value", value), zap.Uint16("port", cmdPort))
	return p.Write8(cmdPort, value)
}
