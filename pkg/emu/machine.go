// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package emu

import (
	"fmt"

	"github.com/jmhodges/clock"
	"github.com/u-root/cmoskit/pkg/portio"
	"github.com/u-root/cmoskit/pkg/smm"
	"go.uber.org/multierr"
)

// Machine is an emulated platform with RTC, debug port, SMI command port and
// SMM dispatcher on one bus.
type Machine struct {
	Clock      clock.Clock
	Bus        *Bus
	RTC        *RTC
	Debug      *DebugPort
	SMI        *SMIPort
	Dispatcher *Dispatcher

	layout     Layout
	noIO       bool
	inSmmErr   error
	noDispatch map[smm.TriggerKind]bool
}

// Layout places the machine's devices on the bus.
type Layout struct {
	RTCIndex   uint16
	RTCData    uint16
	Debug      uint16
	SMICommand uint16
}

// DefaultLayout is the PC port layout.
func DefaultLayout() Layout {
	return Layout{
		RTCIndex:   portio.CMOSIndex,
		RTCData:    portio.CMOSData,
		Debug:      portio.Debug,
		SMICommand: portio.SMICommand,
	}
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock runs the machine off clk.
func WithClock(clk clock.Clock) Option {
	return func(m *Machine) {
		m.Clock = clk
	}
}

// WithLayout puts the devices at the ports of l.
func WithLayout(l Layout) Option {
	return func(m *Machine) {
		m.layout = l
	}
}

// WithoutIO makes LocateIO fail.
func WithoutIO() Option {
	return func(m *Machine) {
		m.noIO = true
	}
}

// WithoutDispatcher makes LocateDispatcher fail for kind.
func WithoutDispatcher(kind smm.TriggerKind) Option {
	return func(m *Machine) {
		m.noDispatch[kind] = true
	}
}

// WithInSmmError makes InSmm fail with err.
func WithInSmmError(err error) Option {
	return func(m *Machine) {
		m.inSmmErr = err
	}
}

// New assembles a machine. Devices sharing a port are an error.
func New(opts ...Option) (*Machine, error) {
	m := &Machine{
		Clock:      clock.New(),
		Bus:        NewBus(),
		Dispatcher: NewDispatcher(),
		layout:     DefaultLayout(),
		noDispatch: make(map[smm.TriggerKind]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.RTC = NewRTCAt(m.Clock, m.layout.RTCIndex, m.layout.RTCData)
	m.Debug = NewDebugPort(m.layout.Debug)
	m.SMI = NewSMIPort(m.layout.SMICommand, m.Dispatcher)
	for _, d := range []Device{m.RTC, m.Debug, m.SMI} {
		if err := m.Bus.Attach(d); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Port returns a Port on the machine bus sleeping on the machine clock.
func (m *Machine) Port(opts ...portio.Option) *portio.Port {
	return portio.New(m.Bus, append([]portio.Option{portio.WithClock(m.Clock)}, opts...)...)
}

// BootServices is the host as seen by a driver loaded outside SMM.
func (m *Machine) BootServices() smm.Host {
	return host{m: m}
}

// SMM is the host as seen by a driver loaded into SMRAM.
func (m *Machine) SMM() smm.Host {
	return host{m: m, smm: true}
}

// LoadDriver runs a combined driver entry point the way firmware does: first from
// boot services, then from the SMM dispatcher. A boot services failure stops
// the SMM load.
func (m *Machine) LoadDriver(entry func(smm.Host) error) error {
	if err := entry(m.BootServices()); err != nil {
		return fmt.Errorf("boot services load: %w", err)
	}
	if err := entry(m.SMM()); err != nil {
		return fmt.Errorf("SMM load: %w", err)
	}
	return nil
}

// PressPowerButton raises the power button entry and exit SMIs.
func (m *Machine) PressPowerButton() error {
	var err error
	for _, phase := range []smm.PowerButtonPhase{smm.PowerButtonEntry, smm.PowerButtonExit} {
		_, perr := m.Dispatcher.Raise(smm.PowerButtonTrigger(phase), nil)
		err = multierr.Append(err, perr)
	}
	return err
}

type host struct {
	m   *Machine
	smm bool
}

func (h host) InSmm() (bool, error) {
	if h.m.inSmmErr != nil {
		return false, h.m.inSmmErr
	}
	return h.smm, nil
}

func (h host) LocateDispatcher(kind smm.TriggerKind) (smm.Dispatcher, error) {
	// Dispatch protocols live in SMRAM only.
	if !h.smm || h.m.noDispatch[kind] {
		return nil, fmt.Errorf("%v dispatch protocol: %w", kind, smm.ErrNotFound)
	}
	return h.m.Dispatcher, nil
}

func (h host) LocateIO() (portio.Transport, error) {
	if h.m.noIO {
		return nil, fmt.Errorf("CPU I/O protocol: %w", smm.ErrNotFound)
	}
	return h.m.Bus, nil
}
