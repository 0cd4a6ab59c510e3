// Copyright 2012-2020 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cmos implements access to the battery backed CMOS/RTC register
// bank behind the legacy index and data ports.
//
// Every access writes the register offset with the NMI disable bit set to
// the index port, transfers the byte through the data port and then writes
// 0 back to the index port, which re-enables NMI. The write of 0 happens on
// every path out of an access, including errors and panics.
//
// The index/data pair is shared with SMI handlers. An SMI that arrives
// between the index write and the data access of foreground code, and
// touches CMOS itself, leaves the index port pointing elsewhere (or at 0)
// when the foreground resumes: the handlers select their own register and
// restore 0 without saving the foreground selection. Chips are unlocked by
// default and keep that race. WithLock makes every select-access-release
// sequence of all chips sharing the Locker mutually exclusive, which
// changes timing relative to firmware that does not lock.
package cmos

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/u-root/cmoskit/pkg/logger"
	"github.com/u-root/cmoskit/pkg/portio"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var log = logger.LogContainer.GetSimpleLogger()

// NMIDisable is ORed into the offset written to the index port.
const NMIDisable = 0x80

// Size is the number of registers addressable through the standard bank.
const Size = 0x80

// Register is an offset into the CMOS bank.
type Register uint8

// RTC registers.
const (
	Seconds    Register = 0x00
	Minutes    Register = 0x02
	Hours      Register = 0x04
	Weekday    Register = 0x06
	DayOfMonth Register = 0x07
	Month      Register = 0x08
	Year       Register = 0x09
	StatusA    Register = 0x0A
	StatusB    Register = 0x0B
	StatusC    Register = 0x0C
	StatusD    Register = 0x0D
	Century    Register = 0x32
)

// Status register bits.
const (
	UpdateInProgress = 0x80 // status A
	BinaryMode       = 0x04 // status B
	Mode24Hour       = 0x02 // status B
)

// ErrInvalidRegister is returned for offsets outside 0x00-0x7f.
var ErrInvalidRegister = errors.New("invalid CMOS register")

// Valid reports whether r can be selected. Offsets with bit 7 set collide
// with the NMI disable bit.
func (r Register) Valid() bool {
	return r < Size
}

func (r Register) String() string {
	return fmt.Sprintf("0x%02x", uint8(r))
}

// Chip is the CMOS bank as seen through a Port.
type Chip struct {
	port  *portio.Port
	index uint16
	data  uint16
	lock  sync.Locker
	log   *zap.SugaredLogger

	uipLimit    int
	uipInterval time.Duration
	exhausted   prometheus.Counter
}

// Option configures a Chip.
type Option func(*Chip)

// WithPorts overrides the index and data port addresses.
func WithPorts(index, data uint16) Option {
	return func(c *Chip) {
		c.index = index
		c.data = data
	}
}

// WithLock serializes all accesses of every Chip built with l.
func WithLock(l sync.Locker) Option {
	return func(c *Chip) {
		c.lock = l
	}
}

// WithUpdateRetries sets the update-in-progress polling budget.
func WithUpdateRetries(limit int, interval time.Duration) Option {
	return func(c *Chip) {
		c.uipLimit = limit
		c.uipInterval = interval
	}
}

// WithExhaustedCounter counts update guards that ran out of retries.
func WithExhaustedCounter(ctr prometheus.Counter) Option {
	return func(c *Chip) {
		c.exhausted = ctr
	}
}

// WithLogger sends the chip's log output to l.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Chip) {
		c.log = l
	}
}

// New returns a Chip accessed through p.
func New(p *portio.Port, opts ...Option) *Chip {
	c := &Chip{
		port:        p,
		index:       portio.CMOSIndex,
		data:        portio.CMOSData,
		uipLimit:    DefaultUpdateRetries,
		uipInterval: DefaultUpdateInterval,
		log:         log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Port returns the port the chip is accessed through.
func (c *Chip) Port() *portio.Port {
	return c.port
}

// Selection is a register selected on the index port with NMI disabled.
// Release must be called on every path; it restores the index port to 0.
type Selection struct {
	c        *Chip
	reg      Register
	released bool
}

// Select writes reg|NMIDisable to the index port. If that write fails the
// selection is released before Select returns.
func (c *Chip) Select(reg Register) (*Selection, error) {
	if !reg.Valid() {
		return nil, fmt.Errorf("select %v: %w", reg, ErrInvalidRegister)
	}
	if c.lock != nil {
		c.lock.Lock()
	}
	s := &Selection{c: c, reg: reg}
	if err := s.Reselect(); err != nil {
		return nil, multierr.Append(err, s.Release())
	}
	return s, nil
}

// Register returns the selected register.
func (s *Selection) Register() Register {
	return s.reg
}

// Reselect writes the selection to the index port again.
func (s *Selection) Reselect() error {
	if err := s.c.port.Write8(s.c.index, uint8(s.reg)|NMIDisable); err != nil {
		return fmt.Errorf("select %v: %w", s.reg, err)
	}
	return nil
}

// Read reads the selected register from the data port.
func (s *Selection) Read() (uint8, error) {
	v, err := s.c.port.Read8(s.c.data)
	if err != nil {
		return 0, fmt.Errorf("read %v: %w", s.reg, err)
	}
	return v, nil
}

// Write writes v to the selected register through the data port.
func (s *Selection) Write(v uint8) error {
	if err := s.c.port.Write8(s.c.data, v); err != nil {
		return fmt.Errorf("write %v: %w", s.reg, err)
	}
	return nil
}

// Release writes 0 to the index port, re-enabling NMI. Only the first call
// has an effect.
func (s *Selection) Release() error {
	if s.released {
		return nil
	}
	s.released = true
	if s.c.lock != nil {
		defer s.c.lock.Unlock()
	}
	if err := s.c.port.Write8(s.c.index, 0); err != nil {
		return fmt.Errorf("restore index port: %w", err)
	}
	return nil
}

// ReadRegister returns the value of reg.
func (c *Chip) ReadRegister(reg Register) (v uint8, err error) {
	s, err := c.Select(reg)
	if err != nil {
		return 0, err
	}
	defer func() {
		err = multierr.Append(err, s.Release())
	}()
	return s.Read()
}

// WriteRegister stores v in reg.
func (c *Chip) WriteRegister(reg Register, v uint8) (err error) {
	s, err := c.Select(reg)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, s.Release())
	}()
	return s.Write(v)
}
