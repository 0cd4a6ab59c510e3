// Copyright 2012-2020 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package portio provides single byte x86 I/O port access with the settle
// delay legacy ISA devices need between accesses.
package portio

import (
	"errors"
	"fmt"
	"time"

	"github.com/jmhodges/clock"
	"github.com/u-root/u-root/pkg/memio"
)

// Fixed legacy port addresses.
const (
	CMOSIndex  uint16 = 0x70
	CMOSData   uint16 = 0x71
	Debug      uint16 = 0x80
	SMICommand uint16 = 0xB2
)

// DefaultSettle is the delay after every access. Slow parts latch data late
// and a read issued too early returns the previous value.
const DefaultSettle = 2 * time.Microsecond

// ErrUnavailable means no port access facility could be located.
var ErrUnavailable = errors.New("port I/O unavailable")

// Transport moves data to and from I/O ports. Its shape is that of
// memio.In and memio.Out.
type Transport interface {
	In(port uint16, data memio.UintN) error
	Out(port uint16, data memio.UintN) error
}

// Funcs adapts a pair of functions to Transport.
type Funcs struct {
	InFunc  func(uint16, memio.UintN) error
	OutFunc func(uint16, memio.UintN) error
}

// In implements Transport.
func (f Funcs) In(port uint16, data memio.UintN) error {
	return f.InFunc(port, data)
}

// Out implements Transport.
func (f Funcs) Out(port uint16, data memio.UintN) error {
	return f.OutFunc(port, data)
}

// Port performs byte-wide accesses over a Transport.
//
// A Port without a transport is in degraded mode: reads return 0, writes are
// dropped and neither reports an error. Callers that care check Available.
type Port struct {
	t      Transport
	clk    clock.Clock
	settle time.Duration
}

// Option configures a Port.
type Option func(*Port)

// WithClock sets the clock used for settle delays.
func WithClock(clk clock.Clock) Option {
	return func(p *Port) {
		if clk != nil {
			p.clk = clk
		}
	}
}

// WithSettle overrides DefaultSettle.
func WithSettle(d time.Duration) Option {
	return func(p *Port) {
		p.settle = d
	}
}

// New returns a Port on t. t may be nil.
func New(t Transport, opts ...Option) *Port {
	p := &Port{
		t:      t,
		clk:    clock.New(),
		settle: DefaultSettle,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Available reports whether the Port has a transport.
func (p *Port) Available() bool {
	return p.t != nil
}

// Clock returns the clock the Port sleeps on.
func (p *Port) Clock() clock.Clock {
	return p.clk
}

// Read8 reads one byte from port.
func (p *Port) Read8(port uint16) (uint8, error) {
	if p.t == nil {
		return 0, nil
	}
	var v memio.Uint8
	err := p.t.In(port, &v)
	p.delay()
	if err != nil {
		return 0, fmt.Errorf("in 0x%02x: %w", port, err)
	}
	return uint8(v), nil
}

// Write8 writes v to port.
func (p *Port) Write8(port uint16, v uint8) error {
	if p.t == nil {
		return nil
	}
	d := memio.Uint8(v)
	err := p.t.Out(port, &d)
	p.delay()
	if err != nil {
		return fmt.Errorf("out 0x%02x <- 0x%02x: %w", port, v, err)
	}
	return nil
}

func (p *Port) delay() {
	if p.settle > 0 {
		p.clk.Sleep(p.settle)
	}
}
