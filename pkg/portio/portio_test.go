// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package portio

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jmhodges/clock"
	"github.com/u-root/cmoskit/pkg/portio/porttest"
	"github.com/u-root/u-root/pkg/memio"
)

func TestPortAccess(t *testing.T) {
	s := porttest.NewScript(t,
		porttest.Out(CMOSIndex, 0x8a),
		porttest.In(CMOSData, 0x26),
		porttest.Out(Debug, 0x42),
	)
	clk := clock.NewFake()
	start := clk.Now()
	p := New(s, WithClock(clk))

	if !p.Available() {
		t.Fatal("Available() = false with a transport")
	}
	if err := p.Write8(CMOSIndex, 0x8a); err != nil {
		t.Fatal(err)
	}
	v, err := p.Read8(CMOSData)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0x26 {
		t.Errorf("Read8(CMOSData) = 0x%02x, want 0x26", v)
	}
	if err := p.Write8(Debug, 0x42); err != nil {
		t.Fatal(err)
	}
	s.Done()

	// Every access is followed by one settle delay.
	if got, want := clk.Now().Sub(start), 3*DefaultSettle; got != want {
		t.Errorf("slept %v, want %v", got, want)
	}
}

func TestSettleOverride(t *testing.T) {
	clk := clock.NewFake()
	start := clk.Now()
	p := New(&porttest.Recorder{}, WithClock(clk), WithSettle(10*time.Microsecond))
	for i := 0; i < 4; i++ {
		if _, err := p.Read8(CMOSData); err != nil {
			t.Fatal(err)
		}
	}
	if got, want := clk.Now().Sub(start), 40*time.Microsecond; got != want {
		t.Errorf("slept %v, want %v", got, want)
	}
}

func TestDegraded(t *testing.T) {
	p := New(nil, WithClock(clock.NewFake()))
	if p.Available() {
		t.Fatal("Available() = true without a transport")
	}
	v, err := p.Read8(CMOSData)
	if v != 0 || err != nil {
		t.Errorf("Read8 in degraded mode = (0x%02x, %v), want (0x00, nil)", v, err)
	}
	if err := p.Write8(CMOSIndex, 0x80); err != nil {
		t.Errorf("Write8 in degraded mode = %v, want nil", err)
	}
}

func TestTransportError(t *testing.T) {
	p := New(Funcs{
		InFunc: func(uint16, memio.UintN) error {
			return fmt.Errorf("bus error")
		},
		OutFunc: func(uint16, memio.UintN) error {
			return porttest.ErrNoAck
		},
	}, WithClock(clock.NewFake()))

	if _, err := p.Read8(CMOSData); err == nil {
		t.Error("Read8 succeeded on a failing transport")
	}
	err := p.Write8(CMOSIndex, 0)
	if !errors.Is(err, porttest.ErrNoAck) {
		t.Errorf("Write8 = %v, want %v", err, porttest.ErrNoAck)
	}
}

// This is just for coverage percentage.
func TestHardware(t *testing.T) {
	if err := CheckHardware(); err != nil && !errors.Is(err, ErrUnavailable) {
		t.Errorf("CheckHardware() = %v, want nil or %v", err, ErrUnavailable)
	}
	_ = Hardware()
}
