// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package emu emulates the parts of a PC platform the CMOS and SMM packages
// talk to: an I/O port bus, the MC146818 RTC/CMOS, the POST debug port, the
// software SMI command port and an SMM dispatcher.
package emu

import (
	"errors"
	"fmt"
	"sync"

	"github.com/u-root/cmoskit/pkg/logger"
	"github.com/u-root/u-root/pkg/memio"
)

var log = logger.LogContainer.GetSimpleLogger()

var (
	// ErrUnmapped is returned for accesses to ports no device decodes.
	ErrUnmapped = errors.New("no device at port")
	// ErrNoAck is returned by devices told to fail.
	ErrNoAck = errors.New("device did not acknowledge")
)

// Device is a port mapped device.
type Device interface {
	IOPorts() []uint16
	ReadIOPort(port uint16, data []byte) error
	WriteIOPort(port uint16, data []byte) error
}

// Bus routes byte-wide port accesses to devices. It implements
// portio.Transport.
type Bus struct {
	mu    sync.RWMutex
	ports map[uint16]Device
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{ports: make(map[uint16]Device)}
}

// Attach maps all ports of d. A port already claimed by another device is
// an error and nothing is mapped.
func (b *Bus) Attach(d Device) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range d.IOPorts() {
		if other, ok := b.ports[p]; ok {
			return fmt.Errorf("port 0x%02x already decoded by %T", p, other)
		}
	}
	for _, p := range d.IOPorts() {
		b.ports[p] = d
	}
	return nil
}

func (b *Bus) device(port uint16) (Device, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	d, ok := b.ports[port]
	if !ok {
		return nil, fmt.Errorf("port 0x%02x: %w", port, ErrUnmapped)
	}
	return d, nil
}

// In implements portio.Transport.
func (b *Bus) In(port uint16, data memio.UintN) error {
	v, ok := data.(*memio.Uint8)
	if !ok {
		return fmt.Errorf("port 0x%02x: only byte access is decoded, got %T", port, data)
	}
	d, err := b.device(port)
	if err != nil {
		return err
	}
	buf := []byte{0}
	if err := d.ReadIOPort(port, buf); err != nil {
		return err
	}
	*v = memio.Uint8(buf[0])
	return nil
}

// Out implements portio.Transport.
func (b *Bus) Out(port uint16, data memio.UintN) error {
	v, ok := data.(*memio.Uint8)
	if !ok {
		return fmt.Errorf("port 0x%02x: only byte access is decoded, got %T", port, data)
	}
	d, err := b.device(port)
	if err != nil {
		return err
	}
	return d.WriteIOPort(port, []byte{uint8(*v)})
}
