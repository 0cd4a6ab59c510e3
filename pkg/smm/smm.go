// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package smm binds callbacks to System Management Interrupt sources.
//
// A driver image is loaded twice by firmware: once in the boot services
// environment and once by the SMM dispatcher into SMRAM. Only the second
// load may register handlers, so a Registry detects its context when it is
// created and turns registration into a no-op outside SMM.
//
// Callbacks run inside the dispatcher with normal execution suspended. That
// suspension is the only exclusion between a handler and foreground code
// that uses the same hardware; nothing in this package adds locking.
package smm

import (
	"errors"
	"fmt"

	"github.com/u-root/cmoskit/pkg/logger"
	"github.com/u-root/cmoskit/pkg/portio"
)

var log = logger.LogContainer.GetSimpleLogger()

var (
	// ErrAlreadyRegistered is returned when a registry already holds a
	// registration for the trigger.
	ErrAlreadyRegistered = errors.New("trigger already registered")
	// ErrDispatcherUnavailable is returned when the host has no
	// dispatcher for a trigger kind.
	ErrDispatcherUnavailable = errors.New("SMI dispatcher unavailable")
	// ErrNotFound is what hosts return for a capability they lack.
	ErrNotFound = errors.New("not found")
)

// DispatchHandle identifies a registration at the host dispatcher. The zero
// handle identifies nothing.
type DispatchHandle uint64

// Callback is run by the dispatcher each time its trigger fires. context is
// the value given at registration, comm the optional communication buffer.
type Callback func(h DispatchHandle, context interface{}, comm []byte) error

// Dispatcher is the host facility that runs callbacks for one trigger kind.
type Dispatcher interface {
	Register(t Trigger, cb Callback, context interface{}) (DispatchHandle, error)
	Unregister(h DispatchHandle) error
}

// Host is the firmware environment a driver is loaded into.
type Host interface {
	// InSmm reports whether the caller runs inside SMRAM.
	InSmm() (bool, error)
	// LocateDispatcher finds the dispatcher for kind.
	LocateDispatcher(kind TriggerKind) (Dispatcher, error)
	// LocateIO finds the CPU I/O port facility.
	LocateIO() (portio.Transport, error)
}

// Context is where a driver finds itself at load time.
type Context int

const (
	BootServices Context = iota
	Privileged
)

func (c Context) String() string {
	if c == Privileged {
		return "SMM"
	}
	return "boot services"
}

// Detect asks host which context the caller runs in.
func Detect(host Host) (Context, error) {
	in, err := host.InSmm()
	if err != nil {
		return BootServices, fmt.Errorf("InSmm: %w", err)
	}
	if in {
		return Privileged, nil
	}
	return BootServices, nil
}
