// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package emu

import (
	"fmt"
	"sort"
	"sync"

	"github.com/u-root/cmoskit/pkg/smm"
	"go.uber.org/multierr"
)

type handler struct {
	t       smm.Trigger
	cb      smm.Callback
	context interface{}
}

// Dispatcher is an SMM dispatcher. Callbacks for a trigger run in
// registration order while the SMRAM lock is held, so no two dispatches
// overlap. A callback must not raise another SMI.
type Dispatcher struct {
	smram sync.Mutex

	mu       sync.Mutex
	next     smm.DispatchHandle
	handlers map[smm.DispatchHandle]handler
	refuse   error
}

// NewDispatcher returns a dispatcher with no handlers.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[smm.DispatchHandle]handler)}
}

// Refuse makes Register fail with err. A nil err accepts registrations
// again.
func (d *Dispatcher) Refuse(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refuse = err
}

// Register implements smm.Dispatcher.
func (d *Dispatcher) Register(t smm.Trigger, cb smm.Callback, context interface{}) (smm.DispatchHandle, error) {
	if cb == nil {
		return 0, fmt.Errorf("register %v: nil callback", t)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.refuse != nil {
		return 0, d.refuse
	}
	d.next++
	d.handlers[d.next] = handler{t: t, cb: cb, context: context}
	return d.next, nil
}

// Unregister implements smm.Dispatcher.
func (d *Dispatcher) Unregister(h smm.DispatchHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.handlers[h]; !ok {
		return fmt.Errorf("dispatch handle %d: %w", h, smm.ErrNotFound)
	}
	delete(d.handlers, h)
	return nil
}

// Handlers returns how many callbacks are bound to t.
func (d *Dispatcher) Handlers(t smm.Trigger) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, h := range d.handlers {
		if h.t == t {
			n++
		}
	}
	return n
}

// Raise enters SMM for t and runs every callback bound to it. It returns how
// many ran and the combined errors of those that failed.
func (d *Dispatcher) Raise(t smm.Trigger, comm []byte) (int, error) {
	d.smram.Lock()
	defer d.smram.Unlock()

	d.mu.Lock()
	var hs []smm.DispatchHandle
	for h, e := range d.handlers {
		if e.t == t {
			hs = append(hs, h)
		}
	}
	sort.Slice(hs, func(i, j int) bool { return hs[i] < hs[j] })
	run := make([]handler, len(hs))
	for i, h := range hs {
		run[i] = d.handlers[h]
	}
	d.mu.Unlock()

	if len(run) == 0 {
		log.Debugf("SMI %v: no handler", t)
	}
	var err error
	for i, e := range run {
		if cerr := e.cb(hs[i], e.context, comm); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("SMI %v handler %d: %w", t, hs[i], cerr))
		}
	}
	return len(run), err
}
