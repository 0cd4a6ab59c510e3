// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package smm

import (
	"fmt"
	"sync"

	"github.com/jmhodges/clock"
	"go.uber.org/multierr"
)

// State is the lifecycle state of a registration.
type State int

const (
	Unregistered State = iota
	Registered
	Dispatching
)

func (s State) String() string {
	switch s {
	case Registered:
		return "registered"
	case Dispatching:
		return "dispatching"
	}
	return "unregistered"
}

// Registration binds a trigger to a callback at the host dispatcher.
type Registration struct {
	Trigger Trigger
	Context interface{}
	Handle  DispatchHandle

	state State
	d     Dispatcher
}

// Registry holds the registrations of one driver instance. It allows at
// most one registration per trigger.
type Registry struct {
	name    string
	host    Host
	ctx     Context
	metrics *Metrics
	clk     clock.Clock

	mu   sync.Mutex
	regs map[Trigger]*Registration
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithName labels logs and metrics with the driver name.
func WithName(name string) RegistryOption {
	return func(r *Registry) {
		r.name = name
	}
}

// WithMetrics records dispatches in m.
func WithMetrics(m *Metrics) RegistryOption {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithClock times dispatches on clk.
func WithClock(clk clock.Clock) RegistryOption {
	return func(r *Registry) {
		r.clk = clk
	}
}

// NewRegistry creates the registry of a driver loaded into host. It detects
// the load context once; failure to do so fails driver initialization.
func NewRegistry(host Host, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{
		name: "smm",
		host: host,
		clk:  clock.New(),
		regs: make(map[Trigger]*Registration),
	}
	for _, opt := range opts {
		opt(r)
	}
	ctx, err := Detect(host)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.name, err)
	}
	r.ctx = ctx
	return r, nil
}

// Context returns the context detected at creation.
func (r *Registry) Context() Context {
	return r.ctx
}

// Privileged reports whether the registry was created inside SMM.
func (r *Registry) Privileged() bool {
	return r.ctx == Privileged
}

// RegisterCallback binds cb to t at the host dispatcher.
//
// Outside SMM it does nothing and returns the zero handle: the SMM
// dispatcher loads the driver again and that copy registers. A second
// registration of t fails with ErrAlreadyRegistered. If the dispatcher
// cannot be located or refuses the registration nothing is recorded.
func (r *Registry) RegisterCallback(t Trigger, cb Callback, context interface{}) (DispatchHandle, error) {
	if !r.Privileged() {
		log.Infof("%s: running in %v, not registering %v", r.name, r.ctx, t)
		return 0, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.regs[t]; ok {
		return 0, fmt.Errorf("%s: %v: %w", r.name, t, ErrAlreadyRegistered)
	}

	d, err := r.host.LocateDispatcher(t.Kind)
	if err != nil {
		log.Errorf("%s: locating %v dispatcher failed: %v", r.name, t.Kind, err)
		return 0, fmt.Errorf("%s: %v dispatcher: %v: %w", r.name, t.Kind, err, ErrDispatcherUnavailable)
	}

	reg := &Registration{Trigger: t, Context: context, d: d}
	h, err := d.Register(t, r.wrap(reg, cb), context)
	if err != nil {
		log.Errorf("%s: registering %v failed: %v", r.name, t, err)
		return 0, fmt.Errorf("%s: register %v: %w", r.name, t, err)
	}
	reg.Handle = h
	reg.state = Registered
	r.regs[t] = reg
	log.Infof("%s: %v handler registered", r.name, t)
	return h, nil
}

func (r *Registry) wrap(reg *Registration, cb Callback) Callback {
	return func(h DispatchHandle, context interface{}, comm []byte) error {
		r.transition(reg, Registered, Dispatching)
		defer r.transition(reg, Dispatching, Registered)

		start := r.clk.Now()
		err := cb(h, context, comm)
		if m := r.metrics; m != nil {
			trig := reg.Trigger.String()
			m.Dispatches.WithLabelValues(r.name, trig).Inc()
			m.Duration.WithLabelValues(r.name, trig).Observe(r.clk.Since(start).Seconds())
			if err != nil {
				m.Errors.WithLabelValues(r.name, trig).Inc()
			}
		}
		if err != nil {
			log.Errorf("%s: %v handler: %v", r.name, reg.Trigger, err)
		}
		return err
	}
}

func (r *Registry) transition(reg *Registration, from, to State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reg.state == from {
		reg.state = to
	}
}

// State returns the state of the registration for t.
func (r *Registry) State(t Trigger) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reg, ok := r.regs[t]; ok {
		return reg.state
	}
	return Unregistered
}

// Registrations returns a copy of the current registrations.
func (r *Registry) Registrations() []Registration {
	r.mu.Lock()
	defer r.mu.Unlock()
	regs := make([]Registration, 0, len(r.regs))
	for _, reg := range r.regs {
		regs = append(regs, *reg)
	}
	return regs
}

// Unregister removes the registration for t.
func (r *Registry) Unregister(t Trigger) error {
	r.mu.Lock()
	reg, ok := r.regs[t]
	if ok {
		delete(r.regs, t)
		reg.state = Unregistered
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %v: %w", r.name, t, ErrNotFound)
	}
	return reg.d.Unregister(reg.Handle)
}

// Close removes every registration.
func (r *Registry) Close() error {
	r.mu.Lock()
	regs := r.regs
	r.regs = make(map[Trigger]*Registration)
	for _, reg := range regs {
		reg.state = Unregistered
	}
	r.mu.Unlock()

	var err error
	for _, reg := range regs {
		err = multierr.Append(err, reg.d.Unregister(reg.Handle))
	}
	return err
}
