// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rtcsmm

import (
	"fmt"

	"github.com/jmhodges/clock"
	"github.com/u-root/cmoskit/pkg/cmos"
	"github.com/u-root/cmoskit/pkg/portio"
	"github.com/u-root/cmoskit/pkg/smm"
)

// Options configure a driver load.
type Options struct {
	// Name labels logs and metrics. Each loader has its own default.
	Name string
	// TriggerValue is the software SMI code the combined driver binds.
	// Zero means SwSmiTriggerValue.
	TriggerValue uint8
	// DebugPort receives the handlers' POST codes. Zero means DebugPort.
	DebugPort     uint16
	WaitForUpdate bool
	Metrics       *smm.Metrics
	// Clock, when set, times dispatches and paces port accesses.
	Clock       clock.Clock
	PortOptions []portio.Option
	ChipOptions []cmos.Option
}

// Driver is one loaded instance of a driver image. A Driver loaded outside
// SMM holds no registration.
type Driver struct {
	reg      *smm.Registry
	trigger  smm.Trigger
	handle   smm.DispatchHandle
	handlers *Handlers
}

// LoadPowerButton is the entry point of the power button driver. In SMM it
// registers Diagnostic on the power button entry SMI.
func LoadPowerButton(host smm.Host, opts Options) (*Driver, error) {
	if opts.Name == "" {
		opts.Name = "rtcsmm-powerbutton"
	}
	return load(host, opts, smm.PowerButtonTrigger(smm.PowerButtonEntry), func(h *Handlers) smm.Callback {
		return h.Diagnostic
	})
}

// LoadCombined is the entry point of the combined driver. In SMM it registers
// IncrementSeconds on the software SMI.
func LoadCombined(host smm.Host, opts Options) (*Driver, error) {
	if opts.Name == "" {
		opts.Name = "rtcsmm-swsmi"
	}
	v := opts.TriggerValue
	if v == 0 {
		v = SwSmiTriggerValue
	}
	return load(host, opts, smm.SoftwareTrigger(v), func(h *Handlers) smm.Callback {
		return h.IncrementSeconds
	})
}

func load(host smm.Host, opts Options, t smm.Trigger, pick func(*Handlers) smm.Callback) (*Driver, error) {
	ropts := []smm.RegistryOption{smm.WithName(opts.Name)}
	if opts.Metrics != nil {
		ropts = append(ropts, smm.WithMetrics(opts.Metrics))
	}
	if opts.Clock != nil {
		ropts = append(ropts, smm.WithClock(opts.Clock))
		opts.PortOptions = append([]portio.Option{portio.WithClock(opts.Clock)}, opts.PortOptions...)
	}
	reg, err := smm.NewRegistry(host, ropts...)
	if err != nil {
		return nil, err
	}
	d := &Driver{reg: reg, trigger: t}
	if !reg.Privileged() {
		log.Infof("%s: loaded in %v, deferring to the SMM load", opts.Name, reg.Context())
		return d, nil
	}

	io, err := host.LocateIO()
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", opts.Name, err, portio.ErrUnavailable)
	}
	p := portio.New(io, opts.PortOptions...)
	d.handlers = &Handlers{
		Chip:          cmos.New(p, opts.ChipOptions...),
		Port:          p,
		DebugPort:     opts.DebugPort,
		WaitForUpdate: opts.WaitForUpdate,
	}
	if d.handle, err = reg.RegisterCallback(t, pick(d.handlers), d.handlers); err != nil {
		return nil, err
	}
	return d, nil
}

// Registered reports whether the driver holds a registration.
func (d *Driver) Registered() bool {
	return d.handle != 0
}

// Trigger returns the SMI source the driver binds.
func (d *Driver) Trigger() smm.Trigger {
	return d.trigger
}

// Handle returns the dispatch handle, zero when not registered.
func (d *Driver) Handle() smm.DispatchHandle {
	return d.handle
}

// Registry returns the registry of the driver.
func (d *Driver) Registry() *smm.Registry {
	return d.reg
}

// Close unregisters the driver's handler.
func (d *Driver) Close() error {
	d.handle = 0
	return d.reg.Close()
}
