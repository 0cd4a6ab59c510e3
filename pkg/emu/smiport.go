// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package emu

import (
	"fmt"
	"sync"

	"github.com/u-root/cmoskit/pkg/smm"
)

// SMIPort is the APM control port. A byte written to it raises a software
// SMI with that byte as the command code before the write completes.
type SMIPort struct {
	port uint16
	d    *Dispatcher

	mu   sync.Mutex
	last byte
}

// NewSMIPort returns a command port at port feeding d.
func NewSMIPort(port uint16, d *Dispatcher) *SMIPort {
	return &SMIPort{port: port, d: d}
}

func (p *SMIPort) IOPorts() []uint16 { return []uint16{p.port} }

func (p *SMIPort) ReadIOPort(port uint16, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	data[0] = p.last
	return nil
}

func (p *SMIPort) WriteIOPort(port uint16, data []byte) error {
	if len(data) != 1 {
		return fmt.Errorf("smi port: invalid write size %d", len(data))
	}
	p.mu.Lock()
	p.last = data[0]
	p.mu.Unlock()

	t := smm.SoftwareTrigger(data[0])
	n, err := p.d.Raise(t, nil)
	if err != nil {
		// The CPU never sees handler failures.
		log.Warnf("SMI %v: %v", t, err)
	}
	log.Debugf("SMI %v: %d handlers run", t, n)
	return nil
}
