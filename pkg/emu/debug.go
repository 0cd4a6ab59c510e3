// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package emu

import (
	"fmt"
	"sync"
)

// DebugPort is a POST code latch. It remembers every byte written.
type DebugPort struct {
	port  uint16
	mu    sync.Mutex
	codes []byte
}

// NewDebugPort returns a latch decoding port.
func NewDebugPort(port uint16) *DebugPort {
	return &DebugPort{port: port}
}

func (p *DebugPort) IOPorts() []uint16 { return []uint16{p.port} }

func (p *DebugPort) ReadIOPort(port uint16, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	data[0] = 0
	if n := len(p.codes); n > 0 {
		data[0] = p.codes[n-1]
	}
	return nil
}

func (p *DebugPort) WriteIOPort(port uint16, data []byte) error {
	if len(data) != 1 {
		return fmt.Errorf("debug port: invalid write size %d", len(data))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.codes = append(p.codes, data[0])
	log.Debugf("POST 0x%02x", data[0])
	return nil
}

// Codes returns every byte written so far.
func (p *DebugPort) Codes() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.codes...)
}

// Last returns the most recent byte written.
func (p *DebugPort) Last() (byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.codes) == 0 {
		return 0, false
	}
	return p.codes[len(p.codes)-1], true
}
