// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package porttest provides portio.Transport fakes for tests.
package porttest

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/u-root/u-root/pkg/memio"
)

// ErrNoAck is what the fakes return for an injected failure.
var ErrNoAck = errors.New("device did not acknowledge")

// Op is a single byte access.
type Op struct {
	Write bool
	Port  uint16
	Value uint8
}

func (o Op) String() string {
	if o.Write {
		return fmt.Sprintf("{out 0x%02x <- 0x%02x}", o.Port, o.Value)
	}
	return fmt.Sprintf("{in 0x%02x -> 0x%02x}", o.Port, o.Value)
}

// Out is shorthand for an expected write.
func Out(port uint16, v uint8) Op {
	return Op{Write: true, Port: port, Value: v}
}

// In is shorthand for a read returning v.
func In(port uint16, v uint8) Op {
	return Op{Port: port, Value: v}
}

func get8(data memio.UintN) (uint8, error) {
	v, ok := data.(*memio.Uint8)
	if !ok {
		return 0, fmt.Errorf("want *memio.Uint8, got %T", data)
	}
	return uint8(*v), nil
}

func set8(data memio.UintN, b uint8) error {
	v, ok := data.(*memio.Uint8)
	if !ok {
		return fmt.Errorf("want *memio.Uint8, got %T", data)
	}
	*v = memio.Uint8(b)
	return nil
}

// Script is a transport that expects an exact sequence of accesses.
// Reads return the scripted value.
type Script struct {
	t   testing.TB
	mu  sync.Mutex
	ops []Op
}

// NewScript returns a Script expecting ops in order.
func NewScript(t testing.TB, ops ...Op) *Script {
	return &Script{t: t, ops: ops}
}

// Expect appends ops to the script.
func (s *Script) Expect(ops ...Op) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, ops...)
}

func (s *Script) next(got Op) (Op, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ops) == 0 {
		s.t.Errorf("unexpected access %v, script is empty", got)
		return Op{}, false
	}
	o := s.ops[0]
	s.ops = s.ops[1:]
	return o, true
}

// In implements portio.Transport.
func (s *Script) In(port uint16, data memio.UintN) error {
	o, ok := s.next(Op{Port: port})
	if !ok {
		return ErrNoAck
	}
	if o.Write || o.Port != port {
		s.t.Errorf("Expected %v, got read on 0x%02x", o, port)
	}
	return set8(data, o.Value)
}

// Out implements portio.Transport.
func (s *Script) Out(port uint16, data memio.UintN) error {
	v, err := get8(data)
	if err != nil {
		return err
	}
	o, ok := s.next(Op{Write: true, Port: port, Value: v})
	if !ok {
		return ErrNoAck
	}
	if !o.Write || o.Port != port || o.Value != v {
		s.t.Errorf("Expected %v, got write of 0x%02x on 0x%02x", o, v, port)
	}
	return nil
}

// Done fails the test if scripted accesses were not performed.
func (s *Script) Done() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ops) != 0 {
		s.t.Errorf("%d accesses not performed: %v", len(s.ops), s.ops)
	}
}

// Recorder wraps a transport and logs every access that reaches it. A nil
// inner transport reads 0 and accepts every write.
type Recorder struct {
	Inner interface {
		In(uint16, memio.UintN) error
		Out(uint16, memio.UintN) error
	}

	// FailPort, when non-zero, makes every access to that port fail with
	// ErrNoAck after FailAfter successful accesses to it.
	FailPort  uint16
	FailAfter int

	mu   sync.Mutex
	ops  []Op
	hits int
}

func (r *Recorder) fail(port uint16) bool {
	if r.FailPort == 0 || port != r.FailPort {
		return false
	}
	r.hits++
	return r.hits > r.FailAfter
}

// In implements portio.Transport.
func (r *Recorder) In(port uint16, data memio.UintN) error {
	r.mu.Lock()
	failed := r.fail(port)
	r.mu.Unlock()
	if failed {
		return ErrNoAck
	}
	if r.Inner != nil {
		if err := r.Inner.In(port, data); err != nil {
			return err
		}
	} else if err := set8(data, 0); err != nil {
		return err
	}
	v, _ := get8(data)
	r.mu.Lock()
	r.ops = append(r.ops, In(port, v))
	r.mu.Unlock()
	return nil
}

// Out implements portio.Transport.
func (r *Recorder) Out(port uint16, data memio.UintN) error {
	v, err := get8(data)
	if err != nil {
		return err
	}
	r.mu.Lock()
	failed := r.fail(port)
	r.mu.Unlock()
	if failed {
		return ErrNoAck
	}
	if r.Inner != nil {
		if err := r.Inner.Out(port, data); err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.ops = append(r.ops, Out(port, v))
	r.mu.Unlock()
	return nil
}

// Ops returns a copy of the accesses seen so far.
func (r *Recorder) Ops() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Op(nil), r.ops...)
}

// Writes returns the values written to port, in order.
func (r *Recorder) Writes(port uint16) []uint8 {
	var vs []uint8
	for _, o := range r.Ops() {
		if o.Write && o.Port == port {
			vs = append(vs, o.Value)
		}
	}
	return vs
}

// Reads returns how many times port was read.
func (r *Recorder) Reads(port uint16) int {
	n := 0
	for _, o := range r.Ops() {
		if !o.Write && o.Port == port {
			n++
		}
	}
	return n
}
