// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package emu

import (
	"fmt"
	"sync"
	"time"

	"github.com/jmhodges/clock"
)

const (
	rtcIndexPort uint16 = 0x70
	rtcDataPort  uint16 = 0x71

	regSeconds    = 0x00
	regMinutes    = 0x02
	regHours      = 0x04
	regWeekday    = 0x06
	regDayOfMonth = 0x07
	regMonth      = 0x08
	regYear       = 0x09
	regStatusA    = 0x0A
	regStatusB    = 0x0B
	regStatusC    = 0x0C
	regStatusD    = 0x0D
	regCentury    = 0x32

	statusAUIP        = 0x80
	statusBSet        = 0x80
	statusBBinaryMode = 0x04
	statusB24Hour     = 0x02
)

// uipWindow is how long before each second boundary UIP reads as set.
const uipWindow = 244 * time.Microsecond

// RTC emulates the MC146818 RTC and its 128 bytes of CMOS RAM. Time
// registers track the machine clock plus whatever offset guest writes have
// introduced.
type RTC struct {
	mu        sync.Mutex
	clk       clock.Clock
	indexPort uint16
	dataPort  uint16

	ram       [128]byte
	index     uint8
	lastIndex uint8
	nmiMasked bool
	offset    time.Duration

	stuckUIP  bool
	failAfter int
	accesses  int
}

// NewRTC returns an RTC in BCD, 24 hour mode running off clk at the
// standard 0x70/0x71 ports.
func NewRTC(clk clock.Clock) *RTC {
	return NewRTCAt(clk, rtcIndexPort, rtcDataPort)
}

// NewRTCAt is NewRTC with the index and data ports at index and data.
func NewRTCAt(clk clock.Clock, index, data uint16) *RTC {
	r := &RTC{clk: clk, indexPort: index, dataPort: data, failAfter: -1}
	r.ram[regStatusA] = 0x26
	r.ram[regStatusB] = statusB24Hour
	r.ram[regStatusD] = 0x80
	return r
}

func (r *RTC) IOPorts() []uint16 { return []uint16{r.indexPort, r.dataPort} }

func (r *RTC) access() error {
	r.accesses++
	if r.failAfter >= 0 && r.accesses > r.failAfter {
		return ErrNoAck
	}
	return nil
}

func (r *RTC) ReadIOPort(port uint16, data []byte) error {
	if len(data) != 1 {
		return fmt.Errorf("rtc: invalid read size %d", len(data))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.access(); err != nil {
		return err
	}
	switch port {
	case r.indexPort:
		data[0] = r.lastIndex
	case r.dataPort:
		data[0] = r.readLocked(r.index)
	default:
		return fmt.Errorf("rtc: invalid read port 0x%04x", port)
	}
	return nil
}

func (r *RTC) WriteIOPort(port uint16, data []byte) error {
	if len(data) != 1 {
		return fmt.Errorf("rtc: invalid write size %d", len(data))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.access(); err != nil {
		return err
	}
	switch port {
	case r.indexPort:
		r.lastIndex = data[0]
		r.index = data[0] & 0x7F
		r.nmiMasked = data[0]&0x80 != 0
	case r.dataPort:
		r.writeLocked(r.index, data[0])
	default:
		return fmt.Errorf("rtc: invalid write port 0x%04x", port)
	}
	return nil
}

func (r *RTC) nowLocked() time.Time {
	return r.clk.Now().Add(r.offset).UTC()
}

func (r *RTC) uipLocked() bool {
	if r.stuckUIP {
		return true
	}
	if r.ram[regStatusB]&statusBSet != 0 {
		return false
	}
	frac := time.Duration(r.nowLocked().Nanosecond())
	return frac >= time.Second-uipWindow
}

func (r *RTC) encode(v int) byte {
	if r.ram[regStatusB]&statusBBinaryMode != 0 {
		return byte(v)
	}
	return toBCD(byte(v))
}

func (r *RTC) decode(b byte) int {
	if r.ram[regStatusB]&statusBBinaryMode != 0 {
		return int(b)
	}
	return int(fromBCD(b))
}

func (r *RTC) encodeHour(h int) byte {
	if r.ram[regStatusB]&statusB24Hour != 0 {
		return r.encode(h)
	}
	pm := h >= 12
	h %= 12
	if h == 0 {
		h = 12
	}
	b := r.encode(h)
	if pm {
		b |= 0x80
	}
	return b
}

func (r *RTC) decodeHour(b byte) int {
	if r.ram[regStatusB]&statusB24Hour != 0 {
		return r.decode(b)
	}
	h := r.decode(b&0x7F) % 12
	if b&0x80 != 0 {
		h += 12
	}
	return h
}

func (r *RTC) readLocked(idx uint8) byte {
	t := r.nowLocked()
	switch idx {
	case regSeconds:
		return r.encode(t.Second())
	case regMinutes:
		return r.encode(t.Minute())
	case regHours:
		return r.encodeHour(t.Hour())
	case regWeekday:
		return r.encode(int(t.Weekday()) + 1)
	case regDayOfMonth:
		return r.encode(t.Day())
	case regMonth:
		return r.encode(int(t.Month()))
	case regYear:
		return r.encode(t.Year() % 100)
	case regCentury:
		return r.encode(t.Year() / 100)
	case regStatusA:
		a := r.ram[regStatusA] &^ statusAUIP
		if r.uipLocked() {
			a |= statusAUIP
		}
		return a
	case regStatusC:
		v := r.ram[regStatusC]
		r.ram[regStatusC] = 0
		return v
	}
	return r.ram[idx]
}

func (r *RTC) writeLocked(idx uint8, v byte) {
	t := r.nowLocked()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()
	switch idx {
	case regSeconds:
		sec = r.decode(v)
	case regMinutes:
		min = r.decode(v)
	case regHours:
		hour = r.decodeHour(v)
	case regDayOfMonth:
		day = r.decode(v)
	case regMonth:
		month = time.Month(r.decode(v))
	case regYear:
		year = year/100*100 + r.decode(v)
	case regCentury:
		year = r.decode(v)*100 + year%100
	case regWeekday:
		// Derived from the date.
		return
	case regStatusA:
		r.ram[idx] = v &^ statusAUIP
		return
	case regStatusC, regStatusD:
		return
	default:
		r.ram[idx] = v
		return
	}
	target := time.Date(year, month, day, hour, min, sec, t.Nanosecond(), time.UTC)
	r.offset += target.Sub(t)
}

// SetStuckUIP forces the update-in-progress bit on or lets it follow the
// clock again.
func (r *RTC) SetStuckUIP(stuck bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stuckUIP = stuck
}

// FailAfter makes every port access after the next n fail with ErrNoAck.
// A negative n turns failures off.
func (r *RTC) FailAfter(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accesses = 0
	r.failAfter = n
}

// NMIMasked reports whether the last index write left NMI disabled.
func (r *RTC) NMIMasked() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nmiMasked
}

// LastIndex returns the last raw byte written to the index port.
func (r *RTC) LastIndex() uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastIndex
}

// Time returns the time the RTC currently holds.
func (r *RTC) Time() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nowLocked()
}

// SetTime sets the RTC to t.
func (r *RTC) SetTime(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offset = t.Sub(r.clk.Now())
}

// Poke stores v in a RAM register without side effects. Time registers are
// not RAM and are unaffected.
func (r *RTC) Poke(reg uint8, v byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ram[reg&0x7F] = v
}

func toBCD(v byte) byte {
	return ((v / 10) << 4) | (v % 10)
}

func fromBCD(v byte) byte {
	return (v>>4)*10 + (v & 0x0F)
}
