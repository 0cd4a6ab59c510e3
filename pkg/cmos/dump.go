// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmos

import (
	"fmt"
	"io"
	"strings"
)

// BytesPerLine is the default hex dump width.
const BytesPerLine = 16

// Entry is one captured register.
type Entry struct {
	Offset Register
	Value  uint8
	// Stable is false when the update guard gave up before this byte was
	// read.
	Stable bool
}

// Snapshot is a contiguous run of registers in offset order. Bytes are read
// one after another, not atomically.
type Snapshot struct {
	Start   Register
	Entries []Entry
}

// Bytes returns the captured values.
func (s Snapshot) Bytes() []byte {
	b := make([]byte, len(s.Entries))
	for i, e := range s.Entries {
		b[i] = e.Value
	}
	return b
}

// Value returns the captured value of reg.
func (s Snapshot) Value(reg Register) (uint8, bool) {
	i := int(reg) - int(s.Start)
	if i < 0 || i >= len(s.Entries) {
		return 0, false
	}
	return s.Entries[i].Value, true
}

// Stable reports whether every byte was read outside an RTC update.
func (s Snapshot) Stable() bool {
	for _, e := range s.Entries {
		if !e.Stable {
			return false
		}
	}
	return true
}

// CaptureRange reads count registers starting at start. Before each byte it
// waits for the RTC update cycle to end. If an access fails the registers
// read so far are returned along with the error.
func (c *Chip) CaptureRange(start Register, count int) (Snapshot, error) {
	s := Snapshot{Start: start}
	if count < 0 || int(start)+count > Size {
		return s, fmt.Errorf("range %v+%d: %w", start, count, ErrInvalidRegister)
	}
	g := c.UpdateGuard()
	s.Entries = make([]Entry, 0, count)
	for i := 0; i < count; i++ {
		reg := start + Register(i)
		stable, err := g.WaitUntilStable()
		if err != nil {
			return s, fmt.Errorf("capture %v: %w", reg, err)
		}
		v, err := c.ReadRegister(reg)
		if err != nil {
			return s, fmt.Errorf("capture %v: %w", reg, err)
		}
		s.Entries = append(s.Entries, Entry{Offset: reg, Value: v, Stable: stable})
	}
	return s, nil
}

// WriteHexDump writes s as rows of bytesPerLine values, each row prefixed
// with its offset. A short last row is padded with blanks so columns line
// up. bytesPerLine <= 0 selects BytesPerLine.
func WriteHexDump(w io.Writer, s Snapshot, bytesPerLine int) error {
	if bytesPerLine <= 0 {
		bytesPerLine = BytesPerLine
	}
	var b strings.Builder
	n := len(s.Entries)
	for i := 0; i < n; i += bytesPerLine {
		fmt.Fprintf(&b, "%02x: ", int(s.Start)+i)
		for j := 0; j < bytesPerLine; j++ {
			if i+j < n {
				fmt.Fprintf(&b, "%02x ", s.Entries[i+j].Value)
			} else {
				b.WriteString("   ")
			}
		}
		b.WriteString("\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// FormatHexDump returns the hex dump of s as a string.
func FormatHexDump(s Snapshot, bytesPerLine int) string {
	var b strings.Builder
	// strings.Builder never fails.
	_ = WriteHexDump(&b, s, bytesPerLine)
	return b.String()
}
