// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package smm

import "fmt"

// TriggerKind is the dispatch category of an SMI source.
type TriggerKind uint8

const (
	// PowerButton SMIs are raised by the chipset when the button is pressed.
	PowerButton TriggerKind = iota + 1
	// Software SMIs are raised by writing a code to the SMI command port.
	Software
)

func (k TriggerKind) String() string {
	switch k {
	case PowerButton:
		return "power-button"
	case Software:
		return "software"
	}
	return fmt.Sprintf("TriggerKind(%d)", uint8(k))
}

// PowerButtonPhase selects the edge a power button handler runs on.
type PowerButtonPhase uint8

const (
	PowerButtonEntry PowerButtonPhase = iota
	PowerButtonExit
)

func (p PowerButtonPhase) String() string {
	if p == PowerButtonExit {
		return "exit"
	}
	return "entry"
}

// Trigger identifies an SMI source. Triggers are values; two triggers are
// the same source when they compare equal.
type Trigger struct {
	Kind  TriggerKind
	Phase PowerButtonPhase
	Code  uint8
}

// PowerButtonTrigger returns the power button trigger for phase.
func PowerButtonTrigger(phase PowerButtonPhase) Trigger {
	return Trigger{Kind: PowerButton, Phase: phase}
}

// SoftwareTrigger returns the trigger for software SMI command code.
func SoftwareTrigger(code uint8) Trigger {
	return Trigger{Kind: Software, Code: code}
}

func (t Trigger) String() string {
	switch t.Kind {
	case PowerButton:
		return fmt.Sprintf("power-button/%v", t.Phase)
	case Software:
		return fmt.Sprintf("software/0x%02x", t.Code)
	}
	return t.Kind.String()
}
