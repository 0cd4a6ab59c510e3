// Copyright 2012-2020 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux && (amd64 || 386)
// +build linux
// +build amd64 386

package portio

import (
	"fmt"

	"github.com/u-root/u-root/pkg/memio"
	"golang.org/x/sys/unix"
)

const devPort = "/dev/port"

// CheckHardware reports ErrUnavailable if this process cannot read and
// write /dev/port.
func CheckHardware() error {
	if err := unix.Access(devPort, unix.R_OK|unix.W_OK); err != nil {
		return fmt.Errorf("%s: %v: %w", devPort, err, ErrUnavailable)
	}
	return nil
}

// Hardware returns the Transport for the machine's real I/O ports.
func Hardware() Transport {
	return Funcs{
		InFunc:  memio.In,
		OutFunc: memio.Out,
	}
}
