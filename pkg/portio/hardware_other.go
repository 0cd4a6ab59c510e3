// Copyright 2012-2020 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux || !(amd64 || 386)
// +build !linux !amd64,!386

package portio

import "fmt"

// CheckHardware always fails: there are no x86 I/O ports here.
func CheckHardware() error {
	return fmt.Errorf("no x86 I/O ports on this platform: %w", ErrUnavailable)
}

// Hardware returns nil, which puts a Port into degraded mode.
func Hardware() Transport {
	return nil
}
