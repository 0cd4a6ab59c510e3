// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux
// +build !linux

package main

import (
	"fmt"
	"time"
)

func kernelRTCTime(dev string) (time.Time, error) {
	return time.Time{}, fmt.Errorf("%s: kernel RTC access is only supported on linux", dev)
}
