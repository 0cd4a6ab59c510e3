// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"time"

	"github.com/cleroux/rtc"
)

func kernelRTCTime(dev string) (time.Time, error) {
	r, err := rtc.NewRTC(dev)
	if err != nil {
		return time.Time{}, err
	}
	defer r.Close()
	return r.Time()
}
