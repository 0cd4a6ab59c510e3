// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmos

import (
	"fmt"
	"time"
)

// Time decodes the RTC date and time held in s. The snapshot must cover
// registers 0x00 through 0x0b; the century register is used when present,
// otherwise the 21st century is assumed. The RTC keeps no zone, the result
// is in UTC.
func (s Snapshot) Time() (time.Time, error) {
	need := []Register{Seconds, Minutes, Hours, DayOfMonth, Month, Year, StatusB}
	vals := make(map[Register]uint8, len(need)+1)
	for _, reg := range need {
		v, ok := s.Value(reg)
		if !ok {
			return time.Time{}, fmt.Errorf("snapshot does not cover register %v", reg)
		}
		vals[reg] = v
	}
	century, ok := s.Value(Century)
	if !ok {
		century = BinaryToBCD(20)
		if vals[StatusB]&BinaryMode != 0 {
			century = 20
		}
	}

	statusB := vals[StatusB]
	binary := statusB&BinaryMode != 0
	decode := func(field string, b uint8, lo, hi int) (int, error) {
		if !binary && (b>>4 > 9 || b&0x0f > 9) {
			return 0, fmt.Errorf("RTC %s 0x%02x is not BCD", field, b)
		}
		v := int(b)
		if !binary {
			v = int(BCDToBinary(b))
		}
		if v < lo || v > hi {
			return 0, fmt.Errorf("RTC %s %d out of range %d-%d", field, v, lo, hi)
		}
		return v, nil
	}

	hour := vals[Hours]
	pm := false
	hmin, hmax := 0, 23
	if statusB&Mode24Hour == 0 {
		pm = hour&0x80 != 0
		hour &^= 0x80
		hmin, hmax = 1, 12
	}
	h, err := decode("hour", hour, hmin, hmax)
	if err != nil {
		return time.Time{}, err
	}
	if statusB&Mode24Hour == 0 {
		h %= 12
		if pm {
			h += 12
		}
	}

	var f [6]int
	for i, c := range []struct {
		field  string
		v      uint8
		lo, hi int
	}{
		{"century", century, 0, 99},
		{"year", vals[Year], 0, 99},
		{"month", vals[Month], 1, 12},
		{"day", vals[DayOfMonth], 1, 31},
		{"minute", vals[Minutes], 0, 59},
		{"second", vals[Seconds], 0, 59},
	} {
		if f[i], err = decode(c.field, c.v, c.lo, c.hi); err != nil {
			return time.Time{}, err
		}
	}
	year, month, day := f[0]*100+f[1], time.Month(f[2]), f[3]
	if day > daysIn(month, year) {
		return time.Time{}, fmt.Errorf("RTC day %d out of range for %v %d", day, month, year)
	}
	return time.Date(year, month, day, h, f[4], f[5], 0, time.UTC), nil
}

func daysIn(m time.Month, year int) int {
	return time.Date(year, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
