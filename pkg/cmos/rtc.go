// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmos

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
)

// Update-in-progress polling defaults. The RTC raises UIP about 244µs before
// it rolls its time registers; 2000 polls of 50µs is far longer than that
// but the exact figure carries no meaning and can be changed.
const (
	DefaultUpdateRetries  = 2000
	DefaultUpdateInterval = 50 * time.Microsecond
)

// UpdateGuard waits for the RTC to leave its update cycle.
type UpdateGuard struct {
	c         *Chip
	Limit     int
	Interval  time.Duration
	Exhausted prometheus.Counter
}

// UpdateGuard returns a guard using the chip's retry settings.
func (c *Chip) UpdateGuard() *UpdateGuard {
	return &UpdateGuard{
		c:         c,
		Limit:     c.uipLimit,
		Interval:  c.uipInterval,
		Exhausted: c.exhausted,
	}
}

// WaitUntilStable polls status register A until UIP is clear, reading it at
// most Limit times. It reports stable=false with a nil error when the budget
// runs out: the caller goes on and may read a torn value. This is best
// effort only. Even a successful wait does not stop the RTC from starting an
// update right after it returns. The index port is restored to 0 on return.
func (g *UpdateGuard) WaitUntilStable() (stable bool, err error) {
	limit := g.Limit
	if limit < 1 {
		limit = 1
	}
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(g.Interval), uint64(limit-1))
	b.Reset()

	s, err := g.c.Select(StatusA)
	if err != nil {
		return false, err
	}
	defer func() {
		err = multierr.Append(err, s.Release())
	}()

	for polls := 1; ; polls++ {
		a, err := s.Read()
		if err != nil {
			return false, err
		}
		if a&UpdateInProgress == 0 {
			return true, nil
		}
		d := b.NextBackOff()
		if d == backoff.Stop {
			g.c.log.Warnf("RTC update still in progress after %d polls, continuing", polls)
			if g.Exhausted != nil {
				g.Exhausted.Inc()
			}
			return false, nil
		}
		g.c.port.Clock().Sleep(d)
		if err := s.Reselect(); err != nil {
			return false, err
		}
	}
}
