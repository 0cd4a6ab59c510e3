// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmos

import (
	"testing"
	"time"

	"github.com/jmhodges/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"github.com/u-root/cmoskit/pkg/emu"
	"github.com/u-root/cmoskit/pkg/portio"
	"github.com/u-root/cmoskit/pkg/portio/porttest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// emulated returns a chip on an emulated RTC whose accesses are recorded.
func emulated(t *testing.T, opts ...Option) (*Chip, *emu.Machine, *porttest.Recorder, clock.FakeClock) {
	t.Helper()
	clk := clock.NewFake()
	clk.Set(time.Date(2020, 2, 29, 23, 59, 58, 0, time.UTC))
	m, err := emu.New(emu.WithClock(clk))
	require.NoError(t, err)
	rec := &porttest.Recorder{Inner: m.Bus}
	return New(portio.New(rec, portio.WithClock(clk)), opts...), m, rec, clk
}

func TestWaitUntilStable(t *testing.T) {
	c, _, rec, _ := emulated(t)
	stable, err := c.UpdateGuard().WaitUntilStable()
	require.NoError(t, err)
	require.True(t, stable)
	require.Equal(t, 1, rec.Reads(portio.CMOSData))
	require.Equal(t, []uint8{0x8a, 0x00}, rec.Writes(portio.CMOSIndex))
}

func TestWaitUntilStableStuck(t *testing.T) {
	exhausted := prometheus.NewCounter(prometheus.CounterOpts{Name: "uip_exhausted_total"})
	c, m, rec, clk := emulated(t, WithExhaustedCounter(exhausted))
	m.RTC.SetStuckUIP(true)
	start := clk.Now()

	stable, err := c.UpdateGuard().WaitUntilStable()
	require.NoError(t, err)
	require.False(t, stable)

	require.Equal(t, DefaultUpdateRetries, rec.Reads(portio.CMOSData))
	idx := rec.Writes(portio.CMOSIndex)
	require.Len(t, idx, DefaultUpdateRetries+1)
	require.Equal(t, uint8(0), idx[len(idx)-1])
	require.False(t, m.RTC.NMIMasked())
	require.Equal(t, 1.0, testutil.ToFloat64(exhausted))

	// No sleep after the last poll.
	if got, min := clk.Now().Sub(start), (DefaultUpdateRetries-1)*DefaultUpdateInterval; got < min {
		t.Errorf("waited %v, want at least %v", got, min)
	}
}

func TestWaitUntilStableRetries(t *testing.T) {
	for _, tt := range []struct {
		name  string
		limit int
		reads int
	}{
		{name: "five", limit: 5, reads: 5},
		{name: "one", limit: 1, reads: 1},
		{name: "zero polls once", limit: 0, reads: 1},
	} {
		t.Run(tt.name, func(t *testing.T) {
			c, m, rec, _ := emulated(t, WithUpdateRetries(tt.limit, time.Millisecond))
			m.RTC.SetStuckUIP(true)
			stable, err := c.UpdateGuard().WaitUntilStable()
			require.NoError(t, err)
			require.False(t, stable)
			require.Equal(t, tt.reads, rec.Reads(portio.CMOSData))
		})
	}
}

func TestWaitUntilStableUpdateWindow(t *testing.T) {
	c, _, rec, clk := emulated(t)
	clk.Add(time.Second - 200*time.Microsecond)

	stable, err := c.UpdateGuard().WaitUntilStable()
	require.NoError(t, err)
	require.True(t, stable)
	if n := rec.Reads(portio.CMOSData); n < 2 || n > 10 {
		t.Errorf("polled %d times to wait out a 200µs window, want 2-10", n)
	}
}

func TestWaitUntilStableError(t *testing.T) {
	rec := &porttest.Recorder{FailPort: portio.CMOSData}
	c := New(newPort(rec))
	_, err := c.UpdateGuard().WaitUntilStable()
	require.ErrorIs(t, err, porttest.ErrNoAck)
	require.Equal(t, []uint8{0x8a, 0x00}, rec.Writes(portio.CMOSIndex))
}

func TestWaitUntilStableLogs(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	c, m, _, _ := emulated(t, WithLogger(zap.New(core).Sugar()), WithUpdateRetries(3, time.Microsecond))
	m.RTC.SetStuckUIP(true)
	_, err := c.UpdateGuard().WaitUntilStable()
	require.NoError(t, err)
	require.Equal(t, 1, logs.FilterMessage("RTC update still in progress after 3 polls, continuing").Len())
}
