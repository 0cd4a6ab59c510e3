// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jmhodges/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"github.com/u-root/cmoskit/pkg/config"
	"github.com/u-root/cmoskit/pkg/emu"
	"github.com/u-root/cmoskit/pkg/smm"
)

func TestDaemon(t *testing.T) {
	reg := prometheus.NewRegistry()
	clk := clock.NewFake()
	clk.Set(time.Date(2021, 1, 1, 0, 0, 30, 0, time.UTC))
	d, err := newDaemon(config.Default(), reg, emu.WithClock(clk))
	require.NoError(t, err)
	require.Len(t, d.drivers, 2)

	require.NoError(t, d.swSMI())
	require.NoError(t, d.powerButton())

	// The power button handler posts what the increment stored.
	codes := d.m.Debug.Codes()
	require.Equal(t, []byte{0x31, 0x31}, codes)
	require.Equal(t, 31, d.m.RTC.Time().Second())

	sw := smm.SoftwareTrigger(0xC2).String()
	pb := smm.PowerButtonTrigger(smm.PowerButtonEntry).String()
	require.Equal(t, 1.0, testutil.ToFloat64(d.metrics.Dispatches.WithLabelValues("rtcsmm-swsmi", sw)))
	require.Equal(t, 1.0, testutil.ToFloat64(d.metrics.Dispatches.WithLabelValues("rtcsmm-powerbutton", pb)))

	require.NoError(t, d.close())
	require.NoError(t, d.swSMI())
	require.Len(t, d.m.Debug.Codes(), 2, "handler ran after the drivers were closed")
}

func TestDaemonSerialized(t *testing.T) {
	cfg := config.Default()
	cfg.CMOS.Serialize = true
	cfg.SMI.WaitForUpdate = true
	d, err := newDaemon(cfg, prometheus.NewRegistry(), emu.WithClock(clock.NewFake()))
	require.NoError(t, err)
	defer d.close()
	require.NoError(t, d.swSMI())
	require.Len(t, d.m.Debug.Codes(), 1)
}

func TestDaemonConfiguredPorts(t *testing.T) {
	cfg := config.Default()
	cfg.CMOS.IndexPort, cfg.CMOS.DataPort = 0x72, 0x73
	cfg.SMI.CommandPort, cfg.SMI.DebugPort = 0xb0, 0x84
	require.NoError(t, cfg.Validate())

	clk := clock.NewFake()
	clk.Set(time.Date(2021, 1, 1, 0, 0, 30, 0, time.UTC))
	d, err := newDaemon(cfg, prometheus.NewRegistry(), emu.WithClock(clk))
	require.NoError(t, err)
	defer d.close()

	require.NoError(t, d.swSMI())
	require.NoError(t, d.powerButton())
	require.Equal(t, []byte{0x31, 0x31}, d.m.Debug.Codes())
	require.Equal(t, 31, d.m.RTC.Time().Second())
}

func TestRunServesMetrics(t *testing.T) {
	d, err := newDaemon(config.Default(), prometheus.NewRegistry())
	require.NoError(t, err)
	require.NoError(t, d.swSMI())

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.run(ctx, l) }()

	resp, err := http.Get("http://" + l.Addr().String() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	if !strings.Contains(string(body), `smm_dispatch_total{driver="rtcsmm-swsmi",trigger="software/0xc2"} 1`) {
		t.Errorf("metrics do not count the dispatch:\n%s", body)
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	require.Empty(t, d.drivers)
}
