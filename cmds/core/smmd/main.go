// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// smmd runs an emulated platform with both RTC SMM drivers loaded.
//
// Synopsis:
//
//	smmd [OPTIONS]
//
// Description:
//
//	SIGUSR1 presses the power button, SIGUSR2 writes the trigger value to
//	the SMI command port. Dispatch metrics are served on /metrics.
//	SIGINT and SIGTERM unload the drivers and exit.
//
// Options:
//
//	--config: configuration file
//	--listen: metrics address, overrides the configuration
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
	flag "github.com/spf13/pflag"
	"github.com/u-root/cmoskit/pkg/cmos"
	"github.com/u-root/cmoskit/pkg/config"
	"github.com/u-root/cmoskit/pkg/emu"
	"github.com/u-root/cmoskit/pkg/logger"
	"github.com/u-root/cmoskit/pkg/rtcsmm"
	"github.com/u-root/cmoskit/pkg/smm"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

var log = logger.LogContainer.GetSimpleLogger()

var (
	configFile = flag.String("config", "", "configuration file")
	listen     = flag.String("listen", "", "metrics address")
)

type daemon struct {
	cfg     *config.Config
	m       *emu.Machine
	reg     *prometheus.Registry
	metrics *smm.Metrics
	drivers []*rtcsmm.Driver
}

func newDaemon(cfg *config.Config, reg *prometheus.Registry, opts ...emu.Option) (*daemon, error) {
	metrics, err := smm.NewMetrics(reg)
	if err != nil {
		return nil, err
	}
	exhausted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cmos",
		Name:      "uip_exhausted_total",
		Help:      "RTC update waits that ran out of retries.",
	})
	if err := reg.Register(exhausted); err != nil {
		return nil, err
	}

	m, err := emu.New(append([]emu.Option{emu.WithLayout(cfg.Layout())}, opts...)...)
	if err != nil {
		return nil, err
	}
	d := &daemon{cfg: cfg, m: m, reg: reg, metrics: metrics}

	// Handlers share one lock when serialization is on.
	var mu sync.Mutex
	dopts := rtcsmm.Options{
		TriggerValue:  cfg.SMI.TriggerValue,
		DebugPort:     cfg.SMI.DebugPort,
		WaitForUpdate: cfg.SMI.WaitForUpdate,
		Metrics:       metrics,
		Clock:         m.Clock,
		PortOptions:   cfg.PortOptions(),
		ChipOptions:   append(cfg.ChipOptions(&mu), cmos.WithExhaustedCounter(exhausted)),
	}
	for _, load := range []func(smm.Host, rtcsmm.Options) (*rtcsmm.Driver, error){
		rtcsmm.LoadPowerButton,
		rtcsmm.LoadCombined,
	} {
		load := load
		if err := m.LoadDriver(func(h smm.Host) error {
			drv, err := load(h, dopts)
			if err != nil {
				return err
			}
			if drv.Registered() {
				d.drivers = append(d.drivers, drv)
			}
			return nil
		}); err != nil {
			return nil, multierr.Append(err, d.close())
		}
	}
	return d, nil
}

func (d *daemon) powerButton() error {
	log.Info("power button pressed")
	return d.m.PressPowerButton()
}

func (d *daemon) swSMI() error {
	return rtcsmm.Trigger(d.m.Port(d.cfg.PortOptions()...), d.cfg.SMI.CommandPort, d.cfg.SMI.TriggerValue)
}

func (d *daemon) close() error {
	var err error
	for _, drv := range d.drivers {
		err = multierr.Append(err, drv.Close())
	}
	d.drivers = nil
	return err
}

// run serves metrics and handles signals until ctx is done or a
// terminating signal arrives.
func (d *daemon) run(ctx context.Context, l net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(d.reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux}
	g.Go(func() error {
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, unix.SIGUSR1, unix.SIGUSR2, unix.SIGINT, unix.SIGTERM)
	g.Go(func() error {
		defer signal.Stop(sigs)
		defer srv.Close()
		for {
			select {
			case <-ctx.Done():
				return nil
			case s := <-sigs:
				switch s {
				case unix.SIGUSR1:
					if err := d.powerButton(); err != nil {
						log.Errorf("power button: %v", err)
					}
				case unix.SIGUSR2:
					if err := d.swSMI(); err != nil {
						log.Errorf("SW SMI: %v", err)
					}
				default:
					log.Infof("%v, shutting down", s)
					return nil
				}
			}
		}
	})

	return multierr.Append(g.Wait(), d.close())
}

func smmd() error {
	cfg, err := config.Load(afero.NewOsFs(), *configFile)
	if err != nil {
		return err
	}
	if cfg.Log.File != "" {
		logger.LogContainer.SetFile(cfg.Log.File)
	}
	if err := logger.LogContainer.SetLevel(cfg.Log.Level); err != nil {
		return err
	}
	if *listen != "" {
		cfg.Metrics.Listen = *listen
	}

	d, err := newDaemon(cfg, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	l, err := net.Listen("tcp", cfg.Metrics.Listen)
	if err != nil {
		return multierr.Append(fmt.Errorf("could not listen: %w", err), d.close())
	}
	log.Infof("serving metrics on %s, pid %d", l.Addr(), os.Getpid())
	return d.run(context.Background(), l)
}

func main() {
	flag.Parse()
	if err := smmd(); err != nil {
		log.Fatal(err)
	}
}
