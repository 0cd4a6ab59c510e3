// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// swsmi raises a software SMI by writing to the SMI command port.
//
// Synopsis:
//
//	swsmi [OPTIONS]
//
// Description:
//
//	With the combined RTC SMM driver loaded, the default value makes
//	firmware increment the RTC seconds register.
//
// Options:
//
//	--port:     SMI command port (default 0xb2)
//	--value:    value to write (default 0xc2)
//	--simulate: signal an emulated machine with the driver loaded
//	--config:   configuration file
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"
	flag "github.com/spf13/pflag"
	"github.com/u-root/cmoskit/pkg/cmos"
	"github.com/u-root/cmoskit/pkg/config"
	"github.com/u-root/cmoskit/pkg/emu"
	"github.com/u-root/cmoskit/pkg/logger"
	"github.com/u-root/cmoskit/pkg/portio"
	"github.com/u-root/cmoskit/pkg/rtcsmm"
	"github.com/u-root/cmoskit/pkg/smm"
)

var log = logger.LogContainer.GetSimpleLogger()

var (
	port       = flag.Uint16("port", rtcsmm.SwSmiCommandPort, "SMI command port")
	value      = flag.Uint8("value", rtcsmm.SwSmiTriggerValue, "value to write")
	simulate   = flag.Bool("simulate", false, "signal an emulated machine")
	configFile = flag.String("config", "", "configuration file")
)

var fs = afero.NewOsFs()

// target is where the SMI goes. check runs after the write.
type target struct {
	p     *portio.Port
	check func(w io.Writer) error
}

func emulated(cfg *config.Config) (*target, error) {
	m, err := emu.New(emu.WithLayout(cfg.Layout()))
	if err != nil {
		return nil, err
	}
	opts := rtcsmm.Options{
		TriggerValue:  cfg.SMI.TriggerValue,
		DebugPort:     cfg.SMI.DebugPort,
		WaitForUpdate: cfg.SMI.WaitForUpdate,
		Clock:         m.Clock,
		PortOptions:   cfg.PortOptions(),
		ChipOptions:   cfg.ChipOptions(nil),
	}
	if err := m.LoadDriver(func(h smm.Host) error {
		_, err := rtcsmm.LoadCombined(h, opts)
		return err
	}); err != nil {
		return nil, err
	}
	p := m.Port(cfg.PortOptions()...)
	return &target{
		p: p,
		check: func(w io.Writer) error {
			sec, err := cmos.New(p, cfg.ChipOptions(nil)...).ReadRegister(rtcsmm.SecondsRegister)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "RTC seconds now 0x%02x\n", sec)
			return nil
		},
	}, nil
}

func hardware(cfg *config.Config) (*target, error) {
	if err := portio.CheckHardware(); err != nil {
		return nil, err
	}
	return &target{p: portio.New(portio.Hardware(), cfg.PortOptions()...)}, nil
}

func swsmi(w io.Writer) error {
	cfg, err := config.Load(fs, *configFile)
	if err != nil {
		return err
	}
	if err := logger.LogContainer.SetLevel(cfg.Log.Level); err != nil {
		return err
	}
	if !flag.CommandLine.Changed("port") && *configFile != "" {
		*port = cfg.SMI.CommandPort
	}
	if !flag.CommandLine.Changed("value") && *configFile != "" {
		*value = cfg.SMI.TriggerValue
	}

	var tgt *target
	if *simulate {
		// The emulated chipset decodes the port being written.
		cfg.SMI.CommandPort = *port
		tgt, err = emulated(cfg)
	} else {
		tgt, err = hardware(cfg)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Trigger SW SMI: 0x%02x -> port 0x%02x\n", *value, *port)
	if err := rtcsmm.Trigger(tgt.p, *port, *value); err != nil {
		return err
	}
	fmt.Fprintln(w, "Done. SW SMI should have been signaled.")
	if tgt.check != nil {
		return tgt.check(w)
	}
	return nil
}

func main() {
	flag.Parse()
	if err := swsmi(os.Stdout); err != nil {
		log.Fatal(err)
	}
}
