// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// cmosdump prints the CMOS/RTC register bank as a hex dump.
//
// Synopsis:
//
//	cmosdump [OPTIONS]
//
// Description:
//
//	Each byte is read after waiting for the RTC to leave its update cycle,
//	with NMI disabled for the duration of the access. Reading the hardware
//	ports needs read and write access to /dev/port.
//
// Options:
//
//	--start:    first register (default 0x00)
//	--count:    number of registers (default 0x80)
//	--width:    bytes per line (default 16)
//	--simulate: dump an emulated RTC instead of the hardware
//	--config:   configuration file
//	--time:     decode the RTC date and time
//	--rtc:      also print the time of this kernel RTC device
//	-v:         verbose
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	flag "github.com/spf13/pflag"
	"github.com/u-root/cmoskit/pkg/cmos"
	"github.com/u-root/cmoskit/pkg/config"
	"github.com/u-root/cmoskit/pkg/emu"
	"github.com/u-root/cmoskit/pkg/logger"
	"github.com/u-root/cmoskit/pkg/portio"
)

var log = logger.LogContainer.GetSimpleLogger()

var (
	start      = flag.Int("start", 0, "first register")
	count      = flag.Int("count", cmos.Size, "number of registers")
	width      = flag.Int("width", cmos.BytesPerLine, "bytes per line")
	simulate   = flag.Bool("simulate", false, "dump an emulated RTC")
	configFile = flag.String("config", "", "configuration file")
	showTime   = flag.BoolP("time", "t", false, "decode the RTC date and time")
	rtcDev     = flag.String("rtc", "", "kernel RTC device to compare with, e.g. /dev/rtc0")
	verbose    = flag.BoolP("verbose", "v", false, "verbose")
)

var fs = afero.NewOsFs()

func transport(cfg *config.Config) (portio.Transport, error) {
	if *simulate {
		m, err := emu.New(emu.WithLayout(cfg.Layout()))
		if err != nil {
			return nil, err
		}
		return m.Bus, nil
	}
	if err := portio.CheckHardware(); err != nil {
		return nil, err
	}
	return portio.Hardware(), nil
}

func cmosdump(w io.Writer) error {
	if *start < 0 || *start >= cmos.Size {
		return fmt.Errorf("start 0x%x out of range 0x00-0x7f", *start)
	}
	if *count < 1 || *start+*count > cmos.Size {
		return fmt.Errorf("count %d out of range for start 0x%02x", *count, *start)
	}
	if *width < 1 {
		return fmt.Errorf("width %d must be positive", *width)
	}

	cfg, err := config.Load(fs, *configFile)
	if err != nil {
		return err
	}
	level := cfg.Log.Level
	if *verbose {
		level = "debug"
	}
	if err := logger.LogContainer.SetLevel(level); err != nil {
		return err
	}

	t, err := transport(cfg)
	if err != nil {
		return err
	}
	c := cmos.New(portio.New(t, cfg.PortOptions()...), cfg.ChipOptions(nil)...)

	begin := time.Now()
	s, err := c.CaptureRange(cmos.Register(*start), *count)
	if err != nil {
		return err
	}
	if *verbose {
		log.Infof("read %s in %s", humanize.Bytes(uint64(len(s.Entries))),
			humanize.SIWithDigits(time.Since(begin).Seconds(), 2, "s"))
		if !s.Stable() {
			log.Warn("some bytes were read during an RTC update")
		}
	}

	fmt.Fprintf(w, "========= CMOS Dump (0x%02x - 0x%02x) ==========\n", *start, *start+*count-1)
	if err := cmos.WriteHexDump(w, s, *width); err != nil {
		return err
	}

	if *showTime {
		rt, err := s.Time()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "CMOS time: %s\n", rt.Format(time.RFC3339))
	}
	if *rtcDev != "" {
		kt, err := kernelRTCTime(*rtcDev)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s time: %s\n", *rtcDev, kt.UTC().Format(time.RFC3339))
	}
	return nil
}

func main() {
	flag.Parse()
	if err := cmosdump(os.Stdout); err != nil {
		log.Fatal(err)
	}
}
