// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config holds the settings shared by the cmoskit commands.
package config

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/afero"
	"github.com/u-root/cmoskit/pkg/cmos"
	"github.com/u-root/cmoskit/pkg/emu"
	"github.com/u-root/cmoskit/pkg/portio"
	"gopkg.in/yaml.v2"
)

// CMOS configures register access.
type CMOS struct {
	IndexPort   uint16        `yaml:"index_port"`
	DataPort    uint16        `yaml:"data_port"`
	Settle      time.Duration `yaml:"settle"`
	UIPRetries  int           `yaml:"uip_retries"`
	UIPInterval time.Duration `yaml:"uip_interval"`
	// Serialize shares one lock between foreground and SMI handler
	// accesses.
	Serialize bool `yaml:"serialize"`
}

// SMI configures the software SMI path.
type SMI struct {
	CommandPort   uint16 `yaml:"command_port"`
	TriggerValue  uint8  `yaml:"trigger_value"`
	DebugPort     uint16 `yaml:"debug_port"`
	WaitForUpdate bool   `yaml:"wait_for_update"`
}

type Metrics struct {
	Listen string `yaml:"listen"`
}

type Log struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Config is the on-disk configuration.
type Config struct {
	CMOS    CMOS    `yaml:"cmos"`
	SMI     SMI     `yaml:"smi"`
	Metrics Metrics `yaml:"metrics"`
	Log     Log     `yaml:"log"`
}

// Default returns the platform defaults.
func Default() *Config {
	return &Config{
		CMOS: CMOS{
			IndexPort:   portio.CMOSIndex,
			DataPort:    portio.CMOSData,
			Settle:      portio.DefaultSettle,
			UIPRetries:  cmos.DefaultUpdateRetries,
			UIPInterval: cmos.DefaultUpdateInterval,
		},
		SMI: SMI{
			CommandPort:  portio.SMICommand,
			TriggerValue: 0xC2,
			DebugPort:    portio.Debug,
		},
		Metrics: Metrics{Listen: "localhost:9436"},
		Log:     Log{Level: "info"},
	}
}

// Load reads path from fs over the defaults. A missing file yields the
// defaults.
func Load(fs afero.Fs, path string) (*Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	b, err := afero.ReadFile(fs, path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.UnmarshalStrict(b, c); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Save writes c to path on fs.
func (c *Config) Save(fs afero.Fs, path string) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return afero.WriteFile(fs, path, b, 0644)
}

// Validate rejects settings no platform can have.
func (c *Config) Validate() error {
	seen := make(map[uint16]string)
	for _, p := range []struct {
		name string
		port uint16
	}{
		{"cmos index_port", c.CMOS.IndexPort},
		{"cmos data_port", c.CMOS.DataPort},
		{"smi command_port", c.SMI.CommandPort},
		{"smi debug_port", c.SMI.DebugPort},
	} {
		if other, ok := seen[p.port]; ok {
			return fmt.Errorf("%s and %s are both 0x%02x", other, p.name, p.port)
		}
		seen[p.port] = p.name
	}
	if c.CMOS.UIPRetries < 1 {
		return fmt.Errorf("cmos uip_retries %d, need at least 1", c.CMOS.UIPRetries)
	}
	if c.CMOS.Settle < 0 || c.CMOS.UIPInterval < 0 {
		return fmt.Errorf("cmos delays must not be negative")
	}
	if c.SMI.TriggerValue == 0 {
		return fmt.Errorf("smi trigger_value must not be 0")
	}
	return nil
}

// PortOptions returns the portio options c selects.
func (c *Config) PortOptions() []portio.Option {
	return []portio.Option{portio.WithSettle(c.CMOS.Settle)}
}

// ChipOptions returns the cmos options c selects. A non-nil lock is used
// only when Serialize is set.
func (c *Config) ChipOptions(lock sync.Locker) []cmos.Option {
	opts := []cmos.Option{
		cmos.WithPorts(c.CMOS.IndexPort, c.CMOS.DataPort),
		cmos.WithUpdateRetries(c.CMOS.UIPRetries, c.CMOS.UIPInterval),
	}
	if c.CMOS.Serialize && lock != nil {
		opts = append(opts, cmos.WithLock(lock))
	}
	return opts
}

// Layout places an emulated machine's devices where c expects them.
func (c *Config) Layout() emu.Layout {
	return emu.Layout{
		RTCIndex:   c.CMOS.IndexPort,
		RTCData:    c.CMOS.DataPort,
		Debug:      c.SMI.DebugPort,
		SMICommand: c.SMI.CommandPort,
	}
}
