// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestSetLevel(t *testing.T) {
	defer LogContainer.SetLevel("info")

	for _, tt := range []struct {
		name    string
		level   string
		enabled zapcore.Level
		wantErr bool
	}{
		{name: "debug", level: "debug", enabled: zapcore.DebugLevel},
		{name: "warn", level: "warn", enabled: zapcore.WarnLevel},
		{name: "bogus", level: "chatty", wantErr: true},
	} {
		t.Run(tt.name, func(t *testing.T) {
			err := LogContainer.SetLevel(tt.level)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SetLevel(%q) = %v, want error %v", tt.level, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if !LogContainer.GetLogger().Core().Enabled(tt.enabled) {
				t.Errorf("level %v not enabled after SetLevel(%q)", tt.enabled, tt.level)
			}
			if tt.enabled > zapcore.DebugLevel && LogContainer.GetLogger().Core().Enabled(tt.enabled-1) {
				t.Errorf("level %v enabled after SetLevel(%q)", tt.enabled-1, tt.level)
			}
		})
	}
}

func TestSameLogger(t *testing.T) {
	if LogContainer.GetLogger() != LogContainer.GetLogger() {
		t.Error("GetLogger returned two different loggers")
	}
	if LogContainer.GetSimpleLogger() != LogContainer.GetSimpleLogger() {
		t.Error("GetSimpleLogger returned two different loggers")
	}
}

func TestSetFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cmoskit.log")
	log := LogContainer.GetSimpleLogger()
	LogContainer.SetFile(path)
	defer LogContainer.SetFile("")

	log.Infow("selected", "register", "0x0a")
	_ = log.Sync()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"register":"0x0a"`) {
		t.Errorf("log file = %q, want the structured field", b)
	}
}
