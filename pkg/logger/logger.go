// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package logger holds the process-wide zap logger shared by the CMOS and
// SMM packages and the commands built on them.
package logger

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	LogContainer     logContainer
	loggerInit       sync.Once
	simpleLoggerInit sync.Once
)

type logContainer struct {
	mu           sync.Mutex
	level        zap.AtomicLevel
	file         string
	logger       *zap.Logger
	simpleLogger *zap.SugaredLogger
}

func init() {
	LogContainer.level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
}

// SetLevel changes the minimum level of every logger handed out, including
// the ones already created.
func (l *logContainer) SetLevel(level string) error {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	l.level.SetLevel(lvl)
	return nil
}

// SetFile adds a JSON file core next to the console. Loggers already handed
// out are rebuilt in place, so it must be called before other goroutines
// log.
func (l *logContainer) SetFile(path string) {
	l.mu.Lock()
	l.file = path
	l.mu.Unlock()

	if l.logger == nil {
		return
	}
	*l.logger = *zap.New(l.combinedCore())
	if l.simpleLogger != nil {
		*l.simpleLogger = *l.logger.Sugar()
	}
}

// GetLogger returns the pointer to the logger and creates one if none exists
func (l *logContainer) GetLogger() *zap.Logger {
	loggerInit.Do(func() {
		l.logger = zap.New(l.combinedCore())
	})
	return l.logger
}

// GetSimpleLogger returns the pointer to the sugared logger and creates one
// if none exists
func (l *logContainer) GetSimpleLogger() *zap.SugaredLogger {
	simpleLoggerInit.Do(func() {
		l.simpleLogger = l.GetLogger().Sugar()
	})
	return l.simpleLogger
}

// Hex8 renders a byte the way the firmware debug output does, e.g. "0x5a".
func (l *logContainer) Hex8(key string, val uint8) zap.Field {
	return zap.String(key, fmt.Sprintf("0x%02x", val))
}

func getConsoleEncoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewConsoleEncoder(encoderConfig)
}

func getJsonEncoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.EpochTimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewJSONEncoder(encoderConfig)
}

func (l *logContainer) consoleCore() zapcore.Core {
	return zapcore.NewCore(getConsoleEncoder(), zapcore.Lock(os.Stderr), l.level)
}

func (l *logContainer) combinedCore() zapcore.Core {
	l.mu.Lock()
	file := l.file
	l.mu.Unlock()

	if file == "" {
		return l.consoleCore()
	}
	f, err := os.OpenFile(file, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unable to open logfile %s, logging to console only: %v\n", file, err)
		return l.consoleCore()
	}
	return zapcore.NewTee(l.consoleCore(), zapcore.NewCore(getJsonEncoder(), zapcore.AddSync(f), l.level))
}
