// Copyright 2016 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package klog is the kernel's logging facade: a thin, Init-once wrapper
// around go.uber.org/zap, styled after the teacher's own log package.
package klog

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	envLogLevel  = "MICROKERN_LOG_LEVEL"
	envLogFormat = "MICROKERN_LOG_FORMAT"
)

var (
	globalLogger     *zap.Logger
	globalLoggerInit sync.Once
)

// Init builds the process-wide logger for component and returns a sync
// callback that should run before process exit. Subsequent calls panic,
// matching the teacher's "Init initialized multiple times" contract: this
// must be called from main(), never from an init() function.
func Init(component string) (sync func() error) {
	if IsInitialized() {
		panic("klog.Init initialized multiple times")
	}

	level := parseLevel(os.Getenv(envLogLevel))
	encoder := newEncoder(os.Getenv(envLogFormat))

	globalLoggerInit.Do(func() {
		core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level)
		globalLogger = zap.New(core, zap.AddCaller()).Named(component)
	})
	return globalLogger.Sync
}

// IsInitialized reports whether Init has run.
func IsInitialized() bool {
	return globalLogger != nil
}

// Get returns the process logger, or a no-op logger if Init was never
// called (so library code and tests that don't care about output don't
// have to call Init first).
func Get() *zap.Logger {
	if globalLogger == nil {
		return zap.NewNop()
	}
	return globalLogger
}

// ForComponent returns a child logger of Get named for component, e.g.
// "sched" or "kmutex", so log lines are attributable to a component.
func ForComponent(component string) *zap.Logger {
	return Get().Named(component)
}

func parseLevel(s string) zapcore.LevelEnabler {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return zap.InfoLevel
	}
	return lvl
}

func newEncoder(format string) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if format == "console" {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(cfg)
	}
	return zapcore.NewJSONEncoder(cfg)
}
