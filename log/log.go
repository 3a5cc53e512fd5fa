// Copyright 2024-2026 The Velt Authors
// This file is part of the Velt embedded datastore.
//
// Velt is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Velt is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Velt. If not, see <http://www.gnu.org/licenses/>.

// Package log is the structured logger used throughout the engine. A
// single process-wide root logger is configured once via Init; every
// database instance then derives a child Logger via New carrying its own
// context (data dir, db identity) so log lines can be attributed without
// threading a logger through every call site by hand.
package log

import (
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

var root = logrus.New()

// Config controls where and how the root logger writes.
type Config struct {
	// Dir is the directory log files are rotated into. Ignored if File is
	// empty.
	Dir string
	// File is the log file name. When empty, output goes to stderr only.
	File string
	// Level is one of trace, debug, info, warn, error, fatal, panic.
	Level string
	// JSON selects the JSON formatter for file output; console output is
	// always text.
	JSON bool
	// MaxSizeMB is the size at which a log file is rotated.
	MaxSizeMB int
	// MaxBackups is the number of rotated files retained.
	MaxBackups int
	// MaxAgeDays is the number of days rotated files are retained.
	MaxAgeDays int
	// Compress gzips rotated files.
	Compress bool
	// Console additionally writes to stderr when File is set.
	Console bool
}

// DefaultConfig returns the engine's default logging configuration:
// console-only, info level.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		MaxSizeMB:  100,
		MaxBackups: 10,
		MaxAgeDays: 30,
		Compress:   true,
		Console:    true,
	}
}

// Init configures the root logger. It is safe to call once at process
// startup; subsequent calls replace the prior configuration.
func Init(cfg Config) error {
	lvl, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	root.SetLevel(lvl)

	if cfg.File == "" {
		root.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		root.SetOutput(os.Stderr)
		return nil
	}

	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return err
		}
	}

	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Dir, cfg.File),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}

	if cfg.JSON {
		root.SetFormatter(&logrus.JSONFormatter{})
	} else {
		root.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
	}

	if cfg.Console {
		root.SetOutput(logWriter{rotator: rotator})
	} else {
		root.SetOutput(rotator)
	}
	return nil
}

// logWriter tees writes to both the rotator and stderr without requiring
// an io.MultiWriter-specific import cycle elsewhere.
type logWriter struct {
	rotator *lumberjack.Logger
}

func (w logWriter) Write(p []byte) (int, error) {
	_, _ = os.Stderr.Write(p)
	return w.rotator.Write(p)
}

// Logger writes key/value pairs at a given level. It mirrors the shape of
// the engine's original host logging surface so reducer log host-calls and
// internal engine logging share one interface.
type Logger interface {
	New(ctx ...interface{}) Logger
	Trace(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	Crit(msg string, ctx ...interface{})
}

type entryLogger struct {
	fields logrus.Fields
}

// New returns a Logger carrying ctx as structured fields on every line,
// merged with any fields already present in the parent.
func New(ctx ...interface{}) Logger {
	return entryLogger{fields: fieldsFrom(nil, ctx)}
}

func fieldsFrom(base logrus.Fields, ctx []interface{}) logrus.Fields {
	f := make(logrus.Fields, len(base)+len(ctx)/2)
	for k, v := range base {
		f[k] = v
	}
	for i := 0; i+1 < len(ctx); i += 2 {
		key, ok := ctx[i].(string)
		if !ok {
			continue
		}
		f[key] = ctx[i+1]
	}
	return f
}

func (l entryLogger) New(ctx ...interface{}) Logger {
	return entryLogger{fields: fieldsFrom(l.fields, ctx)}
}

func (l entryLogger) entry() *logrus.Entry { return root.WithFields(l.fields) }

func (l entryLogger) Trace(msg string, ctx ...interface{}) {
	l.entry().WithFields(fieldsFrom(nil, ctx)).Trace(msg)
}
func (l entryLogger) Debug(msg string, ctx ...interface{}) {
	l.entry().WithFields(fieldsFrom(nil, ctx)).Debug(msg)
}
func (l entryLogger) Info(msg string, ctx ...interface{}) {
	l.entry().WithFields(fieldsFrom(nil, ctx)).Info(msg)
}
func (l entryLogger) Warn(msg string, ctx ...interface{}) {
	l.entry().WithFields(fieldsFrom(nil, ctx)).Warn(msg)
}
func (l entryLogger) Error(msg string, ctx ...interface{}) {
	l.entry().WithFields(fieldsFrom(nil, ctx)).Error(msg)
}
func (l entryLogger) Crit(msg string, ctx ...interface{}) {
	l.entry().WithFields(fieldsFrom(nil, ctx)).Error(msg)
	os.Exit(1)
}

// Package-level convenience functions bound to an empty-context root logger.

func Trace(msg string, ctx ...interface{}) { entryLogger{}.Trace(msg, ctx...) }
func Debug(msg string, ctx ...interface{}) { entryLogger{}.Debug(msg, ctx...) }
func Info(msg string, ctx ...interface{})  { entryLogger{}.Info(msg, ctx...) }
func Warn(msg string, ctx ...interface{})  { entryLogger{}.Warn(msg, ctx...) }
func Error(msg string, ctx ...interface{}) { entryLogger{}.Error(msg, ctx...) }
func Crit(msg string, ctx ...interface{})  { entryLogger{}.Crit(msg, ctx...) }
