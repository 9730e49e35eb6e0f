/*
Copyright 2024 Regents of the University of California

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package logutils configures the process-wide structured logger.
package logutils

import (
	"io"
	"log/slog"
	"os"

	"github.com/gravitational/trace"

	"github.com/ucdavis/cheeto"
)

// Config selects where and how much to log. The zero value logs at
// info level to stderr.
type Config struct {
	// Output is a file to append to; empty means stderr.
	Output string
	// Quiet raises the level to error.
	Quiet bool
	// Debug lowers the level to debug. Debug wins over Quiet.
	Debug bool
}

// Initialize builds the process logger, installs it as the slog
// default, and returns it.
func Initialize(cfg Config) (*slog.Logger, error) {
	var w io.Writer = os.Stderr
	if cfg.Output != "" {
		f, err := os.OpenFile(cfg.Output, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return nil, trace.ConvertSystemError(err)
		}
		w = f
	}

	level := slog.LevelInfo
	if cfg.Quiet {
		level = slog.LevelError
	}
	if cfg.Debug {
		level = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger, nil
}

// With returns the default logger scoped to a component.
func With(component string) *slog.Logger {
	return slog.With(cheeto.ComponentKey, component)
}

// Discard returns a logger that drops everything. Tests use it to keep
// output clean.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
