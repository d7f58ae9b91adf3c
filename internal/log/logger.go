// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log builds the slog loggers used by jobs and commands.
//
// Loggers are configured from the "log" section of the config file and
// the HTTPJOB_* environment. Attributes that carry credentials (cookies,
// authorization headers, passwords) are redacted by the handler, so call
// sites can log header maps without filtering them first.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/tombee/httpjob/pkg/httpjob"
)

// Format is a log output format.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// LevelTrace sits below Debug. Per-read and per-cookie events use it.
const LevelTrace = slog.Level(-8)

// Field keys shared by every component.
const (
	RequestIDKey = "request_id"
	ComponentKey = "component"
	URLKey       = "url"
	MethodKey    = "method"
	StatusKey    = "status"
	EventKey     = "event"
)

// Redacted replaces the value of sensitive attributes.
const Redacted = "[REDACTED]"

// sensitiveKeys are attribute keys whose values never reach the output.
var sensitiveKeys = map[string]bool{
	"authorization":       true,
	"proxy-authorization": true,
	"cookie":              true,
	"set-cookie":          true,
	"password":            true,
	"cookie_value":        true,
}

// Config holds the logging configuration.
type Config struct {
	// Level is one of trace, debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is json or text.
	Format Format `yaml:"format"`

	// AddSource adds file:line to each record.
	AddSource bool `yaml:"add_source"`

	// Output defaults to os.Stderr.
	Output io.Writer `yaml:"-"`
}

// DefaultConfig returns info-level JSON logging to stderr.
func DefaultConfig() *Config {
	return &Config{Level: "info", Format: FormatJSON}
}

// ApplyEnv overrides c from the environment. HTTPJOB_DEBUG=1 forces debug
// level with source locations and wins over HTTPJOB_LOG_LEVEL.
// HTTPJOB_LOG_FORMAT and HTTPJOB_LOG_SOURCE are also honored.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("HTTPJOB_LOG_LEVEL"); v != "" {
		c.Level = strings.ToLower(v)
	}
	if v := os.Getenv("HTTPJOB_LOG_FORMAT"); v != "" {
		c.Format = Format(strings.ToLower(v))
	}
	if isTrue(os.Getenv("HTTPJOB_LOG_SOURCE")) {
		c.AddSource = true
	}
	if isTrue(os.Getenv("HTTPJOB_DEBUG")) {
		c.Level = "debug"
		c.AddSource = true
	}
}

func isTrue(v string) bool {
	return v == "1" || strings.EqualFold(v, "true")
}

// ParseLevel converts a level name to a slog.Level. "warning" is accepted
// as an alias for warn.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// New builds a logger from cfg. A nil cfg uses DefaultConfig, and an
// unknown level falls back to info.
func New(cfg *Config) *slog.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	level, _ := ParseLevel(cfg.Level)

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   cfg.AddSource,
		ReplaceAttr: replaceAttr,
	}
	if cfg.Format == FormatText {
		return slog.New(slog.NewTextHandler(out, opts))
	}
	return slog.New(slog.NewJSONHandler(out, opts))
}

func replaceAttr(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.LevelKey {
		if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
			return slog.String(slog.LevelKey, "TRACE")
		}
	}
	if sensitiveKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, Redacted)
	}
	return a
}

// WithComponent tags logger with the emitting package.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String(ComponentKey, component))
}

// WithRequest tags logger with a request's id, method and redacted URL.
func WithRequest(logger *slog.Logger, requestID, method string, u *url.URL) *slog.Logger {
	return logger.With(
		slog.String(RequestIDKey, requestID),
		slog.String(MethodKey, method),
		slog.String(URLKey, httpjob.SanitizeURL(u)),
	)
}

// Duration records d in milliseconds under key+"_ms".
func Duration(key string, d time.Duration) slog.Attr {
	return slog.Int64(key+"_ms", d.Milliseconds())
}

// Error records err under "error".
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

// Trace logs at LevelTrace.
func Trace(logger *slog.Logger, msg string, attrs ...slog.Attr) {
	ctx := context.Background()
	if logger.Enabled(ctx, LevelTrace) {
		logger.LogAttrs(ctx, LevelTrace, msg, attrs...)
	}
}
