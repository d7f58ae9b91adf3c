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

package tracing

import (
	"fmt"
	"time"

	"github.com/tombee/httpjob/pkg/errors"
)

// Exporter names accepted in Config.Exporter.
const (
	ExporterNone     = "none"
	ExporterStdout   = "stdout"
	ExporterOTLPGRPC = "otlp-grpc"
	ExporterOTLPHTTP = "otlp-http"
)

// Config holds observability configuration.
type Config struct {
	// Enabled controls whether spans are recorded. Metrics are always
	// collected.
	Enabled bool `yaml:"enabled"`

	// ServiceName identifies this service in traces.
	ServiceName string `yaml:"service_name"`

	// ServiceVersion is the application version.
	ServiceVersion string `yaml:"service_version"`

	// Exporter is where finished spans go: "none", "stdout",
	// "otlp-grpc" or "otlp-http".
	Exporter string `yaml:"exporter"`

	// PrettyPrint indents spans written by the stdout exporter.
	PrettyPrint bool `yaml:"pretty_print"`

	// OTLP configures the OTLP exporters.
	OTLP OTLPConfig `yaml:"otlp"`

	// Sampling configures trace sampling.
	Sampling SamplingConfig `yaml:"sampling"`

	// BatchSize is the maximum number of spans per export batch (default: 512).
	BatchSize int `yaml:"batch_size"`

	// BatchInterval is how often to flush spans (default: 5s).
	BatchInterval time.Duration `yaml:"batch_interval"`
}

// OTLPConfig configures span export to an OpenTelemetry collector.
type OTLPConfig struct {
	// Endpoint is the collector address as host:port, e.g. "localhost:4317".
	Endpoint string `yaml:"endpoint"`

	// URLPath overrides the traces path of the HTTP exporter
	// (default: /v1/traces).
	URLPath string `yaml:"url_path"`

	// Insecure disables TLS (for development only).
	Insecure bool `yaml:"insecure"`

	// Headers are sent with every export, e.g. API keys.
	Headers map[string]string `yaml:"headers"`
}

// SamplingConfig controls which traces are recorded.
type SamplingConfig struct {
	// Enabled activates sampling (default: false - sample all).
	Enabled bool `yaml:"enabled"`

	// Rate is the fraction of traces to sample (0.0 - 1.0).
	Rate float64 `yaml:"rate"`

	// AlwaysSampleErrors samples all traces with errors.
	AlwaysSampleErrors bool `yaml:"always_sample_errors"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    "httpjob",
		ServiceVersion: "unknown",
		Exporter:       ExporterNone,
		Sampling: SamplingConfig{
			Enabled:            false,
			Rate:               1.0,
			AlwaysSampleErrors: true,
		},
		BatchSize:     512,
		BatchInterval: 5 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch c.Exporter {
	case "", ExporterNone, ExporterStdout:
	case ExporterOTLPGRPC, ExporterOTLPHTTP:
		if c.OTLP.Endpoint == "" {
			return &errors.ValidationError{
				Field:   "tracing.otlp.endpoint",
				Message: fmt.Sprintf("the %s exporter needs an endpoint", c.Exporter),
			}
		}
	default:
		return &errors.ValidationError{
			Field:      "tracing.exporter",
			Message:    fmt.Sprintf("unknown exporter %q", c.Exporter),
			Suggestion: "use \"none\", \"stdout\", \"otlp-grpc\" or \"otlp-http\"",
		}
	}
	if c.Sampling.Rate < 0 || c.Sampling.Rate > 1 {
		return &errors.ValidationError{
			Field:   "tracing.sampling.rate",
			Message: fmt.Sprintf("rate must be between 0 and 1, got %g", c.Sampling.Rate),
		}
	}
	if c.BatchSize < 0 {
		return &errors.ValidationError{Field: "tracing.batch_size", Message: "must not be negative"}
	}
	if c.BatchInterval < 0 {
		return &errors.ValidationError{Field: "tracing.batch_interval", Message: "must not be negative"}
	}
	return nil
}
