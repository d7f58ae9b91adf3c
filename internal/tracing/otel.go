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
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Provider owns the OpenTelemetry tracer and meter providers for a process.
// Metrics are exported to a private Prometheus registry.
type Provider struct {
	tp               *sdktrace.TracerProvider
	mp               *metric.MeterProvider
	registry         *prometheus.Registry
	metricsCollector *MetricsCollector
	observer         *Observer
}

// NewProvider creates a Provider from cfg. Extra options are appended to
// the tracer provider options, which lets tests attach span recorders.
func NewProvider(cfg Config, opts ...sdktrace.TracerProviderOption) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// No schema URL, so merging with the default resource cannot conflict.
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	sampler := sdktrace.NeverSample()
	if cfg.Enabled {
		sampler = NewSampler(cfg.Sampling)
	}
	allOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	}
	if cfg.Enabled {
		exp, err := newSpanExporter(context.Background(), cfg)
		if err != nil {
			return nil, err
		}
		if exp != nil {
			var batchOpts []sdktrace.BatchSpanProcessorOption
			if cfg.BatchSize > 0 {
				batchOpts = append(batchOpts, sdktrace.WithMaxExportBatchSize(cfg.BatchSize))
			}
			if cfg.BatchInterval > 0 {
				batchOpts = append(batchOpts, sdktrace.WithBatchTimeout(cfg.BatchInterval))
			}
			allOpts = append(allOpts, sdktrace.WithBatcher(exp, batchOpts...))
		}
	}
	allOpts = append(allOpts, opts...)

	tp := sdktrace.NewTracerProvider(allOpts...)

	// Set as global so InjectHeaders emits traceparent.
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(newPropagator())

	// Runtime collectors live in the default registry; this one only
	// carries job metrics so the two can be gathered together.
	registry := prometheus.NewRegistry()
	promExporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	mp := metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(promExporter),
	)

	mc, err := NewMetricsCollector(mp)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics collector: %w", err)
	}

	p := &Provider{
		tp:               tp,
		mp:               mp,
		registry:         registry,
		metricsCollector: mc,
	}
	p.observer = NewObserver(tp.Tracer("github.com/tombee/httpjob"), mc)
	return p, nil
}

// Tracer returns a tracer for the given instrumentation scope.
func (p *Provider) Tracer(name string) trace.Tracer {
	return p.tp.Tracer(name)
}

// Observer returns the job observer that records spans and metrics.
func (p *Provider) Observer() *Observer {
	return p.observer
}

// MetricsCollector returns the metrics collector.
func (p *Provider) MetricsCollector() *MetricsCollector {
	return p.metricsCollector
}

// Registry returns the Prometheus registry the metrics are exported to.
func (p *Provider) Registry() *prometheus.Registry {
	return p.registry
}

// MetricsHandler returns an HTTP handler serving the registry in the
// Prometheus exposition format.
func (p *Provider) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes any pending spans and releases resources.
func (p *Provider) Shutdown(ctx context.Context) error {
	if err := p.tp.Shutdown(ctx); err != nil {
		return err
	}
	return p.mp.Shutdown(ctx)
}

// ForceFlush exports all pending spans synchronously.
func (p *Provider) ForceFlush(ctx context.Context) error {
	if err := p.tp.ForceFlush(ctx); err != nil {
		return err
	}
	return p.mp.ForceFlush(ctx)
}
