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
	"strconv"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tombee/httpjob/pkg/errors"
)

// MetricsCollector records request metrics through an OpenTelemetry meter.
type MetricsCollector struct {
	meter metric.Meter

	// Counters
	jobsTotal            metric.Int64Counter
	restartsTotal        metric.Int64Counter
	cookiesTotal         metric.Int64Counter
	securityHeadersTotal metric.Int64Counter
	sentBytes            metric.Int64Counter
	receivedBytes        metric.Int64Counter

	// Histograms
	jobDuration     metric.Float64Histogram
	timeToFirstByte metric.Float64Histogram

	activeJobs atomic.Int64
}

// NewMetricsCollector creates a new metrics collector using the given meter provider.
func NewMetricsCollector(meterProvider metric.MeterProvider) (*MetricsCollector, error) {
	meter := meterProvider.Meter("httpjob")
	mc := &MetricsCollector{meter: meter}

	var err error

	mc.jobsTotal, err = meter.Int64Counter(
		"httpjob_jobs_total",
		metric.WithDescription("Total number of finished jobs"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, err
	}

	mc.restartsTotal, err = meter.Int64Counter(
		"httpjob_restarts_total",
		metric.WithDescription("Total number of transaction restarts"),
		metric.WithUnit("{restart}"),
	)
	if err != nil {
		return nil, err
	}

	mc.cookiesTotal, err = meter.Int64Counter(
		"httpjob_cookies_total",
		metric.WithDescription("Cookies considered for sending or storing"),
		metric.WithUnit("{cookie}"),
	)
	if err != nil {
		return nil, err
	}

	mc.securityHeadersTotal, err = meter.Int64Counter(
		"httpjob_security_headers_total",
		metric.WithDescription("Strict-Transport-Security and Expect-CT headers processed"),
		metric.WithUnit("{header}"),
	)
	if err != nil {
		return nil, err
	}

	mc.sentBytes, err = meter.Int64Counter(
		"httpjob_sent_bytes_total",
		metric.WithDescription("Bytes written to the network"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	mc.receivedBytes, err = meter.Int64Counter(
		"httpjob_received_bytes_total",
		metric.WithDescription("Bytes read from the network"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	mc.jobDuration, err = meter.Float64Histogram(
		"httpjob_job_duration_seconds",
		metric.WithDescription("Job duration from start to completion in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	mc.timeToFirstByte, err = meter.Float64Histogram(
		"httpjob_time_to_first_byte_seconds",
		metric.WithDescription("Time from transaction start to response headers in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"httpjob_active_jobs",
		metric.WithDescription("Number of jobs started and not yet done"),
		metric.WithUnit("{job}"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			observer.Observe(mc.activeJobs.Load())
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	return mc, nil
}

// RecordJobStart marks a job as active.
func (mc *MetricsCollector) RecordJobStart() {
	mc.activeJobs.Add(1)
}

// RecordJobDone records a finished job. The status attribute is "ok" for
// jobs without a cause, otherwise the error class.
func (mc *MetricsCollector) RecordJobDone(ctx context.Context, method, scheme string, statusCode int, cause error, duration time.Duration, sent, received int64) {
	if mc.activeJobs.Add(-1) < 0 {
		mc.activeJobs.Store(0)
	}

	status := "ok"
	if cause != nil {
		status = errors.Classify(cause)
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("scheme", scheme),
		attribute.String("status", status),
		attribute.String("code", statusClass(statusCode)),
	)
	mc.jobsTotal.Add(ctx, 1, attrs)
	mc.jobDuration.Record(ctx, duration.Seconds(), attrs)

	if sent > 0 {
		mc.sentBytes.Add(ctx, sent, metric.WithAttributes(attribute.String("scheme", scheme)))
	}
	if received > 0 {
		mc.receivedBytes.Add(ctx, received, metric.WithAttributes(attribute.String("scheme", scheme)))
	}
}

// RecordHeaders records the time to first byte of one attempt.
func (mc *MetricsCollector) RecordHeaders(ctx context.Context, statusCode int, ttfb time.Duration) {
	mc.timeToFirstByte.Record(ctx, ttfb.Seconds(),
		metric.WithAttributes(attribute.String("code", statusClass(statusCode))))
}

// RecordRestart records a transaction restart.
func (mc *MetricsCollector) RecordRestart(ctx context.Context, reason string) {
	mc.restartsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordCookie records one cookie decision.
func (mc *MetricsCollector) RecordCookie(ctx context.Context, op string, included bool) {
	mc.cookiesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.Bool("included", included),
	))
}

// RecordSecurityHeader records one processed security header.
func (mc *MetricsCollector) RecordSecurityHeader(ctx context.Context, header string, accepted bool) {
	mc.securityHeadersTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("header", header),
		attribute.Bool("accepted", accepted),
	))
}

// statusClass buckets a status code as "2xx", "4xx" and so on. Zero means
// no response was received.
func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "none"
	}
	return strconv.Itoa(code/100) + "xx"
}
