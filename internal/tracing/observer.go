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
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/tombee/httpjob/pkg/cookies"
	"github.com/tombee/httpjob/pkg/errors"
	"github.com/tombee/httpjob/pkg/httpjob"
)

// Observer records one client span per job and feeds the metrics
// collector. It implements httpjob.Observer.
type Observer struct {
	tracer  trace.Tracer
	metrics *MetricsCollector

	mu   sync.Mutex
	jobs map[*httpjob.Request]*jobSpan
	byID map[string]*jobSpan
}

type jobSpan struct {
	ctx  context.Context
	span trace.Span
}

// NewObserver creates an Observer. Either argument may be nil.
func NewObserver(tracer trace.Tracer, metrics *MetricsCollector) *Observer {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	return &Observer{
		tracer:  tracer,
		metrics: metrics,
		jobs:    make(map[*httpjob.Request]*jobSpan),
		byID:    make(map[string]*jobSpan),
	}
}

// ContextFor returns ctx carrying the span and correlation id of the
// running job with the given request ID. It matches the signature of
// transaction.WithTraceContext.
func (o *Observer) ContextFor(ctx context.Context, requestID string) context.Context {
	o.mu.Lock()
	js := o.byID[requestID]
	o.mu.Unlock()
	if js == nil {
		return ctx
	}
	return trace.ContextWithSpan(ToContext(ctx, CorrelationID(requestID)), js.span)
}

func (o *Observer) JobStarted(req *httpjob.Request) {
	o.start(req)
	if o.metrics != nil {
		o.metrics.RecordJobStart()
	}
}

func (o *Observer) start(req *httpjob.Request) *jobSpan {
	attrs := []attribute.KeyValue{
		semconv.HTTPRequestMethodKey.String(req.Method),
		attribute.Int("httpjob.priority", int(req.Priority)),
	}
	if req.URL != nil {
		attrs = append(attrs,
			semconv.URLFull(httpjob.SanitizeURL(req.URL)),
			semconv.ServerAddress(req.URL.Hostname()),
		)
	}
	if req.ID != "" {
		attrs = append(attrs, attribute.String("httpjob.request_id", req.ID))
	}

	ctx := context.Background()
	if req.ID != "" {
		ctx = ToContext(ctx, CorrelationID(req.ID))
	}
	ctx, span := o.tracer.Start(ctx, "HTTP "+req.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	js := &jobSpan{ctx: ctx, span: span}

	o.mu.Lock()
	o.jobs[req] = js
	if req.ID != "" {
		o.byID[req.ID] = js
	}
	o.mu.Unlock()
	return js
}

func (o *Observer) lookup(req *httpjob.Request) *jobSpan {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.jobs[req]
}

func (o *Observer) TransactionStarted(req *httpjob.Request, attempt int) {
	if js := o.lookup(req); js != nil {
		js.span.AddEvent("transaction.start", trace.WithAttributes(attribute.Int("attempt", attempt)))
	}
}

func (o *Observer) HeadersReceived(req *httpjob.Request, statusCode int, ttfb time.Duration) {
	ctx := context.Background()
	if js := o.lookup(req); js != nil {
		ctx = js.ctx
		js.span.SetAttributes(semconv.HTTPResponseStatusCode(statusCode))
		js.span.AddEvent("headers.received", trace.WithAttributes(
			attribute.Int("status", statusCode),
			attribute.Int64("ttfb_ms", ttfb.Milliseconds()),
		))
	}
	if o.metrics != nil {
		o.metrics.RecordHeaders(ctx, statusCode, ttfb)
	}
}

func (o *Observer) Restarted(req *httpjob.Request, reason httpjob.RestartReason) {
	ctx := context.Background()
	if js := o.lookup(req); js != nil {
		ctx = js.ctx
		js.span.AddEvent("transaction.restart", trace.WithAttributes(attribute.String("reason", string(reason))))
	}
	if o.metrics != nil {
		o.metrics.RecordRestart(ctx, string(reason))
	}
}

func (o *Observer) CookieInclusion(req *httpjob.Request, op httpjob.CookieOperation, name, domain string, status cookies.InclusionStatus) {
	ctx := context.Background()
	if js := o.lookup(req); js != nil {
		ctx = js.ctx
		js.span.AddEvent("cookie", trace.WithAttributes(
			attribute.String("operation", string(op)),
			attribute.String("name", name),
			attribute.String("domain", domain),
			attribute.String("status", status.String()),
		))
	}
	if o.metrics != nil {
		o.metrics.RecordCookie(ctx, string(op), status.IsInclude())
	}
}

func (o *Observer) SecurityHeader(req *httpjob.Request, header string, accepted bool) {
	ctx := context.Background()
	if js := o.lookup(req); js != nil {
		ctx = js.ctx
		js.span.AddEvent("security_header", trace.WithAttributes(
			attribute.String("header", header),
			attribute.Bool("accepted", accepted),
		))
	}
	if o.metrics != nil {
		o.metrics.RecordSecurityHeader(ctx, header, accepted)
	}
}

// JobDone ends the job span. Failed jobs also get a short child span
// marked with AttrError so error-aware sampling keeps them.
func (o *Observer) JobDone(req *httpjob.Request, stats httpjob.Stats) {
	o.mu.Lock()
	js := o.jobs[req]
	delete(o.jobs, req)
	if req.ID != "" && o.byID[req.ID] == js {
		delete(o.byID, req.ID)
	}
	o.mu.Unlock()
	if js == nil {
		js = o.start(req)
		o.mu.Lock()
		delete(o.jobs, req)
		delete(o.byID, req.ID)
		o.mu.Unlock()
	}

	span := js.span
	span.SetAttributes(
		attribute.Int64("httpjob.sent_bytes", stats.SentBytes),
		attribute.Int64("httpjob.received_bytes", stats.ReceivedBytes),
		attribute.Int64("httpjob.prefilter_bytes", stats.PrefilterBytes),
		attribute.Int64("httpjob.postfilter_bytes", stats.PostfilterBytes),
		attribute.Int("httpjob.restarts", stats.Restarts),
	)
	if stats.StatusCode > 0 {
		span.SetAttributes(semconv.HTTPResponseStatusCode(stats.StatusCode))
	}

	switch {
	case stats.Cause == nil:
		span.SetStatus(codes.Ok, "")
	case errors.Is(stats.Cause, errors.ErrAborted):
		span.SetAttributes(attribute.Bool("httpjob.aborted", true))
	default:
		span.RecordError(stats.Cause)
		span.SetStatus(codes.Error, stats.Cause.Error())
		_, failure := o.tracer.Start(js.ctx, "httpjob.failure", trace.WithAttributes(
			attribute.Bool(AttrError, true),
			attribute.String("httpjob.error_class", errors.Classify(stats.Cause)),
		))
		failure.SetStatus(codes.Error, stats.Cause.Error())
		failure.End()
	}
	span.End()

	if o.metrics != nil {
		scheme := ""
		if req.URL != nil {
			scheme = req.URL.Scheme
		}
		o.metrics.RecordJobDone(js.ctx, req.Method, scheme, stats.StatusCode, stats.Cause,
			stats.TotalTime, stats.SentBytes, stats.ReceivedBytes)
	}
}

var _ httpjob.Observer = (*Observer)(nil)
