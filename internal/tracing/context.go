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

// Package tracing provides correlation IDs, W3C trace propagation and the
// OpenTelemetry plumbing for HTTP jobs.
//
// A Provider owns the tracer and meter providers. Its Observer turns the
// lifecycle events of each job into one span plus request metrics:
//
//	p, err := tracing.NewProvider(ctx, cfg)
//	obs := p.Observer()
//	factory, _ := transaction.NewFactory(tcfg, transaction.WithTraceContext(obs.ContextFor))
//
// Spans started for a job become the parent of the outgoing request, so
// the traceparent header sent to the server links back to it.
package tracing

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// HeaderCorrelationID carries the job's request id to the server.
const HeaderCorrelationID = "X-Correlation-ID"

// CorrelationID ties a job's log lines, span and outgoing request headers
// together. Jobs use their request id.
type CorrelationID string

// NewCorrelationID returns a random UUID.
func NewCorrelationID() CorrelationID {
	return CorrelationID(uuid.NewString())
}

func (c CorrelationID) String() string {
	return string(c)
}

// Valid reports whether c is a UUID. Ids supplied by callers are passed
// through even when they are not.
func (c CorrelationID) Valid() bool {
	_, err := uuid.Parse(string(c))
	return err == nil
}

type correlationKey struct{}

// ToContext returns a copy of ctx carrying id.
func ToContext(ctx context.Context, id CorrelationID) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// FromContext returns the id stored by ToContext.
func FromContext(ctx context.Context) (CorrelationID, bool) {
	id, ok := ctx.Value(correlationKey{}).(CorrelationID)
	return id, ok && id != ""
}

func newPropagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
}

// InjectHeaders writes the correlation id and the W3C trace context of ctx
// into h. A correlation header already set by the caller is kept.
func InjectHeaders(ctx context.Context, h http.Header) {
	if id, ok := FromContext(ctx); ok && h.Get(HeaderCorrelationID) == "" {
		h.Set(HeaderCorrelationID, id.String())
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(h))
}
