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
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestCorrelationID(t *testing.T) {
	id := NewCorrelationID()
	assert.True(t, id.Valid())
	assert.False(t, CorrelationID("req-7").Valid())

	got, ok := FromContext(ToContext(context.Background(), id))
	assert.True(t, ok)
	assert.Equal(t, id, got)

	_, ok = FromContext(context.Background())
	assert.False(t, ok)
	_, ok = FromContext(ToContext(context.Background(), ""))
	assert.False(t, ok, "empty ids are not carried")
}

func TestInjectHeaders(t *testing.T) {
	h := http.Header{}
	InjectHeaders(context.Background(), h)
	assert.Empty(t, h.Get(HeaderCorrelationID))

	ctx := ToContext(context.Background(), "req-7")
	InjectHeaders(ctx, h)
	assert.Equal(t, "req-7", h.Get(HeaderCorrelationID))

	h.Set(HeaderCorrelationID, "caller")
	InjectHeaders(ctx, h)
	assert.Equal(t, "caller", h.Get(HeaderCorrelationID), "caller-set header wins")
}

func TestNewSampler(t *testing.T) {
	always := sdktrace.AlwaysSample().Description()
	assert.Equal(t, always, NewSampler(SamplingConfig{}).Description())
	assert.Equal(t, always, NewSampler(SamplingConfig{Enabled: true, Rate: 1}).Description())

	plain := sdktrace.SamplingParameters{ParentContext: context.Background()}
	failed := sdktrace.SamplingParameters{
		ParentContext: context.Background(),
		Attributes:    []attribute.KeyValue{attribute.Bool(AttrError, true)},
	}

	never := NewSampler(SamplingConfig{Enabled: true, Rate: 0})
	assert.Equal(t, sdktrace.Drop, never.ShouldSample(plain).Decision)
	assert.Equal(t, sdktrace.Drop, never.ShouldSample(failed).Decision)

	aware := NewSampler(SamplingConfig{Enabled: true, Rate: 0, AlwaysSampleErrors: true})
	assert.Equal(t, sdktrace.RecordAndSample, aware.ShouldSample(failed).Decision)
	assert.Equal(t, sdktrace.Drop, aware.ShouldSample(plain).Decision)
	assert.Contains(t, aware.Description(), "TraceIDRatioBased")
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Sampling.Rate = 1.5
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.BatchInterval = -1
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Exporter = ExporterStdout
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate_OTLP(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Exporter = ExporterOTLPGRPC
	assert.Error(t, cfg.Validate(), "an OTLP exporter needs an endpoint")

	cfg.OTLP.Endpoint = "localhost:4317"
	assert.NoError(t, cfg.Validate())

	cfg.Exporter = "jaeger"
	assert.Error(t, cfg.Validate())
}

func TestNewSpanExporter(t *testing.T) {
	tests := []struct {
		exporter string
		wantNil  bool
	}{
		{ExporterNone, true},
		{ExporterStdout, false},
		{ExporterOTLPGRPC, false},
		{ExporterOTLPHTTP, false},
	}
	for _, tt := range tests {
		t.Run(tt.exporter, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Exporter = tt.exporter
			cfg.OTLP = OTLPConfig{
				Endpoint: "127.0.0.1:4317",
				Insecure: true,
				Headers:  map[string]string{"x-api-key": "k"},
			}

			exp, err := newSpanExporter(context.Background(), cfg)
			assert.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, exp)
				return
			}
			if assert.NotNil(t, exp) {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				assert.NoError(t, exp.Shutdown(ctx))
			}
		})
	}
}
