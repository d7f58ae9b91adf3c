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

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// AttrError marks the failure span of a job. It is set at span start so
// the sampler can see it.
const AttrError = "httpjob.error"

// NewSampler builds the sampler for job spans. With sampling disabled, or
// a rate of 1 or more, every span is recorded.
func NewSampler(cfg SamplingConfig) sdktrace.Sampler {
	if !cfg.Enabled || cfg.Rate >= 1 {
		return sdktrace.AlwaysSample()
	}
	ratio := sdktrace.TraceIDRatioBased(max(cfg.Rate, 0))
	if !cfg.AlwaysSampleErrors {
		return ratio
	}
	return &failureSampler{ratio: ratio}
}

// failureSampler records failure spans regardless of the ratio decision.
type failureSampler struct {
	ratio sdktrace.Sampler
}

func (s *failureSampler) ShouldSample(p sdktrace.SamplingParameters) sdktrace.SamplingResult {
	for _, kv := range p.Attributes {
		if kv.Key != AttrError || !kv.Value.AsBool() {
			continue
		}
		return sdktrace.SamplingResult{
			Decision:   sdktrace.RecordAndSample,
			Tracestate: trace.SpanContextFromContext(p.ParentContext).TraceState(),
		}
	}
	return s.ratio.ShouldSample(p)
}

func (s *failureSampler) Description() string {
	return fmt.Sprintf("FailureSampler{%s}", s.ratio.Description())
}
