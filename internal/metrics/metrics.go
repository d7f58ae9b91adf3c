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

// Package metrics holds process-wide Prometheus counters for the request
// collaborators: policy denials, throttling and security state persistence.
// Per-job metrics are recorded by internal/tracing.
package metrics

import (
	"context"
	"errors"
	"io/fs"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// policyDenials tracks requests and responses refused by policy
	policyDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpjob_policy_denials_total",
			Help: "Total policy denials by stage and reason",
		},
		[]string{"stage", "reason"},
	)

	policyCookiesBlocked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpjob_policy_cookies_blocked_total",
			Help: "Total cookies blocked by policy by operation",
		},
		[]string{"operation"},
	)

	// throttleRejections tracks requests refused by the throttler
	throttleRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "httpjob_throttle_rejections_total",
			Help: "Total requests rejected by the throttler",
		},
	)

	throttleFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "httpjob_throttle_failures_total",
			Help: "Total responses counted as server failures by the throttler",
		},
	)

	// storeErrors tracks security state persistence failures
	storeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpjob_security_store_errors_total",
			Help: "Total security state store errors by operation and error type",
		},
		[]string{"operation", "error_type"},
	)

	storeOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpjob_security_store_operations_total",
			Help: "Total security state store operations",
		},
		[]string{"operation"},
	)
)

// RecordPolicyDenial increments the policy denial counter.
// stage is "request" or "response".
func RecordPolicyDenial(stage, reason string) {
	policyDenials.WithLabelValues(stage, reason).Inc()
}

// RecordCookieBlocked increments the blocked cookie counter.
// operation is "send" or "store".
func RecordCookieBlocked(operation string) {
	policyCookiesBlocked.WithLabelValues(operation).Inc()
}

// RecordThrottleRejection increments the throttler rejection counter.
func RecordThrottleRejection() {
	throttleRejections.Inc()
}

// RecordThrottleFailure increments the throttler failure counter.
func RecordThrottleFailure() {
	throttleFailures.Inc()
}

// RecordStoreError increments the store error counter. The error type is
// derived from err.
func RecordStoreError(operation string, err error) {
	storeErrors.WithLabelValues(operation, ErrorType(err)).Inc()
}

// ErrorType buckets err into a low-cardinality label value.
func ErrorType(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, context.Canceled):
		return "context_canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, fs.ErrPermission):
		return "permission_denied"
	case errors.Is(err, fs.ErrNotExist):
		return "not_found"
	}
	return "unknown"
}
