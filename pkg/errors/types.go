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

package errors

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel results for a request job. Callers match them with errors.Is.
var (
	// ErrIOPending marks a suspension point that will report its result
	// later through the callback it was given. It is never surfaced to a
	// job's consumer.
	ErrIOPending = errors.New("io pending")

	// ErrAborted is the completion cause of a job torn down before it finished.
	ErrAborted = errors.New("request aborted")

	// ErrTemporarilyThrottled is reported when the throttler rejects a
	// request before any network activity.
	ErrTemporarilyThrottled = errors.New("request temporarily throttled")

	// ErrDisallowedURLScheme is reported for websocket URLs that carry no
	// handshake helper.
	ErrDisallowedURLScheme = errors.New("disallowed url scheme")

	ErrContentLengthMismatch     = errors.New("content length mismatch")
	ErrIncompleteChunkedEncoding = errors.New("incomplete chunked encoding")

	// ErrSSLClientAuthCertNeeded is reported when the server asked for a
	// client certificate during the handshake.
	ErrSSLClientAuthCertNeeded = errors.New("ssl client auth certificate needed")

	ErrContentDecodingInitFailed = errors.New("content decoding init failed")
	ErrUnsafeRedirect            = errors.New("unsafe redirect")
	ErrInvalidRedirect           = errors.New("invalid redirect")
)

// ValidationError represents invalid input handed to a command or config.
type ValidationError struct {
	// Field identifies which input failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NotFoundError represents a lookup miss, such as absent stored credentials.
type NotFoundError struct {
	// Resource is the kind of thing looked up (e.g., "credentials", "hsts entry")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ConfigError represents configuration problems.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "throttle.burst")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// TimeoutError represents an operation that exceeded its deadline.
type TimeoutError struct {
	// Operation describes what timed out (e.g., "response headers")
	Operation string

	// Duration is how long the operation ran before timing out
	Duration time.Duration

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %v", e.Operation, e.Duration)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// PolicyError is reported when a network delegate hook rejects a request.
type PolicyError struct {
	// Stage names the hook that rejected the request
	// ("before_start_transaction", "headers_received").
	Stage string

	// Cause is the error returned by the hook
	Cause error
}

// Error implements the error interface.
func (e *PolicyError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("request blocked by policy at %s", e.Stage)
	}
	return fmt.Sprintf("request blocked by policy at %s: %v", e.Stage, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *PolicyError) Unwrap() error {
	return e.Cause
}
