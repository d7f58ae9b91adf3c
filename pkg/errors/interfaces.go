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

// UserVisibleError defines errors that carry a message and suggestion fit
// for the CLI, as opposed to raw transport diagnostics.
type UserVisibleError interface {
	error

	// IsUserVisible returns true if this error should be shown to users.
	IsUserVisible() bool

	// UserMessage returns a user-friendly error message.
	UserMessage() string

	// Suggestion returns actionable guidance for resolving the error.
	// Returns empty string if no suggestion is available.
	Suggestion() string
}

// ErrorClassifier defines methods for programmatic error handling.
type ErrorClassifier interface {
	error

	// ErrorType returns a string identifying the error category.
	// Examples: "certificate", "policy", "throttled", "transport"
	ErrorType() string

	// IsRetryable returns true if a consumer may reasonably issue the
	// request again. Jobs never retry on their own.
	IsRetryable() bool
}

// ErrorType implements ErrorClassifier.
func (e *PolicyError) ErrorType() string { return "policy" }

// IsRetryable implements ErrorClassifier.
func (e *PolicyError) IsRetryable() bool { return false }

// ErrorType implements ErrorClassifier.
func (e *TimeoutError) ErrorType() string { return "timeout" }

// IsRetryable implements ErrorClassifier.
func (e *TimeoutError) IsRetryable() bool { return true }

// Classify returns the category of err: the ErrorType of a classifier in
// its chain, a name for the well-known sentinels, or "transport".
func Classify(err error) string {
	if err == nil {
		return ""
	}
	var c ErrorClassifier
	if As(err, &c) {
		return c.ErrorType()
	}
	switch {
	case Is(err, ErrAborted):
		return "aborted"
	case Is(err, ErrTemporarilyThrottled):
		return "throttled"
	case Is(err, ErrDisallowedURLScheme), Is(err, ErrUnsafeRedirect), Is(err, ErrInvalidRedirect):
		return "disallowed"
	case Is(err, ErrContentLengthMismatch), Is(err, ErrIncompleteChunkedEncoding),
		Is(err, ErrContentDecodingInitFailed):
		return "content"
	case Is(err, ErrSSLClientAuthCertNeeded):
		return "client_certificate"
	}
	return "transport"
}
