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

package shared

import (
	"errors"
	"fmt"
	"io"
	"os"

	pkgerrors "github.com/tombee/httpjob/pkg/errors"
)

// Exit codes. The HTTP and timeout codes match curl's so scripts can
// treat both tools alike.
const (
	ExitSuccess     = 0
	ExitFetchFailed = 1
	ExitUsage       = 2
	ExitConfig      = 3
	ExitHTTPError   = 22
	ExitTimeout     = 28
)

// ExitError is an error that carries an exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewFetchError creates an error for a request that produced no response.
// Timeouts get their own exit code.
func NewFetchError(msg string, cause error) *ExitError {
	code := ExitFetchFailed
	var te *pkgerrors.TimeoutError
	if errors.As(cause, &te) {
		code = ExitTimeout
	}
	return &ExitError{
		Code:    code,
		Message: msg,
		Cause:   cause,
	}
}

// NewUsageError creates an error for invalid arguments or flags
func NewUsageError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitUsage,
		Message: msg,
		Cause:   cause,
	}
}

// NewConfigError creates an error for configuration that cannot be loaded
func NewConfigError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitConfig,
		Message: msg,
		Cause:   cause,
	}
}

// NewHTTPError creates an error for a response status the caller asked to
// fail on.
func NewHTTPError(statusCode int) *ExitError {
	return &ExitError{
		Code:    ExitHTTPError,
		Message: fmt.Sprintf("server returned HTTP %d", statusCode),
	}
}

// HandleExitError checks if an error is an ExitError and exits with the appropriate code
func HandleExitError(err error) {
	if err == nil {
		return
	}
	os.Exit(reportError(os.Stderr, err))
}

// reportError prints err and its suggestion to w and returns the exit code.
func reportError(w io.Writer, err error) int {
	fmt.Fprintln(w, "Error:", err.Error())
	printUserVisibleSuggestion(w, err)

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	var ce *pkgerrors.ConfigError
	if errors.As(err, &ce) {
		return ExitConfig
	}
	return ExitFetchFailed
}

// printUserVisibleSuggestion checks if an error implements UserVisibleError
// and prints the suggestion if available.
func printUserVisibleSuggestion(w io.Writer, err error) {
	// Walk the error chain to find a UserVisibleError
	for err != nil {
		if userErr, ok := err.(pkgerrors.UserVisibleError); ok {
			if userErr.IsUserVisible() {
				suggestion := userErr.Suggestion()
				if suggestion != "" {
					fmt.Fprintf(w, "\nSuggestion: %s\n", suggestion)
				}
			}
			return
		}

		// Continue unwrapping
		err = errors.Unwrap(err)
	}
}
