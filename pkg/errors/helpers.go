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
)

// Wrap creates a new error that wraps the given error with additional context.
// If err is nil, returns nil.
//
// Usage:
//
//	if err := store.Load(ctx); err != nil {
//	    return errors.Wrap(err, "loading hsts store")
//	}
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf creates a new error that wraps the given error with formatted context.
// If err is nil, returns nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	message := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", message, err)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target type.
//
// Usage:
//
//	var certErr *CertError
//	if errors.As(err, &certErr) {
//	    log.Printf("certificate rejected for %s", certErr.Host)
//	}
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Unwrap returns the result of calling the Unwrap method on err, if any.
func Unwrap(err error) error {
	return errors.Unwrap(err)
}

// New creates a new error with the given message.
func New(message string) error {
	return errors.New(message)
}

// IsPending reports whether err is the suspension marker.
func IsPending(err error) bool {
	return err == ErrIOPending
}

// IsLengthMismatch reports whether err is one of the truncated-body errors
// eligible for the declared-length allowance.
func IsLengthMismatch(err error) bool {
	return Is(err, ErrContentLengthMismatch) || Is(err, ErrIncompleteChunkedEncoding)
}

// UserMessage returns the user-facing message for err, falling back to
// err.Error() for errors that are not UserVisibleError.
func UserMessage(err error) (message, suggestion string) {
	var uv UserVisibleError
	if As(err, &uv) && uv.IsUserVisible() {
		return uv.UserMessage(), uv.Suggestion()
	}
	return err.Error(), ""
}
