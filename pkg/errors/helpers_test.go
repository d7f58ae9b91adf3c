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

package errors_test

import (
	"errors"
	"strings"
	"testing"

	joberrors "github.com/tombee/httpjob/pkg/errors"
)

func TestWrap(t *testing.T) {
	t.Run("wraps error with context", func(t *testing.T) {
		original := errors.New("original error")
		wrapped := joberrors.Wrap(original, "additional context")

		if wrapped == nil {
			t.Fatal("Wrap should not return nil for non-nil error")
		}
		msg := wrapped.Error()
		if !strings.Contains(msg, "additional context") || !strings.Contains(msg, "original error") {
			t.Errorf("unexpected wrapped message: %s", msg)
		}
		if !errors.Is(wrapped, original) {
			t.Error("wrapped error should match original with errors.Is")
		}
	})

	t.Run("returns nil for nil error", func(t *testing.T) {
		if wrapped := joberrors.Wrap(nil, "context"); wrapped != nil {
			t.Errorf("Wrap(nil, _) should return nil, got: %v", wrapped)
		}
	})
}

func TestWrapf(t *testing.T) {
	wrapped := joberrors.Wrapf(joberrors.ErrUnsafeRedirect, "redirect to %s", "ftp://example.com/")
	if !errors.Is(wrapped, joberrors.ErrUnsafeRedirect) {
		t.Error("Wrapf should preserve the chain")
	}
	if !strings.HasPrefix(wrapped.Error(), "redirect to ftp://example.com/") {
		t.Errorf("unexpected message: %s", wrapped)
	}
	if joberrors.Wrapf(nil, "x %d", 1) != nil {
		t.Error("Wrapf(nil) should return nil")
	}
}

func TestIsLengthMismatch(t *testing.T) {
	if !joberrors.IsLengthMismatch(joberrors.Wrap(joberrors.ErrContentLengthMismatch, "read")) {
		t.Error("content length mismatch should qualify")
	}
	if !joberrors.IsLengthMismatch(joberrors.ErrIncompleteChunkedEncoding) {
		t.Error("incomplete chunked encoding should qualify")
	}
	if joberrors.IsLengthMismatch(joberrors.ErrAborted) {
		t.Error("aborted should not qualify")
	}
}

func TestIsPending(t *testing.T) {
	if !joberrors.IsPending(joberrors.ErrIOPending) {
		t.Error("ErrIOPending should be pending")
	}
	if joberrors.IsPending(joberrors.Wrap(joberrors.ErrIOPending, "x")) {
		t.Error("a wrapped pending marker is a real error")
	}
}

func TestUserMessage_Fallback(t *testing.T) {
	msg, suggestion := joberrors.UserMessage(errors.New("dial tcp: refused"))
	if msg != "dial tcp: refused" || suggestion != "" {
		t.Errorf("got %q / %q", msg, suggestion)
	}
}
