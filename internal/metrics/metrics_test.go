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

package metrics

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tombee/httpjob/pkg/httpjob"
	"github.com/tombee/httpjob/pkg/transportsecurity"
)

func TestRecordPolicyDenial(t *testing.T) {
	tests := []struct {
		stage  string
		reason string
	}{
		{stage: "request", reason: "blocked_host"},
		{stage: "request", reason: "rule"},
		{stage: "response", reason: "private_ip"},
	}

	for _, tt := range tests {
		t.Run(tt.stage+"/"+tt.reason, func(t *testing.T) {
			labels := prometheus.Labels{"stage": tt.stage, "reason": tt.reason}
			initialCount := testutil.ToFloat64(policyDenials.With(labels))

			RecordPolicyDenial(tt.stage, tt.reason)

			newCount := testutil.ToFloat64(policyDenials.With(labels))
			if newCount != initialCount+1 {
				t.Errorf("expected count to increment by 1, got initial=%f, new=%f", initialCount, newCount)
			}
		})
	}
}

func TestErrorType(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "none"},
		{context.Canceled, "context_canceled"},
		{fmt.Errorf("put: %w", context.DeadlineExceeded), "timeout"},
		{&fs.PathError{Op: "open", Path: "/x", Err: fs.ErrPermission}, "permission_denied"},
		{fs.ErrNotExist, "not_found"},
		{errors.New("disk on fire"), "unknown"},
	}
	for _, tt := range tests {
		if got := ErrorType(tt.err); got != tt.want {
			t.Errorf("ErrorType(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

type failingStore struct {
	err error
}

func (s failingStore) LoadHSTS(context.Context) ([]transportsecurity.HSTSEntry, error) {
	return nil, s.err
}
func (s failingStore) PutHSTS(context.Context, transportsecurity.HSTSEntry) error { return s.err }
func (s failingStore) DeleteHSTS(context.Context, string) error                   { return s.err }
func (s failingStore) LoadExpectCT(context.Context) ([]transportsecurity.ExpectCTEntry, error) {
	return nil, s.err
}
func (s failingStore) PutExpectCT(context.Context, transportsecurity.ExpectCTEntry) error { return s.err }
func (s failingStore) DeleteExpectCT(context.Context, string, string) error               { return s.err }

func TestStore_CountsErrors(t *testing.T) {
	store := NewStore(failingStore{err: context.DeadlineExceeded})
	errLabels := prometheus.Labels{"operation": "put_hsts", "error_type": "timeout"}
	opLabels := prometheus.Labels{"operation": "put_hsts"}
	initialErrors := testutil.ToFloat64(storeErrors.With(errLabels))
	initialOps := testutil.ToFloat64(storeOperations.With(opLabels))

	err := store.PutHSTS(context.Background(), transportsecurity.HSTSEntry{Host: "example.com"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("PutHSTS error = %v, want the store error", err)
	}

	if got := testutil.ToFloat64(storeErrors.With(errLabels)); got != initialErrors+1 {
		t.Errorf("errors = %f, want %f", got, initialErrors+1)
	}
	if got := testutil.ToFloat64(storeOperations.With(opLabels)); got != initialOps+1 {
		t.Errorf("operations = %f, want %f", got, initialOps+1)
	}
}

func TestStore_SuccessDoesNotCountError(t *testing.T) {
	store := NewStore(failingStore{})
	labels := prometheus.Labels{"operation": "delete_expect_ct", "error_type": "none"}
	before := testutil.ToFloat64(storeErrors.With(labels))

	if err := store.DeleteExpectCT(context.Background(), "example.com", ""); err != nil {
		t.Fatalf("DeleteExpectCT: %v", err)
	}
	if got := testutil.ToFloat64(storeErrors.With(labels)); got != before {
		t.Errorf("successful operation recorded an error")
	}
}

type fakeEntry struct {
	reject  bool
	updates []int
}

func (e *fakeEntry) ShouldRejectRequest(bool) bool { return e.reject }
func (e *fakeEntry) UpdateWithResponse(status int) { e.updates = append(e.updates, status) }

type fakeManager struct {
	entry *fakeEntry
}

func (m fakeManager) RegisterRequestURL(*url.URL) httpjob.ThrottlerEntry { return m.entry }

func TestThrottler(t *testing.T) {
	inner := &fakeEntry{reject: true}
	throttler := NewThrottler(fakeManager{entry: inner})
	entry := throttler.RegisterRequestURL(&url.URL{Scheme: "https", Host: "example.com"})

	rejections := testutil.ToFloat64(throttleRejections)
	failures := testutil.ToFloat64(throttleFailures)

	if !entry.ShouldRejectRequest(false) {
		t.Fatal("expected the inner decision to pass through")
	}
	entry.UpdateWithResponse(503)
	entry.UpdateWithResponse(200)

	if got := testutil.ToFloat64(throttleRejections); got != rejections+1 {
		t.Errorf("rejections = %f, want %f", got, rejections+1)
	}
	if got := testutil.ToFloat64(throttleFailures); got != failures+1 {
		t.Errorf("failures = %f, want %f", got, failures+1)
	}
	if len(inner.updates) != 2 {
		t.Errorf("inner entry saw %d updates, want 2", len(inner.updates))
	}
}
