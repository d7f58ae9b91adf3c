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
	"net/url"

	"github.com/tombee/httpjob/pkg/httpjob"
	"github.com/tombee/httpjob/pkg/throttle"
	"github.com/tombee/httpjob/pkg/transportsecurity"
)

// Store wraps a transportsecurity.Store and counts operations and errors.
type Store struct {
	inner transportsecurity.Store
}

// NewStore instruments inner.
func NewStore(inner transportsecurity.Store) *Store {
	return &Store{inner: inner}
}

func (s *Store) observe(op string, err error) error {
	storeOperations.WithLabelValues(op).Inc()
	if err != nil {
		RecordStoreError(op, err)
	}
	return err
}

func (s *Store) LoadHSTS(ctx context.Context) ([]transportsecurity.HSTSEntry, error) {
	entries, err := s.inner.LoadHSTS(ctx)
	return entries, s.observe("load_hsts", err)
}

func (s *Store) PutHSTS(ctx context.Context, e transportsecurity.HSTSEntry) error {
	return s.observe("put_hsts", s.inner.PutHSTS(ctx, e))
}

func (s *Store) DeleteHSTS(ctx context.Context, host string) error {
	return s.observe("delete_hsts", s.inner.DeleteHSTS(ctx, host))
}

func (s *Store) LoadExpectCT(ctx context.Context) ([]transportsecurity.ExpectCTEntry, error) {
	entries, err := s.inner.LoadExpectCT(ctx)
	return entries, s.observe("load_expect_ct", err)
}

func (s *Store) PutExpectCT(ctx context.Context, e transportsecurity.ExpectCTEntry) error {
	return s.observe("put_expect_ct", s.inner.PutExpectCT(ctx, e))
}

func (s *Store) DeleteExpectCT(ctx context.Context, host, partitionKey string) error {
	return s.observe("delete_expect_ct", s.inner.DeleteExpectCT(ctx, host, partitionKey))
}

// Throttler wraps a throttler manager and counts rejections and failures.
type Throttler struct {
	inner httpjob.ThrottlerManager
}

// NewThrottler instruments inner.
func NewThrottler(inner httpjob.ThrottlerManager) *Throttler {
	return &Throttler{inner: inner}
}

func (t *Throttler) RegisterRequestURL(u *url.URL) httpjob.ThrottlerEntry {
	return &throttlerEntry{inner: t.inner.RegisterRequestURL(u)}
}

type throttlerEntry struct {
	inner httpjob.ThrottlerEntry
}

func (e *throttlerEntry) ShouldRejectRequest(maybeUserGesture bool) bool {
	if e.inner.ShouldRejectRequest(maybeUserGesture) {
		RecordThrottleRejection()
		return true
	}
	return false
}

func (e *throttlerEntry) UpdateWithResponse(statusCode int) {
	if throttle.IsBackoffStatus(statusCode) {
		RecordThrottleFailure()
	}
	e.inner.UpdateWithResponse(statusCode)
}

var (
	_ transportsecurity.Store  = (*Store)(nil)
	_ httpjob.ThrottlerManager = (*Throttler)(nil)
)
