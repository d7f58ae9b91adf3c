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


package transportsecurity

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func newState(t *testing.T, opts ...Option) *State {
	t.Helper()
	st, err := New(context.Background(), opts...)
	require.NoError(t, err)
	return st
}

func TestState_HSTS(t *testing.T) {
	clock := newClock()
	st := newState(t, WithClock(clock.Now))

	assert.False(t, st.ShouldUpgradeToSSL("example.com"))

	require.True(t, st.AddHSTSHeader("Example.COM.", "max-age=3600"))
	assert.True(t, st.ShouldUpgradeToSSL("example.com"))
	assert.True(t, st.ShouldSSLErrorsBeFatal("EXAMPLE.com"))
	assert.False(t, st.ShouldUpgradeToSSL("www.example.com"), "subdomains need includeSubDomains")

	require.True(t, st.AddHSTSHeader("example.com", "max-age=3600; includeSubDomains"))
	assert.True(t, st.ShouldUpgradeToSSL("a.b.example.com"))
	assert.False(t, st.ShouldUpgradeToSSL("notexample.com"))

	clock.Advance(2 * time.Hour)
	assert.False(t, st.ShouldUpgradeToSSL("example.com"), "entry expired")
	assert.Empty(t, st.HSTSEntries())
}

func TestState_HSTSRejected(t *testing.T) {
	st := newState(t)

	assert.False(t, st.AddHSTSHeader("example.com", "includeSubDomains"))
	assert.False(t, st.AddHSTSHeader("192.0.2.1", "max-age=60"))
	assert.False(t, st.ShouldUpgradeToSSL("example.com"))
	assert.False(t, st.ShouldUpgradeToSSL("192.0.2.1"))
}

func TestState_HSTSMaxAgeZeroDeletes(t *testing.T) {
	st := newState(t)

	require.True(t, st.AddHSTSHeader("example.com", "max-age=60"))
	require.True(t, st.AddHSTSHeader("example.com", "max-age=0"))
	assert.False(t, st.ShouldUpgradeToSSL("example.com"))
}

func TestState_Preload(t *testing.T) {
	st := newState(t, WithPreload("Bank.Example"))

	assert.True(t, st.ShouldUpgradeToSSL("bank.example"))
	assert.True(t, st.ShouldUpgradeToSSL("login.bank.example"))
	assert.False(t, st.DeleteHSTS("bank.example"), "preloaded hosts have no dynamic entry")
	assert.True(t, st.ShouldUpgradeToSSL("bank.example"))
}

func TestState_ExpectCT(t *testing.T) {
	clock := newClock()
	var reports []Report
	st := newState(t, WithClock(clock.Now), WithReporter(func(r Report) { reports = append(reports, r) }))

	st.ProcessExpectCTHeader(`max-age=100, enforce, report-uri="https://r.example/ct"`, "example.com:443", true, "https://top.example")

	e, ok := st.ExpectCT("example.com", "https://top.example")
	require.True(t, ok)
	assert.True(t, e.Enforce)
	assert.Equal(t, "https://r.example/ct", e.ReportURI)

	_, ok = st.ExpectCT("example.com", "https://other.example")
	assert.False(t, ok, "entries are partitioned")
	assert.Empty(t, reports)

	st.ProcessExpectCTHeader(`max-age=100, report-uri="https://r.example/ct"`, "example.com:8443", false, "")
	require.Len(t, reports, 1)
	assert.Equal(t, "example.com:8443", reports[0].HostPort)
	assert.Equal(t, "https://r.example/ct", reports[0].ReportURI.String())

	st.ProcessExpectCTHeader("max-age=0", "example.com:443", true, "https://top.example")
	_, ok = st.ExpectCT("example.com", "https://top.example")
	assert.False(t, ok)

	st.ProcessExpectCTHeader("max-age=5", "short.example:443", true, "")
	clock.Advance(10 * time.Second)
	_, ok = st.ExpectCT("short.example", "")
	assert.False(t, ok)
}

func TestState_PersistsToSQLite(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	path := filepath.Join(t.TempDir(), "transport_security.db")

	store, err := OpenSQLite(ctx, path)
	require.NoError(t, err)

	st := newState(t, WithStore(store), WithClock(clock.Now))
	require.True(t, st.AddHSTSHeader("kept.example", "max-age=3600; includeSubDomains"))
	require.True(t, st.AddHSTSHeader("short.example", "max-age=1"))
	require.True(t, st.AddHSTSHeader("gone.example", "max-age=3600"))
	require.True(t, st.DeleteHSTS("gone.example"))
	st.ProcessExpectCTHeader("max-age=3600, enforce", "kept.example:443", true, "p1")
	require.NoError(t, store.Close())

	clock.Advance(time.Minute)
	store, err = OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer store.Close()

	reloaded := newState(t, WithStore(store), WithClock(clock.Now))
	assert.True(t, reloaded.ShouldUpgradeToSSL("www.kept.example"))
	assert.False(t, reloaded.ShouldUpgradeToSSL("short.example"), "expired entries are not loaded")
	assert.False(t, reloaded.ShouldUpgradeToSSL("gone.example"))

	e, ok := reloaded.ExpectCT("kept.example", "p1")
	require.True(t, ok)
	assert.True(t, e.Enforce)

	entries := reloaded.HSTSEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, "kept.example", entries[0].Host)
	assert.True(t, entries[0].IncludeSubdomains)
}

func TestOpenSQLite_RequiresPath(t *testing.T) {
	_, err := OpenSQLite(context.Background(), "")
	assert.Error(t, err)
}
