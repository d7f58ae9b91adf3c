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
	"log/slog"
	"net"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tombee/httpjob/pkg/httpjob"
)

// HSTSEntry is one host's Strict-Transport-Security state.
type HSTSEntry struct {
	Host              string
	Observed          time.Time
	Expiry            time.Time
	IncludeSubdomains bool
}

// ExpectCTEntry is one host's Expect-CT state within a partition.
type ExpectCTEntry struct {
	Host         string
	PartitionKey string
	Observed     time.Time
	Expiry       time.Time
	Enforce      bool
	ReportURI    string
}

// Report describes a connection that did not meet CT policy for a host
// that asked to be told about it.
type Report struct {
	HostPort     string
	ReportURI    *url.URL
	PartitionKey string
	Time         time.Time
}

// Store persists state between runs.
type Store interface {
	LoadHSTS(ctx context.Context) ([]HSTSEntry, error)
	PutHSTS(ctx context.Context, e HSTSEntry) error
	DeleteHSTS(ctx context.Context, host string) error
	LoadExpectCT(ctx context.Context) ([]ExpectCTEntry, error)
	PutExpectCT(ctx context.Context, e ExpectCTEntry) error
	DeleteExpectCT(ctx context.Context, host, partitionKey string) error
}

// State implements httpjob.SecurityState. It is safe for concurrent use.
type State struct {
	mu       sync.RWMutex
	hsts     map[string]HSTSEntry
	expectCT map[expectCTKey]ExpectCTEntry
	preload  map[string]bool

	store    Store
	reporter func(Report)
	now      func() time.Time
	logger   *slog.Logger
}

type expectCTKey struct {
	host      string
	partition string
}

// Option configures a State.
type Option func(*State)

// WithStore persists every change to s. Entries already in the store are
// loaded by New.
func WithStore(s Store) Option {
	return func(st *State) { st.store = s }
}

// WithPreload adds hosts that are always upgraded, subdomains included.
func WithPreload(hosts ...string) Option {
	return func(st *State) {
		for _, h := range hosts {
			st.preload[canonicalHost(h)] = true
		}
	}
}

// WithReporter receives Expect-CT reports.
func WithReporter(fn func(Report)) Option {
	return func(st *State) { st.reporter = fn }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(st *State) { st.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(st *State) { st.logger = logger }
}

// New creates a State, loading persisted entries when a store is set.
func New(ctx context.Context, opts ...Option) (*State, error) {
	st := &State{
		hsts:     make(map[string]HSTSEntry),
		expectCT: make(map[expectCTKey]ExpectCTEntry),
		preload:  make(map[string]bool),
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(st)
	}
	st.logger = st.logger.With(slog.String("component", "transportsecurity"))

	if st.store == nil {
		return st, nil
	}

	hsts, err := st.store.LoadHSTS(ctx)
	if err != nil {
		return nil, err
	}
	now := st.now()
	for _, e := range hsts {
		if now.Before(e.Expiry) {
			st.hsts[e.Host] = e
		}
	}

	ects, err := st.store.LoadExpectCT(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range ects {
		if now.Before(e.Expiry) {
			st.expectCT[expectCTKey{e.Host, e.PartitionKey}] = e
		}
	}
	return st, nil
}

// ShouldUpgradeToSSL reports whether requests to host must use TLS.
func (s *State) ShouldUpgradeToSSL(host string) bool {
	_, ok := s.lookupHSTS(host)
	return ok
}

// ShouldSSLErrorsBeFatal reports whether certificate errors for host may
// not be bypassed. That holds for every host with HSTS state.
func (s *State) ShouldSSLErrorsBeFatal(host string) bool {
	_, ok := s.lookupHSTS(host)
	return ok
}

// lookupHSTS finds the entry covering host: an exact match, or the
// nearest parent that includes subdomains.
func (s *State) lookupHSTS(host string) (HSTSEntry, bool) {
	host = canonicalHost(host)
	if host == "" || net.ParseIP(host) != nil {
		return HSTSEntry{}, false
	}
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()
	for name, exact := host, true; name != ""; name, exact = parentDomain(name), false {
		if s.preload[name] {
			return HSTSEntry{Host: name, IncludeSubdomains: true}, true
		}
		e, ok := s.hsts[name]
		if !ok || !now.Before(e.Expiry) {
			continue
		}
		if exact || e.IncludeSubdomains {
			return e, true
		}
	}
	return HSTSEntry{}, false
}

// AddHSTSHeader records a Strict-Transport-Security value received from
// host over a valid TLS connection. It reports whether the value parsed.
// A max-age of zero removes the host's entry.
func (s *State) AddHSTSHeader(host, value string) bool {
	d, err := ParseHSTS(value)
	if err != nil {
		s.logger.Debug("ignoring Strict-Transport-Security header",
			slog.String("host", host),
			slog.String("error", err.Error()),
		)
		return false
	}
	host = canonicalHost(host)
	if host == "" || net.ParseIP(host) != nil {
		return false
	}

	if d.MaxAge == 0 {
		s.DeleteHSTS(host)
		return true
	}

	now := s.now()
	e := HSTSEntry{
		Host:              host,
		Observed:          now,
		Expiry:            now.Add(d.MaxAge),
		IncludeSubdomains: d.IncludeSubdomains,
	}
	s.mu.Lock()
	s.hsts[host] = e
	s.mu.Unlock()

	s.persist(func(ctx context.Context) error { return s.store.PutHSTS(ctx, e) })
	return true
}

// AddHSTS adds an entry directly, as from configuration.
func (s *State) AddHSTS(host string, maxAge time.Duration, includeSubdomains bool) {
	now := s.now()
	e := HSTSEntry{
		Host:              canonicalHost(host),
		Observed:          now,
		Expiry:            now.Add(maxAge),
		IncludeSubdomains: includeSubdomains,
	}
	s.mu.Lock()
	s.hsts[e.Host] = e
	s.mu.Unlock()
	s.persist(func(ctx context.Context) error { return s.store.PutHSTS(ctx, e) })
}

// DeleteHSTS removes the dynamic entry for host. Preloaded hosts stay.
func (s *State) DeleteHSTS(host string) bool {
	host = canonicalHost(host)
	s.mu.Lock()
	_, ok := s.hsts[host]
	delete(s.hsts, host)
	s.mu.Unlock()
	s.persist(func(ctx context.Context) error { return s.store.DeleteHSTS(ctx, host) })
	return ok
}

// HSTSEntries returns the unexpired dynamic entries sorted by host.
func (s *State) HSTSEntries() []HSTSEntry {
	now := s.now()
	s.mu.RLock()
	out := make([]HSTSEntry, 0, len(s.hsts))
	for _, e := range s.hsts {
		if now.Before(e.Expiry) {
			out = append(out, e)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Host < out[j].Host })
	return out
}

// ProcessExpectCTHeader handles an Expect-CT value received on a valid TLS
// connection to hostPort. Compliant connections update the stored entry;
// non-compliant ones are reported when the value names a report-uri.
func (s *State) ProcessExpectCTHeader(value, hostPort string, ctCompliant bool, isolationKey string) {
	d, err := ParseExpectCT(value)
	if err != nil {
		s.logger.Debug("ignoring Expect-CT header",
			slog.String("host", hostPort),
			slog.String("error", err.Error()),
		)
		return
	}

	if !ctCompliant {
		if d.ReportURI != nil && s.reporter != nil {
			s.reporter(Report{
				HostPort:     hostPort,
				ReportURI:    d.ReportURI,
				PartitionKey: isolationKey,
				Time:         s.now(),
			})
		}
		return
	}

	host, _, err := net.SplitHostPort(hostPort)
	if err != nil {
		host = hostPort
	}
	host = canonicalHost(host)
	key := expectCTKey{host, isolationKey}

	if d.MaxAge == 0 {
		s.mu.Lock()
		delete(s.expectCT, key)
		s.mu.Unlock()
		s.persist(func(ctx context.Context) error { return s.store.DeleteExpectCT(ctx, host, isolationKey) })
		return
	}

	now := s.now()
	e := ExpectCTEntry{
		Host:         host,
		PartitionKey: isolationKey,
		Observed:     now,
		Expiry:       now.Add(d.MaxAge),
		Enforce:      d.Enforce,
	}
	if d.ReportURI != nil {
		e.ReportURI = d.ReportURI.String()
	}
	s.mu.Lock()
	s.expectCT[key] = e
	s.mu.Unlock()
	s.persist(func(ctx context.Context) error { return s.store.PutExpectCT(ctx, e) })
}

// ExpectCT returns the unexpired Expect-CT entry for host in a partition.
func (s *State) ExpectCT(host, partitionKey string) (ExpectCTEntry, bool) {
	s.mu.RLock()
	e, ok := s.expectCT[expectCTKey{canonicalHost(host), partitionKey}]
	s.mu.RUnlock()
	if !ok || !s.now().Before(e.Expiry) {
		return ExpectCTEntry{}, false
	}
	return e, true
}

func (s *State) persist(fn func(ctx context.Context) error) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		s.logger.Warn("failed to persist transport security state", slog.String("error", err.Error()))
	}
}

func canonicalHost(host string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
}

func parentDomain(host string) string {
	_, parent, ok := strings.Cut(host, ".")
	if !ok {
		return ""
	}
	return parent
}

var _ httpjob.SecurityState = (*State)(nil)
