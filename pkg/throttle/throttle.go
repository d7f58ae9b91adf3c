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


// Package throttle holds back requests to URLs whose servers are failing.
// Each URL gets an entry combining a request rate cap with exponential
// backoff after server errors.
package throttle

import (
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tombee/httpjob/pkg/httpjob"
)

// Config configures throttling.
type Config struct {
	// RequestsPerSecond caps the sustained request rate per URL.
	// Default: 10. Zero disables the cap.
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// Burst is the number of requests allowed above the rate at once.
	// Default: 20.
	Burst int `yaml:"burst"`

	// InitialBackoff is the first release delay after errors start
	// counting.
	// Default: 700ms.
	InitialBackoff time.Duration `yaml:"initial_backoff"`

	// MaxBackoff caps the release delay.
	// Default: 15m.
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// Multiplier grows the delay per consecutive error.
	// Default: 1.4.
	Multiplier float64 `yaml:"multiplier"`

	// JitterFactor randomizes the delay by up to this fraction.
	// Default: 0.4.
	JitterFactor float64 `yaml:"jitter_factor"`

	// ErrorsToIgnore is how many consecutive errors pass before backoff
	// starts.
	// Default: 2.
	ErrorsToIgnore int `yaml:"errors_to_ignore"`

	// EntryLifetime is how long an unused entry is kept.
	// Default: 2m.
	EntryLifetime time.Duration `yaml:"entry_lifetime"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 10,
		Burst:             20,
		InitialBackoff:    700 * time.Millisecond,
		MaxBackoff:        15 * time.Minute,
		Multiplier:        1.4,
		JitterFactor:      0.4,
		ErrorsToIgnore:    2,
		EntryLifetime:     2 * time.Minute,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second must be >= 0, got %v", c.RequestsPerSecond)
	}
	if c.RequestsPerSecond > 0 && c.Burst < 1 {
		return fmt.Errorf("burst must be >= 1 when a rate is set, got %d", c.Burst)
	}
	if c.InitialBackoff <= 0 {
		return fmt.Errorf("initial_backoff must be > 0, got %v", c.InitialBackoff)
	}
	if c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("max_backoff (%v) must be >= initial_backoff (%v)", c.MaxBackoff, c.InitialBackoff)
	}
	if c.Multiplier < 1 {
		return fmt.Errorf("multiplier must be >= 1, got %v", c.Multiplier)
	}
	if c.JitterFactor < 0 || c.JitterFactor > 1 {
		return fmt.Errorf("jitter_factor must be between 0 and 1, got %v", c.JitterFactor)
	}
	if c.ErrorsToIgnore < 0 {
		return fmt.Errorf("errors_to_ignore must be >= 0, got %d", c.ErrorsToIgnore)
	}
	return nil
}

// Manager hands out one Entry per URL. It implements
// httpjob.ThrottlerManager.
type Manager struct {
	cfg Config
	now func() time.Time

	mu            sync.Mutex
	entries       map[string]*Entry
	registrations int
}

// gcEvery is how many registrations pass between sweeps of unused entries.
const gcEvery = 200

// NewManager creates a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{cfg: cfg, now: time.Now, entries: make(map[string]*Entry)}, nil
}

// RegisterRequestURL returns the entry for u, creating it on first use.
func (m *Manager) RegisterRequestURL(u *url.URL) httpjob.ThrottlerEntry {
	return m.entry(u)
}

func (m *Manager) entry(u *url.URL) *Entry {
	key := entryKey(u)
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.registrations++
	if m.registrations%gcEvery == 0 {
		m.collectLocked(now)
	}

	e, ok := m.entries[key]
	if !ok {
		e = newEntry(m.cfg, m.now)
		m.entries[key] = e
	}
	e.touch(now)
	return e
}

// Len returns the number of live entries.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Manager) collectLocked(now time.Time) {
	for k, e := range m.entries {
		if e.outdated(now) {
			delete(m.entries, k)
		}
	}
}

// entryKey identifies a URL without its query or fragment.
func entryKey(u *url.URL) string {
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + u.EscapedPath()
}

// Entry tracks one URL.
type Entry struct {
	cfg     Config
	now     func() time.Time
	limiter *rate.Limiter

	mu          sync.Mutex
	failures    int
	releaseTime time.Time
	lastUsed    time.Time
}

func newEntry(cfg Config, now func() time.Time) *Entry {
	e := &Entry{cfg: cfg, now: now}
	if cfg.RequestsPerSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	}
	return e
}

// ShouldRejectRequest reports whether a request should be held back.
// Requests that may come from a user gesture are never held back.
func (e *Entry) ShouldRejectRequest(maybeUserGesture bool) bool {
	if maybeUserGesture {
		return false
	}
	now := e.now()

	e.mu.Lock()
	backingOff := now.Before(e.releaseTime)
	e.mu.Unlock()
	if backingOff {
		return true
	}
	return e.limiter != nil && !e.limiter.AllowN(now, 1)
}

// UpdateWithResponse records the outcome of a request. Server errors
// extend the backoff; anything else clears it.
func (e *Entry) UpdateWithResponse(statusCode int) {
	now := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()

	if !IsBackoffStatus(statusCode) {
		e.failures = 0
		e.releaseTime = time.Time{}
		return
	}

	e.failures++
	if e.failures <= e.cfg.ErrorsToIgnore {
		return
	}
	e.releaseTime = now.Add(e.calculateBackoff(e.failures - e.cfg.ErrorsToIgnore))
}

// ReleaseTime returns when backoff ends.
func (e *Entry) ReleaseTime() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.releaseTime
}

func (e *Entry) touch(now time.Time) {
	e.mu.Lock()
	e.lastUsed = now
	e.mu.Unlock()
}

// outdated reports whether the entry is unused and holds no state worth
// keeping.
func (e *Entry) outdated(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return now.After(e.releaseTime) && now.Sub(e.lastUsed) > e.cfg.EntryLifetime
}

// calculateBackoff computes the delay for the nth counted error with
// exponential backoff and jitter.
func (e *Entry) calculateBackoff(n int) time.Duration {
	backoff := float64(e.cfg.InitialBackoff) * math.Pow(e.cfg.Multiplier, float64(n-1))
	if backoff > float64(e.cfg.MaxBackoff) {
		backoff = float64(e.cfg.MaxBackoff)
	}

	// Jitter shortens the delay by up to JitterFactor.
	jitter := rand.Float64() * e.cfg.JitterFactor * backoff
	return time.Duration(backoff - jitter)
}

// IsBackoffStatus reports whether a response status counts as a server failure.
func IsBackoffStatus(statusCode int) bool {
	return statusCode >= 500 && statusCode < 600 || statusCode == http.StatusTooManyRequests
}

var (
	_ httpjob.ThrottlerManager = (*Manager)(nil)
	_ httpjob.ThrottlerEntry   = (*Entry)(nil)
)
