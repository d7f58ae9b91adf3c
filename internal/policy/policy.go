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


package policy

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/tombee/httpjob/internal/metrics"
	"github.com/tombee/httpjob/pkg/cookies"
	"github.com/tombee/httpjob/pkg/errors"
	"github.com/tombee/httpjob/pkg/httpjob"
)

// Resolver looks up host addresses.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Engine applies a Config. It implements httpjob.NetworkDelegate,
// httpjob.RedirectPolicy and cookies.AccessDelegate.
type Engine struct {
	cfg      *Config
	rules    []compiledRule
	resolver Resolver
	timeout  time.Duration
	logger   *slog.Logger

	// firstParty maps a registrable domain to the id of its set.
	firstParty map[string]int
	setSizes   map[int]int
}

// Option configures an Engine.
type Option func(*Engine)

// WithResolver replaces net.DefaultResolver.
func WithResolver(r Resolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New validates cfg and compiles its rules.
func New(cfg *Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rules, err := compileRules(cfg.Rules)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:        cfg,
		rules:      rules,
		resolver:   net.DefaultResolver,
		timeout:    5 * time.Second,
		logger:     slog.Default(),
		firstParty: make(map[string]int),
		setSizes:   make(map[int]int),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(slog.String("component", "policy"))

	for id, set := range cfg.FirstPartySets {
		for _, site := range set {
			e.firstParty[strings.ToLower(site)] = id
		}
		e.setSizes[id] = len(set)
	}
	return e, nil
}

// OnBeforeStartTransaction blocks requests to denied hosts or matching
// request rules and sets configured headers. When addresses must be
// checked for a host name, resolution runs in the background and the
// result is delivered through cb.
func (e *Engine) OnBeforeStartTransaction(req *httpjob.Request, headers http.Header, cb func(error)) error {
	host := strings.ToLower(req.URL.Hostname())

	if matchesAnyHost(host, e.cfg.BlockedHosts) {
		return deny(StageRequest, "blocked_host", fmt.Errorf("host %s is blocked", host))
	}
	if name, err := firstMatch(e.rules, StageRequest, requestEnv(req, headers)); err != nil {
		return deny(StageRequest, "rule_error", err)
	} else if name != "" {
		return deny(StageRequest, "rule", fmt.Errorf("blocked by rule %q", name))
	}

	for _, hr := range e.cfg.Headers {
		if !matchesAnyHost(host, hr.Hosts) {
			continue
		}
		for k, v := range hr.Set {
			headers.Set(k, v)
		}
	}

	if !e.cfg.DenyPrivateIPs && !e.cfg.DenyMetadata {
		return nil
	}
	if ip := net.ParseIP(host); ip != nil {
		return deny(StageRequest, "address", e.validateIP(ip))
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		defer cancel()
		cb(deny(StageRequest, "address", e.validateResolvedHost(ctx, host)))
	}()
	return errors.ErrIOPending
}

// OnHeadersReceived checks the address the response came from, runs
// response rules and strips configured headers.
func (e *Engine) OnHeadersReceived(req *httpjob.Request, original *httpjob.Headers, remoteEndpoint string, override *httpjob.HeadersOverride, cb func(error)) error {
	if remoteEndpoint != "" && (e.cfg.DenyPrivateIPs || e.cfg.DenyMetadata) {
		host, _, err := net.SplitHostPort(remoteEndpoint)
		if err != nil {
			host = remoteEndpoint
		}
		if ip := net.ParseIP(host); ip != nil {
			if err := e.validateIP(ip); err != nil {
				return deny(StageResponse, "address", fmt.Errorf("response from %s: %w", remoteEndpoint, err))
			}
		}
	}

	env := requestEnv(req, nil)
	env.Remote = remoteEndpoint
	if original != nil {
		env.Status = original.StatusCode
		env.Headers = flattenHeaders(original.Header)
	}
	if name, err := firstMatch(e.rules, StageResponse, env); err != nil {
		return deny(StageResponse, "rule_error", err)
	} else if name != "" {
		return deny(StageResponse, "rule", fmt.Errorf("blocked by rule %q", name))
	}

	if original != nil && len(e.cfg.StripResponseHeaders) > 0 {
		var stripped *httpjob.Headers
		for _, name := range e.cfg.StripResponseHeaders {
			if original.Header.Get(name) == "" {
				continue
			}
			if stripped == nil {
				stripped = original.Clone()
			}
			stripped.Header.Del(name)
		}
		if stripped != nil {
			override.Headers = stripped
		}
	}
	return nil
}

// CanGetCookie reports whether c may be sent.
func (e *Engine) CanGetCookie(req *httpjob.Request, c *cookies.Canonical) bool {
	return !e.cookieBlocked(c, string(httpjob.CookieOpSend))
}

// CanSetCookie reports whether c may be stored.
func (e *Engine) CanSetCookie(req *httpjob.Request, c *cookies.Canonical, opts cookies.Options) bool {
	return !e.cookieBlocked(c, string(httpjob.CookieOpStore))
}

func (e *Engine) cookieBlocked(c *cookies.Canonical, op string) bool {
	domain := strings.TrimPrefix(c.Domain, ".")
	for _, p := range e.cfg.BlockedCookies {
		namePat, domainPat, hasDomain := strings.Cut(p, "@")
		if ok, _ := doublestar.Match(namePat, c.Name); !ok {
			continue
		}
		if !hasDomain || matchesHostPattern(domain, domainPat) {
			e.logger.Debug("cookie blocked by policy",
				slog.String("cookie_name", c.Name),
				slog.String("domain", c.Domain),
				slog.String("operation", op),
			)
			metrics.RecordCookieBlocked(op)
			return true
		}
	}
	return false
}

// IsSafeRedirectTarget reports whether a redirect to u's scheme is allowed.
func (e *Engine) IsSafeRedirectTarget(u *url.URL) bool {
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "ws", "wss":
		return true
	}
	for _, s := range e.cfg.SafeRedirectSchemes {
		if strings.EqualFold(s, u.Scheme) {
			return true
		}
	}
	return false
}

// ShouldIgnoreSameSiteRestrictions implements cookies.AccessDelegate.
func (e *Engine) ShouldIgnoreSameSiteRestrictions(u *url.URL, site cookies.SiteForCookies) bool {
	return matchesAnyHost(u.Hostname(), e.cfg.SameSiteExempt)
}

// IsInNontrivialFirstPartySet implements cookies.AccessDelegate.
func (e *Engine) IsInNontrivialFirstPartySet(site cookies.SiteForCookies) bool {
	id, ok := e.firstParty[strings.ToLower(site.Site)]
	return ok && e.setSizes[id] > 1
}

// deny records a denial for non-nil err and returns err unchanged.
func deny(stage Stage, reason string, err error) error {
	if err != nil {
		metrics.RecordPolicyDenial(string(stage), reason)
	}
	return err
}

func (e *Engine) validateResolvedHost(ctx context.Context, host string) error {
	addrs, err := e.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return fmt.Errorf("failed to resolve host: %w", err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("no IP addresses found for host: %s", host)
	}
	for _, a := range addrs {
		if err := e.validateIP(a.IP); err != nil {
			return fmt.Errorf("host %s resolves to blocked IP %s: %w", host, a.IP, err)
		}
	}
	return nil
}

func (e *Engine) validateIP(ip net.IP) error {
	if e.cfg.DenyPrivateIPs && isPrivateOrLocalIP(ip) {
		return fmt.Errorf("private/local IP addresses are blocked: %s", ip)
	}
	if e.cfg.DenyMetadata && isMetadataIP(ip) {
		return fmt.Errorf("metadata service IP blocked: %s", ip)
	}
	return nil
}

var (
	_ httpjob.NetworkDelegate = (*Engine)(nil)
	_ httpjob.RedirectPolicy  = (*Engine)(nil)
	_ cookies.AccessDelegate  = (*Engine)(nil)
)
