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


// Package policy is the embedder policy for jobs: request and response
// rules written as expressions, host and address blocking, header
// injection, cookie blocking and same-site exemptions, and the redirect
// scheme allowlist.
package policy

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Stage names when a rule runs.
type Stage string

const (
	StageRequest  Stage = "request"
	StageResponse Stage = "response"
)

// Rule blocks requests or responses for which When evaluates to true.
type Rule struct {
	Name  string `yaml:"name"`
	Stage Stage  `yaml:"stage"`

	// When is an expression over the request (and, at the response
	// stage, the response). See Env for the available variables.
	When string `yaml:"when"`
}

// HeaderRule sets request headers on requests to matching hosts.
type HeaderRule struct {
	// Hosts are host patterns: exact names, "*.example.com" globs, IPs or
	// CIDR ranges.
	Hosts []string          `yaml:"hosts"`
	Set   map[string]string `yaml:"set"`
}

// Config defines the policy.
type Config struct {
	// BlockedHosts lists host patterns requests may not be sent to.
	BlockedHosts []string `yaml:"blocked_hosts,omitempty"`

	// DenyPrivateIPs blocks RFC1918, link-local and loopback addresses,
	// both for the requested host and for the address the response came
	// from.
	DenyPrivateIPs bool `yaml:"deny_private_ips"`

	// DenyMetadata blocks cloud metadata endpoints (169.254.169.254).
	DenyMetadata bool `yaml:"deny_metadata"`

	Rules   []Rule       `yaml:"rules,omitempty"`
	Headers []HeaderRule `yaml:"headers,omitempty"`

	// StripResponseHeaders removes these headers from responses before
	// the job processes them.
	StripResponseHeaders []string `yaml:"strip_response_headers,omitempty"`

	// BlockedCookies lists "name@domain" glob patterns of cookies that are
	// neither sent nor stored. A pattern without "@" matches any domain.
	BlockedCookies []string `yaml:"blocked_cookies,omitempty"`

	// SameSiteExempt lists host patterns whose cookies are sent as if
	// every request were same-site.
	SameSiteExempt []string `yaml:"same_site_exempt,omitempty"`

	// FirstPartySets groups registrable domains that belong together.
	FirstPartySets [][]string `yaml:"first_party_sets,omitempty"`

	// SafeRedirectSchemes lists schemes besides http, https, ws and wss a
	// redirect may target.
	SafeRedirectSchemes []string `yaml:"safe_redirect_schemes,omitempty"`
}

// DefaultConfig returns a permissive policy that still refuses cloud
// metadata endpoints.
func DefaultConfig() *Config {
	return &Config{
		DenyMetadata: true,
	}
}

// Validate checks patterns and rule metadata. Rule expressions are
// compiled by New.
func (c *Config) Validate() error {
	for _, p := range c.BlockedHosts {
		if err := validateHostPattern(p); err != nil {
			return fmt.Errorf("blocked_hosts: %w", err)
		}
	}
	for _, p := range c.SameSiteExempt {
		if err := validateHostPattern(p); err != nil {
			return fmt.Errorf("same_site_exempt: %w", err)
		}
	}
	for i, h := range c.Headers {
		if len(h.Hosts) == 0 {
			return fmt.Errorf("headers[%d]: at least one host pattern is required", i)
		}
		for _, p := range h.Hosts {
			if err := validateHostPattern(p); err != nil {
				return fmt.Errorf("headers[%d]: %w", i, err)
			}
		}
	}
	for _, p := range c.BlockedCookies {
		name, domain, _ := strings.Cut(p, "@")
		if !doublestar.ValidatePattern(name) || (domain != "" && !doublestar.ValidatePattern(domain)) {
			return fmt.Errorf("blocked_cookies: invalid pattern %q", p)
		}
	}
	for i, r := range c.Rules {
		if r.Name == "" {
			return fmt.Errorf("rules[%d]: name is required", i)
		}
		switch r.Stage {
		case StageRequest, StageResponse:
		default:
			return fmt.Errorf("rules[%d]: stage must be %q or %q, got %q", i, StageRequest, StageResponse, r.Stage)
		}
		if strings.TrimSpace(r.When) == "" {
			return fmt.Errorf("rules[%d]: when is required", i)
		}
	}
	return nil
}
