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

package cookies

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

// MaxExpiryDelta caps how far in the future a stored cookie may expire.
const MaxExpiryDelta = 400 * 24 * time.Hour

// SameSite is the SameSite attribute of a cookie.
type SameSite int

const (
	SameSiteUnspecified SameSite = iota
	SameSiteNone
	SameSiteLax
	SameSiteStrict
)

func (s SameSite) String() string {
	switch s {
	case SameSiteNone:
		return "None"
	case SameSiteLax:
		return "Lax"
	case SameSiteStrict:
		return "Strict"
	default:
		return "Unspecified"
	}
}

// Canonical is a parsed, validated cookie as the jar stores it.
type Canonical struct {
	Name   string
	Value  string
	Domain string
	Path   string

	Creation   time.Time
	Expiry     time.Time
	LastAccess time.Time

	Secure      bool
	HTTPOnly    bool
	HostOnly    bool
	Partitioned bool
	SameSite    SameSite
}

// IsPersistent reports whether the cookie has an expiry time.
func (c *Canonical) IsPersistent() bool { return !c.Expiry.IsZero() }

// IsExpired reports whether the cookie has expired at now.
func (c *Canonical) IsExpired(now time.Time) bool {
	return c.IsPersistent() && !c.Expiry.After(now)
}

// IsDomainCookie reports whether the cookie was set with a Domain attribute.
func (c *Canonical) IsDomainCookie() bool { return !c.HostOnly }

func (c *Canonical) String() string {
	return fmt.Sprintf("%s=%s; domain=%s; path=%s", c.Name, c.Value, c.Domain, c.Path)
}

// IsSecureScheme reports whether cookies marked Secure may be used with u.
func IsSecureScheme(u *url.URL) bool {
	switch strings.ToLower(u.Scheme) {
	case "https", "wss":
		return true
	}
	return IsLocalhost(u.Hostname())
}

// IsLocalhost reports whether host names the loopback interface.
func IsLocalhost(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	return ip != nil && ip.IsLoopback()
}

// Create parses a Set-Cookie line received from u. serverTime is the
// response Date header; when set, Expires is interpreted relative to it so
// clock skew between client and server does not shorten or stretch the
// cookie's lifetime. A nil cookie is returned together with the reasons
// the line was rejected.
func Create(u *url.URL, line string, now time.Time, serverTime *time.Time) (*Canonical, InclusionStatus) {
	hc, err := http.ParseSetCookie(line)
	if err != nil {
		return nil, NewExclusion(ExcludeFailureToStore)
	}

	host := strings.ToLower(u.Hostname())
	c := &Canonical{
		Name:        hc.Name,
		Value:       hc.Value,
		Secure:      hc.Secure,
		HTTPOnly:    hc.HttpOnly,
		Partitioned: hc.Partitioned,
		Creation:    now,
		LastAccess:  now,
		SameSite:    fromHTTPSameSite(hc.SameSite),
	}

	var status InclusionStatus

	domain, hostOnly, ok := cookieDomain(host, hc.Domain)
	if !ok {
		status.AddExclusionReason(ExcludeInvalidDomain)
	}
	c.Domain, c.HostOnly = domain, hostOnly

	c.Path = hc.Path
	if c.Path == "" || c.Path[0] != '/' {
		c.Path = DefaultPath(u)
	}

	c.Expiry = expiry(hc, now, serverTime)

	if c.Secure && !IsSecureScheme(u) {
		status.AddExclusionReason(ExcludeSecureOnly)
	}
	if !validPrefix(c, hc.Domain != "", u) {
		status.AddExclusionReason(ExcludeInvalidPrefix)
	}
	if c.SameSite == SameSiteNone && !c.Secure {
		status.AddExclusionReason(ExcludeSameSiteNoneInsecure)
	}

	if !status.IsInclude() {
		return nil, status
	}
	return c, status
}

// DefaultPath returns the RFC 6265 default-path of u.
func DefaultPath(u *url.URL) string {
	p := u.EscapedPath()
	if p == "" || p[0] != '/' {
		return "/"
	}
	i := strings.LastIndex(p, "/")
	if i == 0 {
		return "/"
	}
	return p[:i]
}

func cookieDomain(host, attr string) (domain string, hostOnly, ok bool) {
	if attr == "" {
		return host, true, true
	}
	d := strings.ToLower(strings.TrimPrefix(attr, "."))
	if d == "" {
		return host, true, true
	}
	if net.ParseIP(strings.Trim(host, "[]")) != nil {
		// IP hosts only accept a Domain attribute naming themselves.
		return host, true, d == host
	}
	if ps, _ := publicsuffix.PublicSuffix(d); ps == d {
		// A public suffix as Domain degrades to host-only when it is the
		// host itself.
		return host, true, d == host
	}
	if !DomainMatch(host, d) {
		return "", false, false
	}
	return d, false, true
}

// DomainMatch reports whether host domain-matches domain.
func DomainMatch(host, domain string) bool {
	if host == domain {
		return true
	}
	return strings.HasSuffix(host, "."+domain) && net.ParseIP(host) == nil
}

// PathMatch reports whether the request path matches the cookie path.
func PathMatch(requestPath, cookiePath string) bool {
	if requestPath == "" {
		requestPath = "/"
	}
	if requestPath == cookiePath {
		return true
	}
	if !strings.HasPrefix(requestPath, cookiePath) {
		return false
	}
	return strings.HasSuffix(cookiePath, "/") || requestPath[len(cookiePath)] == '/'
}

func expiry(hc *http.Cookie, now time.Time, serverTime *time.Time) time.Time {
	var exp time.Time
	switch {
	case hc.MaxAge < 0:
		return time.Unix(0, 0)
	case hc.MaxAge > 0:
		exp = now.Add(time.Duration(hc.MaxAge) * time.Second)
	case !hc.Expires.IsZero():
		if serverTime != nil && !serverTime.IsZero() {
			exp = now.Add(hc.Expires.Sub(*serverTime))
		} else {
			exp = hc.Expires
		}
	default:
		return time.Time{}
	}
	if limit := now.Add(MaxExpiryDelta); exp.After(limit) {
		exp = limit
	}
	return exp
}

func validPrefix(c *Canonical, hadDomainAttr bool, u *url.URL) bool {
	switch {
	case strings.HasPrefix(c.Name, "__Secure-"):
		return c.Secure && IsSecureScheme(u)
	case strings.HasPrefix(c.Name, "__Host-"):
		return c.Secure && IsSecureScheme(u) && !hadDomainAttr && c.Path == "/"
	}
	return true
}

func fromHTTPSameSite(s http.SameSite) SameSite {
	switch s {
	case http.SameSiteNoneMode:
		return SameSiteNone
	case http.SameSiteLaxMode:
		return SameSiteLax
	case http.SameSiteStrictMode:
		return SameSiteStrict
	default:
		return SameSiteUnspecified
	}
}

// BuildCookieLine serializes cookies into a Cookie request header value,
// preserving order.
func BuildCookieLine(list []Canonical) string {
	var b strings.Builder
	for i, c := range list {
		if i > 0 {
			b.WriteString("; ")
		}
		if c.Name != "" {
			b.WriteString(c.Name)
			b.WriteByte('=')
		}
		b.WriteString(c.Value)
	}
	return b.String()
}

// BuildCookieLineFromResults is BuildCookieLine over jar read results.
func BuildCookieLineFromResults(list []WithAccessResult) string {
	cs := make([]Canonical, len(list))
	for i := range list {
		cs[i] = list[i].Cookie
	}
	return BuildCookieLine(cs)
}
