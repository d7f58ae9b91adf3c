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
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// Jar is an in-memory cookie store. Its callbacks run synchronously,
// before the call that received them returns.
type Jar struct {
	mu       sync.RWMutex
	cookies  map[string]*Canonical
	delegate AccessDelegate
	now      func() time.Time
}

// NewJar creates an empty jar. delegate may be nil.
func NewJar(delegate AccessDelegate) *Jar {
	return &Jar{
		cookies:  make(map[string]*Canonical),
		delegate: delegate,
		now:      time.Now,
	}
}

// SetClock replaces the jar's time source.
func (j *Jar) SetClock(now func() time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.now = now
}

// AccessDelegate returns the jar's policy override, which may be nil.
func (j *Jar) AccessDelegate() AccessDelegate {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.delegate
}

func cookieKey(domain, path, name string) string {
	return domain + "\x00" + path + "\x00" + name
}

// GetCookieListWithOptions returns the cookies whose domain and path match
// u, split into the ones that may be sent and the ones excluded by
// security or same-site rules.
func (j *Jar) GetCookieListWithOptions(u *url.URL, opts Options, cb func(included, excluded []WithAccessResult)) {
	included, excluded := j.match(u, opts)
	cb(included, excluded)
}

func (j *Jar) match(u *url.URL, opts Options) (included, excluded []WithAccessResult) {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now()
	host := strings.ToLower(u.Hostname())
	path := u.EscapedPath()
	secure := IsSecureScheme(u)

	for key, c := range j.cookies {
		if c.IsExpired(now) {
			delete(j.cookies, key)
			continue
		}
		if c.HostOnly && host != c.Domain || !c.HostOnly && !DomainMatch(host, c.Domain) {
			continue
		}
		if !PathMatch(path, c.Path) {
			continue
		}

		res := AccessResult{EffectiveSameSite: effectiveSameSite(c.SameSite)}
		if c.Secure && !secure {
			res.Status.AddExclusionReason(ExcludeSecureOnly)
		}
		if c.HTTPOnly && opts.ExcludeHTTPOnly {
			res.Status.AddExclusionReason(ExcludeHTTPOnly)
		}
		switch c.SameSite {
		case SameSiteStrict:
			if opts.SameSiteContext < ContextSameSiteStrict {
				res.Status.AddExclusionReason(ExcludeSameSiteStrict)
			}
		case SameSiteLax:
			if opts.SameSiteContext < ContextSameSiteLax {
				res.Status.AddExclusionReason(ExcludeSameSiteLax)
			}
		case SameSiteUnspecified:
			if opts.SameSiteContext < ContextSameSiteLax {
				res.Status.AddExclusionReason(ExcludeSameSiteUnspecifiedTreatedAsLax)
			}
		}

		if res.Status.IsInclude() {
			if opts.UpdateAccessTime {
				c.LastAccess = now
			}
			included = append(included, WithAccessResult{Cookie: *c, Result: res})
		} else {
			excluded = append(excluded, WithAccessResult{Cookie: *c, Result: res})
		}
	}

	sortResults(included)
	sortResults(excluded)
	return included, excluded
}

// Longer paths first, then older cookies first.
func sortResults(list []WithAccessResult) {
	sort.SliceStable(list, func(a, b int) bool {
		ca, cb := &list[a].Cookie, &list[b].Cookie
		if len(ca.Path) != len(cb.Path) {
			return len(ca.Path) > len(cb.Path)
		}
		if !ca.Creation.Equal(cb.Creation) {
			return ca.Creation.Before(cb.Creation)
		}
		return ca.Name < cb.Name
	})
}

func effectiveSameSite(s SameSite) SameSite {
	if s == SameSiteUnspecified {
		return SameSiteLax
	}
	return s
}

// SetCanonicalCookie stores c as if it had been received from u. An
// expired cookie deletes any stored cookie with the same name, domain and
// path.
func (j *Jar) SetCanonicalCookie(c *Canonical, u *url.URL, opts Options, cb func(AccessResult)) {
	cb(j.set(c, u, opts))
}

func (j *Jar) set(c *Canonical, u *url.URL, opts Options) AccessResult {
	res := AccessResult{EffectiveSameSite: effectiveSameSite(c.SameSite)}
	secure := IsSecureScheme(u)

	if c.HTTPOnly && opts.ExcludeHTTPOnly {
		res.Status.AddExclusionReason(ExcludeHTTPOnly)
	}
	if c.Secure && !secure {
		res.Status.AddExclusionReason(ExcludeSecureOnly)
	}
	if opts.SameSiteContext == ContextCrossSite {
		switch c.SameSite {
		case SameSiteStrict:
			res.Status.AddExclusionReason(ExcludeSameSiteStrict)
		case SameSiteLax:
			res.Status.AddExclusionReason(ExcludeSameSiteLax)
		case SameSiteUnspecified:
			res.Status.AddExclusionReason(ExcludeSameSiteUnspecifiedTreatedAsLax)
		}
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	key := cookieKey(c.Domain, c.Path, c.Name)
	if existing, ok := j.cookies[key]; ok {
		if existing.Secure && !secure {
			res.Status.AddExclusionReason(ExcludeOverwriteSecure)
		}
		if existing.HTTPOnly && opts.ExcludeHTTPOnly {
			res.Status.AddExclusionReason(ExcludeOverwriteHTTPOnly)
		}
		if res.Status.IsInclude() {
			cp := *c
			cp.Creation = existing.Creation
			c = &cp
		}
	}
	if !res.Status.IsInclude() {
		return res
	}

	if c.IsExpired(j.now()) {
		delete(j.cookies, key)
		return res
	}
	cp := *c
	j.cookies[key] = &cp
	return res
}

// All returns a snapshot of every unexpired cookie.
func (j *Jar) All() []Canonical {
	j.mu.RLock()
	defer j.mu.RUnlock()

	now := j.now()
	out := make([]Canonical, 0, len(j.cookies))
	for _, c := range j.cookies {
		if !c.IsExpired(now) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		return cookieKey(out[a].Domain, out[a].Path, out[a].Name) < cookieKey(out[b].Domain, out[b].Path, out[b].Name)
	})
	return out
}

// Len returns the number of stored cookies, expired ones included.
func (j *Jar) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.cookies)
}
