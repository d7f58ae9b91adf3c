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
	"net"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Site returns the registrable domain of u's host, or the host itself for
// IP literals, localhost and bare public suffixes.
func Site(u *url.URL) string {
	if u == nil {
		return ""
	}
	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "" || net.ParseIP(host) != nil {
		return host
	}
	etld1, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return etld1
}

// SiteForCookies is the site a request is made on behalf of, usually the
// top-level frame's registrable domain. The zero value is the null site,
// which is first party to nothing.
type SiteForCookies struct {
	Scheme string
	Site   string
}

// SiteForCookiesFromURL returns the site for cookies of a top-level URL.
func SiteForCookiesFromURL(u *url.URL) SiteForCookies {
	if u == nil || u.Host == "" {
		return SiteForCookies{}
	}
	return SiteForCookies{Scheme: webScheme(u.Scheme), Site: Site(u)}
}

// IsNull reports whether s is the null site.
func (s SiteForCookies) IsNull() bool { return s.Site == "" }

// IsFirstParty reports whether u is same-site with s. Schemes are compared
// loosely: ws/wss count as http/https.
func (s SiteForCookies) IsFirstParty(u *url.URL) bool {
	if s.IsNull() || u == nil {
		return false
	}
	return Site(u) == s.Site
}

func webScheme(scheme string) string {
	switch strings.ToLower(scheme) {
	case "ws":
		return "http"
	case "wss":
		return "https"
	}
	return strings.ToLower(scheme)
}

// SameSiteContext classifies a request's relation to its site for cookies.
type SameSiteContext int

const (
	ContextCrossSite SameSiteContext = iota
	ContextSameSiteLaxMethodUnsafe
	ContextSameSiteLax
	ContextSameSiteStrict
)

func (c SameSiteContext) String() string {
	switch c {
	case ContextSameSiteLaxMethodUnsafe:
		return "same_site_lax_method_unsafe"
	case ContextSameSiteLax:
		return "same_site_lax"
	case ContextSameSiteStrict:
		return "same_site_strict"
	default:
		return "cross_site"
	}
}

// Options controls which cookies a jar operation may see or write.
type Options struct {
	SameSiteContext SameSiteContext

	// ExcludeHTTPOnly hides HttpOnly cookies. Network requests leave it false.
	ExcludeHTTPOnly bool

	// UpdateAccessTime refreshes LastAccess on cookies that are read.
	UpdateAccessTime bool

	IsInNontrivialFirstPartySet bool
}

// AccessDelegate lets the embedder loosen cookie policy.
type AccessDelegate interface {
	// ShouldIgnoreSameSiteRestrictions reports whether requests to u made
	// on behalf of site should treat every cookie as same-site.
	ShouldIgnoreSameSiteRestrictions(u *url.URL, site SiteForCookies) bool

	// IsInNontrivialFirstPartySet reports whether site belongs to a first
	// party set with more than one member.
	IsInNontrivialFirstPartySet(site SiteForCookies) bool
}

func isSafeMethod(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}

func sameSiteChain(chain []*url.URL, site SiteForCookies) bool {
	for _, u := range chain {
		if !site.IsFirstParty(u) {
			return false
		}
	}
	return true
}

// ComputeSameSiteContextForRequest classifies a request for cookie reads.
// urlChain holds every URL the request has visited, the current one last.
// initiator is the origin that caused the request, or nil for
// browser-initiated requests.
func ComputeSameSiteContextForRequest(method string, urlChain []*url.URL, site SiteForCookies,
	initiator *url.URL, isMainFrameNavigation, forceIgnoreSiteForCookies bool) SameSiteContext {
	if forceIgnoreSiteForCookies {
		return ContextSameSiteStrict
	}
	if len(urlChain) == 0 {
		return ContextCrossSite
	}
	current := urlChain[len(urlChain)-1]
	if !site.IsFirstParty(current) {
		return ContextCrossSite
	}

	sameSiteInitiator := initiator == nil || SiteForCookiesFromURL(initiator).IsFirstParty(current)
	if sameSiteInitiator && sameSiteChain(urlChain, site) {
		return ContextSameSiteStrict
	}
	if !sameSiteInitiator && !isMainFrameNavigation {
		return ContextCrossSite
	}
	if isSafeMethod(method) {
		return ContextSameSiteLax
	}
	return ContextSameSiteLaxMethodUnsafe
}

// ComputeSameSiteContextForResponse classifies a response for cookie
// writes. Writes only distinguish same-site from cross-site.
func ComputeSameSiteContextForResponse(urlChain []*url.URL, site SiteForCookies,
	initiator *url.URL, isMainFrameNavigation, forceIgnoreSiteForCookies bool) SameSiteContext {
	if forceIgnoreSiteForCookies || isMainFrameNavigation {
		return ContextSameSiteLax
	}
	if len(urlChain) == 0 {
		return ContextCrossSite
	}
	current := urlChain[len(urlChain)-1]
	if !site.IsFirstParty(current) {
		return ContextCrossSite
	}
	if initiator != nil && !SiteForCookiesFromURL(initiator).IsFirstParty(current) {
		return ContextCrossSite
	}
	return ContextSameSiteLax
}
