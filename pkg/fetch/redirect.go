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

package fetch

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/tombee/httpjob/pkg/cookies"
	"github.com/tombee/httpjob/pkg/httpjob"
)

// contentHeaders describe a request body and are dropped when a redirect
// turns the request into a GET.
var contentHeaders = []string{
	"Content-Type",
	"Content-Length",
	"Content-Encoding",
	"Content-Language",
	"Content-Location",
}

// redirectRequest builds the request for the next hop of a redirect.
func redirectRequest(prev *httpjob.Request, info httpjob.RedirectInfo) *httpjob.Request {
	next := *prev
	next.URLChain = prev.Chain()
	next.URL = info.NewURL
	next.Method = info.NewMethod
	next.ExtraHeaders = prev.ExtraHeaders.Clone()
	if next.ExtraHeaders == nil {
		next.ExtraHeaders = http.Header{}
	}

	prevMethod := prev.Method
	if prevMethod == "" {
		prevMethod = http.MethodGet
	}
	if next.Method == http.MethodGet && prevMethod != http.MethodGet {
		next.Upload = nil
		for _, h := range contentHeaders {
			next.ExtraHeaders.Del(h)
		}
	}

	if origin(prev.URL) != origin(next.URL) {
		next.ExtraHeaders.Del("Authorization")
	}

	if next.IsMainFrameNavigation() {
		next.SiteForCookies = cookies.SiteForCookiesFromURL(next.URL)
	}
	return &next
}

// origin serializes the scheme, host and effective port of u.
func origin(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	port := u.Port()
	if port == "" {
		switch scheme {
		case "http", "ws":
			port = "80"
		case "https", "wss":
			port = "443"
		}
	}
	return scheme + "://" + strings.ToLower(u.Hostname()) + ":" + port
}
