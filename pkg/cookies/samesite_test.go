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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSite(t *testing.T) {
	tests := map[string]string{
		"https://www.example.com/":  "example.com",
		"https://a.b.example.co.uk": "example.co.uk",
		"http://203.0.113.5/":       "203.0.113.5",
		"http://localhost:8080/":    "localhost",
	}
	for raw, want := range tests {
		u, _ := url.Parse(raw)
		assert.Equal(t, want, Site(u), raw)
	}
	assert.Equal(t, "", Site(nil))
}

func TestComputeSameSiteContextForRequest(t *testing.T) {
	a := mustURL(t, "https://a.example.com/")
	b := mustURL(t, "https://b.example.com/")
	other := mustURL(t, "https://other.test/")
	site := SiteForCookiesFromURL(a)

	tests := []struct {
		name      string
		method    string
		chain     []*url.URL
		site      SiteForCookies
		initiator *url.URL
		mainFrame bool
		force     bool
		want      SameSiteContext
	}{
		{name: "same site no initiator", method: "GET", chain: []*url.URL{b}, site: site, want: ContextSameSiteStrict},
		{name: "same site initiator", method: "POST", chain: []*url.URL{b}, site: site, initiator: a, want: ContextSameSiteStrict},
		{name: "null site", method: "GET", chain: []*url.URL{a}, want: ContextCrossSite},
		{name: "cross site target", method: "GET", chain: []*url.URL{other}, site: site, want: ContextCrossSite},
		{name: "cross initiator navigation get", method: "GET", chain: []*url.URL{a}, site: site, initiator: other, mainFrame: true, want: ContextSameSiteLax},
		{name: "cross initiator navigation post", method: "POST", chain: []*url.URL{a}, site: site, initiator: other, mainFrame: true, want: ContextSameSiteLaxMethodUnsafe},
		{name: "cross initiator subresource", method: "GET", chain: []*url.URL{a}, site: site, initiator: other, want: ContextCrossSite},
		{name: "cross site redirect in chain", method: "GET", chain: []*url.URL{other, a}, site: site, mainFrame: true, want: ContextSameSiteLax},
		{name: "forced", method: "GET", chain: []*url.URL{other}, site: site, force: true, want: ContextSameSiteStrict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeSameSiteContextForRequest(tt.method, tt.chain, tt.site, tt.initiator, tt.mainFrame, tt.force)
			assert.Equal(t, tt.want, got, "got %s", got)
		})
	}
}

func TestComputeSameSiteContextForResponse(t *testing.T) {
	a := mustURL(t, "https://a.example.com/")
	other := mustURL(t, "https://other.test/")
	site := SiteForCookiesFromURL(a)

	assert.Equal(t, ContextSameSiteLax, ComputeSameSiteContextForResponse([]*url.URL{a}, site, nil, false, false))
	assert.Equal(t, ContextCrossSite, ComputeSameSiteContextForResponse([]*url.URL{other}, site, nil, false, false))
	assert.Equal(t, ContextCrossSite, ComputeSameSiteContextForResponse([]*url.URL{a}, site, other, false, false))
	assert.Equal(t, ContextSameSiteLax, ComputeSameSiteContextForResponse([]*url.URL{other}, site, nil, false, true))
}
