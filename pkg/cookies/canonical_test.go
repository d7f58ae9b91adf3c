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
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestCreate(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		line     string
		wantErr  ExclusionReason
		validate func(t *testing.T, c *Canonical)
	}{
		{
			name: "host only with default path",
			url:  "https://www.example.com/a/b/c",
			line: "sid=abc",
			validate: func(t *testing.T, c *Canonical) {
				assert.Equal(t, "www.example.com", c.Domain)
				assert.True(t, c.HostOnly)
				assert.Equal(t, "/a/b", c.Path)
				assert.False(t, c.IsPersistent())
			},
		},
		{
			name: "domain attribute",
			url:  "https://www.example.com/",
			line: "sid=abc; Domain=.example.com; Path=/; Secure; HttpOnly; SameSite=Strict",
			validate: func(t *testing.T, c *Canonical) {
				assert.Equal(t, "example.com", c.Domain)
				assert.False(t, c.HostOnly)
				assert.True(t, c.Secure)
				assert.True(t, c.HTTPOnly)
				assert.Equal(t, SameSiteStrict, c.SameSite)
			},
		},
		{
			name: "max-age",
			url:  "https://example.com/",
			line: "sid=abc; Max-Age=60",
			validate: func(t *testing.T, c *Canonical) {
				assert.Equal(t, testNow.Add(time.Minute), c.Expiry)
			},
		},
		{
			name: "expiry capped",
			url:  "https://example.com/",
			line: "sid=abc; Max-Age=999999999",
			validate: func(t *testing.T, c *Canonical) {
				assert.Equal(t, testNow.Add(MaxExpiryDelta), c.Expiry)
			},
		},
		{name: "unparseable", url: "https://example.com/", line: "=", wantErr: ExcludeFailureToStore},
		{name: "foreign domain", url: "https://example.com/", line: "a=b; Domain=other.com", wantErr: ExcludeInvalidDomain},
		{name: "public suffix domain", url: "https://example.co.uk/", line: "a=b; Domain=co.uk", wantErr: ExcludeInvalidDomain},
		{name: "secure from http", url: "http://example.com/", line: "a=b; Secure", wantErr: ExcludeSecureOnly},
		{name: "host prefix with domain", url: "https://example.com/", line: "__Host-a=b; Secure; Path=/; Domain=example.com", wantErr: ExcludeInvalidPrefix},
		{name: "samesite none insecure", url: "https://example.com/", line: "a=b; SameSite=None", wantErr: ExcludeSameSiteNoneInsecure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, status := Create(mustURL(t, tt.url), tt.line, testNow, nil)
			if tt.wantErr != 0 {
				assert.Nil(t, c)
				assert.True(t, status.HasExclusionReason(tt.wantErr), "status = %s", status)
				return
			}
			require.NotNil(t, c, "status = %s", status)
			assert.True(t, status.IsInclude())
			tt.validate(t, c)
		})
	}
}

func TestCreate_ServerTimeAnchorsExpires(t *testing.T) {
	server := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	line := "a=b; Expires=Sun, 01 Jun 2025 11:00:00 GMT"

	c, status := Create(mustURL(t, "https://example.com/"), line, testNow, &server)
	require.True(t, status.IsInclude())
	assert.Equal(t, testNow.Add(time.Hour), c.Expiry)

	c, _ = Create(mustURL(t, "https://example.com/"), line, testNow, nil)
	assert.True(t, c.IsExpired(testNow))
}

func TestBuildCookieLine(t *testing.T) {
	assert.Equal(t, "", BuildCookieLine(nil))
	assert.Equal(t, "a=1; b=2; bare", BuildCookieLine([]Canonical{
		{Name: "a", Value: "1"},
		{Name: "b", Value: "2"},
		{Value: "bare"},
	}))
}

func TestPathMatch(t *testing.T) {
	assert.True(t, PathMatch("/a/b", "/a"))
	assert.True(t, PathMatch("/a/", "/a/"))
	assert.True(t, PathMatch("", "/"))
	assert.False(t, PathMatch("/ab", "/a"))
	assert.False(t, PathMatch("/", "/a"))
}

func TestInclusionStatus(t *testing.T) {
	var s InclusionStatus
	assert.True(t, s.IsInclude())
	assert.Equal(t, "INCLUDE", s.String())

	s.AddExclusionReason(ExcludeUserPreferences)
	assert.True(t, s.HasOnlyExclusionReason(ExcludeUserPreferences))
	s.AddExclusionReason(ExcludeSecureOnly)
	assert.False(t, s.HasOnlyExclusionReason(ExcludeUserPreferences))
	assert.Equal(t, "EXCLUDE_SECURE_ONLY, EXCLUDE_USER_PREFERENCES", s.String())

	s.RemoveExclusionReason(ExcludeSecureOnly)
	assert.True(t, s.HasOnlyExclusionReason(ExcludeUserPreferences))
}
