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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJar() *Jar {
	j := NewJar(nil)
	j.SetClock(func() time.Time { return testNow })
	return j
}

func store(t *testing.T, j *Jar, rawURL, line string, opts Options) AccessResult {
	t.Helper()
	u := mustURL(t, rawURL)
	c, status := Create(u, line, testNow, nil)
	require.True(t, status.IsInclude(), "create %q: %s", line, status)

	var got AccessResult
	called := false
	j.SetCanonicalCookie(c, u, opts, func(r AccessResult) {
		got = r
		called = true
	})
	require.True(t, called, "callback should run synchronously")
	return got
}

func TestJar_RoundTrip(t *testing.T) {
	j := newTestJar()
	strict := Options{SameSiteContext: ContextSameSiteStrict}

	assert.True(t, store(t, j, "https://example.com/", "a=1; Path=/", strict).Status.IsInclude())
	assert.True(t, store(t, j, "https://example.com/docs/x", "b=2", strict).Status.IsInclude())
	assert.True(t, store(t, j, "https://example.com/", "s=3; Secure; Path=/", strict).Status.IsInclude())
	assert.Equal(t, 3, j.Len())

	var included, excluded []WithAccessResult
	j.GetCookieListWithOptions(mustURL(t, "https://example.com/docs/page"), strict, func(in, ex []WithAccessResult) {
		included, excluded = in, ex
	})
	require.Len(t, included, 3)
	assert.Empty(t, excluded)
	assert.Equal(t, "b", included[0].Cookie.Name, "longest path first")

	j.GetCookieListWithOptions(mustURL(t, "http://example.com/"), strict, func(in, ex []WithAccessResult) {
		included, excluded = in, ex
	})
	require.Len(t, included, 1)
	require.Len(t, excluded, 1)
	assert.True(t, excluded[0].Result.Status.HasExclusionReason(ExcludeSecureOnly))
}

func TestJar_SameSiteOnRead(t *testing.T) {
	j := newTestJar()
	strict := Options{SameSiteContext: ContextSameSiteStrict}
	store(t, j, "https://example.com/", "st=1; SameSite=Strict; Path=/", strict)
	store(t, j, "https://example.com/", "lx=1; SameSite=Lax; Path=/", strict)
	store(t, j, "https://example.com/", "no=1; SameSite=None; Secure; Path=/", strict)

	var included, excluded []WithAccessResult
	j.GetCookieListWithOptions(mustURL(t, "https://example.com/"), Options{SameSiteContext: ContextSameSiteLax},
		func(in, ex []WithAccessResult) { included, excluded = in, ex })
	assert.Len(t, included, 2)
	require.Len(t, excluded, 1)
	assert.Equal(t, "st", excluded[0].Cookie.Name)

	j.GetCookieListWithOptions(mustURL(t, "https://example.com/"), Options{SameSiteContext: ContextCrossSite},
		func(in, ex []WithAccessResult) { included, excluded = in, ex })
	require.Len(t, included, 1)
	assert.Equal(t, "no", included[0].Cookie.Name)
	assert.Len(t, excluded, 2)
}

func TestJar_SetRules(t *testing.T) {
	j := newTestJar()

	res := store(t, j, "https://example.com/", "lx=1; SameSite=Lax", Options{SameSiteContext: ContextCrossSite})
	assert.True(t, res.Status.HasExclusionReason(ExcludeSameSiteLax))

	res = store(t, j, "https://example.com/", "h=1; HttpOnly", Options{ExcludeHTTPOnly: true, SameSiteContext: ContextSameSiteLax})
	assert.True(t, res.Status.HasExclusionReason(ExcludeHTTPOnly))

	store(t, j, "https://example.com/", "sec=1; Secure; Path=/", Options{SameSiteContext: ContextSameSiteLax})
	res = store(t, j, "http://example.com/", "sec=2; Path=/", Options{SameSiteContext: ContextSameSiteLax})
	assert.True(t, res.Status.HasExclusionReason(ExcludeOverwriteSecure))

	assert.Equal(t, 1, j.Len())
}

func TestJar_ExpiredCookieDeletes(t *testing.T) {
	j := newTestJar()
	lax := Options{SameSiteContext: ContextSameSiteLax}
	store(t, j, "https://example.com/", "a=1; Path=/", lax)
	require.Equal(t, 1, j.Len())

	res := store(t, j, "https://example.com/", "a=; Max-Age=0; Path=/", lax)
	assert.True(t, res.Status.IsInclude())
	assert.Equal(t, 0, j.Len())
}

func TestJar_OverwriteKeepsCreation(t *testing.T) {
	j := newTestJar()
	lax := Options{SameSiteContext: ContextSameSiteLax}
	store(t, j, "https://example.com/", "a=1; Path=/", lax)

	later := testNow.Add(time.Hour)
	j.SetClock(func() time.Time { return later })
	u := mustURL(t, "https://example.com/")
	c, _ := Create(u, "a=2; Path=/", later, nil)
	j.SetCanonicalCookie(c, u, lax, func(AccessResult) {})

	all := j.All()
	require.Len(t, all, 1)
	assert.Equal(t, "2", all[0].Value)
	assert.Equal(t, testNow, all[0].Creation)
}
