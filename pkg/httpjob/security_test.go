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


package httpjob

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runSecurityHeaders(t *testing.T, rawURL string, ssl SSLInfo, header http.Header) (*fakeSecurity, *harness) {
	t.Helper()
	ri := okResponse(header)
	ri.SSLInfo = ssl
	txn := &fakeTransaction{response: ri}
	h := newHarness(t, txn)
	security := &fakeSecurity{}
	h.ctx.Security = security
	job := h.newJob(rawURL)
	job.req.Isolation.PartitionKey = "https://top.example"

	job.Start()
	h.run()
	require.Len(t, h.delegate.started, 1)
	return security, h
}

func TestSecurity_HSTS(t *testing.T) {
	valid := SSLInfo{Valid: true}

	t.Run("first value wins", func(t *testing.T) {
		security, h := runSecurityHeaders(t, "https://example.com/", valid, http.Header{
			"Strict-Transport-Security": {"max-age=100; includeSubDomains", "max-age=200"},
		})
		assert.Equal(t, map[string]string{"example.com": "max-age=100; includeSubDomains"}, security.hsts)
		assert.Contains(t, h.observer.security, "Strict-Transport-Security")
	})

	t.Run("first element of a merged line", func(t *testing.T) {
		security, _ := runSecurityHeaders(t, "https://example.com/", valid, http.Header{
			"Strict-Transport-Security": {"max-age=100, max-age=0"},
		})
		assert.Equal(t, "max-age=100", security.hsts["example.com"])
	})

	t.Run("certificate error bits", func(t *testing.T) {
		security, _ := runSecurityHeaders(t, "https://example.com/",
			SSLInfo{Valid: true, CertStatus: CertStatusDateInvalid},
			http.Header{"Strict-Transport-Security": {"max-age=100"}})
		assert.Empty(t, security.hsts)
	})

	t.Run("non-error status bits", func(t *testing.T) {
		security, _ := runSecurityHeaders(t, "https://example.com/",
			SSLInfo{Valid: true, CertStatus: CertStatusRevCheckingEnabled | CertStatusIsEV},
			http.Header{"Strict-Transport-Security": {"max-age=100"}})
		assert.Len(t, security.hsts, 1)
	})

	t.Run("ip literal", func(t *testing.T) {
		security, _ := runSecurityHeaders(t, "https://203.0.113.5/", valid,
			http.Header{"Strict-Transport-Security": {"max-age=100"}})
		assert.Empty(t, security.hsts)
	})

	t.Run("ipv6 literal", func(t *testing.T) {
		security, _ := runSecurityHeaders(t, "https://[2001:db8::1]/", valid,
			http.Header{"Strict-Transport-Security": {"max-age=100"}})
		assert.Empty(t, security.hsts)
	})

	t.Run("no tls", func(t *testing.T) {
		security, _ := runSecurityHeaders(t, "http://example.com/", SSLInfo{},
			http.Header{"Strict-Transport-Security": {"max-age=100"}})
		assert.Empty(t, security.hsts)
	})
}

func TestSecurity_ExpectCT(t *testing.T) {
	t.Run("merged value", func(t *testing.T) {
		security, _ := runSecurityHeaders(t, "https://example.com/", SSLInfo{Valid: true, CTCompliant: true},
			http.Header{"Expect-Ct": {"max-age=10", `enforce, report-uri="https://r.example"`}})
		assert.Equal(t, []string{`max-age=10, enforce, report-uri="https://r.example"`}, security.expectCT)
		assert.Equal(t, []string{"example.com:443"}, security.ctHostPort)
	})

	t.Run("explicit port", func(t *testing.T) {
		security, _ := runSecurityHeaders(t, "https://example.com:8443/", SSLInfo{Valid: true},
			http.Header{"Expect-Ct": {"max-age=10"}})
		assert.Equal(t, []string{"example.com:8443"}, security.ctHostPort)
	})

	t.Run("certificate error", func(t *testing.T) {
		security, _ := runSecurityHeaders(t, "https://example.com/",
			SSLInfo{Valid: true, CertStatus: CertStatusAuthorityInvalid},
			http.Header{"Expect-Ct": {"max-age=10"}})
		assert.Empty(t, security.expectCT)
	})
}

func TestHostPort(t *testing.T) {
	assert.Equal(t, "example.com:443", hostPort("example.com", "", "https"))
	assert.Equal(t, "example.com:443", hostPort("example.com", "", "wss"))
	assert.Equal(t, "example.com:80", hostPort("example.com", "", "http"))
	assert.Equal(t, "[::1]:8080", hostPort("::1", "8080", "http"))
}

func TestCertStatus_IsError(t *testing.T) {
	assert.False(t, CertStatus(0).IsError())
	assert.False(t, (CertStatusIsEV | CertStatusRevCheckingEnabled).IsError())
	assert.True(t, CertStatusKnownInterceptionBlocked.IsError())
	assert.True(t, (CertStatusWeakKey | CertStatusIsEV).IsError())
}
