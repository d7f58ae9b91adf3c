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

func TestAuth_RestartRecomputesCookies(t *testing.T) {
	jar := newTestJar()
	seedCookie(t, jar, "https://example.com/", "session=old")

	challenge := statusResponse(http.StatusUnauthorized, http.Header{
		"Set-Cookie":       {"session=new"},
		"Www-Authenticate": {`Basic realm="api"`},
	})
	challenge.AuthChallenge = &AuthChallenge{Challenger: "https://example.com", Scheme: "basic", Realm: "api"}
	txn := &fakeTransaction{
		response:  challenge,
		responses: []*ResponseInfo{okResponse(nil)},
	}
	h := newHarness(t, txn)
	h.ctx.Cookies = jar
	job := h.newJob("https://example.com/private")

	job.Start()
	h.run()

	require.Len(t, h.delegate.challenges, 1)
	assert.Equal(t, "api", h.delegate.challenges[0].Realm)
	assert.Equal(t, AuthStateNeeded, job.ServerAuthState())
	assert.Equal(t, AuthStateNotNeeded, job.ProxyAuthState())

	creds := AuthCredentials{Username: "alice", Password: "secret"}
	require.NoError(t, job.SetAuth(creds))
	assert.Equal(t, AuthStateSatisfied, job.ServerAuthState())
	h.run()

	assert.Equal(t, []AuthCredentials{creds}, txn.authRestarts)
	assert.Equal(t, []string{"session=old", "session=new"}, txn.cookieHeaders)
	assert.Equal(t, []RestartReason{RestartAuth}, h.observer.restarts)
	require.Len(t, h.delegate.started, 1)
	assert.NoError(t, h.delegate.started[0])
	assert.Equal(t, 200, job.ResponseCode())
	assert.Equal(t, 1, h.factory.created, "the transaction is restarted, not replaced")
}

func TestAuth_RestartDropsCookieHeaderWhenJarEmpties(t *testing.T) {
	jar := newTestJar()
	seedCookie(t, jar, "https://example.com/", "session=old")

	challenge := statusResponse(http.StatusUnauthorized, http.Header{
		"Set-Cookie": {"session=gone; Max-Age=0"},
	})
	txn := &fakeTransaction{response: challenge, responses: []*ResponseInfo{okResponse(nil)}}
	h := newHarness(t, txn)
	h.ctx.Cookies = jar
	job := h.newJob("https://example.com/")

	job.Start()
	h.run()
	require.NoError(t, job.SetAuth(AuthCredentials{Username: "u", Password: "p"}))
	h.run()

	assert.Equal(t, []string{"session=old", ""}, txn.cookieHeaders)
}

func TestAuth_CancelProxyAuth(t *testing.T) {
	txn := &fakeTransaction{
		response: statusResponse(http.StatusProxyAuthRequired, nil),
		body:     []byte("proxy says no"),
	}
	h := newHarness(t, txn)
	job := h.newJob("https://example.com/")

	job.Start()
	h.run()

	require.Len(t, h.delegate.challenges, 1)
	assert.True(t, h.delegate.challenges[0].IsProxy)
	assert.Equal(t, AuthStateNeeded, job.ProxyAuthState())

	require.NoError(t, job.CancelAuth())
	assert.Equal(t, AuthStateCanceled, job.ProxyAuthState())
	assert.False(t, job.NeedsAuth(), "a canceled 407 is not asked again")
	assert.Empty(t, h.delegate.started, "the response is delivered in a posted task")

	h.run()
	require.Len(t, h.delegate.started, 1)
	assert.NoError(t, h.delegate.started[0])
	assert.Len(t, h.delegate.challenges, 1)

	body, err := h.readAll()
	require.NoError(t, err)
	assert.Equal(t, "proxy says no", string(body))
}

func TestAuth_CancelServerAuth(t *testing.T) {
	txn := &fakeTransaction{response: statusResponse(http.StatusUnauthorized, nil)}
	h := newHarness(t, txn)
	job := h.newJob("https://example.com/")

	job.Start()
	h.run()
	require.NoError(t, job.CancelAuth())

	assert.Equal(t, AuthStateCanceled, job.ServerAuthState())
	assert.Equal(t, AuthStateNotNeeded, job.ProxyAuthState())
	assert.False(t, job.NeedsAuth())
}

func TestAuth_NoChallenge(t *testing.T) {
	txn := &fakeTransaction{response: okResponse(nil)}
	h := newHarness(t, txn)
	job := h.newJob("https://example.com/")

	assert.ErrorIs(t, job.SetAuth(AuthCredentials{}), ErrNoAuthChallenge)

	job.Start()
	h.run()

	assert.False(t, job.NeedsAuth())
	assert.ErrorIs(t, job.SetAuth(AuthCredentials{Username: "u"}), ErrNoAuthChallenge)
	assert.ErrorIs(t, job.CancelAuth(), ErrNoAuthChallenge)
}

func TestAuth_AmbientCredentials(t *testing.T) {
	txn := &fakeTransaction{
		response:     statusResponse(http.StatusUnauthorized, nil),
		responses:    []*ResponseInfo{okResponse(nil)},
		readyForAuth: true,
	}
	h := newHarness(t, txn)
	job := h.newJob("https://intranet.example/")

	job.Start()
	h.run()

	assert.Empty(t, h.delegate.challenges, "the transaction answered the challenge itself")
	assert.Equal(t, []AuthCredentials{{}}, txn.authRestarts)
	assert.Equal(t, []RestartReason{RestartAmbientAuth}, h.observer.restarts)
	require.Len(t, h.delegate.started, 1)
	assert.NoError(t, h.delegate.started[0])
}

func TestAuthState_String(t *testing.T) {
	assert.Equal(t, "not_needed", AuthStateNotNeeded.String())
	assert.Equal(t, "needed", AuthStateNeeded.String())
	assert.Equal(t, "satisfied", AuthStateSatisfied.String())
	assert.Equal(t, "canceled", AuthStateCanceled.String())
}
