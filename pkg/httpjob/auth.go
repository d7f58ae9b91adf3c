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
	"time"

	"github.com/tombee/httpjob/pkg/errors"
)

// ErrNoAuthChallenge is returned by SetAuth when no challenge is pending.
var ErrNoAuthChallenge = errors.New("no authentication challenge pending")

// ProxyAuthState returns the proxy side of the auth exchange.
func (j *HTTPJob) ProxyAuthState() AuthState { return j.proxyAuth }

// ServerAuthState returns the origin side of the auth exchange.
func (j *HTTPJob) ServerAuthState() AuthState { return j.serverAuth }

// NeedsAuth reports whether the current response is a challenge the
// consumer should answer. A 407 or 401 marks the matching side as needed
// unless the consumer already canceled it.
func (j *HTTPJob) NeedsAuth() bool {
	switch j.ResponseCode() {
	case 407:
		if j.proxyAuth == AuthStateCanceled {
			return false
		}
		j.proxyAuth = AuthStateNeeded
		return true
	case 401:
		if j.serverAuth == AuthStateCanceled {
			return false
		}
		j.serverAuth = AuthStateNeeded
		return true
	}
	return false
}

// AuthChallenge returns the challenge of the current response, if any.
func (j *HTTPJob) AuthChallenge() *AuthChallenge {
	if j.response != nil && j.response.AuthChallenge != nil {
		c := *j.response.AuthChallenge
		return &c
	}
	return &AuthChallenge{
		IsProxy:    j.ResponseCode() == 407,
		Challenger: j.req.URL.Scheme + "://" + j.req.URL.Host,
	}
}

// SetAuth answers the pending challenge, proxy first, and restarts the
// transaction with creds.
func (j *HTTPJob) SetAuth(creds AuthCredentials) error {
	if j.txn == nil || j.done {
		return ErrNoAuthChallenge
	}
	switch {
	case j.proxyAuth == AuthStateNeeded:
		j.proxyAuth = AuthStateSatisfied
	case j.serverAuth == AuthStateNeeded:
		j.serverAuth = AuthStateSatisfied
	default:
		return ErrNoAuthChallenge
	}

	j.restarts++
	j.observer.Restarted(j.req, RestartAuth)
	j.restartTransactionWithAuth(creds)
	return nil
}

// CancelAuth declines the pending challenge. The challenge response is
// then delivered to the consumer as an ordinary response.
func (j *HTTPJob) CancelAuth() error {
	switch {
	case j.proxyAuth == AuthStateNeeded:
		j.proxyAuth = AuthStateCanceled
	case j.serverAuth == AuthStateNeeded:
		j.serverAuth = AuthStateCanceled
	default:
		return ErrNoAuthChallenge
	}

	j.resetTimer()
	j.post(j.notifyFinalHeadersReceived)
	return nil
}

// restartTransactionWithAuth reruns the request from the cookie step.
// The jar is read again because new credentials can change which cookies
// are allowed.
func (j *HTTPJob) restartTransactionWithAuth(creds AuthCredentials) {
	j.credentials = creds

	j.response = nil
	j.override = HeadersOverride{}
	j.receiveHeadersEnd = time.Time{}
	j.resetTimer()

	j.info.ExtraHeaders.Del("Cookie")
	j.maybeSent = nil
	j.maybeStored = nil

	j.addCookieHeaderAndStart()
}
