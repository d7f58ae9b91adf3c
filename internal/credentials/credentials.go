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

// Package credentials supplies HTTP authentication credentials from the
// system keyring, static configuration or an interactive prompt.
package credentials

import (
	"strings"

	"github.com/tombee/httpjob/pkg/httpjob"
)

// Source looks up credentials for a challenge. It matches
// transaction.AmbientCredentials.
type Source interface {
	Lookup(challenge *httpjob.AuthChallenge) (httpjob.AuthCredentials, bool)
}

// Key returns the account name credentials for a challenge are stored
// under: the challenger origin and realm, prefixed with "proxy " for proxy
// challenges.
func Key(c *httpjob.AuthChallenge) string {
	var b strings.Builder
	if c.IsProxy {
		b.WriteString("proxy ")
	}
	b.WriteString(strings.ToLower(c.Challenger))
	if c.Realm != "" {
		b.WriteString(" ")
		b.WriteString(c.Realm)
	}
	return b.String()
}

// Static answers every challenge with the same credentials.
type Static httpjob.AuthCredentials

// ParseStatic parses "user:password". A missing password is empty.
func ParseStatic(s string) Static {
	user, pass, _ := strings.Cut(s, ":")
	return Static{Username: user, Password: pass}
}

func (s Static) Lookup(*httpjob.AuthChallenge) (httpjob.AuthCredentials, bool) {
	creds := httpjob.AuthCredentials(s)
	return creds, !creds.IsEmpty()
}

// Chain tries each source in order.
type Chain []Source

func (c Chain) Lookup(challenge *httpjob.AuthChallenge) (httpjob.AuthCredentials, bool) {
	for _, s := range c {
		if s == nil {
			continue
		}
		if creds, ok := s.Lookup(challenge); ok {
			return creds, true
		}
	}
	return httpjob.AuthCredentials{}, false
}
