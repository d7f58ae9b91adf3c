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

package credentials

import (
	"context"
	"errors"
	"testing"

	"github.com/zalando/go-keyring"

	joberrors "github.com/tombee/httpjob/pkg/errors"
	"github.com/tombee/httpjob/pkg/httpjob"
)

func TestKey(t *testing.T) {
	tests := []struct {
		name      string
		challenge httpjob.AuthChallenge
		want      string
	}{
		{"server", httpjob.AuthChallenge{Challenger: "https://Example.com:443", Realm: "api"}, "https://example.com:443 api"},
		{"no realm", httpjob.AuthChallenge{Challenger: "http://a.test:80"}, "http://a.test:80"},
		{"proxy", httpjob.AuthChallenge{IsProxy: true, Challenger: "http://proxy:3128", Realm: "corp"}, "proxy http://proxy:3128 corp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Key(&tt.challenge); got != tt.want {
				t.Errorf("Key() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStaticAndChain(t *testing.T) {
	challenge := &httpjob.AuthChallenge{Challenger: "https://example.com:443"}

	if _, ok := (Static{}).Lookup(challenge); ok {
		t.Error("empty static credentials should not answer")
	}

	s := ParseStatic("alice:pa:ss")
	creds, ok := s.Lookup(challenge)
	if !ok || creds.Username != "alice" || creds.Password != "pa:ss" {
		t.Errorf("Lookup() = %+v, %v", creds, ok)
	}

	chain := Chain{nil, Static{}, s}
	creds, ok = chain.Lookup(challenge)
	if !ok || creds.Username != "alice" {
		t.Errorf("Chain.Lookup() = %+v, %v", creds, ok)
	}
	if _, ok := (Chain{}).Lookup(challenge); ok {
		t.Error("empty chain should not answer")
	}
}

func TestKeyring(t *testing.T) {
	keyring.MockInit()
	k := NewKeyring("httpjob-test", nil)
	if !k.Available() {
		t.Fatal("mock keyring should be available")
	}
	ctx := context.Background()
	challenge := &httpjob.AuthChallenge{Challenger: "https://example.com:443", Scheme: "basic", Realm: "api"}

	if _, ok := k.Lookup(challenge); ok {
		t.Fatal("Lookup found credentials in an empty keyring")
	}
	_, err := k.Get(ctx, Key(challenge))
	var nf *joberrors.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("Get() error = %v, want NotFoundError", err)
	}

	want := httpjob.AuthCredentials{Username: "bob", Password: "s3cr:et"}
	if err := k.Set(ctx, Key(challenge), want); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, ok := k.Lookup(challenge)
	if !ok || got != want {
		t.Errorf("Lookup() = %+v, %v, want %+v", got, ok, want)
	}

	if err := k.Set(ctx, "x", httpjob.AuthCredentials{Username: "a:b"}); err == nil {
		t.Error("Set() accepted a username containing ':'")
	}

	if err := k.Delete(ctx, Key(challenge)); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := k.Delete(ctx, Key(challenge)); !errors.As(err, &nf) {
		t.Errorf("second Delete() error = %v, want NotFoundError", err)
	}
}

func TestKeyringUnavailable(t *testing.T) {
	keyring.MockInitWithError(errors.New("dbus: connection refused"))
	defer keyring.MockInit()

	k := NewKeyring("", nil)
	if k.Available() {
		t.Fatal("keyring should be unavailable")
	}
	if _, err := k.Get(context.Background(), "k"); !errors.Is(err, ErrKeyringUnavailable) {
		t.Errorf("Get() error = %v, want ErrKeyringUnavailable", err)
	}
	if _, ok := k.Lookup(&httpjob.AuthChallenge{}); ok {
		t.Error("Lookup() answered from an unavailable keyring")
	}
}

func TestPrompter(t *testing.T) {
	keyring.MockInit()
	k := NewKeyring("httpjob-prompt-test", nil)
	challenge := &httpjob.AuthChallenge{Challenger: "https://example.com:443", Scheme: "basic", Realm: "r"}

	p := NewPrompter(k)
	p.nonInteractive = func() bool { return false }
	var offered bool
	p.ask = func(_ context.Context, _ *httpjob.AuthChallenge, creds *httpjob.AuthCredentials, save *bool, offerSave bool) error {
		offered = offerSave
		creds.Username = "carol"
		creds.Password = "pw"
		*save = true
		return nil
	}

	creds, ok, err := p.Prompt(context.Background(), challenge)
	if err != nil || !ok {
		t.Fatalf("Prompt() = %+v, %v, %v", creds, ok, err)
	}
	if !offered {
		t.Error("saving should be offered when the keyring is available")
	}
	if saved, ok := k.Lookup(challenge); !ok || saved.Username != "carol" {
		t.Errorf("saved credentials = %+v, %v", saved, ok)
	}
}

func TestPrompter_NonInteractive(t *testing.T) {
	p := NewPrompter(nil)
	p.nonInteractive = func() bool { return true }
	p.ask = func(context.Context, *httpjob.AuthChallenge, *httpjob.AuthCredentials, *bool, bool) error {
		t.Fatal("form should not run")
		return nil
	}
	if _, ok, err := p.Prompt(context.Background(), &httpjob.AuthChallenge{}); ok || err != nil {
		t.Errorf("Prompt() = %v, %v, want no answer", ok, err)
	}
}

func TestPrompter_EmptyUsername(t *testing.T) {
	p := NewPrompter(nil)
	p.nonInteractive = func() bool { return false }
	p.ask = func(context.Context, *httpjob.AuthChallenge, *httpjob.AuthCredentials, *bool, bool) error {
		return nil
	}
	if _, ok, _ := p.Prompt(context.Background(), &httpjob.AuthChallenge{}); ok {
		t.Error("an empty username should cancel")
	}
}

func TestIsNonInteractive(t *testing.T) {
	t.Setenv("HTTPJOB_NON_INTERACTIVE", "true")
	if !IsNonInteractive() {
		t.Error("HTTPJOB_NON_INTERACTIVE=true should force non-interactive")
	}

	t.Setenv("HTTPJOB_NON_INTERACTIVE", "")
	t.Setenv("CI", "true")
	if !IsNonInteractive() {
		t.Error("CI=true should force non-interactive")
	}
}
