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
	"fmt"
	"log/slog"
	"strings"

	"github.com/zalando/go-keyring"

	joberrors "github.com/tombee/httpjob/pkg/errors"
	"github.com/tombee/httpjob/pkg/httpjob"
)

// DefaultService is the keyring service entries are stored under.
const DefaultService = "httpjob"

// ErrKeyringUnavailable is returned when the keyring service cannot be
// reached or is locked.
var ErrKeyringUnavailable = errors.New("keyring unavailable")

// Keyring stores credentials in the system keyring.
// Supported platforms:
//   - macOS: Keychain Access
//   - Linux: Secret Service API (GNOME Keyring, KWallet)
//   - Windows: Credential Manager
//
// Values are stored as "username:password".
type Keyring struct {
	service   string
	available bool
	logger    *slog.Logger
}

// NewKeyring creates a keyring store for service. An empty service uses
// DefaultService.
func NewKeyring(service string, logger *slog.Logger) *Keyring {
	if service == "" {
		service = DefaultService
	}
	if logger == nil {
		logger = slog.Default()
	}
	k := &Keyring{service: service, available: true, logger: logger}

	// A lookup of a missing key detects locked or absent services early.
	_, err := keyring.Get(service, "__httpjob_availability_test__")
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		k.available = false
		logger.Debug("keyring unavailable", slog.String("error", err.Error()))
	}
	return k
}

// Available returns true if the keyring service is accessible.
func (k *Keyring) Available() bool {
	return k.available
}

// Get returns the credentials stored under key.
func (k *Keyring) Get(ctx context.Context, key string) (httpjob.AuthCredentials, error) {
	if !k.available {
		return httpjob.AuthCredentials{}, ErrKeyringUnavailable
	}
	value, err := keyring.Get(k.service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return httpjob.AuthCredentials{}, &joberrors.NotFoundError{Resource: "credentials", ID: key}
		}
		return httpjob.AuthCredentials{}, wrapKeyringError(err)
	}
	user, pass, _ := strings.Cut(value, ":")
	return httpjob.AuthCredentials{Username: user, Password: pass}, nil
}

// Set stores creds under key, replacing any previous entry.
func (k *Keyring) Set(ctx context.Context, key string, creds httpjob.AuthCredentials) error {
	if !k.available {
		return ErrKeyringUnavailable
	}
	if strings.Contains(creds.Username, ":") {
		return &joberrors.ValidationError{
			Field:   "username",
			Message: "username must not contain ':'",
		}
	}
	if err := keyring.Set(k.service, key, creds.Username+":"+creds.Password); err != nil {
		return wrapKeyringError(err)
	}
	return nil
}

// Delete removes the entry stored under key.
func (k *Keyring) Delete(ctx context.Context, key string) error {
	if !k.available {
		return ErrKeyringUnavailable
	}
	if err := keyring.Delete(k.service, key); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return &joberrors.NotFoundError{Resource: "credentials", ID: key}
		}
		return wrapKeyringError(err)
	}
	return nil
}

// Lookup implements Source.
func (k *Keyring) Lookup(challenge *httpjob.AuthChallenge) (httpjob.AuthCredentials, bool) {
	if !k.available || challenge == nil {
		return httpjob.AuthCredentials{}, false
	}
	creds, err := k.Get(context.Background(), Key(challenge))
	if err != nil {
		var nf *joberrors.NotFoundError
		if !errors.As(err, &nf) {
			k.logger.Warn("keyring lookup failed", slog.String("error", err.Error()))
		}
		return httpjob.AuthCredentials{}, false
	}
	return creds, true
}

func wrapKeyringError(err error) error {
	if isKeyringUnavailableError(err) {
		return fmt.Errorf("%w: %s", ErrKeyringUnavailable, err.Error())
	}
	return fmt.Errorf("keyring error: %w", err)
}

// isKeyringUnavailableError matches the messages platforms use for locked
// or inaccessible keyrings.
func isKeyringUnavailableError(err error) bool {
	errStr := strings.ToLower(err.Error())
	for _, indicator := range []string{
		"locked",
		"cannot access",
		"permission denied",
		"failed to unlock",
		"user interaction required",
		"secret service",
		"dbus",
		"user canceled",
	} {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}
