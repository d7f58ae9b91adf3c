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
	"crypto/tls"
	"fmt"
	"time"
)

// Config configures how a fetch is driven.
type Config struct {
	// FollowRedirects follows redirects. When false the redirect response
	// itself is returned.
	// Default: true.
	FollowRedirects bool

	// MaxRedirects caps the redirects followed by one fetch.
	// Default: 20. Must be >= 0.
	MaxRedirects int

	// MaxAuthAttempts caps how many challenges one fetch answers with
	// credentials. Further challenges are canceled and their response is
	// returned.
	// Default: 3. Must be >= 0.
	MaxAuthAttempts int

	// IgnoreCertErrors continues past certificate errors unless the host's
	// security state makes them fatal.
	// Default: false.
	IgnoreCertErrors bool

	// ClientCertificate is presented when a server asks for one. Nil
	// continues without a certificate.
	ClientCertificate *tls.Certificate

	// Timeout bounds the whole fetch, redirects and body included.
	// Default: 0 (no limit). Must be >= 0.
	Timeout time.Duration

	// BufferSize is the size of body reads.
	// Default: 32KiB. Must be > 0.
	BufferSize int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		FollowRedirects: true,
		MaxRedirects:    20,
		MaxAuthAttempts: 3,
		BufferSize:      32 * 1024,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.MaxRedirects < 0 {
		return fmt.Errorf("max_redirects must be >= 0, got %d", c.MaxRedirects)
	}
	if c.MaxAuthAttempts < 0 {
		return fmt.Errorf("max_auth_attempts must be >= 0, got %d", c.MaxAuthAttempts)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be >= 0, got %v", c.Timeout)
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("buffer_size must be > 0, got %d", c.BufferSize)
	}
	return nil
}
