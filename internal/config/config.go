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

// Package config loads httpjob configuration from a YAML file, defaults
// and HTTPJOB_* environment variables.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tombee/httpjob/internal/log"
	"github.com/tombee/httpjob/internal/policy"
	"github.com/tombee/httpjob/internal/tracing"
	joberrors "github.com/tombee/httpjob/pkg/errors"
	"github.com/tombee/httpjob/pkg/throttle"
	"github.com/tombee/httpjob/pkg/transaction"
)

var (
	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

// HSTSMemory as Security.HSTSDatabase keeps HSTS state in memory only.
const HSTSMemory = "memory"

// Config represents the complete httpjob configuration.
type Config struct {
	Log         log.Config        `yaml:"log"`
	Transport   TransportConfig   `yaml:"transport"`
	Throttle    ThrottleConfig    `yaml:"throttle"`
	Policy      policy.Config     `yaml:"policy"`
	Security    SecurityConfig    `yaml:"security"`
	UserAgent   UserAgentConfig   `yaml:"user_agent"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Fetch       FetchConfig       `yaml:"fetch"`
	Tracing     tracing.Config    `yaml:"tracing"`
}

// TransportConfig configures connections. It mirrors transaction.Config
// in a form YAML can express.
type TransportConfig struct {
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout"`
	DialTimeout           time.Duration `yaml:"dial_timeout"`
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout"`
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout"`
	MaxIdleConns          int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host"`
	EnableHTTP2           bool          `yaml:"enable_http2"`
	HTTP2ReadIdleTimeout  time.Duration `yaml:"http2_read_idle_timeout"`

	// Proxy is the proxy URL.
	// Environment: HTTPJOB_PROXY
	// Default: taken from HTTPS_PROXY, HTTP_PROXY and NO_PROXY
	Proxy string `yaml:"proxy,omitempty"`

	// CAFile is a PEM bundle replacing the system roots.
	// Environment: HTTPJOB_CA_FILE
	CAFile string `yaml:"ca_file,omitempty"`

	// MinTLSVersion is "1.2" or "1.3".
	MinTLSVersion string `yaml:"min_tls_version"`
}

// ThrottleConfig enables and tunes the per-URL throttler.
type ThrottleConfig struct {
	// Enabled turns throttling on.
	// Environment: HTTPJOB_THROTTLE
	// Default: true
	Enabled bool `yaml:"enabled"`

	throttle.Config `yaml:",inline"`
}

// SecurityConfig configures HSTS and Expect-CT state.
type SecurityConfig struct {
	// HSTSDatabase is the SQLite file HSTS and Expect-CT state persists to.
	// "memory" disables persistence.
	// Environment: HTTPJOB_HSTS_DB
	// Default: <data dir>/hsts.db
	HSTSDatabase string `yaml:"hsts_database,omitempty"`

	// Preload lists hosts that are always upgraded to HTTPS, subdomains
	// included.
	Preload []string `yaml:"preload,omitempty"`
}

// UserAgentConfig configures the User-Agent and Accept-Language headers.
type UserAgentConfig struct {
	Product string `yaml:"product"`
	Version string `yaml:"version"`

	// Override replaces the generated User-Agent.
	// Environment: HTTPJOB_USER_AGENT
	Override string `yaml:"override,omitempty"`

	// Languages are BCP 47 tags in preference order.
	// Default: ["en-US"]
	Languages []string `yaml:"languages"`
}

// CredentialsConfig configures where auth credentials come from.
type CredentialsConfig struct {
	// Keyring looks credentials up in the system keyring.
	// Environment: HTTPJOB_KEYRING
	// Default: true
	Keyring bool `yaml:"keyring"`

	// Service is the keyring service name.
	// Default: httpjob
	Service string `yaml:"service"`

	// Prompt asks on the terminal when no stored credentials answer a
	// challenge.
	// Default: true
	Prompt bool `yaml:"prompt"`
}

// FetchConfig configures the request driver.
type FetchConfig struct {
	// MaxRedirects caps the redirects followed per fetch.
	// Environment: HTTPJOB_MAX_REDIRECTS
	// Default: 20
	MaxRedirects int `yaml:"max_redirects"`

	// Timeout bounds a whole fetch, body included. Zero means no limit.
	// Environment: HTTPJOB_TIMEOUT
	// Default: 5m
	Timeout time.Duration `yaml:"timeout"`

	// Cookies enables the in-memory cookie jar.
	// Default: true
	Cookies bool `yaml:"cookies"`

	// MaxAuthAttempts caps how often one fetch answers auth challenges.
	// Default: 3
	MaxAuthAttempts int `yaml:"max_auth_attempts"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	tc := transaction.DefaultConfig()
	return &Config{
		Log: log.Config{
			Level:  "warn",
			Format: log.FormatText,
		},
		Transport: TransportConfig{
			ResponseHeaderTimeout: tc.ResponseHeaderTimeout,
			DialTimeout:           tc.DialTimeout,
			TLSHandshakeTimeout:   tc.TLSHandshakeTimeout,
			IdleConnTimeout:       tc.IdleConnTimeout,
			MaxIdleConns:          tc.MaxIdleConns,
			MaxIdleConnsPerHost:   tc.MaxIdleConnsPerHost,
			EnableHTTP2:           tc.EnableHTTP2,
			HTTP2ReadIdleTimeout:  tc.HTTP2ReadIdleTimeout,
			MinTLSVersion:         "1.2",
		},
		Throttle: ThrottleConfig{
			Enabled: true,
			Config:  throttle.DefaultConfig(),
		},
		Policy: *policy.DefaultConfig(),
		UserAgent: UserAgentConfig{
			Product:   "httpjob",
			Version:   "dev",
			Languages: []string{"en-US"},
		},
		Credentials: CredentialsConfig{
			Keyring: true,
			Prompt:  true,
		},
		Fetch: FetchConfig{
			MaxRedirects:    20,
			Timeout:         5 * time.Minute,
			Cookies:         true,
			MaxAuthAttempts: 3,
		},
		Tracing: tracing.DefaultConfig(),
	}
}

// Load loads configuration from an optional YAML file and environment
// variables. Environment variables take precedence over the file.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &joberrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	cfg.applyDefaults()
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, &joberrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}
	return cfg, nil
}

// applyDefaults fills in zero values left by a minimal file.
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}

	t, dt := &c.Transport, defaults.Transport
	if t.ResponseHeaderTimeout == 0 {
		t.ResponseHeaderTimeout = dt.ResponseHeaderTimeout
	}
	if t.DialTimeout == 0 {
		t.DialTimeout = dt.DialTimeout
	}
	if t.TLSHandshakeTimeout == 0 {
		t.TLSHandshakeTimeout = dt.TLSHandshakeTimeout
	}
	if t.MinTLSVersion == "" {
		t.MinTLSVersion = dt.MinTLSVersion
	}

	// RequestsPerSecond is left alone: zero disables the cap.
	th, dth := &c.Throttle.Config, defaults.Throttle.Config
	if th.InitialBackoff == 0 {
		th.InitialBackoff = dth.InitialBackoff
	}
	if th.MaxBackoff == 0 {
		th.MaxBackoff = dth.MaxBackoff
	}
	if th.Multiplier == 0 {
		th.Multiplier = dth.Multiplier
	}
	if th.EntryLifetime == 0 {
		th.EntryLifetime = dth.EntryLifetime
	}

	if c.UserAgent.Product == "" {
		c.UserAgent.Product = defaults.UserAgent.Product
	}
	if c.UserAgent.Version == "" {
		c.UserAgent.Version = defaults.UserAgent.Version
	}
	if len(c.UserAgent.Languages) == 0 {
		c.UserAgent.Languages = defaults.UserAgent.Languages
	}

	if c.Fetch.MaxRedirects == 0 {
		c.Fetch.MaxRedirects = defaults.Fetch.MaxRedirects
	}
	if c.Fetch.MaxAuthAttempts == 0 {
		c.Fetch.MaxAuthAttempts = defaults.Fetch.MaxAuthAttempts
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = defaults.Tracing.ServiceName
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = defaults.Tracing.Exporter
	}
}

// loadFromFile loads configuration from a YAML file.
func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// loadFromEnv loads configuration from environment variables.
func (c *Config) loadFromEnv() {
	c.Log.ApplyEnv()

	if val := os.Getenv("HTTPJOB_PROXY"); val != "" {
		c.Transport.Proxy = val
	}
	if val := os.Getenv("HTTPJOB_CA_FILE"); val != "" {
		c.Transport.CAFile = val
	}
	if val := os.Getenv("HTTPJOB_THROTTLE"); val != "" {
		c.Throttle.Enabled = parseBool(val)
	}
	if val := os.Getenv("HTTPJOB_HSTS_DB"); val != "" {
		c.Security.HSTSDatabase = val
	}
	if val := os.Getenv("HTTPJOB_USER_AGENT"); val != "" {
		c.UserAgent.Override = val
	}
	if val := os.Getenv("HTTPJOB_KEYRING"); val != "" {
		c.Credentials.Keyring = parseBool(val)
	}
	if val := os.Getenv("HTTPJOB_MAX_REDIRECTS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Fetch.MaxRedirects = n
		}
	}
	if val := os.Getenv("HTTPJOB_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Fetch.Timeout = d
		}
	}
	if val := os.Getenv("HTTPJOB_TRACING_EXPORTER"); val != "" {
		c.Tracing.Exporter = strings.ToLower(val)
		c.Tracing.Enabled = c.Tracing.Exporter != tracing.ExporterNone
	}
}

func parseBool(val string) bool {
	return val == "1" || strings.ToLower(val) == "true"
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Sprintf("log.level must be one of trace, debug, info, warn, error, got %q", c.Log.Level))
	}
	switch c.Log.Format {
	case log.FormatJSON, log.FormatText:
	default:
		errs = append(errs, fmt.Sprintf("log.format must be json or text, got %q", c.Log.Format))
	}

	if _, err := c.Transport.transactionConfig(nil); err != nil {
		errs = append(errs, "transport: "+err.Error())
	}
	if c.Transport.CAFile != "" {
		if _, err := os.Stat(c.Transport.CAFile); err != nil {
			errs = append(errs, fmt.Sprintf("transport.ca_file: %v", err))
		}
	}

	if c.Throttle.Enabled {
		if err := c.Throttle.Config.Validate(); err != nil {
			errs = append(errs, "throttle: "+err.Error())
		}
	}
	if err := c.Policy.Validate(); err != nil {
		errs = append(errs, "policy: "+err.Error())
	}
	for _, host := range c.Security.Preload {
		if host == "" || strings.ContainsAny(host, "/:") {
			errs = append(errs, fmt.Sprintf("security.preload entries must be host names, got %q", host))
		}
	}

	if c.Fetch.MaxRedirects < 0 {
		errs = append(errs, fmt.Sprintf("fetch.max_redirects must be >= 0, got %d", c.Fetch.MaxRedirects))
	}
	if c.Fetch.Timeout < 0 {
		errs = append(errs, fmt.Sprintf("fetch.timeout must be >= 0, got %v", c.Fetch.Timeout))
	}
	if c.Fetch.MaxAuthAttempts < 0 {
		errs = append(errs, fmt.Sprintf("fetch.max_auth_attempts must be >= 0, got %d", c.Fetch.MaxAuthAttempts))
	}

	if err := c.Tracing.Validate(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}

// TransactionConfig converts the transport section, loading CAFile.
func (c *Config) TransactionConfig() (transaction.Config, error) {
	var pool *x509.CertPool
	if c.Transport.CAFile != "" {
		pem, err := os.ReadFile(c.Transport.CAFile)
		if err != nil {
			return transaction.Config{}, &joberrors.ConfigError{Key: "transport.ca_file", Reason: "failed to read CA bundle", Cause: err}
		}
		pool = x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return transaction.Config{}, &joberrors.ConfigError{Key: "transport.ca_file", Reason: "no certificates found"}
		}
	}
	return c.Transport.transactionConfig(pool)
}

func (t TransportConfig) transactionConfig(roots *x509.CertPool) (transaction.Config, error) {
	tc := transaction.Config{
		ResponseHeaderTimeout: t.ResponseHeaderTimeout,
		DialTimeout:           t.DialTimeout,
		TLSHandshakeTimeout:   t.TLSHandshakeTimeout,
		IdleConnTimeout:       t.IdleConnTimeout,
		MaxIdleConns:          t.MaxIdleConns,
		MaxIdleConnsPerHost:   t.MaxIdleConnsPerHost,
		EnableHTTP2:           t.EnableHTTP2,
		HTTP2ReadIdleTimeout:  t.HTTP2ReadIdleTimeout,
		Proxy:                 t.Proxy,
		RootCAs:               roots,
	}
	switch t.MinTLSVersion {
	case "", "1.2":
		tc.MinTLSVersion = tls.VersionTLS12
	case "1.3":
		tc.MinTLSVersion = tls.VersionTLS13
	default:
		return tc, fmt.Errorf("min_tls_version must be \"1.2\" or \"1.3\", got %q", t.MinTLSVersion)
	}
	return tc, tc.Validate()
}

// HSTSDatabasePath resolves the HSTS database location. It returns "" when
// state is kept in memory.
func (c *Config) HSTSDatabasePath() (string, error) {
	switch c.Security.HSTSDatabase {
	case HSTSMemory:
		return "", nil
	case "":
		dir, err := DataDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, "hsts.db"), nil
	}
	return c.Security.HSTSDatabase, nil
}
