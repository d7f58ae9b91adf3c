package transaction

import (
	"crypto/tls"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.ResponseHeaderTimeout != 30*time.Second {
		t.Errorf("expected response header timeout 30s, got %v", cfg.ResponseHeaderTimeout)
	}

	if cfg.DialTimeout != 10*time.Second {
		t.Errorf("expected dial timeout 10s, got %v", cfg.DialTimeout)
	}

	if !cfg.EnableHTTP2 {
		t.Error("expected HTTP/2 to be enabled by default")
	}

	if cfg.MinTLSVersion != tls.VersionTLS12 {
		t.Errorf("expected TLS 1.2 minimum, got %#x", cfg.MinTLSVersion)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		errText string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:    "zero response header timeout",
			mutate:  func(c *Config) { c.ResponseHeaderTimeout = 0 },
			errText: "response_header_timeout must be > 0",
		},
		{
			name:    "zero dial timeout",
			mutate:  func(c *Config) { c.DialTimeout = 0 },
			errText: "dial_timeout must be > 0",
		},
		{
			name:    "zero handshake timeout",
			mutate:  func(c *Config) { c.TLSHandshakeTimeout = 0 },
			errText: "tls_handshake_timeout must be > 0",
		},
		{
			name:    "negative idle limit",
			mutate:  func(c *Config) { c.MaxIdleConnsPerHost = -1 },
			errText: "idle connection limits",
		},
		{
			name:    "negative ping interval",
			mutate:  func(c *Config) { c.HTTP2ReadIdleTimeout = -time.Second },
			errText: "http2_read_idle_timeout",
		},
		{
			name:    "relative proxy",
			mutate:  func(c *Config) { c.Proxy = "proxy.internal" },
			errText: "proxy must be an absolute URL",
		},
		{
			name:   "absolute proxy",
			mutate: func(c *Config) { c.Proxy = "http://proxy.internal:3128" },
		},
		{
			name:    "tls 1.0",
			mutate:  func(c *Config) { c.MinTLSVersion = tls.VersionTLS10 },
			errText: "min_tls_version",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()

			if tt.errText == "" {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.errText) {
				t.Errorf("expected error containing %q, got %q", tt.errText, err.Error())
			}
		})
	}
}
