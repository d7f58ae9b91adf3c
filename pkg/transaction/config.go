package transaction

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/url"
	"time"
)

// Config configures the transports behind a Factory.
type Config struct {
	// ResponseHeaderTimeout bounds the wait for response headers after the
	// request is written.
	// Default: 30s. Must be > 0.
	ResponseHeaderTimeout time.Duration

	// DialTimeout bounds TCP connection setup.
	// Default: 10s. Must be > 0.
	DialTimeout time.Duration

	// TLSHandshakeTimeout bounds the TLS handshake.
	// Default: 10s. Must be > 0.
	TLSHandshakeTimeout time.Duration

	// IdleConnTimeout is how long an idle pooled connection is kept.
	// Default: 90s.
	IdleConnTimeout time.Duration

	// MaxIdleConns caps idle connections across all hosts.
	// Default: 100.
	MaxIdleConns int

	// MaxIdleConnsPerHost caps idle connections per host.
	// Default: 10.
	MaxIdleConnsPerHost int

	// EnableHTTP2 negotiates HTTP/2 over TLS.
	// Default: true.
	EnableHTTP2 bool

	// HTTP2ReadIdleTimeout sends a health-check ping on an HTTP/2
	// connection that has been silent this long. Zero disables pings.
	// Default: 30s.
	HTTP2ReadIdleTimeout time.Duration

	// Proxy is the proxy URL. Empty uses the environment
	// (HTTPS_PROXY, HTTP_PROXY, NO_PROXY).
	Proxy string

	// RootCAs overrides the system roots.
	RootCAs *x509.CertPool

	// MinTLSVersion is the minimum TLS version.
	// Default: TLS 1.2.
	MinTLSVersion uint16
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ResponseHeaderTimeout: 30 * time.Second,
		DialTimeout:           10 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		EnableHTTP2:           true,
		HTTP2ReadIdleTimeout:  30 * time.Second,
		MinTLSVersion:         tls.VersionTLS12,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.ResponseHeaderTimeout <= 0 {
		return fmt.Errorf("response_header_timeout must be > 0, got %v", c.ResponseHeaderTimeout)
	}
	if c.DialTimeout <= 0 {
		return fmt.Errorf("dial_timeout must be > 0, got %v", c.DialTimeout)
	}
	if c.TLSHandshakeTimeout <= 0 {
		return fmt.Errorf("tls_handshake_timeout must be > 0, got %v", c.TLSHandshakeTimeout)
	}
	if c.MaxIdleConns < 0 || c.MaxIdleConnsPerHost < 0 {
		return fmt.Errorf("idle connection limits must be >= 0")
	}
	if c.HTTP2ReadIdleTimeout < 0 {
		return fmt.Errorf("http2_read_idle_timeout must be >= 0, got %v", c.HTTP2ReadIdleTimeout)
	}
	if c.Proxy != "" {
		u, err := url.Parse(c.Proxy)
		if err != nil || u.Host == "" {
			return fmt.Errorf("proxy must be an absolute URL, got %q", c.Proxy)
		}
	}
	switch c.MinTLSVersion {
	case 0, tls.VersionTLS12, tls.VersionTLS13:
	default:
		return fmt.Errorf("min_tls_version must be TLS 1.2 or 1.3, got %#x", c.MinTLSVersion)
	}
	return nil
}
