package transaction

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/http2"

	"github.com/tombee/httpjob/pkg/httpjob"
)

// AmbientCredentials supplies credentials the transaction may use to
// answer a challenge without asking the consumer, such as entries from a
// keyring.
type AmbientCredentials interface {
	Lookup(challenge *httpjob.AuthChallenge) (httpjob.AuthCredentials, bool)
}

// Factory creates transactions sharing one set of connection pools.
type Factory struct {
	cfg     Config
	logger  *slog.Logger
	ambient AmbientCredentials
	proxy   func(*http.Request) (*url.URL, error)
	traceFn func(ctx context.Context, requestID string) context.Context

	secure http.RoundTripper
	pool   *http.Transport

	// insecure serves transactions that continue past a certificate
	// error. Built on first use.
	insecureOnce sync.Once
	insecure     http.RoundTripper
	insecurePool *http.Transport
	insecureErr  error
}

// Option configures a Factory.
type Option func(*Factory)

// WithLogger sets the logger for request logging.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Factory) { f.logger = logger }
}

// WithAmbientCredentials lets transactions answer auth challenges on
// their own.
func WithAmbientCredentials(a AmbientCredentials) Option {
	return func(f *Factory) { f.ambient = a }
}

// WithTraceContext sets a hook that decorates each attempt's context, for
// example with the span of the job that owns the request.
func WithTraceContext(fn func(ctx context.Context, requestID string) context.Context) Option {
	return func(f *Factory) { f.traceFn = fn }
}

// NewFactory creates a Factory. It returns an error if cfg is invalid.
func NewFactory(cfg Config, opts ...Option) (*Factory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	f := &Factory{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(f)
	}

	f.proxy = http.ProxyFromEnvironment
	if cfg.Proxy != "" {
		u, _ := url.Parse(cfg.Proxy)
		f.proxy = http.ProxyURL(u)
	}

	pool, err := f.newTransport(false)
	if err != nil {
		return nil, err
	}
	f.pool = pool
	f.secure = newLoggingTransport(pool, f.logger)
	return f, nil
}

// CreateTransaction implements httpjob.TransactionFactory.
func (f *Factory) CreateTransaction(priority httpjob.Priority) (httpjob.Transaction, error) {
	ctx, cancel := context.WithCancel(context.Background())
	return &Transaction{
		f:        f,
		priority: priority,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// CloseIdleConnections closes idle connections in every pool.
func (f *Factory) CloseIdleConnections() {
	f.pool.CloseIdleConnections()
	if f.insecurePool != nil {
		f.insecurePool.CloseIdleConnections()
	}
}

func (f *Factory) roundTripper(ignoreCertErrors bool) (http.RoundTripper, error) {
	if !ignoreCertErrors {
		return f.secure, nil
	}
	f.insecureOnce.Do(func() {
		f.insecurePool, f.insecureErr = f.newTransport(true)
		if f.insecureErr == nil {
			f.insecure = newLoggingTransport(f.insecurePool, f.logger)
		}
	})
	return f.insecure, f.insecureErr
}

// newTransport builds a pooled transport. Response decoding is left to the
// job, so transparent decompression is off.
func (f *Factory) newTransport(skipVerify bool) (*http.Transport, error) {
	minVersion := f.cfg.MinTLSVersion
	if minVersion == 0 {
		minVersion = tls.VersionTLS12
	}

	t := &http.Transport{
		Proxy: f.proxy,
		TLSClientConfig: &tls.Config{
			MinVersion:           minVersion,
			MaxVersion:           tls.VersionTLS13,
			RootCAs:              f.cfg.RootCAs,
			InsecureSkipVerify:   skipVerify, //nolint:gosec // only after the consumer accepted the certificate error
			GetClientCertificate: clientCertificate,
		},

		MaxIdleConns:        f.cfg.MaxIdleConns,
		MaxIdleConnsPerHost: f.cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     f.cfg.IdleConnTimeout,

		DialContext: (&net.Dialer{
			Timeout:   f.cfg.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   f.cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: f.cfg.ResponseHeaderTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		DisableCompression:    true,
	}

	if f.cfg.EnableHTTP2 {
		h2, err := http2.ConfigureTransports(t)
		if err != nil {
			return nil, err
		}
		h2.ReadIdleTimeout = f.cfg.HTTP2ReadIdleTimeout
		h2.PingTimeout = 15 * time.Second
	}
	return t, nil
}

// clientCertificate answers a server's certificate request with the
// choice of the transaction that owns the handshake.
func clientCertificate(cri *tls.CertificateRequestInfo) (*tls.Certificate, error) {
	if t, ok := cri.Context().Value(transactionKey{}).(*Transaction); ok {
		return t.clientCertificate(cri)
	}
	return &tls.Certificate{}, nil
}
