package transaction

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tombee/httpjob/internal/tracing"
	"github.com/tombee/httpjob/pkg/errors"
	"github.com/tombee/httpjob/pkg/httpjob"
)

type transactionKey struct{}

// Transaction runs one request and its restarts over net/http. Start,
// the restarts and Read complete asynchronously; their callbacks run on
// goroutines owned by the transaction.
type Transaction struct {
	f        *Factory
	ctx      context.Context
	cancel   context.CancelFunc
	sent     atomic.Int64
	received atomic.Int64

	mu       sync.Mutex
	priority httpjob.Priority
	info     *httpjob.RequestInfo
	ws       httpjob.WebSocketHandshakeHelper
	response *httpjob.ResponseInfo
	body     io.ReadCloser
	chunked  bool
	eof      bool
	closed   bool

	// Restart state carried across attempts.
	ignoreCertErrors bool
	ignoredStatus    httpjob.CertStatus
	certChosen       bool
	clientCert       *tls.Certificate
	certRequest      *httpjob.CertRequestInfo
	authName         string
	authValue        string
	ambientTried     bool
}

// Start issues the first attempt.
func (t *Transaction) Start(info *httpjob.RequestInfo, cb func(error)) error {
	t.mu.Lock()
	t.info = info
	t.mu.Unlock()
	return t.startAttempt(cb)
}

// RestartWithAuth resends the request answering the current challenge.
// Empty credentials use ambient credentials when the factory has them.
func (t *Transaction) RestartWithAuth(creds httpjob.AuthCredentials, cb func(error)) error {
	t.mu.Lock()
	var challenge *httpjob.AuthChallenge
	if t.response != nil {
		challenge = t.response.AuthChallenge
	}
	if creds.IsEmpty() && challenge != nil && t.f.ambient != nil && !t.ambientTried {
		t.ambientTried = true
		if c, ok := t.f.ambient.Lookup(challenge); ok {
			creds = c
		}
	}
	if !creds.IsEmpty() {
		t.authName, t.authValue = authorizationHeader(challenge, creds)
	}
	t.mu.Unlock()
	return t.startAttempt(cb)
}

// RestartWithCertificate resends the request presenting cert when the
// server asks for one. A nil cert continues without.
func (t *Transaction) RestartWithCertificate(cert *tls.Certificate, cb func(error)) error {
	t.mu.Lock()
	t.certChosen = true
	t.clientCert = cert
	t.mu.Unlock()
	return t.startAttempt(cb)
}

// RestartIgnoringLastError resends the request accepting the certificate
// error of the previous attempt. The error stays visible in the status
// bits of later responses.
func (t *Transaction) RestartIgnoringLastError(cb func(error)) error {
	t.mu.Lock()
	t.ignoreCertErrors = true
	if t.response != nil {
		t.ignoredStatus |= t.response.SSLInfo.CertStatus
	}
	t.mu.Unlock()
	return t.startAttempt(cb)
}

func (t *Transaction) startAttempt(cb func(error)) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errors.ErrAborted
	}
	if t.info == nil {
		t.mu.Unlock()
		return errors.New("transaction not started")
	}
	t.discardBodyLocked()
	t.mu.Unlock()

	go func() { cb(t.roundTrip()) }()
	return errors.ErrIOPending
}

func (t *Transaction) roundTrip() error {
	t.mu.Lock()
	info := t.info
	ws := t.ws
	ignore := t.ignoreCertErrors
	authName, authValue := t.authName, t.authValue
	t.mu.Unlock()

	rt, err := t.f.roundTripper(ignore)
	if err != nil {
		return err
	}

	req, err := t.newRequest(info, ws)
	if err != nil {
		return err
	}
	if authName != "" {
		req.Header.Set(authName, authValue)
	}
	t.sent.Add(requestWireSize(req) + int64(len(info.Upload)))

	proxy := ""
	if t.f.proxy != nil {
		if u, err := t.f.proxy(req); err == nil && u != nil {
			proxy = u.Host
		}
	}

	var remote string
	trace := &httptrace.ClientTrace{
		GotConn: func(ci httptrace.GotConnInfo) {
			if ci.Conn != nil {
				remote = ci.Conn.RemoteAddr().String()
			}
		},
	}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))

	requestTime := time.Now()
	resp, err := rt.RoundTrip(req)
	if err != nil {
		return t.roundTripError(unwrapURLError(err), req.URL, proxy)
	}

	ri := &httpjob.ResponseInfo{
		Headers: &httpjob.Headers{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Header:     resp.Header.Clone(),
		},
		SSLInfo:        t.sslInfo(resp.TLS),
		ProxyServer:    proxy,
		RemoteEndpoint: remote,
		AuthChallenge:  parseChallenge(resp, challenger(req.URL, proxy, resp.StatusCode)),
		RequestTime:    requestTime,
		ResponseTime:   time.Now(),
	}
	t.received.Add(responseWireSize(resp))

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		resp.Body.Close()
		return errors.ErrAborted
	}
	t.response = ri
	t.body = &countingBody{ReadCloser: resp.Body, n: &t.received}
	t.chunked = len(resp.TransferEncoding) > 0 && resp.TransferEncoding[0] == "chunked"
	t.eof = false
	return nil
}

func (t *Transaction) newRequest(info *httpjob.RequestInfo, ws httpjob.WebSocketHandshakeHelper) (*http.Request, error) {
	u := *info.URL
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}

	ctx := context.WithValue(t.ctx, transactionKey{}, t)
	if info.RequestID != "" {
		ctx = tracing.ToContext(ctx, tracing.CorrelationID(info.RequestID))
		if t.f.traceFn != nil {
			ctx = t.f.traceFn(ctx, info.RequestID)
		}
	}

	var body io.Reader
	if len(info.Upload) > 0 {
		body = bytes.NewReader(info.Upload)
	}
	req, err := http.NewRequestWithContext(ctx, info.Method, u.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header = info.ExtraHeaders.Clone()
	if req.Header == nil {
		req.Header = http.Header{}
	}
	if host := req.Header.Get("Host"); host != "" {
		req.Host = host
		req.Header.Del("Host")
	}
	if ws != nil {
		ws.AddHandshakeHeaders(req.Header)
	}
	return req, nil
}

// roundTripError classifies a failed attempt. Certificate failures keep
// the presented chain in the response info so the consumer can decide
// whether to continue.
func (t *Transaction) roundTripError(err error, u *url.URL, proxy string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.certRequest != nil && !t.certChosen {
		t.response = &httpjob.ResponseInfo{
			ProxyServer:     proxy,
			CertRequestInfo: t.certRequest,
		}
		return errors.Wrap(errors.ErrSSLClientAuthCertNeeded, err.Error())
	}

	if ce, ok := certError(err, u.Hostname()); ok {
		t.response = &httpjob.ResponseInfo{
			ProxyServer: proxy,
			SSLInfo: httpjob.SSLInfo{
				Valid:            true,
				CertStatus:       certStatusFor(ce.Kind) | t.ignoredStatus,
				PeerCertificates: unverifiedChain(err),
			},
		}
		return ce
	}

	if t.closed || errors.Is(err, context.Canceled) {
		return errors.ErrAborted
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &errors.TimeoutError{Operation: "http request", Cause: err}
	}
	return err
}

// clientCertificate answers a CertificateRequest during a handshake this
// transaction owns.
func (t *Transaction) clientCertificate(cri *tls.CertificateRequestInfo) (*tls.Certificate, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.certChosen {
		host := ""
		if t.info != nil {
			host = t.info.URL.Host
		}
		t.certRequest = &httpjob.CertRequestInfo{Host: host, AcceptableCAs: cri.AcceptableCAs}
		return nil, errClientCertRequested
	}
	if t.clientCert == nil {
		return &tls.Certificate{}, nil
	}
	return t.clientCert, nil
}

func (t *Transaction) sslInfo(cs *tls.ConnectionState) httpjob.SSLInfo {
	if cs == nil {
		return httpjob.SSLInfo{}
	}
	t.mu.Lock()
	status := t.ignoredStatus
	t.mu.Unlock()
	return httpjob.SSLInfo{
		Valid:            true,
		CertStatus:       status,
		Version:          cs.Version,
		CipherSuite:      cs.CipherSuite,
		PeerCertificates: cs.PeerCertificates,
		CTCompliant:      len(cs.SignedCertificateTimestamps) > 0,
	}
}

// Read fills buf from the response body.
func (t *Transaction) Read(buf []byte, cb func(int, error)) (int, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, errors.ErrAborted
	}
	body, chunked := t.body, t.chunked
	if body == nil || t.eof {
		t.mu.Unlock()
		return 0, io.EOF
	}
	t.mu.Unlock()

	go func() {
		n, err := body.Read(buf)
		if err == io.EOF && n > 0 {
			t.mu.Lock()
			t.eof = true
			t.mu.Unlock()
			err = nil
		}
		if err != nil && err != io.EOF {
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			if closed {
				err = errors.ErrAborted
			} else {
				err = readError(err, chunked)
			}
		}
		cb(n, err)
	}()
	return 0, errors.ErrIOPending
}

// ResponseInfo returns the metadata of the latest attempt.
func (t *Transaction) ResponseInfo() *httpjob.ResponseInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.response
}

func (t *Transaction) TotalSentBytes() int64     { return t.sent.Load() }
func (t *Transaction) TotalReceivedBytes() int64 { return t.received.Load() }

// IsReadyToRestartForAuth reports whether ambient credentials can answer
// the current challenge and have not been tried yet.
func (t *Transaction) IsReadyToRestartForAuth() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.f.ambient == nil || t.ambientTried || t.response == nil || t.response.AuthChallenge == nil {
		return false
	}
	if t.response.AuthChallenge.Scheme != "basic" {
		return false
	}
	_, ok := t.f.ambient.Lookup(t.response.AuthChallenge)
	return ok
}

func (t *Transaction) SetWebSocketHandshakeHelper(h httpjob.WebSocketHandshakeHelper) {
	t.mu.Lock()
	t.ws = h
	t.mu.Unlock()
}

// SetPriority records the priority. net/http has no request priorities,
// so it only shows up in logs.
func (t *Transaction) SetPriority(p httpjob.Priority) {
	t.mu.Lock()
	t.priority = p
	t.mu.Unlock()
}

// DoneReading releases the connection once the body was fully consumed.
func (t *Transaction) DoneReading() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.body != nil {
		t.body.Close()
		t.body = nil
	}
}

// Close cancels any attempt in flight and releases the connection.
func (t *Transaction) Close() {
	t.mu.Lock()
	t.closed = true
	t.discardBodyLocked()
	t.mu.Unlock()
	t.cancel()
}

func (t *Transaction) discardBodyLocked() {
	if t.body == nil {
		return
	}
	t.body.Close()
	t.body = nil
	t.eof = false
}

// challenger is the origin or proxy that issued a challenge.
func challenger(u *url.URL, proxy string, statusCode int) string {
	if statusCode == http.StatusProxyAuthRequired && proxy != "" {
		return proxy
	}
	return u.Scheme + "://" + u.Host
}

type countingBody struct {
	io.ReadCloser
	n *atomic.Int64
}

func (b *countingBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	b.n.Add(int64(n))
	return n, err
}

// requestWireSize approximates the bytes of an HTTP/1.1 request head.
func requestWireSize(req *http.Request) int64 {
	size := len(req.Method) + len(req.URL.RequestURI()) + len(" HTTP/1.1\r\n") + 1
	size += len("Host: \r\n") + len(req.URL.Host)
	return int64(size) + headerWireSize(req.Header) + 2
}

func responseWireSize(resp *http.Response) int64 {
	size := len(resp.Proto) + len(resp.Status) + 3
	return int64(size) + headerWireSize(resp.Header) + 2
}

func headerWireSize(h http.Header) int64 {
	var size int
	for k, vs := range h {
		for _, v := range vs {
			size += len(k) + len(": \r\n") + len(v)
		}
	}
	return int64(size)
}

var _ httpjob.Transaction = (*Transaction)(nil)
