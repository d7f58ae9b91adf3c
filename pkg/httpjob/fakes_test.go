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
	"crypto/tls"
	"io"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tombee/httpjob/pkg/cookies"
	"github.com/tombee/httpjob/pkg/errors"
	"github.com/tombee/httpjob/pkg/taskrunner"
)

// fakeTransaction serves a canned response. Start completes synchronously
// unless asyncStart is set, in which case the test calls finishStart.
type fakeTransaction struct {
	response  *ResponseInfo
	responses []*ResponseInfo // consumed on each restart
	startErr  error

	asyncStart bool
	startCB    func(error)

	body      []byte
	pos       int
	chunk     int
	bodyErr   error // returned instead of io.EOF once body is exhausted
	asyncRead bool

	sent, received int64
	readyForAuth   bool

	info             *RequestInfo
	cookieHeaders    []string
	authRestarts     []AuthCredentials
	certRestarts     int
	ignoreRestarts   int
	websocketHelper  WebSocketHandshakeHelper
	priority         Priority
	closed           bool
	doneReadingCalls int
}

func (t *fakeTransaction) Start(info *RequestInfo, cb func(error)) error {
	t.info = info
	t.cookieHeaders = append(t.cookieHeaders, info.ExtraHeaders.Get("Cookie"))
	if t.asyncStart {
		t.startCB = cb
		return errors.ErrIOPending
	}
	return t.startErr
}

func (t *fakeTransaction) finishStart(err error) {
	cb := t.startCB
	t.startCB = nil
	cb(err)
}

func (t *fakeTransaction) nextResponse() {
	if len(t.responses) > 0 {
		t.response = t.responses[0]
		t.responses = t.responses[1:]
	}
}

func (t *fakeTransaction) RestartWithAuth(creds AuthCredentials, cb func(error)) error {
	t.authRestarts = append(t.authRestarts, creds)
	t.readyForAuth = false
	t.cookieHeaders = append(t.cookieHeaders, t.info.ExtraHeaders.Get("Cookie"))
	t.nextResponse()
	return nil
}

func (t *fakeTransaction) RestartWithCertificate(cert *tls.Certificate, cb func(error)) error {
	t.certRestarts++
	t.nextResponse()
	return nil
}

func (t *fakeTransaction) RestartIgnoringLastError(cb func(error)) error {
	t.ignoreRestarts++
	t.nextResponse()
	return nil
}

func (t *fakeTransaction) Read(buf []byte, cb func(int, error)) (int, error) {
	n, err := t.readSync(buf)
	if t.asyncRead {
		go cb(n, err)
		return 0, errors.ErrIOPending
	}
	return n, err
}

func (t *fakeTransaction) readSync(buf []byte) (int, error) {
	if t.pos >= len(t.body) {
		if t.bodyErr != nil {
			return 0, t.bodyErr
		}
		return 0, io.EOF
	}
	end := len(t.body)
	if t.chunk > 0 && t.pos+t.chunk < end {
		end = t.pos + t.chunk
	}
	n := copy(buf, t.body[t.pos:end])
	t.pos += n
	t.received += int64(n)
	return n, nil
}

func (t *fakeTransaction) ResponseInfo() *ResponseInfo   { return t.response }
func (t *fakeTransaction) TotalSentBytes() int64         { return t.sent }
func (t *fakeTransaction) TotalReceivedBytes() int64     { return t.received }
func (t *fakeTransaction) IsReadyToRestartForAuth() bool { return t.readyForAuth }
func (t *fakeTransaction) SetPriority(p Priority)        { t.priority = p }
func (t *fakeTransaction) DoneReading()                  { t.doneReadingCalls++ }
func (t *fakeTransaction) Close()                        { t.closed = true }

func (t *fakeTransaction) SetWebSocketHandshakeHelper(h WebSocketHandshakeHelper) {
	t.websocketHelper = h
}

type fakeFactory struct {
	txns    []*fakeTransaction
	created int
	err     error
}

func (f *fakeFactory) CreateTransaction(Priority) (Transaction, error) {
	if f.err != nil {
		return nil, f.err
	}
	t := f.txns[f.created]
	f.created++
	return t, nil
}

// recordingDelegate captures consumer notifications.
type recordingDelegate struct {
	started      []error
	redirects    []RedirectInfo
	challenges   []*AuthChallenge
	certRequests []*CertRequestInfo
	certErrors   []bool
	events       []string
}

func (d *recordingDelegate) OnResponseStarted(err error) {
	d.started = append(d.started, err)
	d.events = append(d.events, "response_started")
}

func (d *recordingDelegate) OnReceivedRedirect(info RedirectInfo) {
	d.redirects = append(d.redirects, info)
	d.events = append(d.events, "redirect")
}

func (d *recordingDelegate) OnAuthRequired(c *AuthChallenge) {
	d.challenges = append(d.challenges, c)
	d.events = append(d.events, "auth_required")
}

func (d *recordingDelegate) OnCertificateRequested(info *CertRequestInfo) {
	d.certRequests = append(d.certRequests, info)
	d.events = append(d.events, "cert_requested")
}

func (d *recordingDelegate) OnSSLCertificateError(err error, ssl SSLInfo, fatal bool) {
	d.certErrors = append(d.certErrors, fatal)
	d.events = append(d.events, "cert_error")
}

// asyncJar wraps a real jar and holds every write until the test
// releases it.
type asyncJar struct {
	*cookies.Jar
	writes []func()
}

func (a *asyncJar) SetCanonicalCookie(c *cookies.Canonical, u *url.URL, opts cookies.Options, cb func(cookies.AccessResult)) {
	a.writes = append(a.writes, func() {
		a.Jar.SetCanonicalCookie(c, u, opts, cb)
	})
}

func (a *asyncJar) release(i int) {
	a.writes[i]()
}

type fakeSecurity struct {
	upgrade    map[string]bool
	fatal      bool
	hsts       map[string]string
	expectCT   []string
	ctHostPort []string
}

func (s *fakeSecurity) ShouldUpgradeToSSL(host string) bool { return s.upgrade[host] }
func (s *fakeSecurity) ShouldSSLErrorsBeFatal(string) bool  { return s.fatal }

func (s *fakeSecurity) AddHSTSHeader(host, value string) bool {
	if s.hsts == nil {
		s.hsts = map[string]string{}
	}
	s.hsts[host] = value
	return true
}

func (s *fakeSecurity) ProcessExpectCTHeader(value, hostPort string, ctCompliant bool, isolationKey string) {
	s.expectCT = append(s.expectCT, value)
	s.ctHostPort = append(s.ctHostPort, hostPort)
}

// fakeNetworkDelegate allows everything unless told otherwise.
type fakeNetworkDelegate struct {
	beforeStartErr  error
	asyncBefore     bool
	beforeCB        func(error)
	headersErr      error
	override        *Headers
	preserveURL     *url.URL
	blockGetCookie  map[string]bool
	blockSetCookie  map[string]bool
	beforeStartSeen int
}

func (n *fakeNetworkDelegate) OnBeforeStartTransaction(req *Request, headers http.Header, cb func(error)) error {
	n.beforeStartSeen++
	if n.asyncBefore {
		n.beforeCB = cb
		return errors.ErrIOPending
	}
	return n.beforeStartErr
}

func (n *fakeNetworkDelegate) OnHeadersReceived(req *Request, original *Headers, remote string, override *HeadersOverride, cb func(error)) error {
	if n.override != nil {
		override.Headers = n.override
	}
	override.PreserveFragmentOnRedirectURL = n.preserveURL
	return n.headersErr
}

func (n *fakeNetworkDelegate) CanGetCookie(req *Request, c *cookies.Canonical) bool {
	return !n.blockGetCookie[c.Name]
}

func (n *fakeNetworkDelegate) CanSetCookie(req *Request, c *cookies.Canonical, opts cookies.Options) bool {
	return !n.blockSetCookie[c.Name]
}

type fakeThrottle struct {
	reject   bool
	statuses []int
}

func (f *fakeThrottle) RegisterRequestURL(*url.URL) ThrottlerEntry { return f }
func (f *fakeThrottle) ShouldRejectRequest(bool) bool             { return f.reject }
func (f *fakeThrottle) UpdateWithResponse(status int)              { f.statuses = append(f.statuses, status) }

type fakeUserAgent struct{}

func (fakeUserAgent) UserAgent() string      { return "httpjob-test/1.0" }
func (fakeUserAgent) AcceptLanguage() string { return "en-US,en;q=0.9" }

type recordingObserver struct {
	NopObserver
	done     []Stats
	restarts []RestartReason
	security []string
}

func (o *recordingObserver) JobDone(_ *Request, s Stats)          { o.done = append(o.done, s) }
func (o *recordingObserver) Restarted(_ *Request, r RestartReason) { o.restarts = append(o.restarts, r) }

func (o *recordingObserver) SecurityHeader(_ *Request, header string, _ bool) {
	o.security = append(o.security, header)
}

// harness wires one job to fakes on a manually drained loop.
type harness struct {
	t        *testing.T
	loop     *taskrunner.Loop
	ctx      *Context
	factory  *fakeFactory
	delegate *recordingDelegate
	observer *recordingObserver
	job      *HTTPJob
}

func newHarness(t *testing.T, txns ...*fakeTransaction) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		loop:     taskrunner.NewLoop(),
		factory:  &fakeFactory{txns: txns},
		delegate: &recordingDelegate{},
		observer: &recordingObserver{},
	}
	h.ctx = &Context{
		Transactions: h.factory,
		Runner:       h.loop,
		Observer:     h.observer,
		Now:          func() time.Time { return testNow },
	}
	return h
}

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func (h *harness) newJob(rawURL string) *HTTPJob {
	h.t.Helper()
	req := newTestRequest(h.t, rawURL)
	h.job = NewHTTPJob(h.ctx, req, h.delegate)
	return h.job
}

func (h *harness) run() {
	h.loop.RunUntilIdle()
}

// readAll drains the job's body, pumping the loop while decoder goroutines
// make progress.
func (h *harness) readAll() ([]byte, error) {
	h.t.Helper()
	var out []byte
	buf := make([]byte, 7)
	for {
		var (
			got  bool
			n    int
			rerr error
		)
		h.job.Read(buf, func(nn int, err error) {
			got, n, rerr = true, nn, err
		})
		require.Eventually(h.t, func() bool {
			h.loop.RunUntilIdle()
			return got
		}, 5*time.Second, time.Millisecond)
		out = append(out, buf[:n]...)
		if rerr != nil {
			if rerr == io.EOF {
				return out, nil
			}
			return out, rerr
		}
	}
}

func newTestRequest(t *testing.T, rawURL string) *Request {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	return &Request{
		ID:               "req-1",
		URL:              u,
		Method:           http.MethodGet,
		AllowCredentials: true,
		SiteForCookies:   cookies.SiteForCookiesFromURL(u),
	}
}

func okResponse(header http.Header) *ResponseInfo {
	if header == nil {
		header = http.Header{}
	}
	return &ResponseInfo{
		Headers: &Headers{StatusCode: http.StatusOK, Status: "200 OK", Header: header},
		SSLInfo: SSLInfo{Valid: true},
	}
}

func statusResponse(code int, header http.Header) *ResponseInfo {
	ri := okResponse(header)
	ri.Headers.StatusCode = code
	ri.Headers.Status = http.StatusText(code)
	return ri
}
