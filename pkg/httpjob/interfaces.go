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
	"net/http"
	"net/url"
	"time"

	"github.com/tombee/httpjob/pkg/cookies"
)

// Suspension points below follow one contract: a call either returns its
// result directly, or returns errors.ErrIOPending and later invokes the
// callback exactly once. Callbacks may run on any goroutine; the job
// hands every result to its runner before acting on it.

// TransactionFactory creates transactions.
type TransactionFactory interface {
	CreateTransaction(priority Priority) (Transaction, error)
}

// Transaction executes the network exchange for one request attempt and
// its restarts.
type Transaction interface {
	Start(info *RequestInfo, cb func(error)) error
	RestartWithAuth(creds AuthCredentials, cb func(error)) error
	RestartWithCertificate(cert *tls.Certificate, cb func(error)) error
	RestartIgnoringLastError(cb func(error)) error

	// Read fills buf with body bytes. End of body is (0, io.EOF).
	Read(buf []byte, cb func(int, error)) (int, error)

	ResponseInfo() *ResponseInfo
	TotalSentBytes() int64
	TotalReceivedBytes() int64

	// IsReadyToRestartForAuth reports whether the transaction can answer
	// the current challenge by itself, for example with ambient credentials.
	IsReadyToRestartForAuth() bool

	SetWebSocketHandshakeHelper(h WebSocketHandshakeHelper)
	SetPriority(p Priority)
	DoneReading()
	Close()
}

// CookieStore is the cookie jar a job reads from and writes to.
type CookieStore interface {
	GetCookieListWithOptions(u *url.URL, opts cookies.Options, cb func(included, excluded []cookies.WithAccessResult))
	SetCanonicalCookie(c *cookies.Canonical, u *url.URL, opts cookies.Options, cb func(cookies.AccessResult))
	AccessDelegate() cookies.AccessDelegate
}

// HeadersOverride is filled in by NetworkDelegate.OnHeadersReceived.
type HeadersOverride struct {
	// Headers, when set, replace the transaction's response headers for
	// everything downstream of the hook.
	Headers *Headers

	// PreserveFragmentOnRedirectURL keeps the redirect target's own
	// fragment when it equals the redirect location.
	PreserveFragmentOnRedirectURL *url.URL
}

// NetworkDelegate is the embedder's policy hook. Each hook is invoked at
// most once per call and may suspend.
type NetworkDelegate interface {
	// OnBeforeStartTransaction may edit the request headers. A non-nil,
	// non-pending error blocks the request.
	OnBeforeStartTransaction(req *Request, headers http.Header, cb func(error)) error

	// OnHeadersReceived may fill override. A non-nil, non-pending error
	// blocks the response.
	OnHeadersReceived(req *Request, original *Headers, remoteEndpoint string, override *HeadersOverride, cb func(error)) error

	CanGetCookie(req *Request, c *cookies.Canonical) bool
	CanSetCookie(req *Request, c *cookies.Canonical, opts cookies.Options) bool
}

// SecurityState stores HSTS and Expect-CT state.
type SecurityState interface {
	ShouldUpgradeToSSL(host string) bool
	ShouldSSLErrorsBeFatal(host string) bool
	AddHSTSHeader(host, value string) bool
	ProcessExpectCTHeader(value, hostPort string, ctCompliant bool, isolationKey string)
}

// ThrottlerManager hands out per-URL throttling entries.
type ThrottlerManager interface {
	RegisterRequestURL(u *url.URL) ThrottlerEntry
}

// ThrottlerEntry decides whether requests to one URL are held back.
type ThrottlerEntry interface {
	ShouldRejectRequest(maybeUserGesture bool) bool
	UpdateWithResponse(statusCode int)
}

// RedirectPolicy decides whether redirects to non-HTTP schemes are allowed.
type RedirectPolicy interface {
	IsSafeRedirectTarget(u *url.URL) bool
}

// UserAgentSettings supplies default request headers.
type UserAgentSettings interface {
	UserAgent() string
	AcceptLanguage() string
}

// Delegate receives a job's notifications. Every method is called from a
// task posted to the job's runner, never from inside a job method.
type Delegate interface {
	// OnResponseStarted reports final headers (err == nil, body readable)
	// or a failure to get them.
	OnResponseStarted(err error)
	OnReceivedRedirect(info RedirectInfo)
	OnAuthRequired(challenge *AuthChallenge)
	OnCertificateRequested(info *CertRequestInfo)
	OnSSLCertificateError(err error, ssl SSLInfo, fatal bool)
}

// RestartReason names why a transaction was restarted.
type RestartReason string

const (
	RestartAuth        RestartReason = "auth"
	RestartCertificate RestartReason = "client_certificate"
	RestartIgnoreError RestartReason = "ignore_error"
	RestartAmbientAuth RestartReason = "ambient_auth"
)

// CookieOperation is "send" or "store".
type CookieOperation string

const (
	CookieOpSend  CookieOperation = "send"
	CookieOpStore CookieOperation = "store"
)

// Stats summarize a finished job.
type Stats struct {
	// Cause is nil for jobs that finished, errors.ErrAborted for jobs torn
	// down early, or the failure.
	Cause           error
	StatusCode      int
	TotalTime       time.Duration
	WasCached       bool
	PrefilterBytes  int64
	PostfilterBytes int64
	SentBytes       int64
	ReceivedBytes   int64
	Restarts        int
}

// Observer receives lifecycle events for metrics and tracing. Calls happen
// on the runner goroutine and must not block.
type Observer interface {
	JobStarted(req *Request)
	TransactionStarted(req *Request, attempt int)
	HeadersReceived(req *Request, statusCode int, timeToFirstByte time.Duration)
	Restarted(req *Request, reason RestartReason)
	CookieInclusion(req *Request, op CookieOperation, name, domain string, status cookies.InclusionStatus)
	SecurityHeader(req *Request, header string, accepted bool)
	JobDone(req *Request, stats Stats)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) JobStarted(*Request)                          {}
func (NopObserver) TransactionStarted(*Request, int)             {}
func (NopObserver) HeadersReceived(*Request, int, time.Duration) {}
func (NopObserver) Restarted(*Request, RestartReason)            {}
func (NopObserver) SecurityHeader(*Request, string, bool)        {}
func (NopObserver) JobDone(*Request, Stats)                      {}

func (NopObserver) CookieInclusion(*Request, CookieOperation, string, string, cookies.InclusionStatus) {
}

// MultiObserver fans events out in order.
type MultiObserver []Observer

func (m MultiObserver) JobStarted(req *Request) {
	for _, o := range m {
		o.JobStarted(req)
	}
}

func (m MultiObserver) TransactionStarted(req *Request, attempt int) {
	for _, o := range m {
		o.TransactionStarted(req, attempt)
	}
}

func (m MultiObserver) HeadersReceived(req *Request, statusCode int, ttfb time.Duration) {
	for _, o := range m {
		o.HeadersReceived(req, statusCode, ttfb)
	}
}

func (m MultiObserver) Restarted(req *Request, reason RestartReason) {
	for _, o := range m {
		o.Restarted(req, reason)
	}
}

func (m MultiObserver) CookieInclusion(req *Request, op CookieOperation, name, domain string, status cookies.InclusionStatus) {
	for _, o := range m {
		o.CookieInclusion(req, op, name, domain, status)
	}
}

func (m MultiObserver) SecurityHeader(req *Request, header string, accepted bool) {
	for _, o := range m {
		o.SecurityHeader(req, header, accepted)
	}
}

func (m MultiObserver) JobDone(req *Request, stats Stats) {
	for _, o := range m {
		o.JobDone(req, stats)
	}
}
