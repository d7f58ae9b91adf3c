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

// Package httpjob drives one HTTP(S) or WS(S) request through cookie
// attachment, transaction start and restarts, security header ingestion,
// authentication, redirect validation and body decoding.
//
// A job runs entirely on a taskrunner.Runner. Its collaborators may finish
// work synchronously or on other goroutines; either way the job receives
// the result in a posted task, and the consumer's Delegate is always
// notified from a posted task too.
package httpjob

import (
	"crypto/tls"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/tombee/httpjob/pkg/cookies"
	"github.com/tombee/httpjob/pkg/errors"
	"github.com/tombee/httpjob/pkg/filter"
	"github.com/tombee/httpjob/pkg/taskrunner"
)

// Context bundles the collaborators shared by every job. They outlive
// the jobs that borrow them. Only Transactions and Runner are required.
type Context struct {
	Transactions    TransactionFactory
	Cookies         CookieStore
	NetworkDelegate NetworkDelegate
	Security        SecurityState
	Throttler       ThrottlerManager
	RedirectPolicy  RedirectPolicy
	UserAgent       UserAgentSettings

	Runner   taskrunner.Runner
	Observer Observer
	Logger   *slog.Logger

	// Decoders overrides the content decoding stages.
	Decoders filter.Constructors

	// EnableBrotli allows "br" in Accept-Encoding for secure origins.
	EnableBrotli bool

	Now func() time.Time
}

func (c *Context) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Job is what the request layer drives.
type Job interface {
	Start()
	Kill()
	Read(buf []byte, cb func(int, error))
	ResponseInfo() *ResponseInfo
}

// Create returns the job for req: an HTTPJob, or a RedirectJob when the
// security state requires upgrading an insecure URL.
func Create(ctx *Context, req *Request, d Delegate) (Job, error) {
	if err := validateRequest(ctx, req); err != nil {
		return nil, err
	}

	scheme := strings.ToLower(req.URL.Scheme)
	if (scheme == "http" || scheme == "ws") && ctx.Security != nil &&
		ctx.Security.ShouldUpgradeToSSL(req.URL.Hostname()) {
		upgraded := *req.URL
		if scheme == "http" {
			upgraded.Scheme = "https"
		} else {
			upgraded.Scheme = "wss"
		}
		if upgraded.Port() == "80" {
			upgraded.Host = upgraded.Hostname()
		}
		return NewRedirectJob(ctx, req, d, &upgraded, 307, "HSTS"), nil
	}
	return NewHTTPJob(ctx, req, d), nil
}

func validateRequest(ctx *Context, req *Request) error {
	if ctx == nil || ctx.Transactions == nil || ctx.Runner == nil {
		return &errors.ValidationError{Field: "context", Message: "transaction factory and runner are required"}
	}
	if req == nil || req.URL == nil {
		return &errors.ValidationError{Field: "url", Message: "request URL is required"}
	}
	switch strings.ToLower(req.URL.Scheme) {
	case "http", "https", "ws", "wss":
	default:
		return &errors.ValidationError{
			Field:   "url",
			Message: "unsupported scheme " + req.URL.Scheme,
		}
	}
	if req.URL.Host == "" {
		return &errors.ValidationError{Field: "url", Message: "URL has no host"}
	}
	return nil
}

// HTTPJob orchestrates one request. All methods must be called on the
// Context's runner goroutine.
type HTTPJob struct {
	ctx      *Context
	req      *Request
	delegate Delegate
	observer Observer
	log      *slog.Logger

	state State
	token taskrunner.Token
	done  bool

	info     RequestInfo
	txn      Transaction
	throttle ThrottlerEntry

	response *ResponseInfo
	override HeadersOverride

	proxyAuth   AuthState
	serverAuth  AuthState
	credentials AuthCredentials

	cookieLinesLeft  int
	setCookieResults []cookies.LineWithAccessResult
	maybeSent        []cookies.WithAccessResult
	maybeStored      []cookies.LineWithAccessResult

	prevSentBytes     int64
	prevReceivedBytes int64
	attempts          int
	restarts          int

	created           time.Time
	startTime         time.Time
	timerStart        time.Time
	receiveHeadersEnd time.Time

	read readState
}

// NewHTTPJob creates a job. Most callers use Create.
func NewHTTPJob(ctx *Context, req *Request, d Delegate) *HTTPJob {
	observer := ctx.Observer
	if observer == nil {
		observer = NopObserver{}
	}
	logger := ctx.Logger
	if logger == nil {
		logger = slog.Default()
	}

	j := &HTTPJob{
		ctx:      ctx,
		req:      req,
		delegate: d,
		observer: observer,
		log: logger.With(
			slog.String("component", "httpjob"),
			slog.String("request_id", req.ID),
		),
		state: StateCreated,
	}
	j.created = ctx.now()
	j.timerStart = j.created
	if ctx.Throttler != nil {
		j.throttle = ctx.Throttler.RegisterRequestURL(req.URL)
	}
	return j
}

// State returns the job's lifecycle state.
func (j *HTTPJob) State() State { return j.state }

// LoadState is State under the name the request layer uses.
func (j *HTTPJob) LoadState() State { return j.state }

// Request returns the request the job was created for.
func (j *HTTPJob) Request() *Request { return j.req }

// Start begins the request. Calls after the first are ignored.
func (j *HTTPJob) Start() {
	if j.state != StateCreated {
		return
	}
	j.state = StateStarted
	j.startTime = j.ctx.now()

	j.info = RequestInfo{
		RequestID:      j.req.ID,
		URL:            j.req.URL,
		Method:         j.req.Method,
		ExtraHeaders:   j.req.ExtraHeaders.Clone(),
		LoadFlags:      j.req.LoadFlags,
		PrivacyMode:    j.req.PrivacyMode,
		IsolationKey:   j.req.Isolation.PartitionKey,
		TopFrameOrigin: j.req.Isolation.TopFrameOrigin,
		Upload:         j.req.Upload,
	}
	if j.info.Method == "" {
		j.info.Method = "GET"
	}
	j.prepareHeaders()

	j.observer.JobStarted(j.req)
	j.log.Debug("job started",
		slog.String("method", j.info.Method),
		slog.String("url", SanitizeURL(j.req.URL)),
	)

	j.addCookieHeaderAndStart()
}

// Kill drops every pending continuation and the transaction. It is
// idempotent and safe after completion.
func (j *HTTPJob) Kill() {
	j.token.Invalidate()
	j.stopBody()
	j.destroyTransaction()
	j.doneWithRequest(errors.ErrAborted)
	if !j.state.IsTerminal() {
		j.state = StateKilled
	}
}

// Close releases the job. A job still running is finalized as aborted.
func (j *HTTPJob) Close() {
	j.Kill()
}

// SetPriority changes the priority of the request and its transaction.
func (j *HTTPJob) SetPriority(p Priority) {
	j.req.Priority = p
	if j.txn != nil {
		j.txn.SetPriority(p)
	}
}

// post runs fn on the runner unless the job is killed first.
func (j *HTTPJob) post(fn func()) {
	j.ctx.Runner.PostTask(j.token.Bind(fn))
}

// errCallback adapts fn into a suspension-point callback: whatever
// goroutine invokes it, fn runs in a posted task, and not at all once the
// job has been killed.
func (j *HTTPJob) errCallback(fn func(error)) func(error) {
	bound := j.token.BindErr(fn)
	return func(err error) {
		j.ctx.Runner.PostTask(func() { bound(err) })
	}
}

// complete posts the result of a suspension point that returned without
// suspending. Pending results arrive through the callback instead.
func (j *HTTPJob) complete(err error, fn func(error)) {
	if errors.IsPending(err) {
		return
	}
	j.post(func() { fn(err) })
}

func (j *HTTPJob) notify(fn func(d Delegate)) {
	if j.delegate == nil {
		return
	}
	j.post(func() { fn(j.delegate) })
}

func (j *HTTPJob) startTransaction() {
	j.state = StateStartingTransaction

	nd := j.ctx.NetworkDelegate
	if nd == nil {
		j.startTransactionInternal()
		return
	}
	err := nd.OnBeforeStartTransaction(j.req, j.info.ExtraHeaders, j.errCallback(j.maybeStartTransactionInternal))
	if errors.IsPending(err) {
		return
	}
	j.maybeStartTransactionInternal(err)
}

func (j *HTTPJob) maybeStartTransactionInternal(err error) {
	if err != nil {
		j.notifyStartError(policyError("before_start_transaction", err))
		return
	}
	j.startTransactionInternal()
}

func (j *HTTPJob) startTransactionInternal() {
	var err error
	j.attempts++

	if j.txn != nil {
		creds := j.credentials
		j.credentials = AuthCredentials{}
		err = j.txn.RestartWithAuth(creds, j.errCallback(j.onStartCompleted))
	} else {
		err = j.createAndStartTransaction()
	}

	j.observer.TransactionStarted(j.req, j.attempts)
	j.state = StateTransactionPending
	j.complete(err, j.onStartCompleted)
}

func (j *HTTPJob) createAndStartTransaction() error {
	txn, err := j.ctx.Transactions.CreateTransaction(j.req.Priority)
	if err != nil {
		return err
	}
	j.txn = txn

	if isWebSocket(j.req.URL) {
		if j.req.WebSocketHelper == nil {
			return errors.ErrDisallowedURLScheme
		}
		txn.SetWebSocketHandshakeHelper(j.req.WebSocketHelper)
	}

	if j.throttle != nil && j.throttle.ShouldRejectRequest(j.req.LoadFlags&LoadMaybeUserGesture != 0) {
		return errors.ErrTemporarilyThrottled
	}

	j.startTime = j.ctx.now()
	return txn.Start(&j.info, j.errCallback(j.onStartCompleted))
}

func (j *HTTPJob) onStartCompleted(err error) {
	if j.done {
		return
	}
	j.receiveHeadersEnd = j.ctx.now()

	var ri *ResponseInfo
	if j.txn != nil {
		ri = j.txn.ResponseInfo()
	}

	switch {
	case err == nil:
		j.state = StateHeadersArrived
		j.runHeadersReceivedHook(ri)

	case errors.IsCertificateError(err):
		var ssl SSLInfo
		if ri != nil {
			ssl = ri.SSLInfo
		}
		fatal := j.ctx.Security != nil && j.ctx.Security.ShouldSSLErrorsBeFatal(j.info.URL.Hostname())
		if kind, _ := errors.CertKind(err); kind == errors.CertKnownInterceptionBlocked {
			fatal = false
		}
		j.log.Debug("certificate error", slog.String("error", err.Error()), slog.Bool("fatal", fatal))
		j.notify(func(d Delegate) { d.OnSSLCertificateError(err, ssl, fatal) })

	case errors.Is(err, errors.ErrSSLClientAuthCertNeeded):
		var info *CertRequestInfo
		if ri != nil {
			info = ri.CertRequestInfo
		}
		if info == nil {
			info = &CertRequestInfo{Host: j.info.URL.Host}
		}
		j.notify(func(d Delegate) { d.OnCertificateRequested(info) })

	default:
		if ri != nil {
			j.response = ri.Clone()
		}
		j.notifyStartError(err)
	}
}

func (j *HTTPJob) runHeadersReceivedHook(ri *ResponseInfo) {
	nd := j.ctx.NetworkDelegate
	if nd == nil || ri == nil {
		j.saveCookiesAndNotifyHeadersComplete(nil)
		return
	}

	j.override = HeadersOverride{}
	err := nd.OnHeadersReceived(j.req, ri.Headers, ri.RemoteEndpoint, &j.override,
		j.errCallback(j.saveCookiesAndNotifyHeadersComplete))
	if errors.IsPending(err) {
		return
	}
	if err != nil {
		j.notifyStartError(policyError("headers_received", err))
		return
	}
	j.saveCookiesAndNotifyHeadersComplete(nil)
}

// notifyHeadersComplete runs once all Set-Cookie lines have resolved.
func (j *HTTPJob) notifyHeadersComplete() {
	if j.txn == nil {
		return
	}
	j.response = j.txn.ResponseInfo().Clone()
	if j.response == nil {
		j.response = &ResponseInfo{}
	}
	headers := j.responseHeaders()

	if j.throttle != nil && !j.response.WasCached && headers != nil {
		j.throttle.UpdateWithResponse(headers.StatusCode)
	}

	j.processStrictTransportSecurityHeader()
	j.processExpectCTHeader()

	j.maybeStored = j.setCookieResults
	j.setCookieResults = nil

	if j.txn.IsReadyToRestartForAuth() {
		j.restarts++
		j.observer.Restarted(j.req, RestartAmbientAuth)
		j.restartTransactionWithAuth(AuthCredentials{})
		return
	}

	j.recordTimer(headers)
	j.notifyFinalHeadersReceived()
}

// notifyFinalHeadersReceived decides what the consumer sees for the
// current response: an auth challenge, a redirect, or a readable body.
func (j *HTTPJob) notifyFinalHeadersReceived() {
	if j.done {
		return
	}
	j.state = StateHeadersFinalized
	headers := j.responseHeaders()

	if j.NeedsAuth() {
		challenge := j.AuthChallenge()
		j.notify(func(d Delegate) { d.OnAuthRequired(challenge) })
		return
	}

	if location, ok := headers.IsRedirect(); ok {
		info, err := j.redirectInfo(headers.StatusCode, location)
		if err != nil {
			j.notifyStartError(err)
			return
		}
		j.notify(func(d Delegate) { d.OnReceivedRedirect(info) })
		return
	}

	if err := j.setUpSourceStream(); err != nil {
		j.notifyStartError(err)
		return
	}
	j.state = StateReading
	j.notify(func(d Delegate) { d.OnResponseStarted(nil) })
}

func (j *HTTPJob) notifyStartError(err error) {
	if j.done {
		return
	}
	j.state = StateFailed
	j.read.finalErr = err
	j.log.Debug("request failed",
		slog.String("error", err.Error()),
		slog.String("error_type", errors.Classify(err)),
	)
	j.doneWithRequest(err)
	j.notify(func(d Delegate) { d.OnResponseStarted(err) })
}

// ContinueWithCertificate restarts after OnCertificateRequested. A nil
// cert continues without a client certificate.
func (j *HTTPJob) ContinueWithCertificate(cert *tls.Certificate) {
	if j.txn == nil || j.done {
		return
	}
	j.resetForRestart()
	j.restarts++
	j.observer.Restarted(j.req, RestartCertificate)
	j.state = StateTransactionPending
	j.complete(j.txn.RestartWithCertificate(cert, j.errCallback(j.onStartCompleted)), j.onStartCompleted)
}

// ContinueDespiteLastError restarts after a non-fatal certificate error.
// Without a live transaction it does nothing.
func (j *HTTPJob) ContinueDespiteLastError() {
	if j.txn == nil || j.done {
		return
	}
	j.resetForRestart()
	j.restarts++
	j.observer.Restarted(j.req, RestartIgnoreError)
	j.state = StateTransactionPending
	j.complete(j.txn.RestartIgnoringLastError(j.errCallback(j.onStartCompleted)), j.onStartCompleted)
}

func (j *HTTPJob) resetForRestart() {
	j.response = nil
	j.override = HeadersOverride{}
	j.receiveHeadersEnd = time.Time{}
	j.resetTimer()
}

func (j *HTTPJob) destroyTransaction() {
	if j.txn == nil {
		return
	}
	j.doneWithRequest(errors.ErrAborted)

	j.prevSentBytes += j.txn.TotalSentBytes()
	j.prevReceivedBytes += j.txn.TotalReceivedBytes()
	j.txn.Close()
	j.txn = nil

	j.response = nil
	j.override = HeadersOverride{}
	j.receiveHeadersEnd = time.Time{}
}

// DoneReadingRedirectResponse finishes a job whose redirect the consumer
// has acted on.
func (j *HTTPJob) DoneReadingRedirectResponse() {
	if j.txn != nil {
		if ri := j.txn.ResponseInfo(); ri != nil {
			if _, ok := ri.Headers.IsRedirect(); ok {
				j.txn.DoneReading()
			}
		}
	}
	j.doneWithRequest(nil)
	if !j.state.IsTerminal() {
		j.state = StateCompleted
	}
}

// doneWithRequest finalizes the job's accounting exactly once.
func (j *HTTPJob) doneWithRequest(cause error) {
	if j.done {
		return
	}
	j.done = true

	stats := Stats{
		Cause:           cause,
		PrefilterBytes:  j.read.prefilterBytes,
		PostfilterBytes: j.read.postfilterBytes,
		SentBytes:       j.TotalSentBytes(),
		ReceivedBytes:   j.TotalReceivedBytes(),
		Restarts:        j.restarts,
	}
	if !j.startTime.IsZero() {
		stats.TotalTime = j.ctx.now().Sub(j.startTime)
	}
	if j.response != nil {
		stats.WasCached = j.response.WasCached
	}
	if h := j.responseHeaders(); h != nil {
		stats.StatusCode = h.StatusCode
	}
	j.observer.JobDone(j.req, stats)
}

func (j *HTTPJob) recordTimer(headers *Headers) {
	if j.timerStart.IsZero() {
		return
	}
	status := 0
	if headers != nil {
		status = headers.StatusCode
	}
	j.observer.HeadersReceived(j.req, status, j.ctx.now().Sub(j.timerStart))
	j.timerStart = time.Time{}
}

func (j *HTTPJob) resetTimer() {
	j.timerStart = j.ctx.now()
}

// ResponseInfo returns the current response metadata with override
// headers applied, or nil before headers arrive.
func (j *HTTPJob) ResponseInfo() *ResponseInfo {
	var ri *ResponseInfo
	switch {
	case j.response != nil:
		ri = j.response.Clone()
	case j.txn != nil && j.txn.ResponseInfo() != nil:
		ri = j.txn.ResponseInfo().Clone()
	default:
		return nil
	}
	if j.override.Headers != nil {
		ri.Headers = j.override.Headers.Clone()
	}
	return ri
}

// responseHeaders returns the headers downstream consumers see.
func (j *HTTPJob) responseHeaders() *Headers {
	if j.override.Headers != nil {
		return j.override.Headers
	}
	if j.response != nil {
		return j.response.Headers
	}
	if j.txn != nil {
		if ri := j.txn.ResponseInfo(); ri != nil {
			return ri.Headers
		}
	}
	return nil
}

// ResponseCode returns the status code, or -1 before headers arrive.
func (j *HTTPJob) ResponseCode() int {
	h := j.responseHeaders()
	if h == nil {
		return -1
	}
	return h.StatusCode
}

// MimeType returns the response media type.
func (j *HTTPJob) MimeType() string {
	mt, _ := j.responseHeaders().MimeTypeAndCharset()
	return mt
}

// Charset returns the response charset parameter.
func (j *HTTPJob) Charset() string {
	_, cs := j.responseHeaders().MimeTypeAndCharset()
	return cs
}

// LoadTimingInfo returns timing for the current attempt. It is empty
// until headers have been received.
func (j *HTTPJob) LoadTimingInfo() LoadTimingInfo {
	if j.receiveHeadersEnd.IsZero() {
		return LoadTimingInfo{}
	}
	return LoadTimingInfo{RequestStart: j.startTime, ReceiveHeadersEnd: j.receiveHeadersEnd}
}

// TotalSentBytes includes bytes sent by transactions already destroyed.
func (j *HTTPJob) TotalSentBytes() int64 {
	n := j.prevSentBytes
	if j.txn != nil {
		n += j.txn.TotalSentBytes()
	}
	return n
}

// TotalReceivedBytes includes bytes received by transactions already
// destroyed.
func (j *HTTPJob) TotalReceivedBytes() int64 {
	n := j.prevReceivedBytes
	if j.txn != nil {
		n += j.txn.TotalReceivedBytes()
	}
	return n
}

// RequestHeaders returns the headers of the current attempt.
func (j *HTTPJob) RequestHeaders() map[string][]string {
	return j.info.ExtraHeaders.Clone()
}

func policyError(stage string, err error) error {
	return &errors.PolicyError{Stage: stage, Cause: err}
}

func isWebSocket(u *url.URL) bool {
	s := strings.ToLower(u.Scheme)
	return s == "ws" || s == "wss"
}
