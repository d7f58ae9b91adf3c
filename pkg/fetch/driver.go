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
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"

	"github.com/tombee/httpjob/pkg/errors"
	"github.com/tombee/httpjob/pkg/httpjob"
	"github.com/tombee/httpjob/pkg/taskrunner"
)

// Optional job capabilities. HTTPJob has all of them; RedirectJob has
// none.
type (
	authenticator interface {
		SetAuth(creds httpjob.AuthCredentials) error
		CancelAuth() error
	}
	certificateContinuer interface {
		ContinueWithCertificate(cert *tls.Certificate)
	}
	errorContinuer interface {
		ContinueDespiteLastError()
	}
	redirectReader interface {
		DoneReadingRedirectResponse()
	}
	byteCounter interface {
		TotalSentBytes() int64
		TotalReceivedBytes() int64
	}
)

// driver is the delegate of every job in one fetch. All of its methods
// run on the fetch's loop.
type driver struct {
	c    *Client
	ctx  context.Context
	loop *taskrunner.Loop
	jobs *httpjob.Context
	w    io.Writer
	buf  []byte
	log  *slog.Logger

	req *httpjob.Request
	job httpjob.Job

	resp *Response
	err  error
	done bool

	redirects     int
	authAttempts  int
	certRequested bool
	sentBytes     int64
	receivedBytes int64
}

func (d *driver) start() {
	if d.done {
		return
	}
	job, err := httpjob.Create(d.jobs, d.req, d)
	if err != nil {
		d.finish(err)
		return
	}
	d.job = job
	d.log.Debug("fetch job started",
		slog.String("method", d.method()),
		slog.String("url", httpjob.SanitizeURL(d.req.URL)),
		slog.Int("redirects", d.redirects),
	)
	job.Start()
}

func (d *driver) method() string {
	if d.req.Method == "" {
		return "GET"
	}
	return d.req.Method
}

// OnResponseStarted implements httpjob.Delegate.
func (d *driver) OnResponseStarted(err error) {
	if d.done {
		return
	}
	d.captureResponse()
	if err != nil {
		d.finish(err)
		return
	}
	d.responseStarted()
	d.read()
}

func (d *driver) responseStarted() {
	if d.c.onResp != nil && d.resp != nil {
		d.c.onResp(d.resp)
	}
}

func (d *driver) read() {
	d.job.Read(d.buf, d.onRead)
}

func (d *driver) onRead(n int, err error) {
	if d.done {
		return
	}
	if n > 0 {
		if _, werr := d.w.Write(d.buf[:n]); werr != nil {
			d.finish(fmt.Errorf("failed to write body: %w", werr))
			return
		}
		if d.resp != nil {
			d.resp.BodyBytes += int64(n)
		}
	}
	switch {
	case err == io.EOF:
		d.finish(nil)
	case err != nil:
		d.finish(err)
	default:
		d.read()
	}
}

// OnReceivedRedirect implements httpjob.Delegate.
func (d *driver) OnReceivedRedirect(info httpjob.RedirectInfo) {
	if d.done {
		return
	}
	if !d.c.cfg.FollowRedirects {
		d.captureResponse()
		d.responseStarted()
		d.doneReadingRedirect()
		d.finish(nil)
		return
	}

	d.redirects++
	if d.redirects > d.c.cfg.MaxRedirects {
		d.finish(fmt.Errorf("%w: stopped after %d", ErrTooManyRedirects, d.c.cfg.MaxRedirects))
		return
	}

	d.log.Debug("following redirect",
		slog.Int("status_code", info.StatusCode),
		slog.String("url", httpjob.SanitizeURL(info.NewURL)),
		slog.String("reason", info.Reason),
	)
	next := redirectRequest(d.req, info)
	d.doneReadingRedirect()
	d.retire()
	d.req = next
	d.certRequested = false
	d.start()
}

func (d *driver) doneReadingRedirect() {
	if r, ok := d.job.(redirectReader); ok {
		r.DoneReadingRedirectResponse()
	}
}

// OnAuthRequired implements httpjob.Delegate. Credentials are looked up
// off the loop since the lookup may prompt the user.
func (d *driver) OnAuthRequired(challenge *httpjob.AuthChallenge) {
	if d.done {
		return
	}
	a, ok := d.job.(authenticator)
	if !ok {
		d.finish(fmt.Errorf("job cannot answer auth challenges"))
		return
	}

	d.authAttempts++
	if d.c.creds == nil || d.authAttempts > d.c.cfg.MaxAuthAttempts {
		d.log.Debug("canceling auth challenge",
			slog.Bool("proxy", challenge.IsProxy),
			slog.Int("attempts", d.authAttempts),
		)
		d.cancelAuth(a)
		return
	}

	ctx, creds, loop := d.ctx, d.c.creds, d.loop
	go func() {
		c, ok, err := creds(ctx, challenge)
		loop.PostTask(func() { d.onCredentials(a, c, ok, err) })
	}()
}

func (d *driver) onCredentials(a authenticator, creds httpjob.AuthCredentials, ok bool, err error) {
	if d.done {
		return
	}
	if err != nil {
		d.finish(fmt.Errorf("failed to get credentials: %w", err))
		return
	}
	if !ok {
		d.cancelAuth(a)
		return
	}
	if err := a.SetAuth(creds); err != nil {
		d.finish(err)
	}
}

func (d *driver) cancelAuth(a authenticator) {
	if err := a.CancelAuth(); err != nil {
		d.finish(err)
	}
}

// OnCertificateRequested implements httpjob.Delegate. The configured
// certificate, or none, is offered once per job.
func (d *driver) OnCertificateRequested(info *httpjob.CertRequestInfo) {
	if d.done {
		return
	}
	cc, ok := d.job.(certificateContinuer)
	if !ok || d.certRequested {
		d.finish(errors.ErrSSLClientAuthCertNeeded)
		return
	}
	d.certRequested = true
	d.log.Debug("client certificate requested",
		slog.String("host", info.Host),
		slog.Bool("have_certificate", d.c.cfg.ClientCertificate != nil),
	)
	cc.ContinueWithCertificate(d.c.cfg.ClientCertificate)
}

// OnSSLCertificateError implements httpjob.Delegate.
func (d *driver) OnSSLCertificateError(err error, ssl httpjob.SSLInfo, fatal bool) {
	if d.done {
		return
	}
	ec, ok := d.job.(errorContinuer)
	if fatal || !d.c.cfg.IgnoreCertErrors || !ok {
		d.finish(err)
		return
	}
	d.log.Warn("continuing despite certificate error",
		slog.String("error", err.Error()),
		slog.String("url", httpjob.SanitizeURL(d.req.URL)),
	)
	ec.ContinueDespiteLastError()
}

func (d *driver) captureResponse() {
	ri := d.job.ResponseInfo()
	if ri == nil || ri.Headers == nil {
		return
	}
	mimeType, charset := ri.Headers.MimeTypeAndCharset()
	d.resp = &Response{
		RequestID:  d.req.ID,
		URL:        d.req.URL,
		URLChain:   d.req.Chain(),
		StatusCode: ri.Headers.StatusCode,
		Status:     ri.Headers.Status,
		Header:     ri.Headers.Header.Clone(),
		MimeType:   mimeType,
		Charset:    charset,
		SSL:        ri.SSLInfo,
		WasCached:  ri.WasCached,
		Redirects:  d.redirects,
	}
}

// retire kills the current job after collecting its byte counts. Killing
// a finished job only releases its transaction.
func (d *driver) retire() {
	if d.job == nil {
		return
	}
	if bc, ok := d.job.(byteCounter); ok {
		d.sentBytes += bc.TotalSentBytes()
		d.receivedBytes += bc.TotalReceivedBytes()
	}
	d.job.Kill()
	d.job = nil
}

func (d *driver) finish(err error) {
	if d.done {
		return
	}
	d.done = true
	d.err = err
	d.retire()
	if err != nil {
		d.log.Debug("fetch failed",
			slog.String("error", err.Error()),
			slog.String("error_type", errors.Classify(err)),
		)
	}
	d.loop.Quit()
}

func (d *driver) contextError() error {
	err := d.ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return d.c.timeoutError(err)
	}
	return err
}

func (d *driver) result() (*Response, error) {
	if d.resp != nil {
		d.resp.SentBytes = d.sentBytes
		d.resp.ReceivedBytes = d.receivedBytes
	}
	return d.resp, d.err
}
