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
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/tombee/httpjob/pkg/errors"
	"github.com/tombee/httpjob/pkg/taskrunner"
)

// RedirectJob answers a request with a synthesized redirect and never
// touches the network. Create uses it for HSTS upgrades.
type RedirectJob struct {
	ctx      *Context
	req      *Request
	delegate Delegate
	target   *url.URL
	status   int
	reason   string
	token    taskrunner.Token
	started  bool
	killed   bool
}

// NewRedirectJob returns a job that redirects req to target.
func NewRedirectJob(ctx *Context, req *Request, d Delegate, target *url.URL, status int, reason string) *RedirectJob {
	return &RedirectJob{
		ctx:      ctx,
		req:      req,
		delegate: d,
		target:   target,
		status:   status,
		reason:   reason,
	}
}

// Target returns the redirect destination.
func (r *RedirectJob) Target() *url.URL { return r.target }

// Start notifies the delegate of the redirect in a posted task.
func (r *RedirectJob) Start() {
	if r.started || r.killed {
		return
	}
	r.started = true

	logger := r.ctx.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("synthesized redirect",
		slog.String("component", "httpjob"),
		slog.String("request_id", r.req.ID),
		slog.String("reason", r.reason),
		slog.String("url", SanitizeURL(r.target)),
	)

	method := r.req.Method
	if method == "" {
		method = http.MethodGet
	}
	info := RedirectInfo{
		StatusCode: r.status,
		NewURL:     r.target,
		NewMethod:  RedirectMethod(r.status, method),
		Reason:     r.reason,
	}
	if r.delegate == nil {
		return
	}
	r.ctx.Runner.PostTask(r.token.Bind(func() { r.delegate.OnReceivedRedirect(info) }))
}

// Kill drops the pending notification.
func (r *RedirectJob) Kill() {
	r.killed = true
	r.token.Invalidate()
}

// Read fails: a redirect has no body.
func (r *RedirectJob) Read(buf []byte, cb func(int, error)) {
	err := ErrNotReading
	if r.killed {
		err = errors.ErrAborted
	}
	r.ctx.Runner.PostTask(func() { cb(0, err) })
}

// ResponseInfo returns the synthesized redirect response.
func (r *RedirectJob) ResponseInfo() *ResponseInfo {
	h := http.Header{}
	h.Set("Location", r.target.String())
	h.Set("Cross-Origin-Resource-Policy", "Cross-Origin")
	h.Set("Non-Authoritative-Reason", r.reason)
	return &ResponseInfo{
		Headers: &Headers{
			StatusCode: r.status,
			Status:     strconv.Itoa(r.status) + " Internal Redirect",
			Header:     h,
		},
	}
}

var (
	_ Job = (*RedirectJob)(nil)
	_ Job = (*HTTPJob)(nil)
)
