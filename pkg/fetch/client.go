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
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/tombee/httpjob/pkg/errors"
	"github.com/tombee/httpjob/pkg/httpjob"
	"github.com/tombee/httpjob/pkg/taskrunner"
)

// ErrTooManyRedirects is returned when a fetch exceeds MaxRedirects.
var ErrTooManyRedirects = errors.New("too many redirects")

// CredentialsFunc answers an auth challenge. ok is false when no
// credentials are available, in which case the challenge is canceled.
type CredentialsFunc func(ctx context.Context, challenge *httpjob.AuthChallenge) (creds httpjob.AuthCredentials, ok bool, err error)

// Response describes the final response of a fetch.
type Response struct {
	RequestID string

	// URL is the URL the response was served from. URLChain lists every
	// URL visited, ending with URL.
	URL      *url.URL
	URLChain []*url.URL

	StatusCode int
	Status     string
	Header     http.Header
	MimeType   string
	Charset    string
	SSL        httpjob.SSLInfo
	WasCached  bool

	Redirects int

	// BodyBytes counts decoded bytes written to the destination.
	BodyBytes int64

	// SentBytes and ReceivedBytes count wire bytes over every job of the
	// fetch.
	SentBytes     int64
	ReceivedBytes int64
}

// Client runs fetches against a shared set of job collaborators.
type Client struct {
	jobs   httpjob.Context
	cfg    Config
	creds  CredentialsFunc
	onResp func(*Response)
	logger *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithCredentials sets where auth challenges are answered from. Without
// it every challenge not handled by ambient credentials is canceled.
func WithCredentials(fn CredentialsFunc) Option {
	return func(c *Client) { c.creds = fn }
}

// WithResponseStarted registers fn to be called with the final response
// once its headers are known, before any body is written.
func WithResponseStarted(fn func(*Response)) Option {
	return func(c *Client) { c.onResp = fn }
}

// WithLogger sets the client's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a Client. jobs supplies the collaborators of every job; its
// Runner is ignored because each fetch runs on its own loop.
func New(jobs httpjob.Context, cfg Config, opts ...Option) (*Client, error) {
	if jobs.Transactions == nil {
		return nil, &errors.ValidationError{Field: "transactions", Message: "a transaction factory is required"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{jobs: jobs, cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With(slog.String("component", "fetch"))
	return c, nil
}

// Do fetches req and writes the decoded body to w. It blocks until the
// body is complete, the fetch fails or ctx is done. A Response is returned
// whenever headers arrived, even alongside an error.
func (c *Client) Do(ctx context.Context, req *httpjob.Request, w io.Writer) (*Response, error) {
	if req == nil || req.URL == nil {
		return nil, &errors.ValidationError{Field: "url", Message: "request URL is required"}
	}
	if w == nil {
		w = io.Discard
	}
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	r := *req
	if r.ID == "" {
		r.ID = uuid.NewString()
	}

	loop := taskrunner.NewLoop()
	jobs := c.jobs
	jobs.Runner = loop

	d := &driver{
		c:    c,
		ctx:  ctx,
		loop: loop,
		jobs: &jobs,
		w:    w,
		buf:  make([]byte, c.cfg.BufferSize),
		req:  &r,
		log:  c.logger.With(slog.String("request_id", r.ID)),
	}

	stop := context.AfterFunc(ctx, func() {
		loop.PostTask(func() { d.finish(d.contextError()) })
	})
	defer stop()

	loop.PostTask(d.start)
	if err := loop.Run(context.Background()); err != nil {
		return nil, err
	}
	return d.result()
}

func (c *Client) timeoutError(cause error) error {
	return &errors.TimeoutError{Operation: "fetch", Duration: c.cfg.Timeout, Cause: cause}
}
