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

package log

import (
	"context"
	"log/slog"
	"time"

	"github.com/tombee/httpjob/pkg/cookies"
	"github.com/tombee/httpjob/pkg/errors"
	"github.com/tombee/httpjob/pkg/httpjob"
)

// JobObserver logs job lifecycle events. It implements httpjob.Observer.
//
// Starts and completions are logged at info, failures at warn, and
// per-attempt and per-cookie detail at debug and trace.
type JobObserver struct {
	logger *slog.Logger
}

// NewJobObserver creates a JobObserver. A nil logger uses slog.Default.
func NewJobObserver(logger *slog.Logger) *JobObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobObserver{logger: WithComponent(logger, "httpjob")}
}

func (o *JobObserver) with(req *httpjob.Request) *slog.Logger {
	return WithRequest(o.logger, req.ID, req.Method, req.URL)
}

func (o *JobObserver) JobStarted(req *httpjob.Request) {
	o.with(req).Debug("job started", slog.String(EventKey, "job_started"))
}

func (o *JobObserver) TransactionStarted(req *httpjob.Request, attempt int) {
	o.with(req).Debug("transaction started",
		slog.String(EventKey, "transaction_started"),
		slog.Int("attempt", attempt),
	)
}

func (o *JobObserver) HeadersReceived(req *httpjob.Request, statusCode int, ttfb time.Duration) {
	o.with(req).Debug("headers received",
		slog.String(EventKey, "headers_received"),
		slog.Int(StatusKey, statusCode),
		Duration("ttfb", ttfb),
	)
}

func (o *JobObserver) Restarted(req *httpjob.Request, reason httpjob.RestartReason) {
	o.with(req).Info("transaction restarted",
		slog.String(EventKey, "restarted"),
		slog.String("reason", string(reason)),
	)
}

func (o *JobObserver) CookieInclusion(req *httpjob.Request, op httpjob.CookieOperation, name, domain string, status cookies.InclusionStatus) {
	Trace(o.with(req), "cookie",
		slog.String(EventKey, "cookie_"+string(op)),
		slog.String("cookie_name", name),
		slog.String("domain", domain),
		slog.String("status", status.String()),
	)
}

func (o *JobObserver) SecurityHeader(req *httpjob.Request, header string, accepted bool) {
	level := slog.LevelDebug
	if !accepted {
		level = slog.LevelWarn
	}
	o.with(req).LogAttrs(context.Background(), level, "security header processed",
		slog.String(EventKey, "security_header"),
		slog.String("header", header),
		slog.Bool("accepted", accepted),
	)
}

func (o *JobObserver) JobDone(req *httpjob.Request, stats httpjob.Stats) {
	attrs := []slog.Attr{
		slog.String(EventKey, "job_done"),
		slog.Int(StatusKey, stats.StatusCode),
		Duration("duration", stats.TotalTime),
		slog.Int64("sent_bytes", stats.SentBytes),
		slog.Int64("received_bytes", stats.ReceivedBytes),
		slog.Int("restarts", stats.Restarts),
	}
	if stats.WasCached {
		attrs = append(attrs, slog.Bool("cached", true))
	}

	switch {
	case stats.Cause == nil:
		o.with(req).LogAttrs(context.Background(), slog.LevelInfo, "job completed", attrs...)
	case errors.Is(stats.Cause, errors.ErrAborted):
		o.with(req).LogAttrs(context.Background(), slog.LevelDebug, "job aborted", attrs...)
	default:
		attrs = append(attrs,
			Error(stats.Cause),
			slog.String("error_type", errors.Classify(stats.Cause)),
		)
		o.with(req).LogAttrs(context.Background(), slog.LevelWarn, "job failed", attrs...)
	}
}

var _ httpjob.Observer = (*JobObserver)(nil)
