package transaction

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/tombee/httpjob/internal/tracing"
	"github.com/tombee/httpjob/pkg/httpjob"
)

// loggingTransport wraps an http.RoundTripper to add:
// - Request logging with sanitized URLs
// - Correlation ID and trace context propagation
// - Duration tracking
type loggingTransport struct {
	base   http.RoundTripper
	logger *slog.Logger
}

func newLoggingTransport(base http.RoundTripper, logger *slog.Logger) *loggingTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &loggingTransport{base: base, logger: logger}
}

// RoundTrip implements http.RoundTripper.
func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	tracing.InjectHeaders(req.Context(), req.Header)

	resp, err := t.base.RoundTrip(req)
	duration := time.Since(start).Milliseconds()

	logURL := httpjob.SanitizeURL(req.URL)

	if err != nil {
		t.logger.Warn("http request failed",
			"method", req.Method,
			"url", logURL,
			"duration_ms", duration,
			"error", err.Error(),
		)
		return nil, err
	}

	level := slog.LevelDebug
	if resp.StatusCode >= 400 {
		level = slog.LevelWarn
	}
	t.logger.Log(req.Context(), level, "http request",
		"method", req.Method,
		"url", logURL,
		"status", resp.StatusCode,
		"proto", resp.Proto,
		"duration_ms", duration,
	)
	return resp, nil
}
