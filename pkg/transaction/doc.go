// Package transaction implements httpjob.Transaction on top of net/http.
//
// A Factory owns the connection pools. Each transaction performs one
// request attempt at a time on its own goroutine and reports back through
// the callback it was given, so the job's runner never blocks on the
// network.
//
// The factory composes transport layers to provide:
//   - HTTP/2 over TLS via golang.org/x/net/http2, with health-check pings
//   - Request logging with sanitized URLs
//   - Correlation ID and trace context propagation
//   - TLS 1.2+ with secure defaults, and a separate pool for requests that
//     proceed despite a certificate error
//   - Client certificates chosen per transaction after the server asks
//
// Example usage:
//
//	cfg := transaction.DefaultConfig()
//	factory, err := transaction.NewFactory(cfg)
//	if err != nil {
//	    return err
//	}
//	ctx := &httpjob.Context{Transactions: factory, Runner: loop}
//
// Transactions never follow redirects or retry; those decisions belong to
// the job and its consumer.
package transaction
