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


// Package fetch implements the fetch command, which runs one request
// through the job stack and streams the decoded body.
package fetch

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/tombee/httpjob/internal/commands/shared"
	"github.com/tombee/httpjob/internal/credentials"
	"github.com/tombee/httpjob/internal/jq"
	"github.com/tombee/httpjob/pkg/cookies"
	fetcher "github.com/tombee/httpjob/pkg/fetch"
	"github.com/tombee/httpjob/pkg/filter"
	"github.com/tombee/httpjob/pkg/httpjob"
	"github.com/tombee/httpjob/pkg/transaction"
)

type options struct {
	method       string
	headers      []string
	data         string
	output       string
	include      bool
	noFollow     bool
	maxRedirects int
	insecure     bool
	user         string
	cert         string
	key          string
	timeout      time.Duration
	referer      string
	proxy        string
	encodings    []string
	fail         bool
	metrics      bool
	jq           string
	rawOutput    bool
}

// NewCommand creates the fetch command.
func NewCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Fetch a URL",
		Annotations: map[string]string{
			"group": "requests",
		},
		Long: `Fetch runs a single request and writes the decoded response body to
stdout or to --output.

Redirects are followed up to --max-redirects. Plain http URLs of hosts
with a known HSTS policy are upgraded to https before any request is made.
Auth challenges are answered from --user, then the system keyring, then
an interactive prompt.

HTTP error statuses are not failures unless --fail is given.

With --json a summary of the response is printed instead of the body;
use --output to keep the body as well.`,
		Example: `  httpjob fetch https://example.com
  httpjob fetch -i -H 'Accept: application/json' https://api.example.com/items
  httpjob fetch -X PUT -d @item.json https://api.example.com/items/1
  httpjob fetch --jq '.items[].name' -r https://api.example.com/items
  httpjob fetch --json -o page.html https://example.com`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args[0], &opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.method, "request", "X", "", "Request method (default GET, or POST with --data)")
	f.StringArrayVarP(&opts.headers, "header", "H", nil, "Extra request header as 'Name: value' (repeatable)")
	f.StringVarP(&opts.data, "data", "d", "", "Request body; @file reads a file and @- reads stdin")
	f.StringVarP(&opts.output, "output", "o", "", "Write the body to a file instead of stdout")
	f.BoolVarP(&opts.include, "include", "i", false, "Print the response status and headers before the body")
	f.BoolVar(&opts.noFollow, "no-follow", false, "Do not follow redirects")
	f.IntVar(&opts.maxRedirects, "max-redirects", 0, "Maximum redirects to follow (default from config)")
	f.BoolVarP(&opts.insecure, "insecure", "k", false, "Continue despite recoverable certificate errors")
	f.StringVarP(&opts.user, "user", "u", "", "Credentials as user:password for every auth challenge")
	f.StringVarP(&opts.cert, "cert", "E", "", "Client certificate file (PEM)")
	f.StringVar(&opts.key, "key", "", "Client private key file (PEM, defaults to --cert)")
	f.DurationVar(&opts.timeout, "timeout", 0, "Limit for the whole fetch (default from config)")
	f.StringVarP(&opts.referer, "referer", "e", "", "Referrer URL")
	f.StringVar(&opts.proxy, "proxy", "", "Proxy URL")
	f.StringSliceVar(&opts.encodings, "accept-encoding", nil, "Content encodings to accept (gzip, deflate, br)")
	f.BoolVarP(&opts.fail, "fail", "f", false, "Exit with an error on HTTP status 400 and above")
	f.BoolVar(&opts.metrics, "metrics", false, "Print collected metrics to stderr when done")
	f.StringVar(&opts.jq, "jq", "", "Filter a JSON body through a jq expression")
	f.BoolVarP(&opts.rawOutput, "raw-output", "r", false, "With --jq, print strings without quotes")

	return cmd
}

func run(cmd *cobra.Command, rawURL string, opts *options) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := buildRequest(cmd, rawURL, opts)
	if err != nil {
		return fail(cmd, err)
	}
	var jqFilter *jq.Filter
	if opts.jq != "" {
		if jqFilter, err = jq.Compile(opts.jq, 0, 0); err != nil {
			return fail(cmd, shared.NewUsageError("invalid --jq expression", err))
		}
	}

	cfg, err := shared.LoadConfig()
	if err != nil {
		return fail(cmd, err)
	}
	if cmd.Flags().Changed("max-redirects") {
		cfg.Fetch.MaxRedirects = opts.maxRedirects
	}
	if cmd.Flags().Changed("timeout") {
		cfg.Fetch.Timeout = opts.timeout
	}

	fc := fetcher.DefaultConfig()
	fc.FollowRedirects = !opts.noFollow
	fc.MaxRedirects = cfg.Fetch.MaxRedirects
	fc.MaxAuthAttempts = cfg.Fetch.MaxAuthAttempts
	fc.Timeout = cfg.Fetch.Timeout
	fc.IgnoreCertErrors = opts.insecure
	if opts.cert != "" {
		cert, err := loadCertificate(opts.cert, opts.key)
		if err != nil {
			return fail(cmd, err)
		}
		fc.ClientCertificate = cert
	}

	stack, err := shared.NewStack(ctx, cfg, shared.StackOptions{
		User: opts.user,
		Transport: func(tc *transaction.Config) {
			if opts.proxy != "" {
				tc.Proxy = opts.proxy
			}
		},
	})
	if err != nil {
		return fail(cmd, err)
	}
	defer stack.Close(context.Background())

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		out = io.Discard
	}
	if opts.output != "" {
		file, err := os.Create(opts.output)
		if err != nil {
			return fail(cmd, shared.NewUsageError("failed to create output file", err))
		}
		defer file.Close()
		out = file
	}

	clientOpts := []fetcher.Option{fetcher.WithLogger(stack.Logger)}
	if cfg.Credentials.Prompt && !shared.GetJSON() {
		clientOpts = append(clientOpts, fetcher.WithCredentials(credentials.NewPrompter(stack.Keyring).Prompt))
	}
	if opts.include && !shared.GetJSON() {
		headersTo := cmd.OutOrStdout()
		clientOpts = append(clientOpts, fetcher.WithResponseStarted(func(resp *fetcher.Response) {
			writeHeaders(headersTo, resp)
		}))
	}

	client, err := fetcher.New(stack.Jobs, fc, clientOpts...)
	if err != nil {
		return fail(cmd, shared.NewUsageError("invalid fetch settings", err))
	}

	dest := out
	var jqBody *jq.Buffer
	if jqFilter != nil {
		jqBody = jqFilter.Buffer()
		dest = jqBody
	}

	resp, err := client.Do(ctx, req, dest)
	if opts.metrics {
		if merr := writeMetrics(cmd.ErrOrStderr(), stack.Gatherer()); merr != nil {
			stack.Logger.Warn("failed to write metrics", "error", merr)
		}
	}
	if err != nil {
		return fail(cmd, shared.NewFetchError("fetch failed", err))
	}

	if jqFilter != nil {
		results, err := jqFilter.Run(ctx, jqBody.Bytes())
		if err != nil {
			return fail(cmd, shared.NewFetchError("jq filter failed", err))
		}
		if err := jq.Write(out, results, opts.rawOutput); err != nil {
			return fail(cmd, shared.NewFetchError("failed to write output", err))
		}
	}

	if shared.GetJSON() {
		if err := shared.EmitJSON(cmd.OutOrStdout(), newResult(resp, opts.output)); err != nil {
			return err
		}
	}
	if opts.fail && resp.StatusCode >= http.StatusBadRequest {
		return shared.NewHTTPError(resp.StatusCode)
	}
	return nil
}

// fail emits err as JSON in --json mode and returns it for the exit code.
func fail(cmd *cobra.Command, err error) error {
	if shared.GetJSON() {
		shared.EmitJSONError(cmd.OutOrStdout(), "fetch", []shared.JSONError{shared.NewJSONError(err)})
	}
	return err
}

func buildRequest(cmd *cobra.Command, rawURL string, opts *options) (*httpjob.Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, shared.NewUsageError("invalid URL", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, shared.NewUsageError(fmt.Sprintf("URL must be absolute, got %q", rawURL), nil)
	}

	headers, err := parseHeaders(opts.headers)
	if err != nil {
		return nil, err
	}

	var body []byte
	if opts.data != "" {
		body, err = readData(opts.data, cmd.InOrStdin())
		if err != nil {
			return nil, shared.NewUsageError("failed to read request body", err)
		}
		if headers.Get("Content-Type") == "" {
			headers.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}

	method := strings.ToUpper(opts.method)
	if method == "" {
		method = http.MethodGet
		if body != nil {
			method = http.MethodPost
		}
	}

	req := &httpjob.Request{
		URL:              u,
		Method:           method,
		Referrer:         opts.referer,
		AllowCredentials: true,
		SiteForCookies:   cookies.SiteForCookiesFromURL(u),
		Isolation: httpjob.IsolationInfo{
			RequestType:    httpjob.RequestTypeMainFrame,
			TopFrameOrigin: u,
		},
		ExtraHeaders: headers,
		Upload:       body,
	}
	if cmd.Flags().Changed("accept-encoding") {
		req.AcceptedEncodings = filter.NewEncodingSet(opts.encodings...)
	}
	return req, nil
}

func parseHeaders(lines []string) (http.Header, error) {
	h := make(http.Header)
	for _, line := range lines {
		name, value, ok := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, shared.NewUsageError(fmt.Sprintf("invalid header %q, expected 'Name: value'", line), nil)
		}
		h.Add(name, strings.TrimSpace(value))
	}
	return h, nil
}

func readData(data string, stdin io.Reader) ([]byte, error) {
	switch {
	case data == "@-":
		return io.ReadAll(stdin)
	case strings.HasPrefix(data, "@"):
		return os.ReadFile(data[1:])
	default:
		return []byte(data), nil
	}
}

func loadCertificate(certFile, keyFile string) (*tls.Certificate, error) {
	if keyFile == "" {
		keyFile = certFile
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, shared.NewUsageError("failed to load client certificate", err)
	}
	return &cert, nil
}

func writeHeaders(w io.Writer, resp *fetcher.Response) {
	fmt.Fprintln(w, shared.RenderStatusCode(resp.StatusCode, "HTTP "+resp.Status))
	names := make([]string, 0, len(resp.Header))
	for name := range resp.Header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, value := range resp.Header[name] {
			fmt.Fprintf(w, "%s %s\n", shared.RenderLabel(name+":"), value)
		}
	}
	fmt.Fprintln(w)
}

func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}

type result struct {
	shared.JSONResponse
	RequestID     string              `json:"request_id"`
	URL           string              `json:"url"`
	URLChain      []string            `json:"url_chain"`
	StatusCode    int                 `json:"status_code"`
	Status        string              `json:"status"`
	MimeType      string              `json:"mime_type,omitempty"`
	Charset       string              `json:"charset,omitempty"`
	Headers       map[string][]string `json:"headers"`
	Redirects     int                 `json:"redirects"`
	WasCached     bool                `json:"was_cached"`
	TLS           *tlsSummary         `json:"tls,omitempty"`
	BodyBytes     int64               `json:"body_bytes"`
	SentBytes     int64               `json:"sent_bytes"`
	ReceivedBytes int64               `json:"received_bytes"`
	Output        string              `json:"output,omitempty"`
}

type tlsSummary struct {
	Version     string `json:"version"`
	CipherSuite string `json:"cipher_suite"`
	CertError   bool   `json:"cert_error"`
}

func newResult(resp *fetcher.Response, output string) result {
	r := result{
		JSONResponse: shared.JSONResponse{
			Version: "1.0",
			Command: "fetch",
			Success: true,
		},
		RequestID:     resp.RequestID,
		URL:           resp.URL.String(),
		StatusCode:    resp.StatusCode,
		Status:        resp.Status,
		MimeType:      resp.MimeType,
		Charset:       resp.Charset,
		Headers:       resp.Header,
		Redirects:     resp.Redirects,
		WasCached:     resp.WasCached,
		BodyBytes:     resp.BodyBytes,
		SentBytes:     resp.SentBytes,
		ReceivedBytes: resp.ReceivedBytes,
		Output:        output,
	}
	for _, u := range resp.URLChain {
		r.URLChain = append(r.URLChain, u.String())
	}
	if resp.SSL.Valid {
		r.TLS = &tlsSummary{
			Version:     tls.VersionName(resp.SSL.Version),
			CipherSuite: tls.CipherSuiteName(resp.SSL.CipherSuite),
			CertError:   resp.SSL.CertStatus.IsError(),
		}
	}
	return r
}
