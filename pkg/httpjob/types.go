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
	"crypto/x509"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tombee/httpjob/pkg/cookies"
	"github.com/tombee/httpjob/pkg/filter"
)

// Priority is the scheduling priority handed to the transaction factory.
type Priority int

const (
	PriorityIdle Priority = iota
	PriorityLowest
	PriorityLow
	PriorityMedium
	PriorityHighest
)

// LoadFlags modify how a request is loaded.
type LoadFlags uint32

const (
	LoadNormal           LoadFlags = 0
	LoadDoNotSaveCookies LoadFlags = 1 << iota
	LoadBypassCache
	LoadDisableCache
	LoadPrefetch
	// LoadMaybeUserGesture exempts the request from throttling.
	LoadMaybeUserGesture
)

// PrivacyMode controls whether credentials may be attached.
type PrivacyMode int

const (
	PrivacyModeDisabled PrivacyMode = iota
	PrivacyModeEnabled
)

// RequestType is the kind of frame or resource a request is for.
type RequestType int

const (
	RequestTypeOther RequestType = iota
	RequestTypeMainFrame
	RequestTypeSubFrame
)

// IsolationInfo describes the context a request was made in.
type IsolationInfo struct {
	RequestType    RequestType
	TopFrameOrigin *url.URL

	// PartitionKey partitions network state such as Expect-CT entries.
	PartitionKey string
}

// WebSocketHandshakeHelper adds the upgrade headers of a websocket
// handshake. ws and wss requests cannot start without one.
type WebSocketHandshakeHelper interface {
	AddHandshakeHeaders(h http.Header)
}

// Request is the consumer's description of a request. A job does not
// modify it.
type Request struct {
	// ID correlates logs, traces and metrics of one request.
	ID string

	URL      *url.URL
	Method   string
	Referrer string
	Priority Priority

	LoadFlags        LoadFlags
	PrivacyMode      PrivacyMode
	AllowCredentials bool

	// URLChain lists the URLs visited through redirects, oldest first. The
	// current URL is appended when it is not already last.
	URLChain []*url.URL

	SiteForCookies            cookies.SiteForCookies
	Initiator                 *url.URL
	Isolation                 IsolationInfo
	ForceIgnoreSiteForCookies bool

	ExtraHeaders http.Header

	// AcceptedEncodings limits the content encodings advertised and
	// decoded. Nil allows every supported encoding.
	AcceptedEncodings filter.EncodingSet

	WebSocketHelper WebSocketHandshakeHelper

	Upload []byte
}

// Chain returns the URL chain with the current URL last.
func (r *Request) Chain() []*url.URL {
	chain := append([]*url.URL(nil), r.URLChain...)
	if n := len(chain); n == 0 || chain[n-1].String() != r.URL.String() {
		chain = append(chain, r.URL)
	}
	return chain
}

// IsMainFrameNavigation reports whether the request loads a top-level document.
func (r *Request) IsMainFrameNavigation() bool {
	return r.Isolation.RequestType == RequestTypeMainFrame
}

// RequestInfo is what a transaction needs to issue one attempt. The job
// owns ExtraHeaders and rewrites it before every (re)start.
type RequestInfo struct {
	RequestID      string
	URL            *url.URL
	Method         string
	ExtraHeaders   http.Header
	LoadFlags      LoadFlags
	PrivacyMode    PrivacyMode
	IsolationKey   string
	TopFrameOrigin *url.URL
	Upload         []byte
}

// Headers is a response status line plus header fields.
type Headers struct {
	StatusCode int
	Status     string
	Header     http.Header
}

// Clone returns a deep copy of h.
func (h *Headers) Clone() *Headers {
	if h == nil {
		return nil
	}
	return &Headers{StatusCode: h.StatusCode, Status: h.Status, Header: h.Header.Clone()}
}

// ContentLength returns the declared Content-Length, or -1.
func (h *Headers) ContentLength() int64 {
	if h == nil {
		return -1
	}
	v := strings.TrimSpace(h.Header.Get("Content-Length"))
	if v == "" {
		return -1
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return -1
	}
	return n
}

// Date returns the parsed Date header.
func (h *Headers) Date() (time.Time, bool) {
	if h == nil {
		return time.Time{}, false
	}
	v := h.Header.Get("Date")
	if v == "" {
		return time.Time{}, false
	}
	t, err := http.ParseTime(v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// IsRedirect reports whether the response is a redirect and returns its
// Location.
func (h *Headers) IsRedirect() (string, bool) {
	if h == nil {
		return "", false
	}
	switch h.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
	default:
		return "", false
	}
	loc := h.Header.Get("Location")
	return loc, loc != ""
}

// MimeTypeAndCharset splits the Content-Type header.
func (h *Headers) MimeTypeAndCharset() (mimeType, charset string) {
	if h == nil {
		return "", ""
	}
	ct := h.Header.Get("Content-Type")
	if ct == "" {
		return "", ""
	}
	mt, params, err := mime.ParseMediaType(ct)
	if err != nil {
		return "", ""
	}
	return mt, strings.ToLower(params["charset"])
}

// CertStatus is a bitset describing a server certificate.
type CertStatus uint32

const (
	CertStatusCommonNameInvalid CertStatus = 1 << iota
	CertStatusDateInvalid
	CertStatusAuthorityInvalid
	CertStatusRevoked
	CertStatusInvalid
	CertStatusWeakKey
	CertStatusKnownInterceptionBlocked

	certStatusErrorMask = CertStatusKnownInterceptionBlocked<<1 - 1

	CertStatusRevCheckingEnabled CertStatus = 1 << 16
	CertStatusIsEV               CertStatus = 1 << 17
)

// IsError reports whether any error bit is set.
func (s CertStatus) IsError() bool {
	return s&certStatusErrorMask != 0
}

// SSLInfo describes the TLS connection a response arrived on.
type SSLInfo struct {
	Valid            bool
	CertStatus       CertStatus
	Version          uint16
	CipherSuite      uint16
	PeerCertificates []*x509.Certificate

	// CTCompliant reports whether the connection met certificate
	// transparency policy.
	CTCompliant bool
}

// AuthChallenge describes a 401 or 407 challenge.
type AuthChallenge struct {
	IsProxy    bool
	Challenger string
	Scheme     string
	Realm      string
}

// CertRequestInfo describes a server's request for a client certificate.
type CertRequestInfo struct {
	Host          string
	AcceptableCAs [][]byte
}

// ResponseInfo is a transaction's response metadata.
type ResponseInfo struct {
	Headers         *Headers
	SSLInfo         SSLInfo
	ProxyServer     string
	WasCached       bool
	RemoteEndpoint  string
	AuthChallenge   *AuthChallenge
	CertRequestInfo *CertRequestInfo
	RequestTime     time.Time
	ResponseTime    time.Time
}

// Clone returns a copy of r with its own headers.
func (r *ResponseInfo) Clone() *ResponseInfo {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Headers = r.Headers.Clone()
	return &cp
}

// AuthState tracks one side (proxy or origin) of an auth exchange.
type AuthState int

const (
	AuthStateNotNeeded AuthState = iota
	AuthStateNeeded
	AuthStateSatisfied
	AuthStateCanceled
)

func (s AuthState) String() string {
	switch s {
	case AuthStateNeeded:
		return "needed"
	case AuthStateSatisfied:
		return "satisfied"
	case AuthStateCanceled:
		return "canceled"
	default:
		return "not_needed"
	}
}

// AuthCredentials are the credentials supplied after a challenge. The
// zero value asks the transaction to use whatever identity it already has.
type AuthCredentials struct {
	Username string
	Password string
}

// IsEmpty reports whether no credentials were supplied.
func (c AuthCredentials) IsEmpty() bool { return c.Username == "" && c.Password == "" }

// RedirectInfo describes a validated redirect.
type RedirectInfo struct {
	StatusCode int
	NewURL     *url.URL
	NewMethod  string

	// Reason is set for redirects the job synthesizes, such as "HSTS".
	Reason string
}

// LoadTimingInfo exposes the timestamps of the current attempt.
type LoadTimingInfo struct {
	RequestStart      time.Time
	ReceiveHeadersEnd time.Time
}
