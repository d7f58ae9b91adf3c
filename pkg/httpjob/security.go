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
	"net"
	"strings"
)

// processStrictTransportSecurityHeader records HSTS for the host. The
// header is only trusted on a valid TLS connection without certificate
// errors, and never for IP literals. Only the first header value counts.
func (j *HTTPJob) processStrictTransportSecurityHeader() {
	ss := j.ctx.Security
	if ss == nil || j.response == nil {
		return
	}
	ssl := j.response.SSLInfo
	if !ssl.Valid || ssl.CertStatus.IsError() {
		return
	}
	host := j.info.URL.Hostname()
	if net.ParseIP(host) != nil {
		return
	}

	headers := j.responseHeaders()
	if headers == nil {
		return
	}
	value, ok := firstHeaderValue(headers, "Strict-Transport-Security")
	if !ok {
		return
	}
	accepted := ss.AddHSTSHeader(host, value)
	j.observer.SecurityHeader(j.req, "Strict-Transport-Security", accepted)
}

// processExpectCTHeader forwards the merged Expect-CT value under the same
// TLS conditions as HSTS.
func (j *HTTPJob) processExpectCTHeader() {
	ss := j.ctx.Security
	if ss == nil || j.response == nil {
		return
	}
	ssl := j.response.SSLInfo
	if !ssl.Valid || ssl.CertStatus.IsError() {
		return
	}

	headers := j.responseHeaders()
	if headers == nil {
		return
	}
	values := headers.Header.Values("Expect-CT")
	if len(values) == 0 {
		return
	}
	ss.ProcessExpectCTHeader(strings.Join(values, ", "), hostPort(j.info.URL.Hostname(), j.info.URL.Port(), j.info.URL.Scheme), ssl.CTCompliant, j.info.IsolationKey)
	j.observer.SecurityHeader(j.req, "Expect-CT", true)
}

// firstHeaderValue returns the first comma-separated element of the first
// occurrence of name.
func firstHeaderValue(h *Headers, name string) (string, bool) {
	values := h.Header.Values(name)
	if len(values) == 0 {
		return "", false
	}
	first, _, _ := strings.Cut(values[0], ",")
	return strings.TrimSpace(first), true
}

func hostPort(host, port, scheme string) string {
	if port == "" {
		switch strings.ToLower(scheme) {
		case "https", "wss":
			port = "443"
		default:
			port = "80"
		}
	}
	return net.JoinHostPort(host, port)
}
