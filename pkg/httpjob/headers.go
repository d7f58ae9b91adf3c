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
	"net/http"
	"net/url"
	"strings"

	"github.com/tombee/httpjob/pkg/cookies"
	"github.com/tombee/httpjob/pkg/filter"
)

// prepareHeaders fills the request headers a job owns: Referer,
// User-Agent, Accept-Encoding and Accept-Language.
func (j *HTTPJob) prepareHeaders() {
	h := j.info.ExtraHeaders
	if h == nil {
		h = http.Header{}
		j.info.ExtraHeaders = h
	}

	h.Del("Referer")
	if ref, ok := validReferrer(j.req.Referrer); ok {
		h.Set("Referer", ref)
	}

	if ua := j.ctx.UserAgent; ua != nil && h.Get("User-Agent") == "" {
		if v := ua.UserAgent(); v != "" {
			h.Set("User-Agent", v)
		}
	}

	j.addExtraHeaders()
}

func (j *HTTPJob) addExtraHeaders() {
	h := j.info.ExtraHeaders

	if h.Get("Accept-Encoding") == "" {
		// Range requests must see the bytes on the wire unchanged.
		if h.Get("Range") != "" {
			h.Set("Accept-Encoding", "identity")
		} else if enc := j.advertisedEncodings(); len(enc) > 0 {
			h.Set("Accept-Encoding", strings.Join(enc, ", "))
		}
	}

	if ua := j.ctx.UserAgent; ua != nil && h.Get("Accept-Language") == "" {
		if lang := ua.AcceptLanguage(); lang != "" {
			h.Set("Accept-Language", lang)
		}
	}
}

func (j *HTTPJob) advertisedEncodings() []string {
	accepted := j.req.AcceptedEncodings

	var enc []string
	if accepted.Allows(filter.TypeGzip) {
		enc = append(enc, "gzip")
	}
	if accepted.Allows(filter.TypeDeflate) {
		enc = append(enc, "deflate")
	}
	if j.ctx.EnableBrotli && accepted.Allows(filter.TypeBrotli) &&
		(isCryptographic(j.req.URL) || cookies.IsLocalhost(j.req.URL.Hostname())) {
		enc = append(enc, "br")
	}
	return enc
}

// validReferrer returns the Referer value for raw, with credentials and
// fragment removed. Only absolute http(s) URLs qualify.
func validReferrer(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return "", false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return "", false
	}
	u.User = nil
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), true
}

func isCryptographic(u *url.URL) bool {
	switch strings.ToLower(u.Scheme) {
	case "https", "wss":
		return true
	}
	return false
}
