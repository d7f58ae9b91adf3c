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

	"github.com/tombee/httpjob/pkg/errors"
)

// IsSafeRedirect reports whether a redirect to target may be followed.
// http and https targets are always safe; any other scheme needs policy
// approval, and no policy means unsafe.
func IsSafeRedirect(target *url.URL, policy RedirectPolicy) bool {
	if target == nil {
		return false
	}
	switch strings.ToLower(target.Scheme) {
	case "http", "https":
		return true
	}
	return policy != nil && policy.IsSafeRedirectTarget(target)
}

// CopyFragmentOnRedirect reports whether the original request's fragment
// should be carried to location. It is copied unless the network delegate
// asked to preserve the fragment of exactly this location.
func CopyFragmentOnRedirect(location, preserveFragmentURL *url.URL) bool {
	return preserveFragmentURL == nil || location == nil ||
		preserveFragmentURL.String() != location.String()
}

// RedirectMethod returns the method to use after a redirect with the
// given status.
func RedirectMethod(status int, method string) string {
	switch status {
	case http.StatusSeeOther:
		if method != http.MethodHead {
			return http.MethodGet
		}
	case http.StatusMovedPermanently, http.StatusFound:
		if method == http.MethodPost {
			return http.MethodGet
		}
	}
	return method
}

// needsHost reports whether URLs of scheme are only valid with a host.
// Other schemes may be opaque and are left to the redirect policy.
func needsHost(scheme string) bool {
	switch strings.ToLower(scheme) {
	case "http", "https", "ws", "wss":
		return true
	}
	return false
}

// IsSafeRedirect applies the job's redirect policy to target.
func (j *HTTPJob) IsSafeRedirect(target *url.URL) bool {
	return IsSafeRedirect(target, j.ctx.RedirectPolicy)
}

func (j *HTTPJob) redirectInfo(status int, location string) (RedirectInfo, error) {
	target, err := j.req.URL.Parse(location)
	if err != nil || (needsHost(target.Scheme) && target.Host == "") {
		return RedirectInfo{}, errors.Wrapf(errors.ErrInvalidRedirect, "location %q", location)
	}
	if !j.IsSafeRedirect(target) {
		return RedirectInfo{}, errors.Wrapf(errors.ErrUnsafeRedirect, "redirect to %s", SanitizeURL(target))
	}

	if CopyFragmentOnRedirect(target, j.override.PreserveFragmentOnRedirectURL) &&
		target.Fragment == "" && j.req.URL.Fragment != "" {
		target.Fragment = j.req.URL.Fragment
		target.RawFragment = j.req.URL.RawFragment
	}

	return RedirectInfo{
		StatusCode: status,
		NewURL:     target,
		NewMethod:  RedirectMethod(status, j.info.Method),
	}, nil
}
