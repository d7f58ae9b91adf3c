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
	"context"
	"log/slog"
	"time"

	"github.com/tombee/httpjob/pkg/cookies"
	"github.com/tombee/httpjob/pkg/taskrunner"
)

// MaybeSentCookies returns every cookie considered for the current
// attempt, excluded ones first.
func (j *HTTPJob) MaybeSentCookies() []cookies.WithAccessResult {
	return j.maybeSent
}

// MaybeStoredCookies returns the outcome of every Set-Cookie line of the
// final response. It is published once all jar writes have finished.
func (j *HTTPJob) MaybeStoredCookies() []cookies.LineWithAccessResult {
	return j.maybeStored
}

func (j *HTTPJob) cookieAccessDelegate() cookies.AccessDelegate {
	if j.ctx.Cookies == nil {
		return nil
	}
	return j.ctx.Cookies.AccessDelegate()
}

func (j *HTTPJob) forceIgnoreSiteForCookies() bool {
	if j.req.ForceIgnoreSiteForCookies {
		return true
	}
	d := j.cookieAccessDelegate()
	return d != nil && d.ShouldIgnoreSameSiteRestrictions(j.req.URL, j.req.SiteForCookies)
}

func (j *HTTPJob) cookieOptions(ctx cookies.SameSiteContext) cookies.Options {
	opts := cookies.Options{SameSiteContext: ctx}
	if d := j.cookieAccessDelegate(); d != nil {
		opts.IsInNontrivialFirstPartySet = d.IsInNontrivialFirstPartySet(cookies.SiteForCookiesFromURL(j.req.URL))
	}
	return opts
}

// addCookieHeaderAndStart reads cookies for the request, then starts the
// transaction. The jar is consulted even in privacy mode so blocked
// cookies still show up in diagnostics.
func (j *HTTPJob) addCookieHeaderAndStart() {
	j.state = StateSendingCookies

	store := j.ctx.Cookies
	if store == nil || !j.req.AllowCredentials {
		j.startTransaction()
		return
	}

	sameSite := cookies.ComputeSameSiteContextForRequest(
		j.info.Method, j.req.Chain(), j.req.SiteForCookies, j.req.Initiator,
		j.req.IsMainFrameNavigation(), j.forceIgnoreSiteForCookies())
	opts := j.cookieOptions(sameSite)
	opts.UpdateAccessTime = true

	bound := taskrunner.Bind2(&j.token, j.setCookieHeaderAndStart)
	store.GetCookieListWithOptions(j.req.URL, opts, func(included, excluded []cookies.WithAccessResult) {
		j.ctx.Runner.PostTask(func() { bound(included, excluded) })
	})
}

func (j *HTTPJob) setCookieHeaderAndStart(included, excluded []cookies.WithAccessResult) {
	excluded = append([]cookies.WithAccessResult(nil), excluded...)
	var send []cookies.WithAccessResult

	if j.info.PrivacyMode != PrivacyModeDisabled {
		excluded = append(excluded, included...)
		for i := range excluded {
			excluded[i].Result.Status.AddExclusionReason(cookies.ExcludeUserPreferences)
		}
	} else {
		for _, c := range included {
			if nd := j.ctx.NetworkDelegate; nd != nil && !nd.CanGetCookie(j.req, &c.Cookie) {
				c.Result.Status.AddExclusionReason(cookies.ExcludeUserPreferences)
				excluded = append(excluded, c)
				continue
			}
			send = append(send, c)
		}
		if len(send) > 0 {
			j.info.ExtraHeaders.Set("Cookie", cookies.BuildCookieLineFromResults(send))
		}
	}

	for _, c := range excluded {
		j.recordCookieInclusion(CookieOpSend, &c.Cookie, c.Result.Status)
	}
	for _, c := range send {
		j.recordCookieInclusion(CookieOpSend, &c.Cookie, c.Result.Status)
	}
	j.maybeSent = append(excluded, send...)

	j.startTransaction()
}

// saveCookiesAndNotifyHeadersComplete writes the response's cookies. The
// headers-complete step runs exactly once, when cookieLinesLeft drops to
// zero: the counter holds one reference for the enumeration loop and one
// per line handed to the jar.
func (j *HTTPJob) saveCookiesAndNotifyHeadersComplete(err error) {
	if err != nil {
		j.notifyStartError(policyError("headers_received", err))
		return
	}
	if j.override.Headers != nil {
		j.log.Debug("response headers overridden by network delegate")
	}

	j.state = StateWritingCookies
	j.setCookieResults = nil

	store := j.ctx.Cookies
	if store == nil || j.req.LoadFlags&LoadDoNotSaveCookies != 0 {
		j.notifyHeadersComplete()
		return
	}

	headers := j.responseHeaders()
	if headers == nil {
		j.notifyHeadersComplete()
		return
	}

	var serverTime *time.Time
	if d, ok := headers.Date(); ok {
		serverTime = &d
	}

	sameSite := cookies.ComputeSameSiteContextForResponse(
		j.req.Chain(), j.req.SiteForCookies, j.req.Initiator,
		j.req.IsMainFrameNavigation(), j.forceIgnoreSiteForCookies())
	opts := j.cookieOptions(sameSite)
	now := j.ctx.now()

	j.cookieLinesLeft = 1
	for _, line := range headers.Header.Values("Set-Cookie") {
		j.cookieLinesLeft++

		c, status := cookies.Create(j.req.URL, line, now, serverTime)
		if c != nil {
			if nd := j.ctx.NetworkDelegate; nd != nil && !nd.CanSetCookie(j.req, c, opts) {
				status.AddExclusionReason(cookies.ExcludeUserPreferences)
			}
		}
		if !status.IsInclude() {
			j.onSetCookieResult(c, line, cookies.AccessResult{Status: status})
			continue
		}

		bound := taskrunner.Bind1(&j.token, func(res cookies.AccessResult) {
			j.onSetCookieResult(c, line, res)
		})
		store.SetCanonicalCookie(c, j.req.URL, opts, func(res cookies.AccessResult) {
			j.ctx.Runner.PostTask(func() { bound(res) })
		})
	}
	j.cookieLinesLeft--

	if j.cookieLinesLeft == 0 {
		j.notifyHeadersComplete()
	}
}

func (j *HTTPJob) onSetCookieResult(c *cookies.Canonical, line string, res cookies.AccessResult) {
	j.recordCookieInclusion(CookieOpStore, c, res.Status)
	j.setCookieResults = append(j.setCookieResults, cookies.LineWithAccessResult{
		Cookie: c,
		Line:   line,
		Result: res,
	})

	j.cookieLinesLeft--
	if j.cookieLinesLeft == 0 {
		j.notifyHeadersComplete()
	}
}

func (j *HTTPJob) recordCookieInclusion(op CookieOperation, c *cookies.Canonical, status cookies.InclusionStatus) {
	var name, domain string
	if c != nil {
		name, domain = c.Name, c.Domain
	}
	j.observer.CookieInclusion(j.req, op, name, domain, status)
	if j.log.Enabled(context.Background(), slog.LevelDebug) {
		j.log.Debug("cookie inclusion status",
			slog.String("operation", string(op)),
			slog.String("name", name),
			slog.String("domain", domain),
			slog.String("status", status.String()),
		)
	}
}
