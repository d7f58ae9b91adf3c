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


package transportsecurity

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// maxAgeCap bounds max-age values. Longer values are clamped.
const maxAgeCap = 365 * 24 * time.Hour

// HSTSDirectives is a parsed Strict-Transport-Security value.
type HSTSDirectives struct {
	MaxAge            time.Duration
	IncludeSubdomains bool
}

// ParseHSTS parses a Strict-Transport-Security header value. max-age is
// required; unknown directives are ignored and duplicates are an error.
func ParseHSTS(value string) (HSTSDirectives, error) {
	var (
		d         HSTSDirectives
		sawMaxAge bool
		sawSubs   bool
	)
	for _, directive := range strings.Split(value, ";") {
		name, val, err := splitDirective(directive)
		if err != nil {
			return HSTSDirectives{}, err
		}
		switch name {
		case "":
			continue
		case "max-age":
			if sawMaxAge {
				return HSTSDirectives{}, fmt.Errorf("duplicate max-age directive")
			}
			sawMaxAge = true
			age, err := parseMaxAge(val)
			if err != nil {
				return HSTSDirectives{}, err
			}
			d.MaxAge = age
		case "includesubdomains":
			if sawSubs {
				return HSTSDirectives{}, fmt.Errorf("duplicate includeSubDomains directive")
			}
			if val != "" {
				return HSTSDirectives{}, fmt.Errorf("includeSubDomains takes no value")
			}
			sawSubs = true
			d.IncludeSubdomains = true
		}
	}
	if !sawMaxAge {
		return HSTSDirectives{}, fmt.Errorf("missing max-age directive")
	}
	return d, nil
}

// ExpectCTDirectives is a parsed Expect-CT value.
type ExpectCTDirectives struct {
	MaxAge    time.Duration
	Enforce   bool
	ReportURI *url.URL
}

// ParseExpectCT parses an Expect-CT header value. Directives are comma
// separated; max-age is required and report-uri must be absolute.
func ParseExpectCT(value string) (ExpectCTDirectives, error) {
	var (
		d         ExpectCTDirectives
		sawMaxAge bool
	)
	for _, directive := range splitQuoted(value, ',') {
		name, val, err := splitDirective(directive)
		if err != nil {
			return ExpectCTDirectives{}, err
		}
		switch name {
		case "":
			continue
		case "max-age":
			if sawMaxAge {
				return ExpectCTDirectives{}, fmt.Errorf("duplicate max-age directive")
			}
			sawMaxAge = true
			age, err := parseMaxAge(val)
			if err != nil {
				return ExpectCTDirectives{}, err
			}
			d.MaxAge = age
		case "enforce":
			d.Enforce = true
		case "report-uri":
			u, err := url.Parse(val)
			if err != nil || !u.IsAbs() {
				return ExpectCTDirectives{}, fmt.Errorf("report-uri must be an absolute URL, got %q", val)
			}
			d.ReportURI = u
		}
	}
	if !sawMaxAge {
		return ExpectCTDirectives{}, fmt.Errorf("missing max-age directive")
	}
	return d, nil
}

// splitDirective returns the lower-cased name and unquoted value of one
// directive.
func splitDirective(s string) (name, value string, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", "", nil
	}
	name, value, _ = strings.Cut(s, "=")
	name = strings.ToLower(strings.TrimSpace(name))
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, `"`) {
		if len(value) < 2 || !strings.HasSuffix(value, `"`) {
			return "", "", fmt.Errorf("unterminated quoted value in %q", s)
		}
		value = value[1 : len(value)-1]
	}
	if name == "" {
		return "", "", fmt.Errorf("empty directive name in %q", s)
	}
	return name, value, nil
}

func parseMaxAge(v string) (time.Duration, error) {
	if v == "" {
		return 0, fmt.Errorf("max-age requires a value")
	}
	for _, c := range v {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("invalid max-age %q", v)
		}
	}
	secs, err := strconv.ParseUint(v, 10, 64)
	if err != nil || secs > uint64(math.MaxInt64/int64(time.Second)) {
		return maxAgeCap, nil
	}
	age := time.Duration(secs) * time.Second
	if age > maxAgeCap {
		age = maxAgeCap
	}
	return age, nil
}

// splitQuoted splits s on sep outside double quotes.
func splitQuoted(s string, sep byte) []string {
	var (
		out     []string
		start   int
		inQuote bool
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			inQuote = !inQuote
		case sep:
			if !inQuote {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	return append(out, s[start:])
}
