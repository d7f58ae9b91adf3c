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


// Package useragent supplies the default User-Agent and Accept-Language
// request headers.
package useragent

import (
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/text/language"

	"github.com/tombee/httpjob/pkg/httpjob"
)

// Settings implements httpjob.UserAgentSettings.
type Settings struct {
	userAgent      string
	acceptLanguage string
}

// New builds settings for product at version preferring languages in
// order. Language tags are canonicalized; an invalid tag is an error.
func New(product, version string, languages []string) (*Settings, error) {
	if product == "" {
		return nil, fmt.Errorf("product name is required")
	}
	al, err := AcceptLanguage(languages)
	if err != nil {
		return nil, err
	}
	ua := product
	if version != "" {
		ua += "/" + version
	}
	ua += fmt.Sprintf(" (%s; %s)", runtime.GOOS, runtime.GOARCH)
	return &Settings{userAgent: ua, acceptLanguage: al}, nil
}

// Static returns settings with fixed header values.
func Static(userAgent, acceptLanguage string) *Settings {
	return &Settings{userAgent: userAgent, acceptLanguage: acceptLanguage}
}

func (s *Settings) UserAgent() string      { return s.userAgent }
func (s *Settings) AcceptLanguage() string { return s.acceptLanguage }

// AcceptLanguage formats languages as an Accept-Language value. Each
// regional tag is followed by its base language unless the list already
// has it, and quality values step down by 0.1 to a floor of 0.1.
//
//	AcceptLanguage([]string{"en-US", "fr"}) == "en-US,en;q=0.9,fr;q=0.8"
func AcceptLanguage(languages []string) (string, error) {
	tags := make([]language.Tag, 0, len(languages))
	for _, l := range languages {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		tag, err := language.Parse(l)
		if err != nil {
			return "", fmt.Errorf("invalid language %q: %w", l, err)
		}
		tags = append(tags, tag)
	}

	listed := make(map[string]bool, len(tags))
	for _, t := range tags {
		listed[t.String()] = true
	}

	var expanded []string
	seen := make(map[string]bool)
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			expanded = append(expanded, s)
		}
	}
	for _, t := range tags {
		add(t.String())
		base, conf := t.Base()
		if conf == language.No {
			continue
		}
		if b := base.String(); b != t.String() && !listed[b] {
			add(b)
		}
	}

	var sb strings.Builder
	for i, l := range expanded {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(l)
		if i > 0 {
			fmt.Fprintf(&sb, ";q=0.%d", max(10-i, 1))
		}
	}
	return sb.String(), nil
}

var _ httpjob.UserAgentSettings = (*Settings)(nil)
