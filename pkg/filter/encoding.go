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

// Package filter provides the content-decoding stages a response body is
// run through, keyed by Content-Encoding token.
package filter

import (
	"net/http"
	"strings"
)

// SourceType identifies a content encoding.
type SourceType int

const (
	TypeNone SourceType = iota
	TypeGzip
	TypeDeflate
	TypeBrotli
	TypeUnknown
)

func (t SourceType) String() string {
	switch t {
	case TypeNone:
		return "identity"
	case TypeGzip:
		return "gzip"
	case TypeDeflate:
		return "deflate"
	case TypeBrotli:
		return "br"
	default:
		return "unknown"
	}
}

// ParseEncodingType maps one Content-Encoding token to a SourceType.
// Matching is case-insensitive. "identity" and the empty token map to
// TypeNone; anything unrecognized maps to TypeUnknown.
func ParseEncodingType(token string) SourceType {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "", "identity":
		return TypeNone
	case "gzip", "x-gzip":
		return TypeGzip
	case "deflate":
		return TypeDeflate
	case "br":
		return TypeBrotli
	default:
		return TypeUnknown
	}
}

// ContentEncodings returns every Content-Encoding token of h in header
// order, across repeated header lines.
func ContentEncodings(h http.Header) []string {
	var tokens []string
	for _, line := range h.Values("Content-Encoding") {
		for _, tok := range strings.Split(line, ",") {
			if tok = strings.TrimSpace(tok); tok != "" {
				tokens = append(tokens, tok)
			}
		}
	}
	return tokens
}

// EncodingSet is an allow-set of encodings. A nil set allows everything.
type EncodingSet map[SourceType]struct{}

// NewEncodingSet builds a set from Content-Encoding tokens, ignoring
// tokens that are not recognized.
func NewEncodingSet(tokens ...string) EncodingSet {
	s := make(EncodingSet, len(tokens))
	for _, tok := range tokens {
		if t := ParseEncodingType(tok); t != TypeUnknown && t != TypeNone {
			s[t] = struct{}{}
		}
	}
	return s
}

// Allows reports whether t may be used.
func (s EncodingSet) Allows(t SourceType) bool {
	if s == nil {
		return true
	}
	_, ok := s[t]
	return ok
}
