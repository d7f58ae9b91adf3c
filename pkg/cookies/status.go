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

package cookies

import (
	"strings"
)

// ExclusionReason is one reason a cookie was not sent or not stored.
type ExclusionReason uint32

const (
	ExcludeUnknownError ExclusionReason = 1 << iota
	ExcludeHTTPOnly
	ExcludeSecureOnly
	ExcludeDomainMismatch
	ExcludeNotOnPath
	ExcludeSameSiteStrict
	ExcludeSameSiteLax
	ExcludeSameSiteUnspecifiedTreatedAsLax
	ExcludeSameSiteNoneInsecure
	// ExcludeUserPreferences covers privacy mode and delegate denials.
	ExcludeUserPreferences
	ExcludeFailureToStore
	ExcludeInvalidDomain
	ExcludeInvalidPrefix
	ExcludeOverwriteSecure
	ExcludeOverwriteHTTPOnly
)

var reasonNames = []struct {
	r    ExclusionReason
	name string
}{
	{ExcludeUnknownError, "EXCLUDE_UNKNOWN_ERROR"},
	{ExcludeHTTPOnly, "EXCLUDE_HTTP_ONLY"},
	{ExcludeSecureOnly, "EXCLUDE_SECURE_ONLY"},
	{ExcludeDomainMismatch, "EXCLUDE_DOMAIN_MISMATCH"},
	{ExcludeNotOnPath, "EXCLUDE_NOT_ON_PATH"},
	{ExcludeSameSiteStrict, "EXCLUDE_SAMESITE_STRICT"},
	{ExcludeSameSiteLax, "EXCLUDE_SAMESITE_LAX"},
	{ExcludeSameSiteUnspecifiedTreatedAsLax, "EXCLUDE_SAMESITE_UNSPECIFIED_TREATED_AS_LAX"},
	{ExcludeSameSiteNoneInsecure, "EXCLUDE_SAMESITE_NONE_INSECURE"},
	{ExcludeUserPreferences, "EXCLUDE_USER_PREFERENCES"},
	{ExcludeFailureToStore, "EXCLUDE_FAILURE_TO_STORE"},
	{ExcludeInvalidDomain, "EXCLUDE_INVALID_DOMAIN"},
	{ExcludeInvalidPrefix, "EXCLUDE_INVALID_PREFIX"},
	{ExcludeOverwriteSecure, "EXCLUDE_OVERWRITE_SECURE"},
	{ExcludeOverwriteHTTPOnly, "EXCLUDE_OVERWRITE_HTTP_ONLY"},
}

// InclusionStatus is the set of exclusion reasons recorded for a cookie.
// The zero value means the cookie is included.
type InclusionStatus struct {
	reasons ExclusionReason
}

// NewExclusion returns a status carrying the given reasons.
func NewExclusion(reasons ...ExclusionReason) InclusionStatus {
	var s InclusionStatus
	for _, r := range reasons {
		s.AddExclusionReason(r)
	}
	return s
}

// IsInclude reports whether no exclusion reason is set.
func (s InclusionStatus) IsInclude() bool { return s.reasons == 0 }

// HasExclusionReason reports whether r is set.
func (s InclusionStatus) HasExclusionReason(r ExclusionReason) bool { return s.reasons&r != 0 }

// HasOnlyExclusionReason reports whether r is the only reason set.
func (s InclusionStatus) HasOnlyExclusionReason(r ExclusionReason) bool { return s.reasons == r }

// AddExclusionReason sets r.
func (s *InclusionStatus) AddExclusionReason(r ExclusionReason) { s.reasons |= r }

// RemoveExclusionReason clears r.
func (s *InclusionStatus) RemoveExclusionReason(r ExclusionReason) { s.reasons &^= r }

func (s InclusionStatus) String() string {
	if s.IsInclude() {
		return "INCLUDE"
	}
	var parts []string
	for _, rn := range reasonNames {
		if s.reasons&rn.r != 0 {
			parts = append(parts, rn.name)
		}
	}
	return strings.Join(parts, ", ")
}

// AccessResult is the outcome of a jar read or write for one cookie.
type AccessResult struct {
	Status            InclusionStatus
	EffectiveSameSite SameSite
}

// WithAccessResult pairs a cookie with the outcome of reading it.
type WithAccessResult struct {
	Cookie Canonical
	Result AccessResult
}

// LineWithAccessResult records one Set-Cookie line. Cookie is nil when the
// line could not be parsed.
type LineWithAccessResult struct {
	Cookie *Canonical
	Line   string
	Result AccessResult
}
