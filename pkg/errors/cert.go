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

package errors

import "fmt"

// CertErrorKind classifies a server certificate failure.
type CertErrorKind int

const (
	CertInvalid CertErrorKind = iota
	CertCommonNameInvalid
	CertDateInvalid
	CertAuthorityInvalid
	CertRevoked
	CertWeakKey
	// CertKnownInterceptionBlocked marks a certificate that is known to be
	// used by interception software. It is never overridable by host policy
	// and is never reported as policy-fatal.
	CertKnownInterceptionBlocked
)

var certKindNames = map[CertErrorKind]string{
	CertInvalid:                  "cert_invalid",
	CertCommonNameInvalid:        "cert_common_name_invalid",
	CertDateInvalid:              "cert_date_invalid",
	CertAuthorityInvalid:         "cert_authority_invalid",
	CertRevoked:                  "cert_revoked",
	CertWeakKey:                  "cert_weak_key",
	CertKnownInterceptionBlocked: "cert_known_interception_blocked",
}

func (k CertErrorKind) String() string {
	if s, ok := certKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("cert_error(%d)", int(k))
}

// CertError is a TLS server certificate failure.
type CertError struct {
	Kind CertErrorKind

	// Host is the server name the certificate was checked against
	Host string

	// Cause is the verification error from the TLS stack
	Cause error
}

// Error implements the error interface.
func (e *CertError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("certificate error for %s (%s): %v", e.Host, e.Kind, e.Cause)
	}
	return fmt.Sprintf("certificate error for %s (%s)", e.Host, e.Kind)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CertError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *CertError) ErrorType() string { return "certificate" }

// IsRetryable implements ErrorClassifier. Certificate errors only clear
// through an explicit restart.
func (e *CertError) IsRetryable() bool { return false }

// IsUserVisible implements UserVisibleError.
func (e *CertError) IsUserVisible() bool { return true }

// UserMessage implements UserVisibleError.
func (e *CertError) UserMessage() string {
	return fmt.Sprintf("the certificate presented by %s could not be trusted", e.Host)
}

// Suggestion implements UserVisibleError.
func (e *CertError) Suggestion() string {
	if e.Kind == CertKnownInterceptionBlocked {
		return "Interception software is rewriting this connection; disable it or use another network"
	}
	return "Check the server certificate, or pass --insecure if the host is not HSTS-pinned"
}

// IsCertificateError reports whether err wraps a *CertError.
func IsCertificateError(err error) bool {
	var ce *CertError
	return As(err, &ce)
}

// CertKind returns the kind of the *CertError wrapped by err.
func CertKind(err error) (CertErrorKind, bool) {
	var ce *CertError
	if !As(err, &ce) {
		return 0, false
	}
	return ce.Kind, true
}
