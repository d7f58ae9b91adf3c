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

package shared

import (
	"encoding/json"
	"errors"
	"io"

	pkgerrors "github.com/tombee/httpjob/pkg/errors"
)

// Error codes for structured JSON output
const (
	ErrorCodeInvalidArgument = "E001" // Invalid flag or argument
	ErrorCodeInvalidConfig   = "E201" // Config file could not be loaded
	ErrorCodeTransport       = "E301" // Connection or protocol failure
	ErrorCodeTimeout         = "E302" // Fetch exceeded its timeout
	ErrorCodeCertificate     = "E303" // Server certificate rejected
	ErrorCodePolicy          = "E304" // Request blocked by policy
	ErrorCodeDisallowed      = "E305" // Unsafe redirect or scheme
	ErrorCodeThrottled       = "E306" // Request held back by the throttler
	ErrorCodeContent         = "E307" // Body could not be decoded
	ErrorCodeClientCert      = "E308" // Client certificate required
	ErrorCodeHTTPStatus      = "E400" // Server returned an error status
	ErrorCodeAborted         = "E401" // Fetch canceled
	ErrorCodeNotFound        = "E404" // Resource not found
)

// JSONResponse is the base envelope for all JSON output
type JSONResponse struct {
	Version string `json:"@version"`
	Command string `json:"command"`
	Success bool   `json:"success"`
}

// JSONError represents a structured error with code, message and suggestion
type JSONError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Type       string `json:"type,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

// EmitJSON marshals a response to indented JSON on w.
func EmitJSON(w io.Writer, response interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

// EmitJSONError creates and emits a JSON error response
func EmitJSONError(w io.Writer, command string, errs []JSONError) error {
	type errorResponse struct {
		JSONResponse
		Errors []JSONError `json:"errors"`
	}

	return EmitJSON(w, errorResponse{
		JSONResponse: JSONResponse{
			Version: "1.0",
			Command: command,
			Success: false,
		},
		Errors: errs,
	})
}

// NewJSONError describes err for JSON output.
func NewJSONError(err error) JSONError {
	je := JSONError{
		Code:    ErrorCode(err),
		Message: err.Error(),
		Type:    pkgerrors.Classify(err),
	}
	if _, suggestion := pkgerrors.UserMessage(err); suggestion != "" {
		je.Suggestion = suggestion
	}
	return je
}

// ErrorCode maps err to its JSON error code.
func ErrorCode(err error) string {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		switch exitErr.Code {
		case ExitUsage:
			return ErrorCodeInvalidArgument
		case ExitConfig:
			return ErrorCodeInvalidConfig
		case ExitHTTPError:
			return ErrorCodeHTTPStatus
		}
	}

	var (
		ce *pkgerrors.ConfigError
		ve *pkgerrors.ValidationError
		nf *pkgerrors.NotFoundError
	)
	switch {
	case errors.As(err, &ce):
		return ErrorCodeInvalidConfig
	case errors.As(err, &ve):
		return ErrorCodeInvalidArgument
	case errors.As(err, &nf):
		return ErrorCodeNotFound
	}

	switch pkgerrors.Classify(err) {
	case "timeout":
		return ErrorCodeTimeout
	case "certificate":
		return ErrorCodeCertificate
	case "policy":
		return ErrorCodePolicy
	case "disallowed":
		return ErrorCodeDisallowed
	case "throttled":
		return ErrorCodeThrottled
	case "content":
		return ErrorCodeContent
	case "client_certificate":
		return ErrorCodeClientCert
	case "aborted":
		return ErrorCodeAborted
	}
	return ErrorCodeTransport
}
