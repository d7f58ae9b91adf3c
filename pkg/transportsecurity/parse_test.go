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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHSTS(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    HSTSDirectives
		wantErr bool
	}{
		{name: "max-age only", value: "max-age=3600", want: HSTSDirectives{MaxAge: time.Hour}},
		{name: "include subdomains", value: "max-age=60; includeSubDomains", want: HSTSDirectives{MaxAge: time.Minute, IncludeSubdomains: true}},
		{name: "case and spacing", value: "  Max-Age = 60 ;INCLUDESUBDOMAINS ", want: HSTSDirectives{MaxAge: time.Minute, IncludeSubdomains: true}},
		{name: "quoted max-age", value: `max-age="120"`, want: HSTSDirectives{MaxAge: 2 * time.Minute}},
		{name: "unknown directive ignored", value: "max-age=1; preload", want: HSTSDirectives{MaxAge: time.Second}},
		{name: "zero", value: "max-age=0", want: HSTSDirectives{}},
		{name: "clamped", value: "max-age=99999999999999999999", want: HSTSDirectives{MaxAge: maxAgeCap}},
		{name: "missing max-age", value: "includeSubDomains", wantErr: true},
		{name: "duplicate max-age", value: "max-age=1; max-age=2", wantErr: true},
		{name: "negative", value: "max-age=-1", wantErr: true},
		{name: "empty value", value: "max-age=", wantErr: true},
		{name: "subdomains with value", value: "max-age=1; includeSubDomains=yes", wantErr: true},
		{name: "unterminated quote", value: `max-age="1`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseHSTS(tt.value)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseExpectCT(t *testing.T) {
	d, err := ParseExpectCT(`max-age=86400, enforce, report-uri="https://r.example/ct"`)
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, d.MaxAge)
	assert.True(t, d.Enforce)
	require.NotNil(t, d.ReportURI)
	assert.Equal(t, "https://r.example/ct", d.ReportURI.String())

	d, err = ParseExpectCT("max-age=10")
	require.NoError(t, err)
	assert.False(t, d.Enforce)
	assert.Nil(t, d.ReportURI)

	_, err = ParseExpectCT("enforce")
	assert.Error(t, err, "max-age is required")

	_, err = ParseExpectCT(`max-age=1, report-uri="/relative"`)
	assert.Error(t, err)
}
