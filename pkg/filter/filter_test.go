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

package filter

import (
	"bytes"
	"io"
	"net/http"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEncodingType(t *testing.T) {
	tests := []struct {
		token string
		want  SourceType
	}{
		{"gzip", TypeGzip},
		{"X-GZIP", TypeGzip},
		{" deflate ", TypeDeflate},
		{"br", TypeBrotli},
		{"identity", TypeNone},
		{"", TypeNone},
		{"zstd", TypeUnknown},
		{"compress", TypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseEncodingType(tt.token))
		})
	}
}

func TestContentEncodings(t *testing.T) {
	h := http.Header{}
	h.Add("Content-Encoding", "gzip, br")
	h.Add("Content-Encoding", "deflate")
	assert.Equal(t, []string{"gzip", "br", "deflate"}, ContentEncodings(h))
	assert.Empty(t, ContentEncodings(http.Header{}))
}

func TestEncodingSet(t *testing.T) {
	var all EncodingSet
	assert.True(t, all.Allows(TypeBrotli))

	s := NewEncodingSet("gzip", "bogus")
	assert.True(t, s.Allows(TypeGzip))
	assert.False(t, s.Allows(TypeBrotli))
	assert.False(t, s.Allows(TypeUnknown))
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestStages_RoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("hello decoder "), 64)

	var zbuf bytes.Buffer
	zw := zlib.NewWriter(&zbuf)
	_, _ = zw.Write(payload)
	require.NoError(t, zw.Close())

	var fbuf bytes.Buffer
	fw, err := flate.NewWriter(&fbuf, flate.DefaultCompression)
	require.NoError(t, err)
	_, _ = fw.Write(payload)
	require.NoError(t, fw.Close())

	var bbuf bytes.Buffer
	bw := brotli.NewWriter(&bbuf)
	_, _ = bw.Write(payload)
	require.NoError(t, bw.Close())

	tests := []struct {
		name    string
		ctor    Constructor
		encoded []byte
	}{
		{"gzip", NewGzip, gzipBytes(t, payload)},
		{"deflate zlib", NewDeflate, zbuf.Bytes()},
		{"deflate raw", NewDeflate, fbuf.Bytes()},
		{"brotli", NewBrotli, bbuf.Bytes()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := tt.ctor(bytes.NewReader(tt.encoded))
			require.NoError(t, err)
			got, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, payload, got)
		})
	}
}

func TestGzip_ConstructionDoesNotRead(t *testing.T) {
	src := &countingReader{r: bytes.NewReader(gzipBytes(t, []byte("x")))}
	_, err := NewGzip(src)
	require.NoError(t, err)
	assert.Equal(t, 0, src.reads)
}

func TestGzip_CorruptInput(t *testing.T) {
	r, err := NewGzip(bytes.NewReader([]byte("definitely not gzip")))
	require.NoError(t, err)
	_, err = io.ReadAll(r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gzip")
}

type countingReader struct {
	r     io.Reader
	reads int
}

func (c *countingReader) Read(p []byte) (int, error) {
	c.reads++
	return c.r.Read(p)
}

func TestStages_EmptyBody(t *testing.T) {
	for name, ctor := range DefaultConstructors() {
		t.Run(name.String(), func(t *testing.T) {
			r, err := ctor(bytes.NewReader(nil))
			require.NoError(t, err)
			n, err := r.Read(make([]byte, 16))
			assert.Equal(t, 0, n)
			assert.ErrorIs(t, err, io.EOF)
		})
	}
}
