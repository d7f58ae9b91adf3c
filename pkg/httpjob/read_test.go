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
	"io"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/httpjob/pkg/errors"
	"github.com/tombee/httpjob/pkg/filter"
)

func startReading(t *testing.T, txn *fakeTransaction) *harness {
	t.Helper()
	h := newHarness(t, txn)
	h.newJob("https://example.com/")
	h.job.Start()
	h.run()
	require.Equal(t, []error{nil}, h.delegate.started)
	return h
}

func TestRead_Decoded(t *testing.T) {
	plain := []byte("a body long enough to need several reads through a small buffer")
	gz := gzipBytes(t, plain)

	for _, async := range []bool{false, true} {
		t.Run("async="+strconv.FormatBool(async), func(t *testing.T) {
			txn := &fakeTransaction{
				response:  okResponse(http.Header{"Content-Encoding": {"gzip"}}),
				body:      gz,
				chunk:     5,
				asyncRead: async,
			}
			h := startReading(t, txn)

			body, err := h.readAll()
			require.NoError(t, err)
			assert.Equal(t, plain, body)
			assert.Equal(t, int64(len(gz)), h.job.PrefilterBytes())
			assert.Equal(t, int64(len(plain)), h.job.PostfilterBytes())
			assert.Equal(t, StateCompleted, h.job.State())
			require.Len(t, h.observer.done, 1)
			assert.NoError(t, h.observer.done[0].Cause)
		})
	}
}

func TestRead_GzipThenBrotli(t *testing.T) {
	plain := []byte("layered encodings")
	txn := &fakeTransaction{
		response: okResponse(http.Header{"Content-Encoding": {"gzip, br"}}),
		body:     brotliBytes(t, gzipBytes(t, plain)),
	}
	h := startReading(t, txn)

	body, err := h.readAll()
	require.NoError(t, err)
	assert.Equal(t, plain, body)
}

func TestRead_UnknownEncodingPassesThrough(t *testing.T) {
	gz := gzipBytes(t, []byte("still compressed"))
	txn := &fakeTransaction{
		response: okResponse(http.Header{"Content-Encoding": {"unknown, gzip"}}),
		body:     gz,
	}
	h := startReading(t, txn)

	body, err := h.readAll()
	require.NoError(t, err)
	assert.Equal(t, gz, body)
}

func TestRead_CorruptBody(t *testing.T) {
	txn := &fakeTransaction{
		response: okResponse(http.Header{"Content-Encoding": {"gzip"}}),
		body:     []byte("this is not gzip data"),
	}
	h := startReading(t, txn)

	_, err := h.readAll()
	require.Error(t, err)
	assert.Equal(t, StateFailed, h.job.State())
	require.Len(t, h.observer.done, 1)
	assert.Error(t, h.observer.done[0].Cause)
}

func TestRead_ContentLengthMismatch(t *testing.T) {
	plain := []byte("hello world")
	gz := gzipBytes(t, plain)

	tests := []struct {
		name     string
		encoding string
		body     []byte
		declared int
		rawErr   error
		wantErr  bool
	}{
		{name: "exact length", body: plain, declared: len(plain), rawErr: errors.ErrContentLengthMismatch},
		{name: "incomplete chunked", body: plain, declared: len(plain), rawErr: errors.ErrIncompleteChunkedEncoding},
		{name: "short body", body: plain, declared: len(plain) + 1, rawErr: errors.ErrContentLengthMismatch, wantErr: true},
		{name: "decoded length declared", encoding: "gzip", body: gz, declared: len(plain), rawErr: errors.ErrContentLengthMismatch},
		{name: "encoded length declared", encoding: "gzip", body: gz, declared: len(gz), rawErr: errors.ErrContentLengthMismatch, wantErr: true},
		{name: "other errors are kept", body: plain, declared: len(plain), rawErr: errors.New("connection reset"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{"Content-Length": {strconv.Itoa(tt.declared)}}
			if tt.encoding != "" {
				header.Set("Content-Encoding", tt.encoding)
			}
			txn := &fakeTransaction{response: okResponse(header), body: tt.body, bodyErr: tt.rawErr}
			h := startReading(t, txn)

			_, err := h.readAll()
			require.Len(t, h.observer.done, 1)
			if tt.wantErr {
				assert.ErrorIs(t, err, tt.rawErr)
				assert.Equal(t, StateFailed, h.job.State())
				assert.ErrorIs(t, h.observer.done[0].Cause, tt.rawErr)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, StateCompleted, h.job.State())
			assert.NoError(t, h.observer.done[0].Cause)
		})
	}
}

func TestRead_Misuse(t *testing.T) {
	txn := &fakeTransaction{response: okResponse(nil), body: []byte("data"), asyncRead: true}
	h := newHarness(t, txn)
	job := h.newJob("https://example.com/")

	var early error
	job.Read(make([]byte, 4), func(_ int, err error) { early = err })
	h.run()
	assert.ErrorIs(t, early, ErrNotReading)

	job.Start()
	h.run()

	var (
		firstDone bool
		second    error
	)
	job.Read(make([]byte, 4), func(int, error) { firstDone = true })
	job.Read(make([]byte, 4), func(_ int, err error) { second = err })
	require.Eventually(t, func() bool {
		h.loop.RunUntilIdle()
		return firstDone
	}, 5*time.Second, time.Millisecond)
	assert.ErrorIs(t, second, ErrReadInProgress)

	var empty error = errors.New("unset")
	job.Read(nil, func(n int, err error) { empty = err })
	h.run()
	assert.NoError(t, empty)
}

func TestRead_KillDuringDecodedRead(t *testing.T) {
	txn := &fakeTransaction{
		response: okResponse(http.Header{"Content-Encoding": {"gzip"}}),
		body:     gzipBytes(t, []byte("never delivered")),
	}
	h := startReading(t, txn)

	called := false
	h.job.Read(make([]byte, 16), func(int, error) { called = true })
	h.job.Kill()

	assert.Never(t, func() bool {
		h.loop.RunUntilIdle()
		return called
	}, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, StateKilled, h.job.State())

	var after error
	h.job.Read(make([]byte, 16), func(_ int, err error) { after = err })
	h.run()
	assert.ErrorIs(t, after, errors.ErrAborted)
}

// gatedDecoder holds its output until released, then returns it without
// consulting its source.
type gatedDecoder struct {
	release chan struct{}
	wrote   chan struct{}
}

func (g *gatedDecoder) Read(p []byte) (int, error) {
	<-g.release
	n := copy(p, "late output")
	close(g.wrote)
	return n, nil
}

func TestRead_KilledDecoderNeverTouchesCallerBuffer(t *testing.T) {
	dec := &gatedDecoder{release: make(chan struct{}), wrote: make(chan struct{})}
	txn := &fakeTransaction{
		response: okResponse(http.Header{"Content-Encoding": {"gzip"}}),
		body:     []byte("ignored"),
	}
	h := newHarness(t, txn)
	h.ctx.Decoders = filter.Constructors{
		filter.TypeGzip: func(io.Reader) (io.Reader, error) { return dec, nil },
	}
	h.newJob("https://example.com/")
	h.job.Start()
	h.run()
	require.Equal(t, []error{nil}, h.delegate.started)

	buf := make([]byte, 16)
	called := false
	h.job.Read(buf, func(int, error) { called = true })
	h.job.Kill()

	close(dec.release)
	<-dec.wrote
	assert.Never(t, func() bool {
		h.loop.RunUntilIdle()
		return called
	}, 30*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, make([]byte, 16), buf)
}

func TestRead_DisallowedEncodingIsNotDecoded(t *testing.T) {
	gz := gzipBytes(t, []byte("x"))
	txn := &fakeTransaction{
		response: okResponse(http.Header{"Content-Encoding": {"gzip"}}),
		body:     gz,
	}
	h := newHarness(t, txn)
	job := h.newJob("https://example.com/")
	job.req.AcceptedEncodings = filter.NewEncodingSet("br")
	job.Start()
	h.run()

	body, err := h.readAll()
	require.NoError(t, err)
	assert.Equal(t, gz, body)
}
