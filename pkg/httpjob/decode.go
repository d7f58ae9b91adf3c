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
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/tombee/httpjob/pkg/errors"
	"github.com/tombee/httpjob/pkg/filter"
)

// BuildDecoderPipeline wraps raw in the decoding stages named by the
// response's Content-Encoding header. The last encoding listed was applied
// last by the server, so it is decoded first.
//
// An unknown, identity or disallowed token anywhere in the list leaves the
// whole body undecoded, as does a token with no constructor in stages: raw
// is returned as is. A stage that fails to construct fails the build.
func BuildDecoderPipeline(raw io.Reader, header http.Header, accepted filter.EncodingSet, stages filter.Constructors) (io.Reader, error) {
	var types []filter.SourceType
	for _, tok := range filter.ContentEncodings(header) {
		t := filter.ParseEncodingType(tok)
		if t == filter.TypeNone || t == filter.TypeUnknown || !accepted.Allows(t) || stages[t] == nil {
			return raw, nil
		}
		types = append(types, t)
	}

	r := raw
	for i := len(types) - 1; i >= 0; i-- {
		next, err := stages[types[i]](r)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", errors.ErrContentDecodingInitFailed, types[i], err)
		}
		if next == nil {
			return nil, fmt.Errorf("%w: %s", errors.ErrContentDecodingInitFailed, types[i])
		}
		r = next
	}
	return r, nil
}

// setUpSourceStream prepares the body for reading. A passthrough body is
// read straight from the transaction; a decoded one is pulled through the
// pipeline on a separate goroutine.
func (j *HTTPJob) setUpSourceStream() error {
	j.read = readState{declaredLength: -1}

	headers := j.responseHeaders()
	if headers == nil {
		return nil
	}
	j.read.declaredLength = headers.ContentLength()

	stages := j.ctx.Decoders
	if stages == nil {
		stages = filter.DefaultConstructors()
	}

	src := &rawSource{job: j, done: make(chan struct{})}
	r, err := BuildDecoderPipeline(src, headers.Header, j.req.AcceptedEncodings, stages)
	if err != nil {
		return err
	}
	if r == io.Reader(src) {
		return nil
	}

	j.read.decoder = r
	j.read.source = src
	j.log.Debug("decoding response body",
		slog.Any("content_encoding", filter.ContentEncodings(headers.Header)),
	)
	return nil
}
