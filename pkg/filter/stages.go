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
	"bufio"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

// Constructor wraps src in a decoding stage.
type Constructor func(src io.Reader) (io.Reader, error)

// Constructors maps each decodable encoding to its stage constructor.
type Constructors map[SourceType]Constructor

// DefaultConstructors returns the gzip, deflate and brotli stages.
func DefaultConstructors() Constructors {
	return Constructors{
		TypeGzip:    NewGzip,
		TypeDeflate: NewDeflate,
		TypeBrotli:  NewBrotli,
	}
}

// lazyReader defers building the decoder until the first Read. The gzip
// and zlib readers consume their header on construction, and the source
// may not have any bytes yet when the pipeline is assembled.
type lazyReader struct {
	src   io.Reader
	open  func(io.Reader) (io.Reader, error)
	dec   io.Reader
	err   error
	label string
}

func (l *lazyReader) Read(p []byte) (int, error) {
	if l.err != nil {
		return 0, l.err
	}
	if l.dec == nil {
		br := bufio.NewReader(l.src)
		if _, err := br.Peek(1); err == io.EOF {
			// An empty body decodes to an empty body.
			l.err = io.EOF
			return 0, io.EOF
		}
		dec, err := l.open(br)
		if err != nil {
			l.err = fmt.Errorf("%s: %w", l.label, err)
			return 0, l.err
		}
		l.dec = dec
	}
	n, err := l.dec.Read(p)
	if err != nil && err != io.EOF {
		l.err = fmt.Errorf("%s: %w", l.label, err)
		return n, l.err
	}
	return n, err
}

// NewGzip returns a gzip decoding stage. Concatenated members are decoded
// as one stream.
func NewGzip(src io.Reader) (io.Reader, error) {
	return &lazyReader{
		src:   src,
		label: "gzip",
		open: func(r io.Reader) (io.Reader, error) {
			return gzip.NewReader(r)
		},
	}, nil
}

// NewDeflate returns a deflate decoding stage. Servers disagree on whether
// "deflate" means a zlib stream or a raw one, so the zlib header is sniffed
// and raw deflate is used when it is absent.
func NewDeflate(src io.Reader) (io.Reader, error) {
	return &lazyReader{
		src:   src,
		label: "deflate",
		open: func(r io.Reader) (io.Reader, error) {
			br := r.(*bufio.Reader)
			head, err := br.Peek(2)
			if err != nil && err != io.EOF {
				return nil, err
			}
			if len(head) == 2 && isZlibHeader(head[0], head[1]) {
				return zlib.NewReader(br)
			}
			return flate.NewReader(br), nil
		},
	}, nil
}

// NewBrotli returns a brotli decoding stage.
func NewBrotli(src io.Reader) (io.Reader, error) {
	return &lazyReader{
		src:   src,
		label: "br",
		open: func(r io.Reader) (io.Reader, error) {
			return brotli.NewReader(r), nil
		},
	}, nil
}

func isZlibHeader(cmf, flg byte) bool {
	return cmf&0x0f == 8 && cmf>>4 <= 7 && (uint16(cmf)<<8|uint16(flg))%31 == 0
}
