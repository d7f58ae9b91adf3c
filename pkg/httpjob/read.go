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
	"log/slog"
	"sync"

	"github.com/tombee/httpjob/pkg/errors"
	"github.com/tombee/httpjob/pkg/taskrunner"
)

var (
	// ErrNotReading is returned by Read before the response has started.
	ErrNotReading = errors.New("response body is not readable")

	// ErrReadInProgress is returned by Read while another read is pending.
	ErrReadInProgress = errors.New("read already in progress")
)

// maxEmptyReads bounds how many times a decoder may return no data and no
// error before a read is failed.
const maxEmptyReads = 100

type readState struct {
	// decoder is nil when the body is passed through undecoded.
	decoder io.Reader
	source  *rawSource
	pending bool

	// scratch receives decoder output off the loop. It is copied into the
	// caller's buffer on the loop, so a read abandoned by Kill never
	// writes caller memory.
	scratch []byte

	prefilterBytes  int64
	postfilterBytes int64
	declaredLength  int64

	// rawErr is the last transport error seen beneath the decoder.
	rawErr error
	// stashed is an error that arrived together with data. It is
	// returned by the next Read.
	stashed  error
	finalErr error
}

// fixMismatchedContentLength reports whether a length mismatch should
// count as a clean end of body: some servers declare the decoded length of
// an encoded body.
func (r *readState) fixMismatchedContentLength(err error) bool {
	if !errors.IsLengthMismatch(err) && !errors.IsLengthMismatch(r.rawErr) {
		return false
	}
	return r.declaredLength >= 0 && r.postfilterBytes == r.declaredLength
}

// rawSource feeds transaction bytes to the decoder goroutine. Each Read
// is performed on the runner and handed back over a channel.
type rawSource struct {
	job  *HTTPJob
	done chan struct{}
	once sync.Once
}

type rawResult struct {
	n   int
	err error
}

func (s *rawSource) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	ch := make(chan rawResult, 1)
	s.job.ctx.Runner.PostTask(func() {
		s.job.readRaw(s, p, func(n int, err error) { ch <- rawResult{n, err} })
	})
	select {
	case res := <-ch:
		return res.n, res.err
	case <-s.done:
		return 0, errors.ErrAborted
	}
}

func (s *rawSource) stop() {
	s.once.Do(func() { close(s.done) })
}

func (j *HTTPJob) readRaw(src *rawSource, p []byte, deliver func(int, error)) {
	if j.txn == nil || j.read.source != src {
		deliver(0, errors.ErrAborted)
		return
	}
	onRead := taskrunner.Bind2(&j.token, func(n int, err error) {
		j.onRawRead(n, err)
		deliver(n, err)
	})
	n, err := j.txn.Read(p, func(n int, err error) {
		j.ctx.Runner.PostTask(func() { onRead(n, err) })
	})
	if errors.IsPending(err) {
		return
	}
	j.onRawRead(n, err)
	deliver(n, err)
}

func (j *HTTPJob) onRawRead(n int, err error) {
	j.read.prefilterBytes += int64(n)
	if err != nil && err != io.EOF {
		j.read.rawErr = err
	}
}

// Read reads decoded body bytes into buf. The result always arrives
// through cb in a posted task. End of body is (0, io.EOF); the first error
// or end of body finalizes the job.
// buf is only written on the runner, and never after Kill.
func (j *HTTPJob) Read(buf []byte, cb func(int, error)) {
	deliver := func(n int, err error) { j.post(func() { cb(n, err) }) }

	switch {
	case j.state == StateCompleted:
		deliver(0, io.EOF)
		return
	case j.state == StateKilled:
		deliver(0, errors.ErrAborted)
		return
	case j.state != StateReading:
		err := j.read.finalErr
		if err == nil {
			err = ErrNotReading
		}
		deliver(0, err)
		return
	case j.read.pending:
		deliver(0, ErrReadInProgress)
		return
	case len(buf) == 0:
		deliver(0, nil)
		return
	}

	j.read.pending = true

	if err := j.read.stashed; err != nil {
		j.read.stashed = nil
		j.post(func() { j.onReadCompleted(0, err, cb) })
		return
	}

	if j.read.decoder == nil {
		j.readPassthrough(buf, cb)
		return
	}

	if cap(j.read.scratch) < len(buf) {
		j.read.scratch = make([]byte, len(buf))
	}
	scratch := j.read.scratch[:len(buf)]

	dec := j.read.decoder
	runner := j.ctx.Runner
	onRead := taskrunner.Bind2(&j.token, func(n int, err error) {
		copy(buf, scratch[:n])
		j.onReadCompleted(n, err, cb)
	})
	go func() {
		var (
			n   int
			err error
		)
		for i := 0; n == 0 && err == nil; i++ {
			if i == maxEmptyReads {
				err = io.ErrNoProgress
				break
			}
			n, err = dec.Read(scratch)
		}
		runner.PostTask(func() { onRead(n, err) })
	}()
}

func (j *HTTPJob) readPassthrough(buf []byte, cb func(int, error)) {
	if j.txn == nil {
		j.post(func() { j.onReadCompleted(0, errors.ErrAborted, cb) })
		return
	}
	onRead := taskrunner.Bind2(&j.token, func(n int, err error) {
		j.onRawRead(n, err)
		j.onReadCompleted(n, err, cb)
	})
	n, err := j.txn.Read(buf, func(n int, err error) {
		j.ctx.Runner.PostTask(func() { onRead(n, err) })
	})
	if errors.IsPending(err) {
		return
	}
	j.post(func() {
		j.onRawRead(n, err)
		j.onReadCompleted(n, err, cb)
	})
}

func (j *HTTPJob) onReadCompleted(n int, err error, cb func(int, error)) {
	j.read.pending = false
	j.read.postfilterBytes += int64(n)

	if n > 0 || err == nil {
		if err != nil {
			j.read.stashed = err
		}
		cb(n, nil)
		return
	}

	if err != io.EOF && j.read.fixMismatchedContentLength(err) {
		j.log.Debug("ignoring content length mismatch",
			slog.Int64("declared", j.read.declaredLength),
			slog.Int64("decoded", j.read.postfilterBytes),
		)
		err = io.EOF
	}

	if err == io.EOF {
		j.finishRead()
		cb(0, io.EOF)
		return
	}
	j.failRead(err)
	cb(0, err)
}

func (j *HTTPJob) finishRead() {
	j.state = StateCompleted
	j.stopBody()
	if j.txn != nil {
		j.txn.DoneReading()
	}
	j.log.Debug("response body complete",
		slog.Int64("prefilter_bytes", j.read.prefilterBytes),
		slog.Int64("postfilter_bytes", j.read.postfilterBytes),
	)
	j.doneWithRequest(nil)
}

func (j *HTTPJob) failRead(err error) {
	j.state = StateFailed
	j.read.finalErr = err
	j.stopBody()
	j.log.Debug("response body failed",
		slog.String("error", err.Error()),
		slog.String("error_type", errors.Classify(err)),
	)
	j.doneWithRequest(err)
}

// stopBody unblocks a decoder goroutine waiting on the transaction.
func (j *HTTPJob) stopBody() {
	if j.read.source != nil {
		j.read.source.stop()
	}
}

// PrefilterBytes returns the number of body bytes read from the
// transaction.
func (j *HTTPJob) PrefilterBytes() int64 { return j.read.prefilterBytes }

// PostfilterBytes returns the number of decoded body bytes delivered.
func (j *HTTPJob) PostfilterBytes() int64 { return j.read.postfilterBytes }
