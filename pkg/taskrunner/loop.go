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

// Package taskrunner provides the single-goroutine task loop that request
// jobs run on, plus the cancellation token used to drop continuations of a
// killed job.
//
// Every continuation a job schedules goes through Runner.PostTask. Work
// done on other goroutines (network round trips, decoders) reports back by
// posting a task, so job state is only ever touched from the loop.
package taskrunner

import (
	"context"
	"sync"
)

// Runner accepts tasks for deferred execution.
type Runner interface {
	// PostTask queues fn to run after the current task returns. It is
	// safe to call from any goroutine.
	PostTask(fn func())
}

// Loop is a FIFO task queue drained by whichever goroutine calls Run or
// RunUntilIdle. Only one goroutine may drain it at a time.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	quit    chan struct{}
	quitted bool
}

// NewLoop creates an empty loop.
func NewLoop() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
	}
}

// PostTask implements Runner.
func (l *Loop) PostTask(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run drains tasks until ctx is done or Quit is called. Tasks posted while
// Run is blocked wake it up.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.RunUntilIdle()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.quit:
			return nil
		case <-l.wake:
		}
	}
}

// RunUntilIdle runs queued tasks, including ones they post, until the
// queue is empty. It returns the number of tasks run.
func (l *Loop) RunUntilIdle() int {
	n := 0
	for {
		fn, ok := l.pop()
		if !ok {
			return n
		}
		fn()
		n++
	}
}

// Pending returns the number of queued tasks.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Quit makes Run return after the task in progress. Safe to call more
// than once.
func (l *Loop) Quit() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.quitted {
		l.quitted = true
		close(l.quit)
	}
}

func (l *Loop) pop() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}
