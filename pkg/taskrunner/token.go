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

package taskrunner

// Token guards the continuations of one owner. Invalidate makes every
// continuation bound so far a no-op; continuations bound afterwards are live
// again, which lets an owner drop stale callbacks from a destroyed
// transaction and keep going.
//
// A Token is not safe for concurrent use. It is read and written only from
// the loop goroutine, and bound functions must be invoked there too (post
// them with PostTask when they are triggered elsewhere).
type Token struct {
	gen uint64
}

// Invalidate cancels every continuation bound before this call.
func (t *Token) Invalidate() {
	t.gen++
}

// valid reports whether a continuation bound at generation gen may run.
func (t *Token) valid(gen uint64) bool {
	return t.gen == gen
}

// Bind wraps fn so it runs only if the token has not been invalidated
// since Bind was called.
func (t *Token) Bind(fn func()) func() {
	gen := t.gen
	return func() {
		if t.valid(gen) {
			fn()
		}
	}
}

// BindErr is Bind for error callbacks.
func (t *Token) BindErr(fn func(error)) func(error) {
	gen := t.gen
	return func(err error) {
		if t.valid(gen) {
			fn(err)
		}
	}
}

// Bind1 is Bind for single-argument callbacks.
func Bind1[A any](t *Token, fn func(A)) func(A) {
	gen := t.gen
	return func(a A) {
		if t.valid(gen) {
			fn(a)
		}
	}
}

// Bind2 is Bind for two-argument callbacks.
func Bind2[A, B any](t *Token, fn func(A, B)) func(A, B) {
	gen := t.gen
	return func(a A, b B) {
		if t.valid(gen) {
			fn(a, b)
		}
	}
}

// PostBound posts fn to r guarded by t.
func PostBound(r Runner, t *Token, fn func()) {
	r.PostTask(t.Bind(fn))
}
