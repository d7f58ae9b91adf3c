// Package jq filters JSON response bodies with jq expressions.
package jq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/itchyny/gojq"
)

const (
	// DefaultTimeout bounds one evaluation.
	DefaultTimeout = 5 * time.Second

	// DefaultMaxInputSize is the largest body a filter accepts (10MB).
	DefaultMaxInputSize = 10 * 1024 * 1024
)

// ErrInputTooLarge is returned when a body exceeds the filter's limit.
var ErrInputTooLarge = errors.New("input exceeds maximum size")

// Filter is a compiled jq expression.
type Filter struct {
	expr         string
	code         *gojq.Code
	timeout      time.Duration
	maxInputSize int64
}

// Compile parses and compiles expr. Zero limits take the defaults.
func Compile(expr string, timeout time.Duration, maxInputSize int64) (*Filter, error) {
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid jq expression: %w", err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("jq compilation failed: %w", err)
	}
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if maxInputSize == 0 {
		maxInputSize = DefaultMaxInputSize
	}
	return &Filter{expr: expr, code: code, timeout: timeout, maxInputSize: maxInputSize}, nil
}

// Buffer returns a writer that collects a body for Run and fails once
// more than the input limit is written.
func (f *Filter) Buffer() *Buffer {
	return &Buffer{limit: f.maxInputSize}
}

// Run evaluates the filter against every JSON value in input, in order,
// and returns all results.
func (f *Filter) Run(ctx context.Context, input []byte) ([]any, error) {
	if int64(len(input)) > f.maxInputSize {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrInputTooLarge, len(input), f.maxInputSize)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var results []any
	dec := json.NewDecoder(bytes.NewReader(input))
	for {
		var v any
		if err := dec.Decode(&v); err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("body is not JSON: %w", err)
		}

		iter := f.code.RunWithContext(ctx, v)
		for {
			out, ok := iter.Next()
			if !ok {
				break
			}
			if err, isErr := out.(error); isErr {
				if ctx.Err() != nil {
					return nil, fmt.Errorf("jq evaluation timed out after %v", f.timeout)
				}
				return nil, fmt.Errorf("jq %q: %w", f.expr, err)
			}
			results = append(results, out)
		}
	}
	return results, nil
}

// Write prints results one per line, like jq. Strings are printed
// without quotes when raw is set.
func Write(w io.Writer, results []any, raw bool) error {
	for _, r := range results {
		if s, ok := r.(string); ok && raw {
			if _, err := fmt.Fprintln(w, s); err != nil {
				return err
			}
			continue
		}
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode jq result: %w", err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return err
		}
	}
	return nil
}

// Buffer is a size-limited body buffer.
type Buffer struct {
	buf   bytes.Buffer
	limit int64
}

func (b *Buffer) Write(p []byte) (int, error) {
	if int64(b.buf.Len()+len(p)) > b.limit {
		return 0, fmt.Errorf("%w: limit %d bytes", ErrInputTooLarge, b.limit)
	}
	return b.buf.Write(p)
}

// Bytes returns the collected body.
func (b *Buffer) Bytes() []byte {
	return b.buf.Bytes()
}
