package jq

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

func TestFilter_Run(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		input      string
		want       string
		raw        bool
		wantErr    bool
	}{
		{
			name:       "identity",
			expression: ".",
			input:      `{"foo":"bar"}`,
			want:       "{\n  \"foo\": \"bar\"\n}\n",
		},
		{
			name:       "field extraction",
			expression: ".foo",
			input:      `{"foo":"bar"}`,
			want:       "\"bar\"\n",
		},
		{
			name:       "raw strings",
			expression: ".[].name",
			input:      `[{"name":"a"},{"name":"b"}]`,
			raw:        true,
			want:       "a\nb\n",
		},
		{
			name:       "array map",
			expression: "map(.x)",
			input:      `[{"x":1},{"x":2}]`,
			want:       "[\n  1,\n  2\n]\n",
		},
		{
			name:       "value stream",
			expression: ".n",
			input:      "{\"n\":1}\n{\"n\":2}",
			want:       "1\n2\n",
		},
		{
			name:       "empty result",
			expression: "empty",
			input:      `{}`,
			want:       "",
		},
		{
			name:       "not JSON",
			expression: ".",
			input:      `<html>`,
			wantErr:    true,
		},
		{
			name:       "runtime error",
			expression: ".foo.bar",
			input:      `{"foo":"not an object"}`,
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Compile(tt.expression, 0, 0)
			if err != nil {
				t.Fatalf("Compile() error = %v", err)
			}
			results, err := f.Run(context.Background(), []byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Run() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			var out bytes.Buffer
			if err := Write(&out, results, tt.raw); err != nil {
				t.Fatalf("Write() error = %v", err)
			}
			if out.String() != tt.want {
				t.Errorf("output = %q, want %q", out.String(), tt.want)
			}
		})
	}
}

func TestCompile_Invalid(t *testing.T) {
	for _, expr := range []string{".[", "undefined_function(1)"} {
		if _, err := Compile(expr, 0, 0); err == nil {
			t.Errorf("Compile(%q) should fail", expr)
		}
	}
}

func TestFilter_InputLimit(t *testing.T) {
	f, err := Compile(".", time.Second, 8)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.Run(context.Background(), []byte(`{"long":"value"}`)); !errors.Is(err, ErrInputTooLarge) {
		t.Errorf("Run() error = %v, want ErrInputTooLarge", err)
	}

	buf := f.Buffer()
	if _, err := buf.Write([]byte("1234")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if _, err := buf.Write([]byte("56789")); !errors.Is(err, ErrInputTooLarge) {
		t.Errorf("Write() error = %v, want ErrInputTooLarge", err)
	}
	if string(buf.Bytes()) != "1234" {
		t.Errorf("Bytes() = %q", buf.Bytes())
	}
}
