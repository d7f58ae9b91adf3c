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


package policy

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/tombee/httpjob/pkg/errors"
	"github.com/tombee/httpjob/pkg/httpjob"
)

// Env is what rule expressions see. Headers holds the request headers at
// the request stage and the response headers at the response stage, keyed
// by lower-case name with repeated values joined by ", ".
//
// Example:
//
//	host endsWith ".internal" && method != "GET"
//	status >= 500 && headers["server"] == "legacy"
type Env struct {
	URL       string            `expr:"url"`
	Scheme    string            `expr:"scheme"`
	Host      string            `expr:"host"`
	Path      string            `expr:"path"`
	Method    string            `expr:"method"`
	Referrer  string            `expr:"referrer"`
	MainFrame bool              `expr:"main_frame"`
	Headers   map[string]string `expr:"headers"`

	// Response stage only.
	Status int    `expr:"status"`
	Remote string `expr:"remote"`
}

type compiledRule struct {
	Rule
	program *vm.Program
}

func compileRules(rules []Rule) ([]compiledRule, error) {
	out := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		prog, err := expr.Compile(r.When, expr.Env(Env{}), expr.AsBool())
		if err != nil {
			return nil, &errors.ValidationError{
				Field:      "rules." + r.Name,
				Message:    fmt.Sprintf("failed to compile expression: %s", err.Error()),
				Suggestion: "check expression syntax and use only url, scheme, host, path, method, referrer, main_frame, headers, status and remote",
			}
		}
		out = append(out, compiledRule{Rule: r, program: prog})
	}
	return out, nil
}

// firstMatch returns the name of the first rule of stage that matches env.
func firstMatch(rules []compiledRule, stage Stage, env Env) (string, error) {
	for _, r := range rules {
		if r.Stage != stage {
			continue
		}
		result, err := expr.Run(r.program, env)
		if err != nil {
			return "", fmt.Errorf("rule %q: %w", r.Name, err)
		}
		if matched, _ := result.(bool); matched {
			return r.Name, nil
		}
	}
	return "", nil
}

func requestEnv(req *httpjob.Request, h http.Header) Env {
	return Env{
		URL:       req.URL.String(),
		Scheme:    req.URL.Scheme,
		Host:      strings.ToLower(req.URL.Hostname()),
		Path:      req.URL.Path,
		Method:    req.Method,
		Referrer:  req.Referrer,
		MainFrame: req.IsMainFrameNavigation(),
		Headers:   flattenHeaders(h),
	}
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		out[strings.ToLower(k)] = strings.Join(vs, ", ")
	}
	return out
}
