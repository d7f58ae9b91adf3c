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

package credentials

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"

	"github.com/tombee/httpjob/pkg/httpjob"
)

// Prompter asks the user for credentials on the terminal and can save the
// answer to a keyring.
type Prompter struct {
	keyring *Keyring

	// Tests replace these.
	nonInteractive func() bool
	ask            func(ctx context.Context, challenge *httpjob.AuthChallenge, creds *httpjob.AuthCredentials, save *bool, offerSave bool) error
}

// NewPrompter creates a Prompter. k may be nil, in which case answers are
// never saved.
func NewPrompter(k *Keyring) *Prompter {
	return &Prompter{keyring: k, nonInteractive: IsNonInteractive, ask: runForm}
}

// Prompt asks for credentials. ok is false when the session is not
// interactive or the user left the username empty.
func (p *Prompter) Prompt(ctx context.Context, challenge *httpjob.AuthChallenge) (creds httpjob.AuthCredentials, ok bool, err error) {
	if challenge == nil || p.nonInteractive() {
		return httpjob.AuthCredentials{}, false, nil
	}
	offerSave := p.keyring != nil && p.keyring.Available()

	var save bool
	if err := p.ask(ctx, challenge, &creds, &save, offerSave); err != nil {
		return httpjob.AuthCredentials{}, false, err
	}
	if creds.Username == "" {
		return httpjob.AuthCredentials{}, false, nil
	}
	if save && offerSave {
		if err := p.keyring.Set(ctx, Key(challenge), creds); err != nil {
			return creds, true, err
		}
	}
	return creds, true, nil
}

func runForm(ctx context.Context, challenge *httpjob.AuthChallenge, creds *httpjob.AuthCredentials, save *bool, offerSave bool) error {
	target := challenge.Challenger
	if challenge.IsProxy {
		target = "proxy " + target
	}
	description := fmt.Sprintf("%s requires %s authentication", target, challenge.Scheme)
	if challenge.Realm != "" {
		description += fmt.Sprintf(" (realm %q)", challenge.Realm)
	}

	fields := []huh.Field{
		huh.NewInput().
			Title("Username").
			Description(description).
			Value(&creds.Username).
			Validate(func(s string) error {
				if strings.Contains(s, ":") {
					return fmt.Errorf("username must not contain ':'")
				}
				return nil
			}),
		huh.NewInput().
			Title("Password").
			EchoMode(huh.EchoModePassword).
			Value(&creds.Password),
	}
	if offerSave {
		fields = append(fields, huh.NewConfirm().
			Title("Save to keyring?").
			Value(save))
	}

	return huh.NewForm(huh.NewGroup(fields...)).RunWithContext(ctx)
}

// IsNonInteractive detects if the current execution context is non-interactive:
// HTTPJOB_NON_INTERACTIVE=true, a CI environment, or stdin not being a TTY.
func IsNonInteractive() bool {
	if os.Getenv("HTTPJOB_NON_INTERACTIVE") == "true" {
		return true
	}
	if isCIEnvironment() {
		return true
	}
	return !term.IsTerminal(int(os.Stdin.Fd()))
}

func isCIEnvironment() bool {
	for _, envVar := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "CIRCLECI"} {
		if v := os.Getenv(envVar); v == "true" || v == "1" {
			return true
		}
	}
	// JENKINS_HOME is set to a path.
	return os.Getenv("JENKINS_HOME") != ""
}
