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


// Package hsts implements commands that inspect and edit the persisted
// Strict-Transport-Security state.
package hsts

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/httpjob/internal/commands/shared"
	"github.com/tombee/httpjob/internal/log"
	"github.com/tombee/httpjob/pkg/transportsecurity"
)

// NewCommand creates the hsts command.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hsts",
		Short: "Inspect and edit HSTS state",
		Annotations: map[string]string{
			"group": "configuration",
		},
		Long: `Manage the Strict-Transport-Security entries that decide which hosts
are always fetched over https.

Entries are learned from responses and stored in the HSTS database named
by security.hsts_database. Preloaded hosts come from security.preload and
cannot be deleted.

Commands:
  list    List stored entries
  add     Add an entry
  delete  Delete an entry
  query   Show whether a host is upgraded to https`,
	}

	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newAddCommand())
	cmd.AddCommand(newDeleteCommand())
	cmd.AddCommand(newQueryCommand())

	return cmd
}

// withState opens the configured state, runs fn and closes the store.
func withState(ctx context.Context, fn func(*transportsecurity.State) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := shared.LoadConfig()
	if err != nil {
		return err
	}
	sec, err := shared.OpenSecurity(ctx, cfg, log.New(&cfg.Log))
	if err != nil {
		return shared.NewConfigError("failed to open HSTS database", err)
	}
	defer sec.Close()
	return fn(sec.State)
}

type entry struct {
	Host              string    `json:"host"`
	IncludeSubdomains bool      `json:"include_subdomains"`
	Observed          time.Time `json:"observed"`
	Expiry            time.Time `json:"expiry"`
}

func newEntry(e transportsecurity.HSTSEntry) entry {
	return entry{
		Host:              e.Host,
		IncludeSubdomains: e.IncludeSubdomains,
		Observed:          e.Observed.UTC(),
		Expiry:            e.Expiry.UTC(),
	}
}

func jsonResponse(command string) shared.JSONResponse {
	return shared.JSONResponse{Version: "1.0", Command: "hsts " + command, Success: true}
}

// fail emits err as JSON in --json mode and returns it for the exit code.
func fail(cmd *cobra.Command, command string, err error) error {
	if shared.GetJSON() {
		shared.EmitJSONError(cmd.OutOrStdout(), "hsts "+command, []shared.JSONError{shared.NewJSONError(err)})
	}
	return err
}
