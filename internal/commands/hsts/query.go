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


package hsts

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tombee/httpjob/internal/commands/shared"
	"github.com/tombee/httpjob/pkg/transportsecurity"
)

func newQueryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "query <host>",
		Short: "Show whether requests to a host are upgraded to https",
		Long: `Query reports whether plain http requests to the host would be
upgraded, either by its own entry, a parent entry that includes
subdomains, or the preload list.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			host, err := validateHost(args[0])
			if err != nil {
				return fail(cmd, "query", err)
			}
			err = withState(cmd.Context(), func(state *transportsecurity.State) error {
				upgrade := state.ShouldUpgradeToSSL(host)
				var own *entry
				for _, e := range state.HSTSEntries() {
					if e.Host == host {
						ne := newEntry(e)
						own = &ne
						break
					}
				}

				if shared.GetJSON() {
					return shared.EmitJSON(cmd.OutOrStdout(), struct {
						shared.JSONResponse
						Host    string `json:"host"`
						Upgrade bool   `json:"upgrade"`
						Entry   *entry `json:"entry,omitempty"`
					}{jsonResponse("query"), host, upgrade, own})
				}

				if !upgrade {
					fmt.Fprintln(cmd.OutOrStdout(), shared.RenderWarn(fmt.Sprintf("%s is not upgraded to https", host)))
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK(fmt.Sprintf("%s is upgraded to https", host)))
				if own != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s %t\n", shared.RenderLabel("include subdomains:"), own.IncludeSubdomains)
					fmt.Fprintf(cmd.OutOrStdout(), "  %s %s\n", shared.RenderLabel("expires:"), own.Expiry.Format("2006-01-02 15:04:05"))
				}
				return nil
			})
			if err != nil {
				return fail(cmd, "query", err)
			}
			return nil
		},
	}
}
