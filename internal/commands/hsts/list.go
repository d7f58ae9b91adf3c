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
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tombee/httpjob/internal/commands/shared"
	"github.com/tombee/httpjob/pkg/transportsecurity"
)

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored HSTS entries",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}
}

func runList(cmd *cobra.Command, args []string) error {
	err := withState(cmd.Context(), func(state *transportsecurity.State) error {
		entries := state.HSTSEntries()

		if shared.GetJSON() {
			out := struct {
				shared.JSONResponse
				Entries []entry `json:"entries"`
			}{JSONResponse: jsonResponse("list"), Entries: []entry{}}
			for _, e := range entries {
				out.Entries = append(out.Entries, newEntry(e))
			}
			return shared.EmitJSON(cmd.OutOrStdout(), out)
		}

		if len(entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No HSTS entries.")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "HOST\tSUBDOMAINS\tEXPIRES")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%t\t%s\n", e.Host, e.IncludeSubdomains, e.Expiry.UTC().Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	})
	if err != nil {
		return fail(cmd, "list", err)
	}
	return nil
}
