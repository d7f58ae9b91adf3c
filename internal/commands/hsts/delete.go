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
	"github.com/tombee/httpjob/pkg/errors"
	"github.com/tombee/httpjob/pkg/transportsecurity"
)

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <host>",
		Aliases: []string{"rm"},
		Short:   "Delete an HSTS entry",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			host, err := validateHost(args[0])
			if err != nil {
				return fail(cmd, "delete", err)
			}
			err = withState(cmd.Context(), func(state *transportsecurity.State) error {
				if !state.DeleteHSTS(host) {
					return &errors.NotFoundError{Resource: "hsts entry", ID: host}
				}
				if shared.GetJSON() {
					return shared.EmitJSON(cmd.OutOrStdout(), struct {
						shared.JSONResponse
						Host string `json:"host"`
					}{jsonResponse("delete"), host})
				}
				fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK(fmt.Sprintf("Deleted HSTS entry for %s", host)))
				return nil
			})
			if err != nil {
				return fail(cmd, "delete", err)
			}
			return nil
		},
	}
}
