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
	"net"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/httpjob/internal/commands/shared"
	"github.com/tombee/httpjob/pkg/transportsecurity"
)

const defaultMaxAge = 365 * 24 * time.Hour

func newAddCommand() *cobra.Command {
	var (
		maxAge            time.Duration
		includeSubdomains bool
	)

	cmd := &cobra.Command{
		Use:   "add <host>",
		Short: "Add an HSTS entry",
		Long: `Add an entry so that plain http requests to the host are upgraded
to https until the entry expires.

Example:
  httpjob hsts add example.com --include-subdomains
  httpjob hsts add api.example.com --max-age 720h`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			host, err := validateHost(args[0])
			if err != nil {
				return fail(cmd, "add", err)
			}
			if maxAge <= 0 {
				return fail(cmd, "add", shared.NewUsageError(fmt.Sprintf("--max-age must be positive, got %v", maxAge), nil))
			}
			err = withState(cmd.Context(), func(state *transportsecurity.State) error {
				state.AddHSTS(host, maxAge, includeSubdomains)
				if shared.GetJSON() {
					now := time.Now()
					return shared.EmitJSON(cmd.OutOrStdout(), struct {
						shared.JSONResponse
						Entry entry `json:"entry"`
					}{jsonResponse("add"), newEntry(transportsecurity.HSTSEntry{
						Host:              host,
						Observed:          now,
						Expiry:            now.Add(maxAge),
						IncludeSubdomains: includeSubdomains,
					})})
				}
				fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK(fmt.Sprintf("Added HSTS entry for %s", host)))
				return nil
			})
			if err != nil {
				return fail(cmd, "add", err)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&maxAge, "max-age", defaultMaxAge, "How long the entry lasts")
	cmd.Flags().BoolVar(&includeSubdomains, "include-subdomains", false, "Also upgrade every subdomain")

	return cmd
}

// validateHost canonicalizes host. IP literals never carry HSTS state.
func validateHost(host string) (string, error) {
	h := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	switch {
	case h == "":
		return "", shared.NewUsageError("host is required", nil)
	case strings.ContainsAny(h, "/: "):
		return "", shared.NewUsageError(fmt.Sprintf("expected a host name, got %q", host), nil)
	case net.ParseIP(h) != nil:
		return "", shared.NewUsageError(fmt.Sprintf("IP addresses cannot have HSTS entries, got %q", host), nil)
	}
	return h, nil
}
