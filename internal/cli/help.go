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


package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tombee/httpjob/internal/commands/shared"
)

const docsURL = "https://github.com/tombee/httpjob#readme"

// CommandInfo describes a command for JSON help.
type CommandInfo struct {
	Name        string     `json:"name"`
	Path        string     `json:"path"`
	Short       string     `json:"short"`
	Long        string     `json:"long,omitempty"`
	Usage       string     `json:"usage"`
	Examples    string     `json:"examples,omitempty"`
	Group       string     `json:"group,omitempty"`
	Aliases     []string   `json:"aliases,omitempty"`
	Flags       []FlagInfo `json:"flags,omitempty"`
	Subcommands []string   `json:"subcommands,omitempty"`
}

// FlagInfo describes one flag.
type FlagInfo struct {
	Name      string `json:"name"`
	Shorthand string `json:"shorthand,omitempty"`
	Type      string `json:"type"`
	Usage     string `json:"usage"`
	Default   string `json:"default,omitempty"`
}

// HelpResponse is the JSON form of help output.
type HelpResponse struct {
	shared.JSONResponse
	Commands    []CommandInfo `json:"commands,omitempty"`
	Command     *CommandInfo  `json:"command_info,omitempty"`
	GlobalFlags []FlagInfo    `json:"global_flags,omitempty"`
	DocsURL     string        `json:"docs_url"`
}

// NewHelpCommand creates a help command for root that can answer in JSON.
func NewHelpCommand(root *cobra.Command) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "help [command]",
		Short: "Help about any command",
		Long: `Help shows usage for httpjob or one of its commands.

Use --json for machine-readable output.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON := shared.GetJSON() || jsonOutput

			target := root
			if len(args) > 0 {
				found, _, err := root.Find(args)
				if err != nil || found == root {
					return shared.NewUsageError(fmt.Sprintf("unknown command %q", args[0]), err)
				}
				target = found
			}
			if !asJSON {
				return target.Help()
			}

			resp := HelpResponse{
				JSONResponse: shared.JSONResponse{Version: "1.0", Command: "help", Success: true},
				GlobalFlags:  collectFlags(root.PersistentFlags()),
				DocsURL:      docsURL,
			}
			if target == root {
				resp.Commands = []CommandInfo{}
				for _, c := range root.Commands() {
					if c.Hidden {
						continue
					}
					resp.Commands = append(resp.Commands, describeCommand(c))
				}
			} else {
				info := describeCommand(target)
				resp.Command = &info
				resp.JSONResponse.Command = "help " + target.Name()
			}
			return shared.EmitJSON(cmd.OutOrStdout(), resp)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	return cmd
}

func describeCommand(cmd *cobra.Command) CommandInfo {
	info := CommandInfo{
		Name:     cmd.Name(),
		Path:     cmd.CommandPath(),
		Short:    cmd.Short,
		Long:     cmd.Long,
		Usage:    cmd.UseLine(),
		Examples: cmd.Example,
		Group:    cmd.Annotations["group"],
		Aliases:  cmd.Aliases,
		Flags:    collectFlags(cmd.LocalNonPersistentFlags()),
	}
	for _, sub := range cmd.Commands() {
		if !sub.Hidden {
			info.Subcommands = append(info.Subcommands, sub.Name())
		}
	}
	return info
}

// collectFlags lists the visible flags of fs sorted by name.
func collectFlags(fs *pflag.FlagSet) []FlagInfo {
	var flags []FlagInfo
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Hidden {
			return
		}
		flags = append(flags, FlagInfo{
			Name:      f.Name,
			Shorthand: f.Shorthand,
			Type:      f.Value.Type(),
			Usage:     f.Usage,
			Default:   f.DefValue,
		})
	})
	sort.Slice(flags, func(i, j int) bool { return flags[i].Name < flags[j].Name })
	return flags
}
