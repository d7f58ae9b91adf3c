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


/*
Package cli provides the root command of the httpjob CLI.

It owns the global flags and the JSON-capable help command. Commands
live in the internal/commands subpackages and are added by main.

# Command Tree

	httpjob
	├── fetch         Fetch a URL
	├── hsts          Inspect and edit HSTS state
	│   ├── list
	│   ├── add
	│   ├── delete
	│   └── query
	├── version       Show version
	└── help          Show help

# Usage

From main.go:

	cli.SetVersion(version, commit, date)
	rootCmd := cli.NewRootCommand()
	rootCmd.AddCommand(fetch.NewCommand())
	rootCmd.SetHelpCommand(cli.NewHelpCommand(rootCmd))
	if err := rootCmd.Execute(); err != nil {
	    cli.HandleExitError(err)
	}

# Global Flags

	--verbose, -v    Log at debug level
	--quiet, -q      Only log errors
	--json           Output in JSON format
	--config         Path to config file

# Exit Codes

	0   Success
	1   Fetch failed
	2   Invalid usage
	3   Configuration could not be loaded
	22  HTTP error status with --fail
	28  Fetch timed out
*/
package cli
