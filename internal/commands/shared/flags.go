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


package shared

// globals holds the persistent flags bound by the root command.
var globals struct {
	verbose bool
	quiet   bool
	json    bool
	config  string
}

// Build-time version information
var buildInfo = struct {
	version, commit, date string
}{"dev", "unknown", "unknown"}

// RegisterFlagPointers returns the verbose, quiet, json and config flag
// variables for the root command to bind.
func RegisterFlagPointers() (verbose, quiet, json *bool, config *string) {
	return &globals.verbose, &globals.quiet, &globals.json, &globals.config
}

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	buildInfo.version, buildInfo.commit, buildInfo.date = v, c, b
}

// GetVersion returns version, commit and build date.
func GetVersion() (string, string, string) {
	return buildInfo.version, buildInfo.commit, buildInfo.date
}

// GetVerbose reports whether --verbose was given.
func GetVerbose() bool { return globals.verbose }

// GetQuiet reports whether --quiet was given.
func GetQuiet() bool { return globals.quiet }

// GetJSON reports whether output should be JSON.
func GetJSON() bool { return globals.json }

// GetConfigPath returns the --config path, or "".
func GetConfigPath() string { return globals.config }

// SetConfigPathForTest overrides --config in tests.
func SetConfigPathForTest(path string) { globals.config = path }

// SetJSONForTest overrides --json in tests.
func SetJSONForTest(v bool) { globals.json = v }
