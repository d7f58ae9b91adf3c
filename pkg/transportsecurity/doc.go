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


// Package transportsecurity keeps the per-host transport security state a
// job consults: HTTP Strict Transport Security (RFC 6797) entries learned
// from responses or preloaded, and Expect-CT entries keyed by network
// isolation partition. State can be persisted to SQLite so upgrades
// survive restarts.
package transportsecurity
