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

// Package fetch drives request jobs to completion the way a browser's
// request layer does: it follows redirects, answers auth challenges,
// decides what to do about certificate errors and client certificate
// requests, and copies the decoded body to a writer.
//
// Each fetch runs its job on a private task loop owned by the calling
// goroutine, so a Client may be used for concurrent fetches as long as
// the shared collaborators in its httpjob.Context are safe for
// concurrent use.
//
// # Usage
//
//	client, err := fetch.New(jobs, fetch.DefaultConfig(),
//	    fetch.WithCredentials(prompter.Prompt),
//	)
//	if err != nil {
//	    return err
//	}
//	resp, err := client.Do(ctx, &httpjob.Request{URL: u}, os.Stdout)
//
// HTTP error statuses are not errors: a 404 or an unanswered 401 is
// returned as a Response. Errors are reserved for requests that produced
// no complete response.
package fetch
