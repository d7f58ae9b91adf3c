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

package httpjob

// State is the lifecycle position of an HTTPJob.
type State int

const (
	StateCreated State = iota
	StateStarted
	StateSendingCookies
	StateStartingTransaction
	StateTransactionPending
	StateHeadersArrived
	StateWritingCookies
	StateHeadersFinalized
	StateReading
	StateCompleted
	StateFailed
	StateKilled
)

var stateNames = [...]string{
	StateCreated:             "created",
	StateStarted:             "started",
	StateSendingCookies:      "sending_cookies",
	StateStartingTransaction: "starting_transaction",
	StateTransactionPending:  "transaction_pending",
	StateHeadersArrived:      "headers_arrived",
	StateWritingCookies:      "writing_cookies",
	StateHeadersFinalized:    "headers_finalized",
	StateReading:             "reading",
	StateCompleted:           "completed",
	StateFailed:              "failed",
	StateKilled:              "killed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// IsTerminal reports whether no further transitions can happen.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateKilled
}
