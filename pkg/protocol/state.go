/*
Copyright 2024 The gem5fs Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package protocol

// RequestState names the stages a single request passes through. It is
// documentation more than machinery: RunStageA and RunStageB each
// correspond to a handful of these transitions, and nothing in this
// package stores a RequestState value anywhere — the table entry's mere
// presence or absence already encodes Buffered vs Completed/ErrorReplied.
type RequestState int

const (
	// Idle: no request in flight.
	Idle RequestState = iota
	// Parsed: the envelope has been copied out of guest memory and the
	// path extracted.
	Parsed
	// Buffered: the host executor ran and a reply is sitting in the
	// Table awaiting a stage-B fetch.
	Buffered
	// FetchStage: a FetchPayload request arrived and is being resolved
	// against the Table instead of running a fresh operation.
	FetchStage
	// Completed: stage B ran, the payload was copied into guest memory,
	// and the Table entry was released.
	Completed
	// ErrorReplied: the operation failed; no Table entry was ever
	// created, and no stage-B fetch will follow.
	ErrorReplied
)

func (s RequestState) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Parsed:
		return "Parsed"
	case Buffered:
		return "Buffered"
	case FetchStage:
		return "FetchStage"
	case Completed:
		return "Completed"
	case ErrorReplied:
		return "ErrorReplied"
	default:
		return "Unknown"
	}
}
