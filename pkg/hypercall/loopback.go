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

package hypercall

import (
	"github.com/abmerop/gem5fs/pkg/guestmem"
	"github.com/abmerop/gem5fs/pkg/protocol"
	"github.com/abmerop/gem5fs/pkg/wire"
)

// Loopback is a Hypervisor that runs the host executor in the same
// process as its caller, against whatever guestmem.ThreadContext (in
// practice a *guestmem.Arena) it is handed on each call. It owns the one
// handle table for its lifetime, so buffered replies from one Exec call
// remain resolvable by a later FetchPayload Exec call.
type Loopback struct {
	table *protocol.Table
}

// NewLoopback returns a Loopback with a fresh, empty handle table.
func NewLoopback() *Loopback {
	return &Loopback{table: protocol.NewTable()}
}

// Exec implements Hypervisor. It copies the request envelope out of guest
// memory, reads the input payload bytes if any are declared, dispatches
// to stage A or stage B depending on the operation, and copies the
// response envelope back into guest memory at resultAddr.
func (l *Loopback) Exec(tc guestmem.ThreadContext, inputAddr, requestAddr, resultAddr guestmem.GuestAddr) uint64 {
	reqBytes := make([]byte, wire.EnvelopeWireSize)
	if err := tc.CopyOut(reqBytes, requestAddr); err != nil {
		return 1
	}
	req, err := wire.DecodeEnvelope(reqBytes)
	if err != nil {
		return 1
	}

	var input []byte
	if req.PayloadSize > 0 && inputAddr != 0 {
		input = make([]byte, req.PayloadSize)
		if err := tc.CopyOut(input, inputAddr); err != nil {
			return 1
		}
	}

	var resp wire.Envelope
	if req.Op == wire.FetchPayload {
		resp = protocol.RunStageB(tc, l.table, req)
	} else {
		resp = protocol.RunStageA(tc, l.table, req, input)
	}

	if err := tc.CopyIn(resultAddr, wire.EncodeEnvelope(resp)); err != nil {
		return 1
	}
	return 0
}

// Table exposes the underlying handle table, mainly so tests and
// cmd/gem5fs-probe can assert on Table.Len/Table.Sweep without adding a
// second table of their own.
func (l *Loopback) Table() *protocol.Table { return l.table }
