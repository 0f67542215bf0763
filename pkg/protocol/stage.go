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

import (
	"golang.org/x/sys/unix"

	"github.com/abmerop/gem5fs/pkg/guestmem"
	"github.com/abmerop/gem5fs/pkg/hostexec"
	"github.com/abmerop/gem5fs/pkg/wire"
)

// RunStageA runs the first half of a request: extract the path, dispatch
// to the host executor, and either buffer a reply (Parsed -> Buffered) or
// report an error directly (Parsed -> ErrorReplied). payload is the raw
// bytes of the request's operation-specific argument struct, already
// copied out of guest memory by the hypercall boundary (package
// hypercall) alongside the envelope itself.
//
// The returned envelope is what the hypercall boundary writes back into
// guest memory at resultAddr. On success its PayloadSize names exactly
// how many bytes a follow-up FetchPayload must retrieve, and its Handle
// is the opaque key that fetch must echo back.
func RunStageA(tc guestmem.ThreadContext, table *Table, req wire.Envelope, payload []byte) wire.Envelope {
	path, err := guestmem.ExtractPath(tc, req.PathPtr, req.PathLen)
	if err != nil {
		return errorEnvelope(req, int32(unix.EFAULT))
	}

	result := hostexec.Dispatch(hostexec.Request{
		Op:      req.Op,
		Path:    path,
		Payload: payload,
		TC:      tc,
	})
	if result.Errno != 0 {
		return errorEnvelope(req, result.Errno)
	}

	size := 0
	if result.Payload != nil {
		size = len(result.Payload.Bytes())
	}
	if size == 0 {
		// Replyless operation: nothing for a follow-up FetchPayload to
		// retrieve, so there is nothing to buffer either. Reporting
		// success directly here is what keeps replyless operations at
		// exactly one hypercall instead of leaking a handle that no
		// guest-side FetchPayload will ever come collect.
		return wire.Envelope{
			Op:          req.Op,
			Direction:   wire.Response,
			PathLen:     req.PathLen,
			PayloadSize: 0,
		}
	}
	_, env := table.Store(wire.Envelope{
		Op:          req.Op,
		Direction:   wire.Response,
		PathLen:     req.PathLen,
		PayloadSize: uint32(size),
	}, result.Payload)
	return env
}

// RunStageB runs the second half: resolve the handle the guest echoes
// back, copy the buffered payload into the guest buffer the guest has
// since allocated at req.PayloadPtr, and release the Table entry. This is
// the only path through which a BufferedReply is ever freed; an
// unresolved handle is exactly what Table.Sweep exists to find.
func RunStageB(tc guestmem.ThreadContext, table *Table, req wire.Envelope) wire.Envelope {
	reply, ok := table.Fetch(req.Handle)
	if !ok {
		return errorEnvelope(req, int32(unix.ESTALE))
	}
	defer table.Release(req.Handle)

	data := reply.Payload.Bytes()
	if uint32(len(data)) != req.PayloadSize && req.PayloadSize != 0 {
		return errorEnvelope(req, int32(unix.EINVAL))
	}
	if len(data) > 0 {
		if err := tc.CopyIn(req.PayloadPtr, data); err != nil {
			return errorEnvelope(req, int32(unix.EFAULT))
		}
	}
	return wire.Envelope{
		Op:          wire.FetchPayload,
		Direction:   wire.Response,
		PayloadSize: uint32(len(data)),
		Handle:      req.Handle,
	}
}

func errorEnvelope(req wire.Envelope, errno int32) wire.Envelope {
	return wire.Envelope{
		Op:        wire.Error,
		Direction: wire.Response,
		PathLen:   req.PathLen,
		Errnum:    errno,
	}
}
