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

// Package gemfs adapts the guest/host passthrough protocol in
// pkg/protocol, pkg/hostexec and pkg/wire to a bazil.org/fuse
// filesystem. Every fs.Node and fs.Handle method here plays the part of
// the guest-side driver: it builds a request envelope and any argument
// payload in a fresh guestmem.Arena, drives it through a
// hypercall.Hypervisor exactly as a kernel module would drive the real
// trapped pseudo-instruction, and decodes whatever comes back. No node
// caches path, attribute, or file-descriptor state beyond what it needs
// to make its own calls; the host side of the boundary is the only
// source of truth.
package gemfs

import (
	"encoding/binary"
	"syscall"

	"bazil.org/fuse"

	"github.com/abmerop/gem5fs/pkg/guestmem"
	"github.com/abmerop/gem5fs/pkg/hypercall"
	"github.com/abmerop/gem5fs/pkg/wire"
)

// call drives one full two-stage request/response round trip for a
// path-addressed operation in a fresh arena: it sends op against path
// with the given input payload bytes, and if the reply carries a
// payload, immediately issues the follow-up FetchPayload and returns
// the fetched bytes. This hides the protocol's two-stage shape from
// every fs.Node method, which only ever wants one synchronous answer.
func call(hv hypercall.Hypervisor, op wire.Op, path string, input []byte) ([]byte, error) {
	return callArena(hv, guestmem.NewArena(), op, path, input)
}

// callArena is call's variant for callers that need the input payload's
// guest pointers (e.g. XAttrArgs.NamePtr) to live in the same arena as
// the request itself: they build tc and the args bytes pointing into it
// themselves, then hand both here.
func callArena(hv hypercall.Hypervisor, tc *guestmem.Arena, op wire.Op, path string, input []byte) ([]byte, error) {
	var pathAddr wire.GuestAddr
	var pathLen uint32
	if path != "" {
		pathAddr = tc.Alloc(len(path) + 1)
		tc.Write(pathAddr, append([]byte(path), 0))
		pathLen = uint32(len(path))
	}

	var inputAddr wire.GuestAddr
	if len(input) > 0 {
		inputAddr = tc.Alloc(len(input))
		tc.Write(inputAddr, input)
	}

	reqAddr := tc.Alloc(int(wire.EnvelopeWireSize))
	tc.Write(reqAddr, wire.EncodeEnvelope(wire.Envelope{
		Op:          op,
		Direction:   wire.Request,
		PathPtr:     pathAddr,
		PathLen:     pathLen,
		PayloadPtr:  inputAddr,
		PayloadSize: uint32(len(input)),
	}))
	resultAddr := tc.Alloc(int(wire.EnvelopeWireSize))

	if status := hv.Exec(tc, inputAddr, reqAddr, resultAddr); status != 0 {
		return nil, fuse.Errno(syscall.EIO)
	}
	stageA, err := wire.DecodeEnvelope(tc.Read(resultAddr, int(wire.EnvelopeWireSize)))
	if err != nil {
		return nil, fuse.Errno(syscall.EIO)
	}
	if stageA.Op == wire.Error {
		return nil, fuse.Errno(syscall.Errno(stageA.Errnum))
	}
	if stageA.PayloadSize == 0 {
		return nil, nil
	}

	replyAddr := tc.Alloc(int(stageA.PayloadSize))
	tc.Touch(replyAddr, int(stageA.PayloadSize))
	fetchAddr := tc.Alloc(int(wire.EnvelopeWireSize))
	tc.Write(fetchAddr, wire.EncodeEnvelope(wire.Envelope{
		Op:          wire.FetchPayload,
		Direction:   wire.Request,
		Handle:      stageA.Handle,
		PayloadPtr:  replyAddr,
		PayloadSize: stageA.PayloadSize,
	}))
	if status := hv.Exec(tc, 0, fetchAddr, resultAddr); status != 0 {
		return nil, fuse.Errno(syscall.EIO)
	}
	stageB, err := wire.DecodeEnvelope(tc.Read(resultAddr, int(wire.EnvelopeWireSize)))
	if err != nil {
		return nil, fuse.Errno(syscall.EIO)
	}
	if stageB.Op == wire.Error {
		return nil, fuse.Errno(syscall.Errno(stageB.Errnum))
	}
	return tc.Read(replyAddr, int(stageB.PayloadSize)), nil
}

// callWithData is call's variant for Write: the actual bytes to write
// live in a second arena allocation that ReadWriteArgs.DataPtr points
// at, separate from the ReadWriteArgs struct carried as the request's
// own payload.
func callWithData(hv hypercall.Hypervisor, fd int32, offset int64, data []byte) ([]byte, error) {
	tc := guestmem.NewArena()

	dataAddr := tc.Alloc(len(data))
	if len(data) > 0 {
		tc.Write(dataAddr, data)
	}
	args := wire.EncodeReadWriteArgs(wire.ReadWriteArgs{
		HostFD: fd, Size: uint64(len(data)), Offset: offset, DataPtr: dataAddr,
	})
	argsAddr := tc.Alloc(len(args))
	tc.Write(argsAddr, args)

	reqAddr := tc.Alloc(int(wire.EnvelopeWireSize))
	tc.Write(reqAddr, wire.EncodeEnvelope(wire.Envelope{
		Op:          wire.Write,
		Direction:   wire.Request,
		PayloadPtr:  argsAddr,
		PayloadSize: uint32(len(args)),
	}))
	resultAddr := tc.Alloc(int(wire.EnvelopeWireSize))

	if status := hv.Exec(tc, argsAddr, reqAddr, resultAddr); status != 0 {
		return nil, fuse.Errno(syscall.EIO)
	}
	stageA, err := wire.DecodeEnvelope(tc.Read(resultAddr, int(wire.EnvelopeWireSize)))
	if err != nil {
		return nil, fuse.Errno(syscall.EIO)
	}
	if stageA.Op == wire.Error {
		return nil, fuse.Errno(syscall.Errno(stageA.Errnum))
	}

	replyAddr := tc.Alloc(int(stageA.PayloadSize))
	tc.Touch(replyAddr, int(stageA.PayloadSize))
	fetchAddr := tc.Alloc(int(wire.EnvelopeWireSize))
	tc.Write(fetchAddr, wire.EncodeEnvelope(wire.Envelope{
		Op: wire.FetchPayload, Direction: wire.Request,
		Handle: stageA.Handle, PayloadPtr: replyAddr, PayloadSize: stageA.PayloadSize,
	}))
	if status := hv.Exec(tc, 0, fetchAddr, resultAddr); status != 0 {
		return nil, fuse.Errno(syscall.EIO)
	}
	if _, err := wire.DecodeEnvelope(tc.Read(resultAddr, int(wire.EnvelopeWireSize))); err != nil {
		return nil, fuse.Errno(syscall.EIO)
	}
	return tc.Read(replyAddr, int(stageA.PayloadSize)), nil
}

// readCall issues a Read against an already-open host fd.
func readCall(hv hypercall.Hypervisor, fd int32, offset int64, size uint64) ([]byte, error) {
	args := wire.EncodeReadWriteArgs(wire.ReadWriteArgs{HostFD: fd, Size: size, Offset: offset})
	return call(hv, wire.Read, "", args)
}

// fdCall issues a payload-only operation addressed by an open fd rather
// than a path: Release, Fsync, FGetAttr.
func fdCall(hv hypercall.Hypervisor, op wire.Op, payload []byte) ([]byte, error) {
	return call(hv, op, "", payload)
}

func encodeInt32(v int32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(v))
	return b
}

func encodeInt64(v int64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(v))
	return b
}

func decodeUint64(b []byte) uint64 {
	if len(b) < 8 {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// attrFromStatReply translates the host's StatReply into a fuse.Attr.
func attrFromStatReply(s wire.StatReply) fuse.Attr {
	return fuse.Attr{
		Size:  uint64(s.Size),
		Mode:  fileModeFromUnix(s.Mode),
		Nlink: s.Nlink,
		Uid:   s.UID,
		Gid:   s.GID,
		Mtime: unixTime(s.Mtime),
		Ctime: unixTime(s.Ctime),
		Atime: unixTime(s.Atime),
	}
}
