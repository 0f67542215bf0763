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

// Package hostexec is the host executor: the component that actually
// touches the host filesystem on behalf of a guest request. It knows
// nothing about handle tables or two-stage buffering (that is package
// protocol's job); given a decoded request it makes the matching host
// syscall and returns either a Payload to be buffered for the guest or an
// errno.
package hostexec

import (
	"errors"
	"log"

	"golang.org/x/sys/unix"

	"github.com/abmerop/gem5fs/pkg/guestmem"
	"github.com/abmerop/gem5fs/pkg/wire"
)

// Request is everything Dispatch needs to run one operation: the envelope
// fields already copied out of guest memory, the path string already
// extracted by guestmem.ExtractPath, and the raw payload bytes (if any)
// still to be decoded by the specific operation handler.
type Request struct {
	Op      wire.Op
	Path    string
	Payload []byte
	TC      guestmem.ThreadContext
}

// Result is what Dispatch hands back to package protocol: either a Payload
// to buffer for the guest, or a nonzero Errno. Exactly one of Payload and
// Errno is meaningful; Errno == 0 means success.
type Result struct {
	Payload Payload
	Errno   int32
}

func ok(p Payload) Result           { return Result{Payload: p} }
func fail(errno int32) Result       { return Result{Errno: errno} }
func failErr(err error) Result      { return fail(errnoOf(err)) }

// errnoOf extracts the raw errno from an error returned by an
// x/sys/unix call. A guest-memory translation fault (guestmem.ErrFault,
// possibly wrapped) maps to EFAULT; any other error that isn't a
// recognized syscall errno maps to EIO (the executor never consults or
// sets a process-global errno; every call's result carries its own).
func errnoOf(err error) int32 {
	if err == nil {
		return 0
	}
	if errors.Is(err, guestmem.ErrFault) {
		return int32(unix.EFAULT)
	}
	if errno, ok := err.(unix.Errno); ok {
		return int32(errno)
	}
	return int32(unix.EIO)
}

// Verbose enables per-call logging, set by the command that wires this
// package to the adapter. Left false by default; opt in with -debug.
var Verbose bool

func logf(format string, args ...interface{}) {
	if Verbose {
		log.Printf(format, args...)
	}
}

// Dispatch runs req against the host filesystem, sandwiched between a
// umask save/clear and restore: the guest's own umask semantics are
// applied by the guest kernel before the request ever reaches here, so the
// host process's umask must not additionally mask permission bits chosen
// by MakeDir, Create, MakeSymlink, and friends.
func Dispatch(req Request) Result {
	old := unix.Umask(0)
	defer unix.Umask(old)

	logf("hostexec: dispatch %s %q", req.Op, req.Path)

	switch req.Op {
	case wire.TypeProbe:
		return dispatchTypeProbe(req)
	case wire.GetAttr:
		return dispatchGetAttr(req)
	case wire.ReadLink:
		return dispatchReadLink(req)
	case wire.MakeDir:
		return dispatchMakeDir(req)
	case wire.Unlink:
		return dispatchUnlink(req)
	case wire.RemoveDir:
		return dispatchRemoveDir(req)
	case wire.MakeSymlink:
		return dispatchMakeSymlink(req)
	case wire.Rename:
		return dispatchRename(req)
	case wire.ChangePermission:
		return dispatchChangePermission(req)
	case wire.ChangeOwner:
		return dispatchChangeOwner(req)
	case wire.Truncate:
		return dispatchTruncate(req)
	case wire.Open:
		return dispatchOpen(req)
	case wire.Read:
		return dispatchRead(req)
	case wire.Write:
		return dispatchWrite(req)
	case wire.StatFS:
		return dispatchStatFS(req)
	case wire.Flush:
		return ok(RawBytes{})
	case wire.Release, wire.ReleaseDir:
		return dispatchRelease(req)
	case wire.Fsync, wire.FsyncDir:
		return dispatchFsync(req)
	case wire.SetXAttr:
		return dispatchSetXAttr(req)
	case wire.GetXAttr:
		return dispatchGetXAttr(req)
	case wire.ListXAttr:
		return dispatchListXAttr(req)
	case wire.RemoveXAttr:
		return dispatchRemoveXAttr(req)
	case wire.OpenDir:
		return dispatchOpenDir(req)
	case wire.ReadDir:
		return dispatchReadDir(req)
	case wire.Access:
		return dispatchAccess(req)
	case wire.Create:
		return dispatchCreate(req)
	case wire.Ftruncate:
		return dispatchFtruncate(req)
	case wire.FGetAttr:
		return dispatchFGetAttr(req)
	case wire.SetMountpoint:
		return dispatchSetMountpoint(req)
	case wire.GetMountpoint:
		return dispatchGetMountpoint(req)
	default:
		logf("hostexec: unsupported op %s", req.Op)
		return fail(int32(unix.ENOSYS))
	}
}
