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

package gemfs

import (
	"context"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"

	"github.com/abmerop/gem5fs/pkg/hypercall"
	"github.com/abmerop/gem5fs/pkg/wire"
)

// fsyncDatasyncBit is the FUSE_FSYNC_FDATASYNC bit the kernel sets in a
// fsync request's Flags to ask for fdatasync(2) instead of fsync(2).
const fsyncDatasyncBit = 1

// fileHandle is the fs.Handle returned by Node.Open and Node.Create for
// regular files. It carries nothing but the host file descriptor Open
// or Create returned; every call addresses the host by that fd, never
// by path, so it keeps working across a concurrent rename.
type fileHandle struct {
	hv hypercall.Hypervisor
	fd int32
}

var (
	_ fs.Handle         = (*fileHandle)(nil)
	_ fs.HandleReader   = (*fileHandle)(nil)
	_ fs.HandleWriter   = (*fileHandle)(nil)
	_ fs.HandleReleaser = (*fileHandle)(nil)
	_ fs.HandleFlusher  = (*fileHandle)(nil)
	_ fs.HandleFsyncer  = (*fileHandle)(nil)
)

// Read implements fs.HandleReader.
func (h *fileHandle) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	data, err := readCall(h.hv, h.fd, req.Offset, uint64(req.Size))
	if err != nil {
		return err
	}
	resp.Data = data
	return nil
}

// Write implements fs.HandleWriter.
func (h *fileHandle) Write(ctx context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	data, err := callWithData(h.hv, h.fd, req.Offset, req.Data)
	if err != nil {
		return err
	}
	resp.Size = int(decodeUint64(data))
	return nil
}

// Release implements fs.HandleReleaser.
func (h *fileHandle) Release(ctx context.Context, req *fuse.ReleaseRequest) error {
	_, err := fdCall(h.hv, wire.Release, encodeInt32(h.fd))
	return err
}

// Flush implements fs.HandleFlusher. The host executor treats Flush as
// a no-op against a passthrough file (there is nothing buffered on the
// host side worth pushing down early), matching how a bind-mount-style
// passthrough filesystem behaves.
func (h *fileHandle) Flush(ctx context.Context, req *fuse.FlushRequest) error {
	_, err := fdCall(h.hv, wire.Flush, nil)
	return err
}

// Fsync implements fs.HandleFsyncer.
func (h *fileHandle) Fsync(ctx context.Context, req *fuse.FsyncRequest) error {
	return fsyncFD(h.hv, wire.Fsync, h.fd, req.Flags)
}

// dirHandle is the fs.Handle returned by Node.Open when req.Dir is set.
// ReadDir is addressed by path on the host side rather than by this
// handle's fd (see hostexec's dispatchReadDir), so only Release and
// Fsync actually use fd.
type dirHandle struct {
	hv   hypercall.Hypervisor
	path string
	fd   int32
}

var (
	_ fs.Handle             = (*dirHandle)(nil)
	_ fs.HandleReadDirAller = (*dirHandle)(nil)
	_ fs.HandleReleaser     = (*dirHandle)(nil)
	_ fs.HandleFsyncer      = (*dirHandle)(nil)
)

// ReadDirAll implements fs.HandleReadDirAller. Entry types are left as
// fuse.DT_Unknown: the wire's ReadDir framing carries only fixed-width
// name slots, and a follow-up Lookup will stat whichever entry the
// kernel actually needs.
func (h *dirHandle) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	data, err := call(h.hv, wire.ReadDir, h.path, nil)
	if err != nil {
		return nil, err
	}
	var entries []fuse.Dirent
	for off := 0; off+wire.DirEntrySize <= len(data); off += wire.DirEntrySize {
		slot := data[off : off+wire.DirEntrySize]
		nul := len(slot)
		for i, b := range slot {
			if b == 0 {
				nul = i
				break
			}
		}
		entries = append(entries, fuse.Dirent{Name: string(slot[:nul]), Type: fuse.DT_Unknown})
	}
	return entries, nil
}

// Release implements fs.HandleReleaser.
func (h *dirHandle) Release(ctx context.Context, req *fuse.ReleaseRequest) error {
	_, err := fdCall(h.hv, wire.ReleaseDir, encodeInt32(h.fd))
	return err
}

// Fsync implements fs.HandleFsyncer.
func (h *dirHandle) Fsync(ctx context.Context, req *fuse.FsyncRequest) error {
	return fsyncFD(h.hv, wire.FsyncDir, h.fd, req.Flags)
}

func fsyncFD(hv hypercall.Hypervisor, op wire.Op, fd int32, flags uint32) error {
	var datasync uint8
	if flags&fsyncDatasyncBit != 0 {
		datasync = 1
	}
	args := wire.EncodeSyncArgs(wire.SyncArgs{DatasyncFlag: datasync, FD: fd})
	_, err := fdCall(hv, op, args)
	return err
}
