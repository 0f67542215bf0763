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

package hostexec

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/abmerop/gem5fs/pkg/wire"
)

func dispatchTypeProbe(req Request) Result {
	remote, err := wire.DecodeTypeProbeArgs(req.Payload)
	if err != nil {
		return failErr(err)
	}
	mismatches := wire.LocalTypeProbe().Diff(remote)
	if len(mismatches) == 0 {
		return ok(RawBytes{})
	}
	msg := "hostexec: type probe mismatch:"
	for _, m := range mismatches {
		msg += " " + m.String() + ";"
	}
	logf("%s", msg)
	return fail(int32(unix.EPROTO))
}

func dispatchGetAttr(req Request) Result {
	var st unix.Stat_t
	if err := unix.Lstat(req.Path, &st); err != nil {
		return failErr(err)
	}
	return ok(StatBytes(wire.EncodeStatReply(statReplyFrom(&st))))
}

func dispatchFGetAttr(req Request) Result {
	fd, err := decodeFdPayload(req.Payload)
	if err != nil {
		return failErr(err)
	}
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return failErr(err)
	}
	return ok(StatBytes(wire.EncodeStatReply(statReplyFrom(&st))))
}

func statReplyFrom(st *unix.Stat_t) wire.StatReply {
	return wire.StatReply{
		Mode:  st.Mode,
		UID:   st.Uid,
		GID:   st.Gid,
		Size:  st.Size,
		Atime: int64(st.Atim.Sec),
		Mtime: int64(st.Mtim.Sec),
		Ctime: int64(st.Ctim.Sec),
		Nlink: uint32(st.Nlink),
	}
}

func dispatchReadLink(req Request) Result {
	const maxTarget = 4096
	buf := make([]byte, maxTarget)
	n, err := unix.Readlink(req.Path, buf)
	if err != nil {
		return failErr(err)
	}
	return ok(RawBytes(append(buf[:n:n], 0)))
}

func dispatchMakeDir(req Request) Result {
	mode, err := decodeMode(req.Payload)
	if err != nil {
		return failErr(err)
	}
	if err := unix.Mkdir(req.Path, mode); err != nil {
		return failErr(err)
	}
	return ok(RawBytes{})
}

func dispatchUnlink(req Request) Result {
	if err := unix.Unlink(req.Path); err != nil {
		return failErr(err)
	}
	return ok(RawBytes{})
}

func dispatchRemoveDir(req Request) Result {
	if err := unix.Rmdir(req.Path); err != nil {
		return failErr(err)
	}
	return ok(RawBytes{})
}

func dispatchMakeSymlink(req Request) Result {
	target := string(req.Payload)
	if err := unix.Symlink(target, req.Path); err != nil {
		return failErr(err)
	}
	return ok(RawBytes{})
}

func dispatchRename(req Request) Result {
	newPath := string(req.Payload)
	if err := unix.Rename(req.Path, newPath); err != nil {
		return failErr(err)
	}
	return ok(RawBytes{})
}

func dispatchChangePermission(req Request) Result {
	mode, err := decodeMode(req.Payload)
	if err != nil {
		return failErr(err)
	}
	if err := unix.Chmod(req.Path, mode); err != nil {
		return failErr(err)
	}
	return ok(RawBytes{})
}

func dispatchChangeOwner(req Request) Result {
	if len(req.Payload) < 8 {
		return failErr(fmt.Errorf("hostexec: short ChownArgs"))
	}
	uid := binary.LittleEndian.Uint32(req.Payload[0:4])
	gid := binary.LittleEndian.Uint32(req.Payload[4:8])
	if err := unix.Chown(req.Path, int(uid), int(gid)); err != nil {
		return failErr(err)
	}
	return ok(RawBytes{})
}

func dispatchTruncate(req Request) Result {
	if len(req.Payload) < 8 {
		return failErr(fmt.Errorf("hostexec: short truncate length"))
	}
	length := int64(binary.LittleEndian.Uint64(req.Payload[0:8]))
	if err := unix.Truncate(req.Path, length); err != nil {
		return failErr(err)
	}
	return ok(RawBytes{})
}

func dispatchFtruncate(req Request) Result {
	if len(req.Payload) < 8+4 {
		return failErr(fmt.Errorf("hostexec: short FtruncateArgs"))
	}
	length := int64(binary.LittleEndian.Uint64(req.Payload[0:8]))
	fd := int32(binary.LittleEndian.Uint32(req.Payload[8:12]))
	if err := unix.Ftruncate(int(fd), length); err != nil {
		return failErr(err)
	}
	return ok(RawBytes{})
}

func dispatchOpen(req Request) Result {
	if len(req.Payload) < 4 {
		return failErr(fmt.Errorf("hostexec: short open flags"))
	}
	flags := int32(binary.LittleEndian.Uint32(req.Payload[0:4]))
	fd, err := unix.Open(req.Path, int(flags), 0)
	if err != nil {
		return failErr(err)
	}
	return ok(FdBytes(wire.EncodeFd(fd)))
}

func dispatchCreate(req Request) Result {
	mode, err := decodeMode(req.Payload)
	if err != nil {
		return failErr(err)
	}
	fd, err := unix.Open(req.Path, unix.O_CREAT|unix.O_WRONLY|unix.O_TRUNC, mode)
	if err != nil {
		return failErr(err)
	}
	return ok(FdBytes(wire.EncodeFd(fd)))
}

func dispatchRead(req Request) Result {
	args, err := wire.DecodeReadWriteArgs(req.Payload)
	if err != nil {
		return failErr(err)
	}
	buf := make([]byte, args.Size)
	n, err := unix.Pread(int(args.HostFD), buf, args.Offset)
	if err != nil {
		return failErr(err)
	}
	return ok(RawBytes(buf[:n]))
}

func dispatchWrite(req Request) Result {
	args, err := wire.DecodeReadWriteArgs(req.Payload)
	if err != nil {
		return failErr(err)
	}
	data := make([]byte, args.Size)
	if err := req.TC.CopyOut(data, args.DataPtr); err != nil {
		return failErr(fmt.Errorf("hostexec: write: %w", err))
	}
	n, err := unix.Pwrite(int(args.HostFD), data, args.Offset)
	if err != nil {
		return failErr(err)
	}
	var nbuf [8]byte
	binary.LittleEndian.PutUint64(nbuf[:], uint64(n))
	return ok(RawBytes(nbuf[:]))
}

func dispatchRelease(req Request) Result {
	fd, err := decodeFdPayload(req.Payload)
	if err != nil {
		return failErr(err)
	}
	if err := unix.Close(fd); err != nil {
		return failErr(err)
	}
	return ok(RawBytes{})
}

func dispatchFsync(req Request) Result {
	a, err := wire.DecodeSyncArgs(req.Payload)
	if err != nil {
		return failErr(err)
	}
	if a.DatasyncFlag != 0 {
		err = unix.Fdatasync(int(a.FD))
	} else {
		err = unix.Fsync(int(a.FD))
	}
	if err != nil {
		return failErr(err)
	}
	return ok(RawBytes{})
}

func dispatchStatFS(req Request) Result {
	var st unix.Statfs_t
	if err := unix.Statfs(req.Path, &st); err != nil {
		return failErr(err)
	}
	reply := wire.StatFSReply{
		BlockSize:   uint64(st.Bsize),
		Blocks:      st.Blocks,
		BlocksFree:  st.Bfree,
		BlocksAvail: st.Bavail,
		Files:       st.Files,
		FilesFree:   st.Ffree,
		NameMax:     uint64(st.Namelen),
	}
	return ok(StatBytes(wire.EncodeStatFSReply(reply)))
}

func dispatchSetXAttr(req Request) Result {
	a, name, value, err := decodeXAttrWithPath(req)
	if err != nil {
		return failErr(err)
	}
	if err := unix.Lsetxattr(req.Path, name, value, int(a.Flags)); err != nil {
		return failErr(err)
	}
	return ok(RawBytes{})
}

func dispatchGetXAttr(req Request) Result {
	_, name, _, err := decodeXAttrWithPath(req)
	if err != nil {
		return failErr(err)
	}
	size, err := unix.Lgetxattr(req.Path, name, nil)
	if err != nil {
		return failErr(err)
	}
	buf := make([]byte, size)
	n, err := unix.Lgetxattr(req.Path, name, buf)
	if err != nil {
		return failErr(err)
	}
	return ok(RawBytes(buf[:n]))
}

func dispatchListXAttr(req Request) Result {
	size, err := unix.Llistxattr(req.Path, nil)
	if err != nil {
		return failErr(err)
	}
	buf := make([]byte, size)
	n, err := unix.Llistxattr(req.Path, buf)
	if err != nil {
		return failErr(err)
	}
	return ok(RawBytes(buf[:n]))
}

func dispatchRemoveXAttr(req Request) Result {
	_, name, _, err := decodeXAttrWithPath(req)
	if err != nil {
		return failErr(err)
	}
	if err := unix.Lremovexattr(req.Path, name); err != nil {
		return failErr(err)
	}
	return ok(RawBytes{})
}

// decodeXAttrWithPath decodes an XAttrArgs header plus its variable-length
// name and value, both copied out of guest memory through req.TC since
// XAttrArgs only carries guest pointers and sizes.
func decodeXAttrWithPath(req Request) (wire.XAttrArgs, string, []byte, error) {
	a, err := wire.DecodeXAttrArgs(req.Payload)
	if err != nil {
		return a, "", nil, err
	}
	nameBuf := make([]byte, a.NameSize)
	if a.NameSize > 0 {
		if err := req.TC.CopyOut(nameBuf, a.NamePtr); err != nil {
			return a, "", nil, fmt.Errorf("hostexec: xattr name: %w", err)
		}
	}
	var value []byte
	if a.ValueSize > 0 {
		value = make([]byte, a.ValueSize)
		if err := req.TC.CopyOut(value, a.ValuePtr); err != nil {
			return a, "", nil, fmt.Errorf("hostexec: xattr value: %w", err)
		}
	}
	return a, string(nameBuf), value, nil
}

func dispatchOpenDir(req Request) Result {
	fd, err := unix.Open(req.Path, unix.O_RDONLY|unix.O_DIRECTORY, 0)
	if err != nil {
		return failErr(err)
	}
	return ok(FdBytes(wire.EncodeFd(fd)))
}

// dispatchReadDir builds the concatenation of fixed-width 256-byte name
// slots the wire format calls for. Each slot is the entry name truncated
// to wire.DirEntrySize-1 bytes and NUL-padded to exactly wire.DirEntrySize
// bytes. "." and ".." are always the first two slots: every directory a
// successful open(2) can return a handle for has them as real getdents
// entries, and unix.ParseDirent's built-in filtering of "useless names"
// would otherwise silently drop them, so the raw fd is handed to an
// *os.File and walked with Readdirnames instead of ParseDirent.
func dispatchReadDir(req Request) Result {
	fd, err := unix.Open(req.Path, unix.O_RDONLY|unix.O_DIRECTORY, 0)
	if err != nil {
		return failErr(err)
	}
	f := os.NewFile(uintptr(fd), req.Path)
	defer f.Close()

	names, err := f.Readdirnames(-1)
	if err != nil {
		return failErr(err)
	}

	listing := dirEntrySlot(".")
	listing = append(listing, dirEntrySlot("..")...)
	for _, name := range names {
		listing = append(listing, dirEntrySlot(name)...)
	}
	return ok(DirListing(listing))
}

func dirEntrySlot(name string) []byte {
	slot := make([]byte, wire.DirEntrySize)
	n := len(name)
	if n > wire.DirEntrySize-1 {
		n = wire.DirEntrySize - 1
	}
	copy(slot, name[:n])
	return slot
}

func dispatchAccess(req Request) Result {
	if len(req.Payload) < 4 {
		return failErr(fmt.Errorf("hostexec: short access mask"))
	}
	mask := int32(binary.LittleEndian.Uint32(req.Payload[0:4]))
	if err := unix.Access(req.Path, uint32(mask)); err != nil {
		return failErr(err)
	}
	return ok(RawBytes{})
}

func decodeMode(payload []byte) (uint32, error) {
	if len(payload) < 4 {
		return 0, fmt.Errorf("hostexec: short mode_t payload")
	}
	return binary.LittleEndian.Uint32(payload[0:4]), nil
}

func decodeFdPayload(payload []byte) (int, error) {
	if len(payload) < 4 {
		return 0, fmt.Errorf("hostexec: short fd payload")
	}
	return int(int32(binary.LittleEndian.Uint32(payload[0:4]))), nil
}

// mountState holds the single mountpoint path recorded by SetMountpoint.
// It is written exactly once per mount, guarded by a RWMutex so
// GetMountpoint and SetMountpoint are each other's only synchronization
// concern.
var mountState struct {
	mu   sync.RWMutex
	path string
	set  bool
}

func dispatchSetMountpoint(req Request) Result {
	mountState.mu.Lock()
	mountState.path = string(req.Payload)
	mountState.set = true
	mountState.mu.Unlock()
	return ok(RawBytes{})
}

func dispatchGetMountpoint(req Request) Result {
	mountState.mu.RLock()
	defer mountState.mu.RUnlock()
	if !mountState.set {
		return fail(int32(unix.ENOENT))
	}
	return ok(RawBytes(mountState.path))
}
