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
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/abmerop/gem5fs/pkg/guestmem"
	"github.com/abmerop/gem5fs/pkg/wire"
)

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func TestMkdirLstatRmdir(t *testing.T) {
	dir := t.TempDir()
	tc := guestmem.NewArena()
	for _, mode := range []uint32{0o700, 0o755, 0o000, 0o777, 0o644} {
		path := filepath.Join(dir, "sandbox")

		res := Dispatch(Request{Op: wire.MakeDir, Path: path, Payload: le32(mode), TC: tc})
		if res.Errno != 0 {
			t.Fatalf("MakeDir(mode=%o): errno %d", mode, res.Errno)
		}

		res = Dispatch(Request{Op: wire.GetAttr, Path: path, TC: tc})
		if res.Errno != 0 {
			t.Fatalf("GetAttr: errno %d", res.Errno)
		}
		st, err := wire.DecodeStatReply(res.Payload.Bytes())
		if err != nil {
			t.Fatalf("DecodeStatReply: %v", err)
		}
		if got := st.Mode & 0o777; got != mode {
			t.Errorf("mode bits = %o, want %o", got, mode)
		}

		res = Dispatch(Request{Op: wire.RemoveDir, Path: path, TC: tc})
		if res.Errno != 0 {
			t.Fatalf("RemoveDir: errno %d", res.Errno)
		}
		if _, err := os.Lstat(path); !os.IsNotExist(err) {
			t.Fatalf("directory still present after RemoveDir")
		}
	}
}

func TestReadDirFraming(t *testing.T) {
	dir := t.TempDir()
	tc := guestmem.NewArena()
	for _, name := range []string{"foo", "bar"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	res := Dispatch(Request{Op: wire.ReadDir, Path: dir, TC: tc})
	if res.Errno != 0 {
		t.Fatalf("ReadDir: errno %d", res.Errno)
	}
	listing := res.Payload.Bytes()
	if len(listing)%wire.DirEntrySize != 0 {
		t.Fatalf("listing length %d not a multiple of %d", len(listing), wire.DirEntrySize)
	}
	count := len(listing) / wire.DirEntrySize
	if count != 4 {
		t.Fatalf("entry count = %d, want 4 (., .., foo, bar)", count)
	}

	names := make(map[string]bool, count)
	for i := 0; i < count; i++ {
		slot := listing[i*wire.DirEntrySize : (i+1)*wire.DirEntrySize]
		nul := len(slot)
		for j, b := range slot {
			if b == 0 {
				nul = j
				break
			}
		}
		names[string(slot[:nul])] = true
	}
	for _, want := range []string{".", "..", "foo", "bar"} {
		if !names[want] {
			t.Errorf("missing entry %q in listing %v", want, names)
		}
	}
}

func TestWriteThenPartialRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file")
	tc := guestmem.NewArena()

	res := Dispatch(Request{Op: wire.Create, Path: path, Payload: le32(0o644), TC: tc})
	if res.Errno != 0 {
		t.Fatalf("Create: errno %d", res.Errno)
	}
	createFd, err := wire.DecodeFd(res.Payload.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	unix.Close(createFd)

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_APPEND, 0)
	if err != nil {
		t.Fatalf("open O_APPEND: %v", err)
	}
	defer unix.Close(fd)

	write := func(data string, offset int64) {
		addr := tc.Alloc(len(data))
		tc.Write(addr, []byte(data))
		args := wire.EncodeReadWriteArgs(wire.ReadWriteArgs{
			HostFD: int32(fd), Size: uint64(len(data)), Offset: offset, DataPtr: addr,
		})
		res := Dispatch(Request{Op: wire.Write, Path: path, Payload: args, TC: tc})
		if res.Errno != 0 {
			t.Fatalf("Write(%q): errno %d", data, res.Errno)
		}
		n := binary.LittleEndian.Uint64(res.Payload.Bytes())
		if int(n) != len(data) {
			t.Fatalf("Write(%q) wrote %d bytes, want %d", data, n, len(data))
		}
	}
	write("foo", 0)
	write("bar", 0) // O_APPEND forces this to land after "foo" despite offset 0

	readArgs := wire.EncodeReadWriteArgs(wire.ReadWriteArgs{HostFD: int32(fd), Size: 1024, Offset: 0})
	res = Dispatch(Request{Op: wire.Read, Path: path, Payload: readArgs, TC: tc})
	if res.Errno != 0 {
		t.Fatalf("Read: errno %d", res.Errno)
	}
	got := res.Payload.Bytes()
	if string(got) != "foobar" {
		t.Errorf("Read = %q, want %q", got, "foobar")
	}
	if len(got) != 6 {
		t.Errorf("payload_size = %d, want 6", len(got))
	}
}

func TestOpenTruncShrinksFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file")
	if err := os.WriteFile(path, []byte("abcdef"), 0o644); err != nil {
		t.Fatal(err)
	}
	tc := guestmem.NewArena()

	res := Dispatch(Request{Op: wire.Open, Path: path, Payload: le32(unix.O_TRUNC | unix.O_WRONLY), TC: tc})
	if res.Errno != 0 {
		t.Fatalf("Open O_TRUNC: errno %d", res.Errno)
	}
	fd, err := wire.DecodeFd(res.Payload.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	defer unix.Close(fd)

	res = Dispatch(Request{Op: wire.GetAttr, Path: path, TC: tc})
	if res.Errno != 0 {
		t.Fatalf("GetAttr: errno %d", res.Errno)
	}
	st, err := wire.DecodeStatReply(res.Payload.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if st.Size != 0 {
		t.Errorf("size after O_TRUNC open = %d, want 0", st.Size)
	}
}

func TestSymlinkReadlink(t *testing.T) {
	dir := t.TempDir()
	tc := guestmem.NewArena()
	target := filepath.Join(dir, "sandbox")
	link := filepath.Join(dir, "sandbox2")
	if err := os.WriteFile(target, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	res := Dispatch(Request{Op: wire.MakeSymlink, Path: link, Payload: []byte(target), TC: tc})
	if res.Errno != 0 {
		t.Fatalf("MakeSymlink: errno %d", res.Errno)
	}

	res = Dispatch(Request{Op: wire.ReadLink, Path: link, TC: tc})
	if res.Errno != 0 {
		t.Fatalf("ReadLink: errno %d", res.Errno)
	}
	if got := string(res.Payload.Bytes()); got != target+"\x00" {
		t.Errorf("ReadLink = %q, want %q", got, target+"\x00")
	}
}

func TestGetAttrLstatParityOnSymlink(t *testing.T) {
	dir := t.TempDir()
	tc := guestmem.NewArena()
	target := filepath.Join(dir, "target")
	link := filepath.Join(dir, "link")
	if err := os.WriteFile(target, []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(target, link); err != nil {
		t.Fatal(err)
	}

	res := Dispatch(Request{Op: wire.GetAttr, Path: link, TC: tc})
	if res.Errno != 0 {
		t.Fatalf("GetAttr: errno %d", res.Errno)
	}
	st, err := wire.DecodeStatReply(res.Payload.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFLNK {
		t.Errorf("GetAttr on symlink did not report a link mode, got %o", st.Mode)
	}
	if st.Size == 10 {
		t.Errorf("GetAttr on symlink reported target's size, want the link's own size")
	}
}

func TestErrorPropagationENOENT(t *testing.T) {
	dir := t.TempDir()
	tc := guestmem.NewArena()
	res := Dispatch(Request{Op: wire.GetAttr, Path: filepath.Join(dir, "nonexistent"), TC: tc})
	if res.Errno != int32(unix.ENOENT) {
		t.Errorf("errno = %d, want ENOENT (%d)", res.Errno, unix.ENOENT)
	}
	if res.Payload != nil {
		t.Errorf("error result carries a payload: %v", res.Payload)
	}
}

func TestTypeProbeMismatchBlocksMount(t *testing.T) {
	local := wire.LocalTypeProbe()
	res := Dispatch(Request{Op: wire.TypeProbe, Payload: wire.EncodeTypeProbeArgs(local)})
	if res.Errno != 0 {
		t.Fatalf("matching TypeProbe: errno %d", res.Errno)
	}

	mismatched := wire.LocalTypeProbe()
	for i := range mismatched.Entries {
		if mismatched.Entries[i].Name == "Envelope" {
			mismatched.Entries[i].Size++
		}
	}
	res = Dispatch(Request{Op: wire.TypeProbe, Payload: wire.EncodeTypeProbeArgs(mismatched)})
	if res.Errno == 0 {
		t.Error("mismatched TypeProbe: want nonzero errno, got 0")
	}
}

func TestSetMountpointGetMountpointRoundTrip(t *testing.T) {
	res := Dispatch(Request{Op: wire.SetMountpoint, Payload: []byte("/mnt/host")})
	if res.Errno != 0 {
		t.Fatalf("SetMountpoint: errno %d", res.Errno)
	}
	res = Dispatch(Request{Op: wire.GetMountpoint})
	if res.Errno != 0 {
		t.Fatalf("GetMountpoint: errno %d", res.Errno)
	}
	if got := string(res.Payload.Bytes()); got != "/mnt/host" {
		t.Errorf("GetMountpoint = %q, want %q", got, "/mnt/host")
	}
}
