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
	"os"
	"path/filepath"
	"testing"

	"bazil.org/fuse"

	"github.com/abmerop/gem5fs/pkg/hypercall"
)

// rootNode drives a hypercall.Loopback over dir the same way cmd/gem5fs-mount
// would, without going anywhere near an actual kernel FUSE mount: every
// test below calls fs.Node/fs.Handle methods directly, exercising the
// guest-side adapter logic against the real host filesystem.
func rootNode(t *testing.T, dir string) *Node {
	t.Helper()
	return &Node{hv: hypercall.NewLoopback(), path: dir}
}

func TestNodeCreateWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	root := rootNode(t, dir)

	node, handle, err := root.Create(ctx, &fuse.CreateRequest{Name: "greeting", Mode: 0o644}, &fuse.CreateResponse{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	fh := handle.(*fileHandle)

	writeResp := &fuse.WriteResponse{}
	if err := fh.Write(ctx, &fuse.WriteRequest{Data: []byte("hello"), Offset: 0}, writeResp); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if writeResp.Size != 5 {
		t.Fatalf("Write size = %d, want 5", writeResp.Size)
	}

	// The host opens Create's fd write-only, so the data is read back
	// through a separate read-only Open of the same node.
	rh, err := node.(*Node).Open(ctx, &fuse.OpenRequest{Flags: fuse.OpenReadOnly}, &fuse.OpenResponse{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rfh := rh.(*fileHandle)

	readResp := &fuse.ReadResponse{}
	if err := rfh.Read(ctx, &fuse.ReadRequest{Offset: 0, Size: 5}, readResp); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(readResp.Data) != "hello" {
		t.Errorf("Read data = %q, want %q", readResp.Data, "hello")
	}

	if err := rfh.Release(ctx, &fuse.ReleaseRequest{}); err != nil {
		t.Errorf("Release (read handle): %v", err)
	}
	if err := fh.Release(ctx, &fuse.ReleaseRequest{}); err != nil {
		t.Errorf("Release: %v", err)
	}
}

func TestNodeMkdirLookupAttrRemove(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	root := rootNode(t, dir)

	child, err := root.Mkdir(ctx, &fuse.MkdirRequest{Name: "sub", Mode: os.ModeDir | 0o755})
	if err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	found, err := root.Lookup(ctx, "sub")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if found.(*Node).path != child.(*Node).path {
		t.Errorf("Lookup path = %q, want %q", found.(*Node).path, child.(*Node).path)
	}

	var a fuse.Attr
	if err := child.(*Node).Attr(ctx, &a); err != nil {
		t.Fatalf("Attr: %v", err)
	}
	if !a.Mode.IsDir() {
		t.Errorf("Attr mode = %v, want a directory", a.Mode)
	}

	if err := root.Remove(ctx, &fuse.RemoveRequest{Name: "sub", Dir: true}); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := root.Lookup(ctx, "sub"); err == nil {
		t.Error("Lookup after Remove succeeded, want an error")
	}
}

func TestDirHandleReadDirAll(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	for _, name := range []string{"a", "b"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	root := rootNode(t, dir)

	handle, err := root.Open(ctx, &fuse.OpenRequest{Dir: true}, &fuse.OpenResponse{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	dh := handle.(*dirHandle)

	entries, err := dh.ReadDirAll(ctx)
	if err != nil {
		t.Fatalf("ReadDirAll: %v", err)
	}
	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name] = true
	}
	for _, want := range []string{".", "..", "a", "b"} {
		if !names[want] {
			t.Errorf("ReadDirAll missing entry %q", want)
		}
	}

	if err := dh.Release(ctx, &fuse.ReleaseRequest{}); err != nil {
		t.Errorf("Release: %v", err)
	}
}

func TestNodeSymlinkReadlink(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	root := rootNode(t, dir)

	link, err := root.Symlink(ctx, &fuse.SymlinkRequest{NewName: "alias", Target: "/etc/hosts"})
	if err != nil {
		t.Fatalf("Symlink: %v", err)
	}

	target, err := link.(*Node).Readlink(ctx, &fuse.ReadlinkRequest{})
	if err != nil {
		t.Fatalf("Readlink: %v", err)
	}
	if target != "/etc/hosts" {
		t.Errorf("Readlink = %q, want %q", target, "/etc/hosts")
	}
}

func TestNodeSetattrTruncate(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "file")
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}
	node := &Node{hv: hypercall.NewLoopback(), path: path}

	req := &fuse.SetattrRequest{Size: 5}
	req.Valid |= fuse.SetattrSize
	resp := &fuse.SetattrResponse{}
	if err := node.Setattr(ctx, req, resp); err != nil {
		t.Fatalf("Setattr: %v", err)
	}
	if resp.Attr.Size != 5 {
		t.Errorf("Setattr resp.Attr.Size = %d, want 5", resp.Attr.Size)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Errorf("file contents after truncate = %q, want %q", got, "hello")
	}
}

func TestNodeXattrRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "file")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	node := &Node{hv: hypercall.NewLoopback(), path: path}

	if err := node.Setxattr(ctx, &fuse.SetxattrRequest{Name: "user.note", Xattr: []byte("hi")}); err != nil {
		t.Fatalf("Setxattr: %v", err)
	}

	getResp := &fuse.GetxattrResponse{}
	if err := node.Getxattr(ctx, &fuse.GetxattrRequest{Name: "user.note"}, getResp); err != nil {
		t.Fatalf("Getxattr: %v", err)
	}
	if string(getResp.Xattr) != "hi" {
		t.Errorf("Getxattr = %q, want %q", getResp.Xattr, "hi")
	}

	listResp := &fuse.ListxattrResponse{}
	if err := node.Listxattr(ctx, &fuse.ListxattrRequest{}, listResp); err != nil {
		t.Fatalf("Listxattr: %v", err)
	}

	if err := node.Removexattr(ctx, &fuse.RemovexattrRequest{Name: "user.note"}); err != nil {
		t.Fatalf("Removexattr: %v", err)
	}
}

func TestNodeRename(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	root := rootNode(t, dir)

	if err := os.WriteFile(filepath.Join(dir, "old"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := root.Rename(ctx, &fuse.RenameRequest{OldName: "old", NewName: "new"}, root); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "new")); err != nil {
		t.Errorf("renamed file missing: %v", err)
	}
}

func TestFSStatfs(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	f := New(hypercall.NewLoopback(), dir)

	resp := &fuse.StatfsResponse{}
	if err := f.Statfs(ctx, &fuse.StatfsRequest{}, resp); err != nil {
		t.Fatalf("Statfs: %v", err)
	}
	if resp.Bsize == 0 {
		t.Error("Statfs Bsize = 0, want nonzero")
	}
}
