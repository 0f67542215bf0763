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
	"path/filepath"
	"strings"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"

	"github.com/abmerop/gem5fs/pkg/hypercall"
	"github.com/abmerop/gem5fs/pkg/wire"
)

// Node is the one fs.Node implementation gemfs has: every path in the
// exported tree, file or directory, is a Node that knows nothing but its
// own absolute host path and the hypervisor it calls through. There is
// no attribute cache and no inode table; every lookup re-derives its
// answer from the host.
type Node struct {
	hv   hypercall.Hypervisor
	path string
}

var (
	_ fs.Node               = (*Node)(nil)
	_ fs.NodeStringLookuper = (*Node)(nil)
	_ fs.NodeOpener         = (*Node)(nil)
	_ fs.NodeCreater        = (*Node)(nil)
	_ fs.NodeMkdirer        = (*Node)(nil)
	_ fs.NodeRemover        = (*Node)(nil)
	_ fs.NodeRenamer        = (*Node)(nil)
	_ fs.NodeSymlinker      = (*Node)(nil)
	_ fs.NodeReadlinker     = (*Node)(nil)
	_ fs.NodeSetattrer      = (*Node)(nil)
	_ fs.NodeAccesser       = (*Node)(nil)
)

// Attr implements fs.Node.
func (n *Node) Attr(ctx context.Context, a *fuse.Attr) error {
	data, err := call(n.hv, wire.GetAttr, n.path, nil)
	if err != nil {
		return err
	}
	st, err := wire.DecodeStatReply(data)
	if err != nil {
		return fuse.Errno(syscall.EIO)
	}
	*a = attrFromStatReply(st)
	return nil
}

// Lookup implements fs.NodeStringLookuper. It calls GetAttr purely to
// decide whether child exists; the resulting Node re-derives its own
// attributes the next time the kernel asks.
func (n *Node) Lookup(ctx context.Context, name string) (fs.Node, error) {
	child := filepath.Join(n.path, name)
	if _, err := call(n.hv, wire.GetAttr, child, nil); err != nil {
		return nil, err
	}
	return &Node{hv: n.hv, path: child}, nil
}

// Open implements fs.NodeOpener for both files and directories; the
// kernel sets req.Dir when opening a directory.
func (n *Node) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fs.Handle, error) {
	if req.Dir {
		data, err := call(n.hv, wire.OpenDir, n.path, nil)
		if err != nil {
			return nil, err
		}
		fd, err := wire.DecodeFd(data)
		if err != nil {
			return nil, fuse.Errno(syscall.EIO)
		}
		return &dirHandle{hv: n.hv, path: n.path, fd: int32(fd)}, nil
	}

	data, err := call(n.hv, wire.Open, n.path, encodeInt32(int32(req.Flags)))
	if err != nil {
		return nil, err
	}
	fd, err := wire.DecodeFd(data)
	if err != nil {
		return nil, fuse.Errno(syscall.EIO)
	}
	return &fileHandle{hv: n.hv, fd: int32(fd)}, nil
}

// Create implements fs.NodeCreater.
func (n *Node) Create(ctx context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fs.Node, fs.Handle, error) {
	child := filepath.Join(n.path, req.Name)
	data, err := call(n.hv, wire.Create, child, encodeInt32(int32(modeToUnix(req.Mode))))
	if err != nil {
		return nil, nil, err
	}
	fd, err := wire.DecodeFd(data)
	if err != nil {
		return nil, nil, fuse.Errno(syscall.EIO)
	}
	return &Node{hv: n.hv, path: child}, &fileHandle{hv: n.hv, fd: int32(fd)}, nil
}

// Mkdir implements fs.NodeMkdirer.
func (n *Node) Mkdir(ctx context.Context, req *fuse.MkdirRequest) (fs.Node, error) {
	child := filepath.Join(n.path, req.Name)
	if _, err := call(n.hv, wire.MakeDir, child, encodeInt32(int32(modeToUnix(req.Mode)))); err != nil {
		return nil, err
	}
	return &Node{hv: n.hv, path: child}, nil
}

// Remove implements fs.NodeRemover.
func (n *Node) Remove(ctx context.Context, req *fuse.RemoveRequest) error {
	child := filepath.Join(n.path, req.Name)
	op := wire.Unlink
	if req.Dir {
		op = wire.RemoveDir
	}
	_, err := call(n.hv, op, child, nil)
	return err
}

// Rename implements fs.NodeRenamer.
func (n *Node) Rename(ctx context.Context, req *fuse.RenameRequest, newDir fs.Node) error {
	nd, ok := newDir.(*Node)
	if !ok {
		return fuse.Errno(syscall.EXDEV)
	}
	oldPath := filepath.Join(n.path, req.OldName)
	newPath := filepath.Join(nd.path, req.NewName)
	_, err := call(n.hv, wire.Rename, oldPath, []byte(newPath))
	return err
}

// Symlink implements fs.NodeSymlinker.
func (n *Node) Symlink(ctx context.Context, req *fuse.SymlinkRequest) (fs.Node, error) {
	child := filepath.Join(n.path, req.NewName)
	if _, err := call(n.hv, wire.MakeSymlink, child, []byte(req.Target)); err != nil {
		return nil, err
	}
	return &Node{hv: n.hv, path: child}, nil
}

// Readlink implements fs.NodeReadlinker.
func (n *Node) Readlink(ctx context.Context, req *fuse.ReadlinkRequest) (string, error) {
	data, err := call(n.hv, wire.ReadLink, n.path, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(string(data), "\x00"), nil
}

// Setattr implements fs.NodeSetattrer: chmod, chown and truncate each
// translate to their own operation, applied in whatever subset req.Valid
// actually carries.
func (n *Node) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	if req.Valid.Mode() {
		if _, err := call(n.hv, wire.ChangePermission, n.path, encodeInt32(int32(modeToUnix(req.Mode)))); err != nil {
			return err
		}
	}
	if req.Valid.Uid() || req.Valid.Gid() {
		args := wire.EncodeChownArgs(wire.ChownArgs{UID: req.Uid, GID: req.Gid})
		if _, err := call(n.hv, wire.ChangeOwner, n.path, args); err != nil {
			return err
		}
	}
	if req.Valid.Size() {
		if _, err := call(n.hv, wire.Truncate, n.path, encodeInt64(int64(req.Size))); err != nil {
			return err
		}
	}
	return n.Attr(ctx, &resp.Attr)
}

// Access implements fs.NodeAccesser.
func (n *Node) Access(ctx context.Context, req *fuse.AccessRequest) error {
	_, err := call(n.hv, wire.Access, n.path, encodeInt32(int32(req.Mask)))
	return err
}
