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

	"github.com/abmerop/gem5fs/pkg/guestmem"
	"github.com/abmerop/gem5fs/pkg/wire"
)

var (
	_ fs.NodeGetxattrer    = (*Node)(nil)
	_ fs.NodeSetxattrer    = (*Node)(nil)
	_ fs.NodeListxattrer   = (*Node)(nil)
	_ fs.NodeRemovexattrer = (*Node)(nil)
)

// xattrCall builds XAttrArgs.NamePtr (and ValuePtr, for Setxattr) in a
// fresh arena and drives op against path through it. XAttrArgs only
// carries guest pointers and sizes, so name and value have to already be
// resident in the same arena the request envelope is encoded into.
func xattrCall(n *Node, op wire.Op, name string, value []byte, flags uint32) ([]byte, error) {
	tc := guestmem.NewArena()
	nameAddr := tc.Alloc(len(name))
	tc.Write(nameAddr, []byte(name))
	var valueAddr wire.GuestAddr
	if len(value) > 0 {
		valueAddr = tc.Alloc(len(value))
		tc.Write(valueAddr, value)
	}
	args := wire.EncodeXAttrArgs(wire.XAttrArgs{
		NamePtr: nameAddr, ValuePtr: valueAddr,
		NameSize: uint32(len(name)), ValueSize: uint32(len(value)), Flags: flags,
	})
	return callArena(n.hv, tc, op, n.path, args)
}

// Getxattr implements fs.NodeGetxattrer.
func (n *Node) Getxattr(ctx context.Context, req *fuse.GetxattrRequest, resp *fuse.GetxattrResponse) error {
	data, err := xattrCall(n, wire.GetXAttr, req.Name, nil, 0)
	if err != nil {
		return err
	}
	resp.Xattr = data
	return nil
}

// Setxattr implements fs.NodeSetxattrer.
func (n *Node) Setxattr(ctx context.Context, req *fuse.SetxattrRequest) error {
	_, err := xattrCall(n, wire.SetXAttr, req.Name, req.Xattr, req.Flags)
	return err
}

// Listxattr implements fs.NodeListxattrer. ListXAttr takes no arguments
// beyond the path, so it uses the plain call helper.
func (n *Node) Listxattr(ctx context.Context, req *fuse.ListxattrRequest, resp *fuse.ListxattrResponse) error {
	data, err := call(n.hv, wire.ListXAttr, n.path, nil)
	if err != nil {
		return err
	}
	resp.Xattr = data
	return nil
}

// Removexattr implements fs.NodeRemovexattrer.
func (n *Node) Removexattr(ctx context.Context, req *fuse.RemovexattrRequest) error {
	_, err := xattrCall(n, wire.RemoveXAttr, req.Name, nil, 0)
	return err
}
