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
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"

	"github.com/abmerop/gem5fs/pkg/wire"
)

var _ fs.FSStatfser = (*FS)(nil)

// Statfs implements fs.FSStatfser.
func (f *FS) Statfs(ctx context.Context, req *fuse.StatfsRequest, resp *fuse.StatfsResponse) error {
	data, err := call(f.hv, wire.StatFS, f.root, nil)
	if err != nil {
		return err
	}
	st, err := wire.DecodeStatFSReply(data)
	if err != nil {
		return fuse.Errno(syscall.EIO)
	}
	resp.Blocks = st.Blocks
	resp.Bfree = st.BlocksFree
	resp.Bavail = st.BlocksAvail
	resp.Files = st.Files
	resp.Ffree = st.FilesFree
	resp.Bsize = uint32(st.BlockSize)
	resp.Namelen = uint32(st.NameMax)
	resp.Frsize = uint32(st.BlockSize)
	return nil
}
