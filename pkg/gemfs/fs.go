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
	"bazil.org/fuse/fs"

	"github.com/abmerop/gem5fs/pkg/hypercall"
)

// FS is the bazil.org/fuse filesystem root. Root is the host-side
// directory being exported; every Node below it addresses the host by
// joining onto this path, exactly as the guest's own path-construction
// logic would.
type FS struct {
	hv   hypercall.Hypervisor
	root string
}

var _ fs.FS = (*FS)(nil)

// New returns an FS exporting root through hv.
func New(hv hypercall.Hypervisor, root string) *FS {
	return &FS{hv: hv, root: root}
}

// Root implements fs.FS.
func (f *FS) Root() (fs.Node, error) {
	return &Node{hv: f.hv, path: f.root}, nil
}
