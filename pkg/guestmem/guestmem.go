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

// Package guestmem implements the memory bridge: the two primitives that
// cross the guest/host address-space boundary, and path-string extraction
// on top of them. Nothing here knows about filesystem operations; it only
// moves bytes.
package guestmem

import (
	"errors"
	"fmt"

	"github.com/abmerop/gem5fs/pkg/wire"
)

// ErrFault is returned when a guest virtual address fails to translate.
// The caller is expected to report this up as errnum EFAULT.
var ErrFault = errors.New("guestmem: translation fault")

// GuestAddr is a guest virtual address. It is the same type as
// wire.GuestAddr, named here as well so that users of ThreadContext and of
// the hypercall boundary can spell it from this package.
type GuestAddr = wire.GuestAddr

// ThreadContext is the simulator-provided handle that exposes one guest
// thread's page tables. A real simulator implements this against its own
// MMU; this repository's only implementation is Arena (see arena.go),
// which stands in for the simulator in tests and in the loopback
// hypervisor.
type ThreadContext interface {
	// CopyOut copies len(dst) bytes from guest virtual address src into
	// dst, a host-resident buffer.
	CopyOut(dst []byte, src wire.GuestAddr) error
	// CopyIn copies len(src) bytes from src, a host-resident buffer, into
	// guest virtual address dst.
	CopyIn(dst wire.GuestAddr, src []byte) error
}

// ExtractPath implements the path-extraction rule: if length is positive,
// allocate length+1 host bytes and copy them out of guest memory
// (including the trailing NUL the guest is required to have placed);
// otherwise synthesize "/".
func ExtractPath(tc ThreadContext, ptr wire.GuestAddr, length uint32) (string, error) {
	if length == 0 {
		return "/", nil
	}
	buf := make([]byte, length+1)
	if err := tc.CopyOut(buf, ptr); err != nil {
		return "", fmt.Errorf("guestmem: extracting path: %w", err)
	}
	if buf[length] != 0 {
		return "", fmt.Errorf("guestmem: path at %#x is not NUL-terminated", ptr)
	}
	return string(buf[:length]), nil
}
