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

package guestmem

import (
	"sync"

	"github.com/abmerop/gem5fs/pkg/wire"
)

// pageSize is the granularity Arena.Touch steps through a range at, matching the
// "touch every page before the hypercall" requirement on the guest side
// of stage B.
const pageSize = 4096

// Arena is a simulated guest address space: a growable byte slice with a
// bump allocator. No real gem5 instance is available to this repository,
// so Arena is the only guestmem.ThreadContext implementation; it is used
// by package hypercall's Loopback and directly by tests that want to drive
// the protocol without a FUSE mount in the loop.
//
// Arena is safe for concurrent use; a real simulator thread context would
// need the same property since distinct simulated threads may interleave
// hypercalls.
type Arena struct {
	mu   sync.Mutex
	mem  []byte
	next wire.GuestAddr
}

// NewArena returns an empty Arena. Guest address 0 is never handed out by
// Alloc, so it can be used as a sentinel "no pointer" value.
func NewArena() *Arena {
	return &Arena{mem: make([]byte, 0, 4096), next: 1}
}

// Alloc reserves n zero-filled bytes and returns their guest address. The
// bytes are never reused or freed; an Arena is meant to back one mount's
// worth of short-lived requests in tests, not a long-running process.
func (a *Arena) Alloc(n int) wire.GuestAddr {
	a.mu.Lock()
	defer a.mu.Unlock()
	addr := a.next
	end := int(addr) + n
	if end > cap(a.mem) {
		grown := make([]byte, len(a.mem), end*2+pageSize)
		copy(grown, a.mem)
		a.mem = grown
	}
	if end > len(a.mem) {
		a.mem = a.mem[:end]
	}
	a.next += wire.GuestAddr(n)
	return addr
}

// Touch forces the given range to be resident, as the real adapter must do
// before a stage-B hypercall so the simulator's MMU has already populated
// the guest page table entries it will write through. Against this
// in-memory Arena it reads one byte per page and changes nothing (it
// panics if the range lies outside the Arena); real gem5 guest code
// instead writes one byte per page.
func (a *Arena) Touch(addr wire.GuestAddr, n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for off := 0; off < n; off += pageSize {
		_ = a.mem[int(addr)+off]
	}
}

// Write copies b into the Arena starting at addr, growing as Alloc would.
// It is a convenience for tests and for the guest-side adapter building a
// request payload; production guest code would instead write into memory
// it already owns.
func (a *Arena) Write(addr wire.GuestAddr, b []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	end := int(addr) + len(b)
	if end > len(a.mem) {
		a.mem = append(a.mem, make([]byte, end-len(a.mem))...)
	}
	copy(a.mem[addr:], b)
}

// Read returns a copy of n bytes starting at addr.
func (a *Arena) Read(addr wire.GuestAddr, n int) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]byte, n)
	copy(out, a.mem[addr:int(addr)+n])
	return out
}

// CopyOut implements ThreadContext.
func (a *Arena) CopyOut(dst []byte, src wire.GuestAddr) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	end := int(src) + len(dst)
	if src == 0 || end > len(a.mem) {
		return ErrFault
	}
	copy(dst, a.mem[src:end])
	return nil
}

// CopyIn implements ThreadContext.
func (a *Arena) CopyIn(dst wire.GuestAddr, src []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	end := int(dst) + len(src)
	if dst == 0 || end > len(a.mem) {
		return ErrFault
	}
	copy(a.mem[dst:end], src)
	return nil
}
