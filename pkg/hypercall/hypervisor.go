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

// Package hypercall defines the trapped pseudo-instruction boundary a
// guest-side driver calls through, and the one concrete implementation of
// it this repository has access to: an in-process loopback that runs the
// host executor directly against a simulated guest address space. A real
// gem5 build would trap the same call into native code; nothing on either
// side of the Hypervisor interface needs to know which.
package hypercall

import "github.com/abmerop/gem5fs/pkg/guestmem"

// Hypervisor is the boundary a guest-side driver calls through: one
// pseudo-instruction taking the calling thread's memory context, the
// address of the input payload bytes (if any), the address of the
// request envelope, and the address to write the response envelope to.
// It returns a raw status word; zero always means "response envelope
// written, inspect it", matching how the real trapped instruction reports
// back in the source implementation this design is modeled on.
type Hypervisor interface {
	Exec(tc guestmem.ThreadContext, inputAddr, requestAddr, resultAddr guestmem.GuestAddr) uint64
}
