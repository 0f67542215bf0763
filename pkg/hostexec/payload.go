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

// Payload is the host-owned bytes of a buffered reply, between the moment
// the executor finishes an operation and the moment FetchPayload releases
// them. It is a sum type over the shapes a reply can take, per the "typed
// release" design note: each variant knows only how to hand back its raw
// bytes, which is all package protocol needs to ship them to the guest.
type Payload interface {
	Bytes() []byte
	isPayload()
}

// StatBytes holds an encoded wire.StatReply or wire.StatFSReply: the
// subset of struct stat or struct statfs that the guest is sent.
type StatBytes []byte

func (p StatBytes) Bytes() []byte { return []byte(p) }
func (StatBytes) isPayload()      {}

// RawBytes holds arbitrary reply data: read data, a readlink target, an
// xattr value or listing, or a stored mountpoint path.
type RawBytes []byte

func (p RawBytes) Bytes() []byte { return []byte(p) }
func (RawBytes) isPayload()      {}

// FdBytes holds a little-endian encoded file descriptor (the reply to
// Open/Create).
type FdBytes []byte

func (p FdBytes) Bytes() []byte { return []byte(p) }
func (FdBytes) isPayload()      {}

// DirListing holds the concatenation of fixed-width 256-byte name slots
// that is the reply to ReadDir.
type DirListing []byte

func (p DirListing) Bytes() []byte { return []byte(p) }
func (DirListing) isPayload()      {}
