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

package wire

import (
	"fmt"
	"unsafe"
)

// SizeEntry names one scalar or struct type whose size the TypeProbe
// exchange cares about, together with the size as seen by whichever side
// produced the entry.
type SizeEntry struct {
	Name string
	Size uint32
}

// TypeProbeArgs is the payload of the TypeProbe operation: the sizeof of
// every scalar and struct the protocol puts on the wire, including the
// probe's own size. It is built once locally by each side with
// LocalTypeProbe and exchanged so a mismatch can be caught at mount time
// instead of silently corrupting later replies.
type TypeProbeArgs struct {
	Entries []SizeEntry
}

// probeNames lists, in a stable order, every name LocalTypeProbe reports.
// Keeping this as an explicit list (rather than reflecting over a struct)
// means adding a new wire type is a one-line change here plus one in
// LocalTypeProbe, with no risk of accidentally skipping a field.
var probeNames = []string{
	"Envelope",
	"Op",
	"Direction",
	"GuestAddr",
	"ReadWriteArgs",
	"ChownArgs",
	"SyncArgs",
	"XAttrArgs",
	"FtruncateArgs",
	"StatReply",
	"StatFSReply",
	"TypeProbeArgs.SizeEntry",
}

// LocalTypeProbe returns the TypeProbeArgs computed from this binary's own
// struct and scalar sizes. The guest-side adapter computes one at mount
// time and sends it as the input to TypeProbe; the host executor computes
// its own and diffs the two.
func LocalTypeProbe() TypeProbeArgs {
	return TypeProbeArgs{
		Entries: []SizeEntry{
			{"Envelope", uint32(unsafe.Sizeof(Envelope{}))},
			{"Op", uint32(unsafe.Sizeof(Op(0)))},
			{"Direction", uint32(unsafe.Sizeof(Direction(0)))},
			{"GuestAddr", uint32(unsafe.Sizeof(GuestAddr(0)))},
			{"ReadWriteArgs", uint32(unsafe.Sizeof(ReadWriteArgs{}))},
			{"ChownArgs", uint32(unsafe.Sizeof(ChownArgs{}))},
			{"SyncArgs", uint32(unsafe.Sizeof(SyncArgs{}))},
			{"XAttrArgs", uint32(unsafe.Sizeof(XAttrArgs{}))},
			{"FtruncateArgs", uint32(unsafe.Sizeof(FtruncateArgs{}))},
			{"StatReply", uint32(unsafe.Sizeof(StatReply{}))},
			{"StatFSReply", uint32(unsafe.Sizeof(StatFSReply{}))},
			{"TypeProbeArgs.SizeEntry", uint32(unsafe.Sizeof(SizeEntry{}))},
		},
	}
}

// Mismatch describes one field that disagreed between the two probes
// compared by Diff.
type Mismatch struct {
	Name       string
	WantSize   uint32
	GotSize    uint32
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s: want size %d, got %d", m.Name, m.WantSize, m.GotSize)
}

// Diff compares a remote TypeProbeArgs (as received over the wire) against
// the local one, by name rather than position, so that a probe from a
// build with a superset or subset of entries still reports something
// useful instead of silently misaligning. It returns every mismatching or
// missing field; an empty result means the mount may proceed.
func (local TypeProbeArgs) Diff(remote TypeProbeArgs) []Mismatch {
	localByName := make(map[string]uint32, len(local.Entries))
	for _, e := range local.Entries {
		localByName[e.Name] = e.Size
	}

	var mismatches []Mismatch
	seen := make(map[string]bool, len(remote.Entries))
	for _, re := range remote.Entries {
		seen[re.Name] = true
		want, ok := localByName[re.Name]
		if !ok {
			mismatches = append(mismatches, Mismatch{Name: re.Name, WantSize: 0, GotSize: re.Size})
			continue
		}
		if want != re.Size {
			mismatches = append(mismatches, Mismatch{Name: re.Name, WantSize: want, GotSize: re.Size})
		}
	}
	for name, size := range localByName {
		if !seen[name] {
			mismatches = append(mismatches, Mismatch{Name: name, WantSize: size, GotSize: 0})
		}
	}
	return mismatches
}
