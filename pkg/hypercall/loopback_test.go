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

package hypercall

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/abmerop/gem5fs/pkg/guestmem"
	"github.com/abmerop/gem5fs/pkg/wire"
)

func TestLoopbackGetAttrRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file")
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}

	lb := NewLoopback()
	tc := guestmem.NewArena()

	pathAddr := tc.Alloc(len(path) + 1)
	tc.Write(pathAddr, append([]byte(path), 0))
	reqAddr := tc.Alloc(int(wire.EnvelopeWireSize))
	tc.Write(reqAddr, wire.EncodeEnvelope(wire.Envelope{
		Op: wire.GetAttr, Direction: wire.Request, PathPtr: pathAddr, PathLen: uint32(len(path)),
	}))
	resultAddr := tc.Alloc(int(wire.EnvelopeWireSize))

	if status := lb.Exec(tc, 0, reqAddr, resultAddr); status != 0 {
		t.Fatalf("Exec stage A status = %d, want 0", status)
	}
	stageA, err := wire.DecodeEnvelope(tc.Read(resultAddr, int(wire.EnvelopeWireSize)))
	if err != nil {
		t.Fatal(err)
	}
	if stageA.Op == wire.Error {
		t.Fatalf("GetAttr failed: errno %d", stageA.Errnum)
	}

	fetchAddr := tc.Alloc(int(wire.EnvelopeWireSize))
	replyAddr := tc.Alloc(int(stageA.PayloadSize))
	tc.Write(fetchAddr, wire.EncodeEnvelope(wire.Envelope{
		Op: wire.FetchPayload, Direction: wire.Request, Handle: stageA.Handle,
		PayloadPtr: replyAddr, PayloadSize: stageA.PayloadSize,
	}))
	if status := lb.Exec(tc, 0, fetchAddr, resultAddr); status != 0 {
		t.Fatalf("Exec stage B status = %d, want 0", status)
	}
	stageB, err := wire.DecodeEnvelope(tc.Read(resultAddr, int(wire.EnvelopeWireSize)))
	if err != nil {
		t.Fatal(err)
	}
	if stageB.PayloadSize != stageA.PayloadSize {
		t.Errorf("stage B payload_size = %d, want %d", stageB.PayloadSize, stageA.PayloadSize)
	}

	st, err := wire.DecodeStatReply(tc.Read(replyAddr, int(stageA.PayloadSize)))
	if err != nil {
		t.Fatal(err)
	}
	if st.Size != int64(len("hello world")) {
		t.Errorf("st.Size = %d, want %d", st.Size, len("hello world"))
	}
	if lb.Table().Len() != 0 {
		t.Errorf("Table.Len() after fetch = %d, want 0", lb.Table().Len())
	}
}

func TestLoopbackSetMountpointGetMountpoint(t *testing.T) {
	lb := NewLoopback()
	tc := guestmem.NewArena()

	mountPath := "/mnt/host/export"
	payloadAddr := tc.Alloc(len(mountPath))
	tc.Write(payloadAddr, []byte(mountPath))
	reqAddr := tc.Alloc(int(wire.EnvelopeWireSize))
	tc.Write(reqAddr, wire.EncodeEnvelope(wire.Envelope{
		Op: wire.SetMountpoint, Direction: wire.Request,
		PayloadPtr: payloadAddr, PayloadSize: uint32(len(mountPath)),
	}))
	resultAddr := tc.Alloc(int(wire.EnvelopeWireSize))
	if status := lb.Exec(tc, payloadAddr, reqAddr, resultAddr); status != 0 {
		t.Fatalf("SetMountpoint Exec status = %d, want 0", status)
	}
	setResp, err := wire.DecodeEnvelope(tc.Read(resultAddr, int(wire.EnvelopeWireSize)))
	if err != nil {
		t.Fatal(err)
	}
	if setResp.Op == wire.Error {
		t.Fatalf("SetMountpoint failed: errno %d", setResp.Errnum)
	}

	getReqAddr := tc.Alloc(int(wire.EnvelopeWireSize))
	tc.Write(getReqAddr, wire.EncodeEnvelope(wire.Envelope{Op: wire.GetMountpoint, Direction: wire.Request}))
	if status := lb.Exec(tc, 0, getReqAddr, resultAddr); status != 0 {
		t.Fatalf("GetMountpoint Exec status = %d, want 0", status)
	}
	getResp, err := wire.DecodeEnvelope(tc.Read(resultAddr, int(wire.EnvelopeWireSize)))
	if err != nil {
		t.Fatal(err)
	}
	if getResp.Op == wire.Error {
		t.Fatalf("GetMountpoint failed: errno %d", getResp.Errnum)
	}

	replyAddr := tc.Alloc(int(getResp.PayloadSize))
	fetchAddr := tc.Alloc(int(wire.EnvelopeWireSize))
	tc.Write(fetchAddr, wire.EncodeEnvelope(wire.Envelope{
		Op: wire.FetchPayload, Handle: getResp.Handle, PayloadPtr: replyAddr, PayloadSize: getResp.PayloadSize,
	}))
	lb.Exec(tc, 0, fetchAddr, resultAddr)
	if got := string(tc.Read(replyAddr, int(getResp.PayloadSize))); got != mountPath {
		t.Errorf("GetMountpoint round trip = %q, want %q", got, mountPath)
	}
}
