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

// Command gem5fs-probe is a standalone diagnostic: it builds its own
// in-process hypercall.Loopback over a host directory and runs the
// mount-time checks a real gem5fs-mount would run, without touching
// FUSE at all. Useful as a CI smoke test and as a worked example of the
// two-stage protocol dance on its own.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/abmerop/gem5fs/pkg/guestmem"
	"github.com/abmerop/gem5fs/pkg/hypercall"
	"github.com/abmerop/gem5fs/pkg/wire"
)

func usage() {
	fmt.Fprint(os.Stderr, "usage: gem5fs-probe <host-dir>\n")
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() != 1 {
		usage()
	}
	hostDir := flag.Arg(0)
	if fi, err := os.Stat(hostDir); err != nil || !fi.IsDir() {
		log.Fatalf("%s is not a directory", hostDir)
	}

	lb := hypercall.NewLoopback()

	// SetMountpoint must land before the concurrent checks below read it
	// back, so it runs alone first.
	if _, err := probeCall(lb, wire.SetMountpoint, []byte(hostDir)); err != nil {
		log.Fatalf("SetMountpoint: %v", err)
	}

	var g errgroup.Group
	g.Go(func() error { return runTypeProbe(lb) })
	g.Go(func() error { return runGetMountpoint(lb, hostDir) })
	g.Go(func() error { return runGetAttrSmoke(lb, hostDir) })

	if err := g.Wait(); err != nil {
		log.Fatalf("gem5fs-probe: %v", err)
	}
	fmt.Println("gem5fs-probe: all checks passed")
}

func runTypeProbe(hv hypercall.Hypervisor) error {
	payload := wire.EncodeTypeProbeArgs(wire.LocalTypeProbe())
	if _, err := probeCall(hv, wire.TypeProbe, payload); err != nil {
		return fmt.Errorf("TypeProbe: %w", err)
	}
	return nil
}

func runGetMountpoint(hv hypercall.Hypervisor, want string) error {
	data, err := probeCall(hv, wire.GetMountpoint, nil)
	if err != nil {
		return fmt.Errorf("GetMountpoint: %w", err)
	}
	if string(data) != want {
		return fmt.Errorf("GetMountpoint = %q, want %q", data, want)
	}
	return nil
}

func runGetAttrSmoke(hv hypercall.Hypervisor, hostDir string) error {
	data, err := probeCallPath(hv, wire.GetAttr, hostDir, nil)
	if err != nil {
		return fmt.Errorf("GetAttr %s: %w", hostDir, err)
	}
	st, err := wire.DecodeStatReply(data)
	if err != nil {
		return err
	}
	if st.Mode == 0 {
		return fmt.Errorf("GetAttr %s: zero mode", hostDir)
	}
	return nil
}

// probeCall drives one path-free hypercall through hv.
func probeCall(hv hypercall.Hypervisor, op wire.Op, payload []byte) ([]byte, error) {
	return probeCallPath(hv, op, "", payload)
}

// probeCallPath drives one hypercall through hv, optionally addressed
// by path, the same way pkg/gemfs's internal client does.
func probeCallPath(hv hypercall.Hypervisor, op wire.Op, path string, payload []byte) ([]byte, error) {
	tc := guestmem.NewArena()

	var pathAddr wire.GuestAddr
	var pathLen uint32
	if path != "" {
		pathAddr = tc.Alloc(len(path) + 1)
		tc.Write(pathAddr, append([]byte(path), 0))
		pathLen = uint32(len(path))
	}

	var payloadAddr wire.GuestAddr
	if len(payload) > 0 {
		payloadAddr = tc.Alloc(len(payload))
		tc.Write(payloadAddr, payload)
	}

	reqAddr := tc.Alloc(int(wire.EnvelopeWireSize))
	tc.Write(reqAddr, wire.EncodeEnvelope(wire.Envelope{
		Op: op, Direction: wire.Request,
		PathPtr: pathAddr, PathLen: pathLen,
		PayloadPtr: payloadAddr, PayloadSize: uint32(len(payload)),
	}))
	resultAddr := tc.Alloc(int(wire.EnvelopeWireSize))

	if status := hv.Exec(tc, payloadAddr, reqAddr, resultAddr); status != 0 {
		return nil, fmt.Errorf("hypercall status %d", status)
	}
	stageA, err := wire.DecodeEnvelope(tc.Read(resultAddr, int(wire.EnvelopeWireSize)))
	if err != nil {
		return nil, err
	}
	if stageA.Op == wire.Error {
		return nil, fmt.Errorf("errno %d", stageA.Errnum)
	}
	if stageA.PayloadSize == 0 {
		return nil, nil
	}

	replyAddr := tc.Alloc(int(stageA.PayloadSize))
	fetchAddr := tc.Alloc(int(wire.EnvelopeWireSize))
	tc.Write(fetchAddr, wire.EncodeEnvelope(wire.Envelope{
		Op: wire.FetchPayload, Direction: wire.Request,
		Handle: stageA.Handle, PayloadPtr: replyAddr, PayloadSize: stageA.PayloadSize,
	}))
	if status := hv.Exec(tc, 0, fetchAddr, resultAddr); status != 0 {
		return nil, fmt.Errorf("fetch status %d", status)
	}
	return tc.Read(replyAddr, int(stageA.PayloadSize)), nil
}
