//go:build linux || darwin
// +build linux darwin

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

// Command gem5fs-mount mounts a host directory through the gem5fs
// passthrough protocol at a FUSE mountpoint. It stands in for the real
// gem5 guest kernel driver: in production the host executor runs inside
// the simulated machine's trapped pseudo-instruction handler, but a
// single Go process can drive the same protocol end to end by running
// the host executor and the FUSE loop side by side with an in-process
// hypercall.Loopback between them.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"

	"github.com/abmerop/gem5fs/pkg/buildinfo"
	"github.com/abmerop/gem5fs/pkg/gemfs"
	"github.com/abmerop/gem5fs/pkg/guestmem"
	"github.com/abmerop/gem5fs/pkg/hostexec"
	"github.com/abmerop/gem5fs/pkg/hypercall"
	"github.com/abmerop/gem5fs/pkg/wire"
)

// mountCall drives one mount-time, path-free hypercall (SetMountpoint,
// TypeProbe) through hv in a throwaway arena, the same shape
// pkg/gemfs's internal client uses for every FUSE operation.
func mountCall(hv hypercall.Hypervisor, op wire.Op, payload []byte) ([]byte, error) {
	tc := guestmem.NewArena()
	var payloadAddr wire.GuestAddr
	if len(payload) > 0 {
		payloadAddr = tc.Alloc(len(payload))
		tc.Write(payloadAddr, payload)
	}
	reqAddr := tc.Alloc(int(wire.EnvelopeWireSize))
	tc.Write(reqAddr, wire.EncodeEnvelope(wire.Envelope{
		Op: op, Direction: wire.Request, PayloadPtr: payloadAddr, PayloadSize: uint32(len(payload)),
	}))
	resultAddr := tc.Alloc(int(wire.EnvelopeWireSize))
	if status := hv.Exec(tc, payloadAddr, reqAddr, resultAddr); status != 0 {
		return nil, fmt.Errorf("gem5fs-mount: hypercall status %d", status)
	}
	stageA, err := wire.DecodeEnvelope(tc.Read(resultAddr, int(wire.EnvelopeWireSize)))
	if err != nil {
		return nil, err
	}
	if stageA.Op == wire.Error {
		return nil, fmt.Errorf("gem5fs-mount: errno %d", stageA.Errnum)
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
		return nil, fmt.Errorf("gem5fs-mount: fetch status %d", status)
	}
	return tc.Read(replyAddr, int(stageA.PayloadSize)), nil
}

var (
	debug   = flag.Bool("debug", false, "print bazil.org/fuse debug messages")
	version = flag.Bool("version", false, "print version and exit")
)

func usage() {
	fmt.Fprint(os.Stderr, "usage: gem5fs-mount [-debug] [-version] <mountpoint> <host-dir>\n")
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if *version {
		fmt.Println(buildinfo.Summary())
		return
	}
	if flag.NArg() != 2 {
		usage()
	}

	mountPoint, err := filepath.Abs(flag.Arg(0))
	if err == nil {
		mountPoint, err = filepath.EvalSymlinks(mountPoint)
	}
	if err != nil {
		log.Fatalf("resolving mountpoint: %v", err)
	}
	hostDir, err := filepath.Abs(flag.Arg(1))
	if err != nil {
		log.Fatalf("resolving host dir: %v", err)
	}
	if fi, err := os.Stat(hostDir); err != nil || !fi.IsDir() {
		log.Fatalf("host dir %s is not a directory", hostDir)
	}

	lb := hypercall.NewLoopback()

	if err := setMountpoint(lb, hostDir); err != nil {
		log.Fatalf("SetMountpoint: %v", err)
	}
	if err := checkTypeProbe(lb); err != nil {
		log.Fatalf("%v", err)
	}

	if *debug {
		fuse.Debug = func(msg interface{}) { log.Print(msg) }
		hostexec.Verbose = true
	}

	conn, err := fuse.Mount(mountPoint, fuse.VolumeName(filepath.Base(mountPoint)))
	if err != nil {
		log.Fatalf("Mount: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)

	doneServe := make(chan error, 1)
	go func() {
		doneServe <- fusefs.Serve(conn, gemfs.New(lb, hostDir))
	}()

	quitKey := make(chan bool, 1)
	go awaitQuitKey(quitKey)

	select {
	case err := <-doneServe:
		log.Printf("fusefs.Serve returned %v", err)
		<-conn.Ready
		if err := conn.MountError; err != nil {
			log.Printf("conn.MountError: %v", err)
		}
	case sig := <-sigc:
		log.Printf("signal %s received, shutting down.", sig)
	case <-quitKey:
		log.Printf("quit key pressed, shutting down.")
	}

	time.AfterFunc(2*time.Second, func() { os.Exit(1) })
	log.Printf("unmounting %s...", mountPoint)
	if err := gemfs.Unmount(mountPoint); err != nil {
		log.Printf("unmount: %v", err)
	}
	log.Printf("gem5fs-mount exiting.")
}

// setMountpoint issues the SetMountpoint operation the same way a guest
// driver's mount(2) handler would, recording hostDir as the mount state
// GetMountpoint later answers with.
func setMountpoint(hv hypercall.Hypervisor, hostDir string) error {
	_, err := mountCall(hv, wire.SetMountpoint, []byte(hostDir))
	return err
}

// checkTypeProbe runs TypeProbe against the host executor in the same
// process and returns an error if the host rejects the probe. The error
// carries only the errno of the host's Error reply (EPROTO on a layout
// mismatch); it does not name the mismatching field, since an Error
// reply has no payload. Since the host executor here is compiled from
// the exact same wire package, a mismatch should never actually fire;
// the check exists for parity with a real cross-binary mount where it is
// the only thing standing between a guest and a silently corrupted
// memory layout.
func checkTypeProbe(hv hypercall.Hypervisor) error {
	local := wire.LocalTypeProbe()
	payload := wire.EncodeTypeProbeArgs(local)
	if _, err := mountCall(hv, wire.TypeProbe, payload); err != nil {
		return fmt.Errorf("type probe failed: %w", err)
	}
	return nil
}

func awaitQuitKey(done chan<- bool) {
	var buf [1]byte
	for {
		if _, err := os.Stdin.Read(buf[:]); err != nil {
			return
		}
		if buf[0] == 'q' {
			if *debug {
				stacks := make([]byte, 1<<20)
				stacks = stacks[:runtime.Stack(stacks, true)]
				os.Stderr.Write(stacks)
			}
			done <- true
			return
		}
	}
}
