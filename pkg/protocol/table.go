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

// Package protocol implements the two-stage transfer dance: stage A runs
// the host executor and hands the guest a small envelope naming the exact
// size of the reply, stage B lets the guest fetch that reply into a
// buffer it has since allocated at the right size. Between the two stages
// a buffered reply lives in a Table, keyed by an opaque handle rather than
// the cross-address-space self-referential pointer the original design
// used.
package protocol

import (
	"sync"
	"time"

	"github.com/abmerop/gem5fs/pkg/hostexec"
	"github.com/abmerop/gem5fs/pkg/wire"
)

// BufferedReply is a host-owned reply awaiting its stage-B fetch.
type BufferedReply struct {
	Envelope wire.Envelope
	Payload  hostexec.Payload
	created  time.Time
}

// Table is the opaque handle table: a mutex-guarded map from handle to
// buffered reply, plus a monotonic counter so handles are never reused
// while the process is alive. The guest never sees anything but the
// uint64 key; the host is the only party that ever resolves it.
type Table struct {
	mu      sync.Mutex
	entries map[uint64]*BufferedReply
	next    uint64
}

// NewTable returns an empty Table. Handle 0 is never issued, so it can be
// used by callers as a "no buffered reply" sentinel.
func NewTable() *Table {
	return &Table{entries: make(map[uint64]*BufferedReply), next: 1}
}

// Store records a buffered reply and returns the handle the guest must
// echo back on its FetchPayload request. env.Handle is overwritten with
// the assigned handle before storage, so callers can pass an envelope
// built before a handle exists.
func (t *Table) Store(env wire.Envelope, payload hostexec.Payload) (uint64, wire.Envelope) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.next
	t.next++
	env.Handle = h
	t.entries[h] = &BufferedReply{Envelope: env, Payload: payload, created: time.Now()}
	return h, env
}

// Fetch looks up a buffered reply without removing it.
func (t *Table) Fetch(handle uint64) (*BufferedReply, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.entries[handle]
	return r, ok
}

// Release removes a buffered reply. It is the only way an entry leaves
// the table under normal operation; RunStageB calls it immediately after
// copying the payload into guest memory.
func (t *Table) Release(handle uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, handle)
}

// Len reports the number of buffered replies currently outstanding,
// mainly for tests asserting no-leak behavior.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Sweep returns the handles of every buffered reply older than maxAge
// that has not yet been fetched. It does not release them; callers
// decide whether an unfetched-but-recent entry is merely slow or
// genuinely abandoned.
func (t *Table) Sweep(maxAge time.Duration) []uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	var stale []uint64
	for h, r := range t.entries {
		if r.created.Before(cutoff) {
			stale = append(stale, h)
		}
	}
	return stale
}
