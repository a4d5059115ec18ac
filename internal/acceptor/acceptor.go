// Copyright 2015 Matthew Holt and The Caddy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package acceptor implements AcceptorSet (C5): ownership of the one or
// two inherited listening descriptors, read-readiness registration, and
// non-blocking accept/drain semantics, using the same fd-adoption and
// fake-close-without-closing patterns any fd-inheriting server needs.
package acceptor

import (
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Handoff is handed to a WorkerPool for each accepted connection.
type Handoff struct {
	Conn net.Conn
	// Family distinguishes which acceptor produced the connection; the
	// hand-off policy itself (round-robin, hash, etc.) is WorkerPool's.
	Family string
}

// acceptorEntry is {fd, enabled}. enabled=false stops hand-offs from it
// but does not close the descriptor; its accept goroutine keeps running.
type acceptorEntry struct {
	family   string
	listener net.Listener
	enabled  int32 // accessed atomically; 1 = enabled
}

// Set owns the inherited v4/v6 listening descriptors. It registers
// read-readiness (via a dedicated Accept goroutine per descriptor, the
// idiomatic Go substitute for an explicit reactor poll loop), accepts
// connections, and hands them off on the given channel.
type Set struct {
	log     *zap.Logger
	entries []*acceptorEntry
	out     chan<- Handoff
}

// New adopts already-open listeners (one per non-absent inherited fd;
// callers build these via FromFD) and returns an AcceptorSet that will
// send accepted connections to out.
func New(log *zap.Logger, out chan<- Handoff, listeners ...*Handle) *Set {
	s := &Set{log: log, out: out}
	for _, h := range listeners {
		s.entries = append(s.entries, &acceptorEntry{
			family:   h.Family,
			listener: h.Listener,
			enabled:  1,
		})
	}
	return s
}

// Handle pairs an adopted net.Listener with the address family it serves.
type Handle struct {
	Family   string
	Listener net.Listener
}

// FromFD adopts an inherited, already-bound listening descriptor as a
// net.Listener. fd must not be the absent sentinel; callers check that
// before calling FromFD.
func FromFD(fd int, family string) (*Handle, error) {
	f := os.NewFile(uintptr(fd), fmt.Sprintf("nghttpxd-listener-%s", family))
	if f == nil {
		return nil, fmt.Errorf("acceptor: invalid descriptor %d for %s", fd, family)
	}
	ln, err := net.FileListener(f)
	// net.FileListener dup()s the descriptor internally; close our copy
	// of the *os.File regardless of outcome.
	_ = f.Close()
	if err != nil {
		return nil, fmt.Errorf("acceptor: adopting fd %d for %s: %w", fd, family, err)
	}
	return &Handle{Family: family, Listener: ln}, nil
}

// Run starts one accept goroutine per entry; it returns immediately. The
// goroutines exit when their listener's Accept returns a permanent error,
// which happens when the listener is closed at process exit.
func (s *Set) Run() {
	for _, e := range s.entries {
		go s.acceptLoop(e)
	}
}

func (s *Set) acceptLoop(e *acceptorEntry) {
	for {
		conn, err := e.listener.Accept()
		if err != nil {
			if isTemporary(err) {
				continue
			}
			s.log.Debug("acceptor loop exiting", zap.String("family", e.family), zap.Error(err))
			return
		}

		if atomic.LoadInt32(&e.enabled) == 0 {
			// Disabled after accept won the race with disable(); refuse
			// this connection rather than handing it to a worker, since
			// acceptors must never accept on behalf of a stopped set.
			_ = conn.Close()
			continue
		}

		select {
		case s.out <- Handoff{Conn: conn, Family: e.family}:
		default:
			// Hand-off channel is full: drop the connection rather than
			// block the accept loop indefinitely on a slow or stalled
			// WorkerPool.
			s.log.Warn("hand-off queue full, dropping accepted connection", zap.String("family", e.family))
			_ = conn.Close()
		}
	}
}

func isTemporary(err error) bool {
	type temporary interface{ Temporary() bool }
	te, ok := err.(temporary)
	return ok && te.Temporary()
}

// Disable stops hand-offs from every descriptor without closing it. The
// accept goroutines keep running: each connection they accept afterwards
// is closed at once instead of being handed off. No descriptor is ever
// re-enabled again; this package provides no re-enable path.
func (s *Set) Disable() {
	for _, e := range s.entries {
		atomic.StoreInt32(&e.enabled, 0)
	}
}

// DrainBacklog performs one final non-blocking accept burst on each
// descriptor until the kernel reports no pending connection.
// Connections observed during drain are closed immediately rather than
// handed off, since acceptors are already disabled by the time
// DrainBacklog is called.
func (s *Set) DrainBacklog() {
	for _, e := range s.entries {
		nb, ok := e.listener.(interface{ SetDeadline(time.Time) error })
		if !ok {
			continue
		}
		// A deadline just ahead of now bounds the burst: Accept takes every
		// connection already queued and then fails with a timeout. A
		// deadline already in the past would make Accept fail before
		// taking any queued connection.
		_ = nb.SetDeadline(time.Now().Add(10 * time.Millisecond))
		for {
			conn, err := e.listener.Accept()
			if err != nil {
				break
			}
			_ = conn.Close()
		}
		_ = nb.SetDeadline(time.Time{})
	}
}

// Close closes every underlying listener. Closing is deferred to process
// exit; callers invoke Close only as part of final process teardown,
// never as part of a lifecycle transition.
func (s *Set) Close() {
	for _, e := range s.entries {
		_ = e.listener.Close()
	}
}
