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

package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAcceptors struct {
	disabled int
	drained  int
}

func (f *fakeAcceptors) Disable()     { f.disabled++ }
func (f *fakeAcceptors) DrainBacklog() { f.drained++ }

type fakeWorkers struct {
	shutdownCalls int
	conns         int
}

func (f *fakeWorkers) GracefulShutdownAll()     { f.shutdownCalls++ }
func (f *fakeWorkers) AggregateNumConnections() int { return f.conns }

// TestQuietShutdownBreaksImmediately covers the case of a single worker
// with no connections: feeding a graceful shutdown should break the loop
// right away.
func TestQuietShutdownBreaksImmediately(t *testing.T) {
	a := &fakeAcceptors{}
	w := &fakeWorkers{conns: 0}
	c := New(a, w, nil, zap.NewNop(), nil)

	c.OnGraceful()

	require.Equal(t, 1, a.disabled)
	require.Equal(t, 1, a.drained)
	require.Equal(t, 1, w.shutdownCalls)
	require.Equal(t, Terminated, c.State())

	select {
	case <-c.Done():
	default:
		t.Fatal("loop should have broken")
	}
}

// TestPendingConnectionDelaysShutdown covers the case of an active
// connection: the loop must not break until the connection count
// reaches zero.
func TestPendingConnectionDelaysShutdown(t *testing.T) {
	a := &fakeAcceptors{}
	w := &fakeWorkers{conns: 1}
	c := New(a, w, nil, zap.NewNop(), nil)

	c.OnGraceful()

	require.Equal(t, Draining, c.State())
	select {
	case <-c.Done():
		t.Fatal("loop must not break while a connection is active")
	default:
	}

	w.conns = 0
	c.WorkersIdle()

	require.Equal(t, Terminated, c.State())
	select {
	case <-c.Done():
	default:
		t.Fatal("loop should break once idle")
	}
}

func TestOnGracefulIsIdempotentWhileDraining(t *testing.T) {
	a := &fakeAcceptors{}
	w := &fakeWorkers{conns: 1}
	c := New(a, w, nil, zap.NewNop(), nil)

	c.OnGraceful()
	c.OnGraceful()
	c.OnGraceful()

	require.Equal(t, 1, a.disabled, "acceptors must only be disabled once")
	require.Equal(t, 1, w.shutdownCalls, "workers must only be told to drain once")
}

// TestAcceptorsNeverReEnabled checks that after on_graceful, nothing in
// this package re-enables acceptors (there is no Enable method at all).
func TestAcceptorsNeverReEnabled(t *testing.T) {
	a := &fakeAcceptors{}
	w := &fakeWorkers{conns: 0}
	c := New(a, w, nil, zap.NewNop(), nil)

	c.OnGraceful()
	c.OnReopenLog() // should not resurrect Running or touch acceptors
	c.WorkersIdle()

	require.Equal(t, 1, a.disabled)
	require.Equal(t, Terminated, c.State())
}

// TestIPCClosedIsUnconditionallyFatal covers the IPC-closed case: it is
// fatal and breaks the loop unconditionally, even with active
// connections.
func TestIPCClosedIsUnconditionallyFatal(t *testing.T) {
	a := &fakeAcceptors{}
	w := &fakeWorkers{conns: 5}
	c := New(a, w, nil, zap.NewNop(), nil)

	c.IPCClosed()

	require.Equal(t, Terminated, c.State())
	select {
	case <-c.Done():
	default:
		t.Fatal("ipc_closed must always break the loop")
	}
}

func TestOnReopenLogCallsReopenFunc(t *testing.T) {
	a := &fakeAcceptors{}
	w := &fakeWorkers{conns: 1}
	calls := 0
	c := New(a, w, func() error { calls++; return nil }, zap.NewNop(), nil)

	c.OnReopenLog()
	require.Equal(t, 1, calls)

	c.OnGraceful() // -> Draining (conns=1 keeps the controller from terminating)
	require.Equal(t, Draining, c.State())
	c.OnReopenLog()
	require.Equal(t, 2, calls)
}

func TestReopenLogNoopAfterTerminated(t *testing.T) {
	a := &fakeAcceptors{}
	w := &fakeWorkers{conns: 0}
	calls := 0
	c := New(a, w, func() error { calls++; return nil }, zap.NewNop(), nil)

	c.IPCClosed()
	c.OnReopenLog()

	require.Equal(t, 0, calls)
}

func TestDoneChannelClosesOnlyOnce(t *testing.T) {
	a := &fakeAcceptors{}
	w := &fakeWorkers{conns: 0}
	c := New(a, w, nil, zap.NewNop(), nil)

	done := make(chan struct{})
	go func() {
		c.IPCClosed()
		c.IPCClosed()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("concurrent IPCClosed calls should not deadlock or panic")
	}
}
