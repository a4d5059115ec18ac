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

package acceptor

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func listenLoopback(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return ln
}

func TestAcceptorHandsOffConnections(t *testing.T) {
	ln := listenLoopback(t)
	defer ln.Close()

	out := make(chan Handoff, 4)
	set := New(zap.NewNop(), out, &Handle{Family: "v4", Listener: ln})
	set.Run()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	select {
	case h := <-out:
		require.Equal(t, "v4", h.Family)
		h.Conn.Close()
	case <-time.After(time.Second):
		t.Fatal("expected a hand-off")
	}
}

// TestDisableStopsFurtherHandoffsWithoutClosingSocket checks that
// disable() stops hand-offs (new connections are closed, not handed off)
// without closing the underlying listener.
func TestDisableStopsFurtherHandoffsWithoutClosingSocket(t *testing.T) {
	ln := listenLoopback(t)
	defer ln.Close()

	out := make(chan Handoff, 4)
	set := New(zap.NewNop(), out, &Handle{Family: "v4", Listener: ln})
	set.Run()
	set.Disable()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err, "the listening socket itself must remain open")
	defer conn.Close()

	select {
	case <-out:
		t.Fatal("a disabled acceptor must not hand off new connections")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDrainBacklogAcceptsPendingThenStops(t *testing.T) {
	ln := listenLoopback(t)
	defer ln.Close()

	out := make(chan Handoff, 4)
	set := New(zap.NewNop(), out, &Handle{Family: "v4", Listener: ln})
	set.Disable()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	// give the kernel a moment to queue the pending connection before
	// draining, since set.Run was never called (acceptor loop not
	// competing for Accept()).
	time.Sleep(20 * time.Millisecond)
	set.DrainBacklog()

	select {
	case <-out:
		t.Fatal("drained connections must not be handed off")
	default:
	}
}
