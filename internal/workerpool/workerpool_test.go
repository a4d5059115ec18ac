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

package workerpool

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nghttpx-go/nghttpxd/internal/acceptor"
	"github.com/nghttpx-go/nghttpxd/internal/ticketkey"
)

// blockingHandler holds connections open until release is closed, so
// tests can observe AggregateNumConnections() transitioning to zero.
type blockingHandler struct {
	mu      sync.Mutex
	release map[net.Conn]chan struct{}
}

func newBlockingHandler() *blockingHandler {
	return &blockingHandler{release: map[net.Conn]chan struct{}{}}
}

func (b *blockingHandler) HandleConn(ctx context.Context, conn net.Conn, keys *ticketkey.Set) {
	ch := make(chan struct{})
	b.mu.Lock()
	b.release[conn] = ch
	b.mu.Unlock()
	<-ch
	_ = conn.Close()
}

func (b *blockingHandler) releaseAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.release {
		close(ch)
	}
}

func TestPoolAggregateNumConnections(t *testing.T) {
	h := newBlockingHandler()
	p := New(2, 4, h, zap.NewNop())
	p.Run()

	c1, s1 := net.Pipe()
	defer s1.Close()
	c2, s2 := net.Pipe()
	defer s2.Close()
	_ = c1
	_ = c2

	p.Dispatch(acceptor.Handoff{Conn: s1})
	p.Dispatch(acceptor.Handoff{Conn: s2})

	require.Eventually(t, func() bool {
		return p.AggregateNumConnections() == 2
	}, time.Second, time.Millisecond)

	h.releaseAll()

	require.Eventually(t, func() bool {
		return p.AggregateNumConnections() == 0
	}, time.Second, time.Millisecond)
}

func TestPoolPublishTicketKeysReachesAllWorkers(t *testing.T) {
	h := newBlockingHandler()
	p := New(3, 4, h, zap.NewNop())
	p.Run()

	gen, err := ticketkey.NewGenerator(ticketkey.AES128CBC)
	require.NoError(t, err)
	key, err := gen.Generate()
	require.NoError(t, err)
	set, err := ticketkey.NewSet([]ticketkey.TicketKey{key})
	require.NoError(t, err)

	p.PublishTicketKeys(set)

	for _, w := range p.workers {
		require.Equal(t, set, w.keys.Load())
	}
}

// TestPoolGracefulShutdownWaitsForIdle exercises the "finish in-flight,
// refuse new" semantics.
func TestPoolGracefulShutdownWaitsForIdle(t *testing.T) {
	h := newBlockingHandler()
	p := New(1, 4, h, zap.NewNop())
	p.Run()

	_, s1 := net.Pipe()
	p.Dispatch(acceptor.Handoff{Conn: s1})

	require.Eventually(t, func() bool {
		return p.AggregateNumConnections() == 1
	}, time.Second, time.Millisecond)

	p.GracefulShutdownAll()

	// a connection dispatched after shutdown should be refused (closed
	// immediately), not queued.
	_, s2 := net.Pipe()
	p.Dispatch(acceptor.Handoff{Conn: s2})
	_, err := s2.Write([]byte("x"))
	require.Error(t, err, "refused connection should already be closed")

	h.releaseAll()
	require.NoError(t, p.JoinAll())
	require.Equal(t, 0, p.AggregateNumConnections())
}

// TestDispatchDuringShutdownNeverSendsOnClosedChannel races Dispatch
// against GracefulShutdownAll to exercise the lock that keeps a
// check-and-send in Dispatch from straddling the channel close: run
// with -race, a send on a closed channel panics the goroutine instead
// of being reported as a data race, so this guards the panic directly.
func TestDispatchDuringShutdownNeverSendsOnClosedChannel(t *testing.T) {
	h := newBlockingHandler()
	p := New(4, 1, h, zap.NewNop())
	p.Run()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		_, s := net.Pipe()
		wg.Add(1)
		go func(conn net.Conn) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("Dispatch panicked: %v", r)
				}
			}()
			p.Dispatch(acceptor.Handoff{Conn: conn})
		}(s)
	}

	p.GracefulShutdownAll()
	wg.Wait()

	h.releaseAll()
	require.NoError(t, p.JoinAll())
}
