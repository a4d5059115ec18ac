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

// Package workerpool implements WorkerPool (C6): either one in-process
// worker or N worker goroutines, each owning connections handed off by
// AcceptorSet, publishing ticket-key snapshots, and draining gracefully
// on shutdown, using a cancellable context and errgroup to track the
// lifetime of each worker's goroutines.
package workerpool

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nghttpx-go/nghttpxd/internal/acceptor"
	"github.com/nghttpx-go/nghttpxd/internal/ticketkey"
)

// ConnHandler processes one accepted connection under the given
// ticket-key snapshot. Per-connection HTTP/2 framing and routing are out
// of scope for this core; ConnHandler is the seam a full proxy would
// plug real stream handling into. HandleConn need not return quickly:
// each connection is handled in its own goroutine, so a slow handler
// does not block the dispatch loop.
type ConnHandler interface {
	HandleConn(ctx context.Context, conn net.Conn, keys *ticketkey.Set)
}

// ConnHandlerFunc adapts a function to ConnHandler.
type ConnHandlerFunc func(ctx context.Context, conn net.Conn, keys *ticketkey.Set)

// HandleConn implements ConnHandler.
func (f ConnHandlerFunc) HandleConn(ctx context.Context, conn net.Conn, keys *ticketkey.Set) {
	f(ctx, conn, keys)
}

// worker owns a subset of connections and its own hand-off queue: a
// unit running an independent event loop, whether the sole in-process
// worker or one of N goroutines.
type worker struct {
	id      int
	in      chan acceptor.Handoff
	keys    atomic.Pointer[ticketkey.Set]
	conns   int64 // accessed atomically; active connection count
	wg      sync.WaitGroup
	handler ConnHandler
	log     *zap.Logger
}

func (w *worker) run(ctx context.Context) error {
	for h := range w.in {
		w.wg.Add(1)
		atomic.AddInt64(&w.conns, 1)
		conn := h.Conn
		go func() {
			defer w.wg.Done()
			defer atomic.AddInt64(&w.conns, -1)
			w.handler.HandleConn(ctx, conn, w.keys.Load())
		}()
	}
	w.wg.Wait()
	return nil
}

func (w *worker) numConnections() int64 {
	return atomic.LoadInt64(&w.conns)
}

// Pool is WorkerPool (C6). NumWorker==1 is "single-worker" mode (the
// channel buffer and goroutine count collapse to one, but the API is
// identical); NumWorker>1 is "multi-worker" mode.
type Pool struct {
	log     *zap.Logger
	workers []*worker

	group  *errgroup.Group
	gctx   context.Context
	cancel context.CancelFunc

	// mu guards draining and the close of each worker's inbound channel
	// against a concurrent Dispatch: Dispatch holds a read lock across
	// its check-and-send so GracefulShutdownAll (write lock) can never
	// close a channel while a send to it is in flight.
	mu       sync.RWMutex
	draining bool
}

// New builds a Pool of numWorker workers, each processing hand-offs with
// handler. handoffQueueSize bounds each worker's inbound channel.
func New(numWorker int, handoffQueueSize int, handler ConnHandler, log *zap.Logger) *Pool {
	if numWorker < 1 {
		numWorker = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)

	p := &Pool{log: log, group: group, gctx: gctx, cancel: cancel}
	for i := 0; i < numWorker; i++ {
		w := &worker{
			id:      i,
			in:      make(chan acceptor.Handoff, handoffQueueSize),
			handler: handler,
			log:     log.With(zap.Int("worker", i)),
		}
		p.workers = append(p.workers, w)
	}
	return p
}

// Run starts every worker's event loop; it returns immediately.
func (p *Pool) Run() {
	for _, w := range p.workers {
		w := w
		p.group.Go(func() error {
			return w.run(p.gctx)
		})
	}
}

// Dispatch hands a connection off to a worker using a simple
// round-robin policy. New hand-offs are refused once
// GracefulShutdownAll has been called, since acceptors are disabled at
// the same transition and this guards against a hand-off racing the
// transition. The read lock held across the check-and-send excludes
// GracefulShutdownAll's channel close for the duration, so Dispatch
// never sends on a channel GracefulShutdownAll is in the middle of
// closing.
func (p *Pool) Dispatch(h acceptor.Handoff) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.draining {
		_ = h.Conn.Close()
		return
	}
	idx := nextWorkerIndex(len(p.workers))
	p.workers[idx].in <- h
}

// dispatchCounter backs a simple round-robin hand-off policy.
var dispatchCounter uint64

func nextWorkerIndex(n int) int {
	v := atomic.AddUint64(&dispatchCounter, 1)
	return int(v % uint64(n))
}

// PublishTicketKeys implements ticketkey.Publisher: atomically swaps
// every worker's ticket-key reference. The next TLS handshake on each
// worker observes the new set; no handshake observes a partially
// constructed set, since the swap is a single atomic pointer store.
func (p *Pool) PublishTicketKeys(set *ticketkey.Set) {
	for _, w := range p.workers {
		w.keys.Store(set)
	}
}

// GracefulShutdownAll implements lifecycle.Workers: marks the pool as
// draining (refusing further Dispatch calls) and closes every worker's
// inbound channel so each worker's run loop returns once its in-flight
// connections finish: no new connection reaches a worker, and each
// worker exits when idle. Connections already being handled are not
// notified of the drain; their ctx is not cancelled. Held under the same write
// lock as draining itself, so the close can never race a Dispatch that
// is mid-send.
func (p *Pool) GracefulShutdownAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.draining = true
	for _, w := range p.workers {
		close(w.in)
	}
}

// JoinAll blocks until every worker goroutine has returned.
func (p *Pool) JoinAll() error {
	return p.group.Wait()
}

// AggregateNumConnections implements lifecycle.Workers: sums connection
// counts across all workers; single-worker mode degenerates to querying
// the one worker.
func (p *Pool) AggregateNumConnections() int {
	var total int64
	for _, w := range p.workers {
		total += w.numConnections()
	}
	return int(total)
}

// Shutdown cancels the pool's context, used only as a last-resort
// teardown if JoinAll does not return promptly; normal shutdown flows
// entirely through GracefulShutdownAll + JoinAll.
func (p *Pool) Shutdown() {
	p.cancel()
}
