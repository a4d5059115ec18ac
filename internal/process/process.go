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

// Package process implements WorkerProcess (C9): the top-level
// orchestrator that constructs every other component, drops privileges,
// runs the event loop, and joins workers on exit. Its signal
// disposition is inverted from a typical top-level process: the
// parent's lifecycle signals are ignored inside the worker, which only
// learns of them through the IPC channel.
package process

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nghttpx-go/nghttpxd/internal/acceptor"
	"github.com/nghttpx-go/nghttpxd/internal/config"
	"github.com/nghttpx-go/nghttpxd/internal/ipc"
	"github.com/nghttpx-go/nghttpxd/internal/lifecycle"
	"github.com/nghttpx-go/nghttpxd/internal/metrics"
	"github.com/nghttpx-go/nghttpxd/internal/privilege"
	"github.com/nghttpx-go/nghttpxd/internal/ticketkey"
	"github.com/nghttpx-go/nghttpxd/internal/workerpool"
)

// idlePollInterval is how often single-worker mode polls
// aggregate_num_connections() while draining.
const idlePollInterval = 50 * time.Millisecond

// handoffQueueSize bounds each worker's inbound hand-off channel.
const handoffQueueSize = 256

// remoteFetchInterval is the default cadence for RemoteKeyFetcher polls.
// The cadence itself is left to the deployment and has no dedicated
// config field, so a conservative fixed default is used here.
const remoteFetchInterval = 10 * time.Second

// SetupError marks a fatal error during process construction (socket
// bind/inherit, privilege drop, log open). The caller
// (cmd/nghttpxd-worker) should exit non-zero on SetupError.
type SetupError struct {
	Step string
	Err  error
}

func (e *SetupError) Error() string { return fmt.Sprintf("setup: %s: %v", e.Step, e.Err) }
func (e *SetupError) Unwrap() error { return e.Err }

// Process is WorkerProcess (C9).
type Process struct {
	cfg   config.Config
	wpcfg config.WorkerProcessConfig
	log   *zap.Logger

	acceptors *acceptor.Set
	pool      *workerpool.Pool
	ipcCh     *ipc.Channel
	lc        *lifecycle.Controller

	rotator *ticketkey.Rotator
	fetcher *ticketkey.RemoteFetcher

	stopIPC chan struct{}
}

// Dispatcher is re-exported so callers wiring RemoteKeyFetcher don't need
// to import internal/ticketkey directly.
type Dispatcher = ticketkey.Dispatcher

// New wires every component together (acceptors to workers, IPC to the
// lifecycle controller, the ticket-key rotator or fetcher to the worker
// pool) but does not yet bind sockets, drop privileges, or start
// goroutines; call Run for that.
//
// handler processes accepted connections; per-connection HTTP/2 framing
// is a collaborator, not part of this core. dispatcher is only required
// when cfg.UsesRemoteKeyFetcher(); it may be nil otherwise.
func New(cfg config.Config, wpcfg config.WorkerProcessConfig, handler workerpool.ConnHandler, dispatcher Dispatcher, log *zap.Logger) (*Process, error) {
	p := &Process{cfg: cfg, wpcfg: wpcfg, log: log, stopIPC: make(chan struct{})}

	p.pool = workerpool.New(cfg.NumWorker, handoffQueueSize, handler, log)

	switch {
	case cfg.UsesFileKeys():
		set, err := ticketkey.LoadFromFiles(cfg.TLSTicketKeyFiles, cfg.TLSTicketKeyCipher)
		if err != nil {
			return nil, &SetupError{Step: "load ticket key files", Err: err}
		}
		p.pool.PublishTicketKeys(set)

	case cfg.UsesRemoteKeyFetcher():
		if dispatcher == nil {
			return nil, &SetupError{Step: "remote ticket key fetcher", Err: fmt.Errorf("memcached host configured but no dispatcher supplied")}
		}
		p.fetcher = ticketkey.NewRemoteFetcher(dispatcher, p.pool, remoteFetchInterval, log.With(zap.String("component", "ticketkey-fetch")), metrics.FetchRecorder{})

	default:
		gen, err := ticketkey.NewGenerator(cfg.TLSTicketKeyCipher)
		if err != nil {
			return nil, &SetupError{Step: "ticket key generator", Err: err}
		}
		p.rotator = ticketkey.NewRotator(gen, p.pool, cfg.RetentionHours(), log.With(zap.String("component", "ticketkey-rotate")), metrics.RotationRecorder{})
	}

	return p, nil
}

// bindAcceptors adopts the inherited fds named in wpcfg.
func (p *Process) bindAcceptors(handoff chan acceptor.Handoff) error {
	var handles []*acceptor.Handle

	if p.wpcfg.ServerFD != config.AbsentFD {
		h, err := acceptor.FromFD(p.wpcfg.ServerFD, "v4")
		if err != nil {
			return &SetupError{Step: "bind ipv4 acceptor", Err: err}
		}
		handles = append(handles, h)
	}
	if p.wpcfg.ServerFD6 != config.AbsentFD {
		h, err := acceptor.FromFD(p.wpcfg.ServerFD6, "v6")
		if err != nil {
			return &SetupError{Step: "bind ipv6 acceptor", Err: err}
		}
		handles = append(handles, h)
	}

	p.acceptors = acceptor.New(p.log.With(zap.String("component", "acceptor")), handoff, handles...)
	return nil
}

// Run executes the full worker-process lifecycle: bind acceptors, drop
// privileges, arm the IPC reader, start the event loop, and block until
// LifecycleController reaches Terminated. It returns the exit code to
// use (0 on clean termination).
func (p *Process) Run(ctx context.Context) (exitCode int, err error) {
	handoff := make(chan acceptor.Handoff, handoffQueueSize)
	if err := p.bindAcceptors(handoff); err != nil {
		return 1, err
	}

	// Privileges are dropped after socket bind/inherit and ticket-key
	// file reads, and before the IPC reader is armed.
	if err := privilege.Drop(p.cfg.User, p.cfg.UID, p.cfg.GID); err != nil {
		return 1, &SetupError{Step: "drop privileges", Err: err}
	}

	// The lifecycle signals the parent uses are ignored inside the
	// worker, so a broadcast kill signal doesn't race the IPC channel.
	// The worker learns of these events only via IPC.
	signal.Ignore(syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1)

	reopen := zaplogReopen
	p.lc = lifecycle.New(p.acceptors, p.pool, reopen, p.log, stateMetricsObserver{})

	p.ipcCh = ipc.New(p.wpcfg.IPCFD, p.lc, p.log.With(zap.String("component", "ipc")), commandMetricsObserver{})

	metrics.AcceptorsEnabled.Set(1)
	p.pool.Run()
	p.acceptors.Run()

	go p.dispatchLoop(handoff)
	go p.runKeyMaterial(ctx)
	go p.runIdlePoller()

	// The IPC reader blocks on a read syscall, which the stop channel
	// cannot interrupt; it is run in its own goroutine and unblocked by
	// closing the descriptor once the control loop is ready to exit.
	go func() {
		if err := p.ipcCh.Run(p.stopIPC); err != nil {
			p.lc.IPCClosed()
		}
	}()

	<-p.lc.Done()

	close(p.stopIPC)
	_ = p.ipcCh.Close()
	if err := p.pool.JoinAll(); err != nil {
		p.log.Error("worker pool join failed", zap.Error(err))
	}
	p.acceptors.Close()

	return 0, nil
}

func (p *Process) dispatchLoop(handoff <-chan acceptor.Handoff) {
	for h := range handoff {
		p.pool.Dispatch(h)
	}
}

func (p *Process) runKeyMaterial(ctx context.Context) {
	switch {
	case p.rotator != nil:
		p.rotator.Run(ctx)
	case p.fetcher != nil:
		p.fetcher.Run(ctx)
	}
}

// runIdlePoller drives the workers_idle check: while Draining, poll
// AggregateNumConnections() until it reaches zero. It is harmless to run
// even in multi-worker mode, since WorkersIdle is a no-op outside
// Draining.
func (p *Process) runIdlePoller() {
	ticker := time.NewTicker(idlePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.lc.Done():
			return
		case <-ticker.C:
			p.lc.WorkersIdle()
		}
	}
}

type stateMetricsObserver struct{}

func (stateMetricsObserver) StateChanged(s lifecycle.State) {
	metrics.LifecycleState.Set(float64(s))
	if s != lifecycle.Running {
		metrics.AcceptorsEnabled.Set(0)
	}
}

type commandMetricsObserver struct{}

func (commandMetricsObserver) CommandReceived(op ipc.Opcode, recognized bool) {
	metrics.IPCCommands.WithLabelValues(op.String()).Inc()
}

// zaplogReopen is a function-valued seam so internal/process does not
// import internal/zaplog directly at package scope (avoiding an import
// cycle risk if zaplog ever needs process-level types); cmd/nghttpxd-worker
// overrides this via SetLogReopen before calling New/Run in production.
var zaplogReopen = func() error { return nil }

// SetLogReopen installs the function called on C8's on_reopen_log
// transition, normally zaplog.Reopen.
func SetLogReopen(f func() error) {
	zaplogReopen = f
}
