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

// Package lifecycle implements LifecycleController (C8): the
// Running/Draining/Terminated state machine that drives graceful
// shutdown, using an idempotent shutdown-callback sequence so repeated
// or concurrent transitions never double-run side effects.
package lifecycle

import (
	"sync"

	"go.uber.org/zap"
)

// State is the LifecycleState enum.
type State int

const (
	Running State = iota
	Draining
	Terminated
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Acceptors is the subset of AcceptorSet's contract the controller
// drives directly.
type Acceptors interface {
	Disable()
	DrainBacklog()
}

// Workers is the subset of WorkerPool's contract the controller drives
// directly.
type Workers interface {
	GracefulShutdownAll()
	AggregateNumConnections() int
}

// StateObserver is notified on every transition, for metrics
// (internal/metrics.LifecycleState).
type StateObserver interface {
	StateChanged(State)
}

type noopObserver struct{}

func (noopObserver) StateChanged(State) {}

// Controller is the central Running/Draining/Terminated state machine.
// It is safe for concurrent use: on_graceful, on_reopen_log, WorkersIdle,
// and IPCClosed may all be called from different goroutines (the IPC
// reader, a worker-idle poller, the control loop).
type Controller struct {
	mu    sync.Mutex
	state State

	acceptors Acceptors
	workers   Workers
	log       *zap.Logger
	obs       StateObserver

	reopen func() error

	// done is closed exactly once, the moment the loop should break.
	done     chan struct{}
	doneOnce sync.Once
}

// New builds a Controller in the Running state. reopen is called on
// on_reopen_log (wired to zaplog.Reopen by internal/process).
func New(acceptors Acceptors, workers Workers, reopen func() error, log *zap.Logger, obs StateObserver) *Controller {
	if obs == nil {
		obs = noopObserver{}
	}
	return &Controller{
		state:     Running,
		acceptors: acceptors,
		workers:   workers,
		reopen:    reopen,
		log:       log,
		obs:       obs,
		done:      make(chan struct{}),
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done returns a channel that is closed the moment the event loop should
// break (the Terminated transition).
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

func (c *Controller) breakLoop() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *Controller) setState(s State) {
	c.state = s
	c.obs.StateChanged(s)
}

// OnGraceful implements ipc.Handler. From Running it transitions to
// Draining, disabling acceptors, draining the accept backlog, and
// starting a graceful worker drain. From Draining it is idempotent.
// Acceptors are never re-enabled once disabled.
func (c *Controller) OnGraceful() {
	c.mu.Lock()
	switch c.state {
	case Running:
		c.setState(Draining)
		c.mu.Unlock()

		c.acceptors.Disable()
		c.acceptors.DrainBacklog()
		c.workers.GracefulShutdownAll()

		// workers_idle is checked the moment shutdown begins, in both
		// single- and multi-worker mode; GracefulShutdownAll does not wait
		// for workers, so later checks come from WorkersIdle being polled.
		// Checking here is safe and idempotent with WorkersIdle.
		c.checkIdle()
	case Draining:
		c.mu.Unlock()
		// no-op, idempotent
	default:
		c.mu.Unlock()
	}
}

// OnReopenLog implements ipc.Handler. Valid from
// both Running and Draining; a no-op from Terminated.
func (c *Controller) OnReopenLog() {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state == Terminated {
		return
	}
	if c.reopen == nil {
		return
	}
	if err := c.reopen(); err != nil {
		c.log.Error("log reopen failed", zap.Error(err))
	}
}

// WorkersIdle is polled (internal/process does so in both single- and
// multi-worker mode) once Draining has begun; when
// AggregateNumConnections() == 0 the controller transitions to
// Terminated and breaks the loop.
func (c *Controller) WorkersIdle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkIdleLocked()
}

func (c *Controller) checkIdle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkIdleLocked()
}

func (c *Controller) checkIdleLocked() {
	if c.state != Draining {
		return
	}
	if c.workers.AggregateNumConnections() == 0 {
		c.setState(Terminated)
		c.breakLoop()
	}
}

// IPCClosed implements the ipc_closed transition from both Running and
// Draining to Terminated: it is fatal and always
// breaks the loop, without waiting for workers to drain.
func (c *Controller) IPCClosed() {
	c.mu.Lock()
	c.setState(Terminated)
	c.mu.Unlock()
	c.breakLoop()
}
