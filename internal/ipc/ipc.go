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

// Package ipc implements IpcChannel (C7): reading byte-code lifecycle
// commands off a parent-supplied descriptor and translating each byte to
// an event, using a dedicated reader goroutine the same way a
// signal-handling goroutine would, adapted to a raw byte-stream
// descriptor instead of OS signals.
package ipc

import (
	"errors"
	"io"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Opcode is a single IPC command byte. The numeric values
// are implementation-defined but must stay stable across parent and
// worker.
type Opcode byte

const (
	// GracefulShutdown requests C8.on_graceful().
	GracefulShutdown Opcode = 0x01
	// ReopenLog requests C8.on_reopen_log().
	ReopenLog Opcode = 0x02
)

func (o Opcode) String() string {
	switch o {
	case GracefulShutdown:
		return "graceful_shutdown"
	case ReopenLog:
		return "reopen_log"
	default:
		return "unknown"
	}
}

// readBufSize is the maximum number of bytes read per readiness wake-up.
const readBufSize = 1024

// ErrClosed indicates the parent closed its end of the IPC channel
// (read == 0), which is fatal for the worker process.
var ErrClosed = errors.New("ipc: channel closed by parent")

// Handler receives recognized IPC events. LifecycleController implements
// this.
type Handler interface {
	OnGraceful()
	OnReopenLog()
}

// CommandObserver is notified of every opcode byte read, recognized or
// not, for metrics (internal/metrics.IPCCommands).
type CommandObserver interface {
	CommandReceived(opcode Opcode, recognized bool)
}

type noopObserver struct{}

func (noopObserver) CommandReceived(Opcode, bool) {}

// Channel owns a read descriptor inherited from the parent and drives a
// Handler from it.
type Channel struct {
	fd      int
	file    *os.File
	handler Handler
	log     *zap.Logger
	obs     CommandObserver
}

// New wraps fd (inherited from the parent as the IPC descriptor) as a
// Channel that will drive handler.
func New(fd int, handler Handler, log *zap.Logger, obs CommandObserver) *Channel {
	if obs == nil {
		obs = noopObserver{}
	}
	return &Channel{
		fd:      fd,
		file:    os.NewFile(uintptr(fd), "nghttpxd-ipc"),
		handler: handler,
		log:     log,
		obs:     obs,
	}
}

// Run reads from the IPC descriptor until it is closed or stop is
// closed. Each byte read is interpreted as an independent command and
// dispatched to Channel's Handler in receive order: IPC bytes are
// consumed strictly in the order the parent sent them.
//
// read == 0 is fatal: it returns ErrClosed immediately. Notifying the
// handler is not appropriate here, since closing is a loop-exit signal,
// not a lifecycle event by itself. Callers observe ErrClosed and drive
// LifecycleController's ipc_closed transition themselves, keeping this
// package ignorant of LifecycleState.
//
// EINTR is retried transparently; any other read error is logged and
// Run continues reading the next byte.
func (c *Channel) Run(stop <-chan struct{}) error {
	buf := make([]byte, readBufSize)
	for {
		select {
		case <-stop:
			return nil
		default:
		}

		n, err := c.file.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return ErrClosed
			}
			if errors.Is(err, unix.EINTR) {
				continue
			}
			c.log.Warn("ipc read error", zap.Error(err))
			continue
		}
		if n == 0 {
			return ErrClosed
		}

		c.dispatch(buf[:n])
	}
}

func (c *Channel) dispatch(b []byte) {
	for _, raw := range b {
		op := Opcode(raw)
		id := uuid.NewString()
		switch op {
		case GracefulShutdown:
			c.log.Info("ipc command received", zap.String("opcode", op.String()), zap.String("correlation_id", id))
			c.obs.CommandReceived(op, true)
			c.handler.OnGraceful()
		case ReopenLog:
			c.log.Info("ipc command received", zap.String("opcode", op.String()), zap.String("correlation_id", id))
			c.obs.CommandReceived(op, true)
			c.handler.OnReopenLog()
		default:
			c.log.Debug("ipc command ignored", zap.Uint8("opcode", byte(op)), zap.String("correlation_id", id))
			c.obs.CommandReceived(op, false)
		}
	}
}

// Close closes the underlying descriptor.
func (c *Channel) Close() error {
	return c.file.Close()
}
