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

package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/nghttpx-go/nghttpxd/internal/ticketkey"
)

// stubConnHandler stands in for the real HTTP/2 framing and stream
// routing a full reverse proxy would perform per connection; that layer
// is an out-of-scope collaborator. It only demonstrates that the worker
// pool correctly arms each connection with the then-current ticket-key
// snapshot before closing it.
type stubConnHandler struct {
	log *zap.Logger
}

func (h stubConnHandler) HandleConn(ctx context.Context, conn net.Conn, keys *ticketkey.Set) {
	defer conn.Close()
	if keys != nil && keys.Len() > 0 {
		h.log.Debug("connection armed with ticket key snapshot",
			zap.String("remote", conn.RemoteAddr().String()),
			zap.Int("ticket_key_set_size", keys.Len()))
	}
	// Real handling would hand conn off to an HTTP/2 server loop here.
}

// memcachedDispatcher issues a minimal text-protocol "get" against a
// memcached-compatible host and returns the raw value bytes. It is a
// thin illustrative stand-in wired only from cmd; internal/ticketkey
// never speaks this protocol itself.
type memcachedDispatcher struct {
	addr string
}

func newMemcachedDispatcher(addr string) (*memcachedDispatcher, error) {
	if addr == "" {
		return nil, fmt.Errorf("memcached host must not be empty")
	}
	return &memcachedDispatcher{addr: addr}, nil
}

func (d *memcachedDispatcher) Get(ctx context.Context, key string) ([]byte, error) {
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", d.addr)
	if err != nil {
		return nil, fmt.Errorf("dial memcached %s: %w", d.addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	}

	if _, err := fmt.Fprintf(conn, "get %s\r\n", key); err != nil {
		return nil, fmt.Errorf("memcached get %s: %w", key, err)
	}

	r := bufio.NewReader(conn)
	header, err := r.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("memcached response: %w", err)
	}
	if bytes.HasPrefix([]byte(header), []byte("END")) {
		return nil, fmt.Errorf("memcached: key %q not found", key)
	}

	var flags, length int
	var gotKey string
	if _, err := fmt.Sscanf(header, "VALUE %s %d %d", &gotKey, &flags, &length); err != nil {
		return nil, fmt.Errorf("memcached: malformed VALUE line %q: %w", header, err)
	}

	value := make([]byte, length)
	if _, err := io.ReadFull(r, value); err != nil {
		return nil, fmt.Errorf("memcached: reading value: %w", err)
	}
	// consume trailing \r\n and the END\r\n terminator
	_, _ = r.ReadString('\n')
	_, _ = r.ReadString('\n')

	return value, nil
}
