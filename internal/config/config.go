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

// Package config holds the worker process's external inputs: values
// consumed from the (out-of-scope) configuration parser, and the
// descriptors inherited from the supervising parent process.
package config

import (
	"time"

	"github.com/nghttpx-go/nghttpxd/internal/ticketkey"
)

// AbsentFD is the sentinel used uniformly for "no such descriptor" on
// both ServerFD and ServerFD6.
const AbsentFD = -1

// Config holds the subset of process-wide settings the worker core
// consumes.
type Config struct {
	NumWorker int

	UID  int
	GID  int
	User string

	UpstreamNoTLS bool
	NoOCSP        bool

	TLSTicketKeyCipher      ticketkey.Cipher
	TLSTicketKeyCipherGiven bool

	TLSTicketKeyFiles         []string
	TLSTicketKeyMemcachedHost string // non-empty selects RemoteFetcher over Rotator
	TLSSessionTimeout         time.Duration
}

// UsesRemoteKeyFetcher reports whether RemoteKeyFetcher should be used
// instead of Rotator; the two are mutually exclusive.
func (c Config) UsesRemoteKeyFetcher() bool {
	return c.TLSTicketKeyMemcachedHost != ""
}

// UsesFileKeys reports whether ticket keys should be loaded once from
// files at startup, bypassing both Rotator and RemoteFetcher.
func (c Config) UsesFileKeys() bool {
	return len(c.TLSTicketKeyFiles) > 0
}

// RetentionHours converts TLSSessionTimeout to whole hours, clamped to a
// minimum of 1: a timeout below one hour would otherwise yield a
// retention window of zero keys.
func (c Config) RetentionHours() int {
	h := int(c.TLSSessionTimeout / time.Hour)
	if h < 1 {
		h = 1
	}
	return h
}

// WorkerProcessConfig holds the descriptors inherited from the
// supervising parent.
type WorkerProcessConfig struct {
	// ServerFD is the inherited IPv4 listening socket, or AbsentFD.
	ServerFD int
	// ServerFD6 is the inherited IPv6 listening socket, or AbsentFD.
	ServerFD6 int
	// IPCFD is the byte-stream IPC channel; the parent holds the write
	// end.
	IPCFD int
}
