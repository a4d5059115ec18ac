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

// Command nghttpxd-worker is the entry point of one worker process
// forked by the (out-of-scope) supervising parent. Most of the worker's
// functionality is provided by internal/process; this file only parses
// the inherited descriptors and config passed by the parent and hands
// off to it, keeping the command itself a thin wrapper.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"

	"github.com/nghttpx-go/nghttpxd/internal/config"
	"github.com/nghttpx-go/nghttpxd/internal/process"
	"github.com/nghttpx-go/nghttpxd/internal/ticketkey"
	"github.com/nghttpx-go/nghttpxd/internal/zaplog"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		serverFD       = flag.Int("server-fd", config.AbsentFD, "inherited IPv4 listening socket, or -1 if absent")
		serverFD6      = flag.Int("server-fd6", config.AbsentFD, "inherited IPv6 listening socket, or -1 if absent")
		ipcFD          = flag.Int("ipc-fd", -1, "inherited IPC descriptor (required)")
		numWorker      = flag.Int("num-worker", 1, "number of worker goroutines")
		uid            = flag.Int("uid", 0, "uid to drop privileges to (0 = do not drop)")
		gid            = flag.Int("gid", 0, "gid to drop privileges to")
		user           = flag.String("user", "", "user name to drop privileges to")
		cipherFlag     = flag.String("ticket-key-cipher", "aes-128-cbc", "aes-128-cbc or aes-256-cbc")
		sessionTimeout = flag.Duration("tls-session-timeout", time.Hour, "TLS session resumption window")
		memcachedHost  = flag.String("ticket-key-memcached-host", "", "remote ticket-key cache host; selects RemoteKeyFetcher")
		jsonLogs       = flag.Bool("json-logs", true, "emit structured JSON logs instead of console format")
	)
	flag.Parse()

	logCfg := zap.NewProductionConfig()
	if !*jsonLogs {
		logCfg = zap.NewDevelopmentConfig()
	}
	if err := zaplog.Configure(logCfg); err != nil {
		fmt.Fprintf(os.Stderr, "nghttpxd-worker: log setup failed: %v\n", err)
		return 1
	}
	process.SetLogReopen(zaplog.Reopen)
	log := zaplog.L()
	defer log.Sync() //nolint:errcheck

	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
		log.Sugar().Debugf(format, args...)
	})); err != nil {
		log.Warn("automaxprocs: failed to set GOMAXPROCS", zap.Error(err))
	}

	if *ipcFD < 0 {
		log.Error("ipc-fd is required")
		return 1
	}

	cipher, err := parseCipher(*cipherFlag)
	if err != nil {
		log.Error("invalid ticket key cipher", zap.Error(err))
		return 1
	}

	cfg := config.Config{
		NumWorker:                 *numWorker,
		UID:                       *uid,
		GID:                       *gid,
		User:                      *user,
		TLSTicketKeyCipher:        cipher,
		TLSTicketKeyCipherGiven:   true,
		TLSTicketKeyFiles:         flag.Args(),
		TLSTicketKeyMemcachedHost: *memcachedHost,
		TLSSessionTimeout:         *sessionTimeout,
	}
	wpcfg := config.WorkerProcessConfig{
		ServerFD:  *serverFD,
		ServerFD6: *serverFD6,
		IPCFD:     *ipcFD,
	}

	// Per-connection HTTP/2 framing and routing are out of scope for this
	// core; stubConnHandler stands in for the real proxy logic a full
	// build would plug in here.
	handler := stubConnHandler{log: log}

	var dispatcher process.Dispatcher
	if cfg.UsesRemoteKeyFetcher() {
		d, err := newMemcachedDispatcher(*memcachedHost)
		if err != nil {
			log.Error("remote ticket key dispatcher setup failed", zap.Error(err))
			return 1
		}
		dispatcher = d
	}

	proc, err := process.New(cfg, wpcfg, handler, dispatcher, log)
	if err != nil {
		log.Error("worker process setup failed", zap.Error(err))
		return 1
	}

	exitCode, err := proc.Run(context.Background())
	if err != nil {
		log.Error("worker process exited with error", zap.Error(err))
	}
	return exitCode
}

func parseCipher(s string) (ticketkey.Cipher, error) {
	switch s {
	case "aes-128-cbc":
		return ticketkey.AES128CBC, nil
	case "aes-256-cbc":
		return ticketkey.AES256CBC, nil
	default:
		return 0, fmt.Errorf("unrecognized cipher %q", s)
	}
}
