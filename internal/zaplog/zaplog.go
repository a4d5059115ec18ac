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

// Package zaplog provides the process-wide structured logger, with a
// package-level accessor and a reopen operation for log rotation.
package zaplog

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu      sync.RWMutex
	current *zap.Logger
	cfg     zap.Config
)

func init() {
	cfg = zap.NewProductionConfig()
	logger, err := cfg.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	current = logger
}

// L returns the current process-wide logger. Safe for concurrent use.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// Configure rebuilds the process logger from cfg and installs it as the
// current logger. Called once at startup from cmd/nghttpxd-worker.
func Configure(c zap.Config) error {
	logger, err := c.Build()
	if err != nil {
		return err
	}
	mu.Lock()
	cfg = c
	current = logger
	mu.Unlock()
	return nil
}

// Reopen rebuilds the logger from the last configuration, which causes
// any file-backed sinks to be reopened (e.g. after external log
// rotation). Wired to LifecycleController.on_reopen_log.
func Reopen() error {
	mu.RLock()
	c := cfg
	mu.RUnlock()
	return Configure(c)
}
