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

package ticketkey

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RotationInterval is how often the Rotator produces a new key set.
const RotationInterval = time.Hour

// Publisher receives newly rotated or fetched ticket-key sets. WorkerPool
// implements this to fan new sets out to every worker.
type Publisher interface {
	PublishTicketKeys(*Set)
}

// RotationObserver is notified of rotation outcomes; used to drive
// internal/metrics without ticketkey importing it directly.
type RotationObserver interface {
	RotationSucceeded(size int)
	RotationFailed()
}

// noopObserver discards all events.
type noopObserver struct{}

func (noopObserver) RotationSucceeded(int) {}
func (noopObserver) RotationFailed()       {}

// Rotator periodically produces a new Set by generating a fresh head key
// and shifting the previous set's keys back by one position, capping
// retention at H = max(1, tlsSessionTimeout rounded down to whole hours).
// It is mutually exclusive with RemoteFetcher.
type Rotator struct {
	gen       *Generator
	pub       Publisher
	obs       RotationObserver
	log       *zap.Logger
	retention int // H, in whole hours, clamped to >= 1

	mu      sync.Mutex
	current *Set
}

// NewRotator builds a Rotator that retains at most retentionHours keys
// (clamped to a minimum of 1).
func NewRotator(gen *Generator, pub Publisher, retentionHours int, log *zap.Logger, obs RotationObserver) *Rotator {
	if retentionHours < 1 {
		retentionHours = 1
	}
	if obs == nil {
		obs = noopObserver{}
	}
	return &Rotator{gen: gen, pub: pub, obs: obs, log: log, retention: retentionHours}
}

// Current returns the most recently published set, or nil if none has
// been published yet (e.g. every rotation so far failed).
func (r *Rotator) Current() *Set {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Tick performs one rotation: generate a fresh head key, shift the
// previous set back by one, cap at r.retention entries, and publish. On
// RNG failure no set is published (the current one, possibly nil, is
// left untouched) and the failure is logged.
func (r *Rotator) Tick() {
	r.mu.Lock()
	old := r.current
	r.mu.Unlock()

	head, err := r.gen.Generate()
	if err != nil {
		r.log.Warn("ticket key rotation failed, keeping previous set", zap.Error(err))
		r.obs.RotationFailed()
		return
	}

	var next []TicketKey
	if old == nil {
		next = []TicketKey{head}
	} else {
		oldKeys := old.All()
		newSize := r.retention
		if len(oldKeys)+1 < newSize {
			newSize = len(oldKeys) + 1
		}
		next = make([]TicketKey, newSize)
		next[0] = head
		for i := 1; i < newSize; i++ {
			next[i] = oldKeys[i-1]
		}
	}

	set, err := NewSet(next)
	if err != nil {
		// unreachable: next is always non-empty, but handle defensively
		r.log.Error("ticket key rotation produced an invalid set", zap.Error(err))
		r.obs.RotationFailed()
		return
	}

	r.mu.Lock()
	r.current = set
	r.mu.Unlock()

	r.obs.RotationSucceeded(set.Len())
	if r.pub != nil {
		r.pub.PublishTicketKeys(set)
	}
}

// Run ticks once synchronously at startup and then every
// RotationInterval until ctx is cancelled.
func (r *Rotator) Run(ctx context.Context) {
	r.Tick()

	ticker := time.NewTicker(RotationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Tick()
		}
	}
}
