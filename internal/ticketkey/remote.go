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
	"errors"
	"time"

	"go.uber.org/zap"
)

// remoteKeyName is the logical cache key requested from the dispatcher.
const remoteKeyName = "nghttpx:tls-ticket-key"

// ErrNetwork marks a dispatcher-level failure reaching the remote cache;
// the caller may back off before retrying.
var ErrNetwork = errors.New("ticketkey: remote fetch network error")

// Dispatcher issues logical GET requests against an external cache (e.g.
// memcached). It deliberately does not speak any wire protocol itself:
// this package never implements the memcached protocol, only logical
// GETs against an injected dispatcher.
type Dispatcher interface {
	Get(ctx context.Context, key string) (payload []byte, err error)
}

// FetchObserver is notified of fetch outcomes; mirrors RotationObserver
// for the remote-fetch path so internal/metrics can track both without
// ticketkey depending on it.
type FetchObserver interface {
	FetchSucceeded(size int)
	FetchNotFound()
	FetchNetworkError()
}

type noopFetchObserver struct{}

func (noopFetchObserver) FetchSucceeded(int)  {}
func (noopFetchObserver) FetchNotFound()      {}
func (noopFetchObserver) FetchNetworkError()  {}

// RemoteFetcher is an alternative to Rotator (C3): on each tick it issues
// a logical GET against Dispatcher and, on a well-formed response,
// publishes a new Set. Mutually exclusive with Rotator.
type RemoteFetcher struct {
	dispatcher Dispatcher
	pub        Publisher
	obs        FetchObserver
	log        *zap.Logger
	interval   time.Duration
}

// NewRemoteFetcher builds a RemoteFetcher that polls dispatcher every
// interval.
func NewRemoteFetcher(dispatcher Dispatcher, pub Publisher, interval time.Duration, log *zap.Logger, obs FetchObserver) *RemoteFetcher {
	if obs == nil {
		obs = noopFetchObserver{}
	}
	return &RemoteFetcher{dispatcher: dispatcher, pub: pub, obs: obs, log: log, interval: interval}
}

// Tick issues one fetch and handles the result:
//   - network error -> record get-network-error, caller may back off
//   - structural parse error -> record not-found, no set published
//   - unsupported-cipher payload -> silently dropped (no event, no publish;
//     see DESIGN.md for the rationale)
//   - well-formed set -> published to the Publisher, get-success recorded
func (f *RemoteFetcher) Tick(ctx context.Context) {
	payload, err := f.dispatcher.Get(ctx, remoteKeyName)
	if err != nil {
		f.log.Warn("remote ticket key fetch failed", zap.Error(err))
		f.obs.FetchNetworkError()
		return
	}

	keys, ok, err := decodePayload(payload)
	if err != nil {
		f.log.Warn("remote ticket key payload malformed", zap.Error(err))
		f.obs.FetchNotFound()
		return
	}
	if !ok {
		// unsupported cipher: silent drop, current state unchanged.
		return
	}

	set, err := NewSet(keys)
	if err != nil {
		f.log.Warn("remote ticket key set invalid", zap.Error(err))
		f.obs.FetchNotFound()
		return
	}

	f.obs.FetchSucceeded(set.Len())
	if f.pub != nil {
		f.pub.PublishTicketKeys(set)
	}
}

// Run fetches once synchronously and then every f.interval until ctx is
// cancelled, mirroring Rotator.Run's startup-then-periodic shape.
func (f *RemoteFetcher) Run(ctx context.Context) {
	f.Tick(ctx)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.Tick(ctx)
		}
	}
}
