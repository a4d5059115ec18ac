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

// Package metrics defines the prometheus collectors for the worker-process
// core, using promauto so each collector self-registers on construction.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	ns  = "nghttpxd"
	sub = "worker"
)

var (
	// TicketRotations counts ticket-key rotation outcomes (C3).
	TicketRotations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: sub,
		Name:      "ticket_rotations_total",
		Help:      "Count of ticket-key rotation attempts by outcome.",
	}, []string{"outcome"})

	// TicketSetSize is a gauge of the current ticket-key set size.
	TicketSetSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Subsystem: sub,
		Name:      "ticket_set_size",
		Help:      "Number of keys in the currently published ticket-key set.",
	})

	// TicketFetches counts remote ticket-key fetch outcomes (C4).
	TicketFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: sub,
		Name:      "ticket_fetches_total",
		Help:      "Count of remote ticket-key fetch attempts by outcome.",
	}, []string{"outcome"})

	// IPCCommands counts every IPC opcode received, by opcode name;
	// unrecognized opcodes are counted under "unknown".
	IPCCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: sub,
		Name:      "ipc_commands_total",
		Help:      "Count of IPC opcodes received, by opcode.",
	}, []string{"opcode"})

	// AcceptorsEnabled is a gauge: 1 while acceptors are enabled, 0 once
	// disabled (acceptors are never re-enabled once disabled).
	AcceptorsEnabled = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Subsystem: sub,
		Name:      "acceptors_enabled",
		Help:      "1 while acceptors are enabled, 0 after graceful shutdown begins.",
	})

	// AggregateConnections is a gauge of aggregate_num_connections()
	// across all workers.
	AggregateConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Subsystem: sub,
		Name:      "connections",
		Help:      "Aggregate connection count across all workers.",
	})

	// LifecycleState is a gauge encoding the current LifecycleController
	// state (0=Running, 1=Draining, 2=Terminated).
	LifecycleState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Subsystem: sub,
		Name:      "lifecycle_state",
		Help:      "Current lifecycle state: 0=Running, 1=Draining, 2=Terminated.",
	})
)

// Outcome label values shared across rotation and fetch counters.
const (
	OutcomeSuccess      = "success"
	OutcomeFailure      = "failure"
	OutcomeNotFound     = "not_found"
	OutcomeNetworkError = "network_error"
)

// RotationRecorder adapts the package-level TicketRotations/TicketSetSize
// collectors to ticketkey.RotationObserver without metrics depending on
// ticketkey (the dependency points the other way, from process wiring).
type RotationRecorder struct{}

// RotationSucceeded implements ticketkey.RotationObserver.
func (RotationRecorder) RotationSucceeded(size int) {
	TicketRotations.WithLabelValues(OutcomeSuccess).Inc()
	TicketSetSize.Set(float64(size))
}

// RotationFailed implements ticketkey.RotationObserver.
func (RotationRecorder) RotationFailed() {
	TicketRotations.WithLabelValues(OutcomeFailure).Inc()
}

// FetchRecorder adapts TicketFetches to ticketkey.FetchObserver.
type FetchRecorder struct{}

// FetchSucceeded implements ticketkey.FetchObserver.
func (FetchRecorder) FetchSucceeded(size int) {
	TicketFetches.WithLabelValues(OutcomeSuccess).Inc()
	TicketSetSize.Set(float64(size))
}

// FetchNotFound implements ticketkey.FetchObserver.
func (FetchRecorder) FetchNotFound() {
	TicketFetches.WithLabelValues(OutcomeNotFound).Inc()
}

// FetchNetworkError implements ticketkey.FetchObserver.
func (FetchRecorder) FetchNetworkError() {
	TicketFetches.WithLabelValues(OutcomeNetworkError).Inc()
}
