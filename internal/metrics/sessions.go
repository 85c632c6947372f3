// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsStarted tracks SAS sessions created, by role.
	SessionsStarted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "started_total",
			Help:      "Total number of SAS verification sessions started",
		},
		[]string{"role"}, // initiator, responder
	)

	// SessionsCompleted tracks sessions reaching a terminal state.
	SessionsCompleted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "completed_total",
			Help:      "Total number of SAS sessions reaching a terminal state",
		},
		[]string{"result"}, // verified, canceled (timeouts are counted as canceled)
	)

	// Cancellations tracks cancellations by protocol cancel code.
	Cancellations = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "cancellations_total",
			Help:      "Total number of SAS session cancellations by code",
		},
		[]string{"code"},
	)

	// SessionDuration tracks time from creation to terminal state.
	SessionDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "duration_seconds",
			Help:      "SAS session duration from creation to terminal state",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14), // 100ms to ~13m
		},
		[]string{"outcome"},
	)

	// ManagerGCSweeps counts garbage-collection passes run by the manager.
	ManagerGCSweeps = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "manager",
			Name:      "gc_sweeps_total",
			Help:      "Total number of verification manager GC sweeps run",
		},
	)

	// ManagerSessionsRemoved counts sessions reaped by a GC sweep.
	ManagerSessionsRemoved = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "manager",
			Name:      "sessions_removed_total",
			Help:      "Total number of sessions removed by GC sweeps",
		},
	)
)
