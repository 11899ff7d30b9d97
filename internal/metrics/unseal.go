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
	// SealedStateTransitions tracks every transition of the sealed-state
	// machine, labelled with the State strings, e.g.
	// Uninitialized->SealedAwaitingShards, SealedReady->Unsealed.
	SealedStateTransitions = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "unseal",
			Name:      "transitions_total",
			Help:      "Total number of sealed-state machine transitions",
		},
		[]string{"from", "to"},
	)

	// ShardSubmissions tracks add-shard calls by outcome.
	ShardSubmissions = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "unseal",
			Name:      "shard_submissions_total",
			Help:      "Total number of shard submissions to /unseal/key",
		},
		[]string{"result"}, // accepted, mismatch, rate_limited, xsrf_mismatch
	)

	// AutoUnsealPushes tracks the cluster propagator's pushes to sealed peers.
	AutoUnsealPushes = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "unseal",
			Name:      "auto_pushes_total",
			Help:      "Total number of shard pushes performed by the cluster auto-unseal propagator",
		},
		[]string{"result"}, // success, connection_error, rejected
	)
)
