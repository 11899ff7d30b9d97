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
	// CertificatesIssued tracks X.509 and SSH certificate issuance.
	CertificatesIssued = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "issuance",
			Name:      "certificates_total",
			Help:      "Total number of certificates issued",
		},
		[]string{"kind", "algorithm"}, // x509/ssh-host/ssh-user, rsa2048/ecdsap384/ed25519
	)

	// CertificatesDenied tracks issuance requests rejected before signing.
	CertificatesDenied = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "issuance",
			Name:      "denied_total",
			Help:      "Total number of certificate requests denied",
		},
		[]string{"kind", "reason"},
	)

	// IssuanceDuration tracks the serial-allocate-then-sign round trip.
	IssuanceDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "issuance",
			Name:      "duration_seconds",
			Help:      "Certificate issuance duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"kind"},
	)
)
