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
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRegistration(t *testing.T) {
	if CertificatesIssued == nil {
		t.Error("CertificatesIssued metric is nil")
	}
	if IssuanceDuration == nil {
		t.Error("IssuanceDuration metric is nil")
	}

	if SessionsCreated == nil {
		t.Error("SessionsCreated metric is nil")
	}
	if SessionsActive == nil {
		t.Error("SessionsActive metric is nil")
	}
	if SessionsSwept == nil {
		t.Error("SessionsSwept metric is nil")
	}

	if CryptoOperations == nil {
		t.Error("CryptoOperations metric is nil")
	}

	if SealedStateTransitions == nil {
		t.Error("SealedStateTransitions metric is nil")
	}
	if ShardSubmissions == nil {
		t.Error("ShardSubmissions metric is nil")
	}
	if AutoUnsealPushes == nil {
		t.Error("AutoUnsealPushes metric is nil")
	}
}

func TestMetricsIncrement(t *testing.T) {
	CertificatesIssued.WithLabelValues("x509", "ecdsap384").Inc()
	IssuanceDuration.WithLabelValues("x509").Observe(0.05)

	SessionsCreated.WithLabelValues("local", "success").Inc()
	SessionsActive.Inc()
	SessionsSwept.Inc()
	SessionDuration.WithLabelValues("create").Observe(0.01)

	CryptoOperations.WithLabelValues("seal", "chacha20poly1305").Inc()
	CryptoOperations.WithLabelValues("kdf", "argon2id").Inc()

	SealedStateTransitions.WithLabelValues("sealed_ready", "unsealed").Inc()
	ShardSubmissions.WithLabelValues("accepted").Inc()
	AutoUnsealPushes.WithLabelValues("success").Inc()

	if count := testutil.CollectAndCount(CertificatesIssued); count == 0 {
		t.Error("CertificatesIssued has no metrics collected")
	}
	if count := testutil.CollectAndCount(SessionsCreated); count == 0 {
		t.Error("SessionsCreated has no metrics collected")
	}
	if count := testutil.CollectAndCount(CryptoOperations); count == 0 {
		t.Error("CryptoOperations has no metrics collected")
	}
}

func TestMetricsCollectorSnapshot(t *testing.T) {
	mc := NewMetricsCollector()
	mc.RecordIssuance(false, 0)
	mc.RecordIssuance(true, 0)
	mc.RecordSession(true)
	mc.RecordOIDCCache(true)
	mc.RecordOIDCCache(false)

	snap := mc.GetSnapshot()
	if snap.CertificatesIssued != 1 {
		t.Errorf("CertificatesIssued = %d, want 1", snap.CertificatesIssued)
	}
	if snap.CertificatesDenied != 1 {
		t.Errorf("CertificatesDenied = %d, want 1", snap.CertificatesDenied)
	}
	if rate := snap.OIDCCacheHitRate(); rate != 50 {
		t.Errorf("OIDCCacheHitRate = %v, want 50", rate)
	}
}
