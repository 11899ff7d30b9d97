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
	"sync"
	"time"
)

// MetricsCollector accumulates in-process running totals that are cheap to
// inspect outside of a Prometheus scrape, e.g. for the `/api/status`
// endpoint. The Prometheus vectors in this package remain the source of
// truth for everything exported to a scraper.
type MetricsCollector struct {
	mu sync.RWMutex

	CertificatesIssued   int64
	CertificatesDenied   int64
	ShardSubmissions     int64
	AutoUnsealPushes     int64
	AutoUnsealFailures   int64
	SessionsCreated      int64
	SessionsSwept        int64
	OIDCCacheHits        int64
	OIDCCacheMisses      int64

	IssuanceTimes []int64 // microseconds

	startTime        time.Time
	maxTimingSamples int
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		startTime:        time.Now(),
		maxTimingSamples: 1000,
	}
}

// RecordIssuance records a certificate issuance.
func (mc *MetricsCollector) RecordIssuance(denied bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if denied {
		mc.CertificatesDenied++
		return
	}
	mc.CertificatesIssued++
	mc.recordTiming(&mc.IssuanceTimes, duration)
}

// RecordShardSubmission records an add-shard call.
func (mc *MetricsCollector) RecordShardSubmission() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.ShardSubmissions++
}

// RecordAutoUnsealPush records a cluster auto-unseal propagation attempt.
func (mc *MetricsCollector) RecordAutoUnsealPush(success bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.AutoUnsealPushes++
	if !success {
		mc.AutoUnsealFailures++
	}
}

// RecordSession records a session creation or sweep.
func (mc *MetricsCollector) RecordSession(created bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if created {
		mc.SessionsCreated++
	} else {
		mc.SessionsSwept++
	}
}

// RecordOIDCCache records a hit or miss of the token validation cache.
func (mc *MetricsCollector) RecordOIDCCache(hit bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if hit {
		mc.OIDCCacheHits++
	} else {
		mc.OIDCCacheMisses++
	}
}

func (mc *MetricsCollector) recordTiming(timings *[]int64, duration time.Duration) {
	*timings = append(*timings, duration.Microseconds())
	if len(*timings) > mc.maxTimingSamples {
		*timings = (*timings)[len(*timings)-mc.maxTimingSamples:]
	}
}

// GetSnapshot returns a point-in-time snapshot of the running counters.
func (mc *MetricsCollector) GetSnapshot() *MetricsSnapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	return &MetricsSnapshot{
		Timestamp:          time.Now(),
		Uptime:             time.Since(mc.startTime),
		CertificatesIssued: mc.CertificatesIssued,
		CertificatesDenied: mc.CertificatesDenied,
		ShardSubmissions:   mc.ShardSubmissions,
		AutoUnsealPushes:   mc.AutoUnsealPushes,
		AutoUnsealFailures: mc.AutoUnsealFailures,
		SessionsCreated:    mc.SessionsCreated,
		SessionsSwept:      mc.SessionsSwept,
		OIDCCacheHits:      mc.OIDCCacheHits,
		OIDCCacheMisses:    mc.OIDCCacheMisses,
		AvgIssuanceTime:    calculateAverage(mc.IssuanceTimes),
		P95IssuanceTime:    calculatePercentile(mc.IssuanceTimes, 95),
	}
}

// Reset zeroes every counter and restarts the uptime clock.
func (mc *MetricsCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	*mc = MetricsCollector{startTime: time.Now(), maxTimingSamples: mc.maxTimingSamples}
}

// MetricsSnapshot is a point-in-time view of the running counters.
type MetricsSnapshot struct {
	Timestamp time.Time
	Uptime    time.Duration

	CertificatesIssued int64
	CertificatesDenied int64
	ShardSubmissions   int64
	AutoUnsealPushes   int64
	AutoUnsealFailures int64
	SessionsCreated    int64
	SessionsSwept      int64
	OIDCCacheHits      int64
	OIDCCacheMisses    int64

	AvgIssuanceTime float64
	P95IssuanceTime int64
}

// OIDCCacheHitRate returns the cache hit rate as a percentage.
func (ms *MetricsSnapshot) OIDCCacheHitRate() float64 {
	total := ms.OIDCCacheHits + ms.OIDCCacheMisses
	if total == 0 {
		return 0
	}
	return float64(ms.OIDCCacheHits) / float64(total) * 100
}

func calculateAverage(values []int64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum int64
	for _, v := range values {
		sum += v
	}
	return float64(sum) / float64(len(values))
}

func calculatePercentile(values []int64, percentile int) int64 {
	if len(values) == 0 {
		return 0
	}

	index := len(values) * percentile / 100
	if index >= len(values) {
		index = len(values) - 1
	}

	sorted := make([]int64, len(values))
	copy(sorted, values)
	for i := 0; i < len(sorted)-1; i++ {
		for j := 0; j < len(sorted)-i-1; j++ {
			if sorted[j] > sorted[j+1] {
				sorted[j], sorted[j+1] = sorted[j+1], sorted[j]
			}
		}
	}
	return sorted[index]
}

var globalCollector = NewMetricsCollector()

// GetGlobalCollector returns the process-wide metrics collector.
func GetGlobalCollector() *MetricsCollector {
	return globalCollector
}
