/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

// Package metrics holds the Prometheus collectors shared by the validator and the host.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	verdictsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oracle_validator_verdicts_total",
		Help: "Certificate verification outcomes by reason",
	}, []string{"reason"})

	protocolErrorsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oracle_validator_protocol_errors_total",
		Help: "Rejected requests by protocol error kind",
	}, []string{"kind"})

	unpinnedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oracle_validator_unpinned_total",
		Help: "Certificates accepted for hosts without a pin entry",
	})

	signDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "oracle_validator_sign_duration_seconds",
		Help:    "Duration of signing operations",
		Buckets: prometheus.DefBuckets,
	})

	relayCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oracle_relay_updates_total",
		Help: "Relay poll outcomes per token",
	}, []string{"token", "result"}) // result: stored, rejected, fetch_error, validator_error, invalid_signature
)

func RecordVerdict(reason string) {
	verdictsCounter.WithLabelValues(reason).Inc()
}

// RecordProtocolError counts a request rejected before verification, including transport timeouts.
func RecordProtocolError(kind string) {
	protocolErrorsCounter.WithLabelValues(kind).Inc()
}

func RecordUnpinned() {
	unpinnedCounter.Inc()
}

func ObserveSign(d time.Duration) {
	signDuration.Observe(d.Seconds())
}

func RecordRelay(token, result string) {
	relayCounter.WithLabelValues(token, result).Inc()
}
