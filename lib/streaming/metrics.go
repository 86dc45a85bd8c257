// Copyright (C) 2026 The Stratum Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package streaming

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricActivePlans = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "stratum",
		Subsystem: "streaming",
		Name:      "active_plans",
		Help:      "Number of currently executing stream plans.",
	})
	metricActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "stratum",
		Subsystem: "streaming",
		Name:      "active_sessions",
		Help:      "Number of currently open stream sessions.",
	})
	metricFilesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stratum",
		Subsystem: "streaming",
		Name:      "files_sent_total",
		Help:      "Number of files fully sent, per peer.",
	}, []string{"peer"})
	metricFilesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stratum",
		Subsystem: "streaming",
		Name:      "files_received_total",
		Help:      "Number of files fully received, per peer.",
	}, []string{"peer"})
	metricBytesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stratum",
		Subsystem: "streaming",
		Name:      "bytes_sent_total",
		Help:      "File payload bytes put on the wire, per peer.",
	}, []string{"peer"})
	metricBytesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stratum",
		Subsystem: "streaming",
		Name:      "bytes_received_total",
		Help:      "File payload bytes taken off the wire, per peer.",
	}, []string{"peer"})
)
