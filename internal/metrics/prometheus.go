// SPDX-License-Identifier: AGPL-3.0-or-later
// mvlc-go - host driver core for the Mesytec MVLC VME crate controller
// Copyright (C) 2026 mvlc-go contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// Package metrics exposes the driver's runtime counters (spec.md §5/§8)
// as Prometheus collectors: parser exceptions, packet loss, queue depth,
// and dialog latency, mirroring the teacher's own
// github.com/prometheus/client_golang wiring.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the driver's Prometheus collectors. A zero Metrics is
// unusable; build one with NewMetrics.
type Metrics struct {
	ParserExceptionsTotal prometheus.Counter
	ParserUnusedBytes     prometheus.Counter
	StackErrorsTotal      *prometheus.CounterVec

	PacketsLostTotal     prometheus.Counter
	PacketsReceivedTotal prometheus.Counter
	BytesReceivedTotal   prometheus.Counter

	QueueFilledDepth prometheus.Gauge
	QueueFreeDepth   prometheus.Gauge

	DialogLatencySeconds *prometheus.HistogramVec
}

// NewMetrics builds and registers the driver's collectors against reg.
// Passing prometheus.NewRegistry() (as tests do) keeps each instance
// isolated; passing prometheus.DefaultRegisterer matches process-wide
// /metrics scraping.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ParserExceptionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mvlc_parser_exceptions_total",
			Help: "Number of times the readout parser resynchronized after an unexpected word.",
		}),
		ParserUnusedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mvlc_parser_unused_bytes_total",
			Help: "Bytes scanned during parser resynchronization.",
		}),
		StackErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mvlc_stack_errors_total",
			Help: "StackErrorNotification occurrences by stack, line, and flags.",
		}, []string{"stack", "line", "flags"}),
		PacketsLostTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mvlc_eth_packets_lost_total",
			Help: "ETH data-pipe packets inferred lost from sequence-number gaps.",
		}),
		PacketsReceivedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mvlc_eth_packets_received_total",
			Help: "ETH data-pipe packets received.",
		}),
		BytesReceivedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mvlc_data_bytes_received_total",
			Help: "Bytes received on the data pipe across both transports.",
		}),
		QueueFilledDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mvlc_buffer_pool_filled_depth",
			Help: "Number of filled readout buffers awaiting the parser/listfile writer.",
		}),
		QueueFreeDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mvlc_buffer_pool_free_depth",
			Help: "Number of free readout buffers available to the producer.",
		}),
		DialogLatencySeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mvlc_dialog_latency_seconds",
			Help:    "Command-pipe request/response latency by operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	m.register(reg)
	return m
}

func (m *Metrics) register(reg prometheus.Registerer) {
	reg.MustRegister(
		m.ParserExceptionsTotal,
		m.ParserUnusedBytes,
		m.StackErrorsTotal,
		m.PacketsLostTotal,
		m.PacketsReceivedTotal,
		m.BytesReceivedTotal,
		m.QueueFilledDepth,
		m.QueueFreeDepth,
		m.DialogLatencySeconds,
	)
}

// RecordStackError increments the per-(stack,line,flags) counter (spec.md
// §4.I).
func (m *Metrics) RecordStackError(stackID, line, flags uint8) {
	m.StackErrorsTotal.WithLabelValues(
		strconv.Itoa(int(stackID)),
		strconv.Itoa(int(line)),
		strconv.Itoa(int(flags)),
	).Inc()
}

// ObserveDialogLatency records how long one dialog operation took.
func (m *Metrics) ObserveDialogLatency(operation string, seconds float64) {
	m.DialogLatencySeconds.WithLabelValues(operation).Observe(seconds)
}
