// Copyright (C) The Tessera Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package resourcegroup

import (
	"github.com/prometheus/client_golang/prometheus"
)

func (m *Manager) registerMetrics(reg *prometheus.Registry) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m.mQueriesQueued = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tessera",
		Subsystem: "resourcegroups",
		Name:      "queries_queued",
		Help:      "Number of queries queued across all resource groups.",
	})
	reg.MustRegister(m.mQueriesQueued)
	m.mQueriesRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tessera",
		Subsystem: "resourcegroups",
		Name:      "queries_running",
		Help:      "Number of queries running across all resource groups.",
	})
	reg.MustRegister(m.mQueriesRunning)
	m.mQueriesQueuedInternal = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tessera",
		Subsystem: "resourcegroups",
		Name:      "queries_queued_on_internal",
		Help:      "Number of queued queries that could start within their groups' current headroom.",
	})
	reg.MustRegister(m.mQueriesQueuedInternal)
}

func (m *Manager) updateMetrics() {
	var queued, running, queuedInternal int
	for _, root := range m.tree.rootList() {
		info := root.FullInfo()
		q, r := sumOccupancy(info)
		queued += q
		running += r
		queuedInternal += queuedOnInternal(info)
	}
	m.mQueriesQueued.Set(float64(queued))
	m.mQueriesRunning.Set(float64(running))
	m.mQueriesQueuedInternal.Set(float64(queuedInternal))
}

func sumOccupancy(info Info) (queued, running int) {
	if len(info.SubGroups) == 0 {
		return info.QueuedQueries, info.RunningQueries
	}
	for _, sub := range info.SubGroups {
		q, r := sumOccupancy(sub)
		queued += q
		running += r
	}
	return
}
