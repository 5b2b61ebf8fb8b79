// Copyright (C) The Tessera Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tesseraql/tessera/lib/resourcegroup"
)

// A GroupExporter implements resourcegroup.Exporter by registering a
// per-group prometheus collector. Collection reads a point-in-time
// snapshot of the group, so scrapes never block admission.
type GroupExporter struct {
	reg *prometheus.Registry

	mtx        sync.Mutex
	collectors map[string]*groupCollector
}

// NewGroupExporter returns an exporter that registers collectors
// with reg.
func NewGroupExporter(reg *prometheus.Registry) *GroupExporter {
	return &GroupExporter{
		reg:        reg,
		collectors: map[string]*groupCollector{},
	}
}

// Export registers a collector for the group under the given name.
func (e *GroupExporter) Export(group *resourcegroup.Group, name string) error {
	coll := newGroupCollector(group, name)
	if err := e.reg.Register(coll); err != nil {
		return err
	}
	e.mtx.Lock()
	e.collectors[name] = coll
	e.mtx.Unlock()
	return nil
}

// Unexport removes the named group's collector.
func (e *GroupExporter) Unexport(name string) error {
	e.mtx.Lock()
	coll, ok := e.collectors[name]
	delete(e.collectors, name)
	e.mtx.Unlock()
	if ok {
		e.reg.Unregister(coll)
	}
	return nil
}

type groupCollector struct {
	group *resourcegroup.Group

	descRunning *prometheus.Desc
	descQueued  *prometheus.Desc
	descMemory  *prometheus.Desc
}

func newGroupCollector(group *resourcegroup.Group, name string) *groupCollector {
	labels := prometheus.Labels{"group": name}
	return &groupCollector{
		group: group,
		descRunning: prometheus.NewDesc(
			"tessera_resourcegroup_running_queries",
			"Queries currently running in the resource group.",
			nil, labels),
		descQueued: prometheus.NewDesc(
			"tessera_resourcegroup_queued_queries",
			"Queries currently queued in the resource group.",
			nil, labels),
		descMemory: prometheus.NewDesc(
			"tessera_resourcegroup_cached_memory_bytes",
			"Memory usage of the resource group as of the last stats refresh.",
			nil, labels),
	}
}

func (c *groupCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.descRunning
	ch <- c.descQueued
	ch <- c.descMemory
}

func (c *groupCollector) Collect(ch chan<- prometheus.Metric) {
	info := c.group.Info()
	ch <- prometheus.MustNewConstMetric(c.descRunning, prometheus.GaugeValue, float64(info.RunningQueries))
	ch <- prometheus.MustNewConstMetric(c.descQueued, prometheus.GaugeValue, float64(info.QueuedQueries))
	ch <- prometheus.MustNewConstMetric(c.descMemory, prometheus.GaugeValue, float64(info.CachedMemoryUsageBytes))
}
