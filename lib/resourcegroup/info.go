// Copyright (C) The Tessera Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package resourcegroup

// Info is a point-in-time snapshot of one group's limits and
// occupancy. FullInfo snapshots include subgroups recursively.
type Info struct {
	ID                         GroupID `json:"id"`
	SoftConcurrencyLimit       int     `json:"softConcurrencyLimit"`
	HardConcurrencyLimit       int     `json:"hardConcurrencyLimit"`
	MaxQueuedQueries           int     `json:"maxQueuedQueries"`
	SoftMemoryLimitBytes       int64   `json:"softMemoryLimitBytes"`
	SoftReservedMemoryBytes    int64   `json:"softReservedMemoryBytes"`
	CachedMemoryUsageBytes     int64   `json:"cachedMemoryUsageBytes"`
	MemoryMarginPercent        int     `json:"memoryMarginPercent"`
	QueryProgressMarginPercent int     `json:"queryProgressMarginPercent"`
	CPUUsageMillis             int64   `json:"cpuUsageMillis"`
	SoftCPULimitMillis         int64   `json:"softCpuLimitMillis"`
	HardCPULimitMillis         int64   `json:"hardCpuLimitMillis"`
	RunningQueries             int     `json:"runningQueries"`
	QueuedQueries              int     `json:"queuedQueries"`
	SubGroups                  []Info  `json:"subGroups,omitempty"`
}

// Info returns a shallow snapshot of the group.
func (g *Group) Info() Info {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.infoLocked(false)
}

// FullInfo returns a snapshot of the group and all its subgroups.
func (g *Group) FullInfo() Info {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.infoLocked(true)
}

// PathToRoot returns shallow snapshots for the group and each of its
// ancestors, leaf first.
func (g *Group) PathToRoot() []Info {
	g.mu.Lock()
	defer g.mu.Unlock()
	path := []Info{g.infoLocked(false)}
	for pid, ok := g.id.Parent(); ok; pid, ok = pid.Parent() {
		if p := g.tree.lookup(pid); p != nil {
			path = append(path, p.infoLocked(false))
		}
	}
	return path
}

func (g *Group) infoLocked(recurse bool) Info {
	info := Info{
		ID:                         g.id,
		SoftConcurrencyLimit:       g.softConcurrencyLimit,
		HardConcurrencyLimit:       g.hardConcurrencyLimit,
		MaxQueuedQueries:           g.maxQueuedQueries,
		SoftMemoryLimitBytes:       g.softMemoryLimitBytes,
		SoftReservedMemoryBytes:    g.softReservedMemoryBytes,
		CachedMemoryUsageBytes:     g.cachedMemoryUsageBytes,
		MemoryMarginPercent:        g.memoryMarginPercent,
		QueryProgressMarginPercent: g.queryProgressMarginPercent,
		CPUUsageMillis:             g.cpuUsageMillis,
		SoftCPULimitMillis:         g.softCPULimitMillis,
		HardCPULimitMillis:         g.hardCPULimitMillis,
		RunningQueries:             len(g.running),
		QueuedQueries:              len(g.queued),
	}
	if recurse {
		for _, name := range g.subNames {
			info.SubGroups = append(info.SubGroups, g.subGroups[name].infoLocked(true))
		}
	}
	return info
}

// RunningQueries returns the number of queries currently running in
// this group.
func (g *Group) RunningQueries() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.running)
}

// QueuedQueries returns the number of queries queued in this group.
func (g *Group) QueuedQueries() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queued)
}

// SoftConcurrencyLimit returns the configured soft concurrency
// limit. Zero means unlimited.
func (g *Group) SoftConcurrencyLimit() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.softConcurrencyLimit
}

// CachedMemoryUsageBytes returns memory usage as of the last stats
// refresh.
func (g *Group) CachedMemoryUsageBytes() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cachedMemoryUsageBytes
}

// SoftReservedMemoryBytes returns the configured soft memory
// reservation.
func (g *Group) SoftReservedMemoryBytes() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.softReservedMemoryBytes
}

// SetSoftConcurrencyLimit sets the running-query count above which
// new queries queue instead of starting. Zero means unlimited.
func (g *Group) SetSoftConcurrencyLimit(limit int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.softConcurrencyLimit = limit
}

// SetHardConcurrencyLimit sets an absolute cap on running queries,
// unaffected by CPU throttling. Zero means unlimited.
func (g *Group) SetHardConcurrencyLimit(limit int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hardConcurrencyLimit = limit
}

// SetMaxQueuedQueries sets the queue length above which submissions
// are rejected. Zero means unlimited.
func (g *Group) SetMaxQueuedQueries(limit int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.maxQueuedQueries = limit
}

// SetSoftMemoryLimitBytes sets the memory usage above which new
// queries queue. Zero means unlimited.
func (g *Group) SetSoftMemoryLimitBytes(limit int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.softMemoryLimitBytes = limit
}

// SetSoftReservedMemoryBytes sets the memory reservation reported
// for this group.
func (g *Group) SetSoftReservedMemoryBytes(bytes int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.softReservedMemoryBytes = bytes
}

// SetMemoryMarginPercent sets the slack applied to the soft memory
// limit during admission.
func (g *Group) SetMemoryMarginPercent(percent int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.memoryMarginPercent = percent
}

// SetQueryProgressMarginPercent sets the progress slack reported to
// external kill/oversubscription policies.
func (g *Group) SetQueryProgressMarginPercent(percent int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queryProgressMarginPercent = percent
}

// SetCPUQuotaGenerationMillisPerSecond sets how much CPU quota the
// group regenerates per elapsed second. Zero means unlimited.
func (g *Group) SetCPUQuotaGenerationMillisPerSecond(millis int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cpuQuotaGenerationMillisPerSecond = millis
}

// SetSoftCPULimitMillis sets the CPU consumption at which admission
// concurrency starts scaling down. Zero means unlimited.
func (g *Group) SetSoftCPULimitMillis(millis int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.softCPULimitMillis = millis
}

// SetHardCPULimitMillis sets the CPU consumption at which admission
// stops entirely until quota regenerates. Zero means unlimited.
func (g *Group) SetHardCPULimitMillis(millis int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hardCPULimitMillis = millis
}
