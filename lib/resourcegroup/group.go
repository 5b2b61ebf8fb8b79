// Copyright (C) The Tessera Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package resourcegroup

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// A Group is one node in the resource group tree. It enforces
// concurrency, memory, and CPU-quota limits for the queries assigned
// to it, queueing what it cannot admit and draining the queue in FIFO
// order as capacity returns.
//
// All groups in a tree share their root's mutex, so admission
// decisions see a consistent view of the whole tree. The parent link
// is stored as an id and resolved through the manager's node arena;
// groups never own each other.
type Group struct {
	id       GroupID
	parent   GroupID // zero for root groups
	mu       *sync.Mutex
	tree     *tree
	logger   logrus.FieldLogger
	executor Executor
	variant  occupancyVariant

	subNames  []string // insertion order, for deterministic iteration
	subGroups map[string]*Group

	softConcurrencyLimit       int
	hardConcurrencyLimit       int
	maxQueuedQueries           int
	softMemoryLimitBytes       int64
	softReservedMemoryBytes    int64
	memoryMarginPercent        int
	queryProgressMarginPercent int

	// CPU-quota state. cpuUsageMillis accumulates the CPU time
	// consumed by queries in this subtree; generateCpuQuota drains
	// it by cpuQuotaGenerationMillisPerSecond for each elapsed
	// whole second. Zero limits mean unlimited.
	cpuUsageMillis                    int64
	cpuQuotaGenerationMillisPerSecond int64
	softCPULimitMillis                int64
	hardCPULimitMillis                int64

	cachedMemoryUsageBytes int64

	running map[string]Query
	lastCPU map[string]int64 // CPU millis already charged per running query
	queued  []Query

	exported bool
}

// occupancyVariant distinguishes local groups from cluster-aware
// groups. A cluster-aware group counts occupancy reported by other
// coordinators against its limits; subgroup creation preserves the
// parent's variant.
type occupancyVariant interface {
	runningElsewhere(id GroupID) int
	queuedElsewhere(id GroupID) int
}

type localVariant struct{}

func (localVariant) runningElsewhere(GroupID) int { return 0 }
func (localVariant) queuedElsewhere(GroupID) int  { return 0 }

type clusterVariant struct {
	view RemoteView
}

func (v clusterVariant) runningElsewhere(id GroupID) int { return v.view.RunningElsewhere(id) }
func (v clusterVariant) queuedElsewhere(id GroupID) int  { return v.view.QueuedElsewhere(id) }

func newRootGroup(name string, tr *tree, variant occupancyVariant, executor Executor, logger logrus.FieldLogger) (*Group, error) {
	id, err := NewGroupID(name)
	if err != nil {
		return nil, err
	}
	if executor == nil {
		executor = func(task func()) { go task() }
	}
	return &Group{
		id:        id,
		mu:        new(sync.Mutex),
		tree:      tr,
		logger:    logger.WithField("ResourceGroup", id.String()),
		executor:  executor,
		variant:   variant,
		subGroups: map[string]*Group{},
		running:   map[string]Query{},
		lastCPU:   map[string]int64{},
	}, nil
}

// ID returns the group's id.
func (g *Group) ID() GroupID { return g.id }

// GetOrCreateSubGroup returns the named subgroup, creating it if
// necessary. Idempotent: concurrent calls for the same name converge
// on one child. The child inherits the parent's variant, executor,
// and margin percentages.
func (g *Group) GetOrCreateSubGroup(name string) *Group {
	g.mu.Lock()
	defer g.mu.Unlock()
	if sub, ok := g.subGroups[name]; ok {
		return sub
	}
	sub := &Group{
		id:                         g.id.Sub(name),
		parent:                     g.id,
		mu:                         g.mu,
		tree:                       g.tree,
		logger:                     g.logger.WithField("ResourceGroup", g.id.Sub(name).String()),
		executor:                   g.executor,
		variant:                    g.variant,
		subGroups:                  map[string]*Group{},
		running:                    map[string]Query{},
		lastCPU:                    map[string]int64{},
		memoryMarginPercent:        g.memoryMarginPercent,
		queryProgressMarginPercent: g.queryProgressMarginPercent,
	}
	g.subNames = append(g.subNames, name)
	g.subGroups[name] = sub
	return sub
}

// SubGroups returns the subgroups in creation order.
func (g *Group) SubGroups() []*Group {
	g.mu.Lock()
	defer g.mu.Unlock()
	subs := make([]*Group, 0, len(g.subNames))
	for _, name := range g.subNames {
		subs = append(subs, g.subGroups[name])
	}
	return subs
}

// Run admits the query immediately if the group has headroom,
// otherwise appends it to the queue. Only leaf groups run queries.
func (g *Group) Run(q Query) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.subNames) > 0 {
		return fmt.Errorf("group %s: %w", g.id, ErrNotLeaf)
	}
	if g.canRunLocked() {
		g.startLocked(q)
		return nil
	}
	if g.maxQueuedQueries > 0 && len(g.queued)+g.variant.queuedElsewhere(g.id) >= g.maxQueuedQueries {
		return fmt.Errorf("group %s: %w", g.id, ErrQueueFull)
	}
	g.queued = append(g.queued, q)
	g.logger.WithFields(logrus.Fields{
		"QueryID": q.ID(),
		"Queued":  len(g.queued),
	}).Debug("query queued")
	return nil
}

// ProcessQueuedQueries admits queued queries throughout the subtree
// while headroom exists, strictly FIFO within each group.
func (g *Group) ProcessQueuedQueries() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.processQueuedLocked()
}

func (g *Group) processQueuedLocked() {
	for len(g.queued) > 0 && g.canRunLocked() {
		q := g.queued[0]
		g.queued = g.queued[1:]
		g.startLocked(q)
	}
	for _, name := range g.subNames {
		g.subGroups[name].processQueuedLocked()
	}
}

// GenerateCpuQuota replenishes CPU quota throughout the subtree for
// the given number of elapsed whole seconds. The caller (the
// manager's refresh loop) guarantees elapsedSeconds > 0; sub-second
// deltas never reach here.
func (g *Group) GenerateCpuQuota(elapsedSeconds int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.generateCpuQuotaLocked(elapsedSeconds)
}

func (g *Group) generateCpuQuotaLocked(elapsedSeconds int64) {
	if g.cpuQuotaGenerationMillisPerSecond <= 0 {
		// Unlimited regeneration: consumption never throttles.
		g.cpuUsageMillis = 0
	} else if regenerated := elapsedSeconds * g.cpuQuotaGenerationMillisPerSecond; regenerated >= g.cpuUsageMillis || regenerated/elapsedSeconds != g.cpuQuotaGenerationMillisPerSecond {
		g.cpuUsageMillis = 0
	} else {
		g.cpuUsageMillis -= regenerated
	}
	for _, name := range g.subNames {
		g.subGroups[name].generateCpuQuotaLocked(elapsedSeconds)
	}
}

// UpdateStats recomputes cached memory usage from the queries
// currently running in the subtree, and charges CPU time consumed
// since the last refresh against the subtree's quota accounting.
func (g *Group) UpdateStats() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.updateStatsLocked()
}

func (g *Group) updateStatsLocked() (memory int64, cpuDelta int64) {
	if len(g.subNames) == 0 {
		for id, q := range g.running {
			memory += q.MemoryBytes()
			if now := q.CPUTimeMillis(); now > g.lastCPU[id] {
				cpuDelta += now - g.lastCPU[id]
				g.lastCPU[id] = now
			}
		}
	} else {
		for _, name := range g.subNames {
			m, c := g.subGroups[name].updateStatsLocked()
			memory += m
			cpuDelta += c
		}
	}
	g.cachedMemoryUsageBytes = memory
	g.cpuUsageMillis += cpuDelta
	return
}

func (g *Group) canRunLocked() bool {
	overall := len(g.running) + g.variant.runningElsewhere(g.id)
	if limit, limited := g.effectiveConcurrencyLimitLocked(); limited && overall >= limit {
		return false
	}
	if g.hardConcurrencyLimit > 0 && overall >= g.hardConcurrencyLimit {
		return false
	}
	if g.softMemoryLimitBytes > 0 {
		headroom := g.softMemoryLimitBytes - g.softMemoryLimitBytes*int64(g.memoryMarginPercent)/100
		if g.cachedMemoryUsageBytes >= headroom {
			return false
		}
	}
	return true
}

// effectiveConcurrencyLimitLocked returns the concurrency limit after
// CPU throttling. Between the soft and hard CPU limits the limit
// scales down linearly; at or beyond the hard limit no queries are
// admitted until quota regenerates.
func (g *Group) effectiveConcurrencyLimitLocked() (limit int, limited bool) {
	limit, limited = g.softConcurrencyLimit, g.softConcurrencyLimit > 0
	if g.hardCPULimitMillis > 0 && g.cpuUsageMillis >= g.hardCPULimitMillis {
		return 0, true
	}
	if limited && g.softCPULimitMillis > 0 && g.hardCPULimitMillis > g.softCPULimitMillis && g.cpuUsageMillis >= g.softCPULimitMillis {
		scaled := int(int64(limit) * (g.hardCPULimitMillis - g.cpuUsageMillis) / (g.hardCPULimitMillis - g.softCPULimitMillis))
		if scaled < limit {
			limit = scaled
		}
	}
	return limit, limited
}

func (g *Group) startLocked(q Query) {
	g.running[q.ID()] = q
	g.cachedMemoryUsageBytes += q.MemoryBytes()
	g.lastCPU[q.ID()] = q.CPUTimeMillis()
	g.logger.WithField("QueryID", q.ID()).Debug("query started")
	g.executor(q.Start)
	go func() {
		<-q.Done()
		g.queryFinished(q)
	}()
}

func (g *Group) queryFinished(q Query) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := q.ID()
	if _, ok := g.running[id]; !ok {
		return
	}
	if now := q.CPUTimeMillis(); now > g.lastCPU[id] {
		// The final CPU delta is charged up the ancestor chain
		// immediately; running-query deltas reach ancestors via
		// the next stats refresh instead.
		delta := now - g.lastCPU[id]
		g.cpuUsageMillis += delta
		for pid, ok := g.id.Parent(); ok; pid, ok = pid.Parent() {
			if p := g.tree.lookup(pid); p != nil {
				p.cpuUsageMillis += delta
			}
		}
	}
	delete(g.running, id)
	delete(g.lastCPU, id)
	g.logger.WithField("QueryID", id).Debug("query finished")
	// Capacity changed: re-evaluate admission for this group.
	g.processQueuedLocked()
}
