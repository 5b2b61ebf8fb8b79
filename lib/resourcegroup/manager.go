// Copyright (C) The Tessera Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package resourcegroup implements the coordinator's hierarchical
// resource-group admission control: every submitted query is routed
// to a group, runs immediately if the group has headroom, and queues
// otherwise. A periodic refresh loop regenerates CPU quota and
// drains queues. When multiple coordinators share a cluster, group
// occupancy is kept consistent through a shared state store and
// per-group distributed locks.
package resourcegroup

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ghodss/yaml"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/tesseraql/tessera/sdk/go/ctxlog"
)

const (
	// DefaultRefreshInterval matches the single-coordinator
	// status refresh interval of the upstream coordinator.
	DefaultRefreshInterval = time.Millisecond

	// admissionTimeout bounds the wait for the distributed lock
	// during multi-coordinator submission.
	admissionTimeout = 10 * time.Second
)

// A Manager owns the resource group tree: it lazily materializes
// groups the first time a selection resolves to them, routes
// submissions, and runs the periodic refresh loop. Groups live for
// the life of the process; the Manager is built once at server
// startup and stopped at shutdown.
type Manager struct {
	ctx        context.Context
	logger     logrus.FieldLogger
	tree       *tree
	stateStore StateStore // nil in single-coordinator mode
	exporter   Exporter

	policy atomic.Pointer[policyCell]

	factoriesMtx sync.Mutex
	factories    map[string]ConfigurationManagerFactory

	// createMtx serializes group creation; submissions into
	// already-materialized groups never take it.
	createMtx                  sync.Mutex
	memoryMarginPercent        int
	queryProgressMarginPercent int

	refreshInterval time.Duration

	// lastQuotaGeneration is touched only by the refresh loop (and
	// by tests driving ticks directly).
	lastQuotaGeneration time.Time

	runOnce sync.Once
	stop    chan struct{}
	stopped chan struct{}

	mQueriesQueued         prometheus.Gauge
	mQueriesRunning        prometheus.Gauge
	mQueriesQueuedInternal prometheus.Gauge
}

// policyCell is the single-assignment holder for the active
// configuration manager. It transitions away from the legacy default
// at most once, by compare-and-swap.
type policyCell struct {
	mgr    ConfigurationManager
	legacy bool
}

// NewManager returns a new unstarted Manager. A nil store selects
// single-coordinator mode; a non-nil store makes every new root
// group cluster-aware and turns on distributed locking during
// submission. A nil exporter disables per-group export.
func NewManager(ctx context.Context, reg *prometheus.Registry, store StateStore, exporter Exporter, refreshInterval time.Duration) *Manager {
	if refreshInterval <= 0 {
		refreshInterval = DefaultRefreshInterval
	}
	m := &Manager{
		ctx:                        ctx,
		logger:                     ctxlog.FromContext(ctx),
		tree:                       newTree(),
		stateStore:                 store,
		exporter:                   exporter,
		factories:                  map[string]ConfigurationManagerFactory{},
		memoryMarginPercent:        10,
		queryProgressMarginPercent: 5,
		refreshInterval:            refreshInterval,
		lastQuotaGeneration:        time.Now(),
		stop:                       make(chan struct{}),
		stopped:                    make(chan struct{}),
	}
	m.policy.Store(&policyCell{mgr: legacyPolicy{}, legacy: true})
	m.registerMetrics(reg)
	return m
}

// SelectGroup matches the query's criteria against the active
// configuration manager. A query that matches no rule is rejected
// here, before any group is materialized.
func (m *Manager) SelectGroup(criteria SelectionCriteria) (*SelectionContext, error) {
	sctx, ok := m.policy.Load().mgr.Match(criteria)
	if !ok {
		return nil, ErrRejected
	}
	return sctx, nil
}

// Submit routes the query to its selected group, materializing the
// group's ancestor chain if needed. In multi-coordinator mode the
// cross-coordinator state view is refreshed first, and the group's
// root-keyed distributed lock is held around admission; if the lock
// cannot be acquired within the admission timeout the query is
// rejected with ErrBusy and never enqueued.
func (m *Manager) Submit(q Query, sctx *SelectionContext, executor Executor) error {
	if err := m.createGroupIfNecessary(sctx, executor); err != nil {
		return err
	}
	group := m.tree.lookup(sctx.ID)
	if group == nil {
		return fmt.Errorf("group %s: %w", sctx.ID, ErrUnknownGroup)
	}
	if m.stateStore == nil {
		return group.Run(q)
	}
	if err := m.stateStore.MergeClusterState(m.ctx); err != nil {
		m.logger.WithError(err).Warn("error merging cluster state before submit")
	}
	lock := m.stateStore.GetLock(sctx.ID.Root().String())
	locked, err := lock.TryLock(m.ctx, admissionTimeout)
	if err != nil {
		return fmt.Errorf("acquiring admission lock for %s: %w", sctx.ID, err)
	}
	if !locked {
		return fmt.Errorf("query %s: %w", q.ID(), ErrBusy)
	}
	defer lock.Unlock()
	return group.Run(q)
}

func (m *Manager) createGroupIfNecessary(sctx *SelectionContext, executor Executor) error {
	if m.tree.lookup(sctx.ID) != nil {
		// Fast path: fully materialized already.
		return nil
	}
	m.createMtx.Lock()
	defer m.createMtx.Unlock()
	return m.createLocked(sctx, executor)
}

func (m *Manager) createLocked(sctx *SelectionContext, executor Executor) error {
	if m.tree.lookup(sctx.ID) != nil {
		return nil
	}
	policy := m.policy.Load().mgr
	var group *Group
	if pid, ok := sctx.ID.Parent(); ok {
		pctx := policy.ParentGroupContext(sctx)
		if pctx == nil {
			pctx = &SelectionContext{ID: pid, Policy: sctx.Policy}
		}
		if err := m.createLocked(pctx, executor); err != nil {
			return err
		}
		parent := m.tree.lookup(pid)
		if parent == nil {
			return fmt.Errorf("parent group %s: %w", pid, ErrUnknownGroup)
		}
		group = parent.GetOrCreateSubGroup(sctx.ID.LastSegment())
	} else {
		var variant occupancyVariant = localVariant{}
		if m.stateStore != nil {
			variant = clusterVariant{view: m.stateStore}
		}
		root, err := newRootGroup(sctx.ID.LastSegment(), m.tree, variant, executor, m.logger)
		if err != nil {
			return err
		}
		root.SetMemoryMarginPercent(m.memoryMarginPercent)
		root.SetQueryProgressMarginPercent(m.queryProgressMarginPercent)
		group = root
		m.tree.addRoot(root)
	}
	policy.Configure(group, sctx)
	if err := m.tree.insert(group); err != nil {
		return err
	}
	m.exportGroup(group)
	return nil
}

func (m *Manager) exportGroup(group *Group) {
	if m.exporter == nil {
		return
	}
	if err := m.exporter.Export(group, group.ID().String()); err != nil {
		m.logger.WithError(err).WithField("ResourceGroup", group.ID().String()).Error("error exporting resource group")
		return
	}
	group.mu.Lock()
	group.exported = true
	group.mu.Unlock()
}

// AddConfigurationManagerFactory registers a factory under its name.
// Duplicate names fail without touching the existing registration.
func (m *Manager) AddConfigurationManagerFactory(factory ConfigurationManagerFactory) error {
	m.factoriesMtx.Lock()
	defer m.factoriesMtx.Unlock()
	if _, ok := m.factories[factory.Name()]; ok {
		return fmt.Errorf("%q: %w", factory.Name(), ErrDuplicateFactory)
	}
	m.factories[factory.Name()] = factory
	return nil
}

// SetConfigurationManager builds a configuration manager from the
// named factory and activates it. The legacy-to-active transition is
// legal exactly once per manager lifetime; any later call fails and
// leaves the first-activated manager in place.
func (m *Manager) SetConfigurationManager(name string, properties map[string]string) error {
	m.factoriesMtx.Lock()
	factory, ok := m.factories[name]
	m.factoriesMtx.Unlock()
	if !ok {
		return fmt.Errorf("%q: %w", name, ErrUnknownFactory)
	}
	m.logger.Info("loading resource group configuration manager")
	mgr, err := factory.Create(properties)
	if err != nil {
		return fmt.Errorf("creating configuration manager %q: %v", name, err)
	}
	old := m.policy.Load()
	if !old.legacy || !m.policy.CompareAndSwap(old, &policyCell{mgr: mgr}) {
		return ErrPolicySet
	}
	m.logger.WithField("Name", name).Info("loaded resource group configuration manager")
	return nil
}

// ConfigurationManager returns the active configuration manager. It
// fails while the legacy placeholder is still in effect: callers
// must not observe the placeholder as a real policy.
func (m *Manager) ConfigurationManager() (ConfigurationManager, error) {
	cell := m.policy.Load()
	if cell.legacy {
		return nil, ErrLegacyPolicy
	}
	return cell.mgr, nil
}

// fileConfig is the on-disk resource-groups configuration. YAML,
// loaded at startup.
type fileConfig struct {
	ConfigurationManager       string            `json:"ConfigurationManager"`
	MemoryMarginPercent        *int              `json:"MemoryMarginPercent"`
	QueryProgressMarginPercent *int              `json:"QueryProgressMarginPercent"`
	Properties                 map[string]string `json:"Properties"`
}

// LoadConfigurationManager reads the resource-groups configuration
// file and activates the configuration manager it names. A missing
// file is not an error: the subsystem stays in legacy mode, groups
// still materialize with default limits.
func (m *Manager) LoadConfigurationManager(path string) error {
	buf, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		m.logger.WithField("Path", path).Info("no resource groups configuration, using legacy defaults")
		return nil
	} else if err != nil {
		return err
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("error decoding resource groups config %q: %v", path, err)
	}
	if cfg.ConfigurationManager == "" {
		return fmt.Errorf("resource groups config %q does not name a ConfigurationManager", path)
	}
	m.createMtx.Lock()
	if cfg.MemoryMarginPercent != nil {
		m.memoryMarginPercent = *cfg.MemoryMarginPercent
	}
	if cfg.QueryProgressMarginPercent != nil {
		m.queryProgressMarginPercent = *cfg.QueryProgressMarginPercent
	}
	m.createMtx.Unlock()
	return m.SetConfigurationManager(cfg.ConfigurationManager, cfg.Properties)
}

// Start starts the refresh loop. Only the first call has any effect.
func (m *Manager) Start() {
	m.runOnce.Do(func() { go m.run() })
}

// Stop stops the refresh loop. Call only after Start; no other
// method should be called after Stop.
func (m *Manager) Stop() {
	close(m.stop)
	<-m.stopped
}

func (m *Manager) run() {
	defer close(m.stopped)
	m.lastQuotaGeneration = time.Now()
	ticker := time.NewTicker(m.refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			// Ticker drops missed ticks, so a slow pass never
			// triggers back-to-back catch-up passes.
			m.refreshAndStartQueries()
		}
	}
}

// refreshAndStartQueries is one pass of the refresh loop: merge
// remote state (multi-coordinator only, best effort), regenerate CPU
// quota for whole elapsed seconds, and drain queues. A failure in
// one root group is logged and never affects its siblings or stops
// the loop.
func (m *Manager) refreshAndStartQueries() {
	if m.stateStore != nil {
		if err := m.stateStore.MergeClusterState(m.ctx); err != nil {
			m.logger.WithError(err).Error("error merging cluster state")
		}
	}
	elapsedSeconds := m.advanceQuotaClock(time.Now())
	for _, root := range m.tree.rootList() {
		m.refreshRoot(root, elapsedSeconds)
	}
	if m.stateStore != nil {
		m.publishStates()
	}
	m.updateMetrics()
}

// advanceQuotaClock computes whole seconds elapsed since the last
// quota generation and advances the reference only by that much, so
// sub-second remainders carry into the next pass. A negative delta
// means the clock wrapped: reset the reference without generating
// quota.
func (m *Manager) advanceQuotaClock(now time.Time) int64 {
	delta := now.Sub(m.lastQuotaGeneration)
	if delta < 0 {
		m.lastQuotaGeneration = now
		return 0
	}
	elapsedSeconds := int64(delta / time.Second)
	if elapsedSeconds > 0 {
		m.lastQuotaGeneration = m.lastQuotaGeneration.Add(time.Duration(elapsedSeconds) * time.Second)
	}
	return elapsedSeconds
}

func (m *Manager) refreshRoot(root *Group, elapsedSeconds int64) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.WithField("ResourceGroup", root.ID().String()).Errorf("panic while refreshing group: %v", r)
		}
	}()
	root.UpdateStats()
	if elapsedSeconds > 0 {
		root.GenerateCpuQuota(elapsedSeconds)
	}
	root.ProcessQueuedQueries()
}

func (m *Manager) publishStates() {
	for _, root := range m.tree.rootList() {
		m.publishState(root.FullInfo())
	}
}

func (m *Manager) publishState(info Info) {
	err := m.stateStore.PublishGroupState(m.ctx, GroupState{
		ID:                info.ID,
		RunningQueries:    info.RunningQueries,
		QueuedQueries:     info.QueuedQueries,
		CachedMemoryBytes: info.CachedMemoryUsageBytes,
	})
	if err != nil {
		m.logger.WithError(err).WithField("ResourceGroup", info.ID.String()).Debug("error publishing group state")
	}
	for _, sub := range info.SubGroups {
		m.publishState(sub)
	}
}

// QueriesQueuedOnInternal reports how many queued queries could
// start if their groups' current headroom were exercised: per leaf,
// min(queued, soft limit - running), summed over the tree. Used for
// reporting only, never for admission.
func (m *Manager) QueriesQueuedOnInternal() int {
	total := 0
	for _, root := range m.tree.rootList() {
		total += queuedOnInternal(root.FullInfo())
	}
	return total
}

func queuedOnInternal(info Info) int {
	if len(info.SubGroups) == 0 {
		n := info.QueuedQueries
		if info.SoftConcurrencyLimit > 0 {
			if headroom := info.SoftConcurrencyLimit - info.RunningQueries; headroom < n {
				n = headroom
			}
		}
		if n < 0 {
			n = 0
		}
		return n
	}
	total := 0
	for _, sub := range info.SubGroups {
		total += queuedOnInternal(sub)
	}
	return total
}

// RootInfos returns full-tree snapshots for every root group, in
// creation order.
func (m *Manager) RootInfos() []Info {
	var infos []Info
	for _, root := range m.tree.rootList() {
		infos = append(infos, root.FullInfo())
	}
	return infos
}

// GroupInfo returns the full-tree snapshot for the given group.
func (m *Manager) GroupInfo(id GroupID) (Info, error) {
	group := m.tree.lookup(id)
	if group == nil {
		return Info{}, fmt.Errorf("group %s: %w", id, ErrUnknownGroup)
	}
	return group.FullInfo(), nil
}

// PathToRoot returns snapshots for the given group and its
// ancestors, leaf first.
func (m *Manager) PathToRoot(id GroupID) ([]Info, error) {
	group := m.tree.lookup(id)
	if group == nil {
		return nil, fmt.Errorf("group %s: %w", id, ErrUnknownGroup)
	}
	return group.PathToRoot(), nil
}

// CachedMemoryUsage returns the group's memory usage as of the last
// stats refresh.
func (m *Manager) CachedMemoryUsage(id GroupID) (int64, error) {
	group := m.tree.lookup(id)
	if group == nil {
		return 0, fmt.Errorf("group %s: %w", id, ErrUnknownGroup)
	}
	return group.CachedMemoryUsageBytes(), nil
}

// SoftReservedMemory returns the group's configured soft memory
// reservation.
func (m *Manager) SoftReservedMemory(id GroupID) (int64, error) {
	group := m.tree.lookup(id)
	if group == nil {
		return 0, fmt.Errorf("group %s: %w", id, ErrUnknownGroup)
	}
	return group.SoftReservedMemoryBytes(), nil
}

// IsGroupRegistered reports whether the group has been materialized.
func (m *Manager) IsGroupRegistered(id GroupID) bool {
	return m.tree.lookup(id) != nil
}
