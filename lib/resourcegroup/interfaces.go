// Copyright (C) The Tessera Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package resourcegroup

import (
	"context"
	"time"
)

// A Query is an admission-controlled unit of work, typically a SQL
// query execution managed elsewhere in the coordinator. The group
// tree moves it between queued and running, and otherwise treats it
// as opaque.
type Query interface {
	// ID returns a stable identifier, unique within the
	// coordinator process.
	ID() string

	// Start begins execution. Called at most once, when the query
	// is admitted.
	Start()

	// Done returns a channel that is closed when the query reaches
	// a terminal state (completed or failed).
	Done() <-chan struct{}

	// CPUTimeMillis returns total CPU time consumed so far.
	CPUTimeMillis() int64

	// MemoryBytes returns current memory reservation.
	MemoryBytes() int64
}

// An Executor runs a task asynchronously on behalf of an admitted
// query.
type Executor func(task func())

// A SelectionCriteria describes an incoming query to the active
// configuration manager's matching rules.
type SelectionCriteria struct {
	User              string
	Source            string
	QueryType         string
	ClientTags        []string
	Authenticated     bool
	ResourceEstimates map[string]string
}

// A SelectionContext is the result of matching a query against the
// active configuration manager: the target group id plus whatever
// policy-specific state the manager needs to configure the group.
type SelectionContext struct {
	ID GroupID

	// Policy is opaque to the group tree; it is handed back to the
	// configuration manager in Configure and ParentGroupContext.
	Policy interface{}
}

// A ConfigurationManager maps queries to resource groups and assigns
// limits to newly created groups. Implementations are external
// policy plugins; the built-in legacy manager maps every query to an
// unconstrained default group.
type ConfigurationManager interface {
	// Match returns the selection context for the given criteria,
	// or ok==false if no rule matches.
	Match(criteria SelectionCriteria) (*SelectionContext, bool)

	// Configure assigns limits to a newly created group. Called
	// exactly once per group, before the group is published.
	Configure(group *Group, sctx *SelectionContext)

	// ParentGroupContext returns the selection context for the
	// parent of sctx's group, for ancestor materialization.
	ParentGroupContext(sctx *SelectionContext) *SelectionContext
}

// A ConfigurationManagerFactory creates a ConfigurationManager from
// startup properties. Factories register under a unique name.
type ConfigurationManagerFactory interface {
	Name() string
	Create(properties map[string]string) (ConfigurationManager, error)
}

// A DistributedLock is a cluster-wide mutual exclusion primitive
// keyed by group id, implemented by statestore.Locker and test
// stubs.
type DistributedLock interface {
	// TryLock attempts to acquire the lock, waiting up to timeout.
	// It returns false if the wait expired before acquisition.
	TryLock(ctx context.Context, timeout time.Duration) (bool, error)
	Unlock()
}

// A StateStore provides cross-coordinator locks and a best-effort
// merged view of group occupancy on other coordinators. Used only in
// multi-coordinator mode. Implemented by statestore.StateStore and
// test stubs.
type StateStore interface {
	GetLock(key string) DistributedLock

	// MergeClusterState refreshes the shared occupancy view.
	// Idempotent and best effort: an error leaves the previous
	// view in place.
	MergeClusterState(ctx context.Context) error

	// PublishGroupState pushes this coordinator's occupancy for
	// one group so other coordinators can account for it.
	PublishGroupState(ctx context.Context, state GroupState) error

	RemoteView
}

// A RemoteView reports group occupancy contributed by other
// coordinators, as of the last successful state merge.
type RemoteView interface {
	RunningElsewhere(id GroupID) int
	QueuedElsewhere(id GroupID) int
}

// GroupState is one coordinator's occupancy snapshot for one group.
type GroupState struct {
	ID                GroupID
	RunningQueries    int
	QueuedQueries     int
	CachedMemoryBytes int64
}

// An Exporter registers resource groups with an observability
// backend. Export failures are logged by the caller and never block
// admission.
type Exporter interface {
	Export(group *Group, name string) error
	Unexport(name string) error
}
