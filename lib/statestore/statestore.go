// Copyright (C) The Tessera Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package statestore shares resource group occupancy between
// coordinators through a common Postgres database, and provides the
// cluster-wide locks that keep multi-coordinator admission mutually
// exclusive.
package statestore

import (
	"context"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/tesseraql/tessera/lib/resourcegroup"
	"github.com/tesseraql/tessera/sdk/go/ctxlog"
)

// DefaultStaleAfter is how long a published occupancy row stays
// credible. Rows from coordinators that stopped publishing (crashed,
// partitioned) age out of the merged view instead of pinning
// occupancy forever.
const DefaultStaleAfter = time.Minute

// A StateStore implements resourcegroup.StateStore on a shared
// Postgres database. Occupancy rows are upserted per (group,
// coordinator); MergeClusterState pulls the other coordinators' rows
// into an in-memory view that admission decisions read.
type StateStore struct {
	logger      logrus.FieldLogger
	db          *sqlx.DB
	coordinator string
	staleAfter  time.Duration

	viewMtx sync.RWMutex
	view    map[string]occupancy
}

type occupancy struct {
	running int
	queued  int
	memory  int64
}

type stateRow struct {
	GroupID           string `db:"group_id"`
	Coordinator       string `db:"coordinator"`
	Running           int    `db:"running"`
	Queued            int    `db:"queued"`
	CachedMemoryBytes int64  `db:"cached_memory_bytes"`
}

// New returns a StateStore for the given database handle.
// coordinator identifies this process in the shared table; every
// coordinator in the cluster must use a distinct value.
func New(ctx context.Context, db *sqlx.DB, coordinator string, staleAfter time.Duration) *StateStore {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &StateStore{
		logger:      ctxlog.FromContext(ctx).WithField("Coordinator", coordinator),
		db:          db,
		coordinator: coordinator,
		staleAfter:  staleAfter,
		view:        map[string]occupancy{},
	}
}

// Setup creates the shared state table if it does not exist yet.
func (s *StateStore) Setup(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS resource_group_state (
			group_id text NOT NULL,
			coordinator text NOT NULL,
			running integer NOT NULL DEFAULT 0,
			queued integer NOT NULL DEFAULT 0,
			cached_memory_bytes bigint NOT NULL DEFAULT 0,
			updated_at timestamptz NOT NULL DEFAULT now(),
			PRIMARY KEY (group_id, coordinator))`)
	return err
}

// GetLock returns the cluster-wide lock for the given key.
func (s *StateStore) GetLock(key string) resourcegroup.DistributedLock {
	return newLocker(s.logger, s.db, key)
}

// MergeClusterState refreshes the in-memory view of occupancy on
// other coordinators. Idempotent and best effort: on error the
// previous view stays in place.
func (s *StateStore) MergeClusterState(ctx context.Context) error {
	var rows []stateRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT group_id, coordinator, running, queued, cached_memory_bytes
		FROM resource_group_state
		WHERE coordinator <> $1 AND updated_at > $2`,
		s.coordinator, time.Now().Add(-s.staleAfter))
	if err != nil {
		return err
	}
	view := make(map[string]occupancy, len(rows))
	for _, row := range rows {
		occ := view[row.GroupID]
		occ.running += row.Running
		occ.queued += row.Queued
		occ.memory += row.CachedMemoryBytes
		view[row.GroupID] = occ
	}
	s.viewMtx.Lock()
	s.view = view
	s.viewMtx.Unlock()
	return nil
}

// PublishGroupState upserts this coordinator's occupancy for one
// group.
func (s *StateStore) PublishGroupState(ctx context.Context, state resourcegroup.GroupState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO resource_group_state
			(group_id, coordinator, running, queued, cached_memory_bytes, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (group_id, coordinator) DO UPDATE
		SET running = EXCLUDED.running,
		    queued = EXCLUDED.queued,
		    cached_memory_bytes = EXCLUDED.cached_memory_bytes,
		    updated_at = EXCLUDED.updated_at`,
		state.ID.String(), s.coordinator, state.RunningQueries, state.QueuedQueries, state.CachedMemoryBytes)
	return err
}

// RunningElsewhere reports queries running for the group on other
// coordinators, as of the last successful merge.
func (s *StateStore) RunningElsewhere(id resourcegroup.GroupID) int {
	s.viewMtx.RLock()
	defer s.viewMtx.RUnlock()
	return s.view[id.String()].running
}

// QueuedElsewhere reports queries queued for the group on other
// coordinators, as of the last successful merge.
func (s *StateStore) QueuedElsewhere(id resourcegroup.GroupID) int {
	s.viewMtx.RLock()
	defer s.viewMtx.RUnlock()
	return s.view[id.String()].queued
}
