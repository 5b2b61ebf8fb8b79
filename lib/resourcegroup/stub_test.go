// Copyright (C) The Tessera Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package resourcegroup

import (
	"context"
	"sync"
	"time"

	check "gopkg.in/check.v1"
)

// stubQuery implements Query for tests. finish() moves it to its
// terminal state.
type stubQuery struct {
	id     string
	cpu    int64
	memory int64

	mtx     sync.Mutex
	started bool
	done    chan struct{}
}

func newStubQuery(id string) *stubQuery {
	return &stubQuery{id: id, done: make(chan struct{})}
}

func (q *stubQuery) ID() string { return q.id }

func (q *stubQuery) Start() {
	q.mtx.Lock()
	defer q.mtx.Unlock()
	q.started = true
}

func (q *stubQuery) Started() bool {
	q.mtx.Lock()
	defer q.mtx.Unlock()
	return q.started
}

func (q *stubQuery) Done() <-chan struct{} { return q.done }

func (q *stubQuery) CPUTimeMillis() int64 {
	q.mtx.Lock()
	defer q.mtx.Unlock()
	return q.cpu
}

func (q *stubQuery) MemoryBytes() int64 {
	q.mtx.Lock()
	defer q.mtx.Unlock()
	return q.memory
}

func (q *stubQuery) setUsage(cpuMillis, memoryBytes int64) {
	q.mtx.Lock()
	defer q.mtx.Unlock()
	q.cpu, q.memory = cpuMillis, memoryBytes
}

func (q *stubQuery) finish() { close(q.done) }

// inlineExecutor runs tasks synchronously so tests see admission
// effects immediately.
func inlineExecutor(task func()) { task() }

// stubLock implements DistributedLock.
type stubLock struct {
	mtx      sync.Mutex
	grant    bool
	tryErr   error
	locks    int
	unlocks  int
	lastWait time.Duration
}

func (l *stubLock) TryLock(ctx context.Context, timeout time.Duration) (bool, error) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.lastWait = timeout
	if l.tryErr != nil {
		return false, l.tryErr
	}
	if l.grant {
		l.locks++
	}
	return l.grant, nil
}

func (l *stubLock) Unlock() {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.unlocks++
}

// stubStateStore implements StateStore with canned remote occupancy.
type stubStateStore struct {
	mtx     sync.Mutex
	lock    *stubLock
	lockKey string
	merges  int
	states  []GroupState
	running map[string]int
	queued  map[string]int
}

func (s *stubStateStore) GetLock(key string) DistributedLock {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.lockKey = key
	return s.lock
}

func (s *stubStateStore) MergeClusterState(context.Context) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.merges++
	return nil
}

func (s *stubStateStore) PublishGroupState(ctx context.Context, state GroupState) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.states = append(s.states, state)
	return nil
}

func (s *stubStateStore) RunningElsewhere(id GroupID) int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.running[id.String()]
}

func (s *stubStateStore) QueuedElsewhere(id GroupID) int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.queued[id.String()]
}

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(c *check.C, cond func() bool) {
	for deadline := time.Now().Add(5 * time.Second); !cond(); {
		if time.Now().After(deadline) {
			c.Fatal("timed out waiting for condition")
		}
		time.Sleep(time.Millisecond)
	}
}
