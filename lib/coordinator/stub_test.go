// Copyright (C) The Tessera Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"context"
	"sync"

	"github.com/tesseraql/tessera/lib/resourcegroup"
	"github.com/tesseraql/tessera/sdk/go/ctxlog"
	check "gopkg.in/check.v1"
)

type stubQuery struct {
	id string

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

func (q *stubQuery) Done() <-chan struct{} { return q.done }
func (q *stubQuery) CPUTimeMillis() int64  { return 0 }
func (q *stubQuery) MemoryBytes() int64    { return 64 << 20 }

func testContext(c *check.C) context.Context {
	return ctxlog.Context(context.Background(), ctxlog.TestLogger(c))
}

func mustGroupID(c *check.C, path string) resourcegroup.GroupID {
	id, err := resourcegroup.ParseGroupID(path)
	c.Assert(err, check.IsNil)
	return id
}
