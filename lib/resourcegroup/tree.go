// Copyright (C) The Tessera Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package resourcegroup

import (
	"fmt"
	"sync"
)

// tree is the arena of materialized groups: a flat id-indexed map
// plus the append-only root list. Entries are write-once; a group is
// present iff all its ancestors are (materialization is strictly
// top-down).
type tree struct {
	mu    sync.RWMutex
	nodes map[string]*Group
	roots []*Group
}

func newTree() *tree {
	return &tree{nodes: map[string]*Group{}}
}

func (tr *tree) lookup(id GroupID) *Group {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return tr.nodes[id.String()]
}

func (tr *tree) insert(g *Group) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	key := g.ID().String()
	if _, ok := tr.nodes[key]; ok {
		return fmt.Errorf("unexpected existing resource group %s", key)
	}
	tr.nodes[key] = g
	return nil
}

func (tr *tree) addRoot(g *Group) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.roots = append(tr.roots, g)
}

func (tr *tree) rootList() []*Group {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return append([]*Group(nil), tr.roots...)
}
