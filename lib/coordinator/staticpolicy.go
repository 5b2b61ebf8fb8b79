// Copyright (C) The Tessera Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tesseraql/tessera/lib/resourcegroup"
)

// StaticFactory builds the built-in "static" configuration manager:
// every query goes to a fixed group path, optionally extended with a
// per-user leaf, and the leaf gets fixed limits from the factory
// properties. Enough for single-tenant deployments; anything richer
// is a plugin.
//
// Properties:
//
//	group                   target path (default "global")
//	per-user-subgroups      "true" to add a per-user leaf
//	soft-concurrency-limit  leaf soft concurrency limit
//	hard-concurrency-limit  leaf hard concurrency limit
//	max-queued              leaf queue length limit
//	soft-memory-limit-bytes leaf soft memory limit
type StaticFactory struct{}

func (StaticFactory) Name() string { return "static" }

func (StaticFactory) Create(properties map[string]string) (resourcegroup.ConfigurationManager, error) {
	policy := &staticPolicy{group: "global"}
	for key, value := range properties {
		var err error
		switch key {
		case "group":
			policy.group = value
		case "per-user-subgroups":
			policy.perUser, err = strconv.ParseBool(value)
		case "soft-concurrency-limit":
			policy.softConcurrency, err = strconv.Atoi(value)
		case "hard-concurrency-limit":
			policy.hardConcurrency, err = strconv.Atoi(value)
		case "max-queued":
			policy.maxQueued, err = strconv.Atoi(value)
		case "soft-memory-limit-bytes":
			policy.softMemoryLimit, err = strconv.ParseInt(value, 10, 64)
		default:
			return nil, fmt.Errorf("static policy: unknown property %q", key)
		}
		if err != nil {
			return nil, fmt.Errorf("static policy: property %q: %v", key, err)
		}
	}
	if _, err := resourcegroup.ParseGroupID(policy.group); err != nil {
		return nil, fmt.Errorf("static policy: %v", err)
	}
	return policy, nil
}

type staticPolicy struct {
	group           string
	perUser         bool
	softConcurrency int
	hardConcurrency int
	maxQueued       int
	softMemoryLimit int64
}

func (p *staticPolicy) Match(criteria resourcegroup.SelectionCriteria) (*resourcegroup.SelectionContext, bool) {
	path := p.group
	if p.perUser && criteria.User != "" {
		user := strings.ReplaceAll(criteria.User, ".", "_")
		path = path + "." + user
	}
	id, err := resourcegroup.ParseGroupID(path)
	if err != nil {
		return nil, false
	}
	return &resourcegroup.SelectionContext{ID: id}, true
}

func (p *staticPolicy) Configure(group *resourcegroup.Group, sctx *resourcegroup.SelectionContext) {
	if !sctx.ID.Equal(group.ID()) || !p.isLeaf(sctx.ID) {
		// Limits apply to the leaf only; intermediate groups
		// stay unconstrained.
		return
	}
	group.SetSoftConcurrencyLimit(p.softConcurrency)
	group.SetHardConcurrencyLimit(p.hardConcurrency)
	group.SetMaxQueuedQueries(p.maxQueued)
	group.SetSoftMemoryLimitBytes(p.softMemoryLimit)
}

func (p *staticPolicy) isLeaf(id resourcegroup.GroupID) bool {
	if p.perUser {
		return len(id.Segments()) == len(strings.Split(p.group, "."))+1
	}
	return id.String() == p.group
}

func (p *staticPolicy) ParentGroupContext(sctx *resourcegroup.SelectionContext) *resourcegroup.SelectionContext {
	pid, ok := sctx.ID.Parent()
	if !ok {
		return nil
	}
	return &resourcegroup.SelectionContext{ID: pid, Policy: sctx.Policy}
}
