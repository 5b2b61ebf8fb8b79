// Copyright (C) The Tessera Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package resourcegroup

// legacyPolicy is the placeholder configuration manager in effect
// until a real one is activated. It routes every query to a single
// unconstrained "global" group, so coordinators without a
// resource-groups configuration still admit queries.
type legacyPolicy struct{}

func (legacyPolicy) Match(SelectionCriteria) (*SelectionContext, bool) {
	id, _ := NewGroupID("global")
	return &SelectionContext{ID: id}, true
}

func (legacyPolicy) Configure(*Group, *SelectionContext) {}

func (legacyPolicy) ParentGroupContext(sctx *SelectionContext) *SelectionContext {
	pid, ok := sctx.ID.Parent()
	if !ok {
		return nil
	}
	return &SelectionContext{ID: pid, Policy: sctx.Policy}
}
