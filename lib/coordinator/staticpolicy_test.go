// Copyright (C) The Tessera Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"github.com/tesseraql/tessera/lib/resourcegroup"
	check "gopkg.in/check.v1"
)

var _ = check.Suite(&StaticPolicySuite{})

type StaticPolicySuite struct{}

func (*StaticPolicySuite) TestDefaults(c *check.C) {
	policy, err := StaticFactory{}.Create(nil)
	c.Assert(err, check.IsNil)
	sctx, ok := policy.Match(resourcegroup.SelectionCriteria{User: "alice"})
	c.Assert(ok, check.Equals, true)
	c.Check(sctx.ID.String(), check.Equals, "global")
}

func (*StaticPolicySuite) TestPerUserSubgroups(c *check.C) {
	policy, err := StaticFactory{}.Create(map[string]string{
		"group":              "prod.interactive",
		"per-user-subgroups": "true",
	})
	c.Assert(err, check.IsNil)
	sctx, ok := policy.Match(resourcegroup.SelectionCriteria{User: "bob.smith"})
	c.Assert(ok, check.Equals, true)
	// Dots in user names cannot introduce extra path levels.
	c.Check(sctx.ID.String(), check.Equals, "prod.interactive.bob_smith")

	pctx := policy.ParentGroupContext(sctx)
	c.Assert(pctx, check.NotNil)
	c.Check(pctx.ID.String(), check.Equals, "prod.interactive")
}

func (*StaticPolicySuite) TestBadProperties(c *check.C) {
	_, err := StaticFactory{}.Create(map[string]string{"no-such-knob": "1"})
	c.Check(err, check.NotNil)
	_, err = StaticFactory{}.Create(map[string]string{"soft-concurrency-limit": "many"})
	c.Check(err, check.NotNil)
	_, err = StaticFactory{}.Create(map[string]string{"group": "bad..path"})
	c.Check(err, check.NotNil)
}

func (*StaticPolicySuite) TestConfigureLeafOnly(c *check.C) {
	factory := StaticFactory{}
	policy, err := factory.Create(map[string]string{
		"group":                  "prod.etl",
		"soft-concurrency-limit": "3",
		"max-queued":             "10",
	})
	c.Assert(err, check.IsNil)

	ctx := testContext(c)
	m := resourcegroup.NewManager(ctx, nil, nil, nil, 0)
	c.Assert(m.AddConfigurationManagerFactory(factory), check.IsNil)
	c.Assert(m.SetConfigurationManager(factory.Name(), map[string]string{
		"group":                  "prod.etl",
		"soft-concurrency-limit": "3",
		"max-queued":             "10",
	}), check.IsNil)

	sctx, ok := policy.Match(resourcegroup.SelectionCriteria{})
	c.Assert(ok, check.Equals, true)
	c.Assert(m.Submit(newStubQuery("q"), sctx, nil), check.IsNil)

	leaf, err := m.GroupInfo(mustGroupID(c, "prod.etl"))
	c.Assert(err, check.IsNil)
	c.Check(leaf.SoftConcurrencyLimit, check.Equals, 3)
	c.Check(leaf.MaxQueuedQueries, check.Equals, 10)

	root, err := m.GroupInfo(mustGroupID(c, "prod"))
	c.Assert(err, check.IsNil)
	c.Check(root.SoftConcurrencyLimit, check.Equals, 0)
}
