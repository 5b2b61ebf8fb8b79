// Copyright (C) The Tessera Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package resourcegroup

import (
	"encoding/json"

	check "gopkg.in/check.v1"
)

var _ = check.Suite(&GroupIDSuite{})

type GroupIDSuite struct{}

func (*GroupIDSuite) TestParseAndString(c *check.C) {
	id, err := ParseGroupID("global.adhoc.bi")
	c.Assert(err, check.IsNil)
	c.Check(id.String(), check.Equals, "global.adhoc.bi")
	c.Check(id.Segments(), check.DeepEquals, []string{"global", "adhoc", "bi"})
	c.Check(id.LastSegment(), check.Equals, "bi")

	for _, bad := range []string{"", ".", "a..b", ".a", "a."} {
		_, err := ParseGroupID(bad)
		c.Check(err, check.NotNil, check.Commentf("%q", bad))
	}
}

func (*GroupIDSuite) TestParentAndRoot(c *check.C) {
	id, err := ParseGroupID("global.adhoc.bi")
	c.Assert(err, check.IsNil)
	c.Check(id.Root().String(), check.Equals, "global")

	parent, ok := id.Parent()
	c.Assert(ok, check.Equals, true)
	c.Check(parent.String(), check.Equals, "global.adhoc")

	root := id.Root()
	_, ok = root.Parent()
	c.Check(ok, check.Equals, false)
	c.Check(root.Root().Equal(root), check.Equals, true)
}

func (*GroupIDSuite) TestSubAndEqual(c *check.C) {
	root, err := NewGroupID("global")
	c.Assert(err, check.IsNil)
	sub := root.Sub("etl")
	c.Check(sub.String(), check.Equals, "global.etl")
	// Sub must not share backing storage with derived ids.
	other := root.Sub("adhoc")
	c.Check(sub.String(), check.Equals, "global.etl")
	c.Check(other.String(), check.Equals, "global.adhoc")

	again, err := ParseGroupID("global.etl")
	c.Assert(err, check.IsNil)
	c.Check(sub.Equal(again), check.Equals, true)
	c.Check(sub.Equal(other), check.Equals, false)
}

func (*GroupIDSuite) TestJSON(c *check.C) {
	id, err := ParseGroupID("global.etl")
	c.Assert(err, check.IsNil)
	buf, err := json.Marshal(id)
	c.Assert(err, check.IsNil)
	c.Check(string(buf), check.Equals, `"global.etl"`)

	var parsed GroupID
	c.Assert(json.Unmarshal(buf, &parsed), check.IsNil)
	c.Check(parsed.Equal(id), check.Equals, true)

	c.Check(json.Unmarshal([]byte(`""`), &parsed), check.NotNil)
}
