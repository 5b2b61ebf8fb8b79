// Copyright (C) The Tessera Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"os"
	"time"

	"github.com/tesseraql/tessera/lib/resourcegroup"
	check "gopkg.in/check.v1"
)

var _ = check.Suite(&ConfigSuite{})

type ConfigSuite struct{}

func (*ConfigSuite) TestMissingFileYieldsDefaults(c *check.C) {
	cfg, err := LoadConfig(c.MkDir() + "/absent.yml")
	c.Assert(err, check.IsNil)
	c.Check(cfg.Listen, check.Equals, ":9090")
	c.Check(cfg.LogFormat, check.Equals, "json")
	c.Check(cfg.MultiCoordinator.Enabled, check.Equals, false)
	c.Check(cfg.ManagerRefreshInterval(), check.Equals, time.Duration(0))
}

func (*ConfigSuite) TestLoadFile(c *check.C) {
	path := c.MkDir() + "/coordinator.yml"
	err := os.WriteFile(path, []byte(`
Listen: ":8441"
LogLevel: debug
RefreshInterval: 250ms
MultiCoordinator:
  Enabled: true
  DSN: "host=db dbname=tessera sslmode=disable"
  Coordinator: coord-a
  StateFetchInterval: 2s
`), 0644)
	c.Assert(err, check.IsNil)

	cfg, err := LoadConfig(path)
	c.Assert(err, check.IsNil)
	c.Check(cfg.Listen, check.Equals, ":8441")
	c.Check(cfg.LogLevel, check.Equals, "debug")
	c.Check(cfg.MultiCoordinator.Coordinator, check.Equals, "coord-a")
	// The explicit override wins over the state fetch interval.
	c.Check(cfg.ManagerRefreshInterval(), check.Equals, 250*time.Millisecond)

	cfg.RefreshInterval = 0
	c.Check(cfg.ManagerRefreshInterval(), check.Equals, 2*time.Second)
}

func (*ConfigSuite) TestMultiCoordinatorRequiresDSN(c *check.C) {
	path := c.MkDir() + "/coordinator.yml"
	err := os.WriteFile(path, []byte("MultiCoordinator:\n  Enabled: true\n"), 0644)
	c.Assert(err, check.IsNil)
	_, err = LoadConfig(path)
	c.Check(err, check.NotNil)
}

func (*ConfigSuite) TestBadDuration(c *check.C) {
	path := c.MkDir() + "/coordinator.yml"
	err := os.WriteFile(path, []byte("RefreshInterval: soon\n"), 0644)
	c.Assert(err, check.IsNil)
	_, err = LoadConfig(path)
	c.Check(err, check.NotNil)
}

func (*ConfigSuite) TestResourceGroupsFileRoundTrip(c *check.C) {
	// The resource-groups file is consumed by the manager; make
	// sure the documented shape works end to end.
	path := c.MkDir() + "/resource-groups.yml"
	err := os.WriteFile(path, []byte(`
ConfigurationManager: static
MemoryMarginPercent: 15
Properties:
  group: prod.batch
  soft-concurrency-limit: "2"
`), 0644)
	c.Assert(err, check.IsNil)

	m := resourcegroup.NewManager(testContext(c), nil, nil, nil, 0)
	c.Assert(m.AddConfigurationManagerFactory(StaticFactory{}), check.IsNil)
	c.Assert(m.LoadConfigurationManager(path), check.IsNil)

	sctx, err := m.SelectGroup(resourcegroup.SelectionCriteria{})
	c.Assert(err, check.IsNil)
	c.Check(sctx.ID.String(), check.Equals, "prod.batch")
}
