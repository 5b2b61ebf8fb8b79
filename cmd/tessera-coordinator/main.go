// Copyright (C) The Tessera Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// tessera-coordinator runs the resource-group admission engine and
// its management API.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tesseraql/tessera/lib/coordinator"
	"github.com/tesseraql/tessera/lib/resourcegroup"
	"github.com/tesseraql/tessera/lib/statestore"
	"github.com/tesseraql/tessera/sdk/go/ctxlog"
)

func main() {
	configPath := flag.String("config", "/etc/tessera/coordinator.yml", "configuration `file`")
	flag.Parse()

	cfg, err := coordinator.LoadConfig(*configPath)
	if err != nil {
		ctxlog.FromContext(nil).WithError(err).Fatal("error loading configuration")
	}
	logger := ctxlog.New(os.Stderr, cfg.LogFormat, cfg.LogLevel)
	ctx := ctxlog.Context(context.Background(), logger)

	reg := prometheus.NewRegistry()

	var store resourcegroup.StateStore
	if cfg.MultiCoordinator.Enabled {
		db, err := sqlx.Open("postgres", cfg.MultiCoordinator.DSN)
		if err != nil {
			logger.WithError(err).Fatal("error opening state store database")
		}
		dbctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := db.PingContext(dbctx); err != nil {
			logger.WithError(err).Fatal("error connecting to state store database")
		}
		name := cfg.MultiCoordinator.Coordinator
		if name == "" {
			name, _ = os.Hostname()
		}
		ss := statestore.New(ctx, db, name, time.Duration(cfg.MultiCoordinator.StaleAfter))
		if err := ss.Setup(dbctx); err != nil {
			logger.WithError(err).Fatal("error setting up state store schema")
		}
		store = ss
	}

	exporter := coordinator.NewGroupExporter(reg)
	mgr := resourcegroup.NewManager(ctx, reg, store, exporter, cfg.ManagerRefreshInterval())
	if err := mgr.AddConfigurationManagerFactory(coordinator.StaticFactory{}); err != nil {
		logger.WithError(err).Fatal("error registering static policy factory")
	}
	if err := mgr.LoadConfigurationManager(cfg.ResourceGroupsPath); err != nil {
		logger.WithError(err).Fatal("error loading resource groups configuration")
	}
	mgr.Start()
	defer mgr.Stop()

	handler := &coordinator.Handler{
		Manager:  mgr,
		Registry: reg,
		Logger:   logger,
	}
	logger.WithField("Listen", cfg.Listen).Info("management API listening")
	if err := http.ListenAndServe(cfg.Listen, handler); err != nil {
		logger.WithError(err).Fatal("management API server failed")
	}
}
