// Copyright (C) The Tessera Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package coordinator is the service surface around the resource
// group engine: the management HTTP API, per-group metrics export,
// the built-in static policy, and startup configuration.
package coordinator

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/tesseraql/tessera/lib/resourcegroup"
)

// A Handler serves the coordinator's management API.
type Handler struct {
	Manager  *resourcegroup.Manager
	Registry *prometheus.Registry
	Logger   logrus.FieldLogger

	setupOnce sync.Once
	router    http.Handler
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.setupOnce.Do(h.setup)
	h.router.ServeHTTP(w, r)
}

func (h *Handler) setup() {
	mux := httprouter.New()
	mux.HandlerFunc("GET", "/status.json", h.serveStatus)
	mux.HandlerFunc("GET", "/api/resource-groups", h.serveGroupList)
	mux.Handler("GET", "/metrics", promhttp.HandlerFor(h.Registry, promhttp.HandlerOpts{
		ErrorLog: h.Logger,
	}))
	mux.GET("/api/resource-groups/:id", h.serveGroupInfo)
	mux.GET("/api/resource-groups/:id/path", h.serveGroupPath)
	h.router = mux
}

func (h *Handler) serveStatus(w http.ResponseWriter, r *http.Request) {
	queuedInternal := h.Manager.QueriesQueuedOnInternal()
	var memory int64
	groups := h.Manager.RootInfos()
	for _, info := range groups {
		memory += info.CachedMemoryUsageBytes
	}
	h.writeJSON(w, map[string]interface{}{
		"queriesQueuedOnInternal": queuedInternal,
		"cachedMemoryUsageBytes":  memory,
		"cachedMemoryUsage":       humanize.IBytes(uint64(memory)),
		"rootGroups":              len(groups),
	})
}

func (h *Handler) serveGroupList(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.Manager.RootInfos())
}

func (h *Handler) serveGroupInfo(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	id, err := resourcegroup.ParseGroupID(params.ByName("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	info, err := h.Manager.GroupInfo(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	h.writeJSON(w, info)
}

func (h *Handler) serveGroupPath(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	id, err := resourcegroup.ParseGroupID(params.ByName("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	path, err := h.Manager.PathToRoot(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	h.writeJSON(w, path)
}

func (h *Handler) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.Logger.WithError(err).Warn("error writing response")
	}
}
