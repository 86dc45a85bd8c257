// Copyright (C) 2026 The Stratum Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package api exposes the REST status interface: active plan listing,
// per plan state snapshots and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stratumdb/stratum/lib/config"
	"github.com/stratumdb/stratum/lib/streaming"
)

type Service struct {
	cfg     *config.Wrapper
	manager *streaming.Manager
}

func New(cfg *config.Wrapper, manager *streaming.Manager) *Service {
	return &Service{cfg: cfg, manager: manager}
}

func (s *Service) Serve(ctx context.Context) error {
	addr := s.cfg.Options().APIAddress
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	l.Infof("REST API listening on %s", addr)
	err = srv.Serve(listener)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Service) handler() http.Handler {
	router := httprouter.New()
	router.GET("/rest/streams", s.getStreams)
	router.GET("/rest/streams/:id", s.getStream)
	router.Handler("GET", "/metrics", promhttp.Handler())
	return router
}

func (s *Service) getStreams(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	ids := s.manager.PlanIDs()
	if ids == nil {
		ids = []uuid.UUID{}
	}
	sendJSON(w, map[string]interface{}{"planIds": ids})
}

func (s *Service) getStream(w http.ResponseWriter, _ *http.Request, p httprouter.Params) {
	id, err := uuid.Parse(p.ByName("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f, ok := s.manager.Plan(id)
	if !ok {
		// Resolved plans leave the registry, so "not found" covers both
		// unknown and finished plans.
		http.Error(w, "no such plan", http.StatusNotFound)
		return
	}
	sendJSON(w, f.CurrentState())
}

func sendJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(data)
}

func (s *Service) String() string {
	return fmt.Sprintf("api.Service@%p", s)
}
