// Copyright (C) 2026 The Stratum Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package api

import (
	"encoding/json"
	"net"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/google/uuid"

	"github.com/stratumdb/stratum/lib/config"
	"github.com/stratumdb/stratum/lib/protocol"
	"github.com/stratumdb/stratum/lib/sstable"
	"github.com/stratumdb/stratum/lib/streaming"
)

func newTestService(t *testing.T) (*Service, *streaming.Manager) {
	t.Helper()
	cfg := config.Wrap("/dev/null", config.New())
	m := streaming.NewManager(cfg, sstable.NewDirStore(t.TempDir()), nil)
	return New(cfg, m), m
}

func TestStreamsEmpty(t *testing.T) {
	svc, _ := newTestService(t)
	srv := httptest.NewServer(svc.handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/rest/streams")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("got status %d", resp.StatusCode)
	}

	var body struct {
		PlanIDs []uuid.UUID `json:"planIds"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.PlanIDs) != 0 {
		t.Errorf("got %d plan ids, expected none", len(body.PlanIDs))
	}
}

func TestStreamsListsExecutingPlan(t *testing.T) {
	svc, m := newTestService(t)
	srv := httptest.NewServer(svc.handler())
	defer srv.Close()

	// A peer that accepts but never answers: the session hangs in the
	// prepare exchange and the plan stays visible in the registry.
	lst, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer lst.Close()
	go func() {
		for {
			conn, err := lst.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	peer := netip.MustParseAddrPort(lst.Addr().String())
	plan := m.NewPlan("rebalance")
	plan.RequestRanges(peer, "ks", []string{"tbl"}, []protocol.Section{{Start: 0, End: 100}})
	f := plan.Execute()
	defer f.Abort()

	resp, err := srv.Client().Get(srv.URL + "/rest/streams/" + plan.ID().String())
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("got status %d", resp.StatusCode)
	}

	var state streaming.State
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		t.Fatal(err)
	}
	if state.PlanID != plan.ID() {
		t.Errorf("got plan id %s", state.PlanID)
	}
	if state.Description != "rebalance" {
		t.Errorf("got description %q", state.Description)
	}
	if len(state.Sessions) != 1 {
		t.Errorf("got %d sessions, expected 1", len(state.Sessions))
	}
}

func TestStreamNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	srv := httptest.NewServer(svc.handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/rest/streams/" + uuid.New().String())
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Errorf("got status %d, expected 404", resp.StatusCode)
	}

	resp, err = srv.Client().Get(srv.URL + "/rest/streams/not-a-uuid")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Errorf("got status %d, expected 400", resp.StatusCode)
	}
}
