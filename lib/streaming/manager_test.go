// Copyright (C) 2026 The Stratum Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package streaming

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/stratumdb/stratum/lib/protocol"
	"github.com/stratumdb/stratum/lib/sstable"
)

func TestManagerRegistry(t *testing.T) {
	m := NewManager(newTestConfig(0), sstable.NewDirStore(t.TempDir()), nil)

	futures := make([]*ResultFuture, 3)
	for i := range futures {
		futures[i] = newResultFuture(uuid.New(), "test", false)
		m.register(futures[i])
	}
	if ids := m.PlanIDs(); len(ids) != 3 {
		t.Fatalf("got %d registered plans, expected 3", len(ids))
	}

	// Resolving a plan removes exactly that plan from the registry.
	futures[1].resolve()
	waitForPlanCount(t, m, 2)
	if _, ok := m.Plan(futures[1].PlanID()); ok {
		t.Error("resolved plan still registered")
	}
	if _, ok := m.Plan(futures[0].PlanID()); !ok {
		t.Error("unresolved plan missing from registry")
	}

	futures[0].resolve()
	futures[2].resolve()
	waitForPlanCount(t, m, 0)
}

func waitForPlanCount(t *testing.T, m *Manager, n int) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if len(m.PlanIDs()) == n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("registry did not reach %d plans: have %d", n, len(m.PlanIDs()))
}

func TestAcceptorRejectsBadVersion(t *testing.T) {
	m := NewManager(newTestConfig(0), sstable.NewDirStore(t.TempDir()), nil)
	a := NewAcceptor(m.cfg, m)

	client, server := net.Pipe()
	go a.handle(server)

	if _, err := client.Write([]byte{42}); err != nil {
		t.Fatal(err)
	}

	// The connection is dropped without a session or plan coming into
	// existence.
	client.SetReadDeadline(time.Now().Add(10 * time.Second))
	if _, err := client.Read(make([]byte, 1)); err == nil {
		t.Error("connection still open after bad version byte")
	}
	if ids := m.PlanIDs(); len(ids) != 0 {
		t.Errorf("%d plans registered after rejected handshake", len(ids))
	}
}

func TestAcceptorAttachesInbound(t *testing.T) {
	m := NewManager(newTestConfig(0), sstable.NewDirStore(t.TempDir()), nil)
	a := NewAcceptor(m.cfg, m)

	client, server := net.Pipe()
	go a.handle(server)

	planID := uuid.New()
	if err := protocol.WriteVersion(client); err != nil {
		t.Fatal(err)
	}
	if err := protocol.WriteStreamInit(client, protocol.StreamInit{PlanID: planID, Description: "bootstrap"}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := m.Plan(planID); ok {
			break
		}
		time.Sleep(time.Millisecond)
	}
	f, ok := m.Plan(planID)
	if !ok {
		t.Fatal("inbound handshake did not register a follower plan")
	}
	if f.Description() != "bootstrap" {
		t.Errorf("got description %q", f.Description())
	}

	go io.Copy(io.Discard, client) // keep the pipe drained so the failure notice can flush
	f.Abort()
	client.Close()
	waitForPlanCount(t, m, 0)
}
