// Copyright (C) 2026 The Stratum Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package streaming

import (
	"errors"
	"net"
	"net/netip"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/stratumdb/stratum/lib/config"
	"github.com/stratumdb/stratum/lib/protocol"
	"github.com/stratumdb/stratum/lib/sstable"
)

// The Manager is the process wide registry of executing plans. Plans
// register on execution and are removed when they resolve; lookups and
// inserts from concurrent connections take no global lock.
type Manager struct {
	cfg      *config.Wrapper
	store    sstable.Store
	source   Source
	limiters *Limiters
	plans    *xsync.MapOf[uuid.UUID, *ResultFuture]
}

// NewManager creates a manager. The source may be nil on nodes that
// only ever push or receive; sessions serving range requests then fail
// with a clear error.
func NewManager(cfg *config.Wrapper, store sstable.Store, source Source) *Manager {
	return &Manager{
		cfg:      cfg,
		store:    store,
		source:   source,
		limiters: NewLimiters(cfg),
		plans:    xsync.NewMapOf[uuid.UUID, *ResultFuture](),
	}
}

// Limiters returns the per peer throughput limiter registry.
func (m *Manager) Limiters() *Limiters { return m.limiters }

// NewPlan starts building a plan with the given human readable
// description ("bootstrap", "repair", "decommission", ...).
func (m *Manager) NewPlan(description string) *Plan {
	return newPlan(m, description)
}

// Plan returns the future for an executing plan.
func (m *Manager) Plan(id uuid.UUID) (*ResultFuture, bool) {
	return m.plans.Load(id)
}

// PlanIDs lists all currently executing plans.
func (m *Manager) PlanIDs() []uuid.UUID {
	var ids []uuid.UUID
	m.plans.Range(func(id uuid.UUID, _ *ResultFuture) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}

// States snapshots all currently executing plans.
func (m *Manager) States() []State {
	var states []State
	m.plans.Range(func(_ uuid.UUID, f *ResultFuture) bool {
		states = append(states, f.CurrentState())
		return true
	})
	return states
}

func (m *Manager) register(f *ResultFuture) {
	m.plans.Store(f.PlanID(), f)
	metricActivePlans.Inc()
	go m.deregisterOnDone(f)
}

// deregisterOnDone removes the plan from the registry once it
// resolves. On failure the plan to remove is identified through the
// snapshot carried by the StreamError.
func (m *Manager) deregisterOnDone(f *ResultFuture) {
	<-f.Done()
	_, err := f.Result()
	var streamErr *StreamError
	if errors.As(err, &streamErr) {
		m.plans.Delete(streamErr.State.PlanID)
	} else {
		m.plans.Delete(f.PlanID())
	}
	metricActivePlans.Dec()
}

func (m *Manager) newOutgoingSession(planID uuid.UUID, description string, peer netip.AddrPort) *Session {
	return newSession(planID, description, peer, true, m.cfg, m.limiters, m.store, m.source)
}

// attachInbound binds an accepted, handshook connection to the plan
// named in its init message. The first connection for an unknown plan
// creates the follower side future; later connections for the same plan
// join it.
func (m *Manager) attachInbound(conn net.Conn, version byte, init protocol.StreamInit) {
	peer := remoteAddrPort(conn)
	f, loaded := m.plans.LoadOrCompute(init.PlanID, func() *ResultFuture {
		return newResultFuture(init.PlanID, init.Description, false)
	})
	if !loaded {
		metricActivePlans.Inc()
		go m.deregisterOnDone(f)
	}

	s := newSession(init.PlanID, init.Description, peer, false, m.cfg, m.limiters, m.store, m.source)
	f.addSession(s)
	l.Debugf("attached inbound session for plan %s (%s) from %s", init.PlanID, init.Description, peer)
	s.bind(conn, version)
}

func remoteAddrPort(conn net.Conn) netip.AddrPort {
	if tcp, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		return tcp.AddrPort()
	}
	ap, _ := netip.ParseAddrPort(conn.RemoteAddr().String())
	return ap
}
