// Copyright (C) 2026 The Stratum Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package streaming

import (
	"net/netip"

	"github.com/google/uuid"

	"github.com/stratumdb/stratum/lib/protocol"
)

// A Plan is a builder for a streaming operation against one or more
// peers. Transfers push local files to a peer; requests ask a peer to
// stream ranges back. Execute registers the plan and opens one session
// per peer.
type Plan struct {
	manager     *Manager
	id          uuid.UUID
	description string
	failFast    bool

	transfers map[netip.AddrPort][]OutgoingFile
	requests  map[netip.AddrPort][]protocol.StreamRequest
}

func newPlan(m *Manager, description string) *Plan {
	return &Plan{
		manager:     m,
		id:          uuid.New(),
		description: description,
		transfers:   make(map[netip.AddrPort][]OutgoingFile),
		requests:    make(map[netip.AddrPort][]protocol.StreamRequest),
	}
}

func (p *Plan) ID() uuid.UUID { return p.id }

// TransferFiles adds files to push to the given peer.
func (p *Plan) TransferFiles(peer netip.AddrPort, files ...OutgoingFile) *Plan {
	p.transfers[peer] = append(p.transfers[peer], files...)
	return p
}

// RequestRanges asks the given peer to stream back its data for the
// given tables and token ranges.
func (p *Plan) RequestRanges(peer netip.AddrPort, keyspace string, tables []string, ranges []protocol.Section) *Plan {
	p.requests[peer] = append(p.requests[peer], protocol.StreamRequest{
		Keyspace: keyspace,
		Tables:   tables,
		Ranges:   ranges,
	})
	return p
}

// FailFast makes the first session failure abort all remaining
// sessions. The default is to let the others run to their own outcome.
func (p *Plan) FailFast() *Plan {
	p.failFast = true
	return p
}

// Empty reports whether the plan has no work in either direction.
func (p *Plan) Empty() bool {
	return len(p.transfers) == 0 && len(p.requests) == 0
}

// Execute registers the plan with the manager and starts one session
// per peer. The returned future resolves when all sessions have.
func (p *Plan) Execute() *ResultFuture {
	f := newResultFuture(p.id, p.description, p.failFast)

	peers := make(map[netip.AddrPort]struct{}, len(p.transfers)+len(p.requests))
	for peer := range p.transfers {
		peers[peer] = struct{}{}
	}
	for peer := range p.requests {
		peers[peer] = struct{}{}
	}

	var sessions []*Session
	for peer := range peers {
		s := p.manager.newOutgoingSession(p.id, p.description, peer)
		s.addTransferFiles(p.transfers[peer])
		s.addRequests(p.requests[peer]...)
		f.addSession(s)
		sessions = append(sessions, s)
	}

	if len(sessions) == 0 {
		f.resolve()
		return f
	}

	p.manager.register(f)
	l.Infof("executing plan %s (%s) against %d peers", p.id, p.description, len(sessions))
	for _, s := range sessions {
		go s.connect()
	}
	return f
}
