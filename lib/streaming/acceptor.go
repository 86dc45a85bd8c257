// Copyright (C) 2026 The Stratum Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package streaming

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/stratumdb/stratum/lib/config"
	"github.com/stratumdb/stratum/lib/protocol"
)

const handshakeTimeout = 30 * time.Second

// The Acceptor listens for inbound stream connections, validates the
// handshake and hands sessions to the manager. A bad handshake drops
// that connection only; the listener keeps running.
type Acceptor struct {
	cfg     *config.Wrapper
	manager *Manager
}

func NewAcceptor(cfg *config.Wrapper, manager *Manager) *Acceptor {
	return &Acceptor{cfg: cfg, manager: manager}
}

func (a *Acceptor) Serve(ctx context.Context) error {
	addr := a.cfg.Options().ListenAddress
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	l.Infof("listening for stream connections on %s", addr)
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("accepting connection: %w", err)
		}
		go a.handle(conn)
	}
}

func (a *Acceptor) handle(conn net.Conn) {
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))

	version, err := protocol.ReadVersion(conn)
	if err != nil {
		l.Infof("dropping connection from %s: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}
	init, err := protocol.ReadStreamInit(conn)
	if err != nil {
		l.Infof("dropping connection from %s: reading stream init: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}

	conn.SetReadDeadline(time.Time{})
	a.manager.attachInbound(conn, version, init)
}

func (a *Acceptor) String() string {
	return fmt.Sprintf("streaming.Acceptor@%p", a)
}
