// Copyright (C) 2026 The Stratum Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package streaming

import (
	"context"
	"net/netip"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/time/rate"

	"github.com/stratumdb/stratum/lib/config"
)

const limiterBurstSize = 4 * 128 << 10

// Limiters caps outbound streaming throughput per destination peer. One
// limiter per peer address, shared by every session and task sending to
// that peer, alive for the lifetime of the process.
type Limiters struct {
	cfg   *config.Wrapper
	peers *xsync.MapOf[netip.Addr, *rate.Limiter]
}

func NewLimiters(cfg *config.Wrapper) *Limiters {
	return &Limiters{
		cfg:   cfg,
		peers: xsync.NewMapOf[netip.Addr, *rate.Limiter](),
	}
}

// Limiter returns the limiter for the given peer, creating it on first
// use. The configured throughput is re-read on every call and applied in
// place, so configuration changes take effect for in-flight transfers.
// Zero configured throughput means unlimited.
func (ls *Limiters) Limiter(peer netip.Addr) *rate.Limiter {
	lim, _ := ls.peers.LoadOrCompute(peer, func() *rate.Limiter {
		l.Debugln("creating rate limiter for", peer)
		return rate.NewLimiter(rate.Inf, limiterBurstSize)
	})

	limit := rate.Inf
	if mbps := ls.cfg.Options().StreamThroughputMbps; mbps > 0 {
		// Megabits per second to bytes per second.
		limit = rate.Limit(float64(mbps) * 1024 * 1024 / 8)
	}
	if lim.Limit() != limit {
		lim.SetLimit(limit)
	}
	return lim
}

// Acquire blocks until n bytes of send budget are available for the
// peer, or the context is cancelled. It never rejects, only delays.
func (ls *Limiters) Acquire(ctx context.Context, peer netip.Addr, n int) error {
	lim := ls.Limiter(peer)

	// No call to WaitN may exceed the limiter burst size, so large
	// acquisitions are split up.
	for n > 0 {
		chunk := n
		if chunk > limiterBurstSize {
			chunk = limiterBurstSize
		}
		if err := lim.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}
