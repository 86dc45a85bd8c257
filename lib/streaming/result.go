// Copyright (C) 2026 The Stratum Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package streaming

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// SessionInfo is a point in time snapshot of one session, suitable for
// status APIs and completion callbacks.
type SessionInfo struct {
	Peer                string `json:"peer"`
	State               string `json:"state"`
	PendingSendFiles    int    `json:"pendingSendFiles"`
	PendingReceiveFiles int    `json:"pendingReceiveFiles"`
	BytesSent           int64  `json:"bytesSent"`
	BytesReceived       int64  `json:"bytesReceived"`
	Failure             string `json:"failure,omitempty"`
}

// State is a snapshot of a whole plan.
type State struct {
	PlanID      uuid.UUID     `json:"planId"`
	Description string        `json:"description"`
	Sessions    []SessionInfo `json:"sessions"`
}

// A ResultFuture is the handle to an executing plan. It resolves once
// every session has reached a terminal state: successfully if all of
// them completed, with a StreamError carrying the final snapshot
// otherwise.
type ResultFuture struct {
	planID      uuid.UUID
	description string
	failFast    bool

	mut      sync.Mutex
	sessions []*Session
	pending  int
	firstErr error
	settled  []func(SessionInfo)
	progress []func(SessionInfo)
	aborting bool

	done chan struct{}
	err  error
}

func newResultFuture(planID uuid.UUID, description string, failFast bool) *ResultFuture {
	return &ResultFuture{
		planID:      planID,
		description: description,
		failFast:    failFast,
		done:        make(chan struct{}),
	}
}

func (f *ResultFuture) PlanID() uuid.UUID   { return f.planID }
func (f *ResultFuture) Description() string { return f.description }

// OnSessionSettled registers a callback invoked each time a session
// reaches a terminal state. Callbacks run on the session's goroutine
// and must not block.
func (f *ResultFuture) OnSessionSettled(fn func(SessionInfo)) {
	f.mut.Lock()
	f.settled = append(f.settled, fn)
	f.mut.Unlock()
}

// OnProgress registers a callback invoked after every completed file
// transfer, in either direction. Callbacks run on the session's message
// loops and must not block.
func (f *ResultFuture) OnProgress(fn func(SessionInfo)) {
	f.mut.Lock()
	f.progress = append(f.progress, fn)
	f.mut.Unlock()
}

func (f *ResultFuture) sessionProgress(s *Session) {
	f.mut.Lock()
	handlers := make([]func(SessionInfo), len(f.progress))
	copy(handlers, f.progress)
	f.mut.Unlock()
	if len(handlers) == 0 {
		return
	}

	info := s.info()
	for _, fn := range handlers {
		fn(info)
	}
}

// Done returns a channel closed when the plan has resolved.
func (f *ResultFuture) Done() <-chan struct{} { return f.done }

// Wait blocks until the plan resolves or the context is cancelled, and
// returns the final state snapshot.
func (f *ResultFuture) Wait(ctx context.Context) (State, error) {
	select {
	case <-f.done:
		return f.CurrentState(), f.err
	case <-ctx.Done():
		return f.CurrentState(), ctx.Err()
	}
}

// Result returns the outcome. It must only be called after Done is
// closed.
func (f *ResultFuture) Result() (State, error) {
	return f.CurrentState(), f.err
}

// CurrentState snapshots all sessions, terminal or not.
func (f *ResultFuture) CurrentState() State {
	f.mut.Lock()
	sessions := make([]*Session, len(f.sessions))
	copy(sessions, f.sessions)
	f.mut.Unlock()

	st := State{PlanID: f.planID, Description: f.description}
	for _, s := range sessions {
		st.Sessions = append(st.Sessions, s.info())
	}
	return st
}

// Abort cancels the plan: every unresolved session fails with
// ErrPlanAborted, in-flight receives are aborted and the peers are told
// their sessions failed.
func (f *ResultFuture) Abort() {
	f.mut.Lock()
	sessions := make([]*Session, len(f.sessions))
	copy(sessions, f.sessions)
	f.aborting = true
	f.mut.Unlock()

	for _, s := range sessions {
		s.abort()
	}
}

func (f *ResultFuture) addSession(s *Session) {
	s.owner = f
	f.mut.Lock()
	f.sessions = append(f.sessions, s)
	f.pending++
	f.mut.Unlock()
}

// sessionSettled is called by each session exactly once, on success and
// on failure alike.
func (f *ResultFuture) sessionSettled(s *Session) {
	info := s.info()

	f.mut.Lock()
	f.pending--
	if s.State() == SessionFailed && f.firstErr == nil {
		f.firstErr = s.Err()
	}
	failOthers := s.State() == SessionFailed && f.failFast && !f.aborting
	if failOthers {
		f.aborting = true
	}
	resolved := f.pending == 0
	handlers := make([]func(SessionInfo), len(f.settled))
	copy(handlers, f.settled)
	var others []*Session
	if failOthers {
		others = make([]*Session, len(f.sessions))
		copy(others, f.sessions)
	}
	f.mut.Unlock()

	for _, fn := range handlers {
		fn(info)
	}
	if failOthers {
		l.Infof("plan %s: session with %s failed, aborting remaining sessions", f.planID, s.Peer())
		go func() {
			for _, other := range others {
				if other != s {
					other.abort()
				}
			}
		}()
	}
	if resolved {
		f.resolve()
	}
}

func (f *ResultFuture) resolve() {
	f.mut.Lock()
	firstErr := f.firstErr
	f.mut.Unlock()

	if firstErr != nil {
		f.err = &StreamError{State: f.CurrentState(), Err: firstErr}
	}
	close(f.done)
}
