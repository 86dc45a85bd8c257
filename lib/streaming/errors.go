// Copyright (C) 2026 The Stratum Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package streaming

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSuchFile is returned by TransferTask.Retry when the requested
	// sequence number is not pending (stale retry).
	ErrNoSuchFile = errors.New("no such pending file")

	// ErrRemoteSessionFailed indicates the peer aborted the session.
	ErrRemoteSessionFailed = errors.New("session failed by peer")

	// ErrSessionClosed is returned when queueing on a terminated session.
	ErrSessionClosed = errors.New("session closed")

	// ErrPlanAborted indicates the plan was aborted locally.
	ErrPlanAborted = errors.New("stream plan aborted")

	// ErrRetryLimitExceeded indicates a single file failed more times
	// than the configured retry limit.
	ErrRetryLimitExceeded = errors.New("file retry limit exceeded")
)

// A StreamError is the failure outcome of a whole plan. It carries the
// final state snapshot, so the registry can identify the plan to remove
// even though the underlying cause knows nothing about plans.
type StreamError struct {
	State State
	Err   error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream plan %s (%s) failed: %v", e.State.PlanID, e.State.Description, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}
