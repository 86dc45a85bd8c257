// Copyright (C) 2026 The Stratum Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package protocol

import "errors"

var (
	// ErrUnknownMessage is returned when a type tag outside the known
	// set arrives. Fatal to the connection.
	ErrUnknownMessage = errors.New("unknown message type")

	// ErrVersionMismatch is returned when the version preamble does not
	// match ours.
	ErrVersionMismatch = errors.New("protocol version mismatch")
)
