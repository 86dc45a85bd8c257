// Copyright (C) 2026 The Stratum Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package streaming

import (
	"github.com/stratumdb/stratum/lib/protocol"
	"github.com/stratumdb/stratum/lib/sstable"
)

// An OutgoingFile pairs a local table file with the byte sections of it
// that should go on the wire.
type OutgoingFile struct {
	Reader        sstable.Reader
	EstimatedKeys int64
	Sections      []protocol.Section
}

// A Source selects local files to satisfy an incoming stream request.
// Which files cover which ranges is the storage engine's business, not
// the streaming layer's; the engine plugs in here.
type Source interface {
	OutgoingFilesFor(req protocol.StreamRequest) ([]OutgoingFile, error)
}
