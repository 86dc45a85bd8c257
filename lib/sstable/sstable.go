// Copyright (C) 2026 The Stratum Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package sstable defines the boundary to the storage file layer. The
// streaming subsystem reads data files as opaque byte ranges and rebuilds
// received files through a Store; the file format itself lives elsewhere.
package sstable

import (
	"io"

	"github.com/google/uuid"
)

// A Ref identifies one immutable data file.
type Ref struct {
	Keyspace   string
	Table      string
	TableID    uuid.UUID
	Generation int
}

// Name returns the keyspace qualified file identity used on the wire.
func (r Ref) Name() string {
	return r.Keyspace + "/" + r.Table
}

// A Reader exposes an immutable data file as byte ranges.
type Reader interface {
	Ref() Ref
	// EstimatedKeys returns the estimated number of records in the file.
	EstimatedKeys() int64
	// ReadSection copies the byte range [start, end) to w.
	ReadSection(w io.Writer, start, end int64) error
}

// A Writer accepts the byte ranges of one incoming file. The file is not
// visible to the rest of the engine until Commit; Abort discards
// everything written so far.
type Writer interface {
	io.Writer
	Commit() error
	Abort()
}

// A Store creates writers for incoming files.
type Store interface {
	Create(ref Ref, estimatedKeys int64, totalSize int64) (Writer, error)
}
