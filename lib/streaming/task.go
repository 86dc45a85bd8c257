// Copyright (C) 2026 The Stratum Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package streaming

import (
	"sync"

	"github.com/google/uuid"

	"github.com/stratumdb/stratum/lib/protocol"
	"github.com/stratumdb/stratum/lib/sstable"
)

// An outgoingFile is one pending file send: the wire header plus the
// data source to stream it from. Retries re-send the same outgoingFile;
// a new one is never created for the same sequence number.
type outgoingFile struct {
	header  protocol.FileHeader
	reader  sstable.Reader
	retries int
}

// A taskNotifier is told when a task has nothing left to do. In
// production this is the owning session.
type taskNotifier interface {
	transferTaskCompleted(*TransferTask)
	receiveTaskCompleted(*ReceiveTask)
}

// A TransferTask owns the set of files being sent for one table within
// one session. Sequence numbers are assigned strictly increasing as
// files are added and are never reused, even across retries.
type TransferTask struct {
	session taskNotifier
	tableID uuid.UUID

	mut       sync.Mutex
	nextSeq   int
	files     map[int]*outgoingFile
	sent      map[int]*outgoingFile
	totalSize int64
}

func newTransferTask(session taskNotifier, tableID uuid.UUID) *TransferTask {
	return &TransferTask{
		session: session,
		tableID: tableID,
		files:   make(map[int]*outgoingFile),
		sent:    make(map[int]*outgoingFile),
	}
}

func (t *TransferTask) TableID() uuid.UUID { return t.tableID }

// AddFile assigns the next sequence number to the file and adds it to
// the pending set.
func (t *TransferTask) AddFile(r sstable.Reader, estimatedKeys int64, sections []protocol.Section, compressed bool) protocol.FileHeader {
	ref := r.Ref()
	if ref.TableID != t.tableID {
		panic("bug: file added to transfer task for wrong table")
	}

	t.mut.Lock()
	defer t.mut.Unlock()

	header := protocol.FileHeader{
		TableID:       t.tableID,
		Sequence:      t.nextSeq,
		Name:          ref.Name(),
		EstimatedKeys: estimatedKeys,
		Sections:      sections,
		Compressed:    compressed,
	}
	t.nextSeq++
	t.files[header.Sequence] = &outgoingFile{header: header, reader: r}
	t.totalSize += header.Size()
	return header
}

// Complete moves the file out of the pending set. There is no explicit
// acknowledgement in the protocol, so a fully written payload counts as
// completed; the descriptor is kept aside for the session's lifetime in
// case the receiver asks for a retry after all. Completing an unknown
// sequence number is a no-op. When the pending set becomes empty the
// owning session is notified.
func (t *TransferTask) Complete(seq int) {
	t.mut.Lock()
	file, ok := t.files[seq]
	if !ok {
		t.mut.Unlock()
		return
	}
	delete(t.files, seq)
	t.sent[seq] = file
	empty := len(t.files) == 0
	t.mut.Unlock()

	if empty {
		t.session.transferTaskCompleted(t)
	}
}

// Retry returns the file for re-transmission, moving it back to the
// pending set if it had already gone out once. The same descriptor is
// re-sent; a new one is never created for the same sequence number.
// A sequence number this task has never issued is a stale retry and
// yields ErrNoSuchFile; the caller logs and ignores it.
func (t *TransferTask) Retry(seq int) (*outgoingFile, error) {
	t.mut.Lock()
	defer t.mut.Unlock()
	file, ok := t.files[seq]
	if !ok {
		if file, ok = t.sent[seq]; !ok {
			return nil, ErrNoSuchFile
		}
		delete(t.sent, seq)
		t.files[seq] = file
	}
	file.retries++
	return file, nil
}

// TotalFiles returns the number of files still pending.
func (t *TransferTask) TotalFiles() int {
	t.mut.Lock()
	defer t.mut.Unlock()
	return len(t.files)
}

// TotalSize returns the cumulative size of all files ever added to the
// task, in bytes.
func (t *TransferTask) TotalSize() int64 {
	t.mut.Lock()
	defer t.mut.Unlock()
	return t.totalSize
}

func (t *TransferTask) pending() []*outgoingFile {
	t.mut.Lock()
	defer t.mut.Unlock()
	files := make([]*outgoingFile, 0, len(t.files))
	for _, f := range t.files {
		files = append(files, f)
	}
	return files
}

// A ReceiveTask tracks the inbound direction for one table: how many
// files the peer announced in its prepare summary and how many have
// fully arrived.
type ReceiveTask struct {
	session taskNotifier
	tableID uuid.UUID

	mut       sync.Mutex
	remaining int
	totalSize int64
	received  map[int]struct{}
}

func newReceiveTask(session taskNotifier, summary protocol.StreamSummary) *ReceiveTask {
	return &ReceiveTask{
		session:   session,
		tableID:   summary.TableID,
		remaining: summary.Files,
		totalSize: summary.TotalSize,
		received:  make(map[int]struct{}),
	}
}

func (t *ReceiveTask) TableID() uuid.UUID { return t.tableID }

// Received marks one file as fully arrived. Duplicate receipts of the
// same sequence number (after a retried send) are counted once. The
// session is notified when the last expected file arrives.
func (t *ReceiveTask) Received(seq int) {
	t.mut.Lock()
	if _, ok := t.received[seq]; ok {
		t.mut.Unlock()
		return
	}
	t.received[seq] = struct{}{}
	t.remaining--
	done := t.remaining <= 0
	t.mut.Unlock()

	if done {
		t.session.receiveTaskCompleted(t)
	}
}

// Remaining returns the number of files still expected.
func (t *ReceiveTask) Remaining() int {
	t.mut.Lock()
	defer t.mut.Unlock()
	return t.remaining
}

// TotalSize returns the announced total size for this table, in bytes.
func (t *ReceiveTask) TotalSize() int64 {
	t.mut.Lock()
	defer t.mut.Unlock()
	return t.totalSize
}
