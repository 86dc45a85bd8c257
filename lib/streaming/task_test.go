// Copyright (C) 2026 The Stratum Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package streaming

import (
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"

	"github.com/stratumdb/stratum/lib/protocol"
	"github.com/stratumdb/stratum/lib/sstable"
)

type fakeNotifier struct {
	transferDone int
	receiveDone  int
}

func (n *fakeNotifier) transferTaskCompleted(*TransferTask) { n.transferDone++ }
func (n *fakeNotifier) receiveTaskCompleted(*ReceiveTask)   { n.receiveDone++ }

// memReader serves file sections from a byte slice.
type memReader struct {
	ref  sstable.Ref
	data []byte
}

func (r *memReader) Ref() sstable.Ref     { return r.ref }
func (r *memReader) EstimatedKeys() int64 { return int64(len(r.data) / 64) }
func (r *memReader) ReadSection(w io.Writer, start, end int64) error {
	if end > int64(len(r.data)) {
		return io.ErrUnexpectedEOF
	}
	_, err := w.Write(r.data[start:end])
	return err
}

func addTestFile(t *testing.T, task *TransferTask, tableID uuid.UUID, size int64) protocol.FileHeader {
	t.Helper()
	r := &memReader{
		ref:  sstable.Ref{Keyspace: "ks", Table: "tbl", TableID: tableID, Generation: 1},
		data: make([]byte, size),
	}
	return task.AddFile(r, 10, []protocol.Section{{Start: 0, End: size}}, false)
}

func TestTransferTaskSequenceNumbers(t *testing.T) {
	tableID := uuid.New()
	notifier := &fakeNotifier{}
	task := newTransferTask(notifier, tableID)

	for i, size := range []int64{10, 20, 30} {
		hdr := addTestFile(t, task, tableID, size)
		if hdr.Sequence != i {
			t.Errorf("file %d got sequence %d", i, hdr.Sequence)
		}
		if hdr.Size() != size {
			t.Errorf("file %d got size %d, expected %d", i, hdr.Size(), size)
		}
	}

	if files := task.TotalFiles(); files != 3 {
		t.Errorf("got %d pending files, expected 3", files)
	}
	if size := task.TotalSize(); size != 60 {
		t.Errorf("got total size %d, expected 60", size)
	}

	task.Complete(1)
	if files := task.TotalFiles(); files != 2 {
		t.Errorf("got %d pending files after one completion, expected 2", files)
	}
	if notifier.transferDone != 0 {
		t.Error("notified with files still pending")
	}

	task.Complete(0)
	task.Complete(2)
	if files := task.TotalFiles(); files != 0 {
		t.Errorf("got %d pending files after all completions", files)
	}
	if notifier.transferDone != 1 {
		t.Errorf("got %d notifications, expected exactly 1", notifier.transferDone)
	}
}

func TestTransferTaskCompleteIdempotent(t *testing.T) {
	tableID := uuid.New()
	notifier := &fakeNotifier{}
	task := newTransferTask(notifier, tableID)
	addTestFile(t, task, tableID, 10)
	addTestFile(t, task, tableID, 20)

	task.Complete(0)
	task.Complete(0) // duplicate, no effect
	if files := task.TotalFiles(); files != 1 {
		t.Errorf("got %d pending files, expected 1", files)
	}
	if notifier.transferDone != 0 {
		t.Errorf("notified after %d of 2 files", notifier.transferDone)
	}

	task.Complete(1)
	if notifier.transferDone != 1 {
		t.Errorf("got %d notifications, expected 1", notifier.transferDone)
	}
	task.Complete(1)
	if notifier.transferDone != 1 {
		t.Errorf("got %d notifications after duplicate, expected 1", notifier.transferDone)
	}
}

func TestTransferTaskRetry(t *testing.T) {
	tableID := uuid.New()
	task := newTransferTask(&fakeNotifier{}, tableID)
	addTestFile(t, task, tableID, 10)

	// A sequence number this task never issued is a stale retry.
	if _, err := task.Retry(7); !errors.Is(err, ErrNoSuchFile) {
		t.Errorf("got %v, expected ErrNoSuchFile", err)
	}

	// A pending file is returned, with the same header, and the attempt
	// counted.
	file, err := task.Retry(0)
	if err != nil {
		t.Fatal(err)
	}
	if file.header.Sequence != 0 {
		t.Errorf("retry returned sequence %d", file.header.Sequence)
	}
	if file.retries != 1 {
		t.Errorf("got %d retries, expected 1", file.retries)
	}

	// A retry after completion re-activates the same descriptor; the
	// receiver's local write may have failed after the payload was fully
	// on the wire.
	task.Complete(0)
	if files := task.TotalFiles(); files != 0 {
		t.Fatalf("got %d pending files after complete", files)
	}
	again, err := task.Retry(0)
	if err != nil {
		t.Fatal(err)
	}
	if again != file {
		t.Error("retry after complete created a new descriptor")
	}
	if files := task.TotalFiles(); files != 1 {
		t.Errorf("got %d pending files after retry, expected 1", files)
	}
}

func TestTransferTaskWrongTablePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic adding file for the wrong table")
		}
	}()
	task := newTransferTask(&fakeNotifier{}, uuid.New())
	addTestFile(t, task, uuid.New(), 10)
}

func TestReceiveTaskDuplicates(t *testing.T) {
	notifier := &fakeNotifier{}
	task := newReceiveTask(notifier, protocol.StreamSummary{
		TableID:   uuid.New(),
		Files:     2,
		TotalSize: 100,
	})

	task.Received(0)
	task.Received(0) // retried send, counted once
	if rem := task.Remaining(); rem != 1 {
		t.Errorf("got %d remaining, expected 1", rem)
	}
	if notifier.receiveDone != 0 {
		t.Error("notified before all files arrived")
	}

	task.Received(1)
	if notifier.receiveDone != 1 {
		t.Errorf("got %d notifications, expected 1", notifier.receiveDone)
	}
}
