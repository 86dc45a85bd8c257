// Copyright (C) 2026 The Stratum Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package streaming

import (
	"container/heap"
	"sync"

	"github.com/stratumdb/stratum/lib/protocol"
)

// An outboxItem is one queued outgoing message. For file messages the
// file field carries the payload source; everything else is header only.
type outboxItem struct {
	msg  protocol.Message
	file *outgoingFile
	task *TransferTask
	done chan struct{} // closed once the message has hit the wire
	fifo int64         // insertion order tiebreak within equal priority
}

// The outbox orders queued messages by protocol priority, so control
// messages overtake queued file payloads. Within one priority, FIFO.
type outbox struct {
	mut    sync.Mutex
	cond   *sync.Cond
	items  itemHeap
	nextID int64
	closed bool
}

func newOutbox() *outbox {
	ob := &outbox{}
	ob.cond = sync.NewCond(&ob.mut)
	return ob
}

func (ob *outbox) push(item outboxItem) error {
	ob.mut.Lock()
	defer ob.mut.Unlock()
	if ob.closed {
		return ErrSessionClosed
	}
	item.fifo = ob.nextID
	ob.nextID++
	heap.Push(&ob.items, item)
	ob.cond.Signal()
	return nil
}

// pop blocks until a message is available or the outbox is closed.
func (ob *outbox) pop() (outboxItem, bool) {
	ob.mut.Lock()
	defer ob.mut.Unlock()
	for len(ob.items) == 0 && !ob.closed {
		ob.cond.Wait()
	}
	if len(ob.items) == 0 {
		return outboxItem{}, false
	}
	return heap.Pop(&ob.items).(outboxItem), true
}

func (ob *outbox) close() {
	ob.mut.Lock()
	ob.closed = true
	for _, item := range ob.items {
		if item.done != nil {
			close(item.done)
		}
	}
	ob.items = nil
	ob.cond.Broadcast()
	ob.mut.Unlock()
}

type itemHeap []outboxItem

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	pi := h[i].msg.Type().Priority()
	pj := h[j].msg.Type().Priority()
	if pi != pj {
		return pi > pj
	}
	return h[i].fifo < h[j].fifo
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x interface{}) { *h = append(*h, x.(outboxItem)) }

func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
