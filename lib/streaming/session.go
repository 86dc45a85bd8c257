// Copyright (C) 2026 The Stratum Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package streaming

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/stratumdb/stratum/lib/config"
	"github.com/stratumdb/stratum/lib/protocol"
	"github.com/stratumdb/stratum/lib/sstable"
)

// SessionState is the lifecycle state of a stream session.
type SessionState int32

const (
	SessionInit SessionState = iota
	SessionPreparing
	SessionStreaming
	SessionClosing
	SessionComplete
	SessionFailed
)

func (st SessionState) String() string {
	switch st {
	case SessionInit:
		return "init"
	case SessionPreparing:
		return "preparing"
	case SessionStreaming:
		return "streaming"
	case SessionClosing:
		return "closing"
	case SessionComplete:
		return "complete"
	case SessionFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is final.
func (st SessionState) Terminal() bool {
	return st == SessionComplete || st == SessionFailed
}

// sendTimeout is the longest we wait for a final control message to
// reach the wire before closing the connection anyway.
var sendTimeout = 10 * time.Second

// errWireRead marks handler failures where the transport itself broke
// mid-payload; there is no point sending a failure notice over it.
var errWireRead = errors.New("wire read failed")

// A Session drives the exchange with a single peer within a plan: one
// connection, one handshake, any number of transfer and receive tasks.
// A failing session never tears down sibling sessions of the same plan.
type Session struct {
	planID      uuid.UUID
	description string
	peer        netip.AddrPort
	initiator   bool

	cfg      *config.Wrapper
	limiters *Limiters
	store    sstable.Store
	source   Source
	owner    *ResultFuture

	conn    net.Conn
	version byte

	state atomic.Int32

	mut            sync.Mutex
	transfers      map[uuid.UUID]*TransferTask
	receivers      map[uuid.UUID]*ReceiveTask
	requests       []protocol.StreamRequest
	prepared       bool
	completeSent   bool
	peerComplete   bool
	started        bool
	settled        bool
	completeOnWire chan struct{}

	bytesSent     atomic.Int64
	bytesReceived atomic.Int64

	out        *outbox
	closed     chan struct{}
	closeOnce  sync.Once
	settleOnce sync.Once
	finalErr   error

	ctx    context.Context
	cancel context.CancelFunc
}

func newSession(planID uuid.UUID, description string, peer netip.AddrPort, initiator bool, cfg *config.Wrapper, limiters *Limiters, store sstable.Store, source Source) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		planID:      planID,
		description: description,
		peer:        peer,
		initiator:   initiator,
		cfg:         cfg,
		limiters:    limiters,
		store:       store,
		source:      source,
		transfers:   make(map[uuid.UUID]*TransferTask),
		receivers:   make(map[uuid.UUID]*ReceiveTask),
		out:         newOutbox(),
		closed:      make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Peer returns the remote address of this session.
func (s *Session) Peer() netip.AddrPort { return s.peer }

// State returns the current lifecycle state.
func (s *Session) State() SessionState { return SessionState(s.state.Load()) }

// Err returns the failure cause after the session has failed.
func (s *Session) Err() error {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.finalErr
}

func (s *Session) setState(st SessionState) {
	old := SessionState(s.state.Swap(int32(st)))
	if old != st {
		l.Debugf("session %s with %s: %s -> %s", s.planID, s.peer, old, st)
	}
}

// addTransferFiles creates transfer tasks as needed and queues the
// given files for sending. Must be called before the session starts, or
// from the prepare exchange.
func (s *Session) addTransferFiles(files []OutgoingFile) {
	compress := s.cfg.Options().CompressFiles
	s.mut.Lock()
	defer s.mut.Unlock()
	for _, f := range files {
		id := f.Reader.Ref().TableID
		task, ok := s.transfers[id]
		if !ok {
			task = newTransferTask(s, id)
			s.transfers[id] = task
		}
		task.AddFile(f.Reader, f.EstimatedKeys, f.Sections, compress)
	}
}

func (s *Session) addRequests(reqs ...protocol.StreamRequest) {
	s.mut.Lock()
	s.requests = append(s.requests, reqs...)
	s.mut.Unlock()
}

// connect dials the peer, performs the version and init handshake, and
// runs the session. Used by the initiating side.
func (s *Session) connect() {
	conn, err := net.DialTimeout("tcp", s.peer.String(), 30*time.Second)
	if err != nil {
		s.fail(fmt.Errorf("connecting to %s: %w", s.peer, err))
		return
	}
	if err := protocol.WriteVersion(conn); err != nil {
		conn.Close()
		s.fail(fmt.Errorf("writing version preamble: %w", err))
		return
	}
	init := protocol.StreamInit{PlanID: s.planID, Description: s.description}
	if err := protocol.WriteStreamInit(conn, init); err != nil {
		conn.Close()
		s.fail(fmt.Errorf("writing stream init: %w", err))
		return
	}
	s.bind(conn, protocol.CurrentVersion)
}

// bind attaches an established, handshook connection and starts the
// message loops. The session moves to the preparing state; the
// initiating side opens with its prepare message.
func (s *Session) bind(conn net.Conn, version byte) {
	s.mut.Lock()
	if s.settled {
		// The session was aborted or failed while the dial was still in
		// flight. The teardown already ran with no connection attached,
		// so this one must not come alive.
		s.mut.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	s.version = version
	s.started = true
	s.mut.Unlock()

	s.setState(SessionPreparing)
	metricActiveSessions.Inc()

	go s.readerLoop()
	go s.writerLoop()

	if s.initiator {
		s.mut.Lock()
		prepare := &protocol.Prepare{Requests: s.requests, Summaries: s.summariesLocked()}
		s.mut.Unlock()
		s.out.push(outboxItem{msg: prepare})
	}
}

func (s *Session) readerLoop() {
	for {
		msg, err := protocol.ReadMessage(s.conn, s.version)
		if err != nil {
			if s.State().Terminal() {
				return
			}
			s.failWire(fmt.Errorf("reading from %s: %w", s.peer, err))
			return
		}
		if err := s.handle(msg); err != nil {
			if errors.Is(err, errWireRead) {
				s.failWire(err)
			} else {
				s.fail(err)
			}
			return
		}
	}
}

func (s *Session) writerLoop() {
	for {
		item, ok := s.out.pop()
		if !ok {
			return
		}
		err := s.writeItem(item)
		if item.done != nil {
			close(item.done)
		}
		if err != nil {
			s.failWire(fmt.Errorf("writing %s to %s: %w", item.msg.Type(), s.peer, err))
			return
		}
	}
}

func (s *Session) writeItem(item outboxItem) error {
	if err := protocol.WriteMessage(s.conn, item.msg, s.version); err != nil {
		return err
	}
	if item.file == nil {
		return nil
	}

	if err := s.writeFilePayload(item.file); err != nil {
		return err
	}
	// A fully written payload counts as completed; there is no explicit
	// acknowledgement. The receiver asks for a retry if its side failed.
	item.task.Complete(item.file.header.Sequence)
	metricFilesSent.WithLabelValues(s.peer.Addr().String()).Inc()
	if s.owner != nil {
		s.owner.sessionProgress(s)
	}
	return nil
}

func (s *Session) writeFilePayload(f *outgoingFile) error {
	var w io.Writer = &limitedWriter{
		w:        s.conn,
		limiters: s.limiters,
		peer:     s.peer.Addr(),
		ctx:      s.ctx,
		sent:     &s.bytesSent,
	}
	if f.header.Compressed {
		w = newCompressedWriter(w)
	}
	for _, sec := range f.header.Sections {
		if err := f.reader.ReadSection(w, sec.Start, sec.End); err != nil {
			return fmt.Errorf("sending %s seq %d: %w", f.header.Name, f.header.Sequence, err)
		}
	}
	l.Debugf("sent %s seq %d (%d bytes) to %s", f.header.Name, f.header.Sequence, f.header.Size(), s.peer)
	return nil
}

func (s *Session) handle(msg protocol.Message) error {
	switch msg := msg.(type) {
	case *protocol.Prepare:
		return s.handlePrepare(msg)
	case *protocol.File:
		return s.receiveFile(msg.Header)
	case *protocol.Retry:
		return s.handleRetry(msg)
	case *protocol.Complete:
		s.mut.Lock()
		s.peerComplete = true
		s.mut.Unlock()
		s.maybeComplete()
		return nil
	case *protocol.SessionFailed:
		return ErrRemoteSessionFailed
	default:
		return fmt.Errorf("%w: %T", protocol.ErrUnknownMessage, msg)
	}
}

func (s *Session) handlePrepare(p *protocol.Prepare) error {
	s.mut.Lock()
	for _, sum := range p.Summaries {
		if sum.Files > 0 {
			s.receivers[sum.TableID] = newReceiveTask(s, sum)
		}
	}
	s.mut.Unlock()

	if !s.initiator {
		var files []OutgoingFile
		for _, req := range p.Requests {
			if s.source == nil {
				return fmt.Errorf("peer requested %q but no stream source is configured", req.Keyspace)
			}
			fs, err := s.source.OutgoingFilesFor(req)
			if err != nil {
				return fmt.Errorf("selecting files for %q: %w", req.Keyspace, err)
			}
			files = append(files, fs...)
		}
		s.addTransferFiles(files)

		s.mut.Lock()
		reply := &protocol.Prepare{Summaries: s.summariesLocked()}
		s.mut.Unlock()
		if err := s.out.push(outboxItem{msg: reply}); err != nil {
			return err
		}
	}

	s.startStreaming()
	return nil
}

// startStreaming queues every pending file and moves to the streaming
// state. Sessions with nothing to do in either direction complete
// immediately.
func (s *Session) startStreaming() {
	s.mut.Lock()
	s.prepared = true
	tasks := make([]*TransferTask, 0, len(s.transfers))
	for _, t := range s.transfers {
		tasks = append(tasks, t)
	}
	s.mut.Unlock()

	s.setState(SessionStreaming)
	for _, t := range tasks {
		for _, f := range t.pending() {
			s.out.push(outboxItem{msg: &protocol.File{Header: f.header}, file: f, task: t})
		}
	}
	s.maybeComplete()
}

// summariesLocked describes what this side is about to send. Caller
// must hold s.mut.
func (s *Session) summariesLocked() []protocol.StreamSummary {
	var sums []protocol.StreamSummary
	for id, t := range s.transfers {
		sums = append(sums, protocol.StreamSummary{
			TableID:   id,
			Files:     t.TotalFiles(),
			TotalSize: t.TotalSize(),
		})
	}
	return sums
}

func (s *Session) receiveFile(hdr protocol.FileHeader) error {
	s.mut.Lock()
	task := s.receivers[hdr.TableID]
	s.mut.Unlock()
	if task == nil {
		return fmt.Errorf("received file for unannounced table %s", hdr.TableID)
	}

	keyspace, table := splitName(hdr.Name)
	ref := sstable.Ref{
		Keyspace: keyspace,
		Table:    table,
		TableID:  hdr.TableID,
		// The local generation is our own business; the sequence number
		// is unique within the session.
		Generation: hdr.Sequence,
	}

	w, err := s.store.Create(ref, hdr.EstimatedKeys, hdr.Size())
	var sink io.Writer
	if err != nil {
		l.Warnf("creating local file for %s from %s: %v", hdr.Name, s.peer, err)
		sink = io.Discard
	} else {
		sink = w
	}

	// Local write failures must not desynchronize the wire; the tracked
	// writer swallows them and keeps draining the payload so we can ask
	// for a retry afterwards.
	tw := &trackingWriter{w: sink}
	var readErr error
	if hdr.Compressed {
		readErr = copyCompressed(tw, s.conn, hdr.Size())
	} else {
		_, readErr = io.CopyN(tw, s.conn, hdr.Size())
	}
	if readErr != nil {
		if w != nil {
			w.Abort()
		}
		return fmt.Errorf("%w: receiving %s seq %d: %w", errWireRead, hdr.Name, hdr.Sequence, readErr)
	}
	s.bytesReceived.Add(hdr.Size())

	if tw.err != nil || w == nil {
		if w != nil {
			w.Abort()
		}
		l.Infof("failed writing %s seq %d from %s (%v), requesting retry", hdr.Name, hdr.Sequence, s.peer, tw.err)
		return s.out.push(outboxItem{msg: &protocol.Retry{TableID: hdr.TableID, Sequence: hdr.Sequence}})
	}
	if err := w.Commit(); err != nil {
		l.Infof("failed committing %s seq %d from %s (%v), requesting retry", hdr.Name, hdr.Sequence, s.peer, err)
		return s.out.push(outboxItem{msg: &protocol.Retry{TableID: hdr.TableID, Sequence: hdr.Sequence}})
	}

	metricFilesReceived.WithLabelValues(s.peer.Addr().String()).Inc()
	metricBytesReceived.WithLabelValues(s.peer.Addr().String()).Add(float64(hdr.Size()))
	task.Received(hdr.Sequence)
	if s.owner != nil {
		s.owner.sessionProgress(s)
	}
	return nil
}

func (s *Session) handleRetry(msg *protocol.Retry) error {
	s.mut.Lock()
	task := s.transfers[msg.TableID]
	retryLimit := s.cfg.Options().RetryLimit
	s.mut.Unlock()
	if task == nil {
		// We never had a transfer task for this table.
		l.Infof("ignoring stale retry for table %s seq %d from %s", msg.TableID, msg.Sequence, s.peer)
		return nil
	}

	file, err := task.Retry(msg.Sequence)
	if errors.Is(err, ErrNoSuchFile) {
		l.Infof("ignoring stale retry for table %s seq %d from %s", msg.TableID, msg.Sequence, s.peer)
		return nil
	}
	if file.retries > retryLimit {
		return fmt.Errorf("%w: %s seq %d (%d attempts)", ErrRetryLimitExceeded, file.header.Name, msg.Sequence, file.retries)
	}

	l.Debugf("re-sending %s seq %d to %s (attempt %d)", file.header.Name, msg.Sequence, s.peer, file.retries+1)
	return s.out.push(outboxItem{msg: &protocol.File{Header: file.header}, file: file, task: task})
}

// Tasks stay registered after finishing; the sender needs them around
// to serve late retry requests, the receiver to deduplicate re-sent
// files.
func (s *Session) transferTaskCompleted(*TransferTask) {
	s.maybeComplete()
}

func (s *Session) receiveTaskCompleted(*ReceiveTask) {
	s.maybeComplete()
}

// maybeComplete queues our complete message when every task in both
// directions has finished, and settles the session once the peer has
// said the same. It never blocks; it may be called from either message
// loop.
func (s *Session) maybeComplete() {
	s.mut.Lock()
	if !s.prepared {
		s.mut.Unlock()
		return
	}
	for _, t := range s.transfers {
		if t.TotalFiles() > 0 {
			s.mut.Unlock()
			return
		}
	}
	for _, t := range s.receivers {
		if t.Remaining() > 0 {
			s.mut.Unlock()
			return
		}
	}
	sendComplete := !s.completeSent
	s.completeSent = true
	peerDone := s.peerComplete
	var done chan struct{}
	if sendComplete {
		done = make(chan struct{})
		s.completeOnWire = done
	}
	s.mut.Unlock()

	if sendComplete {
		s.setState(SessionClosing)
		if s.out.push(outboxItem{msg: &protocol.Complete{}, done: done}) != nil {
			close(done)
		}
	}
	if peerDone {
		s.succeed()
	}
}

// succeed settles the session successfully. The actual teardown runs on
// its own goroutine: it must wait for our complete message to hit the
// wire, and the caller may be the very writer goroutine that sends it.
func (s *Session) succeed() {
	s.settleOnce.Do(func() {
		s.mut.Lock()
		s.settled = true
		s.mut.Unlock()
		go func() {
			s.mut.Lock()
			flushed := s.completeOnWire
			s.mut.Unlock()
			if flushed != nil {
				select {
				case <-flushed:
				case <-time.After(sendTimeout):
				}
			}
			s.setState(SessionComplete)
			l.Infof("session %s with %s completed", s.planID, s.peer)
			s.close()
			if s.owner != nil {
				s.owner.sessionSettled(s)
			}
		}()
	})
}

// fail terminates the session: the peer is told (best effort, unless it
// failed us first), the socket is closed and the owning plan is handed
// the failure cause. Sibling sessions are unaffected. Not for transport
// errors; those go through failWire.
func (s *Session) fail(err error) {
	s.settleOnce.Do(func() {
		s.mut.Lock()
		s.finalErr = err
		s.settled = true
		started := s.started
		s.mut.Unlock()
		s.setState(SessionFailed)
		l.Warnf("session %s with %s failed: %v", s.planID, s.peer, err)

		if started && !errors.Is(err, ErrRemoteSessionFailed) {
			done := make(chan struct{})
			if s.out.push(outboxItem{msg: &protocol.SessionFailed{}, done: done}) == nil {
				select {
				case <-done:
				case <-time.After(sendTimeout):
				}
			}
		}
		s.close()
		if s.owner != nil {
			s.owner.sessionSettled(s)
		}
	})
}

// failWire terminates the session after a transport error. The
// connection is not worth telling anything anymore.
func (s *Session) failWire(err error) {
	s.settleOnce.Do(func() {
		s.mut.Lock()
		s.finalErr = err
		s.settled = true
		s.mut.Unlock()
		s.setState(SessionFailed)
		l.Warnf("session %s with %s failed: %v", s.planID, s.peer, err)
		s.close()
		if s.owner != nil {
			s.owner.sessionSettled(s)
		}
	})
}

// abort is the plan level cancellation path.
func (s *Session) abort() {
	s.fail(ErrPlanAborted)
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.mut.Lock()
		conn := s.conn
		started := s.started
		s.mut.Unlock()
		if conn != nil {
			conn.Close()
		}
		s.out.close()
		s.cancel()
		close(s.closed)
		if started {
			metricActiveSessions.Dec()
		}
	})
}

// info captures a point in time snapshot of the session for status
// reporting and failure propagation.
func (s *Session) info() SessionInfo {
	s.mut.Lock()
	pendingSend := 0
	for _, t := range s.transfers {
		pendingSend += t.TotalFiles()
	}
	pendingReceive := 0
	for _, t := range s.receivers {
		pendingReceive += t.Remaining()
	}
	var failure string
	if s.finalErr != nil {
		failure = s.finalErr.Error()
	}
	s.mut.Unlock()

	return SessionInfo{
		Peer:                s.peer.String(),
		State:               s.State().String(),
		PendingSendFiles:    pendingSend,
		PendingReceiveFiles: pendingReceive,
		BytesSent:           s.bytesSent.Load(),
		BytesReceived:       s.bytesReceived.Load(),
		Failure:             failure,
	}
}

// trackingWriter records the first write error and swallows it, so a
// payload read off the socket can be drained in full even when the
// local sink is broken.
type trackingWriter struct {
	w   io.Writer
	err error
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	if t.err == nil {
		if _, err := t.w.Write(p); err != nil {
			t.err = err
		}
	}
	return len(p), nil
}

// limitedWriter consults the per peer rate limiter before every write.
type limitedWriter struct {
	w        io.Writer
	limiters *Limiters
	peer     netip.Addr
	ctx      context.Context
	sent     *atomic.Int64
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	if err := w.limiters.Acquire(w.ctx, w.peer, len(p)); err != nil {
		return 0, err
	}
	n, err := w.w.Write(p)
	if n > 0 {
		w.sent.Add(int64(n))
		metricBytesSent.WithLabelValues(w.peer.String()).Add(float64(n))
	}
	return n, err
}

func splitName(name string) (keyspace, table string) {
	if i := strings.IndexByte(name, '/'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}
