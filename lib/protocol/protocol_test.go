// Copyright (C) 2026 The Stratum Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"reflect"
	"testing"

	"github.com/google/uuid"
)

func TestMessageRoundTrip(t *testing.T) {
	tableID := uuid.MustParse("11111111-2222-3333-4444-555555555555")

	cases := []Message{
		&Prepare{
			Requests: []StreamRequest{
				{
					Keyspace: "ks1",
					Tables:   []string{"users", "events"},
					Ranges:   []Section{{Start: 0, End: 1000}, {Start: 5000, End: 9000}},
				},
			},
			Summaries: []StreamSummary{
				{TableID: tableID, Files: 3, TotalSize: 12345},
			},
		},
		&File{
			Header: FileHeader{
				TableID:       tableID,
				Sequence:      7,
				Name:          "ks1/users-12-Data.db",
				EstimatedKeys: 4096,
				Sections:      []Section{{Start: 0, End: 100}, {Start: 200, End: 450}},
				Compressed:    true,
			},
		},
		&Retry{TableID: tableID, Sequence: 3},
		&Complete{},
		&SessionFailed{},
	}

	for _, msg := range cases {
		buf := new(bytes.Buffer)
		if err := WriteMessage(buf, msg, CurrentVersion); err != nil {
			t.Fatalf("%s: write: %v", msg.Type(), err)
		}
		got, err := ReadMessage(buf, CurrentVersion)
		if err != nil {
			t.Fatalf("%s: read: %v", msg.Type(), err)
		}
		if !reflect.DeepEqual(msg, got) {
			t.Errorf("%s: round trip mismatch:\n  sent %#v\n  got  %#v", msg.Type(), msg, got)
		}
	}
}

func TestMessageFraming(t *testing.T) {
	msg := &Retry{
		TableID:  uuid.MustParse("11111111-2222-3333-4444-555555555555"),
		Sequence: 3,
	}
	buf := new(bytes.Buffer)
	if err := WriteMessage(buf, msg, CurrentVersion); err != nil {
		t.Fatal(err)
	}
	bs := buf.Bytes()

	if len(bs) != 5+msg.XDRSize() {
		t.Errorf("frame is %d bytes, expected %d", len(bs), 5+msg.XDRSize())
	}
	if bs[0] != byte(TypeRetry) {
		t.Errorf("type tag 0x%02x, expected 0x%02x", bs[0], byte(TypeRetry))
	}
	if size := binary.BigEndian.Uint32(bs[1:5]); size != uint32(msg.XDRSize()) {
		t.Errorf("length prefix %d, expected %d", size, msg.XDRSize())
	}

	// A truncated payload is a read error, not a bad message.
	if _, err := ReadMessage(bytes.NewReader(bs[:len(bs)-4]), CurrentVersion); err != io.ErrUnexpectedEOF {
		t.Errorf("got %v for truncated frame, expected io.ErrUnexpectedEOF", err)
	}

	// An absurd length prefix is rejected before any allocation.
	over := []byte{byte(TypePrepare), 0xff, 0xff, 0xff, 0xff}
	if _, err := ReadMessage(bytes.NewReader(over), CurrentVersion); err == nil {
		t.Error("expected an error for an oversized frame")
	}
}

func TestUnknownTypeTag(t *testing.T) {
	buf := bytes.NewBuffer([]byte{99, 0, 0, 0, 0})
	_, err := ReadMessage(buf, CurrentVersion)
	if !errors.Is(err, ErrUnknownMessage) {
		t.Fatalf("expected ErrUnknownMessage, got %v", err)
	}
}

func TestFileHeaderSize(t *testing.T) {
	h := FileHeader{
		Sections: []Section{{Start: 0, End: 10}, {Start: 100, End: 120}, {Start: 300, End: 330}},
	}
	if size := h.Size(); size != 60 {
		t.Errorf("size = %d, expected 60", size)
	}
}

func TestPriorities(t *testing.T) {
	// The relative order is part of the protocol contract: control
	// messages must overtake queued file payloads.
	cases := []struct {
		t        Type
		priority int
	}{
		{TypePrepare, 5},
		{TypeSessionFailed, 5},
		{TypeComplete, 4},
		{TypeRetry, 1},
		{TypeFile, 0},
	}
	for _, tc := range cases {
		if p := tc.t.Priority(); p != tc.priority {
			t.Errorf("%s priority = %d, expected %d", tc.t, p, tc.priority)
		}
	}
}

func TestVersionPreamble(t *testing.T) {
	buf := new(bytes.Buffer)
	if err := WriteVersion(buf); err != nil {
		t.Fatal(err)
	}
	if v, err := ReadVersion(buf); err != nil || v != CurrentVersion {
		t.Fatalf("got version %d, err %v", v, err)
	}

	_, err := ReadVersion(bytes.NewBuffer([]byte{42}))
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
}

func TestStreamInitRoundTrip(t *testing.T) {
	init := StreamInit{
		PlanID:      uuid.MustParse("99999999-8888-7777-6666-555555555555"),
		Description: "bootstrap",
	}
	buf := new(bytes.Buffer)
	if err := WriteStreamInit(buf, init); err != nil {
		t.Fatal(err)
	}
	got, err := ReadStreamInit(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got != init {
		t.Errorf("round trip mismatch: sent %v, got %v", init, got)
	}
}
