// Copyright (C) 2026 The Stratum Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package protocol implements the inter-node streaming wire protocol.
//
// A streaming connection starts with a single raw version byte from the
// initiating side, followed by a stream init payload naming the plan the
// connection belongs to. After that the connection carries a sequence of
// framed messages, each a one byte type tag and a four byte payload
// length followed by the XDR encoded payload.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/calmh/xdr"
)

// CurrentVersion is the streaming protocol version spoken by this node.
// It is sent as a raw byte before anything else on a new connection.
const CurrentVersion byte = 1

// maxMessageSize bounds the framed payload length. Anything larger is a
// corrupt or hostile frame; file contents are streamed outside the
// envelope and never count against it.
const maxMessageSize = 64 << 20

// Type is the one byte message type tag on the wire.
type Type byte

const (
	TypePrepare       Type = 1
	TypeFile          Type = 2
	TypeRetry         Type = 3
	TypeComplete      Type = 4
	TypeSessionFailed Type = 5
)

// Message is one streaming protocol message. The concrete types live in
// messages.go and marshal themselves in the XDR convention: a sized
// buffer filled via the Marshaller, checked once at the end.
type Message interface {
	Type() Type
	XDRSize() int
	MarshalXDRInto(m *xdr.Marshaller) error
	UnmarshalXDRFrom(u *xdr.Unmarshaller) error
}

type typeInfo struct {
	name     string
	priority int
	factory  func() Message
}

// Message dispatch priorities. Higher is sent first when multiple
// messages are queued. The numeric values are part of the protocol
// contract and must remain stable across versions.
var typeInfos = map[Type]typeInfo{
	TypePrepare:       {"prepare", 5, func() Message { return &Prepare{} }},
	TypeFile:          {"file", 0, func() Message { return &File{} }},
	TypeRetry:         {"retry", 1, func() Message { return &Retry{} }},
	TypeComplete:      {"complete", 4, func() Message { return &Complete{} }},
	TypeSessionFailed: {"session-failed", 5, func() Message { return &SessionFailed{} }},
}

func (t Type) String() string {
	if info, ok := typeInfos[t]; ok {
		return info.name
	}
	return fmt.Sprintf("unknown (0x%02x)", byte(t))
}

// Priority returns the dispatch priority for the message type.
func (t Type) Priority() int {
	return typeInfos[t].priority
}

// WriteMessage writes the type tag, payload length and the message
// payload. For file messages the raw section data is not included; the
// sender streams it immediately after the envelope.
func WriteMessage(w io.Writer, msg Message, version byte) error {
	if _, ok := typeInfos[msg.Type()]; !ok {
		return fmt.Errorf("%w: 0x%02x", ErrUnknownMessage, byte(msg.Type()))
	}
	buf := make([]byte, 5+msg.XDRSize())
	buf[0] = byte(msg.Type())
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(buf)-5))
	m := &xdr.Marshaller{Data: buf[5:]}
	if err := msg.MarshalXDRInto(m); err != nil {
		return fmt.Errorf("writing %s message: %w", msg.Type(), err)
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("writing %s message: %w", msg.Type(), err)
	}
	return nil
}

// ReadMessage reads one message envelope. An unknown type tag is a
// protocol error, fatal to the connection; the tag space is fixed per
// version and a peer sending outside it is misbehaving.
func ReadMessage(r io.Reader, version byte) (Message, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	info, ok := typeInfos[Type(hdr[0])]
	if !ok {
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownMessage, hdr[0])
	}
	size := binary.BigEndian.Uint32(hdr[1:])
	if size > maxMessageSize {
		return nil, fmt.Errorf("reading %s message: %w", Type(hdr[0]), xdr.ElementSizeExceeded("message", int(size), maxMessageSize))
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	msg := info.factory()
	if err := msg.UnmarshalXDRFrom(&xdr.Unmarshaller{Data: buf}); err != nil {
		return nil, fmt.Errorf("reading %s message: %w", Type(hdr[0]), err)
	}
	return msg, nil
}

// WriteVersion writes the raw protocol version preamble.
func WriteVersion(w io.Writer) error {
	_, err := w.Write([]byte{CurrentVersion})
	return err
}

// ReadVersion reads the peer's version preamble and checks it against
// ours. On mismatch the returned error wraps ErrVersionMismatch and the
// connection must be dropped without creating a session.
func ReadVersion(r io.Reader) (byte, error) {
	var v [1]byte
	if _, err := io.ReadFull(r, v[:]); err != nil {
		return 0, err
	}
	if v[0] != CurrentVersion {
		return v[0], fmt.Errorf("%w: peer version %d, our version %d", ErrVersionMismatch, v[0], CurrentVersion)
	}
	return v[0], nil
}
