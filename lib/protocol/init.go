// Copyright (C) 2026 The Stratum Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package protocol

import (
	"encoding/binary"
	"io"

	"github.com/calmh/xdr"
	"github.com/google/uuid"
)

// maxInitSize bounds the handshake payload length.
const maxInitSize = 4096

// StreamInit is the handshake payload sent once by the initiating side,
// directly after the version byte and before any framed message. It binds
// the connection to a plan.
type StreamInit struct {
	PlanID      uuid.UUID
	Description string
}

func (i StreamInit) XDRSize() int { return 16 + sizeOfString(i.Description) }

func (i StreamInit) MarshalXDRInto(m *xdr.Marshaller) error {
	m.MarshalRaw(i.PlanID[:])
	m.MarshalString(i.Description)
	return m.Error
}

func (i *StreamInit) UnmarshalXDRFrom(u *xdr.Unmarshaller) error {
	copy(i.PlanID[:], u.UnmarshalRaw(16))
	i.Description = u.UnmarshalStringMax(maxStringLen)
	return u.Error
}

// WriteStreamInit writes the length framed handshake payload.
func WriteStreamInit(w io.Writer, init StreamInit) error {
	buf := make([]byte, 4+init.XDRSize())
	binary.BigEndian.PutUint32(buf, uint32(len(buf)-4))
	m := &xdr.Marshaller{Data: buf[4:]}
	if err := init.MarshalXDRInto(m); err != nil {
		return err
	}
	_, err := w.Write(buf)
	return err
}

// ReadStreamInit reads the handshake payload.
func ReadStreamInit(r io.Reader) (StreamInit, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return StreamInit{}, err
	}
	size := binary.BigEndian.Uint32(lenBuf[:])
	if size > maxInitSize {
		return StreamInit{}, xdr.ElementSizeExceeded("stream init", int(size), maxInitSize)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return StreamInit{}, err
	}
	var init StreamInit
	err := init.UnmarshalXDRFrom(&xdr.Unmarshaller{Data: buf})
	return init, err
}
