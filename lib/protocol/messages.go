// Copyright (C) 2026 The Stratum Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package protocol

import (
	"github.com/calmh/xdr"
	"github.com/google/uuid"
)

const (
	maxStringLen  = 1024
	maxSections   = 100000
	maxRequests   = 100000
	maxSummaries  = 100000
	maxTableNames = 100000
)

// A Section is one contiguous byte range of a data file, [Start, End).
type Section struct {
	Start int64
	End   int64
}

// A StreamRequest asks the peer to send the files covering the given
// token ranges of the named keyspace.
type StreamRequest struct {
	Keyspace string
	Tables   []string
	Ranges   []Section
}

// A StreamSummary announces, per table, how many files and bytes the
// sending side is about to transfer.
type StreamSummary struct {
	TableID   uuid.UUID
	Files     int
	TotalSize int64
}

// Prepare is exchanged once per session after init. Each side describes
// what it wants to receive (Requests) and what it is going to send
// (Summaries).
type Prepare struct {
	Requests  []StreamRequest
	Summaries []StreamSummary
}

func (Prepare) Type() Type { return TypePrepare }

func (p *Prepare) XDRSize() int {
	size := 4
	for _, req := range p.Requests {
		size += sizeOfString(req.Keyspace) + 4
		for _, tab := range req.Tables {
			size += sizeOfString(tab)
		}
		size += sizeOfSections(req.Ranges)
	}
	size += 4 + 28*len(p.Summaries)
	return size
}

func (p *Prepare) MarshalXDRInto(m *xdr.Marshaller) error {
	m.MarshalUint32(uint32(len(p.Requests)))
	for _, req := range p.Requests {
		m.MarshalString(req.Keyspace)
		m.MarshalUint32(uint32(len(req.Tables)))
		for _, tab := range req.Tables {
			m.MarshalString(tab)
		}
		marshalSections(m, req.Ranges)
	}
	m.MarshalUint32(uint32(len(p.Summaries)))
	for _, sum := range p.Summaries {
		m.MarshalRaw(sum.TableID[:])
		m.MarshalUint32(uint32(sum.Files))
		m.MarshalUint64(uint64(sum.TotalSize))
	}
	return m.Error
}

func (p *Prepare) UnmarshalXDRFrom(u *xdr.Unmarshaller) error {
	nreq := int(u.UnmarshalUint32())
	if nreq > maxRequests {
		return xdr.ElementSizeExceeded("requests", nreq, maxRequests)
	}
	for i := 0; i < nreq && u.Error == nil; i++ {
		req := StreamRequest{Keyspace: u.UnmarshalStringMax(maxStringLen)}
		ntab := int(u.UnmarshalUint32())
		if ntab > maxTableNames {
			return xdr.ElementSizeExceeded("tables", ntab, maxTableNames)
		}
		for j := 0; j < ntab; j++ {
			req.Tables = append(req.Tables, u.UnmarshalStringMax(maxStringLen))
		}
		var err error
		if req.Ranges, err = unmarshalSections(u); err != nil {
			return err
		}
		p.Requests = append(p.Requests, req)
	}
	nsum := int(u.UnmarshalUint32())
	if nsum > maxSummaries {
		return xdr.ElementSizeExceeded("summaries", nsum, maxSummaries)
	}
	for i := 0; i < nsum && u.Error == nil; i++ {
		var sum StreamSummary
		copy(sum.TableID[:], u.UnmarshalRaw(16))
		sum.Files = int(u.UnmarshalUint32())
		sum.TotalSize = int64(u.UnmarshalUint64())
		p.Summaries = append(p.Summaries, sum)
	}
	return u.Error
}

// A FileHeader describes one file transfer unit. The raw section bytes
// follow the header on the wire; their total length is Size().
type FileHeader struct {
	TableID       uuid.UUID
	Sequence      int
	Name          string // keyspace qualified file identity, e.g. "ks/tab-5-Data.db"
	EstimatedKeys int64
	Sections      []Section
	Compressed    bool
}

// Size returns the number of payload bytes on the wire (uncompressed),
// derived from the section list.
func (h FileHeader) Size() int64 {
	var size int64
	for _, sec := range h.Sections {
		size += sec.End - sec.Start
	}
	return size
}

// File is the envelope for one file transfer. Only the header is part of
// the framed message; the session streams the section bytes directly
// after it.
type File struct {
	Header FileHeader
}

func (File) Type() Type { return TypeFile }

func (f *File) XDRSize() int {
	return 16 + 4 + sizeOfString(f.Header.Name) + 8 + sizeOfSections(f.Header.Sections) + 4
}

func (f *File) MarshalXDRInto(m *xdr.Marshaller) error {
	m.MarshalRaw(f.Header.TableID[:])
	m.MarshalUint32(uint32(f.Header.Sequence))
	m.MarshalString(f.Header.Name)
	m.MarshalUint64(uint64(f.Header.EstimatedKeys))
	marshalSections(m, f.Header.Sections)
	m.MarshalBool(f.Header.Compressed)
	return m.Error
}

func (f *File) UnmarshalXDRFrom(u *xdr.Unmarshaller) error {
	copy(f.Header.TableID[:], u.UnmarshalRaw(16))
	f.Header.Sequence = int(u.UnmarshalUint32())
	f.Header.Name = u.UnmarshalStringMax(maxStringLen)
	f.Header.EstimatedKeys = int64(u.UnmarshalUint64())
	var err error
	if f.Header.Sections, err = unmarshalSections(u); err != nil {
		return err
	}
	f.Header.Compressed = u.UnmarshalBool()
	return u.Error
}

// Retry asks the sender to re-send a file that failed mid-transfer.
type Retry struct {
	TableID  uuid.UUID
	Sequence int
}

func (Retry) Type() Type { return TypeRetry }

func (r *Retry) XDRSize() int { return 20 }

func (r *Retry) MarshalXDRInto(m *xdr.Marshaller) error {
	m.MarshalRaw(r.TableID[:])
	m.MarshalUint32(uint32(r.Sequence))
	return m.Error
}

func (r *Retry) UnmarshalXDRFrom(u *xdr.Unmarshaller) error {
	copy(r.TableID[:], u.UnmarshalRaw(16))
	r.Sequence = int(u.UnmarshalUint32())
	return u.Error
}

// Complete signals that the sending side considers the session done.
type Complete struct{}

func (Complete) Type() Type { return TypeComplete }

func (*Complete) XDRSize() int { return 0 }

func (*Complete) MarshalXDRInto(*xdr.Marshaller) error { return nil }

func (*Complete) UnmarshalXDRFrom(*xdr.Unmarshaller) error { return nil }

// SessionFailed aborts the session on both sides.
type SessionFailed struct{}

func (SessionFailed) Type() Type { return TypeSessionFailed }

func (*SessionFailed) XDRSize() int { return 0 }

func (*SessionFailed) MarshalXDRInto(*xdr.Marshaller) error { return nil }

func (*SessionFailed) UnmarshalXDRFrom(*xdr.Unmarshaller) error { return nil }

func sizeOfString(s string) int { return 4 + len(s) + xdr.Padding(len(s)) }

func sizeOfSections(sections []Section) int { return 4 + 16*len(sections) }

func marshalSections(m *xdr.Marshaller, sections []Section) {
	m.MarshalUint32(uint32(len(sections)))
	for _, sec := range sections {
		m.MarshalUint64(uint64(sec.Start))
		m.MarshalUint64(uint64(sec.End))
	}
}

func unmarshalSections(u *xdr.Unmarshaller) ([]Section, error) {
	n := int(u.UnmarshalUint32())
	if n > maxSections {
		return nil, xdr.ElementSizeExceeded("sections", n, maxSections)
	}
	if n == 0 {
		return nil, u.Error
	}
	sections := make([]Section, n)
	for i := range sections {
		sections[i].Start = int64(u.UnmarshalUint64())
		sections[i].End = int64(u.UnmarshalUint64())
	}
	return sections, u.Error
}
