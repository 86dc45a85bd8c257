// Copyright (C) 2026 The Stratum Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package streaming

import (
	"encoding/binary"
	"fmt"
	"io"

	lz4 "github.com/pierrec/lz4/v4"
)

// File payloads may be framed as LZ4 blocks on the wire. Each chunk is
// [uncompressed len: u32][compressed len: u32][data]; a compressed
// length of zero means the chunk is stored raw (incompressible data).
// The receiver knows the total uncompressed size from the file header,
// so there is no end marker.

const compressChunkSize = 256 << 10

type compressedWriter struct {
	w   io.Writer
	buf []byte
}

func newCompressedWriter(w io.Writer) *compressedWriter {
	return &compressedWriter{w: w}
}

func (cw *compressedWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > compressChunkSize {
			chunk = p[:compressChunkSize]
		}
		if err := cw.writeChunk(chunk); err != nil {
			return written, err
		}
		written += len(chunk)
		p = p[len(chunk):]
	}
	return written, nil
}

func (cw *compressedWriter) writeChunk(chunk []byte) error {
	bound := lz4.CompressBlockBound(len(chunk))
	if cap(cw.buf) < bound {
		cw.buf = make([]byte, bound)
	}
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[:4], uint32(len(chunk)))

	n, err := lz4.CompressBlock(chunk, cw.buf[:bound], nil)
	if err != nil || n == 0 || n >= len(chunk) {
		// Not compressible; store raw.
		binary.BigEndian.PutUint32(hdr[4:], 0)
		if _, err := cw.w.Write(hdr[:]); err != nil {
			return err
		}
		_, err := cw.w.Write(chunk)
		return err
	}

	binary.BigEndian.PutUint32(hdr[4:], uint32(n))
	if _, err := cw.w.Write(hdr[:]); err != nil {
		return err
	}
	_, err = cw.w.Write(cw.buf[:n])
	return err
}

// copyCompressed reads total uncompressed bytes of chunked LZ4 framing
// from r and writes the decompressed data to w.
func copyCompressed(w io.Writer, r io.Reader, total int64) error {
	var hdr [8]byte
	var raw, comp []byte
	for total > 0 {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return err
		}
		rawLen := int(binary.BigEndian.Uint32(hdr[:4]))
		compLen := int(binary.BigEndian.Uint32(hdr[4:]))
		if rawLen <= 0 || rawLen > compressChunkSize || int64(rawLen) > total {
			return fmt.Errorf("invalid compressed chunk length %d", rawLen)
		}

		if compLen == 0 {
			// Stored chunk.
			if cap(raw) < rawLen {
				raw = make([]byte, rawLen)
			}
			if _, err := io.ReadFull(r, raw[:rawLen]); err != nil {
				return err
			}
			if _, err := w.Write(raw[:rawLen]); err != nil {
				return err
			}
			total -= int64(rawLen)
			continue
		}

		if cap(comp) < compLen {
			comp = make([]byte, compLen)
		}
		if _, err := io.ReadFull(r, comp[:compLen]); err != nil {
			return err
		}
		if cap(raw) < rawLen {
			raw = make([]byte, rawLen)
		}
		n, err := lz4.UncompressBlock(comp[:compLen], raw[:rawLen])
		if err != nil {
			return fmt.Errorf("decompressing chunk: %w", err)
		}
		if n != rawLen {
			return fmt.Errorf("decompressed %d bytes, expected %d", n, rawLen)
		}
		if _, err := w.Write(raw[:rawLen]); err != nil {
			return err
		}
		total -= int64(rawLen)
	}
	return nil
}
