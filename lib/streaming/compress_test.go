// Copyright (C) 2026 The Stratum Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package streaming

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestCompressedRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"small", []byte("hello hello hello hello")},
		{"multi chunk", bytes.Repeat([]byte("stratum streaming "), 40000)}, // ~700 KiB, > 2 chunks
		{"incompressible", randomBytes(300 << 10)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var wire bytes.Buffer
			cw := newCompressedWriter(&wire)
			if _, err := cw.Write(tc.data); err != nil {
				t.Fatal(err)
			}

			var out bytes.Buffer
			if err := copyCompressed(&out, &wire, int64(len(tc.data))); err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(out.Bytes(), tc.data) {
				t.Errorf("round trip mismatch: %d bytes in, %d bytes out", len(tc.data), out.Len())
			}
		})
	}
}

func TestCompressedSavesSpace(t *testing.T) {
	data := bytes.Repeat([]byte("aaaaaaaabbbbbbbb"), 8192) // 128 KiB, highly compressible

	var wire bytes.Buffer
	cw := newCompressedWriter(&wire)
	if _, err := cw.Write(data); err != nil {
		t.Fatal(err)
	}
	if wire.Len() >= len(data) {
		t.Errorf("compressible payload grew on the wire: %d -> %d", len(data), wire.Len())
	}
}

func TestCompressedTruncated(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789abcdef"), 1024)

	var wire bytes.Buffer
	cw := newCompressedWriter(&wire)
	if _, err := cw.Write(data); err != nil {
		t.Fatal(err)
	}

	truncated := bytes.NewReader(wire.Bytes()[:wire.Len()/2])
	var out bytes.Buffer
	if err := copyCompressed(&out, truncated, int64(len(data))); err == nil {
		t.Error("expected an error reading a truncated stream")
	}
}

func randomBytes(n int) []byte {
	rnd := rand.New(rand.NewSource(42))
	bs := make([]byte, n)
	rnd.Read(bs)
	return bs
}
