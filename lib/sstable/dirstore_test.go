// Copyright (C) 2026 The Stratum Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package sstable

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func testRef() Ref {
	return Ref{Keyspace: "ks", Table: "tbl", TableID: uuid.New(), Generation: 7}
}

func TestDirStoreCommit(t *testing.T) {
	dir := t.TempDir()
	store := NewDirStore(dir)

	w, err := store.Create(testRef(), 100, 5)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	if err := w.Commit(); err != nil {
		t.Fatal(err)
	}

	bs, err := os.ReadFile(filepath.Join(dir, "ks", "tbl-7-Data.db"))
	if err != nil {
		t.Fatal(err)
	}
	if string(bs) != "hello" {
		t.Errorf("got %q", bs)
	}
}

func TestDirStoreAbort(t *testing.T) {
	dir := t.TempDir()
	store := NewDirStore(dir)

	w, err := store.Create(testRef(), 100, 5)
	if err != nil {
		t.Fatal(err)
	}
	w.Write([]byte("partial"))
	w.Abort()

	// Neither the final file nor the temporary should remain.
	entries, err := os.ReadDir(filepath.Join(dir, "ks"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("%d files left after abort", len(entries))
	}
}

func TestFileReaderSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	if err := os.WriteFile(path, []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := NewFileReader(testRef(), path, 10)

	var buf bytes.Buffer
	if err := r.ReadSection(&buf, 2, 6); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "2345" {
		t.Errorf("got %q, expected 2345", buf.String())
	}

	// A section past the end of the file is an unexpected EOF, not a
	// silent short read.
	buf.Reset()
	if err := r.ReadSection(&buf, 5, 20); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("got %v, expected ErrUnexpectedEOF", err)
	}
}

func TestRefName(t *testing.T) {
	ref := Ref{Keyspace: "system", Table: "peers"}
	if name := ref.Name(); name != "system/peers" {
		t.Errorf("got %q", name)
	}
}
