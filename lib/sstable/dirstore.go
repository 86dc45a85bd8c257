// Copyright (C) 2026 The Stratum Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package sstable

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DirStore is a Store that lays incoming files out under a root
// directory, one subdirectory per keyspace. Files are written under a
// temporary name and renamed into place on Commit, so a session failure
// never leaves a half file visible.
type DirStore struct {
	root string
}

func NewDirStore(root string) *DirStore {
	return &DirStore{root: root}
}

func (s *DirStore) Create(ref Ref, _ int64, _ int64) (Writer, error) {
	dir := filepath.Join(s.root, ref.Keyspace)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	final := filepath.Join(dir, fmt.Sprintf("%s-%d-Data.db", ref.Table, ref.Generation))
	fd, err := os.CreateTemp(dir, ".stream-*.tmp")
	if err != nil {
		return nil, err
	}
	return &dirFile{fd: fd, final: final}, nil
}

type dirFile struct {
	fd    *os.File
	final string
}

func (f *dirFile) Write(bs []byte) (int, error) {
	return f.fd.Write(bs)
}

func (f *dirFile) Commit() error {
	if err := f.fd.Close(); err != nil {
		return err
	}
	return os.Rename(f.fd.Name(), f.final)
}

func (f *dirFile) Abort() {
	name := f.fd.Name()
	f.fd.Close()
	os.Remove(name)
}

// FileReader is a Reader over a plain file on disk.
type FileReader struct {
	ref  Ref
	path string
	keys int64
}

func NewFileReader(ref Ref, path string, estimatedKeys int64) *FileReader {
	return &FileReader{ref: ref, path: path, keys: estimatedKeys}
}

func (r *FileReader) Ref() Ref { return r.ref }

func (r *FileReader) EstimatedKeys() int64 { return r.keys }

func (r *FileReader) ReadSection(w io.Writer, start, end int64) error {
	fd, err := os.Open(r.path)
	if err != nil {
		return err
	}
	defer fd.Close()
	if _, err := fd.Seek(start, 0); err != nil {
		return err
	}
	buf := make([]byte, 64<<10)
	left := end - start
	for left > 0 {
		chunk := int64(len(buf))
		if chunk > left {
			chunk = left
		}
		n, err := fd.Read(buf[:chunk])
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			left -= int64(n)
		}
		if err == io.EOF {
			return io.ErrUnexpectedEOF
		} else if err != nil {
			return err
		}
	}
	return nil
}
