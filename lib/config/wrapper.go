// Copyright (C) 2026 The Stratum Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package config

import "sync"

// A Committer is notified after the configuration changes.
type Committer interface {
	CommitConfiguration(from, to Configuration)
	String() string
}

// Wrapper handles a Configuration, i.e. it provides methods to access,
// change and save the config, and notifies registered subscribers of
// changes.
type Wrapper struct {
	path string

	cfg  Configuration
	subs []Committer
	mut  sync.Mutex
}

// Wrap wraps an existing Configuration structure and ties it to a file on
// disk.
func Wrap(path string, cfg Configuration) *Wrapper {
	return &Wrapper{
		path: path,
		cfg:  cfg,
	}
}

// ConfigPath returns the path to the configuration file.
func (w *Wrapper) ConfigPath() string {
	return w.path
}

// Subscribe registers the given handler to be called on configuration
// changes.
func (w *Wrapper) Subscribe(c Committer) {
	w.mut.Lock()
	w.subs = append(w.subs, c)
	w.mut.Unlock()
}

// RawCopy returns a copy of the currently wrapped Configuration.
func (w *Wrapper) RawCopy() Configuration {
	w.mut.Lock()
	defer w.mut.Unlock()
	return w.cfg
}

// Options returns the current options configuration.
func (w *Wrapper) Options() OptionsConfiguration {
	w.mut.Lock()
	defer w.mut.Unlock()
	return w.cfg.Options
}

// Modify applies the given function to a copy of the configuration and
// commits the result.
func (w *Wrapper) Modify(fn func(*Configuration)) {
	w.mut.Lock()
	from := w.cfg
	to := from
	fn(&to)
	w.cfg = to
	subs := append([]Committer(nil), w.subs...)
	w.mut.Unlock()

	for _, sub := range subs {
		l.Debugln("committing configuration to", sub)
		sub.CommitConfiguration(from, to)
	}
}

// Save writes the configuration to disk.
func (w *Wrapper) Save() error {
	w.mut.Lock()
	cfg := w.cfg
	path := w.path
	w.mut.Unlock()
	return cfg.Save(path)
}
