// Copyright (C) 2026 The Stratum Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package config handles loading and saving of the streaming subsystem
// configuration, and provides a wrapper around it for live updates.
package config

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// Configuration is the root configuration document.
type Configuration struct {
	Version int                  `json:"version"`
	Options OptionsConfiguration `json:"options"`
}

// OptionsConfiguration holds the tunables for the streaming subsystem.
type OptionsConfiguration struct {
	// ListenAddress is where the stream acceptor listens for inbound
	// streaming connections.
	ListenAddress string `json:"listenAddress"`
	// APIAddress is where the REST status interface listens.
	APIAddress string `json:"apiAddress"`
	// StreamThroughputMbps caps outbound streaming throughput per peer,
	// in megabits per second. Zero disables throttling. The value is read
	// live; changes apply to in-flight transfers.
	StreamThroughputMbps int `json:"streamThroughputMbps"`
	// RetryLimit is the number of times a single file send is retried on
	// request of the receiver before the session is failed.
	RetryLimit int `json:"retryLimit"`
	// CompressFiles enables LZ4 framing of file payloads on the wire.
	CompressFiles bool `json:"compressFiles"`
}

const CurrentVersion = 1

// New returns a Configuration with default values.
func New() Configuration {
	return Configuration{
		Version: CurrentVersion,
		Options: OptionsConfiguration{
			ListenAddress:        "0.0.0.0:7000",
			APIAddress:           "127.0.0.1:7070",
			StreamThroughputMbps: 200,
			RetryLimit:           8,
		},
	}
}

// Load reads the configuration from the given path.
func Load(path string) (*Wrapper, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := New()
	if err := yaml.Unmarshal(bs, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if cfg.Version != CurrentVersion {
		return nil, fmt.Errorf("%s: unsupported config version %d", path, cfg.Version)
	}

	return Wrap(path, cfg), nil
}

// Save writes the configuration to the given path.
func (cfg Configuration) Save(path string) error {
	bs, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, bs, 0o600)
}
