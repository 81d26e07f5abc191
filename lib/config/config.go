// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package config implements reading and validation of the changewatch
// configuration file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"sigs.k8s.io/yaml"
)

type Configuration struct {
	// BlockSize is the width in bytes of one content bucket.
	BlockSize int64 `json:"blockSize" default:"16384"`
	// MaxAncestorHops bounds the parent directory walk.
	MaxAncestorHops int `json:"maxAncestorHops" default:"20"`
	// MaxRecordsPerWatch bounds the number of change records under one
	// watch point. Zero is unlimited.
	MaxRecordsPerWatch int `json:"maxRecordsPerWatch" default:"1048576"`
	// Blocklist replaces the built in list of blocked path prefixes when
	// set.
	Blocklist            []string `json:"blocklist,omitempty"`
	ExtraBlockedPatterns []string `json:"extraBlockedPatterns,omitempty"`

	API    APIConfiguration    `json:"api"`
	Source SourceConfiguration `json:"source"`
}

type APIConfiguration struct {
	Address           string   `json:"address" default:"/run/changewatch.sock"`
	SocketPermissions FileMode `json:"socketPermissions" default:"0666"`
	RequestsPerSecond float64  `json:"requestsPerSecond" default:"50"`
	Burst             int      `json:"burst" default:"100"`
}

type SourceConfiguration struct {
	Backend            Backend `json:"backend" default:"notify"`
	AttributeCacheSize int     `json:"attributeCacheSize" default:"65536"`
}

var errInvalid = errors.New("invalid configuration")

// New returns a configuration with all defaults set.
func New() Configuration {
	var cfg Configuration
	if err := setDefaults(&cfg); err != nil {
		panic(err)
	}
	return cfg
}

// Load reads the configuration file at path. A missing file yields the
// default configuration.
func Load(path string) (Configuration, error) {
	fd, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		l.Debugln("no configuration file at", path)
		return New(), nil
	} else if err != nil {
		return Configuration{}, err
	}
	defer fd.Close()
	cfg, err := ReadYAML(fd)
	if err != nil {
		return Configuration{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ReadYAML parses a configuration. Fields not present keep their
// defaults.
func ReadYAML(r io.Reader) (Configuration, error) {
	bs, err := io.ReadAll(r)
	if err != nil {
		return Configuration{}, err
	}
	cfg := New()
	if err := yaml.UnmarshalStrict(bs, &cfg); err != nil {
		return Configuration{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Configuration{}, err
	}
	return cfg, nil
}

// WriteYAML writes the configuration in the format read by ReadYAML.
func (cfg Configuration) WriteYAML(w io.Writer) error {
	bs, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = w.Write(bs)
	return err
}

func (cfg Configuration) Validate() error {
	if cfg.BlockSize <= 0 {
		return fmt.Errorf("%w: blockSize must be positive, not %d", errInvalid, cfg.BlockSize)
	}
	if cfg.MaxAncestorHops <= 0 {
		return fmt.Errorf("%w: maxAncestorHops must be positive, not %d", errInvalid, cfg.MaxAncestorHops)
	}
	if cfg.MaxRecordsPerWatch < 0 {
		return fmt.Errorf("%w: maxRecordsPerWatch must not be negative", errInvalid)
	}
	if cfg.API.RequestsPerSecond < 0 || cfg.API.Burst < 0 {
		return fmt.Errorf("%w: negative rate limit", errInvalid)
	}
	if cfg.Source.AttributeCacheSize <= 0 {
		return fmt.Errorf("%w: attributeCacheSize must be positive", errInvalid)
	}
	return cfg.Source.Backend.validate()
}
