// Copyright (C) 2026 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// FileMode is a permission mode written in octal.
type FileMode os.FileMode

func (m FileMode) String() string {
	return fmt.Sprintf("%04o", uint32(m))
}

func (m FileMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *FileMode) UnmarshalText(bs []byte) error {
	v, err := strconv.ParseUint(string(bs), 8, 32)
	if err != nil {
		return fmt.Errorf("%w: mode %q", errInvalid, bs)
	}
	*m = FileMode(v)
	return nil
}

// UnmarshalJSON accepts both the quoted octal form and a plain number,
// which is what an unquoted 0666 in YAML turns into.
func (m *FileMode) UnmarshalJSON(bs []byte) error {
	var n uint32
	if err := json.Unmarshal(bs, &n); err == nil {
		*m = FileMode(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(bs, &s); err != nil {
		return err
	}
	return m.UnmarshalText([]byte(s))
}

func (m *FileMode) ParseDefault(v string) error {
	return m.UnmarshalText([]byte(v))
}

// Backend selects the filesystem notification mechanism.
type Backend string

const (
	BackendNotify   Backend = "notify"
	BackendFSNotify Backend = "fsnotify"
	BackendNone     Backend = "none"
)

func (b Backend) validate() error {
	switch b {
	case BackendNotify, BackendFSNotify, BackendNone:
		return nil
	default:
		return fmt.Errorf("%w: unknown source backend %q", errInvalid, string(b))
	}
}

func (b *Backend) ParseDefault(v string) error {
	*b = Backend(v)
	return b.validate()
}
