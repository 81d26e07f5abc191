// Copyright (C) 2026 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

//go:build !linux && !darwin

package identity

import (
	"errors"
	"os"
)

var errUnsupported = errors.New("identity lookups are not supported on this platform")

func stat(string) (statResult, error)    { return statResult{}, errUnsupported }
func lstat(string) (statResult, error)   { return statResult{}, errUnsupported }
func fstat(*os.File) (statResult, error) { return statResult{}, errUnsupported }
