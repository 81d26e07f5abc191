// Copyright (C) 2026 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

//go:build linux || darwin

package identity

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

func stat(path string) (statResult, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return statResult{}, translateErrno(err)
	}
	return fromStat(&st), nil
}

func lstat(path string) (statResult, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return statResult{}, translateErrno(err)
	}
	return fromStat(&st), nil
}

func fstat(f *os.File) (statResult, error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		return statResult{}, translateErrno(err)
	}
	return fromStat(&st), nil
}

func fromStat(st *unix.Stat_t) statResult {
	mode := uint32(st.Mode)
	mtime, atime := statTimes(st)
	return statResult{
		id:      ID{Dev: uint64(st.Dev), Ino: uint64(st.Ino)},
		size:    int64(st.Size),
		mode:    mode,
		uid:     int(st.Uid),
		gid:     int(st.Gid),
		mtime:   mtime,
		atime:   atime,
		regular: mode&unix.S_IFMT == unix.S_IFREG,
		dir:     mode&unix.S_IFMT == unix.S_IFDIR,
	}
}

func translateErrno(err error) error {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	switch errno {
	case unix.EACCES, unix.EPERM:
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case unix.ENAMETOOLONG, unix.EINVAL, unix.EFAULT:
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	default:
		// ENOENT, ENOTDIR, ELOOP and friends all mean the path does not
		// lead anywhere.
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
}
