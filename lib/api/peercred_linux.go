// Copyright (C) 2026 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package api

import (
	"net"

	"golang.org/x/sys/unix"

	"github.com/syncthing/changewatch/lib/identity"
)

// peerUser returns the user on the other end of a unix socket connection.
func peerUser(c net.Conn) identity.User {
	uc, ok := c.(*net.UnixConn)
	if !ok {
		return identity.Nobody
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return identity.Nobody
	}

	var cred *unix.Ucred
	var credErr error
	err = raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil || credErr != nil {
		l.Debugln("peer credentials:", err, credErr)
		return identity.Nobody
	}
	return identity.User{UID: int(cred.Uid)}
}
