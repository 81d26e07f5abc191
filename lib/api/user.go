// Copyright (C) 2026 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package api

import (
	"context"

	"github.com/syncthing/changewatch/lib/identity"
)

type userKey struct{}

func withUser(ctx context.Context, user identity.User) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// userFrom returns the acting user of a request. Requests that did not come
// in over a connection with known credentials act as Nobody.
func userFrom(ctx context.Context) identity.User {
	if user, ok := ctx.Value(userKey{}).(identity.User); ok {
		return user
	}
	return identity.Nobody
}
