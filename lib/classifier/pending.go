// Copyright (C) 2026 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package classifier

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/syncthing/changewatch/lib/identity"
)

const maxPendingCaptures = 4096

// pendingCaptures holds captures issued to remote callers until the
// deletion they were taken for is reported.
type pendingCaptures struct {
	cache *lru.Cache[string, *Capture]
}

func newPendingCaptures(size int) *pendingCaptures {
	cache, err := lru.New[string, *Capture](size)
	if err != nil {
		panic(err)
	}
	return &pendingCaptures{cache: cache}
}

func (p *pendingCaptures) add(c *Capture) (string, error) {
	var bs [16]byte
	if _, err := rand.Read(bs[:]); err != nil {
		return "", err
	}
	token := hex.EncodeToString(bs[:])
	p.cache.Add(token, c)
	return token, nil
}

func (p *pendingCaptures) take(user identity.User, token string) (*Capture, error) {
	c, ok := p.cache.Peek(token)
	if !ok {
		return nil, fmt.Errorf("%w: unknown capture", identity.ErrInvalidArgument)
	}
	if c.User != user && !user.Privileged() {
		return nil, fmt.Errorf("%s: captured by %v: %w", c.Path, c.User, identity.ErrPermissionDenied)
	}
	if !p.cache.Remove(token) {
		// Redeemed concurrently.
		return nil, fmt.Errorf("%w: unknown capture", identity.ErrInvalidArgument)
	}
	return c, nil
}
