// Copyright (C) 2026 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package classifier turns completed filesystem operations into change
// bitmaps and records them under the nearest watched ancestor.
package classifier

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/syncthing/changewatch/lib/ancestor"
	"github.com/syncthing/changewatch/lib/bitmap"
	"github.com/syncthing/changewatch/lib/events"
	"github.com/syncthing/changewatch/lib/identity"
	"github.com/syncthing/changewatch/lib/registry"
)

var errNotCaptured = errors.New("identity was not captured before deletion")

type Classifier struct {
	reg       *registry.Registry
	resolver  *identity.Resolver
	walker    *ancestor.Walker
	evLogger  *events.Logger
	blockSize int64
	pending   *pendingCaptures
}

func New(reg *registry.Registry, resolver *identity.Resolver, walker *ancestor.Walker, evLogger *events.Logger, blockSize int64) *Classifier {
	if blockSize <= 0 {
		blockSize = bitmap.DefaultBlockSize
	}
	return &Classifier{
		reg:       reg,
		resolver:  resolver,
		walker:    walker,
		evLogger:  evLogger,
		blockSize: blockSize,
		pending:   newPendingCaptures(maxPendingCaptures),
	}
}

// Classify returns the change bitmap for op. The zero bitmap means the
// operation changes nothing worth recording.
func (c *Classifier) Classify(op Operation) bitmap.Bitmap {
	switch op.Kind {
	case Open:
		if op.Flags&os.O_TRUNC != 0 || (op.Flags&os.O_CREATE != 0 && !op.Existed) {
			return bitmap.Of(bitmap.Created)
		}
		return bitmap.Bitmap{}

	case Mkdir:
		return bitmap.Of(bitmap.Created)

	case Write:
		first := bitmap.BucketFor(op.Offset, c.blockSize)
		last := first
		switch {
		case op.Length > math.MaxInt64-op.Offset:
			// Ends beyond any representable offset.
			last = bitmap.Overflow
		case op.Length > 0:
			last = bitmap.BucketFor(op.Offset+op.Length-1, c.blockSize)
		}
		return bitmap.Of(bitmap.Modified).SetRange(first, last)

	case Truncate:
		first := bitmap.BucketFor(op.Length, c.blockSize)
		return bitmap.Of(bitmap.Modified).SetRange(first, bitmap.Overflow)

	case Rename:
		return bitmap.Of(bitmap.Renamed)

	case Unlink, Rmdir:
		return bitmap.Of(bitmap.Deleted)

	case Chmod:
		return bitmap.Of(bitmap.ModeChanged)

	case Chown:
		return bitmap.Of(bitmap.OwnerChanged)

	case Utimes:
		return bitmap.Of(bitmap.TimeChanged)

	default:
		return bitmap.Bitmap{}
	}
}

// Capture resolves path on behalf of user ahead of a deletion, so that the
// change can be recorded once the object is gone.
func (c *Classifier) Capture(user identity.User, path string) (*Capture, error) {
	target, err := c.resolver.Resolve(user, path)
	if err != nil {
		return nil, err
	}
	return &Capture{ID: target.ID, Path: target.Path, User: user}, nil
}

// CaptureToken captures path like Capture and keeps the result, returning
// a single use token that Redeem exchanges for it. Captures that are never
// redeemed are forgotten once maxPendingCaptures newer ones exist.
func (c *Classifier) CaptureToken(user identity.User, path string) (string, *Capture, error) {
	capture, err := c.Capture(user, path)
	if err != nil {
		return "", nil, err
	}
	token, err := c.pending.add(capture)
	if err != nil {
		return "", nil, err
	}
	return token, capture, nil
}

// Redeem returns the capture issued under token and forgets it. Only the
// capturing user or a privileged user may redeem it.
func (c *Classifier) Redeem(user identity.User, token string) (*Capture, error) {
	return c.pending.take(user, token)
}

// OnOperation records the change made by a completed operation. It
// returns whether a change was recorded. Operations that failed, that
// change nothing, or that happened outside every watch point are not
// recorded and are not errors.
func (c *Classifier) OnOperation(op Operation) (bool, error) {
	if op.Err != nil {
		metricOperations.WithLabelValues(op.Kind.String(), metricResultFailed).Inc()
		return false, nil
	}

	if err := op.validate(); err != nil {
		metricOperations.WithLabelValues(op.Kind.String(), metricResultInvalid).Inc()
		return false, err
	}

	bm := c.Classify(op)
	if bm.IsZero() {
		metricOperations.WithLabelValues(op.Kind.String(), metricResultIgnored).Inc()
		return false, nil
	}

	if op.File != nil && op.File.Fd() < 3 {
		// Standard streams are never tracked.
		metricOperations.WithLabelValues(op.Kind.String(), metricResultIgnored).Inc()
		return false, nil
	}

	target, err := c.target(op)
	if err != nil {
		metricOperations.WithLabelValues(op.Kind.String(), metricResultUnresolved).Inc()
		l.Debugf("%v %s: %v", op.Kind, op.name(), err)
		return false, err
	}

	parents := c.walker.Chain(target.Path).IDs()
	dir, ok, err := c.reg.RecordNearest(parents, target.ID, bm)
	if err != nil {
		metricOperations.WithLabelValues(op.Kind.String(), metricResultRejected).Inc()
		c.evLogger.Log(events.ChangeRejected, map[string]string{
			"path":  target.Path,
			"error": err.Error(),
		})
		return false, err
	}
	if !ok {
		metricOperations.WithLabelValues(op.Kind.String(), metricResultUnwatched).Inc()
		return false, nil
	}

	metricOperations.WithLabelValues(op.Kind.String(), metricResultRecorded).Inc()
	l.Debugf("%v %s: %s under %v", op.Kind, target.Path, bm.Describe(), dir)
	c.evLogger.Log(events.ChangeRecorded, map[string]string{
		"watch":   dir.String(),
		"id":      target.ID.String(),
		"path":    target.Path,
		"changes": bm.Describe(),
	})
	return true, nil
}

func (c *Classifier) target(op Operation) (identity.Target, error) {
	switch {
	case op.Kind == Unlink || op.Kind == Rmdir:
		if op.Captured == nil {
			return identity.Target{}, errNotCaptured
		}
		if op.Captured.User != op.User && !op.User.Privileged() {
			return identity.Target{}, fmt.Errorf("%s: captured by %v: %w", op.Captured.Path, op.Captured.User, identity.ErrPermissionDenied)
		}
		if c.resolver.Blocked(op.Captured.Path) {
			return identity.Target{}, fmt.Errorf("%w: blocked path %q", identity.ErrInvalidArgument, op.Captured.Path)
		}
		return identity.Target{ID: op.Captured.ID, Path: op.Captured.Path}, nil

	case op.File != nil:
		return c.resolver.ResolveFile(op.File)

	case op.Path != "":
		return c.resolver.Resolve(op.User, op.Path)

	default:
		return identity.Target{}, fmt.Errorf("%w: operation without a target", identity.ErrInvalidArgument)
	}
}

// validate rejects ranges that no operation can produce.
func (op Operation) validate() error {
	if op.Offset < 0 || op.Length < 0 {
		return fmt.Errorf("%w: negative range %d+%d", identity.ErrInvalidArgument, op.Offset, op.Length)
	}
	return nil
}

func (op Operation) name() string {
	if op.File != nil {
		return op.File.Name()
	}
	return op.Path
}
