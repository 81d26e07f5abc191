// Copyright (C) 2026 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package source

import (
	"io/fs"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/syncthing/changewatch/lib/classifier"
	"github.com/syncthing/changewatch/lib/identity"
)

// maxPendingRenames bounds the number of renamed away objects remembered
// while waiting for their new name to show up.
const maxPendingRenames = 1024

// The translator turns events for one watched tree into operations. It is
// not safe for concurrent use.
type translator struct {
	root      string
	cacheSize int
	attrs     *lru.Cache[string, identity.Attributes]
	pending   *lru.Cache[identity.ID, string]
	lstat     func(string) (identity.Attributes, error)
}

func newTranslator(root string, cacheSize int) (*translator, error) {
	attrs, err := lru.New[string, identity.Attributes](cacheSize)
	if err != nil {
		return nil, err
	}
	pending, err := lru.New[identity.ID, string](maxPendingRenames)
	if err != nil {
		return nil, err
	}
	return &translator{
		root:      root,
		cacheSize: cacheSize,
		attrs:     attrs,
		pending:   pending,
		lstat:     identity.Lstat,
	}, nil
}

// prime fills the cache with the objects under dir, until the cache is
// full.
func (t *translator) prime(dir string) {
	n := 0
	_ = filepath.WalkDir(dir, func(path string, _ fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if t.attrs.Len() >= t.cacheSize {
			return fs.SkipAll
		}
		if a, err := t.lstat(path); err == nil {
			t.attrs.Add(path, a)
			n++
		}
		return nil
	})
	l.Debugf("primed %d entries under %s", n, dir)
}

// translate returns the operations for ev. Events that cannot be
// attributed to an object are dropped.
func (t *translator) translate(ev Event) []classifier.Operation {
	switch ev.Type {
	case Create:
		return t.created(ev.Path)
	case Write:
		return t.written(ev.Path)
	case Remove:
		return t.removed(ev.Path)
	case Rename:
		return t.renamed(ev.Path)
	case Attrib:
		return t.attribChanged(ev.Path)
	default:
		return nil
	}
}

func (t *translator) op(kind classifier.Kind, path string) classifier.Operation {
	return classifier.Operation{Kind: kind, Path: path, User: identity.Root}
}

func (t *translator) created(path string) []classifier.Operation {
	a, err := t.lstat(path)
	if err != nil {
		// Already gone again.
		return nil
	}
	t.attrs.Add(path, a)

	if _, ok := t.pending.Get(a.ID); ok {
		t.pending.Remove(a.ID)
		return []classifier.Operation{t.op(classifier.Rename, path)}
	}
	if a.IsDir {
		t.prime(path)
		return []classifier.Operation{t.op(classifier.Mkdir, path)}
	}
	op := t.op(classifier.Open, path)
	op.Flags = os.O_CREATE
	return []classifier.Operation{op}
}

func (t *translator) written(path string) []classifier.Operation {
	a, err := t.lstat(path)
	if err != nil || a.IsDir {
		return nil
	}
	old, known := t.attrs.Get(path)
	t.attrs.Add(path, a)

	op := t.op(classifier.Write, path)
	switch {
	case known && old.ID == a.ID && a.Size > old.Size:
		op.Offset = old.Size
		op.Length = a.Size - old.Size
	case known && old.ID == a.ID && a.Size < old.Size:
		op.Kind = classifier.Truncate
		op.Length = a.Size
	default:
		op.Length = a.Size
	}
	return []classifier.Operation{op}
}

func (t *translator) removed(path string) []classifier.Operation {
	old, known := t.attrs.Get(path)
	if !known {
		metricDropped.WithLabelValues("unknown_identity").Inc()
		l.Debugln(t.root, "remove of unknown object", path)
		return nil
	}
	t.attrs.Remove(path)

	kind := classifier.Unlink
	if old.IsDir {
		kind = classifier.Rmdir
	}
	op := t.op(kind, path)
	op.Captured = &classifier.Capture{ID: old.ID, Path: path, User: op.User}
	return []classifier.Operation{op}
}

func (t *translator) renamed(path string) []classifier.Operation {
	a, err := t.lstat(path)
	if err != nil {
		// The old name. Remember the object so that its new name can be
		// recognized.
		if old, ok := t.attrs.Get(path); ok {
			t.attrs.Remove(path)
			t.pending.Add(old.ID, path)
		}
		return nil
	}

	// The new name.
	t.pending.Remove(a.ID)
	t.attrs.Add(path, a)
	if a.IsDir {
		t.prime(path)
	}
	return []classifier.Operation{t.op(classifier.Rename, path)}
}

func (t *translator) attribChanged(path string) []classifier.Operation {
	a, err := t.lstat(path)
	if err != nil {
		return nil
	}
	old, known := t.attrs.Get(path)
	t.attrs.Add(path, a)
	if !known || old.ID != a.ID {
		metricDropped.WithLabelValues("unknown_attributes").Inc()
		return nil
	}

	var ops []classifier.Operation
	if old.Mode != a.Mode {
		ops = append(ops, t.op(classifier.Chmod, path))
	}
	if old.UID != a.UID || old.GID != a.GID {
		ops = append(ops, t.op(classifier.Chown, path))
	}
	if old.Mtime != a.Mtime || old.Atime != a.Atime {
		ops = append(ops, t.op(classifier.Utimes, path))
	}
	return ops
}
