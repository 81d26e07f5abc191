// Copyright (C) 2026 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"time"

	"github.com/syncthing/changewatch/lib/identity"
	"github.com/syncthing/changewatch/lib/registry"
	"github.com/syncthing/changewatch/lib/watch"
)

// A Client talks to the API over its unix socket. Paths are made absolute
// on the client side, since the server does not share our working
// directory. Failures come back wrapping the same sentinel errors the
// server side reported.
type Client struct {
	http *http.Client
}

func NewClient(socket string) *Client {
	return &Client{
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socket)
				},
			},
			Timeout: 2 * time.Minute,
		},
	}
}

// RemoteError is an error reported by the server.
type RemoteError struct {
	Status  int
	Kind    string
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

func (e *RemoteError) Unwrap() error {
	return watch.KindError(e.Kind)
}

func (c *Client) SetWatch(ctx context.Context, path string) (registry.Watch, error) {
	var w registry.Watch
	err := c.do(ctx, http.MethodPost, "/rest/watch", pathQuery(path), nil, &w)
	return w, err
}

func (c *Client) RemoveWatch(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, "/rest/watch", pathQuery(path), nil, nil)
}

func (c *Client) FlushWatch(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodPost, "/rest/watch/flush", pathQuery(path), nil, nil)
}

func (c *Client) NumChanges(ctx context.Context, path string) (int, error) {
	var res Count
	err := c.do(ctx, http.MethodGet, "/rest/watch/changes/count", pathQuery(path), nil, &res)
	return res.Count, err
}

// GetChanges returns up to maxRecords change records. A negative
// maxRecords returns all of them.
func (c *Client) GetChanges(ctx context.Context, path string, maxRecords int) ([]registry.Record, error) {
	q := pathQuery(path)
	if maxRecords >= 0 {
		q.Set("max", strconv.Itoa(maxRecords))
	}
	var recs []registry.Record
	err := c.do(ctx, http.MethodGet, "/rest/watch/changes", q, nil, &recs)
	return recs, err
}

// ChangesWithin returns the packed change records that fit in budget
// bytes.
func (c *Client) ChangesWithin(ctx context.Context, path string, budget int) ([]registry.Record, error) {
	q := pathQuery(path)
	q.Set("budget", strconv.Itoa(budget))
	bs, err := c.raw(ctx, "/rest/watch/changes", q)
	if err != nil {
		return nil, err
	}
	return registry.UnmarshalRecords(bs)
}

func (c *Client) NumWatches(ctx context.Context) (int, error) {
	var res Count
	err := c.do(ctx, http.MethodGet, "/rest/watches/count", nil, nil, &res)
	return res.Count, err
}

func (c *Client) ListWatchedDirectories(ctx context.Context, maxRecords int) ([]registry.Watch, error) {
	q := url.Values{}
	if maxRecords >= 0 {
		q.Set("max", strconv.Itoa(maxRecords))
	}
	var ws []registry.Watch
	err := c.do(ctx, http.MethodGet, "/rest/watches", q, nil, &ws)
	return ws, err
}

// WatchedWithin returns the packed identities of the watch points that fit
// in budget bytes.
func (c *Client) WatchedWithin(ctx context.Context, budget int) ([]identity.ID, error) {
	q := url.Values{}
	q.Set("budget", strconv.Itoa(budget))
	bs, err := c.raw(ctx, "/rest/watches", q)
	if err != nil {
		return nil, err
	}
	return registry.UnmarshalIdentities(bs)
}

// Capture looks up path ahead of its deletion. The returned token is to be
// passed along with the later unlink or rmdir of it.
func (c *Client) Capture(ctx context.Context, path string) (CaptureResponse, error) {
	var res CaptureResponse
	err := c.do(ctx, http.MethodPost, "/rest/operation/capture", pathQuery(path), nil, &res)
	return res, err
}

// Report submits a completed operation. It returns whether a change was
// recorded.
func (c *Client) Report(ctx context.Context, req OperationRequest) (bool, error) {
	if req.Path != "" {
		req.Path = absPath(req.Path)
	}
	var res OperationResponse
	err := c.do(ctx, http.MethodPost, "/rest/operation", nil, req, &res)
	return res.Recorded, err
}

// Status returns the server's status map.
func (c *Client) Status(ctx context.Context) (map[string]any, error) {
	var res map[string]any
	err := c.do(ctx, http.MethodGet, "/rest/system/status", nil, nil, &res)
	return res, err
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, into any) error {
	var rd io.Reader
	if body != nil {
		bs, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(bs)
	}
	req, err := http.NewRequestWithContext(ctx, method, requestURL(path, q), rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return err
	}
	if into == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(into)
}

func (c *Client) raw(ctx context.Context, path string, q url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL(path, q), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return nil, err
	}
	return io.ReadAll(resp.Body)
}

func checkResponse(resp *http.Response) error {
	if resp.StatusCode < 300 {
		return nil
	}
	bs, _ := io.ReadAll(resp.Body)
	var er errorResponse
	if err := json.Unmarshal(bs, &er); err != nil || er.Kind == "" {
		return &RemoteError{Status: resp.StatusCode, Kind: watch.KindInternal, Message: fmt.Sprintf("%s: %s", resp.Status, bytes.TrimSpace(bs))}
	}
	return &RemoteError{Status: resp.StatusCode, Kind: er.Kind, Message: er.Error}
}

func requestURL(path string, q url.Values) string {
	u := url.URL{Scheme: "http", Host: "changewatch", Path: path}
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func pathQuery(path string) url.Values {
	q := url.Values{}
	q.Set("path", absPath(path))
	return q
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil && path != "" {
		return abs
	}
	return path
}
