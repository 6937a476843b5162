// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package epgclient is the HTTP client of the EPG service.
package epgclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/u7d/internal/dvr"
	"github.com/ManuGH/u7d/internal/epg"
)

const (
	defaultTimeout = 10 * time.Second
	// reloadTimeout covers a full guide generation with retries.
	reloadTimeout = 10 * time.Minute
)

// Client talks to the EPG service at a base URL.
type Client struct {
	base string
	http *http.Client
}

// New returns a client for base (e.g. "http://127.0.0.1:8889"). A nil h
// uses a client with a short timeout.
func New(base string, h *http.Client) *Client {
	if h == nil {
		h = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{base: strings.TrimRight(base, "/"), http: h}
}

// Resolve maps channelID and url to a programme. Unknown programmes are
// reported as epg.ErrNotFound.
func (c *Client) Resolve(ctx context.Context, channelID, rawURL string) (epg.Resolved, error) {
	var out epg.Resolved
	target := fmt.Sprintf("%s/program_id/%s/%s", c.base, url.PathEscape(channelID), url.PathEscape(rawURL))
	err := c.do(ctx, http.MethodGet, target, &out)
	return out, err
}

// ProgramName returns where a programme is recorded.
func (c *Client) ProgramName(ctx context.Context, channelID string, programID int) (dvr.ProgramName, error) {
	var out dvr.ProgramName
	err := c.do(ctx, http.MethodGet, c.programNameURL(channelID, programID), &out)
	return out, err
}

// ConfirmRecording stores a finished recording.
func (c *Client) ConfirmRecording(ctx context.Context, channelID string, programID int) error {
	return c.do(ctx, http.MethodPut, c.programNameURL(channelID, programID), nil)
}

// Reload asks the EPG service to reload its guide and waits for it.
func (c *Client) Reload(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, reloadTimeout)
	defer cancel()
	h := *c.http
	h.Timeout = 0
	return (&Client{base: c.base, http: &h}).do(ctx, http.MethodGet, c.base+"/reload_epg", nil)
}

func (c *Client) programNameURL(channelID string, programID int) string {
	return fmt.Sprintf("%s/program_name/%s/%s", c.base, url.PathEscape(channelID), strconv.Itoa(programID))
}

// StatusError is a non-2xx reply of the EPG service.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("epg service: %d %s", e.Code, e.Status)
	}
	return fmt.Sprintf("epg service: %d", e.Code)
}

// Unwrap maps 404 to epg.ErrNotFound.
func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusNotFound {
		return epg.ErrNotFound
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, target string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("epg service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var reply struct {
			Status string `json:"status"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&reply)
		return &StatusError{Code: resp.StatusCode, Status: reply.Status}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("epg service: decode %s: %w", req.URL.Path, err)
	}
	return nil
}
