// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package dvr

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
)

const streamTimeout = 10 * time.Second

// ActiveRecording is one record session listed by the stream service.
type ActiveRecording struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	ProgramID int    `json:"program_id"`
}

// StreamClient is the Recorder and Counter speaking to the stream service.
type StreamClient struct {
	base string
	http *http.Client
}

// NewStreamClient returns a client for the stream service at base
// (e.g. "http://127.0.0.1:8888").
func NewStreamClient(base string, h *http.Client) *StreamClient {
	if h == nil {
		h = &http.Client{Timeout: streamTimeout}
	}
	return &StreamClient{base: strings.TrimRight(base, "/"), http: h}
}

// Record issues a record-mode stream request.
func (c *StreamClient) Record(ctx context.Context, req RecordRequest) error {
	q := url.Values{}
	q.Set("record", strconv.FormatInt(req.Duration, 10))
	if req.VO {
		q.Set("vo", "1")
	}
	target := fmt.Sprintf("%s/rtp/%s/video-%d?%s", c.base, url.PathEscape(req.ChannelID), req.Start, q.Encode())

	resp, err := c.get(ctx, target)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusServiceUnavailable:
		return ErrCapacity
	default:
		return fmt.Errorf("record %s/%d: stream service returned %s", req.ChannelID, req.Start, resp.Status)
	}
}

// Recordings lists running record sessions.
func (c *StreamClient) Recordings(ctx context.Context) ([]ActiveRecording, error) {
	resp, err := c.get(ctx, c.base+"/sessions?mode=record")
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list sessions: stream service returned %s", resp.Status)
	}
	var out []ActiveRecording
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

// ActiveRecordings counts running record sessions.
func (c *StreamClient) ActiveRecordings(ctx context.Context) (int, error) {
	recs, err := c.Recordings(ctx)
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

func (c *StreamClient) get(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	return c.http.Do(req)
}
