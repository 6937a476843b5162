// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package upstream talks to the provider's mvtv.do application server.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ManuGH/u7d/internal/log"
	"github.com/rs/zerolog"
)

const defaultTimeout = 10 * time.Second

// Client issues mvtv.do actions.
type Client struct {
	base   string
	http   *http.Client
	logger zerolog.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New returns a client for the mvtv.do endpoint at base.
func New(base string, opts ...Option) *Client {
	c := &Client{
		base:   base,
		http:   &http.Client{Timeout: defaultTimeout},
		logger: log.WithComponent("upstream"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type envelope struct {
	ResultCode int             `json:"resultCode"`
	ResultText string          `json:"resultText"`
	ResultData json.RawMessage `json:"resultData"`
}

// CatchUpURL returns the RTSP URL serving programme pid of channel channelID.
func (c *Client) CatchUpURL(ctx context.Context, channelID string, pid int) (string, error) {
	q := url.Values{}
	q.Set("action", "getCatchUpUrl")
	q.Set("extInfoID", strconv.Itoa(pid))
	q.Set("channelID", channelID)
	q.Set("service", "hd")
	q.Set("mode", "1")

	var data struct {
		URL string `json:"url"`
	}
	if err := c.do(ctx, "getCatchUpUrl", q, &data); err != nil {
		return "", err
	}
	if data.URL == "" {
		return "", &ResultError{Operation: "getCatchUpUrl", Text: "empty url"}
	}
	c.logger.Debug().
		Str(log.FieldChannelID, channelID).
		Int(log.FieldProgramID, pid).
		Str(log.FieldURL, data.URL).
		Msg("catch-up url resolved")
	return data.URL, nil
}

// Recording is one entry of the cloud recordings catalog.
type Recording struct {
	ServiceUID int    `json:"serviceUID"`
	BeginTime  int64  `json:"beginTime"`
	ProductID  int    `json:"productID"`
	Name       string `json:"name"`
	Duration   int64  `json:"duration"`
}

// Start returns the begin time in unix seconds.
func (r Recording) Start() int64 {
	return r.BeginTime / 1000
}

// CloudRecordings lists the account's completed cloud recordings.
func (c *Client) CloudRecordings(ctx context.Context) ([]Recording, error) {
	q := url.Values{}
	q.Set("action", "recordingList")
	q.Set("mode", "0")
	q.Set("state", "2")
	q.Set("firstItem", "0")
	q.Set("numItems", "999")

	var data struct {
		Result []Recording `json:"result"`
	}
	if err := c.do(ctx, "recordingList", q, &data); err != nil {
		return nil, err
	}
	return data.Result, nil
}

func (c *Client) do(ctx context.Context, op string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("upstream %s: %w", op, err)
	}
	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upstream %s: %w", op, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return &ResultError{Operation: op, Status: res.StatusCode, Text: string(body)}
	}

	var env envelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrBadResponse, op, err)
	}
	if env.ResultCode != 0 {
		return &ResultError{Operation: op, Code: env.ResultCode, Text: env.ResultText}
	}
	if len(env.ResultData) == 0 {
		return fmt.Errorf("%w: %s: missing resultData", ErrBadResponse, op)
	}
	if err := json.Unmarshal(env.ResultData, out); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrBadResponse, op, err)
	}
	return nil
}
