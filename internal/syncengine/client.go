// LifeMap - Privacy-Oriented Location Journaling
// Copyright 2026 LifeMap Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lifemap-app/lifemap

package syncengine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/lifemap-app/lifemap/internal/logging"
	"github.com/lifemap-app/lifemap/internal/point"
)

// SyncResponse is the remote sync endpoint's reply.
type SyncResponse struct {
	Success     bool     `json:"success"`
	SyncedCount int      `json:"syncedCount"`
	FailedCount int      `json:"failedCount"`
	Errors      []string `json:"errors,omitempty"`
}

// PointsResponse is one page from the remote point query endpoint.
type PointsResponse struct {
	Points     []*point.Envelope `json:"points"`
	TotalCount int               `json:"totalCount"`
	HasMore    bool              `json:"hasMore"`
	Limit      int               `json:"limit"`
	Offset     int               `json:"offset"`
}

// PointsQuery parameterizes a remote point query.
type PointsQuery struct {
	StartDate time.Time
	EndDate   time.Time
	Limit     int
	Offset    int
}

// TokenProvider supplies the bearer token for remote calls. Tokens rotate,
// so the client asks per request instead of holding one.
type TokenProvider func() (string, error)

// StaticToken wraps a fixed token as a TokenProvider.
func StaticToken(token string) TokenProvider {
	return func() (string, error) { return token, nil }
}

// Client talks to the remote sync and point-query endpoints.
type Client struct {
	baseURL string
	token   TokenProvider
	http    *http.Client
}

// NewClient creates a client for the remote endpoint at baseURL.
func NewClient(baseURL string, token TokenProvider, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// Upload posts one batch of encrypted envelopes to POST /location/sync.
// HTTP failures are classified onto the shared taxonomy so the retry policy
// can treat 429 like any other retryable batch failure.
func (c *Client) Upload(ctx context.Context, envelopes []*point.Envelope) (*SyncResponse, error) {
	body, err := json.Marshal(map[string]any{"points": envelopes})
	if err != nil {
		return nil, fmt.Errorf("marshal sync request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/location/sync", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build sync request: %w", err)
	}
	if err := c.authorize(req); err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", point.ErrNetwork, err.Error())
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		return nil, err
	}

	var syncResp SyncResponse
	if err := json.NewDecoder(resp.Body).Decode(&syncResp); err != nil {
		return nil, fmt.Errorf("%w: decode sync response: %s", point.ErrNetwork, err.Error())
	}
	return &syncResp, nil
}

// Beacon delivers envelopes best-effort with a detached context and a short
// transport timeout. Used on page close: the request may outlive the page,
// and the result is only logged.
func (c *Client) Beacon(envelopes []*point.Envelope) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if _, err := c.Upload(ctx, envelopes); err != nil {
			logging.Warn().Err(err).Int("points", len(envelopes)).Msg("beacon delivery failed")
			return
		}
		logging.Debug().Int("points", len(envelopes)).Msg("beacon delivered")
	}()
}

// FetchPoints queries GET /location/points for one page of envelopes.
func (c *Client) FetchPoints(ctx context.Context, q PointsQuery) (*PointsResponse, error) {
	params := url.Values{}
	if !q.StartDate.IsZero() {
		params.Set("startDate", q.StartDate.Format(time.RFC3339))
	}
	if !q.EndDate.IsZero() {
		params.Set("endDate", q.EndDate.Format(time.RFC3339))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		params.Set("offset", strconv.Itoa(q.Offset))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/location/points?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build points request: %w", err)
	}
	if err := c.authorize(req); err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", point.ErrNetwork, err.Error())
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		return nil, err
	}

	var page PointsResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("%w: decode points response: %s", point.ErrNetwork, err.Error())
	}
	return &page, nil
}

func (c *Client) authorize(req *http.Request) error {
	token, err := c.token()
	if err != nil {
		return fmt.Errorf("%w: no auth token: %s", point.ErrUnauthorized, err.Error())
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// classifyStatus maps HTTP error statuses onto the shared taxonomy.
func classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return point.ErrRateLimited
	case resp.StatusCode == http.StatusUnauthorized:
		return point.ErrUnauthorized
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", point.ErrNetwork, resp.StatusCode, string(body))
	}
}
