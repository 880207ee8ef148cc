package lookup

/*
domaingate — discovery gating and domain vetting in Go
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/x-stp/domaingate/internal/client"
	"github.com/x-stp/domaingate/internal/core"
	"github.com/x-stp/domaingate/internal/metrics"
	"golang.org/x/sync/semaphore"
)

// ReputationOptions configures a ReputationClient.
type ReputationOptions struct {
	Endpoint    string        // Base URL; the domain is sent as ?domain=.
	APIKey      string        // Sent as X-API-Key when set.
	Timeout     time.Duration // Per call. Defaults to core.ReputationTimeout.
	Rate        float64       // Initial requests per second.
	Concurrency int           // Max in-flight calls.
	HTTPClient  *http.Client  // Defaults to the shared client.
}

// ReputationClient calls an HTTP scoring service that answers
// {"score": <0-100>}.
type ReputationClient struct {
	endpoint *url.URL
	apiKey   string
	timeout  time.Duration
	http     *http.Client
	limiter  *core.RateLimiter
	inflight *semaphore.Weighted
}

type reputationResponse struct {
	Score *int `json:"score"`
}

// NewReputationClient validates opts and creates a client.
func NewReputationClient(opts ReputationOptions) (*ReputationClient, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("reputation endpoint is required")
	}
	u, err := url.Parse(opts.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse reputation endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("reputation endpoint must be http(s), got %q", opts.Endpoint)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = core.ReputationTimeout
	}
	if opts.Rate <= 0 {
		opts.Rate = core.DefaultReputationRate
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = core.DefaultReputationConcurrency
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = client.GetHTTPClient()
	}
	return &ReputationClient{
		endpoint: u,
		apiKey:   opts.APIKey,
		timeout:  opts.Timeout,
		http:     opts.HTTPClient,
		limiter:  core.NewRateLimiter(opts.Rate, opts.Concurrency),
		inflight: semaphore.NewWeighted(int64(opts.Concurrency)),
	}, nil
}

// Score returns the reputation of name. If the local rate limiter cannot
// hand out a token before ctx's deadline, the error wraps core.ErrRateLimited
// and no request is sent.
func (c *ReputationClient) Score(ctx context.Context, name string) (score int, err error) {
	start := time.Now()
	defer func() {
		metrics.GetMetrics().RecordLookup(string(KindReputation), err, time.Since(start))
	}()

	if name == "" {
		return 0, newError(KindReputation, name, ErrEmptyName)
	}
	if err := c.inflight.Acquire(ctx, 1); err != nil {
		return 0, newError(KindReputation, name, err)
	}
	defer c.inflight.Release(1)

	if err := c.limiter.Wait(ctx); err != nil {
		return 0, newError(KindReputation, name, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := *c.endpoint
	q := u.Query()
	q.Set("domain", name)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, newError(KindReputation, name, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", client.UserAgent)
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.limiter.RecordFailure()
		c.reportRate()
		return 0, newError(KindReputation, name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		c.limiter.RecordFailure()
		c.reportRate()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return 0, &Error{Kind: KindReputation, Domain: name, Err: fmt.Errorf("status %d", resp.StatusCode), Retryable: true}
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return 0, newError(KindReputation, name, fmt.Errorf("status %d", resp.StatusCode))
	}

	var body reputationResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, core.MaxProbeBodyBytes)).Decode(&body); err != nil {
		return 0, newError(KindReputation, name, fmt.Errorf("decode response: %w", err))
	}
	c.limiter.RecordSuccess()
	c.reportRate()

	if body.Score == nil {
		return 0, newError(KindReputation, name, fmt.Errorf("%w: missing score", ErrBadScore))
	}
	if *body.Score < 0 || *body.Score > core.MaxReputationScore {
		return 0, newError(KindReputation, name, fmt.Errorf("%w: %d", ErrBadScore, *body.Score))
	}
	return *body.Score, nil
}

func (c *ReputationClient) reportRate() {
	metrics.GetMetrics().UpdateRateLimit(string(KindReputation), c.limiter.GetCurrentRate())
}
