package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/footybrain/footyd/internal/config"
	"github.com/footybrain/footyd/internal/domain"
	"github.com/footybrain/footyd/internal/metrics"
)

// maxErrBody caps how much of an error response is kept for diagnostics.
const maxErrBody = 2048

// Client talks to the API-Football v3 REST surface. Every wire request
// passes through the governor first, so callers can hammer the client
// without breaching the provider's plan limits.
type Client struct {
	baseURL    string
	host       string
	key        string
	httpClient *http.Client
	gov        *Governor
	metrics    *metrics.Registry

	attempts   int
	retryDelay time.Duration
	maxBackoff time.Duration
}

// NewClient builds a client from upstream config. The governor and
// metrics registry are shared with the rest of the process.
func NewClient(cfg config.UpstreamConfig, gov *Governor, reg *metrics.Registry) *Client {
	host := ""
	if u, err := url.Parse(cfg.BaseURL); err == nil {
		host = u.Host
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		host:       host,
		key:        cfg.Key,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		gov:        gov,
		metrics:    reg,
		attempts:   cfg.RetryAttempts,
		retryDelay: cfg.RetryDelay,
		maxBackoff: cfg.MaxBackoff,
	}
}

// GovernorStats exposes the current budget occupancy for health output.
func (c *Client) GovernorStats() GovernorStats { return c.gov.Stats() }

// FixturesByDate lists all fixtures scheduled on the given UTC day.
func (c *Client) FixturesByDate(ctx context.Context, day time.Time) ([]domain.Fixture, error) {
	params := url.Values{"date": {day.UTC().Format("2006-01-02")}}
	raw, err := c.doGet(ctx, "fixtures", params, "fixtures")
	if err != nil {
		return nil, err
	}
	return c.fixturesFrom("fixtures", raw)
}

// FixturesWithDimensions lists a day's fixtures together with the
// league, team and venue rows the payload names, so the poll jobs can
// refresh reference data without extra requests.
func (c *Client) FixturesWithDimensions(ctx context.Context, day time.Time) ([]domain.Fixture, Dimensions, error) {
	params := url.Values{"date": {day.UTC().Format("2006-01-02")}}
	raw, err := c.doGet(ctx, "fixtures", params, "fixtures")
	if err != nil {
		return nil, Dimensions{}, err
	}
	fixtures, err := c.fixturesFrom("fixtures", raw)
	if err != nil {
		return nil, Dimensions{}, err
	}
	return fixtures, normalizeDimensions(raw), nil
}

// FixturesLive lists every fixture the provider currently marks in play.
func (c *Client) FixturesLive(ctx context.Context) ([]domain.Fixture, error) {
	params := url.Values{"live": {"all"}}
	raw, err := c.doGet(ctx, "fixtures", params, "fixtures")
	if err != nil {
		return nil, err
	}
	return c.fixturesFrom("fixtures", raw)
}

// LiveOdds pulls the current in-play prices for one fixture.
func (c *Client) LiveOdds(ctx context.Context, fixtureID int64) ([]domain.OddsTick, error) {
	params := url.Values{"fixture": {strconv.FormatInt(fixtureID, 10)}}
	raw, err := c.doGet(ctx, "odds/live", params, "odds")
	if err != nil {
		return nil, err
	}
	ticks, dropped, err := normalizeLiveOdds(fixtureID, raw, time.Now().UTC())
	if err != nil {
		return nil, c.malformed("odds/live", err)
	}
	c.countDropped("odds", dropped)
	return ticks, nil
}

// PrematchOdds pulls the pre-kickoff prices for one fixture.
func (c *Client) PrematchOdds(ctx context.Context, fixtureID int64) ([]domain.PrematchQuote, error) {
	params := url.Values{"fixture": {strconv.FormatInt(fixtureID, 10)}}
	raw, err := c.doGet(ctx, "odds", params, "prematch")
	if err != nil {
		return nil, err
	}
	quotes, dropped, err := normalizePrematch(raw, time.Now().UTC())
	if err != nil {
		return nil, c.malformed("odds", err)
	}
	c.countDropped("prematch", dropped)
	return quotes, nil
}

// FixtureEvents pulls the event timeline for one fixture.
func (c *Client) FixtureEvents(ctx context.Context, fixtureID int64) ([]domain.EventTick, error) {
	params := url.Values{"fixture": {strconv.FormatInt(fixtureID, 10)}}
	raw, err := c.doGet(ctx, "fixtures/events", params, "events")
	if err != nil {
		return nil, err
	}
	ticks, dropped, err := normalizeEvents(fixtureID, raw, time.Now().UTC())
	if err != nil {
		return nil, c.malformed("fixtures/events", err)
	}
	c.countDropped("events", dropped)
	return ticks, nil
}

// FixtureStatistics pulls the cumulative team statistics for one fixture.
func (c *Client) FixtureStatistics(ctx context.Context, fixtureID int64) ([]domain.StatTick, error) {
	params := url.Values{"fixture": {strconv.FormatInt(fixtureID, 10)}}
	raw, err := c.doGet(ctx, "fixtures/statistics", params, "stats")
	if err != nil {
		return nil, err
	}
	ticks, dropped, err := normalizeStats(fixtureID, raw, time.Now().UTC())
	if err != nil {
		return nil, c.malformed("fixtures/statistics", err)
	}
	c.countDropped("stats", dropped)
	return ticks, nil
}

func (c *Client) fixturesFrom(endpoint string, raw json.RawMessage) ([]domain.Fixture, error) {
	fixtures, dropped, err := normalizeFixtures(raw, time.Now().UTC())
	if err != nil {
		return nil, c.malformed(endpoint, err)
	}
	c.countDropped("fixtures", dropped)
	return fixtures, nil
}

func (c *Client) countDropped(kind string, n int) {
	if n > 0 && c.metrics != nil {
		c.metrics.ValidationDropped.WithLabelValues(kind, "shape").Add(float64(n))
	}
}

func (c *Client) malformed(endpoint string, cause error) error {
	if c.metrics != nil {
		c.metrics.UpstreamMalformed.Inc()
	}
	return &MalformedError{Endpoint: endpoint, Cause: cause}
}

// doGet acquires a permit, performs the request, and retries transient
// failures with exponential backoff. Rejections and malformed bodies
// fail immediately; retrying them would burn budget for nothing.
func (c *Client) doGet(ctx context.Context, endpoint string, params url.Values, kind string) (json.RawMessage, error) {
	start := time.Now()
	raw, err := c.doGetRetry(ctx, endpoint, params)
	if c.metrics != nil {
		c.metrics.PullDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}
	return raw, err
}

func (c *Client) doGetRetry(ctx context.Context, endpoint string, params url.Values) (json.RawMessage, error) {
	var lastErr error
	wait := time.Duration(0)

	for attempt := 1; attempt <= c.attempts; attempt++ {
		if wait > 0 {
			if err := sleepCtx(ctx, wait); err != nil {
				return nil, err
			}
		}

		raw, retryIn, err := c.try(ctx, endpoint, params)
		if err == nil {
			return raw, nil
		}
		if !retryable(err) {
			return nil, err
		}
		lastErr = err

		backoff := jitter(c.backoffFor(attempt))
		if retryIn > backoff {
			backoff = retryIn
		}
		wait = backoff

		log.Warn().
			Str("endpoint", endpoint).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Err(err).
			Msg("Upstream request failed, will retry")
	}

	if c.metrics != nil {
		c.metrics.UpstreamUnavailable.Inc()
	}
	return nil, &UnavailableError{Endpoint: endpoint, Attempts: c.attempts, Last: lastErr}
}

// try performs exactly one wire request. The second return value carries
// the provider-requested delay after a 429.
func (c *Client) try(ctx context.Context, endpoint string, params url.Values) (json.RawMessage, time.Duration, error) {
	if err := c.gov.Acquire(ctx); err != nil {
		if errors.Is(err, ErrRateStalled) && c.metrics != nil {
			c.metrics.RateStalled.Inc()
		}
		return nil, 0, err
	}

	reqURL := c.baseURL + "/" + endpoint
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-RapidAPI-Key", c.key)
	req.Header.Set("X-RapidAPI-Host", c.host)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		return nil, 0, fmt.Errorf("request %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrBody))
		return nil, retryAfter(resp), fmt.Errorf("upstream throttled %s: %d", endpoint, resp.StatusCode)

	case resp.StatusCode >= 500:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrBody))
		return nil, 0, fmt.Errorf("upstream %s: status %d", endpoint, resp.StatusCode)

	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		if c.metrics != nil {
			c.metrics.UpstreamRejected.Inc()
		}
		return nil, 0, &RejectedError{Status: resp.StatusCode, Body: string(body)}
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, 0, c.malformed(endpoint, err)
	}
	if msgs := env.apiErrors(); len(msgs) > 0 {
		if c.metrics != nil {
			c.metrics.UpstreamRejected.Inc()
		}
		return nil, 0, &RejectedError{Status: resp.StatusCode, Body: strings.Join(msgs, "; ")}
	}
	return env.Response, 0, nil
}

// retryable reports whether another attempt can change the outcome.
// Governor stalls, provider rejections, malformed bodies and context
// cancellation are final.
func retryable(err error) bool {
	if errors.Is(err, ErrRateStalled) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var rej *RejectedError
	if errors.As(err, &rej) {
		return false
	}
	var mal *MalformedError
	return !errors.As(err, &mal)
}

// backoffFor doubles the base delay per completed attempt, capped.
func (c *Client) backoffFor(attempt int) time.Duration {
	d := c.retryDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.maxBackoff {
			return c.maxBackoff
		}
	}
	return d
}

// jitter spreads a delay by +-25% so pulls against a struggling upstream
// do not realign.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	f := 0.75 + rand.Float64()*0.5
	return time.Duration(float64(d) * f)
}

// retryAfter decodes the Retry-After header, either delta seconds or an
// HTTP date. Zero means the header was absent or unreadable.
func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// MaskKey renders an API key safe for logs, keeping the last four runes.
func MaskKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}
