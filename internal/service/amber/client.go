package amber

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"AmberPull/internal/domain/models"
	drepo "AmberPull/internal/domain/repository"
	"AmberPull/internal/service/ratelimit"
	pkghttp "AmberPull/pkg/http"
	"AmberPull/pkg/logger"
)

const DefaultBaseURL = "https://api.amber.com.au/v1"

// Client implements PriceAPI against the Amber REST API. Every response
// feeds the shared rate limiter.
type Client struct {
	http        *pkghttp.Client
	baseURL     string
	pricingMode string
	limiter     *ratelimit.Limiter
	log         *logger.Logger
	now         func() time.Time

	mu         sync.Mutex
	lastStatus int
	lastInfo   models.RateLimitInfo
	hasInfo    bool
}

type ClientOption func(*Client)

func WithPricingMode(mode string) ClientOption {
	return func(c *Client) {
		if mode != "" {
			c.pricingMode = mode
		}
	}
}

func WithClientLogger(l *logger.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

func WithClientClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithHTTPClient replaces the transport client, mostly for tests.
func WithHTTPClient(h *pkghttp.Client) ClientOption {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

var _ drepo.PriceAPI = (*Client)(nil)

// NewClient builds a client authenticating with token.
func NewClient(baseURL, token string, timeout time.Duration, limiter *ratelimit.Limiter, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		pricingMode: models.PricingModeApp,
		limiter:     limiter,
		now:         time.Now,
		lastStatus:  http.StatusOK,
		http: pkghttp.NewClient(
			pkghttp.WithTimeout(timeout),
			pkghttp.WithHeader("Authorization", "Bearer "+token),
			pkghttp.WithHeader("Accept", "application/json"),
		),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logger.OrNop(c.log)
	if c.limiter == nil {
		c.limiter = ratelimit.New(ratelimit.WithLogger(c.log))
	}
	return c
}

// FetchCurrentPrices requests the current interval plus next forecasts.
// While the limiter is in backoff no request is sent.
func (c *Client) FetchCurrentPrices(ctx context.Context, siteID string, next, resolution int) (*models.PriceFetch, error) {
	if c.limiter.IsLimited() {
		c.log.Debug("rate limit backoff active", logger.Float64("remaining_s", c.limiter.RemainingSeconds()))
		return nil, &RateLimitedError{Until: c.limiter.Until()}
	}

	opts := &pkghttp.RequestOptions{
		Method: pkghttp.MethodGet,
		URL:    fmt.Sprintf("%s/sites/%s/prices/current", c.baseURL, siteID),
		QueryParams: map[string][]string{
			"next":       {strconv.Itoa(max(0, next))},
			"previous":   {"0"},
			"resolution": {strconv.Itoa(resolution)},
		},
	}

	var intervals []Interval
	resp, err := c.do(ctx, opts, &intervals)
	if err != nil {
		return nil, err
	}
	c.limiter.RecordSuccess()

	snap := ProcessIntervals(intervals, c.pricingMode, next > 0)
	snap.FetchedAt = c.now()
	return &models.PriceFetch{
		Snapshot:     snap,
		RateLimit:    resp.info,
		HasRateLimit: resp.hasInfo,
		Status:       resp.status,
	}, nil
}

// FetchSites lists the sites visible to the token.
func (c *Client) FetchSites(ctx context.Context) ([]models.Site, error) {
	var sites []models.Site
	if _, err := c.do(ctx, &pkghttp.RequestOptions{
		Method: pkghttp.MethodGet,
		URL:    c.baseURL + "/sites",
	}, &sites); err != nil {
		return nil, fmt.Errorf("fetch sites: %w", err)
	}
	return sites, nil
}

// LastStatus returns the status code of the most recent response.
func (c *Client) LastStatus() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastStatus
}

// RateLimitInfo returns the quota from the most recent parseable response.
func (c *Client) RateLimitInfo() (models.RateLimitInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastInfo, c.hasInfo
}

type result struct {
	status  int
	info    models.RateLimitInfo
	hasInfo bool
}

func (c *Client) do(ctx context.Context, opts *pkghttp.RequestOptions, dest interface{}) (result, error) {
	resp, err := c.http.SendRequest(ctx, opts)
	if err != nil {
		return result{}, fmt.Errorf("amber request: %w", err)
	}

	info, ok := ParseRateLimitHeaders(resp.Header, c.now())
	res := result{status: resp.StatusCode, info: info, hasInfo: ok}
	c.mu.Lock()
	c.lastStatus = resp.StatusCode
	if ok {
		c.lastInfo, c.hasInfo = info, true
	}
	c.mu.Unlock()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		_ = drain(resp)
		var hint *int
		if ok {
			reset := info.ResetSeconds
			hint = &reset
		} else {
			c.log.Debug("429 without usable rate limit headers, using exponential backoff")
		}
		until := c.limiter.RecordRateLimit(hint)
		return res, &RateLimitedError{ResetSeconds: hint, Until: until}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		body := drain(resp)
		return res, &APIError{Status: resp.StatusCode, Message: body}
	}

	if err := pkghttp.DecodeJSON(resp, dest); err != nil {
		return res, &APIError{Status: http.StatusInternalServerError, Message: err.Error()}
	}
	return res, nil
}

func drain(resp *http.Response) string {
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return strings.TrimSpace(string(b))
}
