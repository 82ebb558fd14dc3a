// Package sources provides the data fetchers the aggregator fans out to.
//
// Market data is read from a JSON gateway (quote, fund flow, financials, daily candles)
// and news from an HTML listing page. Every fetcher returns a domain.Document whose
// Text field is the summary that ends up in the analysis prompt.
package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aristath/stockwatch/internal/domain"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Source names used as aggregation branch keys.
const (
	NameQuote      = "quote"
	NameFundFlow   = "fund_flow"
	NameFinancials = "financials"
	NameTechnical  = "technical"
	NameNews       = "news"
)

// Client is a rate-limited HTTP client for the market data gateway.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        zerolog.Logger
	now        func() time.Time
}

// NewClient creates a gateway client allowing rps requests per second (burst 1).
// rps <= 0 disables client-side limiting.
func NewClient(baseURL string, rps float64, log zerolog.Logger) *Client {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
		limiter: rate.NewLimiter(limit, 1),
		log:     log.With().Str("component", "market_data_client").Logger(),
		now:     time.Now,
	}
}

// getJSON GETs path with query and decodes the JSON body into out.
// Throttling and server errors are marked transient so the aggregator retries them.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	body, err := c.get(ctx, c.baseURL+path, query)
	if err != nil {
		return err
	}
	defer body.Close()

	if err := json.NewDecoder(body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, rawURL string, query url.Values) (io.ReadCloser, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	if len(query) > 0 {
		rawURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json, text/html")
	req.Header.Set("User-Agent", "stockwatch/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.MarkTransient(fmt.Errorf("request to %s failed: %w", req.URL.Path, err))
	}

	if resp.StatusCode == http.StatusOK {
		return resp.Body, nil
	}

	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	statusErr := fmt.Errorf("%s returned status %d: %s", req.URL.Path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: %w", domain.ErrRateLimited, statusErr)
	case resp.StatusCode >= 500:
		return nil, domain.MarkTransient(statusErr)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %w", domain.ErrNotFound, statusErr)
	default:
		return nil, statusErr
	}
}

func fmtYi(v float64) string {
	// 亿 = 1e8
	return fmt.Sprintf("%.2f亿", v/1e8)
}
