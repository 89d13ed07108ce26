// Package websearch supplies live web-search candidates when catalog
// confidence is too low. It fails open: any error yields zero candidates,
// never a failed request.
package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/orlevy/toolscout/internal/catalog"
	"github.com/orlevy/toolscout/internal/rank"
)

// Config configures the web-search client (a Serper-style JSON search API).
type Config struct {
	Endpoint   string
	APIKey     string
	Timeout    time.Duration
	MaxResults int
	RateLimit  float64
	RateBurst  int
}

// Client queries the live search API.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New returns a search client. An empty API key leaves the client
// unconfigured; Search then returns no candidates.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		logger:  logger,
	}
}

// Configured reports whether live search can be attempted.
func (c *Client) Configured() bool {
	return c.cfg.APIKey != "" && c.cfg.Endpoint != ""
}

// Search returns live-search candidates for query. It never returns an
// error to the caller: unconfigured, failed, or empty all yield nil, and
// the response simply omits fallback candidates.
func (c *Client) Search(ctx context.Context, query string) []rank.Candidate {
	if !c.Configured() {
		c.logger.Debug("live search not configured, skipping fallback")
		return nil
	}

	results, err := c.search(ctx, query)
	if err != nil {
		c.logger.Warn("live search unavailable, continuing without fallback candidates",
			zap.String("query", query),
			zap.Error(err))
		return nil
	}

	candidates := make([]rank.Candidate, 0, len(results))
	for _, r := range results {
		if strings.TrimSpace(r.Title) == "" {
			continue
		}
		candidates = append(candidates, rank.Candidate{
			Record: catalog.ToolRecord{
				Name:        r.Title,
				Description: r.Snippet,
				URL:         r.Link,
			},
			// Live hits are unranked against catalog vectors.
			Score:  0,
			Source: rank.SourceLiveSearch,
		})
	}
	c.logger.Debug("live search returned candidates",
		zap.String("query", query),
		zap.Int("count", len(candidates)))
	return candidates
}

type organicResult struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Link    string `json:"link"`
}

func (c *Client) search(ctx context.Context, query string) ([]organicResult, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	body, err := json.Marshal(map[string]any{"q": query, "num": c.cfg.MaxResults})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search request failed: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed struct {
		Organic []organicResult `json:"organic"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("cannot parse search response: %w", err)
	}

	results := parsed.Organic
	if len(results) > c.cfg.MaxResults {
		results = results[:c.cfg.MaxResults]
	}
	return results, nil
}
