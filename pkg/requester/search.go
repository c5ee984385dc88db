package requester

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/deskrelay/deskrelay/pkg/observability"
)

const (
	// searchResultLimit caps how many provider hits a search returns
	searchResultLimit = 10

	defaultSearchTimeout  = 10 * time.Second
	defaultSearchCacheTTL = 30 * time.Second
	searchCacheSize       = 256
)

// SearchClient queries the external requester search provider. Results
// are cached briefly per search term since technicians tend to repeat
// searches while narrowing them down.
type SearchClient struct {
	baseURL    string
	httpClient *http.Client
	cache      *expirable.LRU[string, []ExternalResult]
	metrics    *observability.Metrics
}

// SearchConfig configures the search provider client
type SearchConfig struct {
	BaseURL  string
	Timeout  time.Duration
	CacheTTL time.Duration
}

// NewSearchClient builds a search client with a bounded per-term cache
func NewSearchClient(cfg SearchConfig, metrics *observability.Metrics) *SearchClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultSearchTimeout
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultSearchCacheTTL
	}
	return &SearchClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		cache:   expirable.NewLRU[string, []ExternalResult](searchCacheSize, nil, ttl),
		metrics: metrics,
	}
}

// Search returns up to searchResultLimit provider hits for the term
func (c *SearchClient) Search(ctx context.Context, term string) ([]ExternalResult, error) {
	if cached, ok := c.cache.Get(term); ok {
		if c.metrics != nil {
			c.metrics.SearchCacheHitsTotal.Inc()
		}
		return cached, nil
	}
	if c.metrics != nil {
		c.metrics.SearchCacheMissesTotal.Inc()
	}

	params := url.Values{}
	params.Set("search", term)
	endpoint := c.baseURL + "/lbp/requesters?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.metrics != nil {
		c.metrics.ObserveUpstreamRequest("search", err, time.Since(start))
	}
	if err != nil {
		return nil, &UpstreamError{Target: "search", Summary: "request failed"}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &UpstreamError{Target: "search", Status: resp.StatusCode, Summary: "search rejected"}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &UpstreamError{Target: "search", Status: resp.StatusCode, Summary: "reading response failed"}
	}

	var results []ExternalResult
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, &UpstreamError{Target: "search", Status: resp.StatusCode, Summary: "unexpected response shape"}
	}
	if len(results) > searchResultLimit {
		results = results[:searchResultLimit]
	}

	c.cache.Add(term, results)
	return results, nil
}
