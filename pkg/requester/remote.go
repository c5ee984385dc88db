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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/deskrelay/deskrelay/pkg/observability"
)

const (
	// remoteAcceptHeader selects v3 of the ticketing API's wire format
	remoteAcceptHeader = "application/vnd.manageengine.sdp.v3+json"
	// remoteAuthScheme is the provider's bearer-like authorization scheme
	remoteAuthScheme = "Zoho-oauthtoken"

	defaultRemoteTimeout = 15 * time.Second
)

// RemoteClient talks to the ticketing API's requester endpoints. The
// provider expects the JSON payload urlencoded into an input_data query
// parameter rather than in the request body.
type RemoteClient struct {
	baseURL    string
	httpClient *http.Client
	metrics    *observability.Metrics
}

// RemoteConfig configures the ticketing API client
type RemoteConfig struct {
	BaseURL string
	Timeout time.Duration
}

// NewRemoteClient builds a client with tracing and a bounded timeout
func NewRemoteClient(cfg RemoteConfig, metrics *observability.Metrics) *RemoteClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}
	return &RemoteClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		metrics: metrics,
	}
}

// Create pushes a new requester and returns the provider's view of it
func (c *RemoteClient) Create(ctx context.Context, accessToken string, envelope RemoteEnvelope) (*RemoteRequester, error) {
	return c.send(ctx, http.MethodPost, c.baseURL+"/api/v3/requesters", accessToken, envelope)
}

// Update rewrites an existing requester identified by its provider id
func (c *RemoteClient) Update(ctx context.Context, accessToken, requesterID string, envelope RemoteEnvelope) (*RemoteRequester, error) {
	return c.send(ctx, http.MethodPut,
		c.baseURL+"/api/v3/requesters/"+url.PathEscape(requesterID), accessToken, envelope)
}

func (c *RemoteClient) send(ctx context.Context, method, endpoint, accessToken string, envelope RemoteEnvelope) (*RemoteRequester, error) {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("marshal requester payload: %w", err)
	}

	params := url.Values{}
	params.Set("input_data", string(payload))

	req, err := http.NewRequestWithContext(ctx, method, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build ticketing request: %w", err)
	}
	req.Header.Set("Accept", remoteAcceptHeader)
	req.Header.Set("Authorization", remoteAuthScheme+" "+accessToken)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.metrics != nil {
		c.metrics.ObserveUpstreamRequest("ticketing", err, time.Since(start))
	}
	if err != nil {
		return nil, &UpstreamError{Target: "ticketing", Summary: "request failed"}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &UpstreamError{Target: "ticketing", Status: resp.StatusCode, Summary: "reading response failed"}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamError{
			Target:  "ticketing",
			Status:  resp.StatusCode,
			Summary: fmt.Sprintf("%s %s rejected", method, "/api/v3/requesters"),
		}
	}

	var parsed struct {
		Requester *RemoteRequester `json:"requester"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Requester == nil {
		return nil, &UpstreamError{Target: "ticketing", Status: resp.StatusCode, Summary: "unexpected response shape"}
	}
	return parsed.Requester, nil
}
