package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/arrowhead-lite/orchestrator/pkg/logger"
)

// HTTPClient queries a service registry over HTTP.
type HTTPClient struct {
	client   *http.Client
	endpoint *url.URL
	apiKey   string
	log      *logger.Logger
}

var _ Lookup = (*HTTPClient)(nil)

// NewHTTPClient constructs a registry client for the given endpoint.
func NewHTTPClient(client *http.Client, endpoint, apiKey string, log *logger.Logger) (*HTTPClient, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("registry endpoint required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse registry endpoint: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("registry-client")
	}
	return &HTTPClient{
		client:   client,
		endpoint: parsed,
		apiKey:   strings.TrimSpace(apiKey),
		log:      log,
	}, nil
}

// FindProviders asks the registry for live providers of the definition.
func (c *HTTPClient) FindProviders(ctx context.Context, serviceDefinition string, filter LookupFilter) ([]ProviderDescriptor, error) {
	requestURL := *c.endpoint
	q := requestURL.Query()
	q.Set("service_definition", serviceDefinition)
	for _, preferred := range filter.PreferredProviders {
		q.Add("preferred", preferred)
	}
	requestURL.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build registry request: %w", err)
	}
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("registry request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry status %d", resp.StatusCode)
	}

	var payload struct {
		Providers []ProviderDescriptor `json:"providers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode registry response: %w", err)
	}
	return payload.Providers, nil
}
