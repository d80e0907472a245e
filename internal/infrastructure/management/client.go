// Package management provides the HTTP client for the management execution
// facility: composite operation submission and the deployment-names query.
package management

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/barreiro/wildfly-core/internal/domain"
)

// Client implements [domain.ManagementClient] over HTTP/JSON.
type Client struct {
	endpoint string
	http     *http.Client
}

func NewClient(endpoint string, timeout time.Duration) *Client {
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		http:     &http.Client{Timeout: timeout},
	}
}

type executeResponse struct {
	Outcomes []domain.Outcome `json:"outcomes"`
}

// Execute submits one composite operation and returns an outcome per
// operation, in request order.
func (c *Client) Execute(ctx context.Context, op domain.CompositeOperation) ([]domain.Outcome, error) {
	body, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("marshal composite operation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/operations", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build execute request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute composite operation %s: %w", op.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("execute composite operation %s: unexpected status %s", op.ID, resp.Status)
	}

	var out executeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode execute response: %w", err)
	}
	return out.Outcomes, nil
}

type deploymentsResponse struct {
	Deployments []string `json:"deployments"`
}

// DeploymentNames returns the names the facility currently has registered.
func (c *Client) DeploymentNames(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/deployments", nil)
	if err != nil {
		return nil, fmt.Errorf("build deployments request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query deployments: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("query deployments: unexpected status %s", resp.Status)
	}

	var out deploymentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode deployments response: %w", err)
	}
	return out.Deployments, nil
}
