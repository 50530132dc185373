package mgmt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/entities"
	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/fees"
)

// Client is the HTTP surface of the management tier. Every call that fails
// is wrapped in a RemoteSyncFailure so callers can keep outbox rows pending
// and retry on the next sweep.
type Client struct {
	logger  *slog.Logger
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewClient(logger *slog.Logger, baseURL, apiKey string, timeout time.Duration) *Client {
	logger.Info("Management tier client initialized", "base_url", baseURL)

	return &Client{
		logger:  logger,
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// SyncResources pushes resource change payloads upstream.
func (c *Client) SyncResources(ctx context.Context, changes []entities.ResourceChange) error {
	return c.post(ctx, "/api/resources/sync", changes, nil)
}

// UpdateOrders reports swap order state to the management tier.
func (c *Client) UpdateOrders(ctx context.Context, payloads []json.RawMessage) error {
	return c.post(ctx, "/api/orders/update", payloads, nil)
}

// UpdateTransactions reports transaction state to the management tier.
func (c *Client) UpdateTransactions(ctx context.Context, payloads []json.RawMessage) error {
	return c.post(ctx, "/api/transactions/update", payloads, nil)
}

// FetchFeeConfig pulls the authoritative fee schedule.
func (c *Client) FetchFeeConfig(ctx context.Context) (*fees.Schedule, error) {
	var schedule fees.Schedule
	if err := c.get(ctx, "/api/fees/config", &schedule); err != nil {
		return nil, err
	}
	return &schedule, nil
}

// ExecuteSettlement asks the management tier to pay out a bank settlement
// and returns the bank reference it assigns.
func (c *Client) ExecuteSettlement(ctx context.Context, req entities.SettlementRequest) (string, error) {
	var result struct {
		BankReference string `json:"bank_reference"`
	}
	if err := c.post(ctx, "/api/settlements/execute", req, &result); err != nil {
		return "", err
	}
	if result.BankReference == "" {
		return "", &entities.RemoteSyncFailure{
			Endpoint: c.baseURL + "/api/settlements/execute",
			Err:      fmt.Errorf("settlement response missing bank reference"),
		}
	}
	return result.BankReference, nil
}

// LogAudit forwards an audit event.
func (c *Client) LogAudit(ctx context.Context, event entities.AuditEvent) error {
	return c.post(ctx, "/api/audit/log", event, nil)
}

// IngestAnalytics forwards analytics payloads.
func (c *Client) IngestAnalytics(ctx context.Context, payload json.RawMessage) error {
	return c.post(ctx, "/api/analytics/ingest", payload, nil)
}

// FetchClusters lists the processing clusters known to the management tier.
func (c *Client) FetchClusters(ctx context.Context) ([]entities.Cluster, error) {
	var clusters []entities.Cluster
	if err := c.get(ctx, "/api/clusters", &clusters); err != nil {
		return nil, err
	}
	return clusters, nil
}

// RegisterCluster announces this cluster to the management tier.
func (c *Client) RegisterCluster(ctx context.Context, cluster entities.Cluster) error {
	return c.post(ctx, "/api/clusters", cluster, nil)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return &entities.RemoteSyncFailure{Endpoint: c.baseURL + path, Err: err}
	}
	return c.do(req, path, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return &entities.RemoteSyncFailure{Endpoint: c.baseURL + path, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return &entities.RemoteSyncFailure{Endpoint: c.baseURL + path, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, path, out)
}

func (c *Client) do(req *http.Request, path string, out any) error {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &entities.RemoteSyncFailure{Endpoint: c.baseURL + path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return &entities.RemoteSyncFailure{
			Endpoint: c.baseURL + path,
			Err:      fmt.Errorf("status %d: %s", resp.StatusCode, string(bodyBytes)),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &entities.RemoteSyncFailure{Endpoint: c.baseURL + path, Err: err}
	}
	return nil
}
