package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/entities"
)

// UexchangeClient talks to the hosted swap provider API.
type UexchangeClient struct {
	logger *slog.Logger
	apiKey string
	apiURL string
	client *http.Client
}

func NewUexchangeClient(logger *slog.Logger, apiURL, apiKey string) *UexchangeClient {
	logger.Info("Swap provider client initialized", "api_url", apiURL)

	return &UexchangeClient{
		logger: logger,
		apiKey: apiKey,
		apiURL: apiURL,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *UexchangeClient) Currencies(ctx context.Context) ([]entities.Currency, error) {
	var currencies []entities.Currency
	if err := c.get(ctx, "/currencies", &currencies); err != nil {
		return nil, err
	}
	return currencies, nil
}

func (c *UexchangeClient) Estimate(ctx context.Context, fromCurrency, fromNetwork, toCurrency, toNetwork string, amount decimal.Decimal) (*entities.SwapEstimate, error) {
	body := map[string]any{
		"from_currency": fromCurrency,
		"from_network":  fromNetwork,
		"to_currency":   toCurrency,
		"to_network":    toNetwork,
		"amount":        amount,
	}

	var estimate entities.SwapEstimate
	if err := c.post(ctx, "/estimate", body, &estimate); err != nil {
		return nil, err
	}
	if estimate.QuotedAt.IsZero() {
		estimate.QuotedAt = time.Now()
	}
	return &estimate, nil
}

func (c *UexchangeClient) CreateOrder(ctx context.Context, estimate entities.SwapEstimate, recipientAddress string) (*entities.SwapOrder, error) {
	body := map[string]any{
		"from_currency":     estimate.FromCurrency,
		"from_network":      estimate.FromNetwork,
		"to_currency":       estimate.ToCurrency,
		"to_network":        estimate.ToNetwork,
		"amount":            estimate.FromAmount,
		"recipient_address": recipientAddress,
	}

	var order entities.SwapOrder
	if err := c.post(ctx, "/orders", body, &order); err != nil {
		return nil, err
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}
	return &order, nil
}

func (c *UexchangeClient) OrderStatus(ctx context.Context, order *entities.SwapOrder) (entities.SwapOrderStatus, *string, error) {
	var remote entities.SwapOrder
	if err := c.get(ctx, "/orders/"+order.OrderID, &remote); err != nil {
		return "", nil, err
	}
	return remote.Status, remote.TxHash, nil
}

func (c *UexchangeClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create swap provider request: %w", err)
	}
	return c.do(req, out)
}

func (c *UexchangeClient) post(ctx context.Context, path string, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode swap provider request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("failed to create swap provider request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *UexchangeClient) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("swap provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("swap provider returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode swap provider response: %w", err)
	}
	return nil
}
