package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/entities"
)

const defaultRateTTL = 5 * time.Minute

// UpstreamClient quotes fresh rates from the hosted exchange rate API.
type UpstreamClient struct {
	logger *slog.Logger
	apiURL string
	client *http.Client
}

func NewUpstreamClient(logger *slog.Logger, apiURL string) *UpstreamClient {
	logger.Info("Exchange rate client initialized", "api_url", apiURL)

	return &UpstreamClient{
		logger: logger,
		apiURL: apiURL,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *UpstreamClient) FetchRate(ctx context.Context, fromCurrency, toCurrency string) (decimal.Decimal, time.Duration, error) {
	endpoint := fmt.Sprintf("%s/rates?from=%s&to=%s",
		c.apiURL, url.QueryEscape(fromCurrency), url.QueryEscape(toCurrency))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("failed to create rate request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("rate request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, 0, fmt.Errorf("%s/%s: rate API status %d: %w",
			fromCurrency, toCurrency, resp.StatusCode, entities.ErrRateUnavailable)
	}

	var result struct {
		Rate       decimal.Decimal `json:"rate"`
		TTLSeconds int             `json:"ttl_seconds"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return decimal.Zero, 0, fmt.Errorf("failed to decode rate response: %w", err)
	}

	ttl := defaultRateTTL
	if result.TTLSeconds > 0 {
		ttl = time.Duration(result.TTLSeconds) * time.Second
	}
	return result.Rate, ttl, nil
}

// StaticSource serves a fixed rate table. It backs development and test
// deployments that have no upstream rate API.
type StaticSource struct {
	rates map[string]decimal.Decimal
	ttl   time.Duration
}

func NewStaticSource(rates map[string]decimal.Decimal, ttl time.Duration) *StaticSource {
	if ttl <= 0 {
		ttl = defaultRateTTL
	}
	return &StaticSource{rates: rates, ttl: ttl}
}

// DefaultStaticRates is the seeded table used by sandbox deployments.
func DefaultStaticRates() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		"USD/EUR":  decimal.RequireFromString("0.92"),
		"EUR/USD":  decimal.RequireFromString("1.087"),
		"USD/GBP":  decimal.RequireFromString("0.79"),
		"GBP/USD":  decimal.RequireFromString("1.266"),
		"EUR/GBP":  decimal.RequireFromString("0.859"),
		"USDT/USD": decimal.RequireFromString("1.0"),
	}
}

func (s *StaticSource) FetchRate(_ context.Context, fromCurrency, toCurrency string) (decimal.Decimal, time.Duration, error) {
	rate, ok := s.rates[fromCurrency+"/"+toCurrency]
	if !ok {
		return decimal.Zero, 0, fmt.Errorf("%s/%s: %w", fromCurrency, toCurrency, entities.ErrRateUnavailable)
	}
	return rate, s.ttl, nil
}
