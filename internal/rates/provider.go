package rates

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/entities"
)

// RatesRepository is the storage behind the provider. Rows are immutable;
// refreshing a pair inserts, never updates.
type RatesRepository interface {
	InsertRate(ctx context.Context, rate *entities.ExchangeRate) error
	FindLatestRate(ctx context.Context, fromCurrency, toCurrency string) (*entities.ExchangeRate, error)
}

// Provider resolves currency pairs to bounded-validity rates. It never
// fabricates a rate: expired or missing pairs fail and the caller must
// request a fresh quote upstream.
type Provider struct {
	logger *slog.Logger
	repo   RatesRepository
	now    func() time.Time
}

func NewProvider(logger *slog.Logger, repo RatesRepository) *Provider {
	return &Provider{logger: logger, repo: repo, now: time.Now}
}

// Resolve returns the most recent unexpired rate for the pair. Same-currency
// pairs short-circuit to an identity rate with no expiry.
func (p *Provider) Resolve(ctx context.Context, fromCurrency, toCurrency string) (*entities.ExchangeRate, error) {
	if fromCurrency == toCurrency {
		return &entities.ExchangeRate{
			FromCurrency: fromCurrency,
			ToCurrency:   toCurrency,
			Rate:         decimal.NewFromInt(1),
			Source:       "identity",
			CreatedAt:    p.now(),
		}, nil
	}

	rate, err := p.repo.FindLatestRate(ctx, fromCurrency, toCurrency)
	if err != nil {
		return nil, fmt.Errorf("failed to look up rate %s/%s: %w", fromCurrency, toCurrency, err)
	}
	if rate == nil {
		return nil, fmt.Errorf("%s/%s: %w", fromCurrency, toCurrency, entities.ErrRateUnavailable)
	}
	if rate.Expired(p.now()) {
		p.logger.Warn("Best rate candidate has expired", "from", fromCurrency, "to", toCurrency, "valid_until", rate.ValidUntil)
		return nil, fmt.Errorf("%s/%s: %w", fromCurrency, toCurrency, entities.ErrRateUnavailable)
	}

	return rate, nil
}

// Refresh stores a freshly quoted rate as a new row, preserving the audit
// trail of conversions that reference older rows.
func (p *Provider) Refresh(ctx context.Context, fromCurrency, toCurrency string, rate decimal.Decimal, source string, ttl time.Duration) (*entities.ExchangeRate, error) {
	if !rate.IsPositive() {
		return nil, entities.NewValidationError("rate", "must be positive")
	}

	validUntil := p.now().Add(ttl)
	row := &entities.ExchangeRate{
		FromCurrency: fromCurrency,
		ToCurrency:   toCurrency,
		Rate:         rate,
		Source:       source,
		ValidUntil:   &validUntil,
		CreatedAt:    p.now(),
	}
	if err := p.repo.InsertRate(ctx, row); err != nil {
		return nil, fmt.Errorf("failed to store rate %s/%s: %w", fromCurrency, toCurrency, err)
	}

	p.logger.Info("Exchange rate refreshed", "from", fromCurrency, "to", toCurrency, "rate", rate.String(), "source", source, "valid_until", validUntil)
	return row, nil
}
