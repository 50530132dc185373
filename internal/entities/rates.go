package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExchangeRate is one stored rate for a currency pair. Rows are immutable:
// refreshing a pair inserts a new row so conversions keep their audit trail.
type ExchangeRate struct {
	ID           int             `json:"id"`
	FromCurrency string          `json:"from_currency"`
	ToCurrency   string          `json:"to_currency"`
	Rate         decimal.Decimal `json:"rate"`
	Source       string          `json:"source"`
	ValidUntil   *time.Time      `json:"valid_until,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Expired reports whether the rate is no longer authoritative at the given time.
// A nil ValidUntil never expires (same-currency identity rates).
func (r *ExchangeRate) Expired(now time.Time) bool {
	return r.ValidUntil != nil && !r.ValidUntil.After(now)
}
