package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// Currency is one currency/network combination offered for swaps.
type Currency struct {
	Code    string `json:"code"`
	Name    string `json:"name"`
	Network string `json:"network"`
}

// SwapEstimate is a time-bounded promise of an exchange rate and output
// amount for a prospective swap.
type SwapEstimate struct {
	FromCurrency    string          `json:"from_currency"`
	FromNetwork     string          `json:"from_network"`
	ToCurrency      string          `json:"to_currency"`
	ToNetwork       string          `json:"to_network"`
	FromAmount      decimal.Decimal `json:"from_amount"`
	ToAmount        decimal.Decimal `json:"to_amount"`
	ExchangeRate    decimal.Decimal `json:"exchange_rate"`
	Fee             decimal.Decimal `json:"fee"`
	ValidForMinutes int             `json:"valid_for_minutes"`
	QuotedAt        time.Time       `json:"quoted_at"`
}

// ExpiresAt is the instant after which the estimate may no longer be accepted.
func (e *SwapEstimate) ExpiresAt() time.Time {
	return e.QuotedAt.Add(time.Duration(e.ValidForMinutes) * time.Minute)
}

// SwapOrderStatus mirrors the upstream provider's order states.
type SwapOrderStatus string

const (
	SwapQuoted           SwapOrderStatus = "quoted"
	SwapDepositPending   SwapOrderStatus = "deposit_pending"
	SwapDepositConfirmed SwapOrderStatus = "deposit_confirmed"
	SwapComplete         SwapOrderStatus = "complete"
	SwapExpired          SwapOrderStatus = "expired"
)

// IsTerminal reports whether the swap order can no longer change.
func (s SwapOrderStatus) IsTerminal() bool {
	return s == SwapComplete || s == SwapExpired
}

// SwapOrder is a crypto on-ramp order tracked by the swap gateway. It is
// mutated only by provider-side status observations, never locally inferred.
type SwapOrder struct {
	OrderID          string          `json:"order_id"`
	TransactionID    string          `json:"transaction_id,omitempty"`
	DepositAddress   string          `json:"deposit_address"`
	DepositTag       *string         `json:"deposit_tag,omitempty"`
	FromCurrency     string          `json:"from_currency"`
	FromNetwork      string          `json:"from_network"`
	ToCurrency       string          `json:"to_currency"`
	ToNetwork        string          `json:"to_network"`
	FromAmount       decimal.Decimal `json:"from_amount"`
	ToAmount         decimal.Decimal `json:"to_amount"`
	ExchangeRate     decimal.Decimal `json:"exchange_rate"`
	RecipientAddress string          `json:"recipient_address"`
	Status           SwapOrderStatus `json:"status"`
	DepositConfirmed bool            `json:"deposit_confirmed"`
	TxHash           *string         `json:"tx_hash,omitempty"`
	ExpiresAt        time.Time       `json:"expires_at"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}
