package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus is the lifecycle state of a payment transaction.
type TransactionStatus string

const (
	TransactionPending    TransactionStatus = "pending"
	TransactionProcessing TransactionStatus = "processing"
	TransactionCompleted  TransactionStatus = "completed"
	TransactionFailed     TransactionStatus = "failed"
	TransactionCancelled  TransactionStatus = "cancelled"
)

// IsTerminal reports whether no further transitions may leave the status.
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionCompleted || s == TransactionFailed || s == TransactionCancelled
}

// PaymentMethod is how the buyer funds a transaction.
type PaymentMethod string

const (
	PaymentFiat   PaymentMethod = "fiat"
	PaymentCrypto PaymentMethod = "crypto"
)

// SettlementMethod is how proceeds reach the seller.
type SettlementMethod string

const (
	SettlementBank       SettlementMethod = "bank"
	SettlementBlockchain SettlementMethod = "blockchain"
)

// PaymentTransaction is the ledger record of a single buyer payment.
// Monetary fields are snapshotted at assessment time and never recomputed.
type PaymentTransaction struct {
	ID               string            `json:"id"`
	ClientID         string            `json:"client_id"`
	SellerID         string            `json:"seller_id"`
	Amount           decimal.Decimal   `json:"amount"`
	SourceCurrency   string            `json:"source_currency"`
	TargetCurrency   string            `json:"target_currency"`
	ConversionRate   *decimal.Decimal  `json:"conversion_rate,omitempty"`
	ConversionFee    decimal.Decimal   `json:"conversion_fee"`
	ManagementFee    decimal.Decimal   `json:"management_fee"`
	UexBuyerFee      decimal.Decimal   `json:"uex_buyer_fee"`
	UexSellerFee     decimal.Decimal   `json:"uex_seller_fee"`
	TotalAmount      decimal.Decimal   `json:"total_amount"`
	PaymentMethod    PaymentMethod     `json:"payment_method"`
	SettlementMethod SettlementMethod  `json:"settlement_method"`
	Status           TransactionStatus `json:"status"`
	FailureReason    *string           `json:"failure_reason,omitempty"`
	TransactionHash  *string           `json:"transaction_hash,omitempty"`
	BankReference    *string           `json:"bank_reference,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
}

// ExpectedTotal returns amount + uex_buyer_fee + management_fee/2 + conversion_fee.
// Zero when the amount is not positive.
func (t *PaymentTransaction) ExpectedTotal() decimal.Decimal {
	if !t.Amount.IsPositive() {
		return decimal.Zero
	}
	half := t.ManagementFee.Div(decimal.NewFromInt(2))
	return t.Amount.Add(t.UexBuyerFee).Add(half).Add(t.ConversionFee)
}

// CurrencyConversion is one conversion performed for a transaction.
// Rows are append-only; the most recent one is active for settlement.
type CurrencyConversion struct {
	ID              int             `json:"id"`
	TransactionID   string          `json:"transaction_id"`
	FromCurrency    string          `json:"from_currency"`
	ToCurrency      string          `json:"to_currency"`
	ExchangeRate    decimal.Decimal `json:"exchange_rate"`
	SourceAmount    decimal.Decimal `json:"source_amount"`
	ConvertedAmount decimal.Decimal `json:"converted_amount"`
	ConversionFee   decimal.Decimal `json:"conversion_fee"`
	CreatedAt       time.Time       `json:"created_at"`
}

// FeeType classifies a management tier fee row.
type FeeType string

const (
	FeeProcessing         FeeType = "processing"
	FeeSettlement         FeeType = "settlement"
	FeeCurrencyConversion FeeType = "currency_conversion"
)

// ManagementTierFee is one assessed fee, kept as an append-only audit trail.
type ManagementTierFee struct {
	ID            int             `json:"id"`
	TransactionID string          `json:"transaction_id"`
	FeeType       FeeType         `json:"fee_type"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Description   string          `json:"description"`
	CreatedAt     time.Time       `json:"created_at"`
}

// StepStatus is the lifecycle state of a workflow step.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
)

// WorkflowStep is one ordered, independently retryable unit of settlement work.
// A step may re-enter in_progress from failed but never returns to pending.
type WorkflowStep struct {
	ID            int            `json:"id"`
	TransactionID string         `json:"transaction_id"`
	StepName      string         `json:"step_name"`
	Status        StepStatus     `json:"status"`
	InputData     map[string]any `json:"input_data,omitempty"`
	OutputData    map[string]any `json:"output_data,omitempty"`
	ErrorMessage  *string        `json:"error_message,omitempty"`
	Attempts      int            `json:"attempts"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}
