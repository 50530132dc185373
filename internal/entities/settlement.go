package entities

import "github.com/shopspring/decimal"

// SettlementRequest asks the management tier to move settled proceeds to a
// seller payout account.
type SettlementRequest struct {
	TransactionID  string          `json:"transaction_id"`
	SellerID       string          `json:"seller_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	AccountType    string          `json:"account_type"`
	AccountDetails map[string]any  `json:"account_details"`
}

// AuditEvent is pushed to the management tier's audit log.
type AuditEvent struct {
	Kind          string         `json:"kind"`
	TransactionID string         `json:"transaction_id,omitempty"`
	Detail        map[string]any `json:"detail,omitempty"`
}
