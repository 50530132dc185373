package entities

import "time"

// PayoutAccountType distinguishes bank and crypto payout targets.
type PayoutAccountType string

const (
	PayoutAccountBank   PayoutAccountType = "bank"
	PayoutAccountCrypto PayoutAccountType = "crypto"
)

// SellerPayoutAccount is a settlement target for a seller. The shape of
// AccountDetails depends on AccountType (IBAN/routing fields for bank,
// address/network for crypto). Only active accounts are eligible targets.
type SellerPayoutAccount struct {
	ID             int               `json:"id"`
	SellerID       string            `json:"seller_id"`
	AccountType    PayoutAccountType `json:"account_type"`
	AccountDetails map[string]any    `json:"account_details"`
	Currency       string            `json:"currency"`
	IsActive       bool              `json:"is_active"`
	CreatedAt      time.Time         `json:"created_at"`
}
