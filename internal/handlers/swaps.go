package handlers

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/entities"
)

// SwapService is the crypto on-ramp surface the HTTP layer consumes.
type SwapService interface {
	Currencies(ctx context.Context) ([]entities.Currency, error)
	Quote(ctx context.Context, fromCurrency, fromNetwork, toCurrency, toNetwork string, amount decimal.Decimal) (*entities.SwapEstimate, error)
	Initiate(ctx context.Context, estimate entities.SwapEstimate, recipientAddress, transactionID string) (*entities.SwapOrder, error)
	PollStatus(ctx context.Context, orderID string) (*entities.SwapOrder, error)
}

// PayoutAccountService manages seller payout destinations.
type PayoutAccountService interface {
	GetAccounts(ctx context.Context, sellerID string) ([]entities.SellerPayoutAccount, error)
	AddAccount(ctx context.Context, account entities.SellerPayoutAccount) (*entities.SellerPayoutAccount, error)
}

// ClusterService lists processing clusters, preferring the management tier
// and falling back to the seeded registry.
type ClusterService interface {
	Clusters(ctx context.Context) ([]entities.Cluster, error)
}
