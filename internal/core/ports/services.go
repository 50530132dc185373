package ports

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/entities"
)

// LedgerService owns payment transactions and their state machine.
type LedgerService interface {
	CreateTransaction(ctx context.Context, req entities.PaymentTransaction) (*entities.PaymentTransaction, error)
	GetTransaction(ctx context.Context, id string) (*entities.PaymentTransaction, error)
	UpdateStatus(ctx context.Context, id string, status entities.TransactionStatus, metadata map[string]any) (*entities.PaymentTransaction, error)
	Complete(ctx context.Context, id string, txHash, bankRef *string) (*entities.PaymentTransaction, error)
	Fail(ctx context.Context, id, reason string) (*entities.PaymentTransaction, error)
}

// SwapGateway exposes the quote/deposit/settle protocol for crypto-funded
// transactions.
type SwapGateway interface {
	Currencies(ctx context.Context) ([]entities.Currency, error)
	Quote(ctx context.Context, fromCurrency, fromNetwork, toCurrency, toNetwork string, amount decimal.Decimal) (*entities.SwapEstimate, error)
	Initiate(ctx context.Context, estimate entities.SwapEstimate, recipientAddress, transactionID string) (*entities.SwapOrder, error)
	PollStatus(ctx context.Context, orderID string) (*entities.SwapOrder, error)
}

// SwapProvider is the upstream swap service observed by the gateway. The
// gateway surfaces whatever status the provider reports and never infers
// completion on its own.
type SwapProvider interface {
	Currencies(ctx context.Context) ([]entities.Currency, error)
	Estimate(ctx context.Context, fromCurrency, fromNetwork, toCurrency, toNetwork string, amount decimal.Decimal) (*entities.SwapEstimate, error)
	CreateOrder(ctx context.Context, estimate entities.SwapEstimate, recipientAddress string) (*entities.SwapOrder, error)
	OrderStatus(ctx context.Context, order *entities.SwapOrder) (entities.SwapOrderStatus, *string, error)
}

// StatusNotifier receives ledger transition events (websocket hub).
type StatusNotifier interface {
	NotifyStatusChange(tx *entities.PaymentTransaction)
}
