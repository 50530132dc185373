package handlers

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/entities"
	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/usecases"
)

// TransactionService is the ledger surface the HTTP layer consumes.
type TransactionService interface {
	CreateTransaction(ctx context.Context, req entities.PaymentTransaction) (*entities.PaymentTransaction, error)
	GetTransaction(ctx context.Context, id string) (*entities.PaymentTransaction, error)
	ListTransactions(ctx context.Context, filter usecases.TransactionFilter) ([]entities.PaymentTransaction, error)
	UpdateStatus(ctx context.Context, id string, status entities.TransactionStatus, metadata map[string]any) (*entities.PaymentTransaction, error)
	GetConversions(ctx context.Context, id string) ([]entities.CurrencyConversion, error)
	GetFees(ctx context.Context, id string) ([]entities.ManagementTierFee, error)
	ClientVolume(ctx context.Context, clientID string) (decimal.Decimal, error)
}

// WorkflowRunner drives a created transaction through settlement.
type WorkflowRunner interface {
	Run(ctx context.Context, transactionID string) error
	Steps(ctx context.Context, transactionID string) ([]entities.WorkflowStep, error)
}
