package usecases

import (
	"context"
	"fmt"
	"time"

	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/entities"
)

// PayoutService manages seller payout accounts.
type PayoutService struct {
	repo PayoutsRepository
}

func NewPayoutService(repo PayoutsRepository) *PayoutService {
	return &PayoutService{repo: repo}
}

func (s *PayoutService) GetAccounts(ctx context.Context, sellerID string) ([]entities.SellerPayoutAccount, error) {
	return s.repo.FindAccounts(ctx, sellerID)
}

func (s *PayoutService) AddAccount(ctx context.Context, account entities.SellerPayoutAccount) (*entities.SellerPayoutAccount, error) {
	if account.SellerID == "" {
		return nil, entities.NewValidationError("seller_id", "required")
	}
	if account.Currency == "" {
		return nil, entities.NewValidationError("currency", "required")
	}
	switch account.AccountType {
	case entities.PayoutAccountBank, entities.PayoutAccountCrypto:
	default:
		return nil, entities.NewValidationError("account_type", fmt.Sprintf("unknown type %q", account.AccountType))
	}
	if len(account.AccountDetails) == 0 {
		return nil, entities.NewValidationError("account_details", "required")
	}

	account.IsActive = true
	account.CreatedAt = time.Now()
	if err := s.repo.InsertAccount(ctx, &account); err != nil {
		return nil, fmt.Errorf("failed to store payout account: %w", err)
	}
	return &account, nil
}
