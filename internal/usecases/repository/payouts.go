package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	tx "github.com/Thiht/transactor/pgx"
	"github.com/jackc/pgx/v5"

	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/entities"
	"github.com/yoonil-computeportal/market-transaction-uex-sub001/pkg/database"
)

// PayoutsRepository stores seller payout destinations.
type PayoutsRepository struct {
	logger *slog.Logger

	db tx.DBGetter
}

func NewPayoutsRepository(logger *slog.Logger, pg *database.Postgres) *PayoutsRepository {
	return &PayoutsRepository{logger: logger, db: pg.DBGetter}
}

func (r *PayoutsRepository) InsertAccount(ctx context.Context, account *entities.SellerPayoutAccount) error {
	details, err := marshalJSON(account.AccountDetails)
	if err != nil {
		return err
	}

	err = r.db(ctx).QueryRow(ctx, `
		INSERT INTO seller_payout_accounts (seller_id, account_type, currency, account_details, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		account.SellerID, account.AccountType, account.Currency, details, account.IsActive, account.CreatedAt).
		Scan(&account.ID)
	if err != nil {
		return fmt.Errorf("failed to insert payout account: %w", err)
	}
	return nil
}

func (r *PayoutsRepository) FindAccounts(ctx context.Context, sellerID string) ([]entities.SellerPayoutAccount, error) {
	return r.queryAccounts(ctx, `
		SELECT id, seller_id, account_type, currency, account_details, is_active, created_at
		  FROM seller_payout_accounts
		 WHERE seller_id = $1
		 ORDER BY id`, sellerID)
}

// ActiveAccounts returns the seller's enabled destinations, newest first.
func (r *PayoutsRepository) ActiveAccounts(ctx context.Context, sellerID string) ([]entities.SellerPayoutAccount, error) {
	return r.queryAccounts(ctx, `
		SELECT id, seller_id, account_type, currency, account_details, is_active, created_at
		  FROM seller_payout_accounts
		 WHERE seller_id = $1 AND is_active
		 ORDER BY id DESC`, sellerID)
}

func (r *PayoutsRepository) queryAccounts(ctx context.Context, query string, args ...any) ([]entities.SellerPayoutAccount, error) {
	rows, err := r.db(ctx).Query(ctx, query, args...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []entities.SellerPayoutAccount
	for rows.Next() {
		var (
			account entities.SellerPayoutAccount
			details []byte
		)
		err = rows.Scan(&account.ID, &account.SellerID, &account.AccountType, &account.Currency,
			&details, &account.IsActive, &account.CreatedAt)
		if err != nil {
			r.logger.Error("failed to scan payout account", "error", err)
			return nil, err
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &account.AccountDetails); err != nil {
				return nil, fmt.Errorf("failed to decode account details: %w", err)
			}
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}
