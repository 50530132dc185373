package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	tx "github.com/Thiht/transactor/pgx"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/entities"
	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/usecases"
	"github.com/yoonil-computeportal/market-transaction-uex-sub001/pkg/database"
)

const transactionColumns = `id, client_id, seller_id, amount, source_currency, target_currency,
	conversion_rate, conversion_fee, management_fee, uex_buyer_fee, uex_seller_fee, total_amount,
	payment_method, settlement_method, status, failure_reason, transaction_hash, bank_reference,
	created_at, updated_at, completed_at`

// TransactionsRepository persists payment transactions and their append-only
// conversion/fee children.
type TransactionsRepository struct {
	logger *slog.Logger

	db         tx.DBGetter
	transactor *tx.Transactor
}

func NewTransactionsRepository(logger *slog.Logger, pg *database.Postgres) *TransactionsRepository {
	return &TransactionsRepository{logger: logger, db: pg.DBGetter, transactor: pg.Transactor}
}

func (r *TransactionsRepository) InsertTransaction(ctx context.Context, t *entities.PaymentTransaction) error {
	_, err := r.db(ctx).Exec(ctx, `
		INSERT INTO payment_transactions
			(id, client_id, seller_id, amount, source_currency, target_currency,
			 conversion_rate, conversion_fee, management_fee, uex_buyer_fee, uex_seller_fee, total_amount,
			 payment_method, settlement_method, status, failure_reason, transaction_hash, bank_reference,
			 created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		t.ID, t.ClientID, t.SellerID, t.Amount, t.SourceCurrency, t.TargetCurrency,
		t.ConversionRate, t.ConversionFee, t.ManagementFee, t.UexBuyerFee, t.UexSellerFee, t.TotalAmount,
		t.PaymentMethod, t.SettlementMethod, t.Status, t.FailureReason, t.TransactionHash, t.BankReference,
		t.CreatedAt, t.UpdatedAt, t.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (r *TransactionsRepository) FindTransaction(ctx context.Context, id string) (*entities.PaymentTransaction, error) {
	row := r.db(ctx).QueryRow(ctx,
		"SELECT "+transactionColumns+" FROM payment_transactions WHERE id = $1", id)

	t, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, entities.ErrTransactionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find transaction: %w", err)
	}
	return t, nil
}

// ListTransactions filters by any combination of client, seller and status.
func (r *TransactionsRepository) ListTransactions(ctx context.Context, filter usecases.TransactionFilter) ([]entities.PaymentTransaction, error) {
	builder := sq.Select(transactionColumns).
		From("payment_transactions").
		OrderBy("created_at DESC").
		PlaceholderFormat(sq.Dollar)

	if filter.ClientID != "" {
		builder = builder.Where(sq.Eq{"client_id": filter.ClientID})
	}
	if filter.SellerID != "" {
		builder = builder.Where(sq.Eq{"seller_id": filter.SellerID})
	}
	if filter.Status != "" {
		builder = builder.Where(sq.Eq{"status": filter.Status})
	}
	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build list query: %w", err)
	}

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var out []entities.PaymentTransaction
	for rows.Next() {
		t, scanErr := scanTransaction(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", scanErr)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (r *TransactionsRepository) UpdateTransaction(ctx context.Context, t *entities.PaymentTransaction) error {
	tag, err := r.db(ctx).Exec(ctx, `
		UPDATE payment_transactions SET
			conversion_rate = $2, conversion_fee = $3, management_fee = $4,
			uex_buyer_fee = $5, uex_seller_fee = $6, total_amount = $7,
			status = $8, failure_reason = $9, transaction_hash = $10, bank_reference = $11,
			updated_at = $12, completed_at = $13
		WHERE id = $1`,
		t.ID, t.ConversionRate, t.ConversionFee, t.ManagementFee,
		t.UexBuyerFee, t.UexSellerFee, t.TotalAmount,
		t.Status, t.FailureReason, t.TransactionHash, t.BankReference,
		t.UpdatedAt, t.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", t.ID, entities.ErrTransactionNotFound)
	}
	return nil
}

// DeleteTransaction removes the transaction; conversion, fee and step
// children go with it via the cascade foreign keys.
func (r *TransactionsRepository) DeleteTransaction(ctx context.Context, id string) error {
	tag, err := r.db(ctx).Exec(ctx, "DELETE FROM payment_transactions WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", id, entities.ErrTransactionNotFound)
	}

	r.logger.Info("Transaction deleted with children", "tx_id", id)
	return nil
}

func (r *TransactionsRepository) InsertConversion(ctx context.Context, c *entities.CurrencyConversion) error {
	err := r.db(ctx).QueryRow(ctx, `
		INSERT INTO currency_conversions
			(transaction_id, from_currency, to_currency, exchange_rate, source_amount, converted_amount, conversion_fee, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		c.TransactionID, c.FromCurrency, c.ToCurrency, c.ExchangeRate, c.SourceAmount, c.ConvertedAmount, c.ConversionFee, c.CreatedAt).
		Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("failed to insert conversion: %w", err)
	}
	return nil
}

func (r *TransactionsRepository) FindConversions(ctx context.Context, transactionID string) ([]entities.CurrencyConversion, error) {
	rows, err := r.db(ctx).Query(ctx, `
		SELECT id, transaction_id, from_currency, to_currency, exchange_rate, source_amount, converted_amount, conversion_fee, created_at
		  FROM currency_conversions
		 WHERE transaction_id = $1
		 ORDER BY id`, transactionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	conversions, err := pgx.CollectRows(rows, pgx.RowToStructByName[entities.CurrencyConversion])
	if err != nil {
		r.logger.Error("failed to collect conversion rows", "error", err)
		return nil, err
	}
	return conversions, nil
}

// ActiveConversion returns the most recent conversion, the one authoritative
// for settlement.
func (r *TransactionsRepository) ActiveConversion(ctx context.Context, transactionID string) (*entities.CurrencyConversion, error) {
	rows, err := r.db(ctx).Query(ctx, `
		SELECT id, transaction_id, from_currency, to_currency, exchange_rate, source_amount, converted_amount, conversion_fee, created_at
		  FROM currency_conversions
		 WHERE transaction_id = $1
		 ORDER BY id DESC
		 LIMIT 1`, transactionID)
	if err != nil {
		return nil, err
	}

	conversion, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[entities.CurrencyConversion])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conversion, nil
}

func (r *TransactionsRepository) InsertFees(ctx context.Context, fees []entities.ManagementTierFee) error {
	for i := range fees {
		f := &fees[i]
		if f.CreatedAt.IsZero() {
			f.CreatedAt = time.Now()
		}
		err := r.db(ctx).QueryRow(ctx, `
			INSERT INTO management_tier_fees (transaction_id, fee_type, amount, currency, description, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id`,
			f.TransactionID, f.FeeType, f.Amount, f.Currency, f.Description, f.CreatedAt).
			Scan(&f.ID)
		if err != nil {
			return fmt.Errorf("failed to insert fee row: %w", err)
		}
	}
	return nil
}

func (r *TransactionsRepository) FindFees(ctx context.Context, transactionID string) ([]entities.ManagementTierFee, error) {
	rows, err := r.db(ctx).Query(ctx, `
		SELECT id, transaction_id, fee_type, amount, currency, description, created_at
		  FROM management_tier_fees
		 WHERE transaction_id = $1
		 ORDER BY id`, transactionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	fees, err := pgx.CollectRows(rows, pgx.RowToStructByName[entities.ManagementTierFee])
	if err != nil {
		r.logger.Error("failed to collect fee rows", "error", err)
		return nil, err
	}
	return fees, nil
}

// TrailingVolume sums the client's ledgered amounts over the window, the
// rolling aggregate used for fee tier lookup.
func (r *TransactionsRepository) TrailingVolume(ctx context.Context, clientID string, window time.Duration) (decimal.Decimal, error) {
	var volume decimal.Decimal
	err := r.db(ctx).QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		  FROM payment_transactions
		 WHERE client_id = $1
		   AND created_at >= $2
		   AND status NOT IN ('failed', 'cancelled')`,
		clientID, time.Now().Add(-window)).Scan(&volume)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to aggregate client volume: %w", err)
	}
	return volume, nil
}

// scanTransaction reads one transaction row in transactionColumns order.
func scanTransaction(row pgx.Row) (*entities.PaymentTransaction, error) {
	var t entities.PaymentTransaction
	err := row.Scan(
		&t.ID, &t.ClientID, &t.SellerID, &t.Amount, &t.SourceCurrency, &t.TargetCurrency,
		&t.ConversionRate, &t.ConversionFee, &t.ManagementFee, &t.UexBuyerFee, &t.UexSellerFee, &t.TotalAmount,
		&t.PaymentMethod, &t.SettlementMethod, &t.Status, &t.FailureReason, &t.TransactionHash, &t.BankReference,
		&t.CreatedAt, &t.UpdatedAt, &t.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// marshalJSON is shared by the repositories storing opaque payloads.
func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return data, nil
}
