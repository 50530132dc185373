package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	tx "github.com/Thiht/transactor/pgx"
	"github.com/jackc/pgx/v5"

	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/entities"
	"github.com/yoonil-computeportal/market-transaction-uex-sub001/pkg/database"
)

// RatesRepository stores quoted exchange rates. Rows are append-only;
// the newest row for a pair wins.
type RatesRepository struct {
	logger *slog.Logger

	db tx.DBGetter
}

func NewRatesRepository(logger *slog.Logger, pg *database.Postgres) *RatesRepository {
	return &RatesRepository{logger: logger, db: pg.DBGetter}
}

func (r *RatesRepository) InsertRate(ctx context.Context, rate *entities.ExchangeRate) error {
	err := r.db(ctx).QueryRow(ctx, `
		INSERT INTO exchange_rates (from_currency, to_currency, rate, source, valid_until, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		rate.FromCurrency, rate.ToCurrency, rate.Rate, rate.Source, rate.ValidUntil, rate.CreatedAt).
		Scan(&rate.ID)
	if err != nil {
		return fmt.Errorf("failed to insert exchange rate: %w", err)
	}
	return nil
}

func (r *RatesRepository) FindLatestRate(ctx context.Context, from, to string) (*entities.ExchangeRate, error) {
	rows, err := r.db(ctx).Query(ctx, `
		SELECT id, from_currency, to_currency, rate, source, valid_until, created_at
		  FROM exchange_rates
		 WHERE from_currency = $1 AND to_currency = $2
		 ORDER BY id DESC
		 LIMIT 1`, from, to)
	if err != nil {
		return nil, err
	}

	rate, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[entities.ExchangeRate])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("failed to collect exchange rate", "error", err)
		return nil, err
	}
	return &rate, nil
}
