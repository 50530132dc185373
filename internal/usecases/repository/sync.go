package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tx "github.com/Thiht/transactor/pgx"
	"github.com/jackc/pgx/v5"

	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/entities"
	"github.com/yoonil-computeportal/market-transaction-uex-sub001/pkg/database"
)

// SyncRepository is the durable outbox feeding the management-tier
// reconciler. Rows stay until acknowledged; redelivery is expected.
type SyncRepository struct {
	logger *slog.Logger

	db tx.DBGetter
}

func NewSyncRepository(logger *slog.Logger, pg *database.Postgres) *SyncRepository {
	return &SyncRepository{logger: logger, db: pg.DBGetter}
}

func (r *SyncRepository) RecordStateChange(ctx context.Context, key string, payload any) error {
	return r.record(ctx, "state_changes", key, payload)
}

func (r *SyncRepository) RecordResourceChange(ctx context.Context, key string, payload any) error {
	return r.record(ctx, "resource_changes", key, payload)
}

func (r *SyncRepository) record(ctx context.Context, table, key string, payload any) error {
	data, err := marshalJSON(payload)
	if err != nil {
		return err
	}

	_, err = r.db(ctx).Exec(ctx,
		fmt.Sprintf("INSERT INTO %s (key, payload, synced, created_at) VALUES ($1, $2, false, $3)", table),
		key, data, time.Now())
	if err != nil {
		return fmt.Errorf("failed to record %s row: %w", table, err)
	}
	return nil
}

// UnsyncedStateChanges returns pending rows oldest first, so per-key
// delivery order matches creation order.
func (r *SyncRepository) UnsyncedStateChanges(ctx context.Context, limit int) ([]entities.StateChange, error) {
	rows, err := r.db(ctx).Query(ctx, `
		SELECT id, key, payload, synced, created_at
		  FROM state_changes
		 WHERE NOT synced
		 ORDER BY id
		 LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}

	changes, err := pgx.CollectRows(rows, pgx.RowToStructByName[entities.StateChange])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("failed to collect state changes", "error", err)
		return nil, err
	}
	return changes, nil
}

func (r *SyncRepository) UnsyncedResourceChanges(ctx context.Context, limit int) ([]entities.ResourceChange, error) {
	rows, err := r.db(ctx).Query(ctx, `
		SELECT id, key, payload, synced, created_at
		  FROM resource_changes
		 WHERE NOT synced
		 ORDER BY id
		 LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}

	changes, err := pgx.CollectRows(rows, pgx.RowToStructByName[entities.ResourceChange])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("failed to collect resource changes", "error", err)
		return nil, err
	}
	return changes, nil
}

func (r *SyncRepository) MarkStateChangesSynced(ctx context.Context, ids []int) error {
	return r.markSynced(ctx, "state_changes", ids)
}

func (r *SyncRepository) MarkResourceChangesSynced(ctx context.Context, ids []int) error {
	return r.markSynced(ctx, "resource_changes", ids)
}

func (r *SyncRepository) markSynced(ctx context.Context, table string, ids []int) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db(ctx).Exec(ctx,
		fmt.Sprintf("UPDATE %s SET synced = true WHERE id = ANY($1)", table), ids)
	if err != nil {
		return fmt.Errorf("failed to mark %s synced: %w", table, err)
	}
	return nil
}
