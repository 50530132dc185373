package reconciler

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/entities"
)

const defaultBatchSize = 100

// SyncSource is the durable outbox the reconciler drains.
type SyncSource interface {
	UnsyncedStateChanges(ctx context.Context, limit int) ([]entities.StateChange, error)
	UnsyncedResourceChanges(ctx context.Context, limit int) ([]entities.ResourceChange, error)
	MarkStateChangesSynced(ctx context.Context, ids []int) error
	MarkResourceChangesSynced(ctx context.Context, ids []int) error
}

// ManagementSink receives reconciled changes on the management tier.
type ManagementSink interface {
	UpdateTransactions(ctx context.Context, payloads []json.RawMessage) error
	UpdateOrders(ctx context.Context, payloads []json.RawMessage) error
	LogAudit(ctx context.Context, event entities.AuditEvent) error
	IngestAnalytics(ctx context.Context, payload json.RawMessage) error
	SyncResources(ctx context.Context, changes []entities.ResourceChange) error
}

// Reconciler pushes pending outbox rows to the management tier. Rows are
// marked synced only after the sink acknowledges them, so a crash or remote
// failure leads to redelivery, never loss. Batches are drained oldest first,
// which keeps per-key delivery in creation order.
type Reconciler struct {
	logger    *slog.Logger
	source    SyncSource
	sink      ManagementSink
	batchSize int
}

func New(logger *slog.Logger, source SyncSource, sink ManagementSink) *Reconciler {
	return &Reconciler{
		logger:    logger,
		source:    source,
		sink:      sink,
		batchSize: defaultBatchSize,
	}
}

// Sweep drains one batch of each outbox table. It returns the number of
// rows acknowledged; remote failures are logged and the rows stay pending.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	synced, err := r.sweepStateChanges(ctx)
	if err != nil {
		return synced, err
	}

	resourceSynced, err := r.sweepResourceChanges(ctx)
	return synced + resourceSynced, err
}

func (r *Reconciler) sweepStateChanges(ctx context.Context) (int, error) {
	changes, err := r.source.UnsyncedStateChanges(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}
	if len(changes) == 0 {
		return 0, nil
	}

	var (
		transactions, orders     []json.RawMessage
		transactionIDs, orderIDs []int
		acked                    []int
	)

	for _, change := range changes {
		switch {
		case strings.HasPrefix(change.Key, "transaction:"):
			transactions = append(transactions, change.Payload)
			transactionIDs = append(transactionIDs, change.ID)
		case strings.HasPrefix(change.Key, "order:"):
			orders = append(orders, change.Payload)
			orderIDs = append(orderIDs, change.ID)
		case strings.HasPrefix(change.Key, "audit:"):
			acked = r.pushAudit(ctx, change, acked)
		case strings.HasPrefix(change.Key, "analytics:"):
			acked = r.pushAnalytics(ctx, change, acked)
		default:
			r.logger.Warn("Dropping state change with unknown key", "id", change.ID, "key", change.Key)
			acked = append(acked, change.ID)
		}
	}

	if len(transactions) > 0 {
		if err := r.sink.UpdateTransactions(ctx, transactions); err != nil {
			r.logger.Error("failed to sync transaction changes", "count", len(transactions), "error", err)
		} else {
			acked = append(acked, transactionIDs...)
		}
	}
	if len(orders) > 0 {
		if err := r.sink.UpdateOrders(ctx, orders); err != nil {
			r.logger.Error("failed to sync order changes", "count", len(orders), "error", err)
		} else {
			acked = append(acked, orderIDs...)
		}
	}

	if err := r.source.MarkStateChangesSynced(ctx, acked); err != nil {
		return 0, err
	}
	return len(acked), nil
}

func (r *Reconciler) pushAudit(ctx context.Context, change entities.StateChange, acked []int) []int {
	var event entities.AuditEvent
	if err := json.Unmarshal(change.Payload, &event); err != nil {
		r.logger.Error("failed to decode audit payload", "id", change.ID, "error", err)
		return append(acked, change.ID)
	}
	if err := r.sink.LogAudit(ctx, event); err != nil {
		r.logger.Error("failed to sync audit event", "id", change.ID, "error", err)
		return acked
	}
	return append(acked, change.ID)
}

func (r *Reconciler) pushAnalytics(ctx context.Context, change entities.StateChange, acked []int) []int {
	if err := r.sink.IngestAnalytics(ctx, change.Payload); err != nil {
		r.logger.Error("failed to sync analytics payload", "id", change.ID, "error", err)
		return acked
	}
	return append(acked, change.ID)
}

func (r *Reconciler) sweepResourceChanges(ctx context.Context) (int, error) {
	changes, err := r.source.UnsyncedResourceChanges(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}
	if len(changes) == 0 {
		return 0, nil
	}

	if err := r.sink.SyncResources(ctx, changes); err != nil {
		r.logger.Error("failed to sync resource changes", "count", len(changes), "error", err)
		return 0, nil
	}

	ids := make([]int, 0, len(changes))
	for _, change := range changes {
		ids = append(ids, change.ID)
	}
	if err := r.source.MarkResourceChangesSynced(ctx, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}
