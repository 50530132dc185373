package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/entities"
	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/usecases/mocked"
)

type recordingSink struct {
	transactions []json.RawMessage
	orders       []json.RawMessage
	audits       []entities.AuditEvent
	analytics    []json.RawMessage
	resources    []entities.ResourceChange

	transactionsErr error
	resourcesErr    error
}

func (s *recordingSink) UpdateTransactions(_ context.Context, payloads []json.RawMessage) error {
	if s.transactionsErr != nil {
		return s.transactionsErr
	}
	s.transactions = append(s.transactions, payloads...)
	return nil
}

func (s *recordingSink) UpdateOrders(_ context.Context, payloads []json.RawMessage) error {
	s.orders = append(s.orders, payloads...)
	return nil
}

func (s *recordingSink) LogAudit(_ context.Context, event entities.AuditEvent) error {
	s.audits = append(s.audits, event)
	return nil
}

func (s *recordingSink) IngestAnalytics(_ context.Context, payload json.RawMessage) error {
	s.analytics = append(s.analytics, payload)
	return nil
}

func (s *recordingSink) SyncResources(_ context.Context, changes []entities.ResourceChange) error {
	if s.resourcesErr != nil {
		return s.resourcesErr
	}
	s.resources = append(s.resources, changes...)
	return nil
}

func TestSweepDeliversAndAcks(t *testing.T) {
	ctx := context.Background()
	store := mocked.NewSyncStore()
	sink := &recordingSink{}
	rec := New(slog.New(slog.DiscardHandler), store, sink)

	require.NoError(t, store.RecordStateChange(ctx, "transaction:tx-1", map[string]any{"id": "tx-1", "status": "completed"}))
	require.NoError(t, store.RecordStateChange(ctx, "order:order-1", map[string]any{"order_id": "order-1"}))
	require.NoError(t, store.RecordStateChange(ctx, "audit:tx-1", entities.AuditEvent{Kind: "status_change", TransactionID: "tx-1"}))
	require.NoError(t, store.RecordStateChange(ctx, "analytics:volume", map[string]any{"metric": "volume"}))
	require.NoError(t, store.RecordResourceChange(ctx, "cluster:eu-west", map[string]any{"capacity": 10}))

	synced, err := rec.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, synced)

	require.Len(t, sink.transactions, 1)
	require.Len(t, sink.orders, 1)
	require.Len(t, sink.analytics, 1)
	require.Len(t, sink.resources, 1)
	require.Equal(t, "cluster:eu-west", sink.resources[0].Key)
	require.Len(t, sink.audits, 1)
	require.Equal(t, "status_change", sink.audits[0].Kind)
	require.Equal(t, "tx-1", sink.audits[0].TransactionID)

	// Everything acked, nothing to redeliver.
	synced, err = rec.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, synced)
}

func TestSweepRedeliversAfterSinkFailure(t *testing.T) {
	ctx := context.Background()
	store := mocked.NewSyncStore()
	sink := &recordingSink{
		transactionsErr: errors.New("management tier unavailable"),
		resourcesErr:    errors.New("management tier unavailable"),
	}
	rec := New(slog.New(slog.DiscardHandler), store, sink)

	require.NoError(t, store.RecordStateChange(ctx, "transaction:tx-1", map[string]any{"id": "tx-1"}))
	require.NoError(t, store.RecordStateChange(ctx, "audit:tx-1", entities.AuditEvent{Kind: "status_change"}))
	require.NoError(t, store.RecordResourceChange(ctx, "cluster:eu-west", map[string]any{"capacity": 10}))

	// Audit goes through; transaction and resource rows stay pending.
	synced, err := rec.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, synced)

	pending, err := store.UnsyncedStateChanges(ctx, 100)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "transaction:tx-1", pending[0].Key)

	sink.transactionsErr = nil
	sink.resourcesErr = nil

	synced, err = rec.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, synced)
	require.Len(t, sink.transactions, 1)
	require.Len(t, sink.resources, 1)
	require.Len(t, sink.audits, 1)
}

func TestSweepAcksPoisonAndUnknownRows(t *testing.T) {
	ctx := context.Background()
	store := mocked.NewSyncStore()
	sink := &recordingSink{}
	rec := New(slog.New(slog.DiscardHandler), store, sink)

	// An audit payload that cannot decode is dropped rather than retried
	// forever; unknown keys are dropped the same way.
	require.NoError(t, store.RecordStateChange(ctx, "audit:tx-1", "not an audit event"))
	require.NoError(t, store.RecordStateChange(ctx, "mystery:thing", map[string]any{"x": 1}))

	synced, err := rec.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, synced)
	require.Empty(t, sink.audits)

	pending, err := store.UnsyncedStateChanges(ctx, 100)
	require.NoError(t, err)
	require.Empty(t, pending)
}
