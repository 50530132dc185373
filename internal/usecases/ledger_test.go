package usecases_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/entities"
	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/fees"
	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/usecases"
	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/usecases/mocked"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newLedgerService() (*usecases.LedgerService, *mocked.LedgerStore, *mocked.SyncStore) {
	store := mocked.NewLedgerStore()
	syncStore := mocked.NewSyncStore()
	policy := fees.NewPolicy(fees.NewScheduleStore(fees.DefaultSchedule()))
	service := usecases.NewLedgerService(testLogger(), store, syncStore, policy, mocked.NoopTransactor{})
	return service, store, syncStore
}

func newTransactionRequest() entities.PaymentTransaction {
	return entities.PaymentTransaction{
		ClientID:         "client-1",
		SellerID:         "seller-1",
		Amount:           decimal.RequireFromString("1000"),
		SourceCurrency:   "USD",
		TargetCurrency:   "USD",
		PaymentMethod:    entities.PaymentFiat,
		SettlementMethod: entities.SettlementBank,
	}
}

func TestCreateTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("new transaction starts pending with zero fees", func(t *testing.T) {
		service, _, syncStore := newLedgerService()

		tx, err := service.CreateTransaction(ctx, newTransactionRequest())
		require.NoError(t, err)
		require.NotEmpty(t, tx.ID)
		require.Equal(t, entities.TransactionPending, tx.Status)
		require.True(t, tx.UexBuyerFee.IsZero())
		require.True(t, tx.ManagementFee.IsZero())
		require.True(t, tx.TotalAmount.IsZero())
		require.Nil(t, tx.CompletedAt)

		// Creation lands in the outbox for the reconciler.
		changes, err := syncStore.UnsyncedStateChanges(ctx, 10)
		require.NoError(t, err)
		require.Len(t, changes, 1)
		require.Equal(t, "transaction:"+tx.ID, changes[0].Key)
	})

	t.Run("rejects missing fields", func(t *testing.T) {
		service, _, _ := newLedgerService()

		for name, mutate := range map[string]func(*entities.PaymentTransaction){
			"client_id":      func(r *entities.PaymentTransaction) { r.ClientID = "" },
			"seller_id":      func(r *entities.PaymentTransaction) { r.SellerID = "" },
			"amount":         func(r *entities.PaymentTransaction) { r.Amount = decimal.RequireFromString("-1") },
			"payment_method": func(r *entities.PaymentTransaction) { r.PaymentMethod = "cheque" },
		} {
			req := newTransactionRequest()
			mutate(&req)

			_, err := service.CreateTransaction(ctx, req)
			var verr *entities.ValidationError
			require.ErrorAs(t, err, &verr, "case %s", name)
		}
	})
}

func TestStateMachine(t *testing.T) {
	ctx := context.Background()

	t.Run("pending to processing to completed", func(t *testing.T) {
		service, _, _ := newLedgerService()

		tx, err := service.CreateTransaction(ctx, newTransactionRequest())
		require.NoError(t, err)

		tx, err = service.StartProcessing(ctx, tx.ID)
		require.NoError(t, err)
		require.Equal(t, entities.TransactionProcessing, tx.Status)

		volume, err := service.ClientVolume(ctx, "client-1")
		require.NoError(t, err)
		assessment := fees.NewPolicy(fees.NewScheduleStore(fees.DefaultSchedule())).
			Assess(tx.Amount, volume, tx.SourceCurrency, tx.TargetCurrency)
		_, err = service.ApplyAssessment(ctx, tx.ID, assessment)
		require.NoError(t, err)

		tx, err = service.Complete(ctx, tx.ID, nil, nil)
		require.NoError(t, err)
		require.Equal(t, entities.TransactionCompleted, tx.Status)
		require.NotNil(t, tx.CompletedAt)
	})

	t.Run("cancel allowed only from pending", func(t *testing.T) {
		service, _, _ := newLedgerService()

		tx, err := service.CreateTransaction(ctx, newTransactionRequest())
		require.NoError(t, err)

		cancelled, err := service.Cancel(ctx, tx.ID)
		require.NoError(t, err)
		require.Equal(t, entities.TransactionCancelled, cancelled.Status)

		other, err := service.CreateTransaction(ctx, newTransactionRequest())
		require.NoError(t, err)
		_, err = service.StartProcessing(ctx, other.ID)
		require.NoError(t, err)

		_, err = service.Cancel(ctx, other.ID)
		var invalid *entities.InvalidTransitionError
		require.ErrorAs(t, err, &invalid)
		require.Equal(t, entities.TransactionProcessing, invalid.From)
	})

	t.Run("terminal states absorb all transitions", func(t *testing.T) {
		service, _, _ := newLedgerService()

		tx, err := service.CreateTransaction(ctx, newTransactionRequest())
		require.NoError(t, err)
		_, err = service.Fail(ctx, tx.ID, "card declined")
		require.NoError(t, err)

		var invalid *entities.InvalidTransitionError
		_, err = service.StartProcessing(ctx, tx.ID)
		require.ErrorAs(t, err, &invalid)
		_, err = service.Cancel(ctx, tx.ID)
		require.ErrorAs(t, err, &invalid)
		_, err = service.Complete(ctx, tx.ID, nil, nil)
		require.ErrorAs(t, err, &invalid)
	})

	t.Run("failure reason is mandatory", func(t *testing.T) {
		service, _, _ := newLedgerService()

		tx, err := service.CreateTransaction(ctx, newTransactionRequest())
		require.NoError(t, err)

		_, err = service.Fail(ctx, tx.ID, "")
		var verr *entities.ValidationError
		require.ErrorAs(t, err, &verr)

		failed, err := service.Fail(ctx, tx.ID, "provider timeout")
		require.NoError(t, err)
		require.NotNil(t, failed.FailureReason)
		require.Equal(t, "provider timeout", *failed.FailureReason)
	})

	t.Run("update status dispatches metadata", func(t *testing.T) {
		service, _, _ := newLedgerService()

		tx, err := service.CreateTransaction(ctx, newTransactionRequest())
		require.NoError(t, err)

		failed, err := service.UpdateStatus(ctx, tx.ID, entities.TransactionFailed,
			map[string]any{"failure_reason": "manual override"})
		require.NoError(t, err)
		require.Equal(t, "manual override", *failed.FailureReason)

		_, err = service.UpdateStatus(ctx, tx.ID, "archived", nil)
		var verr *entities.ValidationError
		require.ErrorAs(t, err, &verr)
	})
}

func TestCompletionInvariants(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects unreconciled total", func(t *testing.T) {
		service, _, _ := newLedgerService()

		tx, err := service.CreateTransaction(ctx, newTransactionRequest())
		require.NoError(t, err)
		_, err = service.StartProcessing(ctx, tx.ID)
		require.NoError(t, err)

		// No assessment happened, so total_amount is still zero.
		_, err = service.Complete(ctx, tx.ID, nil, nil)
		require.ErrorContains(t, err, "does not reconcile")
	})

	t.Run("cross-currency completion requires a recorded conversion", func(t *testing.T) {
		service, _, _ := newLedgerService()
		policy := fees.NewPolicy(fees.NewScheduleStore(fees.DefaultSchedule()))

		req := newTransactionRequest()
		req.TargetCurrency = "EUR"
		tx, err := service.CreateTransaction(ctx, req)
		require.NoError(t, err)
		_, err = service.StartProcessing(ctx, tx.ID)
		require.NoError(t, err)

		assessment := policy.Assess(tx.Amount, decimal.Zero, "USD", "EUR")
		_, err = service.ApplyAssessment(ctx, tx.ID, assessment)
		require.NoError(t, err)

		_, err = service.Complete(ctx, tx.ID, nil, nil)
		require.ErrorContains(t, err, "no conversion recorded")

		rate := &entities.ExchangeRate{
			FromCurrency: "USD",
			ToCurrency:   "EUR",
			Rate:         decimal.RequireFromString("0.92"),
		}
		conversion, err := service.RecordConversion(ctx, tx.ID, rate, assessment.ConversionFee)
		require.NoError(t, err)
		require.Equal(t, "EUR", conversion.ToCurrency)
		require.True(t, conversion.ConvertedAmount.Equal(decimal.RequireFromString("920")))

		completed, err := service.Complete(ctx, tx.ID, nil, nil)
		require.NoError(t, err)
		require.Equal(t, entities.TransactionCompleted, completed.Status)
	})
}

// gatedRepo blocks FindTransaction until released, keeping the per-id
// transition lock observably held.
type gatedRepo struct {
	usecases.LedgerRepository
	entered chan struct{}
	release chan struct{}
}

func (r *gatedRepo) FindTransaction(ctx context.Context, id string) (*entities.PaymentTransaction, error) {
	r.entered <- struct{}{}
	<-r.release
	return r.LedgerRepository.FindTransaction(ctx, id)
}

func TestConcurrentWriterRejected(t *testing.T) {
	ctx := context.Background()

	store := mocked.NewLedgerStore()
	gated := &gatedRepo{
		LedgerRepository: store,
		entered:          make(chan struct{}),
		release:          make(chan struct{}),
	}
	policy := fees.NewPolicy(fees.NewScheduleStore(fees.DefaultSchedule()))
	service := usecases.NewLedgerService(testLogger(), gated, mocked.NewSyncStore(), policy, mocked.NoopTransactor{})

	tx := newTransactionRequest()
	tx.ID = "tx-under-test"
	tx.Status = entities.TransactionPending
	require.NoError(t, store.InsertTransaction(ctx, &tx))

	done := make(chan error, 1)
	go func() {
		_, err := service.StartProcessing(ctx, tx.ID)
		done <- err
	}()

	// The first writer holds the lock inside FindTransaction.
	<-gated.entered

	_, err := service.Cancel(ctx, tx.ID)
	require.ErrorIs(t, err, entities.ErrConcurrencyConflict)

	close(gated.release)
	require.NoError(t, <-done)

	current, err := service.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	require.Equal(t, entities.TransactionProcessing, current.Status)
}

func TestClientVolumeExcludesDeadTransactions(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newLedgerService()

	first, err := service.CreateTransaction(ctx, newTransactionRequest())
	require.NoError(t, err)

	second := newTransactionRequest()
	second.Amount = decimal.RequireFromString("500")
	failed, err := service.CreateTransaction(ctx, second)
	require.NoError(t, err)
	_, err = service.Fail(ctx, failed.ID, "card declined")
	require.NoError(t, err)

	volume, err := service.ClientVolume(ctx, "client-1")
	require.NoError(t, err)
	require.True(t, volume.Equal(first.Amount), "volume %s", volume)
}

func TestDeleteRemovesChildren(t *testing.T) {
	ctx := context.Background()
	service, store, _ := newLedgerService()

	tx, err := service.CreateTransaction(ctx, newTransactionRequest())
	require.NoError(t, err)

	require.NoError(t, service.Delete(ctx, tx.ID))

	_, err = service.GetTransaction(ctx, tx.ID)
	require.ErrorIs(t, err, entities.ErrTransactionNotFound)

	conversions, err := store.FindConversions(ctx, tx.ID)
	require.NoError(t, err)
	require.Empty(t, conversions)

	require.True(t, errors.Is(service.Delete(ctx, tx.ID), entities.ErrTransactionNotFound))
}
