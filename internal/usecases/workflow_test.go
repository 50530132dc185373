package usecases_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.openly.dev/pointy"

	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/core/ports"
	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/entities"
	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/fees"
	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/rates"
	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/usecases"
	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/usecases/mocked"
)

type stubSettler struct {
	failures int
	calls    int
	requests []entities.SettlementRequest
}

func (s *stubSettler) ExecuteSettlement(_ context.Context, req entities.SettlementRequest) (string, error) {
	s.calls++
	s.requests = append(s.requests, req)
	if s.calls <= s.failures {
		return "", errors.New("settlement endpoint unavailable")
	}
	return "BANK-REF-001", nil
}

type stubSwapOrders struct {
	order *entities.SwapOrder
}

func (s *stubSwapOrders) OrderForTransaction(_ context.Context, transactionID string) (*entities.SwapOrder, error) {
	if s.order == nil {
		return nil, entities.ErrSwapOrderNotFound
	}
	return s.order, nil
}

type workflowFixture struct {
	ledger     *usecases.LedgerService
	steps      *mocked.StepsStore
	payouts    *mocked.PayoutsStore
	syncStore  *mocked.SyncStore
	settler    *stubSettler
	swapOrders *stubSwapOrders
	ratesStore *mocked.RatesStore

	orchestrator *usecases.WorkflowOrchestrator
}

func newWorkflowFixture(t *testing.T, retryLimit int) *workflowFixture {
	t.Helper()

	logger := testLogger()
	ledgerStore := mocked.NewLedgerStore()
	syncStore := mocked.NewSyncStore()
	policy := fees.NewPolicy(fees.NewScheduleStore(fees.DefaultSchedule()))
	ledger := usecases.NewLedgerService(logger, ledgerStore, syncStore, policy, mocked.NoopTransactor{})

	f := &workflowFixture{
		ledger:     ledger,
		steps:      mocked.NewStepsStore(),
		payouts:    mocked.NewPayoutsStore(),
		syncStore:  syncStore,
		settler:    &stubSettler{},
		swapOrders: &stubSwapOrders{},
		ratesStore: mocked.NewRatesStore(),
	}
	f.orchestrator = usecases.NewWorkflowOrchestrator(
		logger,
		ledger,
		f.steps,
		f.payouts,
		policy,
		rates.NewProvider(logger, f.ratesStore),
		rates.NewStaticSource(rates.DefaultStaticRates(), time.Minute),
		f.settler,
		f.swapOrders,
		syncStore,
		mocked.NewDataService(logger),
		retryLimit,
		time.Millisecond,
	)
	return f
}

func (f *workflowFixture) createTransaction(t *testing.T, mutate func(*entities.PaymentTransaction)) *entities.PaymentTransaction {
	t.Helper()

	req := newTransactionRequest()
	if mutate != nil {
		mutate(&req)
	}
	tx, err := f.ledger.CreateTransaction(context.Background(), req)
	require.NoError(t, err)
	return tx
}

func (f *workflowFixture) addBankAccount(t *testing.T) {
	t.Helper()

	err := f.payouts.InsertAccount(context.Background(), &entities.SellerPayoutAccount{
		SellerID:       "seller-1",
		AccountType:    entities.PayoutAccountBank,
		Currency:       "EUR",
		AccountDetails: map[string]any{"iban": "DE89370400440532013000"},
		IsActive:       true,
		CreatedAt:      time.Now(),
	})
	require.NoError(t, err)
}

func TestWorkflowHappyPath(t *testing.T) {
	ctx := context.Background()
	f := newWorkflowFixture(t, 3)
	f.addBankAccount(t)

	tx := f.createTransaction(t, func(req *entities.PaymentTransaction) {
		req.TargetCurrency = "EUR"
	})

	require.NoError(t, f.orchestrator.Run(ctx, tx.ID))

	final, err := f.ledger.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	require.Equal(t, entities.TransactionCompleted, final.Status)
	require.NotNil(t, final.BankReference)
	require.Equal(t, "BANK-REF-001", *final.BankReference)
	require.NotNil(t, final.ConversionRate)
	require.True(t, final.TotalAmount.Equal(final.ExpectedTotal()))

	// The canonical step sequence ran in order, each step once.
	steps, err := f.orchestrator.Steps(ctx, tx.ID)
	require.NoError(t, err)
	require.Len(t, steps, len(ports.WorkflowSteps))
	for i, step := range steps {
		require.Equal(t, ports.WorkflowSteps[i], step.StepName)
		require.Equal(t, entities.StepCompleted, step.Status)
		require.Equal(t, 1, step.Attempts)
		require.NotNil(t, step.CompletedAt)
	}

	// Cross-currency settlement recorded a conversion and its fee rows.
	conversions, err := f.ledger.GetConversions(ctx, tx.ID)
	require.NoError(t, err)
	require.Len(t, conversions, 1)
	require.True(t, conversions[0].ExchangeRate.Equal(decimal.RequireFromString("0.92")))

	feeRows, err := f.ledger.GetFees(ctx, tx.ID)
	require.NoError(t, err)
	require.Len(t, feeRows, 3)

	require.Len(t, f.settler.requests, 1)
	require.Equal(t, "EUR", f.settler.requests[0].Currency)
}

func TestWorkflowRetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	f := newWorkflowFixture(t, 3)
	f.addBankAccount(t)
	f.settler.failures = 2

	tx := f.createTransaction(t, nil)

	require.NoError(t, f.orchestrator.Run(ctx, tx.ID))

	final, err := f.ledger.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	require.Equal(t, entities.TransactionCompleted, final.Status)
	require.Equal(t, 3, f.settler.calls)

	steps, err := f.orchestrator.Steps(ctx, tx.ID)
	require.NoError(t, err)
	settle := steps[3]
	require.Equal(t, ports.StepSettle, settle.StepName)
	require.Equal(t, entities.StepCompleted, settle.Status)
	require.Equal(t, 3, settle.Attempts)
}

func TestWorkflowRetryExhaustionFailsTransaction(t *testing.T) {
	ctx := context.Background()
	f := newWorkflowFixture(t, 2)
	f.addBankAccount(t)
	f.settler.failures = 10

	tx := f.createTransaction(t, nil)

	err := f.orchestrator.Run(ctx, tx.ID)
	var stepErr *entities.StepExecutionError
	require.ErrorAs(t, err, &stepErr)
	require.Equal(t, ports.StepSettle, stepErr.Step)

	final, lookupErr := f.ledger.GetTransaction(ctx, tx.ID)
	require.NoError(t, lookupErr)
	require.Equal(t, entities.TransactionFailed, final.Status)
	require.NotNil(t, final.FailureReason)
	require.Contains(t, *final.FailureReason, "step settle failed")

	steps, stepsErr := f.orchestrator.Steps(ctx, tx.ID)
	require.NoError(t, stepsErr)
	settle := steps[3]
	require.Equal(t, entities.StepFailed, settle.Status)
	require.Equal(t, 2, settle.Attempts)
	require.Equal(t, 2, f.settler.calls)
}

func TestWorkflowValidationFailureDoesNotRetry(t *testing.T) {
	ctx := context.Background()
	f := newWorkflowFixture(t, 3)
	// No payout account seeded: validation must reject the seller.

	tx := f.createTransaction(t, nil)

	err := f.orchestrator.Run(ctx, tx.ID)
	var stepErr *entities.StepExecutionError
	require.ErrorAs(t, err, &stepErr)
	require.Equal(t, ports.StepValidate, stepErr.Step)

	steps, stepsErr := f.orchestrator.Steps(ctx, tx.ID)
	require.NoError(t, stepsErr)
	require.Len(t, steps, 1)
	require.Equal(t, entities.StepFailed, steps[0].Status)
	require.Equal(t, 1, steps[0].Attempts)

	final, lookupErr := f.ledger.GetTransaction(ctx, tx.ID)
	require.NoError(t, lookupErr)
	require.Equal(t, entities.TransactionFailed, final.Status)
}

func TestWorkflowBlockchainSettlement(t *testing.T) {
	ctx := context.Background()
	f := newWorkflowFixture(t, 3)

	err := f.payouts.InsertAccount(ctx, &entities.SellerPayoutAccount{
		SellerID:       "seller-1",
		AccountType:    entities.PayoutAccountCrypto,
		Currency:       "USDT",
		AccountDetails: map[string]any{"address": "0x986fc2a160b89e797f3e208fAB3cB97CCB67a359"},
		IsActive:       true,
		CreatedAt:      time.Now(),
	})
	require.NoError(t, err)

	tx := f.createTransaction(t, func(req *entities.PaymentTransaction) {
		req.SourceCurrency = "USDT"
		req.TargetCurrency = "USDT"
		req.PaymentMethod = entities.PaymentCrypto
		req.SettlementMethod = entities.SettlementBlockchain
	})

	f.swapOrders.order = &entities.SwapOrder{
		OrderID:          "order-1",
		TransactionID:    tx.ID,
		Status:           entities.SwapComplete,
		DepositConfirmed: true,
		TxHash:           pointy.String("0xdeadbeef"),
	}

	require.NoError(t, f.orchestrator.Run(ctx, tx.ID))

	final, err := f.ledger.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	require.Equal(t, entities.TransactionCompleted, final.Status)
	require.NotNil(t, final.TransactionHash)
	require.Equal(t, "0xdeadbeef", *final.TransactionHash)
	require.Zero(t, f.settler.calls)

	// Same-currency settlement records no conversion.
	conversions, err := f.ledger.GetConversions(ctx, tx.ID)
	require.NoError(t, err)
	require.Empty(t, conversions)
}

func TestWorkflowRefreshesMissingRate(t *testing.T) {
	ctx := context.Background()
	f := newWorkflowFixture(t, 3)
	f.addBankAccount(t)

	tx := f.createTransaction(t, func(req *entities.PaymentTransaction) {
		req.TargetCurrency = "EUR"
	})

	require.Equal(t, 0, f.ratesStore.RateCount("USD", "EUR"))
	require.NoError(t, f.orchestrator.Run(ctx, tx.ID))

	// The missing rate was quoted upstream and persisted for reuse.
	require.Equal(t, 1, f.ratesStore.RateCount("USD", "EUR"))
}
