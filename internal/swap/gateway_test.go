package swap

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.openly.dev/pointy"

	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/entities"
)

type stubProvider struct {
	estimate    *entities.SwapEstimate
	estimateErr error

	status    entities.SwapOrderStatus
	txHash    *string
	statusErr error
	polls     atomic.Int64
}

func (p *stubProvider) Currencies(_ context.Context) ([]entities.Currency, error) {
	return []entities.Currency{{Code: "BTC", Name: "Bitcoin", Network: "bitcoin"}}, nil
}

func (p *stubProvider) Estimate(_ context.Context, fromCurrency, fromNetwork, toCurrency, toNetwork string, amount decimal.Decimal) (*entities.SwapEstimate, error) {
	if p.estimateErr != nil {
		return nil, p.estimateErr
	}
	if p.estimate != nil {
		return p.estimate, nil
	}
	return &entities.SwapEstimate{
		FromCurrency:    fromCurrency,
		FromNetwork:     fromNetwork,
		ToCurrency:      toCurrency,
		ToNetwork:       toNetwork,
		FromAmount:      amount,
		ToAmount:        amount.Mul(decimal.RequireFromString("15")),
		ExchangeRate:    decimal.RequireFromString("15"),
		ValidForMinutes: 10,
		QuotedAt:        time.Now(),
	}, nil
}

func (p *stubProvider) CreateOrder(_ context.Context, estimate entities.SwapEstimate, recipientAddress string) (*entities.SwapOrder, error) {
	now := time.Now()
	return &entities.SwapOrder{
		OrderID:          "order-1",
		DepositAddress:   "0x986fc2a160b89e797f3e208fAB3cB97CCB67a359",
		FromCurrency:     estimate.FromCurrency,
		FromNetwork:      estimate.FromNetwork,
		ToCurrency:       estimate.ToCurrency,
		ToNetwork:        estimate.ToNetwork,
		FromAmount:       estimate.FromAmount,
		ToAmount:         estimate.ToAmount,
		ExchangeRate:     estimate.ExchangeRate,
		RecipientAddress: recipientAddress,
		Status:           entities.SwapDepositPending,
		ExpiresAt:        now.Add(30 * time.Minute),
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

func (p *stubProvider) OrderStatus(_ context.Context, _ *entities.SwapOrder) (entities.SwapOrderStatus, *string, error) {
	p.polls.Add(1)
	return p.status, p.txHash, p.statusErr
}

type stubLedger struct {
	mu        sync.Mutex
	completed []string
	failed    []string
	hashes    []*string

	completeErr error
}

func (l *stubLedger) CreateTransaction(_ context.Context, req entities.PaymentTransaction) (*entities.PaymentTransaction, error) {
	return &req, nil
}

func (l *stubLedger) GetTransaction(_ context.Context, id string) (*entities.PaymentTransaction, error) {
	return &entities.PaymentTransaction{ID: id}, nil
}

func (l *stubLedger) UpdateStatus(_ context.Context, id string, status entities.TransactionStatus, _ map[string]any) (*entities.PaymentTransaction, error) {
	return &entities.PaymentTransaction{ID: id, Status: status}, nil
}

func (l *stubLedger) Complete(_ context.Context, id string, txHash, _ *string) (*entities.PaymentTransaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.completeErr != nil {
		return nil, l.completeErr
	}
	l.completed = append(l.completed, id)
	l.hashes = append(l.hashes, txHash)
	return &entities.PaymentTransaction{ID: id, Status: entities.TransactionCompleted}, nil
}

func (l *stubLedger) Fail(_ context.Context, id, reason string) (*entities.PaymentTransaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failed = append(l.failed, id)
	return &entities.PaymentTransaction{ID: id, Status: entities.TransactionFailed}, nil
}

func (l *stubLedger) completions() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.completed...)
}

func newTestGateway(provider *stubProvider, ledger *stubLedger) *Gateway {
	return NewGateway(slog.New(slog.DiscardHandler), provider, ledger)
}

func validEstimate() entities.SwapEstimate {
	return entities.SwapEstimate{
		FromCurrency:    "BTC",
		FromNetwork:     "bitcoin",
		ToCurrency:      "USDT",
		ToNetwork:       "ethereum",
		FromAmount:      decimal.RequireFromString("0.5"),
		ToAmount:        decimal.RequireFromString("31900"),
		ExchangeRate:    decimal.RequireFromString("64000"),
		ValidForMinutes: 10,
		QuotedAt:        time.Now(),
	}
}

const recipient = "0x986fc2a160b89e797f3e208fAB3cB97CCB67a359"

func TestQuote(t *testing.T) {
	ctx := context.Background()
	gateway := newTestGateway(&stubProvider{}, &stubLedger{})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		_, err := gateway.Quote(ctx, "BTC", "bitcoin", "USDT", "ethereum", decimal.Zero)
		require.ErrorIs(t, err, entities.ErrInvalidAmount)

		_, err = gateway.Quote(ctx, "BTC", "bitcoin", "USDT", "ethereum", decimal.RequireFromString("-1"))
		require.ErrorIs(t, err, entities.ErrInvalidAmount)
	})

	t.Run("quotes through the provider", func(t *testing.T) {
		estimate, err := gateway.Quote(ctx, "BTC", "bitcoin", "USDT", "ethereum", decimal.RequireFromString("2"))
		require.NoError(t, err)
		require.True(t, estimate.ToAmount.Equal(decimal.RequireFromString("30")))
		require.False(t, estimate.ExpiresAt().Before(time.Now()))
	})
}

func TestInitiate(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects expired quotes", func(t *testing.T) {
		gateway := newTestGateway(&stubProvider{}, &stubLedger{})
		estimate := validEstimate()
		estimate.QuotedAt = time.Now().Add(-time.Hour)

		_, err := gateway.Initiate(ctx, estimate, recipient, "tx-1")
		require.ErrorIs(t, err, entities.ErrQuoteExpired)
	})

	t.Run("rejects malformed recipient addresses", func(t *testing.T) {
		gateway := newTestGateway(&stubProvider{}, &stubLedger{})

		_, err := gateway.Initiate(ctx, validEstimate(), "not-an-address", "tx-1")
		var verr *entities.ValidationError
		require.ErrorAs(t, err, &verr)
		require.Equal(t, "recipient_address", verr.Field)
	})

	t.Run("places the order and indexes it by transaction", func(t *testing.T) {
		gateway := newTestGateway(&stubProvider{}, &stubLedger{})

		order, err := gateway.Initiate(ctx, validEstimate(), recipient, "tx-1")
		require.NoError(t, err)
		require.Equal(t, "tx-1", order.TransactionID)
		require.Equal(t, entities.SwapDepositPending, order.Status)
		require.NotEmpty(t, order.DepositAddress)

		found, err := gateway.OrderForTransaction(ctx, "tx-1")
		require.NoError(t, err)
		require.Equal(t, order.OrderID, found.OrderID)

		_, err = gateway.OrderForTransaction(ctx, "tx-unknown")
		require.ErrorIs(t, err, entities.ErrSwapOrderNotFound)
	})
}

func TestPollStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown order", func(t *testing.T) {
		gateway := newTestGateway(&stubProvider{}, &stubLedger{})
		_, err := gateway.PollStatus(ctx, "missing")
		require.ErrorIs(t, err, entities.ErrSwapOrderNotFound)
	})

	t.Run("completion folds into the ledger", func(t *testing.T) {
		provider := &stubProvider{status: entities.SwapComplete, txHash: pointy.String("0xabc")}
		ledger := &stubLedger{}
		gateway := newTestGateway(provider, ledger)

		_, err := gateway.Initiate(ctx, validEstimate(), recipient, "tx-1")
		require.NoError(t, err)

		order, err := gateway.PollStatus(ctx, "order-1")
		require.NoError(t, err)
		require.Equal(t, entities.SwapComplete, order.Status)
		require.True(t, order.DepositConfirmed)
		require.Equal(t, []string{"tx-1"}, ledger.completed)
		require.Equal(t, "0xabc", *ledger.hashes[0])

		// Terminal orders are served from memory, not re-polled.
		polls := provider.polls.Load()
		_, err = gateway.PollStatus(ctx, "order-1")
		require.NoError(t, err)
		require.Equal(t, polls, provider.polls.Load())
	})

	t.Run("concurrent polls observe and fold consistently", func(t *testing.T) {
		provider := &stubProvider{status: entities.SwapComplete, txHash: pointy.String("0xabc")}
		ledger := &stubLedger{}
		gateway := newTestGateway(provider, ledger)

		_, err := gateway.Initiate(ctx, validEstimate(), recipient, "tx-9")
		require.NoError(t, err)

		var wg sync.WaitGroup
		errs := make(chan error, 8)
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, pollErr := gateway.PollStatus(ctx, "order-1")
				errs <- pollErr
			}()
		}
		wg.Wait()
		close(errs)
		for pollErr := range errs {
			require.NoError(t, pollErr)
		}

		order, err := gateway.PollStatus(ctx, "order-1")
		require.NoError(t, err)
		require.Equal(t, entities.SwapComplete, order.Status)
		require.True(t, order.DepositConfirmed)

		completions := ledger.completions()
		require.NotEmpty(t, completions)
		for _, id := range completions {
			require.Equal(t, "tx-9", id)
		}
	})

	t.Run("expiry before deposit fails the transaction", func(t *testing.T) {
		provider := &stubProvider{status: entities.SwapExpired}
		ledger := &stubLedger{}
		gateway := newTestGateway(provider, ledger)

		_, err := gateway.Initiate(ctx, validEstimate(), recipient, "tx-2")
		require.NoError(t, err)

		order, err := gateway.PollStatus(ctx, "order-1")
		require.NoError(t, err)
		require.Equal(t, entities.SwapExpired, order.Status)
		require.Equal(t, []string{"tx-2"}, ledger.failed)
		require.Empty(t, ledger.completed)
	})

	t.Run("deposit confirmation is observed, never inferred", func(t *testing.T) {
		provider := &stubProvider{status: entities.SwapDepositPending}
		gateway := newTestGateway(provider, &stubLedger{})

		_, err := gateway.Initiate(ctx, validEstimate(), recipient, "tx-3")
		require.NoError(t, err)

		order, err := gateway.PollStatus(ctx, "order-1")
		require.NoError(t, err)
		require.False(t, order.DepositConfirmed)

		provider.status = entities.SwapDepositConfirmed
		order, err = gateway.PollStatus(ctx, "order-1")
		require.NoError(t, err)
		require.True(t, order.DepositConfirmed)
		require.Equal(t, entities.SwapDepositConfirmed, order.Status)
	})
}

func TestQRPayload(t *testing.T) {
	order := &entities.SwapOrder{
		FromNetwork:    "bitcoin",
		DepositAddress: "bc1qexampledeposit",
		FromAmount:     decimal.RequireFromString("0.5"),
	}
	require.Equal(t, "bitcoin:bc1qexampledeposit?amount=0.5", QRPayload(order))

	order.DepositTag = pointy.String("memo-7")
	require.Equal(t, "bitcoin:bc1qexampledeposit?amount=0.5&tag=memo-7", QRPayload(order))
}
