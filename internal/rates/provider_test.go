package rates_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/entities"
	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/rates"
	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/usecases/mocked"
)

func TestResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("same currency short-circuits", func(t *testing.T) {
		provider := rates.NewProvider(slog.Default(), mocked.NewRatesStore())

		rate, err := provider.Resolve(ctx, "USD", "USD")
		require.NoError(t, err)
		require.True(t, rate.Rate.Equal(decimal.NewFromInt(1)))
		require.Nil(t, rate.ValidUntil, "identity rate has no expiry")
	})

	t.Run("missing pair fails with RateUnavailable", func(t *testing.T) {
		provider := rates.NewProvider(slog.Default(), mocked.NewRatesStore())

		_, err := provider.Resolve(ctx, "USD", "EUR")
		require.ErrorIs(t, err, entities.ErrRateUnavailable)
	})

	t.Run("expired rate fails with RateUnavailable", func(t *testing.T) {
		store := mocked.NewRatesStore()
		provider := rates.NewProvider(slog.Default(), store)

		_, err := provider.Refresh(ctx, "USD", "EUR", decimal.NewFromFloat(0.92), "test", -time.Minute)
		require.NoError(t, err)

		_, err = provider.Resolve(ctx, "USD", "EUR")
		require.ErrorIs(t, err, entities.ErrRateUnavailable)
	})

	t.Run("most recent unexpired rate wins", func(t *testing.T) {
		store := mocked.NewRatesStore()
		provider := rates.NewProvider(slog.Default(), store)

		_, err := provider.Refresh(ctx, "USD", "EUR", decimal.NewFromFloat(0.90), "stale-source", time.Hour)
		require.NoError(t, err)
		_, err = provider.Refresh(ctx, "USD", "EUR", decimal.NewFromFloat(0.92), "fresh-source", time.Hour)
		require.NoError(t, err)

		rate, err := provider.Resolve(ctx, "USD", "EUR")
		require.NoError(t, err)
		require.True(t, rate.Rate.Equal(decimal.NewFromFloat(0.92)))
		require.Equal(t, "fresh-source", rate.Source)
	})

	t.Run("refresh inserts instead of mutating", func(t *testing.T) {
		store := mocked.NewRatesStore()
		provider := rates.NewProvider(slog.Default(), store)

		first, err := provider.Refresh(ctx, "USD", "EUR", decimal.NewFromFloat(0.90), "test", time.Hour)
		require.NoError(t, err)
		_, err = provider.Refresh(ctx, "USD", "EUR", decimal.NewFromFloat(0.95), "test", time.Hour)
		require.NoError(t, err)

		require.Equal(t, 2, store.RateCount("USD", "EUR"))
		require.True(t, first.Rate.Equal(decimal.NewFromFloat(0.90)), "older row untouched")
	})

	t.Run("non-positive rate rejected", func(t *testing.T) {
		provider := rates.NewProvider(slog.Default(), mocked.NewRatesStore())

		_, err := provider.Refresh(ctx, "USD", "EUR", decimal.Zero, "test", time.Hour)
		var verr *entities.ValidationError
		require.ErrorAs(t, err, &verr)
	})
}
