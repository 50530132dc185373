package workers

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/entities"
)

type scriptedGateway struct {
	polls   atomic.Int64
	status  entities.SwapOrderStatus
	pollErr error
}

func (g *scriptedGateway) Currencies(_ context.Context) ([]entities.Currency, error) {
	return nil, nil
}

func (g *scriptedGateway) Quote(_ context.Context, _, _, _, _ string, _ decimal.Decimal) (*entities.SwapEstimate, error) {
	return nil, nil
}

func (g *scriptedGateway) Initiate(_ context.Context, _ entities.SwapEstimate, _, _ string) (*entities.SwapOrder, error) {
	return nil, nil
}

func (g *scriptedGateway) PollStatus(_ context.Context, orderID string) (*entities.SwapOrder, error) {
	g.polls.Add(1)
	if g.pollErr != nil {
		return nil, g.pollErr
	}
	return &entities.SwapOrder{OrderID: orderID, Status: g.status}, nil
}

func TestPollerStopsAtTerminalStatus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gateway := &scriptedGateway{status: entities.SwapComplete}
	poller := NewSwapPoller(ctx, slog.New(slog.DiscardHandler), gateway, 20*time.Millisecond)

	poller.Track("order-1")
	poller.Track("order-1") // duplicate is a no-op

	done := make(chan struct{})
	go func() {
		poller.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop at terminal status")
	}
	require.EqualValues(t, 1, gateway.polls.Load())
}

func TestPollerShutdownInterruptsFailingPolls(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	gateway := &scriptedGateway{pollErr: errors.New("provider unreachable")}
	poller := NewSwapPoller(ctx, slog.New(slog.DiscardHandler), gateway, time.Millisecond)

	poller.Track("order-1")

	// Let a few failing polls happen, then shut down. Wait must return even
	// though no poll ever reached a terminal status.
	time.Sleep(10 * time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() {
		poller.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("shutdown did not stop the polling goroutine")
	}
	require.Positive(t, gateway.polls.Load())
}
