package workers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/core/ports"
	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/entities"
)

// SwapPoller watches open swap orders until they reach a terminal status.
// One goroutine per tracked order; the gateway folds completion and expiry
// into the ledger, the poller only drives the observations. Poll goroutines
// run on the lifecycle context so process shutdown stops them all.
type SwapPoller struct {
	logger  *slog.Logger
	gateway ports.SwapGateway

	lifecycle    context.Context
	pollInterval time.Duration

	mu      sync.Mutex
	tracked map[string]struct{}
	wg      sync.WaitGroup
}

func NewSwapPoller(ctx context.Context, logger *slog.Logger, gateway ports.SwapGateway, pollInterval time.Duration) *SwapPoller {
	if pollInterval <= 0 {
		pollInterval = ports.DefaultPollInterval
	}
	return &SwapPoller{
		logger:       logger,
		gateway:      gateway,
		lifecycle:    ctx,
		pollInterval: pollInterval,
		tracked:      make(map[string]struct{}),
	}
}

// Track starts polling an order. Tracking the same order twice is a no-op.
func (p *SwapPoller) Track(orderID string) {
	p.mu.Lock()
	if _, ok := p.tracked[orderID]; ok {
		p.mu.Unlock()
		return
	}
	p.tracked[orderID] = struct{}{}
	p.mu.Unlock()

	p.wg.Add(1)
	go p.poll(p.lifecycle, orderID)
}

// Wait blocks until all polling goroutines have finished.
func (p *SwapPoller) Wait() {
	p.wg.Wait()
}

func (p *SwapPoller) poll(ctx context.Context, orderID string) {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		delete(p.tracked, orderID)
		p.mu.Unlock()
	}()

	p.logger.Info("Polling swap order", "order_id", orderID, "poll_interval", p.pollInterval.String())

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			order, err := p.gateway.PollStatus(ctx, orderID)
			if err != nil {
				p.logger.Error("Swap order poll failed", "order_id", orderID, "error", err)
				continue
			}
			if order.Status.IsTerminal() {
				p.logger.Info("Swap order reached terminal status",
					"order_id", orderID, "status", order.Status,
					"deposit_confirmed", order.DepositConfirmed)
				return
			}
			if order.Status == entities.SwapDepositConfirmed {
				p.logger.Info("Swap deposit confirmed", "order_id", orderID)
			}
		}
	}
}
