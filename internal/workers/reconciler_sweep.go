package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/reconciler"
)

// ReconcilerSweep periodically drains the sync outbox to the management tier.
type ReconcilerSweep struct {
	logger     *slog.Logger
	reconciler *reconciler.Reconciler

	// How often to push pending changes upstream
	sweepInterval time.Duration
}

func NewReconcilerSweep(logger *slog.Logger, rec *reconciler.Reconciler, sweepInterval time.Duration) *ReconcilerSweep {
	return &ReconcilerSweep{
		logger:        logger,
		reconciler:    rec,
		sweepInterval: sweepInterval,
	}
}

// Start runs the sweep loop until the context is cancelled.
func (w *ReconcilerSweep) Start(ctx context.Context) {
	w.logger.Info("Starting reconciler sweep worker", "sweep_interval", w.sweepInterval.String())

	// Run an initial sweep immediately
	w.sweep(ctx)

	ticker := time.NewTicker(w.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Reconciler sweep worker stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *ReconcilerSweep) sweep(ctx context.Context) {
	count, err := w.reconciler.Sweep(ctx)
	if err != nil {
		w.logger.Error("Reconciler sweep failed", "error", err)
		return
	}
	if count > 0 {
		w.logger.Info("Reconciler sweep completed", "synced", count)
	}
}
