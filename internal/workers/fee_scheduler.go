package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/fees"
)

// FeeScheduler applies due fee schedule changes. Changes scheduled for a
// future instant stay pending and take effect on the first tick at or after
// their effective time; in-flight assessments keep the snapshot they read.
type FeeScheduler struct {
	logger *slog.Logger
	store  *fees.ScheduleStore

	checkInterval time.Duration
}

func NewFeeScheduler(logger *slog.Logger, store *fees.ScheduleStore, checkInterval time.Duration) *FeeScheduler {
	return &FeeScheduler{
		logger:        logger,
		store:         store,
		checkInterval: checkInterval,
	}
}

// Start runs the schedule check loop until the context is cancelled.
func (w *FeeScheduler) Start(ctx context.Context) {
	w.logger.Info("Starting fee scheduler worker", "check_interval", w.checkInterval.String())

	ticker := time.NewTicker(w.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Fee scheduler worker stopped")
			return
		case <-ticker.C:
			if applied := w.store.ApplyDue(time.Now()); applied > 0 {
				w.logger.Info("Applied scheduled fee changes", "count", applied)
			}
		}
	}
}
