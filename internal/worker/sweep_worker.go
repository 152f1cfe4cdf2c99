package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/deposit-settlement/internal/observability"
	"github.com/ayo6706/deposit-settlement/internal/service"
	"go.uber.org/zap"
)

// SettlementSweepWorker re-inquires open invoices at a fixed interval so a
// deposit whose webhook never arrived still settles.
type SettlementSweepWorker struct {
	sweep        *service.SweepService
	pollInterval time.Duration
	batchSize    int32
	stopCh       chan struct{}
	stopOnce     sync.Once
}

func NewSettlementSweepWorker(sweep *service.SweepService) *SettlementSweepWorker {
	return &SettlementSweepWorker{
		sweep:        sweep,
		pollInterval: 2 * time.Minute,
		batchSize:    50,
		stopCh:       make(chan struct{}),
	}
}

func (w *SettlementSweepWorker) WithPollInterval(interval time.Duration) *SettlementSweepWorker {
	if interval > 0 {
		w.pollInterval = interval
	}
	return w
}

func (w *SettlementSweepWorker) WithBatchSize(size int32) *SettlementSweepWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// Start blocks until Stop is called or ctx is canceled.
func (w *SettlementSweepWorker) Start(ctx context.Context) {
	zap.L().Info("settlement sweep worker starting",
		zap.Duration("interval", w.pollInterval),
		zap.Int32("batch_size", w.batchSize),
	)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("settlement sweep worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("settlement sweep worker stop signal received")
			return
		case <-ticker.C:
			w.processBatch(ctx)
		}
	}
}

func (w *SettlementSweepWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// ProcessOnce sweeps a single batch immediately.
func (w *SettlementSweepWorker) ProcessOnce(ctx context.Context) (*service.SweepReport, error) {
	return w.sweep.Run(ctx, w.batchSize)
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *SettlementSweepWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *SettlementSweepWorker) String() string {
	return fmt.Sprintf("SettlementSweepWorker(interval=%v, batch=%d)", w.pollInterval, w.batchSize)
}

func (w *SettlementSweepWorker) processBatch(ctx context.Context) {
	report, err := w.ProcessOnce(ctx)
	if err != nil {
		observability.IncrementWorkerRun("settlement_sweep", "failed")
		zap.L().Error("settlement sweep failed", zap.Error(err))
		return
	}
	observability.IncrementWorkerRun("settlement_sweep", "success")
	if report.Checked > 0 {
		zap.L().Info("settlement sweep finished",
			zap.Int("checked", report.Checked),
			zap.Int("credited", report.Credited),
			zap.Int("failed", report.Failed),
		)
	}
}
