package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ayo6706/deposit-settlement/internal/observability"
	"github.com/ayo6706/deposit-settlement/internal/service"
	"go.uber.org/zap"
)

const reconciliationWorkerName = "reconciliation"

// ReconciliationWorker checks profile balances against the transaction log
// and re-drives commission distributions left partial by a failed level.
type ReconciliationWorker struct {
	svc        *service.ReconciliationService
	interval   time.Duration
	runTimeout time.Duration
	running    sync.Mutex
	stopCh     chan struct{}
	stopOnce   sync.Once
}

func NewReconciliationWorker(svc *service.ReconciliationService) *ReconciliationWorker {
	return &ReconciliationWorker{
		svc:        svc,
		interval:   time.Hour,
		runTimeout: 10 * time.Minute,
		stopCh:     make(chan struct{}),
	}
}

func (w *ReconciliationWorker) WithInterval(interval time.Duration) *ReconciliationWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// WithRunTimeout bounds a single pass.
func (w *ReconciliationWorker) WithRunTimeout(timeout time.Duration) *ReconciliationWorker {
	if timeout > 0 {
		w.runTimeout = timeout
	}
	return w
}

// Start blocks, running one pass immediately and then once per interval.
func (w *ReconciliationWorker) Start(ctx context.Context) {
	zap.L().Info("reconciliation worker starting", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("reconciliation worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("reconciliation worker stop signal received")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

func (w *ReconciliationWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *ReconciliationWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// RunOnce executes a single pass. It returns false without running when a
// pass is already in flight.
func (w *ReconciliationWorker) RunOnce(ctx context.Context) bool {
	if !w.running.TryLock() {
		observability.IncrementWorkerRun(reconciliationWorkerName, "skipped")
		zap.L().Warn("reconciliation pass still running, skipping tick")
		return false
	}
	defer w.running.Unlock()

	ctx, cancel := context.WithTimeout(ctx, w.runTimeout)
	defer cancel()

	start := time.Now()
	report, err := w.svc.Run(ctx)
	if err != nil {
		observability.IncrementWorkerRun(reconciliationWorkerName, "failed")
		zap.L().Error("reconciliation run failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return true
	}
	observability.IncrementWorkerRun(reconciliationWorkerName, "success")
	zap.L().Info("reconciliation run finished",
		zap.Int("drifted_profiles", report.DriftedProfiles),
		zap.Int("undistributed_deposits", report.UndistributedDeposits),
		zap.Int("redriven_deposits", report.RedrivenDeposits),
		zap.Int("still_partial_deposits", report.StillPartialDeposits),
		zap.Duration("elapsed", time.Since(start)),
	)
	return true
}

func (w *ReconciliationWorker) String() string {
	return "ReconciliationWorker"
}
