package reconcile

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"matchmaker/backend/internal/backend"
	"matchmaker/backend/internal/metrics"
	apperrors "matchmaker/backend/pkg/errors"
	"matchmaker/backend/pkg/logger"
)

const (
	defaultBatchSize   = 50
	defaultMaxAttempts = 10
)

// Config configures a Reconciler
type Config struct {
	Ledger      backend.MatchLedger
	Graph       backend.GraphIndex
	Outbox      Outbox
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	Metrics     metrics.Recorder
}

// Reconciler drains the outbox on an interval and re-mirrors each match from
// the ledger's current record
type Reconciler struct {
	ledger      backend.MatchLedger
	graph       backend.GraphIndex
	outbox      Outbox
	interval    time.Duration
	batchSize   int
	maxAttempts int
	metrics     metrics.Recorder
	logger      *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a reconciler
func New(cfg Config) *Reconciler {
	r := &Reconciler{
		ledger:      cfg.Ledger,
		graph:       cfg.Graph,
		outbox:      cfg.Outbox,
		interval:    cfg.Interval,
		batchSize:   cfg.BatchSize,
		maxAttempts: cfg.MaxAttempts,
		metrics:     cfg.Metrics,
		logger:      logger.Component("reconcile"),
	}
	if r.interval <= 0 {
		r.interval = 30 * time.Second
	}
	if r.batchSize <= 0 {
		r.batchSize = defaultBatchSize
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = defaultMaxAttempts
	}
	if r.metrics == nil {
		r.metrics = metrics.Nop{}
	}
	return r
}

// Start runs the reconcile loop in the background until Stop or ctx is done
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.Run(loopCtx)
	}()

	r.logger.Info("Mirror reconciler started", zap.Duration("interval", r.interval))
}

// Stop cancels the loop and waits for the current pass to finish
func (r *Reconciler) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("Mirror reconciler stopped")
	case <-time.After(5 * time.Second):
		r.logger.Warn("Mirror reconciler did not stop within 5s")
	}
}

// Run blocks, reconciling every interval until ctx is done
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.ReconcileOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("Reconcile pass failed", zap.Error(err))
			}
		}
	}
}

// ReconcileOnce drains one batch and returns how many mirrors were repaired.
// Entries that fail again are requeued until they reach MaxAttempts.
func (r *Reconciler) ReconcileOnce(ctx context.Context) (int, error) {
	entries, err := r.outbox.Dequeue(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}

	repaired := 0
	for _, entry := range entries {
		if err := r.replay(ctx, entry); err != nil {
			r.retry(ctx, entry, err)
			continue
		}
		repaired++
	}

	if repaired > 0 {
		r.metrics.RecordMirrorReconciled(repaired)
		r.logger.Info("Mirror writes reconciled",
			zap.Int("repaired", repaired),
			zap.Int("dequeued", len(entries)),
		)
	}
	return repaired, nil
}

// replay writes the ledger's current record, status included, to the graph.
// A match missing from the ledger has nothing to mirror.
func (r *Reconciler) replay(ctx context.Context, entry Entry) error {
	match, err := r.ledger.GetMatch(ctx, entry.MatchID)
	if err != nil {
		return err
	}
	if match == nil {
		r.logger.Warn("Dropping repair for unknown match", zap.String("match_id", entry.MatchID))
		return nil
	}
	return r.graph.MirrorMatch(ctx, *match)
}

// retry puts a failed entry back on the outbox. An entry interrupted by
// cancellation keeps its attempt count; a typed error that can never succeed
// is dropped. The entry has already left the outbox, so the requeue must not
// inherit a cancelled context.
func (r *Reconciler) retry(ctx context.Context, entry Entry, cause error) {
	switch {
	case interrupted(ctx, cause):
		r.logger.Debug("Mirror repair interrupted, requeueing",
			zap.String("match_id", entry.MatchID),
		)
	case apperrors.TypeOf(cause) != "" && !apperrors.IsRetryable(cause):
		r.logger.Error("Dropping mirror repair that cannot succeed",
			zap.String("match_id", entry.MatchID),
			zap.Error(cause),
		)
		return
	default:
		entry.Attempts++
		if entry.Attempts >= r.maxAttempts {
			r.logger.Error("Giving up on mirror repair",
				zap.String("match_id", entry.MatchID),
				zap.Int("attempts", entry.Attempts),
				zap.Error(cause),
			)
			return
		}
	}

	if err := r.outbox.Enqueue(context.WithoutCancel(ctx), entry); err != nil {
		r.logger.Error("Failed to requeue mirror repair",
			zap.String("match_id", entry.MatchID),
			zap.Error(err),
		)
	}
}

func interrupted(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		stderrors.Is(err, context.Canceled) ||
		stderrors.Is(err, context.DeadlineExceeded) ||
		apperrors.IsErrorType(err, apperrors.ErrorTypeContext)
}
