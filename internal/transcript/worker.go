package transcript

import (
	"context"
	"log/slog"
	"time"
)

// Worker runs Sync for one session on a fixed interval.
type Worker struct {
	syncer    *Syncer
	sessionID string
	interval  time.Duration
	logger    *slog.Logger
}

// NewWorker creates a Worker. If interval is <= 0, it defaults to one minute.
func NewWorker(syncer *Syncer, sessionID string, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Worker{
		syncer:    syncer,
		sessionID: sessionID,
		interval:  interval,
		logger:    slog.Default(),
	}
}

// Run syncs immediately and then every interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.RunOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single sync and logs the outcome.
func (w *Worker) RunOnce(ctx context.Context) (Result, error) {
	res, err := w.syncer.Sync(ctx, w.sessionID)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Warn("transcript sync failed", "session_id", w.sessionID, "error", err)
		}
		return Result{}, err
	}
	if res.Synced > 0 {
		w.logger.Info("transcript synced", "session_id", w.sessionID, "synced", res.Synced, "gateway_count", res.GatewayCount)
	}
	return res, nil
}
