package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ExpiredTokenPruner deletes revocation records whose tokens have expired.
type ExpiredTokenPruner interface {
	CleanupExpiredTokens(ctx context.Context) (int64, error)
}

// CleanupManager periodically prunes the token revocation list. Expired
// tokens fail validation on their own, so their revocation rows are dead weight.
type CleanupManager struct {
	pruner   ExpiredTokenPruner
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(pruner ExpiredTokenPruner, logger *slog.Logger, interval time.Duration) *CleanupManager {
	return &CleanupManager{
		pruner:   pruner,
		logger:   logger,
		interval: interval,
		timeout:  30 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start runs one pass immediately and then one per interval until Stop is
// called or ctx ends. It blocks.
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	cm.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			cm.RunOnce(ctx)
		case <-cm.stopCh:
			cm.logger.Info("token cleanup stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("token cleanup context cancelled")
			return
		}
	}
}

// RunOnce performs a single pruning pass and returns the number of rows removed.
func (cm *CleanupManager) RunOnce(ctx context.Context) int64 {
	cleanupCtx, cancel := context.WithTimeout(ctx, cm.timeout)
	defer cancel()

	rowsDeleted, err := cm.pruner.CleanupExpiredTokens(cleanupCtx)
	if err != nil {
		cm.logger.Error("failed to prune expired revoked tokens", slog.Any("error", err))
		return 0
	}

	if rowsDeleted > 0 {
		cm.logger.Info("expired revoked tokens pruned", slog.Int64("rows_deleted", rowsDeleted))
	}
	return rowsDeleted
}

// Stop signals the cleanup manager to stop. Safe to call more than once.
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
