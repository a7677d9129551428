package reposync

import (
	"context"
	"sync"
	"time"

	"github.com/conexus-oss/docindex/internal/doctype"
	"github.com/conexus-oss/docindex/internal/observability"
)

// Scheduler runs a background sync loop per repository, each on its own
// ticker honoring the repository's SyncInterval, so a slow repository
// never delays another's schedule.
type Scheduler struct {
	sync   *Synchronizer
	logger *observability.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	doneWg  sync.WaitGroup
}

// NewScheduler creates a Scheduler. A nil logger falls back to
// observability.DefaultLoggerConfig (JSON on stdout) rather than bare
// stdlib log output.
func NewScheduler(s *Synchronizer, logger *observability.Logger) *Scheduler {
	if logger == nil {
		logger = observability.NewLogger(observability.DefaultLoggerConfig())
	}
	return &Scheduler{sync: s, logger: logger}
}

// Start launches one ticking goroutine per repository. It returns
// immediately; call Stop to halt all of them.
func (sch *Scheduler) Start(ctx context.Context, repos []doctype.Repository) {
	sch.mu.Lock()
	defer sch.mu.Unlock()
	if sch.running {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	sch.cancel = cancel
	sch.running = true

	for _, repo := range repos {
		repo := repo
		interval := repo.SyncInterval
		if interval <= 0 {
			continue
		}
		sch.doneWg.Add(1)
		go sch.runLoop(runCtx, repo, interval)
	}

	sch.logger.Info("reposync scheduler started", "repositories", len(repos))
}

func (sch *Scheduler) runLoop(ctx context.Context, repo doctype.Repository, interval time.Duration) {
	defer sch.doneWg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := sch.sync.Sync(ctx, repo); err != nil {
				sch.logger.Warn("reposync: scheduled sync failed", "repository", repo.Name, "error", err)
			}
		}
	}
}

// Stop cancels every repository's sync loop and waits for them to exit.
func (sch *Scheduler) Stop() {
	sch.mu.Lock()
	if !sch.running {
		sch.mu.Unlock()
		return
	}
	sch.running = false
	cancel := sch.cancel
	sch.mu.Unlock()

	cancel()
	sch.doneWg.Wait()
	sch.logger.Info("reposync scheduler stopped")
}
