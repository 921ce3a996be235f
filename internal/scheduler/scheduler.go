package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/i474232898/coverage-aggregation/internal/coverage"
	"github.com/i474232898/coverage-aggregation/internal/geo"
)

// jobTimeout bounds each warm-up check and reload.
const jobTimeout = 30 * time.Second

// Checker is the part of coverage.Service the scheduler drives.
type Checker interface {
	Check(ctx context.Context, q coverage.Query) (coverage.AggregatedResult, error)
	SweepCache() int
}

// Reloader refreshes an external dataset, such as the base-station registry.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Pruner removes persisted cache entries older than a cutoff.
type Pruner interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config selects which jobs run. Zero intervals disable a job.
type Config struct {
	SweepInterval  time.Duration
	WarmInterval   time.Duration
	WarmPoints     []geo.Coordinates
	ReloadInterval time.Duration
	// PruneAge is how long persisted entries are kept; pruning runs with the sweep.
	PruneAge time.Duration
}

// Scheduler runs periodic maintenance for the coverage service.
type Scheduler struct {
	scheduler *gocron.Scheduler
	cfg       Config
	service   Checker
	reloader  Reloader
	pruner    Pruner
}

// New creates a new Scheduler. reloader and pruner may be nil.
func New(cfg Config, service Checker, reloader Reloader, pruner Pruner) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	return &Scheduler{
		scheduler: s,
		cfg:       cfg,
		service:   service,
		reloader:  reloader,
		pruner:    pruner,
	}
}

// Start schedules the configured jobs and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if s.cfg.SweepInterval > 0 {
		if _, err := s.scheduler.Every(s.cfg.SweepInterval).WaitForSchedule().Do(s.Sweep); err != nil {
			return eris.Wrap(err, "scheduler: schedule cache sweep")
		}
	}
	if s.cfg.WarmInterval > 0 && len(s.cfg.WarmPoints) > 0 {
		if _, err := s.scheduler.Every(s.cfg.WarmInterval).Do(s.Warm); err != nil {
			return eris.Wrap(err, "scheduler: schedule warm-up")
		}
	}
	if s.cfg.ReloadInterval > 0 && s.reloader != nil {
		if _, err := s.scheduler.Every(s.cfg.ReloadInterval).WaitForSchedule().Do(s.Reload); err != nil {
			return eris.Wrap(err, "scheduler: schedule registry reload")
		}
	}

	if s.scheduler.Len() == 0 {
		zap.L().Info("scheduler: no jobs configured; nothing to schedule")
		return nil
	}
	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

// Sweep drops expired cache entries and prunes persisted ones.
func (s *Scheduler) Sweep() {
	removed := s.service.SweepCache()
	if removed > 0 {
		zap.L().Debug("scheduler: swept cache", zap.Int("removed", removed))
	}

	if s.pruner == nil || s.cfg.PruneAge <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	n, err := s.pruner.DeleteBefore(ctx, time.Now().Add(-s.cfg.PruneAge))
	if err != nil {
		zap.L().Warn("scheduler: prune persisted cache failed", zap.Error(err))
		return
	}
	if n > 0 {
		zap.L().Debug("scheduler: pruned persisted cache", zap.Int64("rows", n))
	}
}

// Warm runs a default check at every warm point concurrently.
func (s *Scheduler) Warm() {
	zap.L().Info("scheduler: running warm-up job", zap.Int("points", len(s.cfg.WarmPoints)))

	var wg sync.WaitGroup
	for _, pt := range s.cfg.WarmPoints {
		wg.Add(1)
		go func(pt geo.Coordinates) {
			defer wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			defer cancel()

			q := coverage.Query{Coordinates: pt, Options: coverage.DefaultOptions()}
			if _, err := s.service.Check(ctx, q); err != nil {
				zap.L().Warn("scheduler: warm-up check failed",
					zap.String("point", pt.String()),
					zap.Error(err),
				)
			}
		}(pt)
	}
	wg.Wait()
	zap.L().Info("scheduler: completed warm-up job")
}

// Reload refreshes the base-station registry.
func (s *Scheduler) Reload() {
	if s.reloader == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if err := s.reloader.Reload(ctx); err != nil {
		zap.L().Warn("scheduler: registry reload failed", zap.Error(err))
	}
}
