package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"school-portal/backend/pkg/logger"
)

// DefaultArchiveCron runs the sweep daily at 02:00 UTC
const DefaultArchiveCron = "0 2 * * *"

// Archiver is the part of the service the scheduler drives
type Archiver interface {
	ArchiveStale(ctx context.Context, thresholdDays int) (int64, error)
}

// ArchiveSchedulerConfig configures the background sweep
type ArchiveSchedulerConfig struct {
	Cron          string
	ThresholdDays int
	// Timeout bounds a single sweep; zero means no bound
	Timeout time.Duration
}

// ArchiveScheduler runs ArchiveStale on a cron schedule. Sweeps never overlap: a tick that
// arrives while the previous sweep is still running is skipped.
type ArchiveScheduler struct {
	archiver Archiver
	cfg      ArchiveSchedulerConfig
	log      *logger.Logger
	now      func() time.Time

	running sync.Mutex
	wg      sync.WaitGroup
}

func NewArchiveScheduler(archiver Archiver, cfg ArchiveSchedulerConfig, log *logger.Logger) (*ArchiveScheduler, error) {
	if cfg.Cron == "" {
		cfg.Cron = DefaultArchiveCron
	}
	if !gronx.IsValid(cfg.Cron) {
		return nil, fmt.Errorf("invalid archive cron expression: %s", cfg.Cron)
	}
	if log == nil {
		log = logger.GetGlobal()
	}
	return &ArchiveScheduler{
		archiver: archiver,
		cfg:      cfg,
		log:      log.With("component", "archive_scheduler"),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Start launches the scheduler loop. It stops when ctx is cancelled; Wait blocks until
// any in-flight sweep has returned.
func (s *ArchiveScheduler) Start(ctx context.Context) {
	s.log.Info("archive scheduler started", "cron", s.cfg.Cron, "threshold_days", s.cfg.ThresholdDays)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()
}

// Wait blocks until the loop and any running sweep have finished
func (s *ArchiveScheduler) Wait() {
	s.wg.Wait()
}

func (s *ArchiveScheduler) loop(ctx context.Context) {
	for {
		next, err := gronx.NextTickAfter(s.cfg.Cron, s.now(), false)
		if err != nil {
			s.log.LogError(err, "failed to compute next archive tick", "cron", s.cfg.Cron)
			if !sleep(ctx, 30*time.Second) {
				s.log.Info("archive scheduler stopping")
				return
			}
			continue
		}

		if !sleep(ctx, next.Sub(s.now())) {
			s.log.Info("archive scheduler stopping")
			return
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.RunOnce(ctx)
		}()
	}
}

// RunOnce performs a single sweep unless one is already in progress
func (s *ArchiveScheduler) RunOnce(ctx context.Context) (int64, error) {
	if !s.running.TryLock() {
		s.log.Warn("archive sweep still running, skipping tick")
		return 0, nil
	}
	defer s.running.Unlock()

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	n, err := s.archiver.ArchiveStale(ctx, s.cfg.ThresholdDays)
	if err != nil {
		s.log.LogError(err, "archive sweep failed", "archived", n)
	}
	return n, err
}

// sleep waits for d or ctx, reporting false when ctx ended first
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Second
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
