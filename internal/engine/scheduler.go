package engine

import (
	"context"
	"errors"
	"time"
)

// DefaultBackupInterval is how often the scheduler re-evaluates whether an
// automatic backup is due while the process is alive.
const DefaultBackupInterval = 30 * time.Minute

// DefaultEarliestHour is the local hour before which automatic backups are
// never started.
const DefaultEarliestHour = 9

// Scheduler decides when an automatic backup is due and runs it. Guard
// misses are silent no-ops; an automatic backup never forces an interactive
// login.
type Scheduler struct {
	service  *Service
	settings SettingsStore
	clock    Clock
	logger   Logger

	interval     time.Duration
	earliestHour int
}

// SchedulerOptions tunes the scheduler. A zero Interval selects the default.
// EarliestHour 0 means backups may start at any hour; values outside 0-23
// select the default.
type SchedulerOptions struct {
	Interval     time.Duration
	EarliestHour int
}

func NewScheduler(service *Service, settings SettingsStore, clock Clock, logger Logger, opts SchedulerOptions) *Scheduler {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultBackupInterval
	}
	earliest := opts.EarliestHour
	if earliest < 0 || earliest > 23 {
		earliest = DefaultEarliestHour
	}
	return &Scheduler{
		service:      service,
		settings:     settings,
		clock:        clock,
		logger:       logger,
		interval:     interval,
		earliestHour: earliest,
	}
}

// Run evaluates once immediately, then on every tick until ctx is cancelled.
// RunOnce failures are logged and do not stop the loop.
func (s *Scheduler) Run(ctx context.Context) {
	s.runLogged(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runLogged(ctx)
		}
	}
}

func (s *Scheduler) runLogged(ctx context.Context) {
	if err := s.RunOnce(ctx); err != nil {
		// Reported once, never retried here: BackupNow already performed
		// the single refresh-and-retry.
		s.logger.Error("automatic backup failed", "error", err)
	}
}

// RunOnce performs one due-check and, when due, one automatic backup.
// Guards, in order: the auto-backup flag is on; the local time is at or past
// the earliest hour; no successful automatic backup is recorded for today.
// Any failing guard returns nil.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	enabled, err := s.settings.AutoBackupEnabled()
	if err != nil {
		return err
	}
	if !enabled {
		return nil
	}

	now := s.clock.Now()
	if now.Hour() < s.earliestHour {
		return nil
	}

	today := now.Format("2006-01-02")
	last, err := s.settings.LastAutoBackupDay()
	if err != nil {
		return err
	}
	if last == today {
		return nil
	}

	file, err := s.service.BackupNow(ctx, nil)
	if errors.Is(err, ErrAuthRequired) {
		s.logger.Info("skipping automatic backup: not connected")
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.settings.SetLastAutoBackupDay(today); err != nil {
		return err
	}
	s.logger.Info("automatic backup done", "file", file.Name, "day", today)
	return nil
}
