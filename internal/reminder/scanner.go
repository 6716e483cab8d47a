// Package reminder periodically notifies clients of upcoming appointments.
package reminder

import (
	"context"
	"log/slog"
	"time"

	"appointly/backend/internal/domain"
	"appointly/backend/internal/notify"
	"appointly/backend/internal/store"
)

type Config struct {
	Interval  time.Duration
	Lookahead time.Duration
	BatchSize int
	ClaimTTL  time.Duration
}

type Scanner struct {
	repo     store.ReminderRepository
	claims   Claimer
	notifier notify.Notifier
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time
}

func NewScanner(repo store.ReminderRepository, claims Claimer, notifier notify.Notifier, logger *slog.Logger, cfg Config) *Scanner {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = 24 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 10 * time.Minute
	}
	if claims == nil {
		claims = NewMemoryClaimer()
	}
	if notifier == nil {
		notifier = notify.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		repo:     repo,
		claims:   claims,
		notifier: notifier,
		logger:   logger.With("component", "reminder"),
		cfg:      cfg,
		now:      time.Now,
	}
}

// Run scans once immediately and then on every tick until ctx is done.
func (s *Scanner) Run(ctx context.Context) {
	s.logger.Info("reminder scanner started", "interval", s.cfg.Interval.String(), "lookahead", s.cfg.Lookahead.String())

	if _, err := s.ScanOnce(ctx); err != nil {
		s.logger.Error("reminder scan failed", "err", err)
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reminder scanner stopped")
			return
		case <-ticker.C:
			if _, err := s.ScanOnce(ctx); err != nil {
				s.logger.Error("reminder scan failed", "err", err)
			}
		}
	}
}

// ScanOnce sends reminders for due appointments and returns how many were sent.
func (s *Scanner) ScanOnce(ctx context.Context) (int, error) {
	now := s.now().UTC()
	due, err := s.repo.ListDueReminders(ctx, now, now.Add(s.cfg.Lookahead), s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, appt := range due {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		ok, err := s.remind(ctx, appt, now)
		if err != nil {
			s.logger.Warn("reminder skipped", "appointment_id", appt.ID.String(), "err", err)
			continue
		}
		if ok {
			sent++
		}
	}
	if sent > 0 {
		s.logger.Info("reminders sent", "count", sent)
	}
	return sent, nil
}

func (s *Scanner) remind(ctx context.Context, appt domain.Appointment, now time.Time) (bool, error) {
	claimed, err := s.claims.Claim(ctx, appt.ID, s.cfg.ClaimTTL)
	if err != nil || !claimed {
		return false, err
	}

	marked, err := s.repo.MarkReminderSent(ctx, appt.ID, now)
	if err != nil {
		_ = s.claims.Release(ctx, appt.ID)
		return false, err
	}
	if !marked {
		return false, nil
	}

	s.notifier.Notify(ctx, notify.NewEvent(notify.EventReminder, appt.ClientID, appt, now))
	return true, nil
}
