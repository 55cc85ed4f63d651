package maintenance

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
)

// Cleaner removes cached analyses older than maxAge and reports how many it removed.
type Cleaner interface {
	CleanupExpired(ctx context.Context, maxAge time.Duration) int
}

// Sweeper periodically expires old analysis cache entries.
type Sweeper struct {
	logger   *slog.Logger
	cleaner  Cleaner
	interval time.Duration
	maxAge   time.Duration
}

// NewSweeper creates a sweeper running every interval with the given retention.
func NewSweeper(logger *slog.Logger, cleaner Cleaner, interval, maxAge time.Duration) (*Sweeper, error) {
	if cleaner == nil {
		return nil, errors.New("sweeper requires a cleaner")
	}
	if interval <= 0 {
		return nil, errors.New("sweep interval must be positive")
	}
	if maxAge < 0 {
		return nil, errors.New("retention must not be negative")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{logger: logger, cleaner: cleaner, interval: interval, maxAge: maxAge}, nil
}

// Run sweeps once immediately and then on every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	scheduler := gocron.NewScheduler(time.UTC)
	if _, err := scheduler.Every(s.interval).SingletonMode().Do(s.sweep, ctx); err != nil {
		return err
	}

	s.logger.Info("cache sweeper started", slog.Duration("interval", s.interval), slog.Duration("retention", s.maxAge))
	scheduler.StartAsync()
	<-ctx.Done()
	scheduler.Stop()
	s.logger.Info("cache sweeper stopped")
	return nil
}

func (s *Sweeper) sweep(ctx context.Context) {
	removed := s.cleaner.CleanupExpired(ctx, s.maxAge)
	if removed > 0 {
		s.logger.Info("expired cached analyses", slog.Int("removed", removed))
		return
	}
	s.logger.Debug("cache sweep found nothing to expire")
}
