package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"hydroponics-cloud/internal/observability/metrics"
)

// Expirer deletes stop markers past their expiry.
type Expirer interface {
	SweepExpired(ctx context.Context) (int, error)
}

// Sweeper periodically removes stop markers left behind by crashed or torn down sessions.
type Sweeper struct {
	cron    *cron.Cron
	expirer Expirer
	timeout time.Duration
	logger  *zap.Logger
}

// New constructs a sweeper on a cron schedule such as "@every 1m".
func New(expirer Expirer, schedule string, logger *zap.Logger) (*Sweeper, error) {
	if expirer == nil {
		return nil, errors.New("sweeper: nil expirer")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sweeper{
		cron:    cron.New(),
		expirer: expirer,
		timeout: 30 * time.Second,
		logger:  logger,
	}
	if _, err := s.cron.AddFunc(schedule, func() { _, _ = s.RunOnce(context.Background()) }); err != nil {
		return nil, err
	}
	return s, nil
}

// Start runs the schedule in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep or ctx expiry.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// RunOnce performs a single sweep.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	count, err := s.expirer.SweepExpired(ctx)
	if err != nil {
		metrics.IncStopMarkerSweep(metrics.ResultError)
		s.logger.Warn("stop marker sweep failed", zap.Error(err))
		return 0, err
	}
	metrics.IncStopMarkerSweep(metrics.ResultSuccess)
	if count > 0 {
		s.logger.Info("expired stop markers removed", zap.Int("count", count))
	}
	return count, nil
}
