package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stockline/stockline-backend/internal/inventory/domain"
	"github.com/stockline/stockline-backend/pkg/config"
	"github.com/stockline/stockline-backend/pkg/lock"
	"github.com/stockline/stockline-backend/pkg/logger"
	"github.com/stockline/stockline-backend/pkg/metrics"
	"github.com/stockline/stockline-backend/pkg/tracing"
)

const sweepLockName = "expiry-sweep"

// SweepStats summarises one sweep.
type SweepStats struct {
	Found     int  `json:"found"`
	Released  int  `json:"released"`
	Resettled int  `json:"resettled"`
	Failed    int  `json:"failed"`
	Skipped   bool `json:"skipped"`
}

// ExpirySweeper periodically releases active reservations whose deadline
// has passed and finishes the settlement of closed reservations whose
// holds never reached the ledger. Release is idempotent, so overlapping
// sweeps or a sweep that races an explicit release never return a hold twice.
type ExpirySweeper struct {
	reservations *ReservationService
	store        ReservationStore
	locker       lock.Locker
	cfg          config.ReservationConfig
	metrics      *metrics.Metrics
	logger       *logger.Logger
	now          func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewExpirySweeper creates a new sweeper. A nil locker means every replica sweeps.
func NewExpirySweeper(
	reservations *ReservationService,
	store ReservationStore,
	locker lock.Locker,
	cfg config.ReservationConfig,
	m *metrics.Metrics,
	log *logger.Logger,
) *ExpirySweeper {
	if locker == nil {
		locker = lock.Local{}
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 500
	}
	if cfg.SweepConcurrency <= 0 {
		cfg.SweepConcurrency = 1
	}
	return &ExpirySweeper{
		reservations: reservations,
		store:        store,
		locker:       locker,
		cfg:          cfg,
		metrics:      m,
		logger:       log.WithComponent("expiry-sweeper"),
		now:          time.Now,
	}
}

// SetClock replaces the time source.
func (s *ExpirySweeper) SetClock(now func() time.Time) {
	s.now = now
}

// Start runs a sweep immediately and then on every interval until Stop or
// ctx is cancelled.
func (s *ExpirySweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		s.logger.Info().Dur("interval", s.cfg.SweepInterval).Msg("expiry sweeper started")

		s.runCycle(ctx)

		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("expiry sweeper stopped")
				return
			case <-ticker.C:
				s.runCycle(ctx)
			}
		}
	}()
}

// Stop cancels the sweeper and waits for the running cycle to finish.
func (s *ExpirySweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (s *ExpirySweeper) runCycle(ctx context.Context) {
	if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error().Err(err).Msg("expiry sweep failed")
	}
}

// SweepOnce releases one batch of expired reservations. Failures on
// individual reservations are logged and counted, never returned.
func (s *ExpirySweeper) SweepOnce(ctx context.Context) (stats SweepStats, err error) {
	ctx, span := tracer.Start(ctx, "ExpirySweeper.SweepOnce")
	defer tracing.End(span, &err)

	lease, ok, err := s.locker.Acquire(ctx, sweepLockName, s.cfg.SweepLockTTL)
	if err != nil {
		return stats, err
	}
	if !ok {
		s.logger.Debug().Msg("another replica holds the sweep lock")
		return SweepStats{Skipped: true}, nil
	}
	defer func() {
		if relErr := lease.Release(context.WithoutCancel(ctx)); relErr != nil {
			s.logger.Warn().Err(relErr).Msg("failed to release sweep lock")
		}
	}()

	start := time.Now()
	defer func() { s.metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()

	var released, resettled, failed atomic.Int64

	// Closed reservations from earlier cycles first, so one that fails to
	// settle below is retried on the next cycle rather than twice in this one.
	unsettled, err := s.store.ListUnsettled(ctx, s.cfg.SweepBatchSize)
	if err != nil {
		return stats, err
	}
	for _, res := range unsettled {
		if err := s.reservations.SettleHolds(ctx, res); err != nil {
			failed.Add(1)
			s.logger.Error().Err(err).Str("reservation_id", res.ID).Msg("failed to settle closed reservation")
			continue
		}
		resettled.Add(1)
	}

	expired, err := s.store.ListExpired(ctx, s.now(), s.cfg.SweepBatchSize)
	if err != nil {
		return stats, err
	}
	stats.Found = len(expired)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.SweepConcurrency)
	for _, res := range expired {
		res := res
		g.Go(func() error {
			result, err := s.reservations.Release(gctx, res.ID, domain.ReasonExpired)
			if err != nil {
				failed.Add(1)
				s.logger.Error().Err(err).Str("reservation_id", res.ID).Msg("failed to expire reservation")
				return nil
			}
			if result.Released {
				released.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	stats.Released = int(released.Load())
	stats.Resettled = int(resettled.Load())
	stats.Failed = int(failed.Load())
	s.metrics.SweepReleased.Add(float64(stats.Released))

	if stats.Found == 0 && stats.Resettled == 0 && stats.Failed == 0 {
		return stats, nil
	}
	s.logger.Info().
		Int("found", stats.Found).
		Int("released", stats.Released).
		Int("resettled", stats.Resettled).
		Int("failed", stats.Failed).
		Dur("duration", time.Since(start)).
		Msg("expiry sweep completed")
	return stats, nil
}
