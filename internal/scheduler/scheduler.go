// Package scheduler classifies consecutive windows of activity into activity states.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pbaille/pulse/internal/domain"
	"github.com/pbaille/pulse/internal/metrics"
	"github.com/pbaille/pulse/internal/period"
	"github.com/pbaille/pulse/internal/store"
	"github.com/pbaille/pulse/internal/switches"
	"github.com/pbaille/pulse/internal/tagger"
)

// DefaultInterval is the length of a classification window
const DefaultInterval = 30 * time.Second

// Config holds the timing of the classification loop
type Config struct {
	Interval    time.Duration
	Grace       time.Duration
	// TickTimeout bounds a single tick; zero means no bound
	TickTimeout time.Duration
}

// Scheduler runs one classification per tick
type Scheduler struct {
	store    *store.Store
	tagger   *tagger.Engine
	switches *switches.Debouncer
	cfg      Config
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithClock replaces the wall clock, for tests
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a scheduler. A zero interval or grace falls back to the default.
func New(s *store.Store, t *tagger.Engine, d *switches.Debouncer, cfg Config, logger *slog.Logger, opts ...Option) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Grace <= 0 {
		cfg.Grace = period.DefaultGrace
	}
	if logger == nil {
		logger = slog.Default()
	}
	sc := &Scheduler{
		store:    s,
		tagger:   t,
		switches: d,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.With("component", "scheduler"),
	}
	for _, opt := range opts {
		opt(sc)
	}
	return sc
}

// Run ticks every interval until ctx is done. A failed tick is logged and
// the next tick picks up from the last written state. A missing well-known
// tag stops the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "scheduler started", "interval", s.cfg.Interval, "grace", s.cfg.Grace)
	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "scheduler stopped")
			return nil
		case <-ticker.C:
			err := s.tick(ctx)
			switch {
			case err == nil:
			case errors.Is(err, tagger.ErrMissingTag):
				return err
			case ctx.Err() != nil:
				return nil
			default:
				s.logger.ErrorContext(ctx, "tick failed", "err", err)
			}
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) error {
	if s.cfg.TickTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.TickTimeout)
		defer cancel()
	}
	_, err := s.Tick(ctx)
	return err
}

// Tick classifies the window due at the current time and writes its state
// and tags in one transaction. On failure nothing is written and the
// switches taken for the window are given back to the debouncer.
func (s *Scheduler) Tick(ctx context.Context) (*domain.ActivityState, error) {
	start := time.Now()
	defer func() { metrics.TickDuration.Observe(time.Since(start).Seconds()) }()

	now := s.now().UTC()
	var (
		prevEnd   *time.Time
		watermark int64
	)
	last, err := s.store.LastActivityState(ctx)
	switch {
	case err == nil:
		prevEnd = &last.EndTime
		watermark = last.LastActivityID
	case errors.Is(err, store.ErrNotFound):
	default:
		metrics.TickFailures.Inc()
		return nil, fmt.Errorf("last activity state: %w", err)
	}

	window, phase := period.Next(prevEnd, now, s.cfg.Interval, s.cfg.Grace)
	if phase == period.GapDetected {
		s.logger.InfoContext(ctx, "gap since last window", "last_end", *prevEnd, "window_start", window.Start)
	}

	// Activities recorded since the last classified one, by id rather than
	// timestamp: an event stamped inside an already written window but
	// recorded after it lands in this one instead of being lost.
	activities, err := s.store.ActivitiesAfterID(ctx, watermark)
	if err != nil {
		metrics.TickFailures.Inc()
		return nil, err
	}

	st := &domain.ActivityState{
		State:          domain.StateInactive,
		LastActivityID: watermark,
		StartTime:      window.Start,
		EndTime:        window.End,
	}
	var taken int64
	if len(activities) > 0 {
		st.State = domain.StateActive
		st.LastActivityID = activities[len(activities)-1].ID
		taken = s.switches.Take()
		st.AppSwitches = taken
	}

	err = s.store.InTx(ctx, func(tx *store.Tx) error {
		id, err := tx.SaveActivityState(ctx, st)
		if err != nil {
			return err
		}
		st.ID = id
		if st.State == domain.StateInactive {
			_, err = s.tagger.Idle(ctx, tx, id)
		} else {
			_, err = s.tagger.Derive(ctx, tx, id, window.Start, activities)
		}
		return err
	})
	if err != nil {
		s.switches.Restore(taken)
		metrics.TickFailures.Inc()
		return nil, fmt.Errorf("write activity state: %w", err)
	}

	metrics.PeriodsWritten.WithLabelValues(string(st.State), phase.String()).Inc()
	if st.State == domain.StateActive {
		metrics.AppSwitches.Observe(float64(st.AppSwitches))
	}
	s.logger.InfoContext(ctx, "period classified",
		"state_id", st.ID,
		"state", st.State,
		"phase", phase.String(),
		"start", st.StartTime,
		"end", st.EndTime,
		"activities", len(activities),
		"app_switches", st.AppSwitches,
	)
	return st, nil
}
