package scheduler

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/i474232898/weather-aggregates/internal/observability"
	"github.com/i474232898/weather-aggregates/internal/weather"
)

var (
	ErrAlreadyStarted = errors.New("scheduler already started")
	ErrNotStarted     = errors.New("scheduler not started")
	ErrInvalidPeriod  = errors.New("polling period must be positive")
	ErrPeriodTooLong  = errors.New("polling period is too long")
)

// MaxPollingMinutes is the longest period SetPollingPeriod accepts.
const MaxPollingMinutes = math.MaxInt64 / int64(time.Minute)

// State is the scheduler lifecycle state.
type State int

const (
	Idle State = iota
	Armed
	RoundInFlight
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case RoundInFlight:
		return "round_in_flight"
	default:
		return "unknown"
	}
}

// RoundRunner runs one fetch-and-aggregate round.
type RoundRunner interface {
	RunRound(ctx context.Context) weather.RoundResult
}

// Scheduler triggers rounds on a repeating ticker. A tick that arrives while a
// round is still running is skipped, never queued.
type Scheduler struct {
	runner  RoundRunner
	clock   clockwork.Clock
	logger  *zap.Logger
	metrics *observability.Metrics

	inFlight atomic.Bool

	mu        sync.Mutex
	started   bool
	period    time.Duration
	ticker    clockwork.Ticker
	done      chan struct{}
	roundDone chan struct{} // closed when the latest round finishes
}

// New creates an idle Scheduler.
func New(runner RoundRunner, clock clockwork.Clock, logger *zap.Logger, metrics *observability.Metrics) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewMetricsForTesting()
	}
	return &Scheduler{
		runner:  runner,
		clock:   clock,
		logger:  logger.Named("scheduler"),
		metrics: metrics,
	}
}

// Start arms the ticker with period and triggers one round right away.
func (s *Scheduler) Start(period time.Duration) error {
	if period <= 0 {
		return ErrInvalidPeriod
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.arm(period)
	s.mu.Unlock()

	s.logger.Info("scheduler started", zap.Duration("period", period))
	s.trigger(nil)
	return nil
}

// Reconfigure replaces the period. The next tick is one new period from now;
// a round already in flight is left alone.
func (s *Scheduler) Reconfigure(period time.Duration) error {
	if period <= 0 {
		return ErrInvalidPeriod
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return ErrNotStarted
	}
	old := s.period
	s.disarm()
	s.arm(period)

	s.logger.Info("polling period changed", zap.Duration("from", old), zap.Duration("to", period))
	return nil
}

// SetPollingPeriod sets the period in minutes, starting the scheduler if it
// is idle.
func (s *Scheduler) SetPollingPeriod(minutes int) error {
	if minutes <= 0 {
		return ErrInvalidPeriod
	}
	if int64(minutes) > MaxPollingMinutes {
		return ErrPeriodTooLong
	}
	period := time.Duration(minutes) * time.Minute

	err := s.Reconfigure(period)
	if errors.Is(err, ErrNotStarted) {
		return s.Start(period)
	}
	return err
}

// Stop disarms the ticker. A round in flight runs to completion; use Wait to
// block until it has.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	s.disarm()
	s.started = false
	s.period = 0
	s.metrics.PollingPeriod.Set(0)

	s.logger.Info("scheduler stopped")
}

// Wait blocks until the round in flight, if any, has finished or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.roundDone
	s.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State reports the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	switch {
	case !started:
		return Idle
	case s.inFlight.Load():
		return RoundInFlight
	default:
		return Armed
	}
}

// Period returns the configured period, zero when idle.
func (s *Scheduler) Period() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.period
}

// arm must be called with mu held.
func (s *Scheduler) arm(period time.Duration) {
	ticker := s.clock.NewTicker(period)
	done := make(chan struct{})

	s.period = period
	s.ticker = ticker
	s.done = done
	s.metrics.PollingPeriod.Set(period.Seconds())

	go s.loop(ticker, done)
}

// disarm must be called with mu held.
func (s *Scheduler) disarm() {
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
}

func (s *Scheduler) loop(ticker clockwork.Ticker, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-ticker.Chan():
			s.trigger(done)
		}
	}
}

// trigger starts a round unless one is in flight or the scheduler has been
// stopped. A tick carries the done channel of the arming that produced it;
// ticks from a ticker that has since been stopped or replaced are dropped.
// Start passes nil.
func (s *Scheduler) trigger(armed chan struct{}) {
	s.mu.Lock()
	if !s.started || (armed != nil && s.done != armed) {
		s.mu.Unlock()
		return
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		s.mu.Unlock()
		s.metrics.RoundsSkipped.Inc()
		s.logger.Warn("previous round still running, skipping tick")
		return
	}
	done := make(chan struct{})
	s.roundDone = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer s.inFlight.Store(false)

		// Stop never cancels a round.
		s.runner.RunRound(context.Background())
	}()
}
