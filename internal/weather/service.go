package weather

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/i474232898/weather-aggregates/internal/observability"
)

// Options configures a Service. Zero values fall back to defaults.
type Options struct {
	Locations []Location

	// FetchTimeout bounds every Source call. Defaults to 10s.
	FetchTimeout time.Duration

	// PublishTimeout bounds every SnapshotHook call. Defaults to 10s.
	PublishTimeout time.Duration

	Validator *ReadingValidator
	Clock     clockwork.Clock
	Logger    *zap.Logger
	Metrics   *observability.Metrics
}

// Service runs fetch-and-aggregate rounds over the configured locations and
// serves the results.
type Service struct {
	store          Store
	source         Source
	locations      []Location
	fetchTimeout   time.Duration
	publishTimeout time.Duration
	validator      *ReadingValidator
	clock          clockwork.Clock
	logger         *zap.Logger
	metrics        *observability.Metrics

	latest atomic.Pointer[RoundResult]

	publishing sync.WaitGroup

	mu            sync.RWMutex
	readings      map[string]Reading
	updateHooks   []UpdateHook
	snapshotHooks []SnapshotHook
}

// NewService creates a new Service.
func NewService(store Store, source Source, opts Options) *Service {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 10 * time.Second
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 10 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Validator == nil {
		opts.Validator = NewReadingValidator(opts.Clock, 24*time.Hour, time.Hour)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NewMetricsForTesting()
	}

	locations := make([]Location, len(opts.Locations))
	copy(locations, opts.Locations)

	return &Service{
		store:          store,
		source:         source,
		locations:      locations,
		fetchTimeout:   opts.FetchTimeout,
		publishTimeout: opts.PublishTimeout,
		validator:      opts.Validator,
		clock:          opts.Clock,
		logger:         opts.Logger.Named("rounds"),
		metrics:        opts.Metrics,
		readings:       make(map[string]Reading),
	}
}

// OnUpdate registers a hook called after every successful aggregate update.
func (s *Service) OnUpdate(h UpdateHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateHooks = append(s.updateHooks, h)
}

// OnSnapshot registers a hook called with every completed round.
func (s *Service) OnSnapshot(h SnapshotHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshotHooks = append(s.snapshotHooks, h)
}

// Locations returns the tracked locations.
func (s *Service) Locations() []Location {
	out := make([]Location, len(s.locations))
	copy(out, s.locations)
	return out
}

// RunRound fetches a reading for every location concurrently, folds each valid
// reading into its daily aggregate and publishes the result as the latest
// snapshot. A failure for one location never affects the others; the round
// always reports exactly one outcome per location.
func (s *Service) RunRound(ctx context.Context) RoundResult {
	started := s.clock.Now()
	s.logger.Debug("round started", zap.Int("locations", len(s.locations)))

	outcomes := make([]LocationOutcome, len(s.locations))

	var wg sync.WaitGroup
	for i, loc := range s.locations {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = s.processLocation(ctx, loc)
		}()
	}
	wg.Wait()

	result := RoundResult{
		ID:         uuid.NewString(),
		StartedAt:  started,
		FinishedAt: s.clock.Now(),
		Outcomes:   outcomes,
	}
	s.latest.Store(&result)

	s.metrics.RoundsTotal.Inc()
	s.metrics.RoundDuration.Observe(result.FinishedAt.Sub(started).Seconds())
	for _, o := range outcomes {
		s.metrics.LocationOutcomes.WithLabelValues(string(o.Kind)).Inc()
	}

	s.logger.Info("round completed",
		zap.String("round_id", result.ID),
		zap.Int("succeeded", len(result.Successes())),
		zap.Int("failed", len(result.Failures())),
		zap.Duration("took", result.FinishedAt.Sub(started)))

	// Snapshot hooks run after the round has returned, so a slow sink
	// never holds the scheduler's next tick.
	s.publishing.Add(1)
	go func() {
		defer s.publishing.Done()

		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
		defer cancel()
		s.publish(pubCtx, result)
	}()

	return result.clone()
}

func (s *Service) processLocation(ctx context.Context, loc Location) LocationOutcome {
	locKey := loc.Key()

	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	r, err := s.source.Fetch(fetchCtx, loc)
	cancel()
	if err != nil {
		fe := AsFetchError(locKey, err)
		s.logger.Warn("fetch failed",
			zap.String("location", locKey),
			zap.String("kind", string(fe.Kind)),
			zap.Error(fe.Err))
		return failed(loc, OutcomeFetchFailed, fe)
	}

	// Readings are always attributed to the location that was asked for.
	r.Location = loc

	if err := s.validator.Validate(r); err != nil {
		s.logger.Warn("reading rejected", zap.String("location", locKey), zap.Error(err))
		return failed(loc, OutcomeValidationFailed, err)
	}

	key := KeyFor(r)
	agg, err := s.store.UpsertWith(ctx, key, func(prev *Aggregate) Aggregate {
		return Fold(prev, r)
	})
	if err != nil {
		var se *StoreError
		if !errors.As(err, &se) {
			se = &StoreError{Op: "upsert", Key: key, Err: err}
		}
		s.logger.Error("aggregate update failed", zap.String("key", key.String()), zap.Error(se))
		return failed(loc, OutcomeStoreFailed, se)
	}

	s.mu.Lock()
	s.readings[locKey] = r
	hooks := append([]UpdateHook(nil), s.updateHooks...)
	s.mu.Unlock()

	for _, h := range hooks {
		if err := h(ctx, r, agg.Clone()); err != nil {
			s.logger.Warn("update hook failed", zap.String("key", key.String()), zap.Error(err))
		}
	}

	return LocationOutcome{
		Location:  loc,
		Kind:      OutcomeOK,
		Reading:   &r,
		Aggregate: &agg,
	}
}

func failed(loc Location, kind OutcomeKind, err error) LocationOutcome {
	return LocationOutcome{
		Location: loc,
		Kind:     kind,
		Err:      err,
		Error:    err.Error(),
	}
}

func (s *Service) publish(ctx context.Context, result RoundResult) {
	s.mu.RLock()
	hooks := append([]SnapshotHook(nil), s.snapshotHooks...)
	s.mu.RUnlock()

	for _, h := range hooks {
		if err := h(ctx, result.clone()); err != nil {
			s.metrics.PublishErrors.Inc()
			s.logger.Warn("snapshot hook failed", zap.String("round_id", result.ID), zap.Error(err))
		}
	}
}

// WaitPublished blocks until every snapshot hook dispatched so far has
// returned or ctx is done.
func (s *Service) WaitPublished(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.publishing.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LatestSnapshot returns a copy of the last completed round. The boolean is
// false until the first round finishes.
func (s *Service) LatestSnapshot() (RoundResult, bool) {
	r := s.latest.Load()
	if r == nil {
		return RoundResult{}, false
	}
	return r.clone(), true
}

// LatestReading returns the most recent successful reading for a location.
func (s *Service) LatestReading(loc Location) (Reading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.readings[loc.Key()]
	return r, ok
}

// DailyAggregate returns the aggregate for a location on a day
// (format DayLayout), or nil when nothing was recorded.
func (s *Service) DailyAggregate(ctx context.Context, loc Location, day string) (*Aggregate, error) {
	key := AggregateKey{Location: loc.Key(), Day: day}
	agg, err := s.store.Get(ctx, key)
	if err != nil {
		var se *StoreError
		if !errors.As(err, &se) {
			se = &StoreError{Op: "get", Key: key, Err: err}
		}
		return nil, se
	}
	return agg, nil
}

// Today returns the current calendar day in the service's clock.
func (s *Service) Today() string {
	return DayOf(s.clock.Now())
}
