package weather_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/i474232898/weather-aggregates/internal/observability"
	"github.com/i474232898/weather-aggregates/internal/store"
	"github.com/i474232898/weather-aggregates/internal/weather"
)

var (
	delhi   = weather.Location{City: "Delhi", Country: "IN"}
	mumbai  = weather.Location{City: "Mumbai", Country: "IN"}
	chennai = weather.Location{City: "Chennai", Country: "IN"}
)

type fetchFunc func(ctx context.Context, loc weather.Location) (weather.Reading, error)

// fakeSource answers per city; cities without a handler return a fixed reading.
type fakeSource struct {
	clock clockwork.Clock

	mu       sync.Mutex
	handlers map[string]fetchFunc
	temp     float64
}

func newFakeSource(clock clockwork.Clock) *fakeSource {
	return &fakeSource{clock: clock, handlers: map[string]fetchFunc{}, temp: 25}
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) set(city string, fn fetchFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fn == nil {
		delete(f.handlers, city)
		return
	}
	f.handlers[city] = fn
}

func (f *fakeSource) Fetch(ctx context.Context, loc weather.Location) (weather.Reading, error) {
	f.mu.Lock()
	fn, ok := f.handlers[loc.City]
	temp := f.temp
	f.mu.Unlock()

	if ok {
		return fn(ctx, loc)
	}
	return weather.Reading{
		Location:     loc,
		Provider:     "fake",
		ObservedAt:   f.clock.Now(),
		TemperatureC: temp,
		FeelsLikeC:   temp + 2,
		Condition:    weather.ConditionClear,
	}, nil
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, weather.AggregateKey) (*weather.Aggregate, error) {
	return nil, errors.New("db down")
}

func (brokenStore) UpsertWith(context.Context, weather.AggregateKey, weather.UpdateFunc) (weather.Aggregate, error) {
	return weather.Aggregate{}, errors.New("db down")
}

type fixture struct {
	clock   *clockwork.FakeClock
	source  *fakeSource
	store   *store.MemoryStore
	metrics *observability.Metrics
	svc     *weather.Service
}

func newFixture(t *testing.T, opts weather.Options) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2024, time.May, 1, 12, 0, 0, 0, time.Local))
	f := &fixture{
		clock:   clock,
		source:  newFakeSource(clock),
		store:   store.NewMemoryStore(),
		metrics: observability.NewMetricsForTesting(),
	}

	if opts.Locations == nil {
		opts.Locations = []weather.Location{delhi, mumbai, chennai}
	}
	opts.Clock = clock
	opts.Logger = zaptest.NewLogger(t)
	opts.Metrics = f.metrics

	f.svc = weather.NewService(f.store, f.source, opts)
	return f
}

func (f *fixture) aggregate(t *testing.T, loc weather.Location) *weather.Aggregate {
	t.Helper()
	agg, err := f.svc.DailyAggregate(context.Background(), loc, f.svc.Today())
	require.NoError(t, err)
	return agg
}

func TestRunRound_AllSucceed(t *testing.T) {
	f := newFixture(t, weather.Options{})

	result := f.svc.RunRound(context.Background())

	require.Len(t, result.Outcomes, 3)
	assert.NotEmpty(t, result.ID)
	assert.Len(t, result.Successes(), 3)
	assert.Empty(t, result.Failures())

	for i, loc := range []weather.Location{delhi, mumbai, chennai} {
		o := result.Outcomes[i]
		assert.Equal(t, loc, o.Location)
		assert.Equal(t, weather.OutcomeOK, o.Kind)
		require.NotNil(t, o.Aggregate)
		assert.Equal(t, 1, o.Aggregate.Count)
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RoundsTotal))
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.LocationOutcomes.WithLabelValues("ok")))
}

func TestRunRound_FailureIsolation(t *testing.T) {
	f := newFixture(t, weather.Options{})
	ctx := context.Background()

	f.svc.RunRound(ctx)

	f.source.set("Mumbai", func(context.Context, weather.Location) (weather.Reading, error) {
		return weather.Reading{}, errors.New("provider unavailable")
	})
	f.source.temp = 35

	result := f.svc.RunRound(ctx)

	assert.Len(t, result.Successes(), 2)
	require.Len(t, result.Failures(), 1)

	o, ok := result.Outcome(mumbai.Key())
	require.True(t, ok)
	assert.Equal(t, weather.OutcomeFetchFailed, o.Kind)
	assert.Nil(t, o.Aggregate)

	var fe *weather.FetchError
	require.ErrorAs(t, o.Err, &fe)
	assert.Equal(t, weather.FetchKindTransient, fe.Kind)

	assert.Equal(t, 1, f.aggregate(t, mumbai).Count)
	assert.Equal(t, 25.0, f.aggregate(t, mumbai).MeanTempC)

	assert.Equal(t, 2, f.aggregate(t, delhi).Count)
	assert.InDelta(t, 30.0, f.aggregate(t, delhi).MeanTempC, 1e-9)
	assert.Equal(t, 2, f.aggregate(t, chennai).Count)
}

func TestRunRound_FetchTimeout(t *testing.T) {
	f := newFixture(t, weather.Options{FetchTimeout: 20 * time.Millisecond})

	f.source.set("Delhi", func(ctx context.Context, _ weather.Location) (weather.Reading, error) {
		<-ctx.Done()
		return weather.Reading{}, ctx.Err()
	})

	result := f.svc.RunRound(context.Background())

	o, ok := result.Outcome(delhi.Key())
	require.True(t, ok)
	assert.Equal(t, weather.OutcomeFetchFailed, o.Kind)
	assert.ErrorIs(t, o.Err, context.DeadlineExceeded)
	assert.Len(t, result.Successes(), 2)
	assert.Nil(t, f.aggregate(t, delhi))
}

func TestRunRound_NotFoundIsReported(t *testing.T) {
	f := newFixture(t, weather.Options{})

	f.source.set("Chennai", func(context.Context, weather.Location) (weather.Reading, error) {
		return weather.Reading{}, &weather.FetchError{Kind: weather.FetchKindNotFound, Err: errors.New("city not found")}
	})

	result := f.svc.RunRound(context.Background())

	o, _ := result.Outcome(chennai.Key())
	assert.Equal(t, weather.OutcomeFetchFailed, o.Kind)
	assert.True(t, weather.IsNotFound(o.Err))
}

func TestRunRound_InvalidReadingIsNotFolded(t *testing.T) {
	f := newFixture(t, weather.Options{})

	f.source.set("Delhi", func(_ context.Context, loc weather.Location) (weather.Reading, error) {
		return weather.Reading{Location: loc, ObservedAt: f.clock.Now(), TemperatureC: 20, FeelsLikeC: 20}, nil
	})

	result := f.svc.RunRound(context.Background())

	o, _ := result.Outcome(delhi.Key())
	assert.Equal(t, weather.OutcomeValidationFailed, o.Kind)

	var ve *weather.ValidationError
	require.ErrorAs(t, o.Err, &ve)
	assert.Equal(t, "Reading.Condition", ve.Field)
	assert.Nil(t, f.aggregate(t, delhi))
}

func TestRunRound_StoreFailureStillCompletes(t *testing.T) {
	clock := clockwork.NewFakeClock()
	metrics := observability.NewMetricsForTesting()
	svc := weather.NewService(brokenStore{}, newFakeSource(clock), weather.Options{
		Locations: []weather.Location{delhi, mumbai},
		Clock:     clock,
		Logger:    zaptest.NewLogger(t),
		Metrics:   metrics,
	})

	result := svc.RunRound(context.Background())

	require.Len(t, result.Outcomes, 2)
	for _, o := range result.Outcomes {
		assert.Equal(t, weather.OutcomeStoreFailed, o.Kind)
		var se *weather.StoreError
		assert.ErrorAs(t, o.Err, &se)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.LocationOutcomes.WithLabelValues("store_failed")))

	_, err := svc.DailyAggregate(context.Background(), delhi, svc.Today())
	var se *weather.StoreError
	assert.ErrorAs(t, err, &se)
}

func TestLatestSnapshot(t *testing.T) {
	f := newFixture(t, weather.Options{})

	_, ok := f.svc.LatestSnapshot()
	assert.False(t, ok)

	first := f.svc.RunRound(context.Background())

	snap, ok := f.svc.LatestSnapshot()
	require.True(t, ok)
	assert.Equal(t, first.ID, snap.ID)

	snap.Outcomes[0].Aggregate.Frequencies["Snow"] = 99
	snap.Outcomes[0].Kind = weather.OutcomeStoreFailed

	again, _ := f.svc.LatestSnapshot()
	assert.Equal(t, weather.OutcomeOK, again.Outcomes[0].Kind)
	assert.NotContains(t, again.Outcomes[0].Aggregate.Frequencies, "Snow")

	second := f.svc.RunRound(context.Background())
	latest, _ := f.svc.LatestSnapshot()
	assert.Equal(t, second.ID, latest.ID)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestLatestReading(t *testing.T) {
	f := newFixture(t, weather.Options{})

	_, ok := f.svc.LatestReading(delhi)
	assert.False(t, ok)

	f.svc.RunRound(context.Background())

	r, ok := f.svc.LatestReading(delhi)
	require.True(t, ok)
	assert.Equal(t, delhi, r.Location)
	assert.Equal(t, 25.0, r.TemperatureC)
}

func TestHooks(t *testing.T) {
	f := newFixture(t, weather.Options{})

	var (
		mu      sync.Mutex
		updated []string
		rounds  []weather.RoundResult
	)
	f.svc.OnUpdate(func(_ context.Context, r weather.Reading, agg weather.Aggregate) error {
		mu.Lock()
		defer mu.Unlock()
		updated = append(updated, agg.Key.Location)
		return errors.New("alert sink unavailable")
	})
	f.svc.OnSnapshot(func(_ context.Context, result weather.RoundResult) error {
		rounds = append(rounds, result)
		return errors.New("broker down")
	})

	result := f.svc.RunRound(context.Background())
	require.NoError(t, f.svc.WaitPublished(context.Background()))

	assert.Len(t, result.Successes(), 3)
	assert.ElementsMatch(t, []string{"Delhi:IN", "Mumbai:IN", "Chennai:IN"}, updated)
	require.Len(t, rounds, 1)
	assert.Equal(t, result.ID, rounds[0].ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PublishErrors))
}

func TestRunRound_SlowSnapshotHookDoesNotHoldRound(t *testing.T) {
	f := newFixture(t, weather.Options{PublishTimeout: 20 * time.Millisecond})

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	var hookErr error
	f.svc.OnSnapshot(func(ctx context.Context, _ weather.RoundResult) error {
		select {
		case <-ctx.Done():
			hookErr = ctx.Err()
		case <-release:
		}
		return hookErr
	})

	done := make(chan weather.RoundResult, 1)
	go func() { done <- f.svc.RunRound(context.Background()) }()

	select {
	case result := <-done:
		assert.Len(t, result.Successes(), 3)
	case <-time.After(time.Second):
		t.Fatal("round blocked on its snapshot hook")
	}

	snap, ok := f.svc.LatestSnapshot()
	require.True(t, ok)
	assert.Len(t, snap.Outcomes, 3)

	require.NoError(t, f.svc.WaitPublished(context.Background()))
	assert.ErrorIs(t, hookErr, context.DeadlineExceeded)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PublishErrors))
}
