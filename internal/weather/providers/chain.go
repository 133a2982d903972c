package providers

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/i474232898/weather-aggregates/internal/weather"
)

// Chain is a weather.Source that asks its providers in order and returns the
// first reading obtained. It fails as not_found only when every provider
// reported the location unknown.
type Chain struct {
	sources []weather.Source
	logger  *zap.Logger
}

// NewChain creates a Chain over sources.
func NewChain(logger *zap.Logger, sources ...weather.Source) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{sources: sources, logger: logger.Named("providers")}
}

func (c *Chain) Name() string {
	return "chain"
}

func (c *Chain) Fetch(ctx context.Context, loc weather.Location) (weather.Reading, error) {
	if len(c.sources) == 0 {
		return weather.Reading{}, &weather.FetchError{
			Location: loc.Key(),
			Kind:     weather.FetchKindTransient,
			Err:      errors.New("no providers configured"),
		}
	}

	var (
		errs     []error
		notFound = true
	)
	for _, src := range c.sources {
		r, err := src.Fetch(ctx, loc)
		if err == nil {
			return r, nil
		}

		c.logger.Debug("provider failed",
			zap.String("provider", src.Name()),
			zap.String("location", loc.Key()),
			zap.Error(err))

		errs = append(errs, err)
		if !weather.IsNotFound(err) {
			notFound = false
		}
		if ctx.Err() != nil {
			break
		}
	}

	kind := weather.FetchKindTransient
	if notFound && ctx.Err() == nil {
		kind = weather.FetchKindNotFound
	}
	return weather.Reading{}, &weather.FetchError{Location: loc.Key(), Kind: kind, Err: errors.Join(errs...)}
}
