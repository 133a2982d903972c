package weather

import (
	"errors"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
)

// ReadingValidator rejects malformed readings before they reach the fold.
type ReadingValidator struct {
	validate      *validator.Validate
	clock         clockwork.Clock
	maxAge        time.Duration
	maxFutureSkew time.Duration
}

// NewReadingValidator builds a validator. Readings observed more than maxAge
// before now, or more than maxFutureSkew after now, are rejected. A zero bound
// disables that check.
func NewReadingValidator(clock clockwork.Clock, maxAge, maxFutureSkew time.Duration) *ReadingValidator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	v := validator.New()
	_ = v.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
		f := fl.Field().Float()
		return !math.IsNaN(f) && !math.IsInf(f, 0)
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return &ReadingValidator{
		validate:      v,
		clock:         clock,
		maxAge:        maxAge,
		maxFutureSkew: maxFutureSkew,
	}
}

// Validate returns a *ValidationError describing the first problem found.
func (v *ReadingValidator) Validate(r Reading) error {
	loc := r.Location.Key()

	if err := v.validate.Struct(r); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return &ValidationError{Location: loc, Field: fe.Namespace(), Reason: "failed " + fe.Tag()}
		}
		return &ValidationError{Location: loc, Field: "Reading", Reason: err.Error()}
	}

	if r.ObservedAt.IsZero() {
		return &ValidationError{Location: loc, Field: "Reading.ObservedAt", Reason: "is missing"}
	}

	now := v.clock.Now()
	if v.maxFutureSkew > 0 && r.ObservedAt.After(now.Add(v.maxFutureSkew)) {
		return &ValidationError{Location: loc, Field: "Reading.ObservedAt", Reason: "is too far in the future"}
	}
	if v.maxAge > 0 && r.ObservedAt.Before(now.Add(-v.maxAge)) {
		return &ValidationError{Location: loc, Field: "Reading.ObservedAt", Reason: "is too old"}
	}

	return nil
}
