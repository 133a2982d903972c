package weather

import (
	"time"
)

// OutcomeKind tells how one location fared in a round.
type OutcomeKind string

const (
	OutcomeOK               OutcomeKind = "ok"
	OutcomeFetchFailed      OutcomeKind = "fetch_failed"
	OutcomeValidationFailed OutcomeKind = "validation_failed"
	OutcomeStoreFailed      OutcomeKind = "store_failed"
)

// LocationOutcome is the result of one location within a round. Reading and
// Aggregate are set only for OutcomeOK; Err only for failures.
type LocationOutcome struct {
	Location  Location    `json:"location"`
	Kind      OutcomeKind `json:"outcome"`
	Reading   *Reading    `json:"reading,omitempty"`
	Aggregate *Aggregate  `json:"aggregate,omitempty"`
	Err       error       `json:"-"`
	Error     string      `json:"error,omitempty"`
}

// RoundResult is the outcome list of one fetch-and-aggregate pass, in the
// order locations were configured.
type RoundResult struct {
	ID         string            `json:"id"`
	StartedAt  time.Time         `json:"startedAt"`
	FinishedAt time.Time         `json:"finishedAt"`
	Outcomes   []LocationOutcome `json:"outcomes"`
}

// Successes returns the outcomes that updated an aggregate.
func (r RoundResult) Successes() []LocationOutcome {
	return r.filter(func(o LocationOutcome) bool { return o.Kind == OutcomeOK })
}

// Failures returns every outcome that did not update an aggregate.
func (r RoundResult) Failures() []LocationOutcome {
	return r.filter(func(o LocationOutcome) bool { return o.Kind != OutcomeOK })
}

// Outcome looks up the outcome for a location key.
func (r RoundResult) Outcome(locationKey string) (LocationOutcome, bool) {
	for _, o := range r.Outcomes {
		if o.Location.Key() == locationKey {
			return o, true
		}
	}
	return LocationOutcome{}, false
}

func (r RoundResult) filter(keep func(LocationOutcome) bool) []LocationOutcome {
	var out []LocationOutcome
	for _, o := range r.Outcomes {
		if keep(o) {
			out = append(out, o)
		}
	}
	return out
}

// clone copies the outcome list and the values it points to so a published
// snapshot cannot be modified through a returned copy.
func (r RoundResult) clone() RoundResult {
	outcomes := make([]LocationOutcome, len(r.Outcomes))
	for i, o := range r.Outcomes {
		if o.Reading != nil {
			rd := *o.Reading
			o.Reading = &rd
		}
		if o.Aggregate != nil {
			agg := o.Aggregate.Clone()
			o.Aggregate = &agg
		}
		outcomes[i] = o
	}
	r.Outcomes = outcomes
	return r
}
