package weather

import (
	"errors"
	"fmt"
)

// FetchKind classifies a failed provider call.
type FetchKind string

const (
	FetchKindTransient FetchKind = "transient"
	FetchKindNotFound  FetchKind = "not_found"
)

// FetchError reports that no reading could be obtained for a location.
type FetchError struct {
	Location string
	Kind     FetchKind
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s (%s): %v", e.Location, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ValidationError reports a malformed reading. It never reaches the fold.
type ValidationError struct {
	Location string
	Field    string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid reading for %s: %s %s", e.Location, e.Field, e.Reason)
}

// StoreError reports that the aggregate store could not be reached.
type StoreError struct {
	Op  string
	Key AggregateKey
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// AsFetchError wraps err as a transient FetchError unless it already is one.
func AsFetchError(loc string, err error) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		if fe.Location == "" {
			fe.Location = loc
		}
		return fe
	}
	return &FetchError{Location: loc, Kind: FetchKindTransient, Err: err}
}

// IsNotFound reports whether err is a FetchError of kind not_found.
func IsNotFound(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == FetchKindNotFound
}
