// Package results supplies the final result a match settles at.
//
// A final result is a single number: the value the spread was quoted on
// (total points, goal difference, and so on). Sources report whether the
// match has completed; an incomplete match has no result yet.
package results

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"
)

// ErrNoResult is returned by Registry.Get for an unknown match.
var ErrNoResult = errors.New("results: no result recorded")

// ErrEmptyResult is returned when a provider marks a match completed but
// sends neither a result nor any scores.
var ErrEmptyResult = errors.New("results: completed match has no result or scores")

// Source looks up the final result of a match. ok is false while the match
// is still in progress or unknown to the source.
type Source interface {
	FinalResult(ctx context.Context, matchID string) (result decimal.Decimal, ok bool, err error)
}

// Registry holds results entered manually, for example by an admin
// grading a match from the dashboard.
type Registry struct {
	mu      sync.RWMutex
	results map[string]decimal.Decimal
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{results: make(map[string]decimal.Decimal)}
}

// Set records the final result for a match, replacing any earlier value.
func (r *Registry) Set(matchID string, result decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[matchID] = result
}

// Get returns the recorded result or ErrNoResult.
func (r *Registry) Get(matchID string) (decimal.Decimal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.results[matchID]
	if !ok {
		return decimal.Zero, ErrNoResult
	}
	return v, nil
}

func (r *Registry) FinalResult(_ context.Context, matchID string) (decimal.Decimal, bool, error) {
	v, err := r.Get(matchID)
	if err != nil {
		return decimal.Zero, false, nil
	}
	return v, true, nil
}

// Chain asks each source in order and returns the first completed result.
// An error from one source is remembered but does not stop the chain.
type Chain []Source

func (c Chain) FinalResult(ctx context.Context, matchID string) (decimal.Decimal, bool, error) {
	var errs []error
	for _, src := range c {
		if src == nil {
			continue
		}
		v, ok, err := src.FinalResult(ctx, matchID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			return v, true, nil
		}
	}
	return decimal.Zero, false, errors.Join(errs...)
}

// Compile-time interface checks.
var (
	_ Source = (*Registry)(nil)
	_ Source = Chain(nil)
	_ Source = (*HTTPSource)(nil)
)
