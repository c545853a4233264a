package strategy

import "sync/atomic"

// ParamStore holds a strategy's parameter set behind an atomic pointer.
// Readers load the whole set once per cycle, writers swap in a complete
// replacement, so a cycle observes either the old set or the new one and
// never a mix.
type ParamStore[T any] struct {
	p atomic.Pointer[T]
}

// NewParamStore creates a store seeded with the given parameters.
func NewParamStore[T any](initial T) *ParamStore[T] {
	s := &ParamStore[T]{}
	s.p.Store(&initial)
	return s
}

// Load returns the current parameter set. The returned value is a copy;
// callers can read it for a whole cycle without further synchronization.
func (s *ParamStore[T]) Load() T {
	return *s.p.Load()
}

// Swap atomically replaces the parameter set.
func (s *ParamStore[T]) Swap(next T) {
	s.p.Store(&next)
}
