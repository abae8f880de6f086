package common

import (
	"errors"
	"sync"
)

// ErrReentrantCall is returned when a guarded entry point is re-invoked while
// a call into the same scope is still in flight.
var ErrReentrantCall = errors.New("reentrant call rejected")

// CallGuard implements per-scope non-reentrant protection for state-mutating
// entry points. A scope is entered at the top of an operation and released on
// every exit path via the returned function, so a transfer hook that calls
// back into the engine observes the scope as busy and fails fast.
type CallGuard struct {
	mu     sync.Mutex
	active map[string]bool
}

// NewCallGuard constructs an empty guard.
func NewCallGuard() *CallGuard {
	return &CallGuard{active: make(map[string]bool)}
}

// Enter marks the scope busy and returns the release function. Callers must
// defer the release immediately so early error returns still clear the flag.
func (g *CallGuard) Enter(scope string) (func(), error) {
	if g == nil {
		return func() {}, nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active == nil {
		g.active = make(map[string]bool)
	}
	if g.active[scope] {
		return nil, ErrReentrantCall
	}
	g.active[scope] = true
	released := false
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if released {
			return
		}
		released = true
		delete(g.active, scope)
	}, nil
}
