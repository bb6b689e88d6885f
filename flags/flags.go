// Package flags gates optional behavior per actor.
package flags

import (
	"context"
	"sync"
)

// Flag names recognized across the service.
const (
	BypassHourRequirement = "bypass_10_hour_requirement"
	PreparationPhase      = "preparation_phase"
	ExtraWeek             = "extra_week"
	Betting               = "betting"
	VotingAnyDay          = "voting_any_day"
	MultipleBallots       = "multiple_ballots"
)

// Checker reports whether a named flag is enabled for an actor. An empty
// actor checks the global state of the flag.
type Checker interface {
	Enabled(ctx context.Context, flag, actorID string) bool
}

// Static is an in-memory Checker. Global flags apply to every actor;
// per-actor grants apply only to the named actor.
type Static struct {
	mu       sync.RWMutex
	global   map[string]bool
	perActor map[string]map[string]bool
}

// NewStatic builds a Static checker with the given globally enabled flags.
func NewStatic(global map[string]bool) *Static {
	g := make(map[string]bool, len(global))
	for k, v := range global {
		g[k] = v
	}
	return &Static{global: g, perActor: make(map[string]map[string]bool)}
}

// Grant enables a flag for a single actor.
func (s *Static) Grant(flag, actorID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	actors, ok := s.perActor[flag]
	if !ok {
		actors = make(map[string]bool)
		s.perActor[flag] = actors
	}
	actors[actorID] = true
}

// SetGlobal flips a flag for all actors.
func (s *Static) SetGlobal(flag string, enabled bool) {
	s.mu.Lock()
	s.global[flag] = enabled
	s.mu.Unlock()
}

func (s *Static) Enabled(ctx context.Context, flag, actorID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.global[flag] {
		return true
	}
	if actorID == "" {
		return false
	}
	return s.perActor[flag][actorID]
}

var _ Checker = (*Static)(nil)
