package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-relay/core"
)

var ErrStateNotFound = errors.New("ratelimit: state not found")

// State is what the relay remembers about one Twilio account bucket, such as
// messages.create for AC123.
type State struct {
	Key            core.RateLimitKey
	Limit          int
	Remaining      int
	ResetAt        *time.Time
	RetryAfter     *time.Duration
	ThrottledUntil *time.Time
	LastStatus     int
	Attempts       int
	UpdatedAt      time.Time
	Metadata       map[string]any
}

// Throttled reports whether calls are held back at now, and for how long.
func (s State) Throttled(now time.Time) (time.Duration, bool) {
	if s.ThrottledUntil != nil && now.Before(*s.ThrottledUntil) {
		return s.ThrottledUntil.Sub(now), true
	}
	if s.Remaining == 0 && s.ResetAt != nil && now.Before(*s.ResetAt) {
		return s.ResetAt.Sub(now), true
	}
	return 0, false
}

type StateStore interface {
	Get(ctx context.Context, key core.RateLimitKey) (State, error)
	Upsert(ctx context.Context, state State) error
}

// NormalizeKey lower-cases provider and bucket; account SIDs are case
// sensitive and only trimmed.
func NormalizeKey(key core.RateLimitKey) core.RateLimitKey {
	return core.RateLimitKey{
		ProviderID: strings.ToLower(strings.TrimSpace(key.ProviderID)),
		AccountID:  strings.TrimSpace(key.AccountID),
		BucketKey:  strings.ToLower(strings.TrimSpace(key.BucketKey)),
	}
}

// MemoryStateStore keeps bucket state for the life of the process.
type MemoryStateStore struct {
	mu     sync.RWMutex
	states map[core.RateLimitKey]State
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: map[core.RateLimitKey]State{}}
}

func (s *MemoryStateStore) Get(_ context.Context, key core.RateLimitKey) (State, error) {
	if s == nil {
		return State{}, fmt.Errorf("ratelimit: state store is nil")
	}
	s.mu.RLock()
	state, ok := s.states[NormalizeKey(key)]
	s.mu.RUnlock()
	if !ok {
		return State{}, ErrStateNotFound
	}
	state.Metadata = maps.Clone(state.Metadata)
	return state, nil
}

func (s *MemoryStateStore) Upsert(_ context.Context, state State) error {
	if s == nil {
		return fmt.Errorf("ratelimit: state store is nil")
	}
	state.Key = NormalizeKey(state.Key)
	state.Metadata = maps.Clone(state.Metadata)
	s.mu.Lock()
	s.states[state.Key] = state
	s.mu.Unlock()
	return nil
}
