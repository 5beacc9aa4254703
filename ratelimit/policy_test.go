package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/goliatone/go-relay/core"
)

func twilioKey(bucket string) core.RateLimitKey {
	return core.RateLimitKey{ProviderID: core.ProviderTwilio, AccountID: "AC123", BucketKey: bucket}
}

func TestAdaptivePolicy_BeforeCallAllowsWhenNoState(t *testing.T) {
	policy := NewAdaptivePolicy(NewMemoryStateStore())

	if err := policy.BeforeCall(context.Background(), twilioKey("messages.create")); err != nil {
		t.Fatalf("expected no error when no state exists, got %v", err)
	}
}

func TestAdaptivePolicy_BlocksWhenThrottleWindowIsActive(t *testing.T) {
	store := NewMemoryStateStore()
	policy := NewAdaptivePolicy(store)
	now := time.Unix(1_700_000_000, 0).UTC()
	policy.Now = func() time.Time { return now }

	key := twilioKey("messages.create")
	until := now.Add(20 * time.Second)
	if err := store.Upsert(context.Background(), State{Key: key, ThrottledUntil: &until}); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	err := policy.BeforeCall(context.Background(), key)
	var throttledErr ThrottledError
	if !errors.As(err, &throttledErr) {
		t.Fatalf("expected ThrottledError, got %T", err)
	}
	if throttledErr.RetryAfter != 20*time.Second {
		t.Fatalf("expected retry_after 20s, got %s", throttledErr.RetryAfter)
	}
	if throttledErr.AccountID != "AC123" {
		t.Fatalf("expected account id on error, got %q", throttledErr.AccountID)
	}
}

func TestAdaptivePolicy_BucketsAreIndependent(t *testing.T) {
	store := NewMemoryStateStore()
	policy := NewAdaptivePolicy(store)
	now := time.Unix(1_700_000_000, 0).UTC()
	policy.Now = func() time.Time { return now }

	if err := policy.AfterCall(context.Background(), twilioKey("messages.create"), core.ProviderResponseMeta{StatusCode: 429}); err != nil {
		t.Fatalf("after call: %v", err)
	}
	if err := policy.BeforeCall(context.Background(), twilioKey("messages.list")); err != nil {
		t.Fatalf("expected list bucket to stay open, got %v", err)
	}
	if err := policy.BeforeCall(context.Background(), twilioKey("MESSAGES.CREATE")); err == nil {
		t.Fatalf("expected normalized bucket key to be throttled")
	}
}

func TestAdaptivePolicy_AfterCall429UsesRetryAfterAndAttempts(t *testing.T) {
	store := NewMemoryStateStore()
	policy := NewAdaptivePolicy(store)
	now := time.Unix(1_700_000_000, 0).UTC()
	policy.Now = func() time.Time { return now }

	key := twilioKey("messages.create")
	if err := policy.AfterCall(context.Background(), key, core.ProviderResponseMeta{
		StatusCode: 429,
		Headers:    map[string]string{"Retry-After": "10"},
	}); err != nil {
		t.Fatalf("after call throttled: %v", err)
	}

	state, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.Attempts != 1 {
		t.Fatalf("expected attempts 1, got %d", state.Attempts)
	}
	if state.ThrottledUntil == nil {
		t.Fatalf("expected throttled_until")
	}
	if got := state.ThrottledUntil.Sub(now); got != 10*time.Second {
		t.Fatalf("expected throttled window of 10s, got %s", got)
	}
}

func TestAdaptivePolicy_TwilioCodeCountsAsThrottle(t *testing.T) {
	store := NewMemoryStateStore()
	policy := NewAdaptivePolicy(store)
	policy.InitialBackoff = 2 * time.Second
	now := time.Unix(1_700_000_000, 0).UTC()
	policy.Now = func() time.Time { return now }

	key := twilioKey("messages.create")
	if err := policy.AfterCall(context.Background(), key, core.ProviderResponseMeta{
		StatusCode: 400,
		Metadata:   map[string]any{"twilio_code": float64(TooManyRequestsCode)},
	}); err != nil {
		t.Fatalf("after call: %v", err)
	}
	state, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.ThrottledUntil == nil || state.ThrottledUntil.Sub(now) != 2*time.Second {
		t.Fatalf("expected initial backoff window, got %+v", state.ThrottledUntil)
	}
}

func TestAdaptivePolicy_AdaptiveBackoffWithoutRetryAfter(t *testing.T) {
	store := NewMemoryStateStore()
	policy := NewAdaptivePolicy(store)
	policy.InitialBackoff = 2 * time.Second
	policy.MaxBackoff = 30 * time.Second
	now := time.Unix(1_700_000_000, 0).UTC()
	policy.Now = func() time.Time { return now }

	key := twilioKey("messages.create")
	if err := policy.AfterCall(context.Background(), key, core.ProviderResponseMeta{StatusCode: 429}); err != nil {
		t.Fatalf("first throttled call: %v", err)
	}

	now = now.Add(3 * time.Second)
	if err := policy.AfterCall(context.Background(), key, core.ProviderResponseMeta{StatusCode: 429}); err != nil {
		t.Fatalf("second throttled call: %v", err)
	}

	state, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.Attempts != 2 {
		t.Fatalf("expected attempts 2, got %d", state.Attempts)
	}
	if got := state.ThrottledUntil.Sub(now); got != 4*time.Second {
		t.Fatalf("expected adaptive delay of 4s, got %s", got)
	}
}

func TestAdaptivePolicy_ResetsAttemptsOnSuccessfulCall(t *testing.T) {
	store := NewMemoryStateStore()
	policy := NewAdaptivePolicy(store)
	now := time.Unix(1_700_000_000, 0).UTC()
	policy.Now = func() time.Time { return now }

	key := twilioKey("messages.fetch")
	until := now.Add(10 * time.Second)
	if err := store.Upsert(context.Background(), State{Key: key, Attempts: 3, ThrottledUntil: &until}); err != nil {
		t.Fatalf("seed throttled state: %v", err)
	}

	now = now.Add(12 * time.Second)
	if err := policy.AfterCall(context.Background(), key, core.ProviderResponseMeta{StatusCode: 200}); err != nil {
		t.Fatalf("after successful call: %v", err)
	}

	state, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.Attempts != 0 {
		t.Fatalf("expected attempts reset to zero, got %d", state.Attempts)
	}
	if state.ThrottledUntil != nil {
		t.Fatalf("expected throttle window cleared")
	}
}

func TestAdaptivePolicy_ChannelRateLimitCodesThrottle(t *testing.T) {
	for _, code := range []int{14107, 63018} {
		store := NewMemoryStateStore()
		policy := NewAdaptivePolicy(store)
		now := time.Unix(1_700_000_000, 0).UTC()
		policy.Now = func() time.Time { return now }

		key := twilioKey("messages.create")
		if err := policy.AfterCall(context.Background(), key, core.ProviderResponseMeta{
			StatusCode: 400,
			Metadata:   map[string]any{"twilio_code": code},
		}); err != nil {
			t.Fatalf("after call %d: %v", code, err)
		}
		if err := policy.BeforeCall(context.Background(), key); err == nil {
			t.Fatalf("expected code %d to hold the bucket", code)
		}
	}
}

func TestAdaptivePolicy_ServerErrorsDoNotThrottle(t *testing.T) {
	store := NewMemoryStateStore()
	policy := NewAdaptivePolicy(store)

	key := twilioKey("messages.fetch")
	if err := policy.AfterCall(context.Background(), key, core.ProviderResponseMeta{
		StatusCode: 503,
		Headers:    map[string]string{"X-RateLimit-Remaining": "0"},
	}); err != nil {
		t.Fatalf("after call: %v", err)
	}
	if err := policy.BeforeCall(context.Background(), key); err != nil {
		t.Fatalf("expected 503 to leave the bucket open, got %v", err)
	}
}

func TestAdaptivePolicy_RetryAfterHTTPDate(t *testing.T) {
	store := NewMemoryStateStore()
	policy := NewAdaptivePolicy(store)
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	policy.Now = func() time.Time { return now }

	key := twilioKey("messages.create")
	if err := policy.AfterCall(context.Background(), key, core.ProviderResponseMeta{
		StatusCode: 429,
		Headers:    map[string]string{"retry-after": now.Add(45 * time.Second).Format(http.TimeFormat)},
	}); err != nil {
		t.Fatalf("after call: %v", err)
	}
	state, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.ThrottledUntil == nil || state.ThrottledUntil.Sub(now) != 45*time.Second {
		t.Fatalf("expected 45s window from http date, got %+v", state.ThrottledUntil)
	}
}

func TestState_ThrottledByExhaustedBudget(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	reset := now.Add(30 * time.Second)
	state := State{Remaining: 0, ResetAt: &reset}
	if wait, held := state.Throttled(now); !held || wait != 30*time.Second {
		t.Fatalf("expected 30s hold, got %s %v", wait, held)
	}
	if _, held := state.Throttled(reset.Add(time.Second)); held {
		t.Fatalf("expected bucket open after reset")
	}
	state.Remaining = 5
	if _, held := state.Throttled(now); held {
		t.Fatalf("expected remaining budget to keep the bucket open")
	}
}
