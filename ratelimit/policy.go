package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-relay/core"
)

// TooManyRequestsCode is the Twilio error code returned alongside HTTP 429.
const TooManyRequestsCode = 20429

// throttleCodes are Twilio error codes that mean "slow down" whatever the
// HTTP status: the REST concurrency limit plus the SMS and WhatsApp channel
// rate limits.
var throttleCodes = []int{TooManyRequestsCode, 14107, 63018}

type ThrottledError struct {
	ProviderID string
	AccountID  string
	BucketKey  string
	RetryAfter time.Duration
}

func (e ThrottledError) Error() string {
	return fmt.Sprintf("ratelimit: %s bucket %s for account %s is throttled, retry in %s",
		e.ProviderID, e.BucketKey, e.AccountID, e.RetryAfter.Round(time.Millisecond))
}

// ToServiceError maps the throttle into the relay error envelope.
func (e ThrottledError) ToServiceError() *goerrors.Error {
	metadata := map[string]any{
		"provider_id": e.ProviderID,
		"account_id":  e.AccountID,
		"bucket_key":  e.BucketKey,
	}
	if e.RetryAfter > 0 {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	return goerrors.New(e.Error(), goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(core.ErrorRateLimited).
		WithMetadata(metadata)
}

// AdaptivePolicy holds calls back per Twilio account bucket after the API
// pushes back. A Retry-After hint wins; otherwise the window doubles with each
// consecutive throttle, starting at InitialBackoff and capped at MaxBackoff.
type AdaptivePolicy struct {
	Store          StateStore
	Now            func() time.Time
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func NewAdaptivePolicy(store StateStore) *AdaptivePolicy {
	return &AdaptivePolicy{
		Store:          store,
		InitialBackoff: time.Second,
		MaxBackoff:     time.Minute,
	}
}

func (p *AdaptivePolicy) BeforeCall(ctx context.Context, key core.RateLimitKey) error {
	if p == nil || p.Store == nil {
		return nil
	}
	state, err := p.Store.Get(ctx, NormalizeKey(key))
	if errors.Is(err, ErrStateNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if wait, held := state.Throttled(p.now()); held {
		return ThrottledError{
			ProviderID: state.Key.ProviderID,
			AccountID:  state.Key.AccountID,
			BucketKey:  state.Key.BucketKey,
			RetryAfter: wait,
		}
	}
	return nil
}

func (p *AdaptivePolicy) AfterCall(ctx context.Context, key core.RateLimitKey, res core.ProviderResponseMeta) error {
	if p == nil || p.Store == nil {
		return nil
	}
	key = NormalizeKey(key)
	state, err := p.Store.Get(ctx, key)
	switch {
	case errors.Is(err, ErrStateNotFound):
		state = State{Key: key}
	case err != nil:
		return err
	}

	now := p.now()
	obs := observe(res, now)
	state.LastStatus = res.StatusCode
	state.UpdatedAt = now
	state.Metadata = maps.Clone(state.Metadata)
	if state.Metadata == nil {
		state.Metadata = map[string]any{}
	}
	maps.Copy(state.Metadata, res.Metadata)
	if obs.limit != nil {
		state.Limit = *obs.limit
	}
	if obs.remaining != nil {
		state.Remaining = *obs.remaining
	}
	if obs.resetAt != nil {
		state.ResetAt = obs.resetAt
	}
	state.RetryAfter = obs.retryAfter

	if !obs.throttled(state.Remaining) {
		state.Attempts = 0
		state.ThrottledUntil = nil
		return p.Store.Upsert(ctx, state)
	}

	state.Attempts++
	wait := p.backoff(state.Attempts)
	if obs.retryAfter != nil {
		wait = *obs.retryAfter
	}
	until := now.Add(wait)
	state.ThrottledUntil = &until
	return p.Store.Upsert(ctx, state)
}

func (p *AdaptivePolicy) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *AdaptivePolicy) backoff(attempt int) time.Duration {
	initial := p.InitialBackoff
	if initial <= 0 {
		initial = time.Second
	}
	ceiling := p.MaxBackoff
	if ceiling <= 0 {
		ceiling = time.Minute
	}
	wait := initial
	for i := 1; i < attempt && wait < ceiling; i++ {
		wait *= 2
	}
	return min(wait, ceiling)
}

// observation is what one response says about the bucket. Twilio rarely
// sends budget headers; they are honoured when a proxy or edge adds them.
type observation struct {
	status     int
	limit      *int
	remaining  *int
	resetAt    *time.Time
	retryAfter *time.Duration
}

func observe(res core.ProviderResponseMeta, now time.Time) observation {
	obs := observation{status: res.StatusCode}
	if code, ok := twilioCode(res.Metadata); ok && slices.Contains(throttleCodes, code) {
		obs.status = http.StatusTooManyRequests
	}
	obs.limit = headerInt(res.Headers, "X-RateLimit-Limit")
	obs.remaining = headerInt(res.Headers, "X-RateLimit-Remaining")
	if reset := headerInt(res.Headers, "X-RateLimit-Reset"); reset != nil && *reset > 0 {
		at := time.Unix(int64(*reset), 0).UTC()
		obs.resetAt = &at
	}
	switch {
	case res.RetryAfter != nil && *res.RetryAfter > 0:
		wait := *res.RetryAfter
		obs.retryAfter = &wait
	default:
		obs.retryAfter = retryAfterHeader(res.Headers, now)
	}
	return obs
}

// throttled: an explicit 429 always counts, server errors never do, and an
// exhausted budget counts only when the response carried budget headers.
func (o observation) throttled(remaining int) bool {
	if o.status == http.StatusTooManyRequests {
		return true
	}
	if o.status >= http.StatusInternalServerError {
		return false
	}
	hasBudget := o.limit != nil || o.remaining != nil || o.resetAt != nil || o.retryAfter != nil
	return hasBudget && remaining == 0
}

func twilioCode(metadata map[string]any) (int, bool) {
	switch code := metadata["twilio_code"].(type) {
	case int:
		return code, true
	case int64:
		return int(code), true
	case float64:
		return int(code), true
	}
	return 0, false
}

func retryAfterHeader(headers map[string]string, now time.Time) *time.Duration {
	raw := header(headers, "Retry-After")
	if raw == "" {
		return nil
	}
	var wait time.Duration
	if seconds, err := strconv.Atoi(raw); err == nil {
		wait = time.Duration(seconds) * time.Second
	} else if at, err := http.ParseTime(raw); err == nil {
		wait = at.Sub(now)
	}
	if wait <= 0 {
		return nil
	}
	return &wait
}

func headerInt(headers map[string]string, name string) *int {
	raw := header(headers, name)
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &n
}

func header(headers map[string]string, name string) string {
	for key, value := range headers {
		if strings.EqualFold(strings.TrimSpace(key), name) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

var _ core.RateLimitPolicy = (*AdaptivePolicy)(nil)
