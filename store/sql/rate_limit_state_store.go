package sqlstore

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/goliatone/go-relay/core"
	"github.com/goliatone/go-relay/ratelimit"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RateLimitStateStore persists per-bucket throttle state so a CLI run that
// starts inside a Twilio backoff window still honours it.
type RateLimitStateStore struct {
	db   *bun.DB
	repo repository.Repository[*rateLimitStateRecord]
}

func NewRateLimitStateStore(db *bun.DB) (*RateLimitStateStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*rateLimitStateRecord](db, rateLimitStateHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid rate-limit state repository wiring: %w", err)
		}
	}
	return &RateLimitStateStore{db: db, repo: repo}, nil
}

func (s *RateLimitStateStore) Get(ctx context.Context, key core.RateLimitKey) (ratelimit.State, error) {
	if s == nil || s.db == nil {
		return ratelimit.State{}, fmt.Errorf("sqlstore: rate-limit state store is not configured")
	}
	key, err := bucketKey(key)
	if err != nil {
		return ratelimit.State{}, err
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("provider_id", "=", key.ProviderID),
		repository.SelectBy("account_id", "=", key.AccountID),
		repository.SelectBy("bucket_key", "=", key.BucketKey),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return ratelimit.State{}, err
	}
	if len(records) == 0 {
		return ratelimit.State{}, ratelimit.ErrStateNotFound
	}
	return records[0].toDomain(), nil
}

// Upsert writes the bucket row in one statement keyed on the unique
// (provider_id, account_id, bucket_key) constraint.
func (s *RateLimitStateStore) Upsert(ctx context.Context, state ratelimit.State) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: rate-limit state store is not configured")
	}
	key, err := bucketKey(state.Key)
	if err != nil {
		return err
	}
	state.Key = key
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}

	record := rateLimitStateFromDomain(state)
	record.ID = uuid.NewString()
	record.CreatedAt = record.UpdatedAt
	_, err = s.db.NewInsert().
		Model(record).
		On("CONFLICT (provider_id, account_id, bucket_key) DO UPDATE").
		Set("limit_value = EXCLUDED.limit_value").
		Set("remaining = EXCLUDED.remaining").
		Set("reset_at = EXCLUDED.reset_at").
		Set("retry_after_seconds = EXCLUDED.retry_after_seconds").
		Set("attempts = EXCLUDED.attempts").
		Set("last_status = EXCLUDED.last_status").
		Set("throttled_until = EXCLUDED.throttled_until").
		Set("metadata = EXCLUDED.metadata").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func bucketKey(key core.RateLimitKey) (core.RateLimitKey, error) {
	key = ratelimit.NormalizeKey(key)
	if key.ProviderID == "" || key.AccountID == "" || key.BucketKey == "" {
		return key, core.BadInput("sqlstore: rate-limit key needs provider, account and bucket", map[string]any{
			"provider_id": key.ProviderID,
			"account_sid": key.AccountID,
			"bucket_key":  key.BucketKey,
		})
	}
	return key, nil
}

func rateLimitStateFromDomain(state ratelimit.State) *rateLimitStateRecord {
	record := &rateLimitStateRecord{
		ProviderID:     state.Key.ProviderID,
		AccountID:      state.Key.AccountID,
		BucketKey:      state.Key.BucketKey,
		Limit:          state.Limit,
		Remaining:      state.Remaining,
		ResetAt:        copyTimePointer(state.ResetAt),
		Attempts:       state.Attempts,
		LastStatus:     state.LastStatus,
		ThrottledUntil: copyTimePointer(state.ThrottledUntil),
		Metadata:       copyAnyMap(state.Metadata),
		UpdatedAt:      state.UpdatedAt.UTC(),
	}
	if state.RetryAfter != nil && *state.RetryAfter > 0 {
		// Stored in whole seconds; a sub-second hint still holds for one.
		seconds := max(int(state.RetryAfter.Seconds()), 1)
		record.RetryAfter = &seconds
	}
	return record
}

func (r *rateLimitStateRecord) toDomain() ratelimit.State {
	state := ratelimit.State{
		Key: core.RateLimitKey{
			ProviderID: r.ProviderID,
			AccountID:  r.AccountID,
			BucketKey:  r.BucketKey,
		},
		Limit:          r.Limit,
		Remaining:      r.Remaining,
		ResetAt:        copyTimePointer(r.ResetAt),
		ThrottledUntil: copyTimePointer(r.ThrottledUntil),
		LastStatus:     r.LastStatus,
		Attempts:       r.Attempts,
		UpdatedAt:      r.UpdatedAt.UTC(),
		Metadata:       maps.Clone(r.Metadata),
	}
	if r.RetryAfter != nil && *r.RetryAfter > 0 {
		wait := time.Duration(*r.RetryAfter) * time.Second
		state.RetryAfter = &wait
	}
	return state
}

var _ ratelimit.StateStore = (*RateLimitStateStore)(nil)
