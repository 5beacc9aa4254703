package webhooks

import (
	"context"
	"time"
)

const (
	DeliveryStatusPending    = "pending"
	DeliveryStatusProcessing = "processing"
	DeliveryStatusProcessed  = "processed"
	DeliveryStatusRetryReady = "retry_ready"
	DeliveryStatusDead       = "dead"
)

// DeliveryRecord tracks one Twilio callback, keyed by provider and delivery
// id. NextAttemptAt is the lease end while processing and the backoff hint
// while retry_ready. A provider redelivery claims a retry_ready record at
// once, since it is the retry.
type DeliveryRecord struct {
	ID            string
	ClaimID       string
	ProviderID    string
	DeliveryID    string
	Status        string
	Attempts      int
	NextAttemptAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DeliveryLedger records which callbacks were handled. Claim returns false
// only when the delivery is settled (processed or dead) or held by a live
// processing lease.
type DeliveryLedger interface {
	Claim(ctx context.Context, providerID string, deliveryID string, payload []byte, lease time.Duration) (DeliveryRecord, bool, error)
	Get(ctx context.Context, providerID string, deliveryID string) (DeliveryRecord, error)
	Complete(ctx context.Context, claimID string) error
	Fail(ctx context.Context, claimID string, cause error, nextAttemptAt time.Time, maxAttempts int) error
}

// RetryPolicy spaces out retries of a failed delivery or job.
type RetryPolicy interface {
	NextDelay(attempt int) time.Duration
}

// ExponentialRetryPolicy doubles from Initial (default 1s) per attempt up
// to Max (default 30s).
type ExponentialRetryPolicy struct {
	Initial time.Duration
	Max     time.Duration
}

func (p ExponentialRetryPolicy) NextDelay(attempt int) time.Duration {
	delay := p.Initial
	if delay <= 0 {
		delay = time.Second
	}
	ceiling := p.Max
	if ceiling <= 0 {
		ceiling = 30 * time.Second
	}
	for ; attempt > 1 && delay < ceiling; attempt-- {
		delay *= 2
	}
	return min(delay, ceiling)
}
