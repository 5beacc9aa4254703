package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type webhookDeliveryRecord struct {
	bun.BaseModel `bun:"table:relay_webhook_deliveries,alias:rwd"`

	ID            string     `bun:"id,pk"`
	ProviderID    string     `bun:"provider_id,notnull"`
	DeliveryID    string     `bun:"delivery_id,notnull"`
	Status        string     `bun:"status,notnull"`
	Attempts      int        `bun:"attempts,notnull"`
	NextAttemptAt *time.Time `bun:"next_attempt_at,nullzero"`
	LastError     string     `bun:"last_error,notnull"`
	Payload       []byte     `bun:"payload"`
	CreatedAt     time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type messageRecord struct {
	bun.BaseModel `bun:"table:relay_messages,alias:rm"`

	ID           string     `bun:"id,pk"`
	SID          string     `bun:"sid,notnull"`
	AccountSID   string     `bun:"account_sid,notnull"`
	Direction    string     `bun:"direction,notnull"`
	FromAddress  string     `bun:"from_address,notnull"`
	ToAddress    string     `bun:"to_address,notnull"`
	Body         string     `bun:"body,notnull"`
	Status       string     `bun:"status,notnull"`
	ErrorCode    int        `bun:"error_code,notnull"`
	ErrorMessage string     `bun:"error_message,notnull"`
	NumMedia     int        `bun:"num_media,notnull"`
	SentAt       *time.Time `bun:"sent_at,nullzero"`
	CreatedAt    time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt    time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type rateLimitStateRecord struct {
	bun.BaseModel `bun:"table:relay_rate_limit_states,alias:rrls"`

	ID             string         `bun:"id,pk"`
	ProviderID     string         `bun:"provider_id,notnull"`
	AccountID      string         `bun:"account_id,notnull"`
	BucketKey      string         `bun:"bucket_key,notnull"`
	Limit          int            `bun:"limit_value,notnull"`
	Remaining      int            `bun:"remaining,notnull"`
	ResetAt        *time.Time     `bun:"reset_at,nullzero"`
	RetryAfter     *int           `bun:"retry_after_seconds,nullzero"`
	Attempts       int            `bun:"attempts,notnull"`
	LastStatus     int            `bun:"last_status,notnull"`
	ThrottledUntil *time.Time     `bun:"throttled_until,nullzero"`
	Metadata       map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt      time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
