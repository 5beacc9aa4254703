package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

const ProviderTwilio = "twilio"

type TransportRequest struct {
	Method               string
	URL                  string
	Headers              map[string]string
	Query                map[string]string
	Body                 []byte
	BasicAuth            *BasicAuth
	Metadata             map[string]any
	Timeout              time.Duration
	MaxResponseBodyBytes int64
}

type BasicAuth struct {
	Username string
	Password string
}

type TransportResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

type TransportAdapter interface {
	Kind() string
	Do(ctx context.Context, req TransportRequest) (TransportResponse, error)
}

type InboundRequest struct {
	ProviderID string
	Surface    string
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

type InboundResult struct {
	Accepted   bool
	StatusCode int
	Body       []byte
	Metadata   map[string]any
}

type RateLimitKey struct {
	ProviderID string
	AccountID  string
	BucketKey  string
}

type ProviderResponseMeta struct {
	StatusCode int
	Headers    map[string]string
	RetryAfter *time.Duration
	Metadata   map[string]any
}

type RateLimitPolicy interface {
	BeforeCall(ctx context.Context, key RateLimitKey) error
	AfterCall(ctx context.Context, key RateLimitKey, res ProviderResponseMeta) error
}

// MessageRecord is the persisted view of a message and its latest delivery status.
type MessageRecord struct {
	SID          string
	AccountSID   string
	Direction    string
	From         string
	To           string
	Body         string
	Status       string
	ErrorCode    int
	ErrorMessage string
	NumMedia     int
	SentAt       *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type MessageRecorder interface {
	RecordMessage(ctx context.Context, record MessageRecord) error
}

// MessageFilter narrows stored message history. Address matches either side
// of the conversation; a zero Limit uses the store default.
type MessageFilter struct {
	Address string
	Since   time.Time
	Limit   int
}

type MessageHistory interface {
	ListRecent(ctx context.Context, filter MessageFilter) ([]MessageRecord, error)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger
