package webhooks

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-relay/core"
)

const (
	defaultClaimLease  = 30 * time.Second
	defaultMaxAttempts = 8
)

type Verifier interface {
	Verify(ctx context.Context, req core.InboundRequest) error
}

type DeliveryIDExtractor func(req core.InboundRequest) (string, error)

type Handler interface {
	Handle(ctx context.Context, req core.InboundRequest) (core.InboundResult, error)
}

// Processor runs one Twilio callback through signature verification, the
// delivery ledger and the handler. Twilio retries a callback that does not
// get a 2xx, so a delivery already processed answers 200 without running the
// handler again.
type Processor struct {
	Verifier    Verifier
	Ledger      DeliveryLedger
	Handler     Handler
	ExtractID   DeliveryIDExtractor
	RetryPolicy RetryPolicy
	ClaimLease  time.Duration
	MaxAttempts int
	Now         func() time.Time
	Logger      glog.Logger
}

// NewProcessor dedupes on the inbound MessageSid unless ExtractID is replaced.
func NewProcessor(verifier Verifier, ledger DeliveryLedger, handler Handler) *Processor {
	return &Processor{
		Verifier:    verifier,
		Ledger:      ledger,
		Handler:     handler,
		ExtractID:   twilioMessageDeliveryID,
		RetryPolicy: ExponentialRetryPolicy{},
		ClaimLease:  defaultClaimLease,
		MaxAttempts: defaultMaxAttempts,
		Logger:      glog.Nop(),
	}
}

func (p *Processor) Process(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	if p == nil || p.Handler == nil || p.Ledger == nil {
		return core.InboundResult{}, fmt.Errorf("webhooks: processor requires handler and ledger")
	}
	req.ProviderID = strings.TrimSpace(req.ProviderID)
	if req.ProviderID == "" {
		return core.InboundResult{}, core.BadInput("webhooks: provider id is required", nil)
	}
	log := glog.Ensure(p.Logger)

	if err := p.verify(ctx, req); err != nil {
		log.Warn("webhook rejected", "provider_id", req.ProviderID, "surface", req.Surface, "error", err)
		return core.InboundResult{
			StatusCode: http.StatusUnauthorized,
			Metadata:   map[string]any{"provider_id": req.ProviderID, "rejected": true},
		}, core.WrapError(err, goerrors.CategoryAuth, "webhooks: signature verification failed", map[string]any{
			"provider_id": req.ProviderID,
		})
	}

	extract := p.ExtractID
	if extract == nil {
		extract = twilioMessageDeliveryID
	}
	deliveryID, err := extract(req)
	if err != nil {
		return core.InboundResult{}, core.WrapError(err, goerrors.CategoryBadInput, "webhooks: callback has no delivery id", map[string]any{
			"provider_id": req.ProviderID,
			"surface":     req.Surface,
		})
	}

	lease := p.ClaimLease
	if lease <= 0 {
		lease = defaultClaimLease
	}
	claim, claimed, err := p.Ledger.Claim(ctx, req.ProviderID, deliveryID, req.Body, lease)
	if err != nil {
		return core.InboundResult{}, err
	}
	if !claimed {
		return p.unclaimed(req, claim)
	}

	result, err := p.Handler.Handle(ctx, req)
	if err == nil && (!result.Accepted || result.StatusCode >= http.StatusInternalServerError) {
		err = fmt.Errorf("webhooks: handler answered %d for delivery %s", result.StatusCode, deliveryID)
	}
	if err != nil {
		log.Warn("webhook handler failed", "provider_id", req.ProviderID, "delivery_id", deliveryID, "attempt", claim.Attempts, "error", err)
		p.release(ctx, claim, err)
		return result, err
	}

	if err := p.Ledger.Complete(ctx, claim.ClaimID); err != nil {
		return core.InboundResult{}, err
	}
	if result.Metadata == nil {
		result.Metadata = map[string]any{}
	}
	result.Metadata["provider_id"] = req.ProviderID
	result.Metadata["delivery_id"] = deliveryID
	return result, nil
}

// unclaimed answers a delivery the ledger would not hand out. Only a settled
// record is acknowledged; one still inside another attempt's lease gets a
// 409 so the provider redelivers later.
func (p *Processor) unclaimed(req core.InboundRequest, record DeliveryRecord) (core.InboundResult, error) {
	meta := map[string]any{
		"provider_id": req.ProviderID,
		"delivery_id": record.DeliveryID,
		"status":      record.Status,
	}
	switch record.Status {
	case DeliveryStatusProcessed, DeliveryStatusDead:
		glog.Ensure(p.Logger).Debug("webhook delivery already seen", "provider_id", req.ProviderID, "delivery_id", record.DeliveryID, "status", record.Status)
		meta["deduped"] = true
		return core.InboundResult{Accepted: true, StatusCode: http.StatusOK, Metadata: meta}, nil
	}

	wait := time.Second
	if record.NextAttemptAt != nil {
		wait = max(record.NextAttemptAt.Sub(p.now()), time.Second)
	}
	meta[MetadataRetryAfter] = wait
	return core.InboundResult{StatusCode: http.StatusConflict, Metadata: meta}, core.NewError(
		"webhooks: delivery is being processed by another attempt",
		goerrors.CategoryConflict,
		map[string]any{"provider_id": req.ProviderID, "delivery_id": record.DeliveryID},
	)
}

func (p *Processor) verify(ctx context.Context, req core.InboundRequest) error {
	if p.Verifier == nil {
		return nil
	}
	return p.Verifier.Verify(ctx, req)
}

// release hands a failed claim back to the ledger with its next retry time.
// A ledger error here is logged; the handler error is what the caller sees.
func (p *Processor) release(ctx context.Context, claim DeliveryRecord, cause error) {
	policy := p.RetryPolicy
	if policy == nil {
		policy = ExponentialRetryPolicy{}
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	next := p.now().Add(policy.NextDelay(claim.Attempts))
	if err := p.Ledger.Fail(ctx, claim.ClaimID, cause, next, maxAttempts); err != nil {
		glog.Ensure(p.Logger).Error("webhook delivery release failed", "claim_id", claim.ClaimID, "error", err)
	}
}

func (p *Processor) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func twilioMessageDeliveryID(req core.InboundRequest) (string, error) {
	return NewTwilioWebhookTemplate("").Extractor(req)
}

func headerValue(headers map[string]string, key string) string {
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), key) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
