package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-relay/core"
	"github.com/goliatone/go-relay/webhooks"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// WebhookDeliveryStore is a durable webhooks.DeliveryLedger. A claim is only
// granted when the row is new, due for retry, or its processing lease lapsed.
type WebhookDeliveryStore struct {
	db   *bun.DB
	repo repository.Repository[*webhookDeliveryRecord]
	Now  func() time.Time
}

func NewWebhookDeliveryStore(db *bun.DB) (*WebhookDeliveryStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*webhookDeliveryRecord](db, webhookDeliveryHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid webhook delivery repository wiring: %w", err)
		}
	}
	return &WebhookDeliveryStore{
		db:   db,
		repo: repo,
	}, nil
}

func (s *WebhookDeliveryStore) Claim(
	ctx context.Context,
	providerID string,
	deliveryID string,
	payload []byte,
	lease time.Duration,
) (webhooks.DeliveryRecord, bool, error) {
	if s == nil || s.db == nil {
		return webhooks.DeliveryRecord{}, false, fmt.Errorf("sqlstore: webhook delivery store is not configured")
	}
	providerID = strings.TrimSpace(providerID)
	deliveryID = strings.TrimSpace(deliveryID)
	if providerID == "" || deliveryID == "" {
		return webhooks.DeliveryRecord{}, false, core.BadInput("sqlstore: provider id and delivery id are required", nil)
	}
	if lease <= 0 {
		lease = 30 * time.Second
	}
	now := s.now()
	leaseUntil := now.Add(lease)

	var (
		out     webhooks.DeliveryRecord
		claimed bool
	)
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := findDeliveryTx(ctx, tx, providerID, deliveryID)
		if err != nil {
			return err
		}
		if record == nil {
			record = &webhookDeliveryRecord{
				ID:            uuid.NewString(),
				ProviderID:    providerID,
				DeliveryID:    deliveryID,
				Status:        webhooks.DeliveryStatusProcessing,
				Attempts:      1,
				NextAttemptAt: &leaseUntil,
				Payload:       append([]byte(nil), payload...),
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if _, err := s.repo.CreateTx(ctx, tx, record); err != nil {
				return err
			}
			out, claimed = deliveryToDomain(record), true
			return nil
		}
		if !claimableRecord(record, now) {
			out = deliveryToDomain(record)
			return nil
		}

		res, err := tx.NewUpdate().
			Model((*webhookDeliveryRecord)(nil)).
			Set("status = ?", webhooks.DeliveryStatusProcessing).
			Set("attempts = ?", record.Attempts+1).
			Set("next_attempt_at = ?", leaseUntil).
			Set("updated_at = ?", now).
			Where("id = ?", record.ID).
			Where("attempts = ?", record.Attempts).
			Exec(ctx)
		if err != nil {
			return err
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			out = deliveryToDomain(record)
			return nil
		}
		record.Status = webhooks.DeliveryStatusProcessing
		record.Attempts++
		record.NextAttemptAt = &leaseUntil
		record.UpdatedAt = now
		out, claimed = deliveryToDomain(record), true
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			existing, getErr := s.Get(ctx, providerID, deliveryID)
			if getErr != nil {
				return webhooks.DeliveryRecord{}, false, getErr
			}
			return existing, false, nil
		}
		return webhooks.DeliveryRecord{}, false, err
	}
	return out, claimed, nil
}

func (s *WebhookDeliveryStore) Get(
	ctx context.Context,
	providerID string,
	deliveryID string,
) (webhooks.DeliveryRecord, error) {
	if s == nil || s.db == nil {
		return webhooks.DeliveryRecord{}, fmt.Errorf("sqlstore: webhook delivery store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("provider_id", "=", strings.TrimSpace(providerID)),
		repository.SelectBy("delivery_id", "=", strings.TrimSpace(deliveryID)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return webhooks.DeliveryRecord{}, err
	}
	if len(records) == 0 {
		return webhooks.DeliveryRecord{}, core.NotFound("sqlstore: webhook delivery not found", map[string]any{
			"provider_id": providerID,
			"delivery_id": deliveryID,
		})
	}
	return deliveryToDomain(records[0]), nil
}

func (s *WebhookDeliveryStore) Complete(ctx context.Context, claimID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: webhook delivery store is not configured")
	}
	providerID, deliveryID, attempt, err := splitClaimID(claimID)
	if err != nil {
		return err
	}
	_, err = s.db.NewUpdate().
		Model((*webhookDeliveryRecord)(nil)).
		Set("status = ?", webhooks.DeliveryStatusProcessed).
		Set("next_attempt_at = NULL").
		Set("last_error = ''").
		Set("updated_at = ?", s.now()).
		Where("provider_id = ?", providerID).
		Where("delivery_id = ?", deliveryID).
		Where("status = ?", webhooks.DeliveryStatusProcessing).
		Where("attempts = ?", attempt).
		Exec(ctx)
	return err
}

func (s *WebhookDeliveryStore) Fail(
	ctx context.Context,
	claimID string,
	cause error,
	nextAttemptAt time.Time,
	maxAttempts int,
) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: webhook delivery store is not configured")
	}
	providerID, deliveryID, attempt, err := splitClaimID(claimID)
	if err != nil {
		return err
	}
	if maxAttempts <= 0 {
		maxAttempts = 8
	}
	lastError := ""
	if cause != nil {
		lastError = cause.Error()
	}
	now := s.now()

	query := s.db.NewUpdate().
		Model((*webhookDeliveryRecord)(nil)).
		Set("last_error = ?", lastError).
		Set("updated_at = ?", now)
	if attempt >= maxAttempts {
		query = query.
			Set("status = ?", webhooks.DeliveryStatusDead).
			Set("next_attempt_at = NULL")
	} else {
		if nextAttemptAt.IsZero() {
			nextAttemptAt = now
		}
		query = query.
			Set("status = ?", webhooks.DeliveryStatusRetryReady).
			Set("next_attempt_at = ?", nextAttemptAt.UTC())
	}
	_, err = query.
		Where("provider_id = ?", providerID).
		Where("delivery_id = ?", deliveryID).
		Where("status = ?", webhooks.DeliveryStatusProcessing).
		Where("attempts = ?", attempt).
		Exec(ctx)
	return err
}

// Prune deletes settled deliveries last updated before cutoff.
func (s *WebhookDeliveryStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: webhook delivery store is not configured")
	}
	res, err := s.db.NewDelete().
		Model((*webhookDeliveryRecord)(nil)).
		Where("status IN (?)", bun.In([]string{webhooks.DeliveryStatusProcessed, webhooks.DeliveryStatusDead})).
		Where("updated_at < ?", cutoff.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *WebhookDeliveryStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func findDeliveryTx(ctx context.Context, tx bun.Tx, providerID string, deliveryID string) (*webhookDeliveryRecord, error) {
	record := &webhookDeliveryRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.provider_id = ?", providerID).
		Where("?TableAlias.delivery_id = ?", deliveryID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

func claimableRecord(record *webhookDeliveryRecord, now time.Time) bool {
	switch record.Status {
	case webhooks.DeliveryStatusProcessed, webhooks.DeliveryStatusDead:
		return false
	case webhooks.DeliveryStatusProcessing:
		if record.NextAttemptAt != nil && now.Before(record.NextAttemptAt.UTC()) {
			return false
		}
	}
	return true
}

// splitClaimID reverses the "<provider>:<delivery>:<attempt>" claim id. The
// provider id never contains a colon; the delivery id may.
func splitClaimID(claimID string) (string, string, int, error) {
	key, attempt, err := webhooks.ParseClaimID(claimID)
	if err != nil {
		return "", "", 0, core.BadInput(err.Error(), map[string]any{"claim_id": claimID})
	}
	providerID, deliveryID, ok := strings.Cut(key, ":")
	if !ok || providerID == "" || deliveryID == "" {
		return "", "", 0, core.BadInput("sqlstore: invalid claim id", map[string]any{"claim_id": claimID})
	}
	return providerID, deliveryID, attempt, nil
}

func deliveryToDomain(record *webhookDeliveryRecord) webhooks.DeliveryRecord {
	if record == nil {
		return webhooks.DeliveryRecord{}
	}
	result := webhooks.DeliveryRecord{
		ID:         record.ID,
		ProviderID: record.ProviderID,
		DeliveryID: record.DeliveryID,
		Status:     record.Status,
		Attempts:   record.Attempts,
		CreatedAt:  record.CreatedAt,
		UpdatedAt:  record.UpdatedAt,
	}
	if record.Status == webhooks.DeliveryStatusProcessing {
		result.ClaimID = record.ProviderID + ":" + record.DeliveryID + ":" + strconv.Itoa(record.Attempts)
	}
	if record.NextAttemptAt != nil {
		value := *record.NextAttemptAt
		result.NextAttemptAt = &value
	}
	return result
}

var _ webhooks.DeliveryLedger = (*WebhookDeliveryStore)(nil)
