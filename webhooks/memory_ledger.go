package webhooks

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MemoryDeliveryLedger keeps delivery claims in process memory. Records live
// until Prune removes them, so a restarted server forgets prior deliveries.
type MemoryDeliveryLedger struct {
	mu      sync.Mutex
	records map[string]DeliveryRecord
	Now     func() time.Time
}

func NewMemoryDeliveryLedger() *MemoryDeliveryLedger {
	return &MemoryDeliveryLedger{
		records: map[string]DeliveryRecord{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (l *MemoryDeliveryLedger) Claim(
	_ context.Context,
	providerID string,
	deliveryID string,
	_ []byte,
	lease time.Duration,
) (DeliveryRecord, bool, error) {
	if l == nil {
		return DeliveryRecord{}, false, fmt.Errorf("webhooks: delivery ledger is nil")
	}
	providerID = strings.TrimSpace(providerID)
	deliveryID = strings.TrimSpace(deliveryID)
	if providerID == "" || deliveryID == "" {
		return DeliveryRecord{}, false, fmt.Errorf("webhooks: provider id and delivery id are required")
	}
	if lease <= 0 {
		lease = 30 * time.Second
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := ledgerKey(providerID, deliveryID)
	now := l.now()
	record, ok := l.records[key]
	if !ok {
		record = DeliveryRecord{
			ID:         key,
			ProviderID: providerID,
			DeliveryID: deliveryID,
			Status:     DeliveryStatusPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	}
	if !claimable(record, now) {
		return record, false, nil
	}

	record.Status = DeliveryStatusProcessing
	record.Attempts++
	record.ClaimID = key + ":" + strconv.Itoa(record.Attempts)
	next := now.Add(lease)
	record.NextAttemptAt = &next
	record.UpdatedAt = now
	l.records[key] = record
	return record, true, nil
}

func (l *MemoryDeliveryLedger) Get(_ context.Context, providerID string, deliveryID string) (DeliveryRecord, error) {
	if l == nil {
		return DeliveryRecord{}, fmt.Errorf("webhooks: delivery ledger is nil")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.records[ledgerKey(providerID, deliveryID)]
	if !ok {
		return DeliveryRecord{}, fmt.Errorf("webhooks: delivery %q not found", deliveryID)
	}
	return record, nil
}

func (l *MemoryDeliveryLedger) Complete(_ context.Context, claimID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key, attempt, err := ParseClaimID(claimID)
	if err != nil {
		return err
	}
	record, ok := l.records[key]
	if !ok {
		return fmt.Errorf("webhooks: delivery not found for claim %q", claimID)
	}
	if record.Status != DeliveryStatusProcessing || record.Attempts != attempt {
		return nil
	}
	record.Status = DeliveryStatusProcessed
	record.NextAttemptAt = nil
	record.UpdatedAt = l.now()
	l.records[key] = record
	return nil
}

func (l *MemoryDeliveryLedger) Fail(
	_ context.Context,
	claimID string,
	_ error,
	nextAttemptAt time.Time,
	maxAttempts int,
) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key, attempt, err := ParseClaimID(claimID)
	if err != nil {
		return err
	}
	record, ok := l.records[key]
	if !ok {
		return fmt.Errorf("webhooks: delivery not found for claim %q", claimID)
	}
	if record.Status != DeliveryStatusProcessing || record.Attempts != attempt {
		return nil
	}
	if maxAttempts <= 0 {
		maxAttempts = 8
	}
	if record.Attempts >= maxAttempts {
		record.Status = DeliveryStatusDead
		record.NextAttemptAt = nil
	} else {
		record.Status = DeliveryStatusRetryReady
		if nextAttemptAt.IsZero() {
			nextAttemptAt = l.now()
		}
		record.NextAttemptAt = &nextAttemptAt
	}
	record.UpdatedAt = l.now()
	l.records[key] = record
	return nil
}

// Prune drops settled records last touched before cutoff.
func (l *MemoryDeliveryLedger) Prune(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, record := range l.records {
		if record.Status == DeliveryStatusProcessing || record.Status == DeliveryStatusRetryReady {
			continue
		}
		if record.UpdatedAt.Before(cutoff) {
			delete(l.records, key)
			removed++
		}
	}
	return removed
}

func (l *MemoryDeliveryLedger) now() time.Time {
	if l != nil && l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

func claimable(record DeliveryRecord, now time.Time) bool {
	switch record.Status {
	case DeliveryStatusProcessed, DeliveryStatusDead:
		return false
	case DeliveryStatusProcessing:
		if record.NextAttemptAt != nil && now.Before(record.NextAttemptAt.UTC()) {
			return false
		}
	}
	return true
}

func ledgerKey(providerID string, deliveryID string) string {
	return strings.TrimSpace(providerID) + ":" + strings.TrimSpace(deliveryID)
}

// ParseClaimID splits a "<provider>:<delivery>:<attempt>" claim id.
func ParseClaimID(claimID string) (string, int, error) {
	parts := strings.Split(strings.TrimSpace(claimID), ":")
	if len(parts) < 3 {
		return "", 0, fmt.Errorf("webhooks: invalid claim id %q", claimID)
	}
	attempt, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil || attempt <= 0 {
		return "", 0, fmt.Errorf("webhooks: invalid claim id %q", claimID)
	}
	return strings.Join(parts[:len(parts)-1], ":"), attempt, nil
}

var _ DeliveryLedger = (*MemoryDeliveryLedger)(nil)
