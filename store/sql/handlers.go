package sqlstore

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

func webhookDeliveryHandlers() repository.ModelHandlers[*webhookDeliveryRecord] {
	return repository.ModelHandlers[*webhookDeliveryRecord]{
		NewRecord: func() *webhookDeliveryRecord {
			return &webhookDeliveryRecord{}
		},
		GetID: func(record *webhookDeliveryRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *webhookDeliveryRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *webhookDeliveryRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func messageHandlers() repository.ModelHandlers[*messageRecord] {
	return repository.ModelHandlers[*messageRecord]{
		NewRecord: func() *messageRecord {
			return &messageRecord{}
		},
		GetID: func(record *messageRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *messageRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *messageRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func rateLimitStateHandlers() repository.ModelHandlers[*rateLimitStateRecord] {
	return repository.ModelHandlers[*rateLimitStateRecord]{
		NewRecord: func() *rateLimitStateRecord {
			return &rateLimitStateRecord{}
		},
		GetID: func(record *rateLimitStateRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *rateLimitStateRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *rateLimitStateRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func copyTimePointer(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}
