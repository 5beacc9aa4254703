package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-relay/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const defaultMessageListLimit = 50

// MessageStore keeps one row per message SID holding its latest known status.
type MessageStore struct {
	db   *bun.DB
	repo repository.Repository[*messageRecord]
}

func NewMessageStore(db *bun.DB) (*MessageStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*messageRecord](db, messageHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid message repository wiring: %w", err)
		}
	}
	return &MessageStore{db: db, repo: repo}, nil
}

// RecordMessage upserts by SID. Empty fields in an update keep the stored
// value, so a status callback does not erase the body of a sent message.
func (s *MessageStore) RecordMessage(ctx context.Context, record core.MessageRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: message store is not configured")
	}
	sid := strings.TrimSpace(record.SID)
	if sid == "" {
		return core.BadInput("sqlstore: message sid is required", nil)
	}
	now := time.Now().UTC()
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = now
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing := &messageRecord{}
		err := tx.NewSelect().
			Model(existing).
			Where("?TableAlias.sid = ?", sid).
			Limit(1).
			Scan(ctx)
		if err != nil && !isNoRows(err) {
			return err
		}
		if isNoRows(err) {
			created := messageFromDomain(record)
			created.ID = uuid.NewString()
			created.SID = sid
			if created.CreatedAt.IsZero() {
				created.CreatedAt = now
			}
			_, createErr := s.repo.CreateTx(ctx, tx, created)
			return createErr
		}

		mergeMessage(existing, record)
		_, updateErr := tx.NewUpdate().
			Model(existing).
			Where("id = ?", existing.ID).
			Exec(ctx)
		return updateErr
	})
}

func (s *MessageStore) Get(ctx context.Context, sid string) (core.MessageRecord, error) {
	if s == nil || s.db == nil {
		return core.MessageRecord{}, fmt.Errorf("sqlstore: message store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("sid", "=", strings.TrimSpace(sid)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.MessageRecord{}, err
	}
	if len(records) == 0 {
		return core.MessageRecord{}, core.NotFound("sqlstore: message not found", map[string]any{"sid": sid})
	}
	return records[0].toDomain(), nil
}

type MessageFilter = core.MessageFilter

// ListRecent returns stored messages newest first.
func (s *MessageStore) ListRecent(ctx context.Context, filter MessageFilter) ([]core.MessageRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: message store is not configured")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultMessageListLimit
	}
	records := []*messageRecord{}
	query := s.db.NewSelect().Model(&records)
	if address := strings.TrimSpace(filter.Address); address != "" {
		query = query.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("?TableAlias.from_address = ?", address).
				WhereOr("?TableAlias.to_address = ?", address)
		})
	}
	if !filter.Since.IsZero() {
		query = query.Where("?TableAlias.created_at >= ?", filter.Since.UTC())
	}
	if err := query.
		OrderExpr("?TableAlias.created_at DESC").
		Limit(limit).
		Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]core.MessageRecord, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func messageFromDomain(record core.MessageRecord) *messageRecord {
	return &messageRecord{
		SID:          strings.TrimSpace(record.SID),
		AccountSID:   strings.TrimSpace(record.AccountSID),
		Direction:    strings.TrimSpace(record.Direction),
		FromAddress:  strings.TrimSpace(record.From),
		ToAddress:    strings.TrimSpace(record.To),
		Body:         record.Body,
		Status:       strings.TrimSpace(record.Status),
		ErrorCode:    record.ErrorCode,
		ErrorMessage: record.ErrorMessage,
		NumMedia:     record.NumMedia,
		SentAt:       copyTimePointer(record.SentAt),
		CreatedAt:    record.CreatedAt.UTC(),
		UpdatedAt:    record.UpdatedAt.UTC(),
	}
}

func mergeMessage(existing *messageRecord, update core.MessageRecord) {
	setIfPresent := func(dst *string, value string) {
		if strings.TrimSpace(value) != "" {
			*dst = strings.TrimSpace(value)
		}
	}
	setIfPresent(&existing.AccountSID, update.AccountSID)
	setIfPresent(&existing.Direction, update.Direction)
	setIfPresent(&existing.FromAddress, update.From)
	setIfPresent(&existing.ToAddress, update.To)
	setIfPresent(&existing.Status, update.Status)
	setIfPresent(&existing.ErrorMessage, update.ErrorMessage)
	if update.Body != "" {
		existing.Body = update.Body
	}
	if update.ErrorCode != 0 {
		existing.ErrorCode = update.ErrorCode
	}
	if update.NumMedia > existing.NumMedia {
		existing.NumMedia = update.NumMedia
	}
	if update.SentAt != nil {
		existing.SentAt = copyTimePointer(update.SentAt)
	}
	existing.UpdatedAt = update.UpdatedAt.UTC()
}

func (r *messageRecord) toDomain() core.MessageRecord {
	if r == nil {
		return core.MessageRecord{}
	}
	return core.MessageRecord{
		SID:          r.SID,
		AccountSID:   r.AccountSID,
		Direction:    r.Direction,
		From:         r.FromAddress,
		To:           r.ToAddress,
		Body:         r.Body,
		Status:       r.Status,
		ErrorCode:    r.ErrorCode,
		ErrorMessage: r.ErrorMessage,
		NumMedia:     r.NumMedia,
		SentAt:       copyTimePointer(r.SentAt),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

var _ core.MessageRecorder = (*MessageStore)(nil)
