package query

import (
	"context"

	"github.com/goliatone/go-relay/core"
	"github.com/goliatone/go-relay/twilio"
)

type MessageReader interface {
	FetchMessage(ctx context.Context, sid string) (twilio.Message, error)
	WaitForFinalStatus(ctx context.Context, sid string, opts twilio.StatusWaitOptions) (twilio.Message, error)
	ListRecentMessages(ctx context.Context, opts twilio.ListOptions) ([]twilio.Message, error)
}

// SenderDirectory resolves the provider resources that own a phone number.
type SenderDirectory interface {
	FindWhatsappSenderSid(ctx context.Context, from string, explicitSid string) (string, error)
	FindIncomingNumberSid(ctx context.Context, phoneNumber string) (string, error)
	FindMessagingServiceSid(ctx context.Context, phoneNumber string) (string, error)
}

type FetchMessageQuery struct {
	reader MessageReader
}

func NewFetchMessageQuery(reader MessageReader) *FetchMessageQuery {
	return &FetchMessageQuery{reader: reader}
}

func (q *FetchMessageQuery) Query(ctx context.Context, msg FetchMessageMessage) (twilio.Message, error) {
	if q == nil || q.reader == nil {
		return twilio.Message{}, core.MissingDependency("query: message reader is required")
	}
	if err := msg.Validate(); err != nil {
		return twilio.Message{}, err
	}
	return q.reader.FetchMessage(ctx, msg.SID)
}

type WaitForFinalStatusQuery struct {
	reader MessageReader
}

func NewWaitForFinalStatusQuery(reader MessageReader) *WaitForFinalStatusQuery {
	return &WaitForFinalStatusQuery{reader: reader}
}

func (q *WaitForFinalStatusQuery) Query(ctx context.Context, msg WaitForFinalStatusMessage) (twilio.Message, error) {
	if q == nil || q.reader == nil {
		return twilio.Message{}, core.MissingDependency("query: message reader is required")
	}
	if err := msg.Validate(); err != nil {
		return twilio.Message{}, err
	}
	return q.reader.WaitForFinalStatus(ctx, msg.SID, msg.Options)
}

type ListRecentMessagesQuery struct {
	reader MessageReader
}

func NewListRecentMessagesQuery(reader MessageReader) *ListRecentMessagesQuery {
	return &ListRecentMessagesQuery{reader: reader}
}

func (q *ListRecentMessagesQuery) Query(ctx context.Context, msg ListRecentMessagesMessage) ([]twilio.Message, error) {
	if q == nil || q.reader == nil {
		return nil, core.MissingDependency("query: message reader is required")
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return q.reader.ListRecentMessages(ctx, msg.Options)
}

type ListStoredMessagesQuery struct {
	history core.MessageHistory
}

func NewListStoredMessagesQuery(history core.MessageHistory) *ListStoredMessagesQuery {
	return &ListStoredMessagesQuery{history: history}
}

func (q *ListStoredMessagesQuery) Query(ctx context.Context, msg ListStoredMessagesMessage) ([]core.MessageRecord, error) {
	if q == nil || q.history == nil {
		return nil, core.MissingDependency("query: message history is required")
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return q.history.ListRecent(ctx, msg.Filter)
}

type FindWhatsappSenderSidQuery struct {
	directory SenderDirectory
}

func NewFindWhatsappSenderSidQuery(directory SenderDirectory) *FindWhatsappSenderSidQuery {
	return &FindWhatsappSenderSidQuery{directory: directory}
}

func (q *FindWhatsappSenderSidQuery) Query(ctx context.Context, msg FindWhatsappSenderSidMessage) (string, error) {
	if q == nil || q.directory == nil {
		return "", core.MissingDependency("query: sender directory is required")
	}
	if err := msg.Validate(); err != nil {
		return "", err
	}
	return q.directory.FindWhatsappSenderSid(ctx, msg.From, msg.ExplicitSID)
}

type FindIncomingNumberSidQuery struct {
	directory SenderDirectory
}

func NewFindIncomingNumberSidQuery(directory SenderDirectory) *FindIncomingNumberSidQuery {
	return &FindIncomingNumberSidQuery{directory: directory}
}

func (q *FindIncomingNumberSidQuery) Query(ctx context.Context, msg FindIncomingNumberSidMessage) (string, error) {
	if q == nil || q.directory == nil {
		return "", core.MissingDependency("query: sender directory is required")
	}
	if err := msg.Validate(); err != nil {
		return "", err
	}
	return q.directory.FindIncomingNumberSid(ctx, msg.PhoneNumber)
}

type FindMessagingServiceSidQuery struct {
	directory SenderDirectory
}

func NewFindMessagingServiceSidQuery(directory SenderDirectory) *FindMessagingServiceSidQuery {
	return &FindMessagingServiceSidQuery{directory: directory}
}

func (q *FindMessagingServiceSidQuery) Query(ctx context.Context, msg FindMessagingServiceSidMessage) (string, error) {
	if q == nil || q.directory == nil {
		return "", core.MissingDependency("query: sender directory is required")
	}
	if err := msg.Validate(); err != nil {
		return "", err
	}
	return q.directory.FindMessagingServiceSid(ctx, msg.PhoneNumber)
}
