package query

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/goliatone/go-relay/core"
	"github.com/goliatone/go-relay/twilio"
)

func TestWaitForFinalStatusQuery_QueryDelegates(t *testing.T) {
	called := false
	reader := stubMessageReader{
		waitFn: func(_ context.Context, sid string, opts twilio.StatusWaitOptions) (twilio.Message, error) {
			called = true
			if sid != "SM1" || opts.Timeout != 5*time.Second {
				t.Fatalf("unexpected wait request: %q %#v", sid, opts)
			}
			return twilio.Message{SID: "SM1", Status: "delivered"}, nil
		},
	}

	result, err := NewWaitForFinalStatusQuery(reader).Query(context.Background(), WaitForFinalStatusMessage{
		SID:     "SM1",
		Options: twilio.StatusWaitOptions{Timeout: 5 * time.Second},
	})
	if err != nil {
		t.Fatalf("query wait for status: %v", err)
	}
	if !called {
		t.Fatalf("expected message reader invocation")
	}
	if result.Status != "delivered" {
		t.Fatalf("unexpected status %q", result.Status)
	}
}

func TestMessageQueries_DelegateToReader(t *testing.T) {
	reader := stubMessageReader{
		fetchFn: func(_ context.Context, sid string) (twilio.Message, error) {
			return twilio.Message{SID: sid, Status: "sent"}, nil
		},
		listFn: func(_ context.Context, opts twilio.ListOptions) ([]twilio.Message, error) {
			if opts.Limit != 2 || !opts.InboundOnly {
				t.Fatalf("unexpected list options: %#v", opts)
			}
			return []twilio.Message{{SID: "SM2"}, {SID: "SM1"}}, nil
		},
	}

	msg, err := NewFetchMessageQuery(reader).Query(context.Background(), FetchMessageMessage{SID: "SM7"})
	if err != nil || msg.SID != "SM7" {
		t.Fatalf("unexpected fetch result: %#v %v", msg, err)
	}

	list, err := NewListRecentMessagesQuery(reader).Query(context.Background(), ListRecentMessagesMessage{
		Options: twilio.ListOptions{Limit: 2, InboundOnly: true},
	})
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(list) != 2 || list[0].SID != "SM2" {
		t.Fatalf("unexpected list result: %#v", list)
	}

	if _, err := NewListRecentMessagesQuery(reader).Query(context.Background(), ListRecentMessagesMessage{
		Options: twilio.ListOptions{Limit: -1},
	}); err == nil {
		t.Fatalf("expected negative limit to be rejected")
	}
}

func TestListStoredMessagesQuery_ReadsHistory(t *testing.T) {
	history := stubHistory{
		listFn: func(_ context.Context, filter core.MessageFilter) ([]core.MessageRecord, error) {
			if filter.Address != "whatsapp:+15550001111" || filter.Limit != 10 {
				t.Fatalf("unexpected filter: %#v", filter)
			}
			return []core.MessageRecord{{SID: "SM1", Status: "delivered"}}, nil
		},
	}
	records, err := NewListStoredMessagesQuery(history).Query(context.Background(), ListStoredMessagesMessage{
		Filter: core.MessageFilter{Address: "whatsapp:+15550001111", Limit: 10},
	})
	if err != nil {
		t.Fatalf("list stored: %v", err)
	}
	if len(records) != 1 || records[0].SID != "SM1" {
		t.Fatalf("unexpected records: %#v", records)
	}

	var missing *ListStoredMessagesQuery
	if _, err := missing.Query(context.Background(), ListStoredMessagesMessage{}); err == nil {
		t.Fatalf("expected dependency error without history")
	}
}

func TestSenderQueries_DelegateToDirectory(t *testing.T) {
	directory := stubDirectory{
		senderFn: func(_ context.Context, from string, explicit string) (string, error) {
			if from != "whatsapp:+15550001111" || explicit != "" {
				t.Fatalf("unexpected sender lookup: %q %q", from, explicit)
			}
			return "XE1", nil
		},
		numberFn: func(_ context.Context, phone string) (string, error) {
			return "PN1", nil
		},
		serviceFn: func(_ context.Context, phone string) (string, error) {
			return "", fmt.Errorf("no messaging service owns %s", phone)
		},
	}

	sid, err := NewFindWhatsappSenderSidQuery(directory).Query(context.Background(), FindWhatsappSenderSidMessage{From: "whatsapp:+15550001111"})
	if err != nil || sid != "XE1" {
		t.Fatalf("unexpected sender sid: %q %v", sid, err)
	}
	sid, err = NewFindIncomingNumberSidQuery(directory).Query(context.Background(), FindIncomingNumberSidMessage{PhoneNumber: "+15550001111"})
	if err != nil || sid != "PN1" {
		t.Fatalf("unexpected number sid: %q %v", sid, err)
	}
	if _, err := NewFindMessagingServiceSidQuery(directory).Query(context.Background(), FindMessagingServiceSidMessage{PhoneNumber: "+15550001111"}); err == nil {
		t.Fatalf("expected directory error to propagate")
	}
	if _, err := NewFindIncomingNumberSidQuery(directory).Query(context.Background(), FindIncomingNumberSidMessage{PhoneNumber: "whatsapp:"}); err == nil {
		t.Fatalf("expected empty number to be rejected")
	}
}

type stubMessageReader struct {
	fetchFn func(context.Context, string) (twilio.Message, error)
	waitFn  func(context.Context, string, twilio.StatusWaitOptions) (twilio.Message, error)
	listFn  func(context.Context, twilio.ListOptions) ([]twilio.Message, error)
}

func (s stubMessageReader) FetchMessage(ctx context.Context, sid string) (twilio.Message, error) {
	if s.fetchFn != nil {
		return s.fetchFn(ctx, sid)
	}
	return twilio.Message{}, nil
}

func (s stubMessageReader) WaitForFinalStatus(ctx context.Context, sid string, opts twilio.StatusWaitOptions) (twilio.Message, error) {
	if s.waitFn != nil {
		return s.waitFn(ctx, sid, opts)
	}
	return twilio.Message{}, nil
}

func (s stubMessageReader) ListRecentMessages(ctx context.Context, opts twilio.ListOptions) ([]twilio.Message, error) {
	if s.listFn != nil {
		return s.listFn(ctx, opts)
	}
	return nil, nil
}

type stubHistory struct {
	listFn func(context.Context, core.MessageFilter) ([]core.MessageRecord, error)
}

func (s stubHistory) ListRecent(ctx context.Context, filter core.MessageFilter) ([]core.MessageRecord, error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return nil, nil
}

type stubDirectory struct {
	senderFn  func(context.Context, string, string) (string, error)
	numberFn  func(context.Context, string) (string, error)
	serviceFn func(context.Context, string) (string, error)
}

func (s stubDirectory) FindWhatsappSenderSid(ctx context.Context, from string, explicitSid string) (string, error) {
	if s.senderFn != nil {
		return s.senderFn(ctx, from, explicitSid)
	}
	return "", nil
}

func (s stubDirectory) FindIncomingNumberSid(ctx context.Context, phoneNumber string) (string, error) {
	if s.numberFn != nil {
		return s.numberFn(ctx, phoneNumber)
	}
	return "", nil
}

func (s stubDirectory) FindMessagingServiceSid(ctx context.Context, phoneNumber string) (string, error) {
	if s.serviceFn != nil {
		return s.serviceFn(ctx, phoneNumber)
	}
	return "", nil
}
