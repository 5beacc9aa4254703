package twilio

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestListRecentMessages_MergesDedupesAndSorts(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	fake := newFakeTwilio(t)
	fake.handle("GET "+messagesPath, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("To") != "" {
			_, _ = fmt.Fprintf(w, `{"messages":[
				{"sid":"SM1","direction":"inbound","from":"whatsapp:+1","to":"whatsapp:+15550001111","body":"first","status":"received","date_created":%q},
				{"sid":"SM3","direction":"inbound","from":"whatsapp:+1","to":"whatsapp:+15550001111","body":"third","status":"received","date_created":%q},
				{"sid":"SM0","direction":"inbound","from":"whatsapp:+1","to":"whatsapp:+15550001111","body":"too old","status":"received","date_created":%q}
			]}`, twilioDate(now.Add(-30*time.Minute)), twilioDate(now.Add(-5*time.Minute)), twilioDate(now.Add(-3*time.Hour)))
			return
		}
		_, _ = fmt.Fprintf(w, `{"messages":[
			{"sid":"SM2","direction":"outbound-api","from":"whatsapp:+15550001111","to":"whatsapp:+1","body":"second","status":"delivered","date_created":%q},
			{"sid":"SM3","direction":"inbound","from":"whatsapp:+1","to":"whatsapp:+15550001111","body":"third","status":"received","date_created":%q}
		]}`, twilioDate(now.Add(-10*time.Minute)), twilioDate(now.Add(-5*time.Minute)))
	})
	client := fake.client(t, WithNow(func() time.Time { return now }))

	messages, err := ListRecentMessages(context.Background(), client, ListOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var sids []string
	for _, msg := range messages {
		sids = append(sids, msg.SID)
	}
	if strings.Join(sids, ",") != "SM3,SM2,SM1" {
		t.Fatalf("expected newest first without duplicates, got %v", sids)
	}

	calls := fake.calls(http.MethodGet, messagesPath)
	if len(calls) != 2 {
		t.Fatalf("expected inbound and outbound queries, got %d", len(calls))
	}
	if calls[0].Query.Get("DateSent>") != "2026-10-17" || calls[0].Query.Get("PageSize") != "20" {
		t.Fatalf("unexpected query %v", calls[0].Query)
	}

	limited, err := ListRecentMessages(context.Background(), client, ListOptions{Limit: 1, InboundOnly: true})
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 1 || limited[0].SID != "SM3" {
		t.Fatalf("expected single newest inbound message, got %+v", limited)
	}
}

func TestListRecentMessages_ReturnsProviderError(t *testing.T) {
	fake := newFakeTwilio(t)
	fake.json("GET "+messagesPath, http.StatusUnauthorized, `{"code":20003,"message":"Authenticate","status":401}`)

	_, err := ListRecentMessages(context.Background(), fake.client(t), ListOptions{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != 20003 {
		t.Fatalf("expected authenticate error, got %v", err)
	}
}

func TestFormatMessageLine(t *testing.T) {
	ts := time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)
	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{
			name: "full",
			msg:  Message{From: "whatsapp:+1", To: "whatsapp:+2", Direction: "inbound", Status: "received", Body: "hello\n  there", DateCreated: &ts},
			want: "[2026-10-17T09:30:00Z] inbound whatsapp:+1 -> whatsapp:+2 | received | hello there",
		},
		{
			name: "media without date",
			msg:  Message{From: "a", To: "b", Direction: "outbound-api", Status: "sent", NumMedia: 2},
			want: "[unknown] outbound-api a -> b | sent | (+2 media)",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := FormatMessageLine(tc.msg); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestFormatTwilioError(t *testing.T) {
	if FormatTwilioError(nil) != "" {
		t.Fatalf("expected empty string for nil")
	}
	plain := errors.New("boom")
	if FormatTwilioError(plain) != "boom" {
		t.Fatalf("expected plain error text")
	}
	apiErr := &APIError{Code: 21211, Status: 400, Message: "Invalid 'To' Phone Number", MoreInfo: "https://www.twilio.com/docs/errors/21211"}
	wrapped := fmt.Errorf("send: %w", apiErr.envelope(http.MethodPost, "https://api.twilio.com"))
	want := "code 21211 | status 400 | Invalid 'To' Phone Number | more: https://www.twilio.com/docs/errors/21211"
	if got := FormatTwilioError(wrapped); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if got := FormatTwilioError(&APIError{Status: 503}); got != "status 503" {
		t.Fatalf("expected partial format, got %q", got)
	}
}
