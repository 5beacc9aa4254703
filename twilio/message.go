package twilio

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-relay/core"
)

const (
	StatusQueued      = "queued"
	StatusAccepted    = "accepted"
	StatusSending     = "sending"
	StatusSent        = "sent"
	StatusDelivered   = "delivered"
	StatusRead        = "read"
	StatusFailed      = "failed"
	StatusUndelivered = "undelivered"
	StatusCanceled    = "canceled"
	StatusReceived    = "received"
)

const (
	DirectionInbound = "inbound"
	whatsappPrefix   = "whatsapp:"
	// twilioTimeLayout is the RFC 2822 layout Twilio uses for date fields.
	twilioTimeLayout = time.RFC1123Z
)

// Message is a Twilio message resource.
type Message struct {
	SID          string
	AccountSID   string
	From         string
	To           string
	Body         string
	Status       string
	Direction    string
	NumMedia     int
	ErrorCode    int
	ErrorMessage string
	// MediaURLs is only populated for messages received by the webhook server.
	MediaURLs   []string
	DateCreated *time.Time
	DateSent    *time.Time
	DateUpdated *time.Time
}

// IsTerminal reports whether no further status change is expected.
func (m Message) IsTerminal() bool {
	return IsDeliveredStatus(m.Status) || IsFailedStatus(m.Status)
}

func (m Message) Inbound() bool {
	return strings.EqualFold(strings.TrimSpace(m.Direction), DirectionInbound)
}

// Timestamp is the best date available for ordering.
func (m Message) Timestamp() *time.Time {
	if m.DateCreated != nil {
		return m.DateCreated
	}
	if m.DateSent != nil {
		return m.DateSent
	}
	return m.DateUpdated
}

func IsDeliveredStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case StatusDelivered, StatusRead:
		return true
	}
	return false
}

func IsFailedStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case StatusFailed, StatusUndelivered, StatusCanceled:
		return true
	}
	return false
}

type messageResource struct {
	SID          string  `json:"sid"`
	AccountSID   string  `json:"account_sid"`
	From         string  `json:"from"`
	To           string  `json:"to"`
	Body         string  `json:"body"`
	Status       string  `json:"status"`
	Direction    string  `json:"direction"`
	NumMedia     string  `json:"num_media"`
	ErrorCode    *int    `json:"error_code"`
	ErrorMessage *string `json:"error_message"`
	DateCreated  string  `json:"date_created"`
	DateSent     string  `json:"date_sent"`
	DateUpdated  string  `json:"date_updated"`
}

type messagePage struct {
	Messages    []messageResource `json:"messages"`
	NextPageURI string            `json:"next_page_uri"`
}

func (r messageResource) toMessage() Message {
	msg := Message{
		SID:         strings.TrimSpace(r.SID),
		AccountSID:  strings.TrimSpace(r.AccountSID),
		From:        r.From,
		To:          r.To,
		Body:        r.Body,
		Status:      strings.ToLower(strings.TrimSpace(r.Status)),
		Direction:   strings.TrimSpace(r.Direction),
		DateCreated: parseTwilioTime(r.DateCreated),
		DateSent:    parseTwilioTime(r.DateSent),
		DateUpdated: parseTwilioTime(r.DateUpdated),
	}
	if n, err := strconv.Atoi(strings.TrimSpace(r.NumMedia)); err == nil {
		msg.NumMedia = n
	}
	if r.ErrorCode != nil {
		msg.ErrorCode = *r.ErrorCode
	}
	if r.ErrorMessage != nil {
		msg.ErrorMessage = *r.ErrorMessage
	}
	return msg
}

func decodeMessage(body []byte) (Message, error) {
	var res messageResource
	if err := json.Unmarshal(body, &res); err != nil {
		return Message{}, decodeError("message", err)
	}
	return res.toMessage(), nil
}

func parseTwilioTime(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range []string{twilioTimeLayout, time.RFC3339} {
		if parsed, err := time.Parse(layout, value); err == nil {
			utc := parsed.UTC()
			return &utc
		}
	}
	return nil
}

// toRecord maps a message onto the persisted record shape.
func (m Message) toRecord(now time.Time) core.MessageRecord {
	return core.MessageRecord{
		SID:          m.SID,
		AccountSID:   m.AccountSID,
		Direction:    m.Direction,
		From:         m.From,
		To:           m.To,
		Body:         m.Body,
		Status:       m.Status,
		ErrorCode:    m.ErrorCode,
		ErrorMessage: m.ErrorMessage,
		NumMedia:     m.NumMedia,
		SentAt:       m.DateSent,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// WhatsAppAddress prefixes a bare number with "whatsapp:".
func WhatsAppAddress(number string) string {
	number = strings.TrimSpace(number)
	if number == "" || strings.HasPrefix(strings.ToLower(number), whatsappPrefix) {
		return number
	}
	return whatsappPrefix + number
}

// BareNumber strips a channel prefix such as "whatsapp:".
func BareNumber(address string) string {
	address = strings.TrimSpace(address)
	if idx := strings.Index(address, ":"); idx >= 0 {
		return address[idx+1:]
	}
	return address
}
