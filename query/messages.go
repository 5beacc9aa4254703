package query

import (
	"strings"

	"github.com/goliatone/go-relay/core"
	"github.com/goliatone/go-relay/twilio"
)

const (
	TypeFetchMessage            = "relay.query.message.fetch"
	TypeWaitForFinalStatus      = "relay.query.message.wait_status"
	TypeListRecentMessages      = "relay.query.message.list_recent"
	TypeListStoredMessages      = "relay.query.message.list_stored"
	TypeFindWhatsappSenderSid   = "relay.query.sender.whatsapp"
	TypeFindIncomingNumberSid   = "relay.query.sender.incoming_number"
	TypeFindMessagingServiceSid = "relay.query.sender.messaging_service"
)

type FetchMessageMessage struct {
	SID string
}

func (FetchMessageMessage) Type() string { return TypeFetchMessage }

func (m FetchMessageMessage) Validate() error {
	if strings.TrimSpace(m.SID) == "" {
		return core.InvalidField("query", "sid", "message sid is required")
	}
	return nil
}

type WaitForFinalStatusMessage struct {
	SID     string
	Options twilio.StatusWaitOptions
}

func (WaitForFinalStatusMessage) Type() string { return TypeWaitForFinalStatus }

func (m WaitForFinalStatusMessage) Validate() error {
	if strings.TrimSpace(m.SID) == "" {
		return core.InvalidField("query", "sid", "message sid is required")
	}
	if m.Options.Timeout < 0 || m.Options.PollInterval < 0 {
		return core.InvalidField("query", "options", "wait durations must not be negative")
	}
	return nil
}

type ListRecentMessagesMessage struct {
	Options twilio.ListOptions
}

func (ListRecentMessagesMessage) Type() string { return TypeListRecentMessages }

func (m ListRecentMessagesMessage) Validate() error {
	if m.Options.Limit < 0 {
		return core.InvalidField("query", "limit", "limit must not be negative")
	}
	if m.Options.Lookback < 0 {
		return core.InvalidField("query", "lookback", "lookback must not be negative")
	}
	return nil
}

type ListStoredMessagesMessage struct {
	Filter core.MessageFilter
}

func (ListStoredMessagesMessage) Type() string { return TypeListStoredMessages }

func (m ListStoredMessagesMessage) Validate() error {
	if m.Filter.Limit < 0 {
		return core.InvalidField("query", "limit", "limit must not be negative")
	}
	return nil
}

type FindWhatsappSenderSidMessage struct {
	From        string
	ExplicitSID string
}

func (FindWhatsappSenderSidMessage) Type() string { return TypeFindWhatsappSenderSid }

func (m FindWhatsappSenderSidMessage) Validate() error {
	if strings.TrimSpace(m.From) == "" && strings.TrimSpace(m.ExplicitSID) == "" {
		return core.InvalidField("query", "from", "sender number or explicit sid is required")
	}
	return nil
}

type FindIncomingNumberSidMessage struct {
	PhoneNumber string
}

func (FindIncomingNumberSidMessage) Type() string { return TypeFindIncomingNumberSid }

func (m FindIncomingNumberSidMessage) Validate() error {
	return validatePhoneNumber(m.PhoneNumber)
}

type FindMessagingServiceSidMessage struct {
	PhoneNumber string
}

func (FindMessagingServiceSidMessage) Type() string { return TypeFindMessagingServiceSid }

func (m FindMessagingServiceSidMessage) Validate() error {
	return validatePhoneNumber(m.PhoneNumber)
}

func validatePhoneNumber(number string) error {
	if strings.TrimSpace(twilio.BareNumber(number)) == "" {
		return core.InvalidField("query", "phone_number", "phone number is required")
	}
	return nil
}
