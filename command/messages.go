package command

import (
	"strings"

	"github.com/goliatone/go-relay/core"
	"github.com/goliatone/go-relay/twilio"
)

const (
	TypeSendMessage                = "relay.command.message.send"
	TypeSendTypingIndicator        = "relay.command.message.typing"
	TypeUpdateWebhook              = "relay.command.webhook.update"
	TypeSetMessagingServiceWebhook = "relay.command.webhook.messaging_service"
)

type SendMessageMessage struct {
	To      string
	Body    string
	Options twilio.SendOptions
}

func (SendMessageMessage) Type() string { return TypeSendMessage }

func (m SendMessageMessage) Validate() error {
	if strings.TrimSpace(m.To) == "" {
		return core.InvalidField("command", "to", "destination number is required")
	}
	if strings.TrimSpace(m.Body) == "" && len(m.Options.MediaURLs) == 0 {
		return core.InvalidField("command", "body", "body or media url is required")
	}
	switch strings.ToLower(strings.TrimSpace(m.Options.Channel)) {
	case "", twilio.ChannelWhatsApp, twilio.ChannelSMS:
	default:
		return core.InvalidField("command", "channel", "channel must be whatsapp or sms")
	}
	return nil
}

type SendTypingIndicatorMessage struct {
	MessageSID string
}

func (SendTypingIndicatorMessage) Type() string { return TypeSendTypingIndicator }

func (m SendTypingIndicatorMessage) Validate() error {
	if strings.TrimSpace(m.MessageSID) == "" {
		return core.InvalidField("command", "message_sid", "message sid is required")
	}
	return nil
}

type UpdateWebhookMessage struct {
	Options twilio.UpdateWebhookOptions
}

func (UpdateWebhookMessage) Type() string { return TypeUpdateWebhook }

func (m UpdateWebhookMessage) Validate() error {
	if strings.TrimSpace(m.Options.CallbackURL) == "" {
		return core.InvalidField("command", "callback_url", "callback url is required")
	}
	if err := validateMethod(m.Options.Method); err != nil {
		return err
	}
	return nil
}

type SetMessagingServiceWebhookMessage struct {
	ServiceSID string
	Options    twilio.MessagingServiceWebhookOptions
}

func (SetMessagingServiceWebhookMessage) Type() string { return TypeSetMessagingServiceWebhook }

func (m SetMessagingServiceWebhookMessage) Validate() error {
	if strings.TrimSpace(m.ServiceSID) == "" {
		return core.InvalidField("command", "service_sid", "messaging service sid is required")
	}
	if strings.TrimSpace(m.Options.InboundRequestURL) == "" {
		return core.InvalidField("command", "inbound_request_url", "inbound request url is required")
	}
	return validateMethod(m.Options.InboundMethod)
}

func validateMethod(method string) error {
	switch strings.ToUpper(strings.TrimSpace(method)) {
	case "", "GET", "POST":
		return nil
	default:
		return core.InvalidField("command", "method", "method must be GET or POST")
	}
}
