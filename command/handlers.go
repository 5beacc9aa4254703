package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-relay/core"
	"github.com/goliatone/go-relay/twilio"
)

// MessagingService performs the provider mutations behind each command.
type MessagingService interface {
	SendMessage(ctx context.Context, to string, body string, opts twilio.SendOptions) (twilio.SendResult, error)
	SendTypingIndicator(ctx context.Context, messageSid string) error
	UpdateWebhook(ctx context.Context, opts twilio.UpdateWebhookOptions) (twilio.WebhookUpdateResult, error)
	SetMessagingServiceWebhook(ctx context.Context, serviceSid string, opts twilio.MessagingServiceWebhookOptions) error
}

type SendMessageCommand struct {
	service MessagingService
}

func NewSendMessageCommand(service MessagingService) *SendMessageCommand {
	return &SendMessageCommand{service: service}
}

func (c *SendMessageCommand) Execute(ctx context.Context, msg SendMessageMessage) error {
	if c == nil || c.service == nil {
		return core.MissingDependency("command: send message service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.service.SendMessage(ctx, msg.To, msg.Body, msg.Options)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type SendTypingIndicatorCommand struct {
	service MessagingService
}

func NewSendTypingIndicatorCommand(service MessagingService) *SendTypingIndicatorCommand {
	return &SendTypingIndicatorCommand{service: service}
}

func (c *SendTypingIndicatorCommand) Execute(ctx context.Context, msg SendTypingIndicatorMessage) error {
	if c == nil || c.service == nil {
		return core.MissingDependency("command: typing indicator service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	return c.service.SendTypingIndicator(ctx, msg.MessageSID)
}

type UpdateWebhookCommand struct {
	service MessagingService
}

func NewUpdateWebhookCommand(service MessagingService) *UpdateWebhookCommand {
	return &UpdateWebhookCommand{service: service}
}

func (c *UpdateWebhookCommand) Execute(ctx context.Context, msg UpdateWebhookMessage) error {
	if c == nil || c.service == nil {
		return core.MissingDependency("command: webhook service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.service.UpdateWebhook(ctx, msg.Options)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type SetMessagingServiceWebhookCommand struct {
	service MessagingService
}

func NewSetMessagingServiceWebhookCommand(service MessagingService) *SetMessagingServiceWebhookCommand {
	return &SetMessagingServiceWebhookCommand{service: service}
}

func (c *SetMessagingServiceWebhookCommand) Execute(ctx context.Context, msg SetMessagingServiceWebhookMessage) error {
	if c == nil || c.service == nil {
		return core.MissingDependency("command: messaging service webhook service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	return c.service.SetMessagingServiceWebhook(ctx, msg.ServiceSID, msg.Options)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
