package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[SendMessageMessage]                = (*SendMessageCommand)(nil)
	_ gocmd.Commander[SendTypingIndicatorMessage]        = (*SendTypingIndicatorCommand)(nil)
	_ gocmd.Commander[UpdateWebhookMessage]              = (*UpdateWebhookCommand)(nil)
	_ gocmd.Commander[SetMessagingServiceWebhookMessage] = (*SetMessagingServiceWebhookCommand)(nil)
)
