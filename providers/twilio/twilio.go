// Package twilio is the stable import path for the Twilio messaging provider.
// Every name forwards to github.com/goliatone/go-relay/twilio unchanged.
package twilio

import (
	impl "github.com/goliatone/go-relay/twilio"
)

type (
	Client                         = impl.Client
	ClientOption                   = impl.ClientOption
	Message                        = impl.Message
	SendOptions                    = impl.SendOptions
	SendResult                     = impl.SendResult
	StatusWaitOptions              = impl.StatusWaitOptions
	ListOptions                    = impl.ListOptions
	MonitorOptions                 = impl.MonitorOptions
	InboundHandler                 = impl.InboundHandler
	APIError                       = impl.APIError
	UpdateWebhookOptions           = impl.UpdateWebhookOptions
	MessagingServiceWebhookOptions = impl.MessagingServiceWebhookOptions
)

var (
	CreateClient               = impl.CreateClient
	SendTypingIndicator        = impl.SendTypingIndicator
	MonitorTwilio              = impl.MonitorTwilio
	SendMessage                = impl.SendMessage
	WaitForFinalStatus         = impl.WaitForFinalStatus
	ListRecentMessages         = impl.ListRecentMessages
	FormatMessageLine          = impl.FormatMessageLine
	UpdateWebhook              = impl.UpdateWebhook
	FindIncomingNumberSid      = impl.FindIncomingNumberSid
	FindMessagingServiceSid    = impl.FindMessagingServiceSid
	SetMessagingServiceWebhook = impl.SetMessagingServiceWebhook
	FindWhatsappSenderSid      = impl.FindWhatsappSenderSid
	FormatTwilioError          = impl.FormatTwilioError
	LogTwilioSendError         = impl.LogTwilioSendError
)
