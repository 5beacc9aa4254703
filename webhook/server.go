// Package webhook is the stable import path for the inbound webhook server.
package webhook

import (
	"github.com/goliatone/go-relay/twilio"
)

// WebhookServer is the handle StartWebhook returns once the listener is bound.
type WebhookServer = twilio.WebhookServer

// StartWebhook forwards to twilio.StartWebhook; startup errors are returned
// unchanged.
var StartWebhook = twilio.StartWebhook
