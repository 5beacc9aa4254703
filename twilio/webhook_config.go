package twilio

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-relay/core"
)

const (
	WebhookTargetSender           = "whatsapp_sender"
	WebhookTargetIncomingNumber   = "incoming_number"
	WebhookTargetMessagingService = "messaging_service"
)

type UpdateWebhookOptions struct {
	CallbackURL string
	// Method defaults to POST.
	Method string
	// PhoneNumber defaults to the client's configured sender.
	PhoneNumber string
	SenderSid   string
}

type MessagingServiceWebhookOptions struct {
	InboundRequestURL string
	InboundMethod     string
}

type WebhookUpdateResult struct {
	Target      string
	SID         string
	CallbackURL string
	Method      string
	// Attempts lists the failed targets tried before the successful one, in
	// order. It is empty when the first target succeeds.
	Attempts []WebhookAttempt
}

type WebhookAttempt struct {
	Target string
	SID    string
	Err    error
}

// UpdateWebhook points inbound traffic for the number at the callback URL. It
// tries the WhatsApp sender first, then the incoming phone number, then the
// messaging service that owns the number.
func UpdateWebhook(ctx context.Context, client *Client, opts UpdateWebhookOptions, runtime core.RuntimeEnv) (WebhookUpdateResult, error) {
	if client == nil {
		return WebhookUpdateResult{}, core.BadInput("twilio: client is required", nil)
	}
	callback := strings.TrimSpace(opts.CallbackURL)
	if err := core.ValidateCallbackURL(callback); err != nil {
		return WebhookUpdateResult{}, core.WrapError(err, goerrors.CategoryBadInput, "twilio: invalid webhook url", map[string]any{"url": callback})
	}
	method := normalizeMethod(opts.Method)
	number := strings.TrimSpace(opts.PhoneNumber)
	if number == "" {
		number = client.config.WhatsAppFrom
	}
	explicitSender := strings.TrimSpace(opts.SenderSid)
	if explicitSender == "" {
		explicitSender = strings.TrimSpace(client.config.SenderSID)
	}
	if number == "" && explicitSender == "" {
		return WebhookUpdateResult{}, core.BadInput("twilio: phone number or sender sid is required", nil)
	}

	result := WebhookUpdateResult{CallbackURL: callback, Method: method}
	attempt := func(target string, resolve func() (string, error), update func(sid string) error) bool {
		sid, err := resolve()
		if err == nil {
			err = update(sid)
		}
		if err != nil {
			result.Attempts = append(result.Attempts, WebhookAttempt{Target: target, SID: sid, Err: err})
			runtime.Debug("webhook update attempt failed", "target", target, "sid", sid, "error", FormatTwilioError(err))
			return false
		}
		result.Target, result.SID = target, sid
		return true
	}

	if attempt(WebhookTargetSender,
		func() (string, error) {
			return FindWhatsappSenderSid(ctx, client, number, explicitSender, runtime)
		},
		func(sid string) error {
			return setSenderWebhook(ctx, client, sid, callback, method)
		},
	) {
		runtime.Info("updated whatsapp sender webhook", "sender_sid", result.SID, "url", callback)
		return result, nil
	}
	if number != "" {
		if attempt(WebhookTargetIncomingNumber,
			func() (string, error) {
				return FindIncomingNumberSid(ctx, client, number)
			},
			func(sid string) error {
				return setIncomingNumberWebhook(ctx, client, sid, callback, method)
			},
		) {
			runtime.Info("updated incoming number webhook", "number_sid", result.SID, "url", callback)
			return result, nil
		}
		if attempt(WebhookTargetMessagingService,
			func() (string, error) {
				return FindMessagingServiceSid(ctx, client, number)
			},
			func(sid string) error {
				return SetMessagingServiceWebhook(ctx, client, sid, MessagingServiceWebhookOptions{InboundRequestURL: callback, InboundMethod: method})
			},
		) {
			runtime.Info("updated messaging service webhook", "service_sid", result.SID, "url", callback)
			return result, nil
		}
	}
	return result, webhookUpdateError(result.Attempts)
}

// SetMessagingServiceWebhook sets the service's inbound request URL and turns
// off per-number webhooks so the service URL wins.
func SetMessagingServiceWebhook(ctx context.Context, client *Client, serviceSid string, opts MessagingServiceWebhookOptions) error {
	if client == nil {
		return core.BadInput("twilio: client is required", nil)
	}
	serviceSid = strings.TrimSpace(serviceSid)
	if serviceSid == "" {
		return core.BadInput("twilio: messaging service sid is required", nil)
	}
	callback := strings.TrimSpace(opts.InboundRequestURL)
	if err := core.ValidateCallbackURL(callback); err != nil {
		return core.WrapError(err, goerrors.CategoryBadInput, "twilio: invalid webhook url", map[string]any{"url": callback})
	}
	_, err := client.do(ctx, apiCall{
		bucket: "services.update",
		method: http.MethodPost,
		url:    client.messagingEndpoint("/v1/Services/" + url.PathEscape(serviceSid)),
		form: url.Values{
			"InboundRequestUrl":         {callback},
			"InboundMethod":             {normalizeMethod(opts.InboundMethod)},
			"UseInboundWebhookOnNumber": {"false"},
		},
	})
	return err
}

func setSenderWebhook(ctx context.Context, client *Client, senderSid string, callback string, method string) error {
	_, err := client.do(ctx, apiCall{
		bucket: "senders.update",
		method: http.MethodPost,
		url:    client.messagingEndpoint("/v2/Channels/Senders/" + url.PathEscape(senderSid)),
		json: map[string]any{
			"webhook": map[string]string{
				"callback_url":    callback,
				"callback_method": method,
			},
		},
	})
	return err
}

func setIncomingNumberWebhook(ctx context.Context, client *Client, numberSid string, callback string, method string) error {
	_, err := client.do(ctx, apiCall{
		bucket: "incoming_numbers.update",
		method: http.MethodPost,
		url:    client.accountURL("IncomingPhoneNumbers", url.PathEscape(numberSid)+".json"),
		form: url.Values{
			"SmsUrl":    {callback},
			"SmsMethod": {method},
		},
	})
	return err
}

// webhookUpdateError returns the most specific failure: a provider error
// beats a lookup miss, and the last provider error wins.
func webhookUpdateError(attempts []WebhookAttempt) error {
	var last error
	for _, attempt := range attempts {
		if attempt.Err == nil {
			continue
		}
		var apiErr *APIError
		if errors.As(attempt.Err, &apiErr) {
			last = attempt.Err
		} else if last == nil {
			last = attempt.Err
		}
	}
	if last == nil {
		return core.NotFound("twilio: no webhook target found", nil)
	}
	return last
}

func normalizeMethod(method string) string {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method != http.MethodGet {
		return http.MethodPost
	}
	return method
}
