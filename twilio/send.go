package twilio

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-relay/core"
)

const (
	ChannelWhatsApp = "whatsapp"
	ChannelSMS      = "sms"
)

const (
	defaultStatusPollInterval = 2 * time.Second
	defaultStatusTimeout      = 20 * time.Second
)

type SendOptions struct {
	// From overrides the client's configured sender.
	From           string
	MediaURLs      []string
	StatusCallback string
	// Channel is "whatsapp" (default) or "sms".
	Channel string
}

type SendResult struct {
	SID     string
	Status  string
	To      string
	From    string
	Message Message
}

// SendMessage creates an outbound message. Failures are logged with
// LogTwilioSendError and returned as is.
func SendMessage(ctx context.Context, client *Client, to string, body string, opts SendOptions, runtime core.RuntimeEnv) (SendResult, error) {
	if client == nil {
		return SendResult{}, core.BadInput("twilio: client is required", nil)
	}
	from := strings.TrimSpace(opts.From)
	if from == "" {
		from = strings.TrimSpace(client.config.WhatsAppFrom)
	}
	to = strings.TrimSpace(to)
	if to == "" {
		return SendResult{}, core.BadInput("twilio: destination number is required", nil)
	}
	if from == "" {
		return SendResult{}, core.BadInput("twilio: sender number is required", nil)
	}
	media := cleanMediaURLs(opts.MediaURLs)
	if strings.TrimSpace(body) == "" && len(media) == 0 {
		return SendResult{}, core.BadInput("twilio: message body or media is required", map[string]any{"to": to})
	}
	if callback := strings.TrimSpace(opts.StatusCallback); callback != "" {
		if err := core.ValidateCallbackURL(callback); err != nil {
			return SendResult{}, core.WrapError(err, goerrors.CategoryBadInput, "twilio: invalid status callback", nil)
		}
	}

	channel := strings.ToLower(strings.TrimSpace(opts.Channel))
	if channel != ChannelSMS {
		to = WhatsAppAddress(to)
		from = WhatsAppAddress(from)
	}

	form := url.Values{
		"To":   {to},
		"From": {from},
		"Body": {body},
	}
	for _, mediaURL := range media {
		form.Add("MediaUrl", mediaURL)
	}
	if callback := strings.TrimSpace(opts.StatusCallback); callback != "" {
		form.Set("StatusCallback", callback)
	}

	raw, err := client.do(ctx, apiCall{
		bucket: "messages.create",
		method: http.MethodPost,
		url:    client.accountURL("Messages.json"),
		form:   form,
	})
	if err != nil {
		LogTwilioSendError(err, to, runtime)
		return SendResult{}, err
	}
	msg, err := decodeMessage(raw)
	if err != nil {
		LogTwilioSendError(err, to, runtime)
		return SendResult{}, err
	}

	runtime.Info(fmt.Sprintf("sent message %s to %s", msg.SID, to), "sid", msg.SID, "status", msg.Status)
	client.record(ctx, msg)
	return SendResult{
		SID:     msg.SID,
		Status:  msg.Status,
		To:      to,
		From:    from,
		Message: msg,
	}, nil
}

type StatusWaitOptions struct {
	PollInterval time.Duration
	Timeout      time.Duration
}

// FetchMessage reads one message by SID.
func FetchMessage(ctx context.Context, client *Client, sid string) (Message, error) {
	if client == nil {
		return Message{}, core.BadInput("twilio: client is required", nil)
	}
	sid = strings.TrimSpace(sid)
	if sid == "" {
		return Message{}, core.BadInput("twilio: message sid is required", nil)
	}
	raw, err := client.do(ctx, apiCall{
		bucket: "messages.fetch",
		method: http.MethodGet,
		url:    client.accountURL("Messages", url.PathEscape(sid)+".json"),
	})
	if err != nil {
		return Message{}, err
	}
	return decodeMessage(raw)
}

// WaitForFinalStatus polls a message until it is delivered, read, failed,
// undelivered or canceled, or until the timeout elapses.
func WaitForFinalStatus(ctx context.Context, client *Client, sid string, opts StatusWaitOptions, runtime core.RuntimeEnv) (Message, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = defaultStatusPollInterval
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultStatusTimeout
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastStatus := ""
	for {
		msg, err := FetchMessage(ctx, client, sid)
		if err != nil {
			return Message{}, err
		}
		if msg.Status != lastStatus {
			runtime.Debug("message status", "sid", msg.SID, "status", msg.Status)
			client.record(ctx, msg)
			lastStatus = msg.Status
		}
		if IsDeliveredStatus(msg.Status) {
			return msg, nil
		}
		if IsFailedStatus(msg.Status) {
			failure := &DeliveryError{SID: msg.SID, Status: msg.Status, ErrorCode: msg.ErrorCode, ErrorMessage: msg.ErrorMessage}
			return msg, core.WrapError(failure, goerrors.CategoryOperation, failure.Error(), map[string]any{
				"sid":        msg.SID,
				"status":     msg.Status,
				"error_code": msg.ErrorCode,
			}).WithTextCode(core.ErrorDeliveryFailed)
		}

		select {
		case <-ctx.Done():
			return msg, ctx.Err()
		case <-deadline.C:
			return msg, core.WrapError(
				core.ErrStatusTimeout,
				goerrors.CategoryOperation,
				fmt.Sprintf("twilio: message %s still %s after %s", sid, msg.Status, timeout),
				map[string]any{"sid": sid, "status": msg.Status},
			).WithTextCode(core.ErrorStatusTimeout)
		case <-ticker.C:
		}
	}
}

func (c *Client) record(ctx context.Context, msg Message) {
	if c == nil || c.recorder == nil || strings.TrimSpace(msg.SID) == "" {
		return
	}
	if msg.AccountSID == "" {
		msg.AccountSID = c.config.AccountSID
	}
	if err := c.recorder.RecordMessage(ctx, msg.toRecord(c.now())); err != nil {
		c.Logger().Warn("message record failed", "sid", msg.SID, "error", err)
	}
}

func cleanMediaURLs(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		if trimmed := strings.TrimSpace(raw); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
