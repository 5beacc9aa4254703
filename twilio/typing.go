package twilio

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/goliatone/go-relay/core"
)

// SendTypingIndicator shows the typing bubble on the WhatsApp conversation
// the given inbound message belongs to. The indicator clears when the reply
// is sent or after about 25 seconds.
func SendTypingIndicator(ctx context.Context, client *Client, messageSid string, runtime core.RuntimeEnv) error {
	if client == nil {
		return core.BadInput("twilio: client is required", nil)
	}
	messageSid = strings.TrimSpace(messageSid)
	if messageSid == "" {
		return core.BadInput("twilio: message sid is required for typing indicator", nil)
	}
	_, err := client.do(ctx, apiCall{
		bucket: "indicators.typing",
		method: http.MethodPost,
		url:    client.messagingEndpoint("/v2/Indicators/Typing.json"),
		form: url.Values{
			"messageId": {messageSid},
			"channel":   {ChannelWhatsApp},
		},
	})
	if err != nil {
		return err
	}
	runtime.Debug("typing indicator sent", "message_sid", messageSid)
	return nil
}
