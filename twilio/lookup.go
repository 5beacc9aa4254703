package twilio

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/goliatone/go-relay/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const lookupCacheKeyPrefix = "go-relay::twilio_lookup::v1"

type incomingNumberPage struct {
	IncomingPhoneNumbers []struct {
		SID         string `json:"sid"`
		PhoneNumber string `json:"phone_number"`
	} `json:"incoming_phone_numbers"`
}

type servicePage struct {
	Services []struct {
		SID          string `json:"sid"`
		FriendlyName string `json:"friendly_name"`
	} `json:"services"`
	Meta pageMeta `json:"meta"`
}

type servicePhoneNumberPage struct {
	PhoneNumbers []struct {
		SID         string `json:"sid"`
		PhoneNumber string `json:"phone_number"`
	} `json:"phone_numbers"`
	Meta pageMeta `json:"meta"`
}

type senderPage struct {
	Senders []struct {
		SID      string `json:"sid"`
		SenderID string `json:"sender_id"`
		Status   string `json:"status"`
	} `json:"senders"`
	Meta pageMeta `json:"meta"`
}

type pageMeta struct {
	NextPageURL string `json:"next_page_url"`
}

// FindIncomingNumberSid resolves the IncomingPhoneNumber SID (PN...) that owns
// the number.
func FindIncomingNumberSid(ctx context.Context, client *Client, phoneNumber string) (string, error) {
	if client == nil {
		return "", core.BadInput("twilio: client is required", nil)
	}
	number := BareNumber(phoneNumber)
	if number == "" {
		return "", core.BadInput("twilio: phone number is required", nil)
	}
	return client.cachedLookup(ctx, "incoming_number", number, func(ctx context.Context) (string, error) {
		raw, err := client.do(ctx, apiCall{
			bucket: "incoming_numbers.list",
			method: http.MethodGet,
			url:    client.accountURL("IncomingPhoneNumbers.json"),
			query:  map[string]string{"PhoneNumber": number},
		})
		if err != nil {
			return "", err
		}
		var page incomingNumberPage
		if err := json.Unmarshal(raw, &page); err != nil {
			return "", decodeError("incoming numbers", err)
		}
		for _, item := range page.IncomingPhoneNumbers {
			if samePhoneNumber(item.PhoneNumber, number) && item.SID != "" {
				return item.SID, nil
			}
		}
		return "", core.NotFound("twilio: incoming phone number not found", map[string]any{"phone_number": number})
	})
}

// FindMessagingServiceSid scans messaging services for the one whose sender
// pool holds the number.
func FindMessagingServiceSid(ctx context.Context, client *Client, phoneNumber string) (string, error) {
	if client == nil {
		return "", core.BadInput("twilio: client is required", nil)
	}
	number := BareNumber(phoneNumber)
	if number == "" {
		return "", core.BadInput("twilio: phone number is required", nil)
	}
	return client.cachedLookup(ctx, "messaging_service", number, func(ctx context.Context) (string, error) {
		next := client.messagingEndpoint("/v1/Services")
		query := map[string]string{"PageSize": "50"}
		for next != "" {
			raw, err := client.do(ctx, apiCall{bucket: "services.list", method: http.MethodGet, url: next, query: query})
			if err != nil {
				return "", err
			}
			var page servicePage
			if err := json.Unmarshal(raw, &page); err != nil {
				return "", decodeError("messaging services", err)
			}
			for _, service := range page.Services {
				found, err := serviceHasNumber(ctx, client, service.SID, number)
				if err != nil {
					return "", err
				}
				if found {
					return service.SID, nil
				}
			}
			next, query = page.Meta.NextPageURL, nil
		}
		return "", core.NotFound("twilio: messaging service not found for number", map[string]any{"phone_number": number})
	})
}

func serviceHasNumber(ctx context.Context, client *Client, serviceSid string, number string) (bool, error) {
	if strings.TrimSpace(serviceSid) == "" {
		return false, nil
	}
	next := client.messagingEndpoint("/v1/Services/" + url.PathEscape(serviceSid) + "/PhoneNumbers")
	query := map[string]string{"PageSize": "50"}
	for next != "" {
		raw, err := client.do(ctx, apiCall{bucket: "services.numbers", method: http.MethodGet, url: next, query: query})
		if err != nil {
			return false, err
		}
		var page servicePhoneNumberPage
		if err := json.Unmarshal(raw, &page); err != nil {
			return false, decodeError("service phone numbers", err)
		}
		for _, item := range page.PhoneNumbers {
			if samePhoneNumber(item.PhoneNumber, number) {
				return true, nil
			}
		}
		next, query = page.Meta.NextPageURL, nil
	}
	return false, nil
}

// FindWhatsappSenderSid returns explicitSid when set, otherwise the SID (XE...)
// of the WhatsApp sender registered for from.
func FindWhatsappSenderSid(ctx context.Context, client *Client, from string, explicitSid string, runtime core.RuntimeEnv) (string, error) {
	if sid := strings.TrimSpace(explicitSid); sid != "" {
		return sid, nil
	}
	if client == nil {
		return "", core.BadInput("twilio: client is required", nil)
	}
	if strings.TrimSpace(from) == "" {
		from = client.config.WhatsAppFrom
	}
	number := BareNumber(from)
	if number == "" {
		return "", core.BadInput("twilio: sender number is required", nil)
	}
	sid, err := client.cachedLookup(ctx, "whatsapp_sender", number, func(ctx context.Context) (string, error) {
		want := WhatsAppAddress(number)
		next := client.messagingEndpoint("/v2/Channels/Senders")
		query := map[string]string{"Channel": ChannelWhatsApp, "PageSize": "50"}
		for next != "" {
			raw, err := client.do(ctx, apiCall{bucket: "senders.list", method: http.MethodGet, url: next, query: query})
			if err != nil {
				return "", err
			}
			var page senderPage
			if err := json.Unmarshal(raw, &page); err != nil {
				return "", decodeError("senders", err)
			}
			for _, sender := range page.Senders {
				if strings.EqualFold(strings.TrimSpace(sender.SenderID), want) && sender.SID != "" {
					return sender.SID, nil
				}
			}
			next, query = page.Meta.NextPageURL, nil
		}
		return "", core.NotFound("twilio: whatsapp sender not found", map[string]any{"sender_id": want})
	})
	if err != nil {
		return "", err
	}
	runtime.Debug("resolved whatsapp sender", "sender_sid", sid, "from", number)
	return sid, nil
}

func (c *Client) cachedLookup(ctx context.Context, kind string, value string, fetch func(context.Context) (string, error)) (string, error) {
	if c.lookups == nil {
		return fetch(ctx)
	}
	key := LookupCacheKey(c.config.AccountSID, kind, value)
	return repositorycache.GetOrFetch(ctx, c.lookups, key, fetch)
}

// ForgetLookups drops cached SIDs for the number, e.g. after a sender is
// re-registered.
func (c *Client) ForgetLookups(ctx context.Context, phoneNumber string) error {
	if c == nil || c.lookups == nil {
		return nil
	}
	number := BareNumber(phoneNumber)
	for _, kind := range []string{"incoming_number", "messaging_service", "whatsapp_sender"} {
		if err := c.lookups.Delete(ctx, LookupCacheKey(c.config.AccountSID, kind, number)); err != nil {
			return err
		}
	}
	return nil
}

// LookupCacheKey is go-relay::twilio_lookup::v1::<account>::<kind>::<number>
// with each segment path-escaped.
func LookupCacheKey(accountSID string, kind string, value string) string {
	segments := []string{
		url.PathEscape(strings.TrimSpace(accountSID)),
		url.PathEscape(strings.TrimSpace(kind)),
		url.PathEscape(BareNumber(value)),
	}
	return strings.Join(append([]string{lookupCacheKeyPrefix}, segments...), "::")
}

// samePhoneNumber compares digits only; a side with no digits never matches.
func samePhoneNumber(a string, b string) bool {
	left, right := normalizeDigits(BareNumber(a)), normalizeDigits(BareNumber(b))
	return left != "" && left == right
}

func normalizeDigits(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
