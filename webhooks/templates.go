package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/goliatone/go-relay/core"
)

const (
	TwilioSignatureHeader = "X-Twilio-Signature"
	// MetadataRequestURL carries the public URL Twilio signed.
	MetadataRequestURL = "request_url"
	// MetadataRetryAfter is the time.Duration a refused delivery should wait.
	MetadataRetryAfter = "retry_after"
)

type ProviderWebhookTemplate struct {
	ProviderID string
	Verifier   Verifier
	Extractor  DeliveryIDExtractor
}

// NewTwilioWebhookTemplate verifies X-Twilio-Signature with the account auth
// token and dedupes on MessageSid.
func NewTwilioWebhookTemplate(authToken string) ProviderWebhookTemplate {
	return ProviderWebhookTemplate{
		ProviderID: core.ProviderTwilio,
		Verifier:   TwilioSignatureVerifier{AuthToken: strings.TrimSpace(authToken)},
		Extractor: ChainDeliveryIDExtractors(
			FormDeliveryIDExtractor("MessageSid", "SmsSid"),
			HeaderDeliveryIDExtractor("I-Twilio-Idempotency-Token"),
		),
	}
}

type TwilioSignatureVerifier struct {
	AuthToken string
}

func (v TwilioSignatureVerifier) Verify(_ context.Context, req core.InboundRequest) error {
	signature := strings.TrimSpace(headerValue(req.Headers, TwilioSignatureHeader))
	if signature == "" {
		return fmt.Errorf("webhooks: %s header is required", TwilioSignatureHeader)
	}
	token := strings.TrimSpace(v.AuthToken)
	if token == "" {
		return fmt.Errorf("webhooks: auth token is required")
	}
	rawURL := strings.TrimSpace(fmt.Sprint(req.Metadata[MetadataRequestURL]))
	if rawURL == "" || rawURL == "<nil>" {
		return fmt.Errorf("webhooks: request url is required for signature verification")
	}
	params, err := url.ParseQuery(string(req.Body))
	if err != nil {
		return fmt.Errorf("webhooks: parse form body: %w", err)
	}
	decoded, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("webhooks: decode base64 signature: %w", err)
	}
	for _, candidate := range signatureURLCandidates(rawURL) {
		expected := twilioMAC(token, candidate, params)
		if subtle.ConstantTimeCompare(decoded, expected) == 1 {
			return nil
		}
	}
	return fmt.Errorf("webhooks: signature verification failed")
}

// TwilioSignature returns the base64 HMAC-SHA1 of the URL followed by every
// form parameter name and value in name order.
func TwilioSignature(authToken string, rawURL string, params url.Values) string {
	return base64.StdEncoding.EncodeToString(twilioMAC(authToken, rawURL, params))
}

func twilioMAC(authToken string, rawURL string, params url.Values) []byte {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(rawURL)
	for _, key := range keys {
		values := append([]string(nil), params[key]...)
		sort.Strings(values)
		for _, value := range values {
			b.WriteString(key)
			b.WriteString(value)
		}
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	_, _ = mac.Write([]byte(b.String()))
	return mac.Sum(nil)
}

// signatureURLCandidates covers proxies that add or strip the default port
// before Twilio's signed URL reaches the server.
func signatureURLCandidates(rawURL string) []string {
	out := []string{rawURL}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return out
	}
	defaultPort := map[string]string{"http": "80", "https": "443"}[parsed.Scheme]
	if defaultPort == "" {
		return out
	}
	alt := *parsed
	if parsed.Port() == "" {
		alt.Host = parsed.Hostname() + ":" + defaultPort
	} else if parsed.Port() == defaultPort {
		alt.Host = parsed.Hostname()
	} else {
		return out
	}
	return append(out, alt.String())
}

type HeaderTokenVerifier struct {
	Header string
	Token  string
}

func (v HeaderTokenVerifier) Verify(_ context.Context, req core.InboundRequest) error {
	expected := strings.TrimSpace(v.Token)
	if expected == "" {
		return fmt.Errorf("webhooks: verification token is required")
	}
	actual := strings.TrimSpace(headerValue(req.Headers, v.Header))
	if actual == "" {
		return fmt.Errorf("webhooks: %s verification header is required", strings.TrimSpace(v.Header))
	}
	if subtle.ConstantTimeCompare([]byte(actual), []byte(expected)) != 1 {
		return fmt.Errorf("webhooks: verification token mismatch")
	}
	return nil
}

// FormDeliveryIDExtractor reads the first non-empty field from a
// form-encoded body.
func FormDeliveryIDExtractor(fields ...string) DeliveryIDExtractor {
	keys := append([]string(nil), fields...)
	return func(req core.InboundRequest) (string, error) {
		values, err := url.ParseQuery(string(req.Body))
		if err != nil {
			return "", fmt.Errorf("webhooks: parse form body: %w", err)
		}
		for _, key := range keys {
			if value := strings.TrimSpace(values.Get(key)); value != "" {
				return value, nil
			}
		}
		return "", fmt.Errorf("webhooks: delivery id is required for dedupe")
	}
}

func HeaderDeliveryIDExtractor(headers ...string) DeliveryIDExtractor {
	keys := append([]string(nil), headers...)
	return func(req core.InboundRequest) (string, error) {
		for _, key := range keys {
			if value := strings.TrimSpace(headerValue(req.Headers, key)); value != "" {
				return value, nil
			}
		}
		return "", fmt.Errorf("webhooks: delivery id is required for dedupe")
	}
}

func ChainDeliveryIDExtractors(extractors ...DeliveryIDExtractor) DeliveryIDExtractor {
	list := append([]DeliveryIDExtractor(nil), extractors...)
	return func(req core.InboundRequest) (string, error) {
		var lastErr error
		for _, extractor := range list {
			if extractor == nil {
				continue
			}
			deliveryID, err := extractor(req)
			if err == nil && strings.TrimSpace(deliveryID) != "" {
				return strings.TrimSpace(deliveryID), nil
			}
			if err != nil {
				lastErr = err
			}
		}
		if lastErr != nil {
			return "", lastErr
		}
		return "", fmt.Errorf("webhooks: delivery id is required for dedupe")
	}
}
