package core

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	DefaultAPIBaseURL       = "https://api.twilio.com/2010-04-01"
	DefaultMessagingBaseURL = "https://messaging.twilio.com"
	DefaultWebhookAddr      = ":42873"
	DefaultWebhookPath      = "/webhook/whatsapp"
)

type TwilioConfig struct {
	AccountSID            string `koanf:"account_sid" mapstructure:"account_sid"`
	AuthToken             string `koanf:"auth_token" mapstructure:"auth_token"`
	APIKey                string `koanf:"api_key" mapstructure:"api_key"`
	APISecret             string `koanf:"api_secret" mapstructure:"api_secret"`
	WhatsAppFrom          string `koanf:"whatsapp_from" mapstructure:"whatsapp_from"`
	SenderSID             string `koanf:"sender_sid" mapstructure:"sender_sid"`
	APIBaseURL            string `koanf:"api_base_url" mapstructure:"api_base_url"`
	MessagingBaseURL      string `koanf:"messaging_base_url" mapstructure:"messaging_base_url"`
	RequestTimeoutSeconds int    `koanf:"request_timeout_seconds" mapstructure:"request_timeout_seconds"`
}

type WebhookConfig struct {
	Addr          string `koanf:"addr" mapstructure:"addr"`
	Path          string `koanf:"path" mapstructure:"path"`
	PublicURL     string `koanf:"public_url" mapstructure:"public_url"`
	SkipSignature bool   `koanf:"skip_signature" mapstructure:"skip_signature"`
	Reply         string `koanf:"reply" mapstructure:"reply"`
}

type PollingConfig struct {
	IntervalSeconds      int `koanf:"interval_seconds" mapstructure:"interval_seconds"`
	LookbackMinutes      int `koanf:"lookback_minutes" mapstructure:"lookback_minutes"`
	StatusTimeoutSeconds int `koanf:"status_timeout_seconds" mapstructure:"status_timeout_seconds"`
	StatusPollSeconds    int `koanf:"status_poll_seconds" mapstructure:"status_poll_seconds"`
}

type StoreConfig struct {
	Driver string `koanf:"driver" mapstructure:"driver"`
	DSN    string `koanf:"dsn" mapstructure:"dsn"`
	Debug  bool   `koanf:"debug" mapstructure:"debug"`
}

type Config struct {
	ServiceName string        `koanf:"service_name" mapstructure:"service_name"`
	Verbose     bool          `koanf:"verbose" mapstructure:"verbose"`
	Twilio      TwilioConfig  `koanf:"twilio" mapstructure:"twilio"`
	Webhook     WebhookConfig `koanf:"webhook" mapstructure:"webhook"`
	Polling     PollingConfig `koanf:"polling" mapstructure:"polling"`
	Store       StoreConfig   `koanf:"store" mapstructure:"store"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "relay",
		Twilio: TwilioConfig{
			APIBaseURL:            DefaultAPIBaseURL,
			MessagingBaseURL:      DefaultMessagingBaseURL,
			RequestTimeoutSeconds: 30,
		},
		Webhook: WebhookConfig{
			Addr: DefaultWebhookAddr,
			Path: DefaultWebhookPath,
		},
		Polling: PollingConfig{
			IntervalSeconds:      5,
			LookbackMinutes:      5,
			StatusTimeoutSeconds: 20,
			StatusPollSeconds:    2,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Polling.IntervalSeconds < 0 || c.Polling.StatusTimeoutSeconds < 0 || c.Polling.StatusPollSeconds < 0 {
		return fmt.Errorf("core: polling intervals must not be negative")
	}
	if path := strings.TrimSpace(c.Webhook.Path); path != "" && !strings.HasPrefix(path, "/") {
		return fmt.Errorf("core: webhook path must start with /")
	}
	if public := strings.TrimSpace(c.Webhook.PublicURL); public != "" {
		if err := ValidateCallbackURL(public); err != nil {
			return err
		}
	}
	switch strings.ToLower(strings.TrimSpace(c.Store.Driver)) {
	case "", "sqlite3", "sqlite", "postgres":
	default:
		return fmt.Errorf("core: unsupported store driver %q", c.Store.Driver)
	}
	return nil
}

// ValidateCredentials checks what every API call needs: an account SID plus an
// auth token or an API key pair.
func (c TwilioConfig) ValidateCredentials() error {
	if strings.TrimSpace(c.AccountSID) == "" {
		return fmt.Errorf("core: twilio account_sid is required")
	}
	hasToken := strings.TrimSpace(c.AuthToken) != ""
	hasKey := strings.TrimSpace(c.APIKey) != "" && strings.TrimSpace(c.APISecret) != ""
	if !hasToken && !hasKey {
		return fmt.Errorf("core: twilio auth_token or api_key/api_secret is required")
	}
	return nil
}

func ValidateCallbackURL(raw string) error {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("core: invalid callback url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("core: callback url must be absolute http(s), got %q", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("core: callback url host is required")
	}
	return nil
}
