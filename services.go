package relay

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-relay/core"
	"github.com/goliatone/go-relay/twilio"
)

type Config = core.Config

type TwilioConfig = core.TwilioConfig
type WebhookConfig = core.WebhookConfig
type PollingConfig = core.PollingConfig
type StoreConfig = core.StoreConfig

type RuntimeEnv = core.RuntimeEnv
type MessageRecord = core.MessageRecord
type MessageFilter = core.MessageFilter

const (
	DefaultWebhookAddr      = core.DefaultWebhookAddr
	DefaultWebhookPath      = core.DefaultWebhookPath
	DefaultAPIBaseURL       = core.DefaultAPIBaseURL
	DefaultMessagingBaseURL = core.DefaultMessagingBaseURL
)

var (
	NewRuntimeEnv         = core.NewRuntimeEnv
	NewCfgxConfigProvider = core.NewCfgxConfigProvider
	StaticLoader          = core.StaticLoader
	ValidateCallbackURL   = core.ValidateCallbackURL
	MapError              = core.MapError
	ErrStatusTimeout      = core.ErrStatusTimeout
	DefaultRuntimeEnv     = core.DefaultRuntimeEnv
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

// LoadConfig resolves configuration from an optional YAML file, env files and
// the process environment, with runtime overrides on top.
func LoadConfig(ctx context.Context, configPath string, envFiles []string, runtime Config) (Config, error) {
	return core.LoadConfig(ctx, core.NewCfgxConfigProvider(defaultConfigProviders(configPath, envFiles)), core.GoOptionsResolver{}, runtime)
}

func defaultConfigProviders(configPath string, envFiles []string) core.RawConfigLoader {
	return core.ChainLoader{
		core.YAMLFileLoader{Path: configPath, Optional: configPath == ""},
		core.EnvLoader{Files: envFiles},
	}
}

// Setup loads configuration and builds a Messenger over a fresh client.
func Setup(ctx context.Context, cfg Config, runtime RuntimeEnv, clientOpts ...twilio.ClientOption) (*Messenger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, core.WrapError(err, goerrors.CategoryBadInput, "relay: invalid configuration", nil)
	}
	opts := append([]twilio.ClientOption{twilio.WithLogger(runtime.Logger)}, clientOpts...)
	client, err := twilio.CreateClient(cfg.Twilio, opts...)
	if err != nil {
		return nil, err
	}
	return NewMessenger(client, WithRuntime(runtime))
}
