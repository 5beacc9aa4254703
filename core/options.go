package core

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func StaticLoader(values map[string]any) RawConfigLoader {
	return staticRawConfigLoader{Values: values}
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	return deepCopyMap(l.Values), nil
}

// envBindings maps environment variables onto dotted config keys.
var envBindings = map[string]string{
	"TWILIO_ACCOUNT_SID":              "twilio.account_sid",
	"TWILIO_AUTH_TOKEN":               "twilio.auth_token",
	"TWILIO_API_KEY":                  "twilio.api_key",
	"TWILIO_API_SECRET":               "twilio.api_secret",
	"TWILIO_WHATSAPP_FROM":            "twilio.whatsapp_from",
	"TWILIO_SENDER_SID":               "twilio.sender_sid",
	"RELAY_WEBHOOK_ADDR":              "webhook.addr",
	"RELAY_WEBHOOK_PATH":              "webhook.path",
	"RELAY_WEBHOOK_PUBLIC_URL":        "webhook.public_url",
	"RELAY_WEBHOOK_SKIP_SIGNATURE":    "webhook.skip_signature",
	"RELAY_WEBHOOK_REPLY":             "webhook.reply",
	"RELAY_POLL_INTERVAL_SECONDS":     "polling.interval_seconds",
	"RELAY_LOOKBACK_MINUTES":          "polling.lookback_minutes",
	"RELAY_STATUS_TIMEOUT_SECONDS":    "polling.status_timeout_seconds",
	"RELAY_STATUS_POLL_SECONDS":       "polling.status_poll_seconds",
	"RELAY_STORE_DRIVER":              "store.driver",
	"RELAY_STORE_DSN":                 "store.dsn",
	"RELAY_VERBOSE":                   "verbose",
	"RELAY_TWILIO_API_BASE_URL":       "twilio.api_base_url",
	"RELAY_TWILIO_MESSAGING_BASE_URL": "twilio.messaging_base_url",
}

// EnvLoader reads config from the process environment. Files are read with
// godotenv and never override variables already present in the environment.
type EnvLoader struct {
	Files  []string
	Lookup func(key string) (string, bool)
}

func (l EnvLoader) LoadRaw(context.Context) (map[string]any, error) {
	fileValues := map[string]string{}
	for _, file := range l.Files {
		file = strings.TrimSpace(file)
		if file == "" {
			continue
		}
		values, err := godotenv.Read(file)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("core: read env file %q: %w", file, err)
		}
		for key, value := range values {
			fileValues[key] = value
		}
	}

	lookup := l.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	out := map[string]any{}
	for envKey, path := range envBindings {
		value, ok := lookup(envKey)
		if !ok {
			value, ok = fileValues[envKey]
		}
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}
		setPath(out, path, coerceEnvValue(path, strings.TrimSpace(value)))
	}
	return out, nil
}

type YAMLFileLoader struct {
	Path     string
	Optional bool
}

func (l YAMLFileLoader) LoadRaw(context.Context) (map[string]any, error) {
	path := strings.TrimSpace(l.Path)
	if path == "" {
		return map[string]any{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if l.Optional && os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("core: read config file %q: %w", path, err)
	}
	out := map[string]any{}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("core: parse config file %q: %w", path, err)
	}
	return out, nil
}

// ChainLoader merges loaders in order; later loaders win.
type ChainLoader []RawConfigLoader

func (c ChainLoader) LoadRaw(ctx context.Context) (map[string]any, error) {
	out := map[string]any{}
	for _, loader := range c {
		if loader == nil {
			continue
		}
		values, err := loader.LoadRaw(ctx)
		if err != nil {
			return nil, err
		}
		mergeMaps(out, values)
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

// LoadConfig layers defaults, loaded values, and runtime overrides (typically
// CLI flags) into a validated Config.
func LoadConfig(ctx context.Context, provider ConfigProvider, resolver OptionsResolver, runtime Config) (Config, error) {
	defaults := DefaultConfig()
	if provider == nil {
		provider = NewCfgxConfigProvider(nil)
	}
	if resolver == nil {
		resolver = GoOptionsResolver{}
	}
	loaded, err := provider.Load(ctx, defaults)
	if err != nil {
		return Config{}, err
	}
	return resolver.Resolve(defaults, loaded, runtime)
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	put := func(path string, value any, zero bool) {
		if includeZero || !zero {
			setPath(layer, path, value)
		}
	}
	put("service_name", cfg.ServiceName, strings.TrimSpace(cfg.ServiceName) == "")
	put("verbose", cfg.Verbose, !cfg.Verbose)

	tw := cfg.Twilio
	put("twilio.account_sid", tw.AccountSID, tw.AccountSID == "")
	put("twilio.auth_token", tw.AuthToken, tw.AuthToken == "")
	put("twilio.api_key", tw.APIKey, tw.APIKey == "")
	put("twilio.api_secret", tw.APISecret, tw.APISecret == "")
	put("twilio.whatsapp_from", tw.WhatsAppFrom, tw.WhatsAppFrom == "")
	put("twilio.sender_sid", tw.SenderSID, tw.SenderSID == "")
	put("twilio.api_base_url", tw.APIBaseURL, tw.APIBaseURL == "")
	put("twilio.messaging_base_url", tw.MessagingBaseURL, tw.MessagingBaseURL == "")
	put("twilio.request_timeout_seconds", tw.RequestTimeoutSeconds, tw.RequestTimeoutSeconds == 0)

	wh := cfg.Webhook
	put("webhook.addr", wh.Addr, wh.Addr == "")
	put("webhook.path", wh.Path, wh.Path == "")
	put("webhook.public_url", wh.PublicURL, wh.PublicURL == "")
	put("webhook.skip_signature", wh.SkipSignature, !wh.SkipSignature)
	put("webhook.reply", wh.Reply, wh.Reply == "")

	pl := cfg.Polling
	put("polling.interval_seconds", pl.IntervalSeconds, pl.IntervalSeconds == 0)
	put("polling.lookback_minutes", pl.LookbackMinutes, pl.LookbackMinutes == 0)
	put("polling.status_timeout_seconds", pl.StatusTimeoutSeconds, pl.StatusTimeoutSeconds == 0)
	put("polling.status_poll_seconds", pl.StatusPollSeconds, pl.StatusPollSeconds == 0)

	st := cfg.Store
	put("store.driver", st.Driver, st.Driver == "")
	put("store.dsn", st.DSN, st.DSN == "")
	put("store.debug", st.Debug, !st.Debug)
	return layer
}

func setPath(target map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	current := target
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}

func coerceEnvValue(path string, value string) any {
	switch {
	case strings.HasSuffix(path, "_seconds"), strings.HasSuffix(path, "_minutes"):
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	case path == "verbose", strings.HasSuffix(path, "skip_signature"):
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return value
}

func mergeMaps(dst map[string]any, src map[string]any) {
	for key, value := range src {
		srcMap, srcIsMap := value.(map[string]any)
		dstMap, dstIsMap := dst[key].(map[string]any)
		if srcIsMap && dstIsMap {
			mergeMaps(dstMap, srcMap)
			continue
		}
		if srcIsMap {
			dst[key] = deepCopyMap(srcMap)
			continue
		}
		dst[key] = value
	}
}

func deepCopyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for key, value := range in {
		if nested, ok := value.(map[string]any); ok {
			out[key] = deepCopyMap(nested)
			continue
		}
		out[key] = value
	}
	return out
}
