package cli

import (
	"context"
	"errors"
	"strings"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/spf13/cobra"

	relay "github.com/goliatone/go-relay"
	"github.com/goliatone/go-relay/adapters/gologger"
	"github.com/goliatone/go-relay/ratelimit"
	sqlstore "github.com/goliatone/go-relay/store/sql"
	"github.com/goliatone/go-relay/twilio"
	"github.com/goliatone/go-relay/webhooks"
)

const lookupCacheTTL = 10 * time.Minute

// app holds what a subcommand needs once flags and config are resolved.
type app struct {
	configPath string
	envFiles   []string
	verbose    bool

	cfg       relay.Config
	logger    *gologger.SlogLogger
	runtime   relay.RuntimeEnv
	client    *twilio.Client
	messenger *relay.Messenger
	facade    *relay.Facade
	repos     *sqlstore.RepositoryFactory
	closers   []func() error
}

// withStack connects before fn runs and releases the store afterwards.
func (a *app) withStack(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := a.connect(cmd); err != nil {
			return err
		}
		defer func() { _ = a.close() }()
		return fn(cmd, args)
	}
}

func (a *app) connect(cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := relay.LoadConfig(ctx, a.configPath, a.envFiles, relay.Config{Verbose: a.verbose})
	if err != nil {
		return err
	}
	a.cfg = cfg

	logger := gologger.NewConsoleLogger(cmd.ErrOrStderr(), cfg.Verbose).Named("relay")
	a.logger = logger
	a.runtime = relay.NewRuntimeEnv(logger, cmd.OutOrStdout(), cfg.Verbose)
	a.runtime.Debug("config resolved", "config", cfg.Redacted())

	cache, err := newLookupCache()
	if err != nil {
		return err
	}
	clientOpts := []twilio.ClientOption{
		twilio.WithLogger(logger),
		twilio.WithLookupCache(cache),
	}

	var stateStore ratelimit.StateStore = ratelimit.NewMemoryStateStore()
	if strings.TrimSpace(cfg.Store.Driver) != "" {
		repos, err := a.openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		cached, err := sqlstore.NewCachedRateLimitStateStore(repos.RateLimitStateStore(), cache)
		if err != nil {
			return err
		}
		stateStore = cached
		clientOpts = append(clientOpts, twilio.WithMessageRecorder(repos.MessageStore()))
		a.runtime.Debug("message store opened", "driver", cfg.Store.Driver)
	}
	clientOpts = append(clientOpts, twilio.WithRateLimitPolicy(ratelimit.NewAdaptivePolicy(stateStore)))

	client, err := twilio.CreateClient(cfg.Twilio, clientOpts...)
	if err != nil {
		return err
	}
	a.client = client

	messengerOpts := []relay.MessengerOption{relay.WithRuntime(a.runtime)}
	if a.repos != nil {
		messengerOpts = append(messengerOpts, relay.WithRepositoryFactory(a.repos))
	}
	messenger, err := relay.NewMessenger(client, messengerOpts...)
	if err != nil {
		return err
	}
	a.messenger = messenger

	facade, err := relay.NewFacade(messenger)
	if err != nil {
		return err
	}
	a.facade = facade
	return nil
}

func (a *app) openStore(ctx context.Context, cfg relay.StoreConfig) (*sqlstore.RepositoryFactory, error) {
	client, err := sqlstore.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, client.Close)
	repos, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		return nil, err
	}
	a.repos = repos
	return repos, nil
}

// ledger is the durable delivery store when one is configured, nil otherwise
// so callers fall back to their in-memory default.
func (a *app) ledger() webhooks.DeliveryLedger {
	if a.repos == nil || a.repos.DeliveryStore() == nil {
		return nil
	}
	return a.repos.DeliveryStore()
}

func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func newLookupCache() (repositorycache.CacheService, error) {
	config := repositorycache.DefaultConfig()
	config.TTL = lookupCacheTTL
	return repositorycache.NewCacheService(config)
}
