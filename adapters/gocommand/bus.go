package gocommand

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"

	"github.com/goliatone/go-relay/core"
)

// Bus registers relay handlers with a go-command registry and the global
// dispatcher in one step, and remembers the subscriptions so Close can
// release them together.
type Bus struct {
	registry *command.Registry

	mu   sync.Mutex
	subs []commanddispatcher.Subscription
}

func NewBus(registry *command.Registry) *Bus {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &Bus{registry: registry}
}

func (b *Bus) Registry() *command.Registry {
	if b == nil {
		return nil
	}
	return b.registry
}

func (b *Bus) AddResolver(key string, resolver command.Resolver) error {
	if b == nil || b.registry == nil {
		return errBusNotConfigured
	}
	return b.registry.AddResolver(strings.TrimSpace(key), resolver)
}

// AddQueueResolver mirrors every registered relay command into a go-job
// queue registry, so commands can also run as queued jobs.
func (b *Bus) AddQueueResolver(key string, queueRegistry *jobqueuecommand.Registry) error {
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	return b.AddResolver(key, jobqueuecommand.QueueResolver(queueRegistry))
}

func (b *Bus) HasResolver(key string) bool {
	if b == nil || b.registry == nil {
		return false
	}
	return b.registry.HasResolver(strings.TrimSpace(key))
}

// Initialize runs the registry resolvers. Call it after all handlers are
// registered.
func (b *Bus) Initialize() error {
	if b == nil || b.registry == nil {
		return errBusNotConfigured
	}
	return b.registry.Initialize()
}

// Close unsubscribes every handler the bus registered.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()
	for _, sub := range subs {
		if sub != nil {
			sub.Unsubscribe()
		}
	}
}

// Subscriptions reports how many handlers are currently subscribed.
func (b *Bus) Subscriptions() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Bus) track(sub commanddispatcher.Subscription) {
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
}

// Handle registers and subscribes a command handler. A registry failure
// leaves nothing subscribed.
func Handle[T any](b *Bus, cmd command.Commander[T], runnerOpts ...runner.Option) error {
	if b == nil || b.registry == nil {
		return errBusNotConfigured
	}
	if cmd == nil {
		return fmt.Errorf("gocommand: command is required")
	}
	sub := commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
	if err := b.registry.RegisterCommand(cmd); err != nil {
		if sub != nil {
			sub.Unsubscribe()
		}
		return err
	}
	b.track(sub)
	return nil
}

// HandleQuery registers and subscribes a query handler.
func HandleQuery[T any, R any](b *Bus, qry command.Querier[T, R], runnerOpts ...runner.Option) error {
	if b == nil || b.registry == nil {
		return errBusNotConfigured
	}
	if qry == nil {
		return fmt.Errorf("gocommand: query is required")
	}
	sub := commanddispatcher.SubscribeQuery(qry, runnerOpts...)
	if err := b.registry.RegisterCommand(qry); err != nil {
		if sub != nil {
			sub.Unsubscribe()
		}
		return err
	}
	b.track(sub)
	return nil
}

// Dispatch validates msg and sends it to its subscribed command handler.
// Failures come back as relay error envelopes.
func Dispatch[T any](ctx context.Context, msg T) error {
	if err := ValidateMessageContract(msg); err != nil {
		return mapDispatchError(err)
	}
	return mapDispatchError(commanddispatcher.Dispatch(ctx, msg))
}

// Query validates msg and returns the subscribed query handler's result.
func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	if err := ValidateMessageContract(msg); err != nil {
		var zero R
		return zero, mapDispatchError(err)
	}
	out, err := commanddispatcher.Query[T, R](ctx, msg)
	return out, mapDispatchError(err)
}

// ValidateMessageContract requires a non-empty Type() and runs Validate()
// when the message has one.
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	m, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(m.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return nil
}

var errBusNotConfigured = fmt.Errorf("gocommand: bus is not configured")

func mapDispatchError(err error) error {
	if err == nil {
		return nil
	}
	return core.MapError(err)
}
