package relay

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-relay/twilio"
)

// InboundHandlerPack is a named set of inbound handlers. Packs run in name
// order and handlers in slice order; the first non-empty reply wins.
type InboundHandlerPack struct {
	Name     string
	Handlers []twilio.InboundHandler
}

type CommandQueryBundleFactory func(service CommandQueryService) (any, error)

type ExtensionHooks struct {
	mu sync.RWMutex

	handlerPacks map[string]InboundHandlerPack
	bundles      map[string]CommandQueryBundleFactory
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		handlerPacks: map[string]InboundHandlerPack{},
		bundles:      map[string]CommandQueryBundleFactory{},
	}
}

func (h *ExtensionHooks) RegisterInboundHandlerPack(pack InboundHandlerPack) error {
	if h == nil {
		return fmt.Errorf("relay: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("relay: inbound handler pack name is required")
	}
	if len(pack.Handlers) == 0 {
		return fmt.Errorf("relay: inbound handler pack %q has no handlers", name)
	}
	for _, handler := range pack.Handlers {
		if handler == nil {
			return fmt.Errorf("relay: inbound handler pack %q contains nil handler", name)
		}
	}

	normalized := InboundHandlerPack{
		Name:     name,
		Handlers: append([]twilio.InboundHandler(nil), pack.Handlers...),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.handlerPacks[name]; exists {
		return fmt.Errorf("relay: inbound handler pack %q already registered", name)
	}
	h.handlerPacks[name] = normalized
	return nil
}

func (h *ExtensionHooks) RegisterCommandQueryBundle(
	name string,
	factory CommandQueryBundleFactory,
) error {
	if h == nil {
		return fmt.Errorf("relay: extension hooks are nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("relay: command/query bundle name is required")
	}
	if factory == nil {
		return fmt.Errorf("relay: command/query bundle %q factory is required", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.bundles[name]; exists {
		return fmt.Errorf("relay: command/query bundle %q already registered", name)
	}
	h.bundles[name] = factory
	return nil
}

// InboundHandler chains every registered pack into one handler. It returns
// nil when nothing is registered so callers can keep their own default.
func (h *ExtensionHooks) InboundHandler() twilio.InboundHandler {
	packs := h.InboundHandlerPacks()
	if len(packs) == 0 {
		return nil
	}
	handlers := []twilio.InboundHandler{}
	for _, pack := range packs {
		handlers = append(handlers, pack.Handlers...)
	}
	return func(ctx context.Context, msg twilio.Message) (string, error) {
		for _, handler := range handlers {
			reply, err := handler(ctx, msg)
			if err != nil {
				return "", err
			}
			if strings.TrimSpace(reply) != "" {
				return reply, nil
			}
		}
		return "", nil
	}
}

func (h *ExtensionHooks) BuildCommandQueryBundles(
	service CommandQueryService,
) (map[string]any, error) {
	if h == nil {
		return map[string]any{}, nil
	}
	if service == nil {
		return nil, fmt.Errorf("relay: command/query service is required")
	}

	h.mu.RLock()
	names := make([]string, 0, len(h.bundles))
	for name := range h.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	factories := make(map[string]CommandQueryBundleFactory, len(h.bundles))
	for name, factory := range h.bundles {
		factories[name] = factory
	}
	h.mu.RUnlock()

	result := make(map[string]any, len(names))
	for _, name := range names {
		bundle, err := factories[name](service)
		if err != nil {
			return nil, err
		}
		result[name] = bundle
	}
	return result, nil
}

func (h *ExtensionHooks) InboundHandlerPacks() []InboundHandlerPack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.handlerPacks))
	for name := range h.handlerPacks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]InboundHandlerPack, 0, len(names))
	for _, name := range names {
		pack := h.handlerPacks[name]
		out = append(out, InboundHandlerPack{
			Name:     pack.Name,
			Handlers: append([]twilio.InboundHandler(nil), pack.Handlers...),
		})
	}
	return out
}

func (h *ExtensionHooks) BundleNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.bundles))
	for name := range h.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StaticReply answers every inbound message with the same text.
func StaticReply(text string) twilio.InboundHandler {
	return func(context.Context, twilio.Message) (string, error) {
		return text, nil
	}
}
