package relay

import (
	"context"
	"fmt"

	"github.com/goliatone/go-relay/core"
	"github.com/goliatone/go-relay/twilio"
)

// Dependencies exposes optional collaborators a Messenger was built with.
type Dependencies struct {
	// RepositoryFactory is usually a *sqlstore.RepositoryFactory; it is held
	// as any so the root package does not import the store.
	RepositoryFactory any
}

// Messenger binds a Twilio client and runtime env to the command and query
// service contracts.
type Messenger struct {
	client  *twilio.Client
	runtime core.RuntimeEnv
	deps    Dependencies
}

type MessengerOption func(*Messenger)

func WithRuntime(runtime core.RuntimeEnv) MessengerOption {
	return func(m *Messenger) {
		m.runtime = runtime
	}
}

func WithRepositoryFactory(factory any) MessengerOption {
	return func(m *Messenger) {
		m.deps.RepositoryFactory = factory
	}
}

func NewMessenger(client *twilio.Client, opts ...MessengerOption) (*Messenger, error) {
	if client == nil {
		return nil, fmt.Errorf("relay: twilio client is required")
	}
	m := &Messenger{client: client, runtime: core.DefaultRuntimeEnv()}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(m)
	}
	return m, nil
}

func (m *Messenger) Client() *twilio.Client {
	if m == nil {
		return nil
	}
	return m.client
}

func (m *Messenger) Runtime() core.RuntimeEnv {
	if m == nil {
		return core.DefaultRuntimeEnv()
	}
	return m.runtime
}

func (m *Messenger) Dependencies() Dependencies {
	if m == nil {
		return Dependencies{}
	}
	return m.deps
}

func (m *Messenger) SendMessage(ctx context.Context, to string, body string, opts twilio.SendOptions) (twilio.SendResult, error) {
	return twilio.SendMessage(ctx, m.Client(), to, body, opts, m.Runtime())
}

func (m *Messenger) SendTypingIndicator(ctx context.Context, messageSid string) error {
	return twilio.SendTypingIndicator(ctx, m.Client(), messageSid, m.Runtime())
}

func (m *Messenger) UpdateWebhook(ctx context.Context, opts twilio.UpdateWebhookOptions) (twilio.WebhookUpdateResult, error) {
	return twilio.UpdateWebhook(ctx, m.Client(), opts, m.Runtime())
}

func (m *Messenger) SetMessagingServiceWebhook(ctx context.Context, serviceSid string, opts twilio.MessagingServiceWebhookOptions) error {
	return twilio.SetMessagingServiceWebhook(ctx, m.Client(), serviceSid, opts)
}

func (m *Messenger) FetchMessage(ctx context.Context, sid string) (twilio.Message, error) {
	return twilio.FetchMessage(ctx, m.Client(), sid)
}

func (m *Messenger) WaitForFinalStatus(ctx context.Context, sid string, opts twilio.StatusWaitOptions) (twilio.Message, error) {
	return twilio.WaitForFinalStatus(ctx, m.Client(), sid, opts, m.Runtime())
}

func (m *Messenger) ListRecentMessages(ctx context.Context, opts twilio.ListOptions) ([]twilio.Message, error) {
	return twilio.ListRecentMessages(ctx, m.Client(), opts)
}

func (m *Messenger) FindWhatsappSenderSid(ctx context.Context, from string, explicitSid string) (string, error) {
	return twilio.FindWhatsappSenderSid(ctx, m.Client(), from, explicitSid, m.Runtime())
}

func (m *Messenger) FindIncomingNumberSid(ctx context.Context, phoneNumber string) (string, error) {
	return twilio.FindIncomingNumberSid(ctx, m.Client(), phoneNumber)
}

func (m *Messenger) FindMessagingServiceSid(ctx context.Context, phoneNumber string) (string, error) {
	return twilio.FindMessagingServiceSid(ctx, m.Client(), phoneNumber)
}
