package relay

import (
	"fmt"
	"reflect"

	relaycommand "github.com/goliatone/go-relay/command"
	"github.com/goliatone/go-relay/core"
	relayquery "github.com/goliatone/go-relay/query"
)

type CommandQueryService interface {
	relaycommand.MessagingService
	relayquery.MessageReader
	relayquery.SenderDirectory
}

type Commands struct {
	SendMessage                *relaycommand.SendMessageCommand
	SendTypingIndicator        *relaycommand.SendTypingIndicatorCommand
	UpdateWebhook              *relaycommand.UpdateWebhookCommand
	SetMessagingServiceWebhook *relaycommand.SetMessagingServiceWebhookCommand
}

type Queries struct {
	FetchMessage            *relayquery.FetchMessageQuery
	WaitForFinalStatus      *relayquery.WaitForFinalStatusQuery
	ListRecentMessages      *relayquery.ListRecentMessagesQuery
	ListStoredMessages      *relayquery.ListStoredMessagesQuery
	FindWhatsappSenderSid   *relayquery.FindWhatsappSenderSidQuery
	FindIncomingNumberSid   *relayquery.FindIncomingNumberSidQuery
	FindMessagingServiceSid *relayquery.FindMessagingServiceSidQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	history core.MessageHistory
}

func WithMessageHistory(history core.MessageHistory) FacadeOption {
	return func(options *facadeOptions) {
		options.history = history
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("relay: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	history := cfg.history
	if history == nil {
		history = resolveMessageHistory(service)
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		SendMessage:                relaycommand.NewSendMessageCommand(service),
		SendTypingIndicator:        relaycommand.NewSendTypingIndicatorCommand(service),
		UpdateWebhook:              relaycommand.NewUpdateWebhookCommand(service),
		SetMessagingServiceWebhook: relaycommand.NewSetMessagingServiceWebhookCommand(service),
	}
	facade.queries = Queries{
		FetchMessage:            relayquery.NewFetchMessageQuery(service),
		WaitForFinalStatus:      relayquery.NewWaitForFinalStatusQuery(service),
		ListRecentMessages:      relayquery.NewListRecentMessagesQuery(service),
		ListStoredMessages:      relayquery.NewListStoredMessagesQuery(history),
		FindWhatsappSenderSid:   relayquery.NewFindWhatsappSenderSidQuery(service),
		FindIncomingNumberSid:   relayquery.NewFindIncomingNumberSidQuery(service),
		FindMessagingServiceSid: relayquery.NewFindMessagingServiceSidQuery(service),
	}

	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

func resolveMessageHistory(service CommandQueryService) core.MessageHistory {
	if service == nil {
		return nil
	}
	if history, ok := service.(core.MessageHistory); ok {
		return history
	}
	provider, ok := service.(interface {
		Dependencies() Dependencies
	})
	if !ok {
		return nil
	}
	deps := provider.Dependencies()
	if deps.RepositoryFactory == nil {
		return nil
	}

	factoryValue := reflect.ValueOf(deps.RepositoryFactory)
	if !factoryValue.IsValid() {
		return nil
	}
	if factoryValue.Kind() == reflect.Ptr && factoryValue.IsNil() {
		return nil
	}
	method := factoryValue.MethodByName("MessageStore")
	if !method.IsValid() || method.Type().NumIn() != 0 || method.Type().NumOut() != 1 {
		return nil
	}

	results, ok := safeReflectCall(method)
	if !ok || len(results) != 1 {
		return nil
	}
	candidate := results[0]
	if !candidate.IsValid() {
		return nil
	}
	if candidate.Kind() == reflect.Ptr && candidate.IsNil() {
		return nil
	}
	history, ok := candidate.Interface().(core.MessageHistory)
	if !ok {
		return nil
	}
	return history
}

func safeReflectCall(method reflect.Value) (_ []reflect.Value, ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return method.Call(nil), true
}
