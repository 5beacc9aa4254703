package gocommand

import (
	"fmt"

	relay "github.com/goliatone/go-relay"
	relaycommand "github.com/goliatone/go-relay/command"
	"github.com/goliatone/go-relay/core"
	relayquery "github.com/goliatone/go-relay/query"
	"github.com/goliatone/go-relay/twilio"
)

// RegisterFacade puts every relay command and query on the bus, so callers
// can Dispatch and Query relay messages. On failure the handlers registered
// so far are released.
func RegisterFacade(bus *Bus, facade *relay.Facade) error {
	if bus == nil || bus.registry == nil {
		return errBusNotConfigured
	}
	if facade == nil {
		return fmt.Errorf("gocommand: relay facade is required")
	}
	commands := facade.Commands()
	queries := facade.Queries()

	steps := []func() error{
		func() error {
			return Handle[relaycommand.SendMessageMessage](bus, commands.SendMessage)
		},
		func() error {
			return Handle[relaycommand.SendTypingIndicatorMessage](bus, commands.SendTypingIndicator)
		},
		func() error {
			return Handle[relaycommand.UpdateWebhookMessage](bus, commands.UpdateWebhook)
		},
		func() error {
			return Handle[relaycommand.SetMessagingServiceWebhookMessage](bus, commands.SetMessagingServiceWebhook)
		},
		func() error {
			return HandleQuery[relayquery.FetchMessageMessage, twilio.Message](bus, queries.FetchMessage)
		},
		func() error {
			return HandleQuery[relayquery.WaitForFinalStatusMessage, twilio.Message](bus, queries.WaitForFinalStatus)
		},
		func() error {
			return HandleQuery[relayquery.ListRecentMessagesMessage, []twilio.Message](bus, queries.ListRecentMessages)
		},
		func() error {
			return HandleQuery[relayquery.ListStoredMessagesMessage, []core.MessageRecord](bus, queries.ListStoredMessages)
		},
		func() error {
			return HandleQuery[relayquery.FindWhatsappSenderSidMessage, string](bus, queries.FindWhatsappSenderSid)
		},
		func() error {
			return HandleQuery[relayquery.FindIncomingNumberSidMessage, string](bus, queries.FindIncomingNumberSid)
		},
		func() error {
			return HandleQuery[relayquery.FindMessagingServiceSidMessage, string](bus, queries.FindMessagingServiceSid)
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			bus.Close()
			return err
		}
	}
	return nil
}
