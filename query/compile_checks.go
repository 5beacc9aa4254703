package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-relay/core"
	"github.com/goliatone/go-relay/twilio"
)

var (
	_ gocmd.Querier[FetchMessageMessage, twilio.Message]             = (*FetchMessageQuery)(nil)
	_ gocmd.Querier[WaitForFinalStatusMessage, twilio.Message]       = (*WaitForFinalStatusQuery)(nil)
	_ gocmd.Querier[ListRecentMessagesMessage, []twilio.Message]     = (*ListRecentMessagesQuery)(nil)
	_ gocmd.Querier[ListStoredMessagesMessage, []core.MessageRecord] = (*ListStoredMessagesQuery)(nil)
	_ gocmd.Querier[FindWhatsappSenderSidMessage, string]            = (*FindWhatsappSenderSidQuery)(nil)
	_ gocmd.Querier[FindIncomingNumberSidMessage, string]            = (*FindIncomingNumberSidQuery)(nil)
	_ gocmd.Querier[FindMessagingServiceSidMessage, string]          = (*FindMessagingServiceSidQuery)(nil)
)
