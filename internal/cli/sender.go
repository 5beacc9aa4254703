package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-relay/core"
	relayquery "github.com/goliatone/go-relay/query"
)

const (
	senderKindWhatsApp = "whatsapp"
	senderKindIncoming = "incoming"
	senderKindService  = "service"
)

func senderCmd(a *app) *cobra.Command {
	var kind string
	var explicitSID string

	c := &cobra.Command{
		Use:   "sender [number]",
		Short: "Resolve the Twilio resource SID that owns a number",
		Args:  cobra.MaximumNArgs(1),
		RunE: a.withStack(func(cmd *cobra.Command, args []string) error {
			number := a.cfg.Twilio.WhatsAppFrom
			if len(args) == 1 {
				number = args[0]
			}
			sid, err := a.lookupSender(cmd.Context(), kind, number, explicitSID)
			if err != nil {
				return err
			}
			a.runtime.Println(fmt.Sprintf("%s %s %s", kind, number, sid))
			return nil
		}),
	}

	c.Flags().StringVar(&kind, "kind", senderKindWhatsApp, "resource kind: whatsapp, incoming or service")
	c.Flags().StringVar(&explicitSID, "sid", "", "explicit WhatsApp sender SID, returned without a lookup")
	return c
}

func (a *app) lookupSender(ctx context.Context, kind string, number string, explicitSID string) (string, error) {
	queries := a.facade.Queries()
	switch kind {
	case senderKindWhatsApp:
		return queries.FindWhatsappSenderSid.Query(ctx, relayquery.FindWhatsappSenderSidMessage{From: number, ExplicitSID: explicitSID})
	case senderKindIncoming:
		return queries.FindIncomingNumberSid.Query(ctx, relayquery.FindIncomingNumberSidMessage{PhoneNumber: number})
	case senderKindService:
		return queries.FindMessagingServiceSid.Query(ctx, relayquery.FindMessagingServiceSidMessage{PhoneNumber: number})
	default:
		return "", core.BadInput(fmt.Sprintf("unknown sender kind %q", kind), map[string]any{"kind": kind})
	}
}
