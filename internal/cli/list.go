package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	relay "github.com/goliatone/go-relay"
	"github.com/goliatone/go-relay/core"
	relayquery "github.com/goliatone/go-relay/query"
	"github.com/goliatone/go-relay/twilio"
)

func listCmd(a *app) *cobra.Command {
	var opts twilio.ListOptions
	var stored bool

	c := &cobra.Command{
		Use:   "list",
		Short: "List recent messages to and from the WhatsApp number",
		Args:  cobra.NoArgs,
		RunE: a.withStack(func(cmd *cobra.Command, _ []string) error {
			if opts.Lookback <= 0 {
				opts.Lookback = time.Duration(a.cfg.Polling.LookbackMinutes) * time.Minute
			}
			if stored {
				return a.listStored(cmd, opts)
			}
			msgs, err := a.facade.Queries().ListRecentMessages.Query(cmd.Context(), relayquery.ListRecentMessagesMessage{Options: opts})
			if err != nil {
				return err
			}
			if len(msgs) == 0 {
				a.runtime.Println("no messages")
				return nil
			}
			for _, msg := range msgs {
				a.runtime.Println(twilio.FormatMessageLine(msg))
			}
			return nil
		}),
	}

	c.Flags().StringVar(&opts.Number, "number", "", "WhatsApp number, defaults to the configured sender")
	c.Flags().IntVar(&opts.Limit, "limit", 0, "maximum messages to print")
	c.Flags().DurationVar(&opts.Lookback, "lookback", 0, "how far back to look, defaults to the configured lookback")
	c.Flags().BoolVar(&opts.InboundOnly, "inbound", false, "only show messages received by the number")
	c.Flags().BoolVar(&stored, "stored", false, "read from the local message store instead of the API")
	return c
}

func (a *app) listStored(cmd *cobra.Command, opts twilio.ListOptions) error {
	if a.repos == nil {
		return core.BadInput("list --stored needs store.driver configured", nil)
	}
	records, err := a.facade.Queries().ListStoredMessages.Query(cmd.Context(), relayquery.ListStoredMessagesMessage{
		Filter: core.MessageFilter{
			Address: opts.Number,
			Since:   time.Now().Add(-opts.Lookback),
			Limit:   opts.Limit,
		},
	})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		a.runtime.Println("no stored messages")
		return nil
	}
	for _, record := range records {
		a.runtime.Println(formatRecordLine(record))
	}
	return nil
}

func formatRecordLine(record relay.MessageRecord) string {
	return fmt.Sprintf("[%s] %s %s %s -> %s | %s | %s",
		record.CreatedAt.UTC().Format(time.RFC3339),
		record.SID,
		record.Direction,
		record.From,
		record.To,
		record.Status,
		record.Body,
	)
}

func monitorCmd(a *app) *cobra.Command {
	var opts twilio.MonitorOptions
	var reply string

	c := &cobra.Command{
		Use:   "monitor",
		Short: "Poll for inbound messages and print each one once",
		Args:  cobra.NoArgs,
		RunE: a.withStack(func(cmd *cobra.Command, _ []string) error {
			if opts.Interval <= 0 {
				opts.Interval = time.Duration(a.cfg.Polling.IntervalSeconds) * time.Second
			}
			if opts.Lookback <= 0 {
				opts.Lookback = time.Duration(a.cfg.Polling.LookbackMinutes) * time.Minute
			}
			handler, err := a.inboundHandler(reply)
			if err != nil {
				return err
			}
			opts.OnMessage = handler
			opts.Ledger = a.ledger()
			a.runtime.Info("monitoring inbound messages", "interval", opts.Interval.String(), "lookback", opts.Lookback.String())
			return twilio.MonitorTwilio(cmd.Context(), a.client, opts, a.runtime)
		}),
	}

	c.Flags().StringVar(&opts.Number, "number", "", "WhatsApp number, defaults to the configured sender")
	c.Flags().DurationVar(&opts.Interval, "interval", 0, "poll interval, defaults to the configured interval")
	c.Flags().DurationVar(&opts.Lookback, "lookback", 0, "initial lookback window")
	c.Flags().IntVar(&opts.MaxIterations, "max-polls", 0, "stop after this many polls, zero runs until interrupted")
	c.Flags().BoolVar(&opts.TypingIndicator, "typing", false, "send a typing indicator before each reply")
	c.Flags().StringVar(&reply, "reply", "", "static reply sent to every inbound message")
	return c
}

// inboundHandler resolves the reply handler from the flag, falling back to
// webhook.reply in config. Nil means messages are only printed.
func (a *app) inboundHandler(reply string) (twilio.InboundHandler, error) {
	if reply == "" {
		reply = a.cfg.Webhook.Reply
	}
	hooks := relay.NewExtensionHooks()
	if reply != "" {
		if err := hooks.RegisterInboundHandlerPack(relay.InboundHandlerPack{
			Name:     "static_reply",
			Handlers: []twilio.InboundHandler{relay.StaticReply(reply)},
		}); err != nil {
			return nil, err
		}
	}
	return hooks.InboundHandler(), nil
}
