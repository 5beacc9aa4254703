package cli

import (
	"fmt"
	"strings"
	"time"

	gocmd "github.com/goliatone/go-command"
	"github.com/spf13/cobra"

	relaycommand "github.com/goliatone/go-relay/command"
	relayquery "github.com/goliatone/go-relay/query"
	"github.com/goliatone/go-relay/twilio"
)

func sendCmd(a *app) *cobra.Command {
	var opts twilio.SendOptions
	var wait bool
	var timeout time.Duration

	c := &cobra.Command{
		Use:   "send <to> [body...]",
		Short: "Send a WhatsApp (or SMS) message",
		Args:  cobra.MinimumNArgs(1),
		RunE: a.withStack(func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			collector := gocmd.NewResult[twilio.SendResult]()
			err := a.facade.Commands().SendMessage.Execute(gocmd.ContextWithResult(ctx, collector), relaycommand.SendMessageMessage{
				To:      args[0],
				Body:    strings.Join(args[1:], " "),
				Options: opts,
			})
			if err != nil {
				return err
			}
			sent, _ := collector.Load()
			a.runtime.Println(fmt.Sprintf("sent %s to %s (%s)", sent.SID, sent.To, sent.Status))
			if !wait {
				return nil
			}
			return a.waitAndPrint(cmd, sent.SID, timeout)
		}),
	}

	c.Flags().StringVar(&opts.From, "from", "", "sender number, defaults to the configured WhatsApp sender")
	c.Flags().StringSliceVar(&opts.MediaURLs, "media", nil, "media URL to attach (repeatable)")
	c.Flags().StringVar(&opts.StatusCallback, "status-callback", "", "absolute URL for delivery status callbacks")
	c.Flags().StringVar(&opts.Channel, "channel", twilio.ChannelWhatsApp, "delivery channel: whatsapp or sms")
	c.Flags().BoolVar(&wait, "wait", false, "wait for a final delivery status")
	c.Flags().DurationVar(&timeout, "timeout", 0, "status wait timeout, defaults to the configured value")
	return c
}

func statusCmd(a *app) *cobra.Command {
	var wait bool
	var timeout time.Duration

	c := &cobra.Command{
		Use:   "status <message-sid>",
		Short: "Show the current status of a message",
		Args:  cobra.ExactArgs(1),
		RunE: a.withStack(func(cmd *cobra.Command, args []string) error {
			if wait {
				return a.waitAndPrint(cmd, args[0], timeout)
			}
			msg, err := a.facade.Queries().FetchMessage.Query(cmd.Context(), relayquery.FetchMessageMessage{SID: args[0]})
			if err != nil {
				return err
			}
			a.runtime.Println(twilio.FormatMessageLine(msg))
			return nil
		}),
	}

	c.Flags().BoolVar(&wait, "wait", false, "poll until the message reaches a final status")
	c.Flags().DurationVar(&timeout, "timeout", 0, "status wait timeout, defaults to the configured value")
	return c
}

func typingCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "typing <inbound-message-sid>",
		Short: "Show a typing indicator on the conversation of an inbound message",
		Args:  cobra.ExactArgs(1),
		RunE: a.withStack(func(cmd *cobra.Command, args []string) error {
			err := a.facade.Commands().SendTypingIndicator.Execute(cmd.Context(), relaycommand.SendTypingIndicatorMessage{
				MessageSID: args[0],
			})
			if err != nil {
				return err
			}
			a.runtime.Println("typing indicator sent for " + args[0])
			return nil
		}),
	}
}

// waitAndPrint prints the final state of the message. A failed delivery is
// printed and returned so the process exits non-zero.
func (a *app) waitAndPrint(cmd *cobra.Command, sid string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = time.Duration(a.cfg.Polling.StatusTimeoutSeconds) * time.Second
	}
	msg, err := a.facade.Queries().WaitForFinalStatus.Query(cmd.Context(), relayquery.WaitForFinalStatusMessage{
		SID: sid,
		Options: twilio.StatusWaitOptions{
			PollInterval: time.Duration(a.cfg.Polling.StatusPollSeconds) * time.Second,
			Timeout:      timeout,
		},
	})
	if msg.SID != "" {
		a.runtime.Println(twilio.FormatMessageLine(msg))
	}
	return err
}
