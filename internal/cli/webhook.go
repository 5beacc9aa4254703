package cli

import (
	"net/http"
	"strings"
	"time"

	gocmd "github.com/goliatone/go-command"
	"github.com/spf13/cobra"

	relaycommand "github.com/goliatone/go-relay/command"
	"github.com/goliatone/go-relay/twilio"
	"github.com/goliatone/go-relay/webhook"
)

func webhookCmd(a *app) *cobra.Command {
	var addr string
	var path string
	var reply string
	var pruneEvery time.Duration
	var retention time.Duration

	c := &cobra.Command{
		Use:   "webhook",
		Short: "Serve the inbound message webhook until interrupted",
		Args:  cobra.NoArgs,
		RunE: a.withStack(func(cmd *cobra.Command, _ []string) error {
			handler, err := a.inboundHandler(reply)
			if err != nil {
				return err
			}
			opts := twilio.WebhookOptions{
				Addr:          firstNonEmpty(addr, a.cfg.Webhook.Addr),
				Path:          firstNonEmpty(path, a.cfg.Webhook.Path),
				PublicURL:     a.cfg.Webhook.PublicURL,
				AuthToken:     a.cfg.Twilio.AuthToken,
				SkipSignature: a.cfg.Webhook.SkipSignature,
				OnMessage:     handler,
				Ledger:        a.ledger(),
			}
			if a.repos != nil {
				opts.Recorder = a.repos.MessageStore()
			}

			ctx := cmd.Context()
			if pruneEvery > 0 {
				stop, err := a.startPruning(ctx, pruneEvery, retention)
				if err != nil {
					return err
				}
				defer stop()
			}

			server, err := webhook.StartWebhook(ctx, opts, a.runtime)
			if err != nil {
				return err
			}
			a.runtime.Println("listening on " + server.URL())

			// Cancelling the command context shuts the server down gracefully.
			return <-server.Done()
		}),
	}

	c.Flags().StringVar(&addr, "addr", "", "listen address, defaults to webhook.addr")
	c.Flags().StringVar(&path, "path", "", "inbound message path, defaults to webhook.path")
	c.Flags().StringVar(&reply, "reply", "", "static reply sent to every inbound message")
	c.Flags().DurationVar(&pruneEvery, "prune-every", 0, "prune settled deliveries on this interval, needs store.driver")
	c.Flags().DurationVar(&retention, "retention", defaultDeliveryRetention, "how long settled deliveries are kept")
	return c
}

func setWebhookCmd(a *app) *cobra.Command {
	var opts twilio.UpdateWebhookOptions
	var serviceSID string

	c := &cobra.Command{
		Use:   "set-webhook <callback-url>",
		Short: "Point inbound traffic for the number at a callback URL",
		Args:  cobra.ExactArgs(1),
		RunE: a.withStack(func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			opts.CallbackURL = args[0]
			if strings.TrimSpace(serviceSID) != "" {
				err := a.facade.Commands().SetMessagingServiceWebhook.Execute(ctx, relaycommand.SetMessagingServiceWebhookMessage{
					ServiceSID: serviceSID,
					Options: twilio.MessagingServiceWebhookOptions{
						InboundRequestURL: opts.CallbackURL,
						InboundMethod:     opts.Method,
					},
				})
				if err != nil {
					return err
				}
				a.runtime.Println("messaging service " + serviceSID + " -> " + opts.CallbackURL)
				return nil
			}

			collector := gocmd.NewResult[twilio.WebhookUpdateResult]()
			err := a.facade.Commands().UpdateWebhook.Execute(gocmd.ContextWithResult(ctx, collector), relaycommand.UpdateWebhookMessage{
				Options: opts,
			})
			if err != nil {
				return err
			}
			result, _ := collector.Load()
			for _, attempt := range result.Attempts {
				a.runtime.Warn("webhook target skipped", "target", attempt.Target, "sid", attempt.SID, "error", twilio.FormatTwilioError(attempt.Err))
			}
			a.runtime.Println(result.Target + " " + result.SID + " -> " + result.CallbackURL + " (" + result.Method + ")")
			return nil
		}),
	}

	c.Flags().StringVar(&opts.Method, "method", http.MethodPost, "HTTP method Twilio uses for the callback")
	c.Flags().StringVar(&opts.PhoneNumber, "number", "", "phone number, defaults to the configured sender")
	c.Flags().StringVar(&opts.SenderSid, "sender-sid", "", "WhatsApp sender SID, skips the lookup")
	c.Flags().StringVar(&serviceSID, "service-sid", "", "configure this messaging service instead of the number")
	return c
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
