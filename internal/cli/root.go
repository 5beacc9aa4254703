package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-relay/twilio"
)

// Execute runs the relay CLI against the process arguments and exits 1 on
// failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := Run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if code != 0 {
		os.Exit(code)
	}
}

// Run executes one CLI invocation and returns the process exit code. Errors
// are written to stderr in the provider's human format.
func Run(ctx context.Context, args []string, stdout io.Writer, stderr io.Writer) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "error:", twilio.FormatTwilioError(err))
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:           "relay",
		Short:         "Send, watch and route Twilio WhatsApp messages",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML config file")
	cmd.PersistentFlags().StringSliceVar(&a.envFiles, "env-file", []string{".env"}, "dotenv files read before the process environment")
	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log debug output to stderr")

	cmd.AddCommand(
		sendCmd(a),
		statusCmd(a),
		typingCmd(a),
		listCmd(a),
		monitorCmd(a),
		webhookCmd(a),
		setWebhookCmd(a),
		senderCmd(a),
	)
	return cmd
}
