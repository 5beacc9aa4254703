package twilio

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-relay/core"
	"github.com/goliatone/go-relay/webhooks"
)

const (
	defaultMonitorInterval = 5 * time.Second
	defaultMonitorLookback = 5 * time.Minute
	monitorPageSize        = 50
	monitorLedgerLease     = time.Minute
)

// InboundHandler reacts to an inbound message. A non-empty reply is sent back
// to the sender.
type InboundHandler func(ctx context.Context, msg Message) (reply string, err error)

type MonitorOptions struct {
	// Number is the WhatsApp number to watch; defaults to the client's sender.
	Number   string
	Interval time.Duration
	Lookback time.Duration
	// MaxIterations stops the loop after that many polls; zero polls until
	// the context is cancelled.
	MaxIterations int
	OnMessage     InboundHandler
	// TypingIndicator sends a typing indicator before each reply.
	TypingIndicator bool
	// Ledger makes the seen set durable across restarts.
	Ledger webhooks.DeliveryLedger
}

// MonitorTwilio polls for inbound messages, prints each one once and hands it
// to OnMessage. Poll failures are logged and the loop keeps going.
func MonitorTwilio(ctx context.Context, client *Client, opts MonitorOptions, runtime core.RuntimeEnv) error {
	if client == nil {
		return core.BadInput("twilio: client is required", nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	number := strings.TrimSpace(opts.Number)
	if number == "" {
		number = client.config.WhatsAppFrom
	}
	if strings.TrimSpace(number) == "" {
		return core.BadInput("twilio: number is required to monitor", nil)
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultMonitorInterval
	}
	lookback := opts.Lookback
	if lookback <= 0 {
		lookback = defaultMonitorLookback
	}

	m := &monitor{
		client:  client,
		opts:    opts,
		runtime: runtime,
		address: WhatsAppAddress(number),
		since:   client.now().Add(-lookback),
		seen:    map[string]time.Time{},
	}
	runtime.Info(fmt.Sprintf("monitoring %s every %s", m.address, interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for iteration := 1; ; iteration++ {
		if err := m.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			runtime.Warn("twilio poll failed", "error", FormatTwilioError(err))
		}
		if opts.MaxIterations > 0 && iteration >= opts.MaxIterations {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

type monitor struct {
	client  *Client
	opts    MonitorOptions
	runtime core.RuntimeEnv
	address string
	since   time.Time
	seen    map[string]time.Time
}

func (m *monitor) poll(ctx context.Context) error {
	messages, err := listMessages(ctx, m.client, map[string]string{"To": m.address}, m.since, monitorPageSize)
	if err != nil {
		return err
	}
	sortOldestFirst(messages)

	latest := m.since
	for _, msg := range messages {
		if !msg.Inbound() || msg.SID == "" {
			continue
		}
		if ts := msg.Timestamp(); ts != nil && ts.After(latest) {
			latest = *ts
		}
		if _, ok := m.seen[msg.SID]; ok {
			continue
		}
		m.seen[msg.SID] = timeValue(msg.Timestamp())
		if err := m.handle(ctx, msg); err != nil {
			m.runtime.Warn("inbound message handling failed", "sid", msg.SID, "error", FormatTwilioError(err))
		}
	}
	m.since = latest
	m.prune()
	return nil
}

func (m *monitor) handle(ctx context.Context, msg Message) error {
	claimID := ""
	if m.opts.Ledger != nil {
		record, claimed, err := m.opts.Ledger.Claim(ctx, core.ProviderTwilio, msg.SID, []byte(msg.Body), monitorLedgerLease)
		if err != nil {
			return err
		}
		if !claimed {
			m.runtime.Debug("inbound message already handled", "sid", msg.SID, "status", record.Status)
			return nil
		}
		claimID = record.ClaimID
	}

	m.runtime.Println(FormatMessageLine(msg))
	m.client.record(ctx, msg)
	err := m.reply(ctx, msg)

	if m.opts.Ledger != nil {
		if err != nil {
			if failErr := m.opts.Ledger.Fail(ctx, claimID, err, m.client.now(), 0); failErr != nil {
				m.runtime.Error("inbound message release failed", "sid", msg.SID, "claim_id", claimID, "error", failErr)
			}
		} else if completeErr := m.opts.Ledger.Complete(ctx, claimID); completeErr != nil {
			return completeErr
		}
	}
	return err
}

func (m *monitor) reply(ctx context.Context, msg Message) error {
	if m.opts.OnMessage == nil {
		return nil
	}
	reply, err := m.opts.OnMessage(ctx, msg)
	if err != nil {
		return err
	}
	if strings.TrimSpace(reply) == "" {
		return nil
	}
	if m.opts.TypingIndicator {
		if err := SendTypingIndicator(ctx, m.client, msg.SID, m.runtime); err != nil {
			m.runtime.Debug("typing indicator failed", "sid", msg.SID, "error", FormatTwilioError(err))
		}
	}
	_, err = SendMessage(ctx, m.client, msg.From, reply, SendOptions{From: msg.To}, m.runtime)
	return err
}

// prune forgets SIDs older than the polling window; listMessages never
// returns them again.
func (m *monitor) prune() {
	for sid, ts := range m.seen {
		if !ts.IsZero() && ts.Before(m.since) {
			delete(m.seen, sid)
		}
	}
}
