package twilio

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-relay/core"
)

const (
	defaultListLimit    = 20
	defaultListLookback = 60 * time.Minute
	maxPageSize         = 1000
)

type ListOptions struct {
	// Number is the WhatsApp number whose traffic is listed; defaults to the
	// client's configured sender.
	Number   string
	Limit    int
	Lookback time.Duration
	// InboundOnly skips messages sent from Number.
	InboundOnly bool
}

// ListRecentMessages returns messages to and from the number within the
// lookback window, newest first.
func ListRecentMessages(ctx context.Context, client *Client, opts ListOptions) ([]Message, error) {
	if client == nil {
		return nil, core.BadInput("twilio: client is required", nil)
	}
	number := strings.TrimSpace(opts.Number)
	if number == "" {
		number = client.config.WhatsAppFrom
	}
	if strings.TrimSpace(number) == "" {
		return nil, core.BadInput("twilio: number is required to list messages", nil)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	lookback := opts.Lookback
	if lookback <= 0 {
		lookback = defaultListLookback
	}
	since := client.now().Add(-lookback)

	address := WhatsAppAddress(number)
	inbound, err := listMessages(ctx, client, map[string]string{"To": address}, since, limit)
	if err != nil {
		return nil, err
	}
	messages := inbound
	if !opts.InboundOnly {
		outbound, err := listMessages(ctx, client, map[string]string{"From": address}, since, limit)
		if err != nil {
			return nil, err
		}
		messages = append(messages, outbound...)
	}

	messages = dedupeMessages(messages)
	sortNewestFirst(messages)
	if len(messages) > limit {
		messages = messages[:limit]
	}
	return messages, nil
}

func listMessages(ctx context.Context, client *Client, filter map[string]string, since time.Time, limit int) ([]Message, error) {
	query := map[string]string{
		"DateSent>": since.UTC().Format("2006-01-02"),
		"PageSize":  strconv.Itoa(min(max(limit, 1), maxPageSize)),
	}
	for key, value := range filter {
		query[key] = value
	}
	raw, err := client.do(ctx, apiCall{
		bucket: "messages.list",
		method: http.MethodGet,
		url:    client.accountURL("Messages.json"),
		query:  query,
	})
	if err != nil {
		return nil, err
	}
	var page messagePage
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, decodeError("message list", err)
	}
	out := make([]Message, 0, len(page.Messages))
	for _, res := range page.Messages {
		msg := res.toMessage()
		if ts := msg.Timestamp(); ts != nil && ts.Before(since) {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func dedupeMessages(messages []Message) []Message {
	seen := make(map[string]struct{}, len(messages))
	out := messages[:0]
	for _, msg := range messages {
		if msg.SID != "" {
			if _, ok := seen[msg.SID]; ok {
				continue
			}
			seen[msg.SID] = struct{}{}
		}
		out = append(out, msg)
	}
	return out
}

func sortNewestFirst(messages []Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return timeValue(messages[i].Timestamp()).After(timeValue(messages[j].Timestamp()))
	})
}

func sortOldestFirst(messages []Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return timeValue(messages[i].Timestamp()).Before(timeValue(messages[j].Timestamp()))
	})
}

func timeValue(value *time.Time) time.Time {
	if value == nil {
		return time.Time{}
	}
	return *value
}

// FormatMessageLine renders one message on a single line:
// "[date] direction from -> to | status | body".
func FormatMessageLine(m Message) string {
	date := "unknown"
	if ts := m.Timestamp(); ts != nil {
		date = ts.UTC().Format(time.RFC3339)
	}
	direction := strings.TrimSpace(m.Direction)
	if direction == "" {
		direction = "unknown"
	}
	status := strings.TrimSpace(m.Status)
	if status == "" {
		status = "unknown"
	}
	body := strings.Join(strings.Fields(m.Body), " ")
	if m.NumMedia > 0 {
		body = strings.TrimSpace(fmt.Sprintf("%s (+%d media)", body, m.NumMedia))
	}
	return fmt.Sprintf("[%s] %s %s -> %s | %s | %s", date, direction, m.From, m.To, status, body)
}
