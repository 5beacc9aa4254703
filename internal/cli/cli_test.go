package cli

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	relay "github.com/goliatone/go-relay"
)

const (
	messagesPath = "/2010-04-01/Accounts/AC123/Messages.json"
	messagePath  = "/2010-04-01/Accounts/AC123/Messages/SM1.json"
	numbersPath  = "/2010-04-01/Accounts/AC123/IncomingPhoneNumbers.json"
	numberPath   = "/2010-04-01/Accounts/AC123/IncomingPhoneNumbers/PN1.json"
	sendersPath  = "/v2/Channels/Senders"
	typingPath   = "/v2/Indicators/Typing.json"
)

// syncBuffer is written by the webhook goroutine while the test reads it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newFakeTwilio(t *testing.T, routes map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler, ok := routes[r.Method+" "+r.URL.Path]
		if !ok {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"code":20404,"message":"not found","status":404}`)
			return
		}
		handler(w, r)
	}))
	t.Cleanup(server.Close)
	return server
}

func setTwilioEnv(t *testing.T, server *httptest.Server) {
	t.Helper()
	t.Setenv("TWILIO_ACCOUNT_SID", "AC123")
	t.Setenv("TWILIO_AUTH_TOKEN", "token")
	t.Setenv("TWILIO_WHATSAPP_FROM", "+15550001111")
	t.Setenv("RELAY_STORE_DRIVER", "")
	if server != nil {
		t.Setenv("RELAY_TWILIO_API_BASE_URL", server.URL+"/2010-04-01")
		t.Setenv("RELAY_TWILIO_MESSAGING_BASE_URL", server.URL)
	}
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func writeJSON(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func TestRun_SendPrintsMessageSID(t *testing.T) {
	var form url.Values
	server := newFakeTwilio(t, map[string]http.HandlerFunc{
		"POST " + messagesPath: func(w http.ResponseWriter, r *http.Request) {
			_ = r.ParseForm()
			form = r.PostForm
			writeJSON(http.StatusCreated, `{"sid":"SM1","status":"queued","to":"whatsapp:+15559990000","from":"whatsapp:+15550001111"}`)(w, r)
		},
	})
	setTwilioEnv(t, server)

	code, stdout, stderr := runCLI(t, "send", "+15559990000", "hello", "there")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "sent SM1 to whatsapp:+15559990000 (queued)") {
		t.Fatalf("unexpected stdout %q", stdout)
	}
	if form.Get("Body") != "hello there" || form.Get("To") != "whatsapp:+15559990000" {
		t.Fatalf("unexpected form %v", form)
	}
}

func TestRun_SendWaitFailsOnUndelivered(t *testing.T) {
	server := newFakeTwilio(t, map[string]http.HandlerFunc{
		"POST " + messagesPath: writeJSON(http.StatusCreated, `{"sid":"SM1","status":"queued","to":"whatsapp:+15559990000"}`),
		"GET " + messagePath:   writeJSON(http.StatusOK, `{"sid":"SM1","status":"undelivered","error_code":63016,"error_message":"outside window"}`),
	})
	setTwilioEnv(t, server)

	code, stdout, stderr := runCLI(t, "send", "+15559990000", "hi", "--wait", "--timeout", "2s")
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stdout, "undelivered") {
		t.Fatalf("expected final status line, got %q", stdout)
	}
	if !strings.Contains(stderr, "error:") || !strings.Contains(stderr, "63016") {
		t.Fatalf("expected delivery error on stderr, got %q", stderr)
	}
}

func TestRun_ProviderErrorUsesTwilioFormat(t *testing.T) {
	server := newFakeTwilio(t, map[string]http.HandlerFunc{
		"POST " + messagesPath: writeJSON(http.StatusBadRequest, `{"code":21211,"message":"Invalid 'To' Phone Number","more_info":"https://www.twilio.com/docs/errors/21211","status":400}`),
	})
	setTwilioEnv(t, server)

	code, _, stderr := runCLI(t, "send", "+15559990000", "hi")
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	want := "error: code 21211 | status 400 | Invalid 'To' Phone Number | more: https://www.twilio.com/docs/errors/21211"
	if !strings.Contains(stderr, want) {
		t.Fatalf("expected %q in stderr, got %q", want, stderr)
	}
}

func TestRun_StatusPrintsMessageLine(t *testing.T) {
	server := newFakeTwilio(t, map[string]http.HandlerFunc{
		"GET " + messagePath: writeJSON(http.StatusOK, `{"sid":"SM1","status":"delivered","direction":"outbound-api","from":"whatsapp:+15550001111","to":"whatsapp:+15559990000","body":"hi"}`),
	})
	setTwilioEnv(t, server)

	code, stdout, stderr := runCLI(t, "status", "SM1")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "outbound-api whatsapp:+15550001111 -> whatsapp:+15559990000 | delivered | hi") {
		t.Fatalf("unexpected stdout %q", stdout)
	}
}

func TestRun_TypingPostsIndicator(t *testing.T) {
	var hits int
	server := newFakeTwilio(t, map[string]http.HandlerFunc{
		"POST " + typingPath: func(w http.ResponseWriter, r *http.Request) {
			hits++
			writeJSON(http.StatusOK, `{"success":true}`)(w, r)
		},
	})
	setTwilioEnv(t, server)

	code, stdout, stderr := runCLI(t, "typing", "SMin1")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, stderr)
	}
	if hits != 1 || !strings.Contains(stdout, "typing indicator sent for SMin1") {
		t.Fatalf("unexpected typing result hits=%d stdout=%q", hits, stdout)
	}
}

func TestRun_SenderResolvesWhatsAppSender(t *testing.T) {
	server := newFakeTwilio(t, map[string]http.HandlerFunc{
		"GET " + sendersPath: writeJSON(http.StatusOK, `{"senders":[{"sid":"XE1","sender_id":"whatsapp:+15550001111","status":"ONLINE"}],"meta":{}}`),
	})
	setTwilioEnv(t, server)

	code, stdout, stderr := runCLI(t, "sender")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "whatsapp +15550001111 XE1") {
		t.Fatalf("unexpected stdout %q", stdout)
	}
}

func TestRun_SetWebhookReportsOnlyFailedTargets(t *testing.T) {
	server := newFakeTwilio(t, map[string]http.HandlerFunc{
		"GET " + sendersPath: writeJSON(http.StatusOK, `{"senders":[],"meta":{}}`),
		"GET " + numbersPath: writeJSON(http.StatusOK, `{"incoming_phone_numbers":[{"sid":"PN1","phone_number":"+15550001111"}]}`),
		"POST " + numberPath: writeJSON(http.StatusOK, `{"sid":"PN1"}`),
	})
	setTwilioEnv(t, server)

	code, stdout, stderr := runCLI(t, "set-webhook", "https://relay.example.com/webhook/whatsapp")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "incoming_number PN1 -> https://relay.example.com/webhook/whatsapp (POST)") {
		t.Fatalf("unexpected stdout %q", stdout)
	}
	if strings.Count(stderr, "webhook target skipped") != 1 || !strings.Contains(stderr, "target=whatsapp_sender") {
		t.Fatalf("expected one skipped sender target, got %q", stderr)
	}
	if strings.Contains(stderr, "target=incoming_number") {
		t.Fatalf("successful target reported as skipped: %q", stderr)
	}
}

func TestRun_SenderRejectsUnknownKind(t *testing.T) {
	setTwilioEnv(t, nil)

	code, _, stderr := runCLI(t, "sender", "--kind", "fax")
	if code != 1 || !strings.Contains(stderr, `unknown sender kind "fax"`) {
		t.Fatalf("expected unknown kind error, got %d %q", code, stderr)
	}
}

func TestRun_MissingCredentialsExitsNonZero(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_API_KEY", "")
	t.Setenv("RELAY_STORE_DRIVER", "")

	code, _, stderr := runCLI(t, "status", "SM1")
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr, "credentials") && !strings.Contains(stderr, "account_sid") {
		t.Fatalf("expected credentials error, got %q", stderr)
	}
}

func TestRun_ListStoredNeedsStore(t *testing.T) {
	setTwilioEnv(t, nil)

	code, _, stderr := runCLI(t, "list", "--stored")
	if code != 1 || !strings.Contains(stderr, "store.driver") {
		t.Fatalf("expected store error, got %d %q", code, stderr)
	}
}

func TestRun_SentMessagesAreListedFromStore(t *testing.T) {
	server := newFakeTwilio(t, map[string]http.HandlerFunc{
		"POST " + messagesPath: writeJSON(http.StatusCreated, `{"sid":"SM1","account_sid":"AC123","status":"queued","direction":"outbound-api","to":"whatsapp:+15559990000","from":"whatsapp:+15550001111","body":"stored hello"}`),
	})
	setTwilioEnv(t, server)
	t.Setenv("RELAY_STORE_DRIVER", "sqlite3")
	t.Setenv("RELAY_STORE_DSN", "file:"+filepath.Join(t.TempDir(), "relay.db")+"?_foreign_keys=on")

	if code, _, stderr := runCLI(t, "send", "+15559990000", "stored", "hello"); code != 0 {
		t.Fatalf("send failed: %s", stderr)
	}
	code, stdout, stderr := runCLI(t, "list", "--stored")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "SM1") || !strings.Contains(stdout, "stored hello") {
		t.Fatalf("expected stored message, got %q", stdout)
	}
}

func TestRun_WebhookRepliesUntilCancelled(t *testing.T) {
	setTwilioEnv(t, nil)
	t.Setenv("RELAY_WEBHOOK_SKIP_SIGNATURE", "true")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stdout := &syncBuffer{}
	stderr := &syncBuffer{}
	done := make(chan int, 1)
	go func() {
		done <- Run(ctx, []string{"webhook", "--addr", "127.0.0.1:0", "--reply", "thanks"}, stdout, stderr)
	}()

	var endpoint string
	deadline := time.Now().Add(5 * time.Second)
	for endpoint == "" && time.Now().Before(deadline) {
		for _, line := range strings.Split(stdout.String(), "\n") {
			if strings.HasPrefix(line, "listening on ") {
				endpoint = strings.TrimPrefix(line, "listening on ")
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	if endpoint == "" {
		t.Fatalf("webhook did not start: %s", stderr.String())
	}

	form := url.Values{"MessageSid": {"SMin1"}, "From": {"whatsapp:+15559990000"}, "To": {"whatsapp:+15550001111"}, "Body": {"hello"}}
	res, err := http.PostForm(endpoint, form)
	if err != nil {
		t.Fatalf("post webhook: %v", err)
	}
	body, _ := io.ReadAll(res.Body)
	_ = res.Body.Close()
	if res.StatusCode != http.StatusOK || !strings.Contains(string(body), "<Message>thanks</Message>") {
		t.Fatalf("unexpected webhook response %d %q", res.StatusCode, body)
	}

	cancel()
	select {
	case code := <-done:
		if code != 0 {
			t.Fatalf("expected clean exit, got %d: %s", code, stderr.String())
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("webhook did not stop after cancel")
	}
}

func TestRun_WebhookPruningNeedsStore(t *testing.T) {
	setTwilioEnv(t, nil)

	code, _, stderr := runCLI(t, "webhook", "--addr", "127.0.0.1:0", "--prune-every", "1h")
	if code != 1 || !strings.Contains(stderr, "store.driver") {
		t.Fatalf("expected store error, got %d %q", code, stderr)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	cases := []struct {
		in   []string
		want string
	}{
		{[]string{"", "b"}, "b"},
		{[]string{"a", "b"}, "a"},
		{[]string{"  ", ""}, ""},
	}
	for _, c := range cases {
		if got := firstNonEmpty(c.in...); got != c.want {
			t.Errorf("firstNonEmpty(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestFormatRecordLine(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	line := formatRecordLine(relay.MessageRecord{
		SID:       "SM1",
		Direction: "inbound",
		From:      "whatsapp:+1",
		To:        "whatsapp:+2",
		Status:    "received",
		Body:      "hey",
		CreatedAt: created,
	})
	want := "[2024-05-01T12:00:00Z] SM1 inbound whatsapp:+1 -> whatsapp:+2 | received | hey"
	if line != want {
		t.Fatalf("got %q, want %q", line, want)
	}
}
