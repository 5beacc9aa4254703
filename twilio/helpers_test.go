package twilio

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-relay/core"
)

type capturedLog struct {
	level  string
	msg    string
	fields map[string]any
}

type captureLogger struct {
	mu      *sync.Mutex
	records *[]capturedLog
}

func newCaptureLogger() *captureLogger {
	records := []capturedLog{}
	return &captureLogger{mu: &sync.Mutex{}, records: &records}
}

func (l *captureLogger) Trace(msg string, args ...any) { l.record("trace", msg, args...) }
func (l *captureLogger) Debug(msg string, args ...any) { l.record("debug", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record("info", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.record("error", msg, args...) }
func (l *captureLogger) Fatal(msg string, args ...any) { l.record("fatal", msg, args...) }

func (l *captureLogger) WithContext(context.Context) glog.Logger { return l }

func (l *captureLogger) record(level string, msg string, args ...any) {
	fields := map[string]any{}
	for index := 0; index+1 < len(args); index += 2 {
		if key, ok := args[index].(string); ok {
			fields[key] = args[index+1]
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.records = append(*l.records, capturedLog{level: level, msg: msg, fields: fields})
}

func (l *captureLogger) find(level string, msg string) (capturedLog, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, entry := range *l.records {
		if entry.level == level && strings.Contains(entry.msg, msg) {
			return entry, true
		}
	}
	return capturedLog{}, false
}

type recordedRequest struct {
	Method string
	Path   string
	Query  url.Values
	Form   url.Values
	Body   string
	User   string
}

// fakeTwilio serves canned responses keyed by "METHOD /path".
type fakeTwilio struct {
	t        *testing.T
	server   *httptest.Server
	mu       sync.Mutex
	routes   map[string]func(w http.ResponseWriter, r *http.Request)
	requests []recordedRequest
}

func newFakeTwilio(t *testing.T) *fakeTwilio {
	t.Helper()
	f := &fakeTwilio{t: t, routes: map[string]func(http.ResponseWriter, *http.Request){}}
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeTwilio) handle(route string, handler func(w http.ResponseWriter, r *http.Request)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[route] = handler
}

func (f *fakeTwilio) json(route string, status int, body string) {
	f.handle(route, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	})
}

func (f *fakeTwilio) serve(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	r.Body = io.NopCloser(bytes.NewReader(raw))
	form, _ := url.ParseQuery(string(raw))
	user, _, _ := r.BasicAuth()

	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Form:   form,
		Body:   string(raw),
		User:   user,
	})
	handler, ok := f.routes[r.Method+" "+r.URL.Path]
	f.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"code":20404,"message":"The requested resource was not found","status":404,"more_info":"https://www.twilio.com/docs/errors/20404"}`)
		return
	}
	handler(w, r)
}

func (f *fakeTwilio) calls(method string, path string) []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []recordedRequest{}
	for _, req := range f.requests {
		if req.Method == method && req.Path == path {
			out = append(out, req)
		}
	}
	return out
}

func (f *fakeTwilio) client(t *testing.T, opts ...ClientOption) *Client {
	t.Helper()
	cfg := core.TwilioConfig{
		AccountSID:       "AC123",
		AuthToken:        "token",
		WhatsAppFrom:     "+15550001111",
		APIBaseURL:       f.server.URL + "/2010-04-01",
		MessagingBaseURL: f.server.URL,
	}
	client, err := CreateClient(cfg, append([]ClientOption{WithHTTPClient(f.server.Client())}, opts...)...)
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	return client
}

func testRuntime(logger glog.Logger, out io.Writer) core.RuntimeEnv {
	if out == nil {
		out = io.Discard
	}
	return core.NewRuntimeEnv(logger, out, true)
}

const messagesPath = "/2010-04-01/Accounts/AC123/Messages.json"

func twilioDate(ts time.Time) string {
	return ts.UTC().Format(time.RFC1123Z)
}

type memoryRecorder struct {
	mu      sync.Mutex
	records []core.MessageRecord
}

func (r *memoryRecorder) RecordMessage(_ context.Context, record core.MessageRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	return nil
}

func (r *memoryRecorder) statuses(sid string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []string{}
	for _, record := range r.records {
		if record.SID == sid {
			out = append(out, record.Status)
		}
	}
	return out
}
