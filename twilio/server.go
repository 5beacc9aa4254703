package twilio

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-relay/core"
	"github.com/goliatone/go-relay/webhooks"
)

const (
	DefaultStatusPath   = "/webhook/status"
	healthPath          = "/healthz"
	maxWebhookBodyBytes = 1 << 20
	contentTypeTwiML    = "text/xml; charset=utf-8"
)

type WebhookOptions struct {
	Addr string
	Path string
	// StatusPath receives delivery status callbacks.
	StatusPath string
	// PublicURL is the externally visible origin (scheme and host) Twilio
	// calls; signatures are computed over it plus the request path.
	PublicURL     string
	AuthToken     string
	SkipSignature bool
	OnMessage     InboundHandler
	// Ledger dedupes Twilio retries; defaults to an in-memory ledger.
	Ledger   webhooks.DeliveryLedger
	Recorder core.MessageRecorder
	// ShutdownTimeout bounds the graceful stop triggered by the start context.
	ShutdownTimeout time.Duration
}

// WebhookServer is a running inbound webhook listener.
type WebhookServer struct {
	server    *http.Server
	listener  net.Listener
	url       string
	done      chan error
	stopped   chan struct{}
	messages  *webhooks.Processor
	statuses  *webhooks.Processor
	publicURL string
	runtime   core.RuntimeEnv
}

// StartWebhook binds the listener and serves in the background. It returns
// once the port is bound; bind failures are returned directly.
func StartWebhook(ctx context.Context, opts WebhookOptions, runtime core.RuntimeEnv) (*WebhookServer, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		addr = core.DefaultWebhookAddr
	}
	path := normalizePath(opts.Path, core.DefaultWebhookPath)
	statusPath := normalizePath(opts.StatusPath, DefaultStatusPath)
	if statusPath == path {
		return nil, core.BadInput("twilio: webhook and status paths must differ", map[string]any{"path": path})
	}
	for _, candidate := range []string{path, statusPath} {
		if err := validateRoute(candidate); err != nil {
			return nil, err
		}
	}
	if public := strings.TrimSpace(opts.PublicURL); public != "" {
		if err := core.ValidateCallbackURL(public); err != nil {
			return nil, core.WrapError(err, goerrors.CategoryBadInput, "twilio: invalid public url", nil)
		}
	}

	var verifier webhooks.Verifier
	token := strings.TrimSpace(opts.AuthToken)
	switch {
	case opts.SkipSignature:
		runtime.Warn("webhook signature validation disabled")
	case token == "":
		runtime.Warn("webhook auth token not set, signature validation disabled")
	default:
		verifier = webhooks.NewTwilioWebhookTemplate(token).Verifier
	}
	ledger := opts.Ledger
	if ledger == nil {
		ledger = webhooks.NewMemoryDeliveryLedger()
	}

	s := &WebhookServer{
		done:      make(chan error, 1),
		stopped:   make(chan struct{}),
		publicURL: strings.TrimRight(strings.TrimSpace(opts.PublicURL), "/"),
		runtime:   runtime,
	}
	s.messages = webhooks.NewProcessor(verifier, ledger, inboundMessageHandler{opts: opts, runtime: runtime})
	s.messages.ExtractID = webhooks.NewTwilioWebhookTemplate(token).Extractor
	s.messages.Logger = runtime.Logger
	s.statuses = webhooks.NewProcessor(verifier, ledger, statusCallbackHandler{recorder: opts.Recorder, runtime: runtime})
	s.statuses.ExtractID = statusDeliveryID
	s.statuses.Logger = runtime.Logger

	mux := http.NewServeMux()
	mux.HandleFunc(healthPath, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok\n")
	})
	mux.Handle(path, s.endpoint(s.messages))
	mux.Handle(statusPath, s.endpoint(s.statuses))

	// The mux is complete before the port is bound; nothing after Listen
	// can fail.
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, core.WrapError(err, goerrors.CategoryInternal, "twilio: webhook listen failed", map[string]any{"addr": addr})
	}
	s.listener = listener
	s.url = "http://" + listener.Addr().String() + path
	if s.publicURL != "" {
		s.url = s.publicBase(path)
	}

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		err := s.server.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		close(s.stopped)
		s.done <- err
		close(s.done)
	}()

	stopTimeout := opts.ShutdownTimeout
	if stopTimeout <= 0 {
		stopTimeout = 5 * time.Second
	}
	go func() {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			defer cancel()
			_ = s.server.Shutdown(shutdownCtx)
		case <-s.stopped:
		}
	}()

	runtime.Info(fmt.Sprintf("webhook listening on %s", s.url), "addr", listener.Addr().String(), "path", path, "status_path", statusPath)
	return s, nil
}

// Addr is the bound listener address, useful with ":0".
func (s *WebhookServer) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// URL is the public URL when configured, otherwise the local one.
func (s *WebhookServer) URL() string {
	if s == nil {
		return ""
	}
	return s.url
}

func (s *WebhookServer) Shutdown(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Done yields the serve error (nil after a clean shutdown) and is then closed.
func (s *WebhookServer) Done() <-chan error {
	return s.done
}

func (s *WebhookServer) endpoint(processor *webhooks.Processor) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes+1))
		if err != nil || len(body) > maxWebhookBodyBytes {
			http.Error(w, "request body too large or unreadable", http.StatusBadRequest)
			return
		}
		if _, err := url.ParseQuery(string(body)); err != nil {
			http.Error(w, "malformed form body", http.StatusBadRequest)
			return
		}

		headers := make(map[string]string, len(r.Header))
		for key, values := range r.Header {
			headers[key] = strings.Join(values, ",")
		}
		result, err := processor.Process(r.Context(), core.InboundRequest{
			ProviderID: core.ProviderTwilio,
			Surface:    r.URL.Path,
			Headers:    headers,
			Body:       body,
			Metadata:   map[string]any{webhooks.MetadataRequestURL: s.signedURL(r)},
		})
		if err != nil {
			status := failureStatus(result, err)
			if wait, ok := result.Metadata[webhooks.MetadataRetryAfter].(time.Duration); ok && wait > 0 {
				w.Header().Set("Retry-After", strconv.FormatInt(int64(math.Ceil(wait.Seconds())), 10))
			}
			s.runtime.Warn("webhook request failed", "path", r.URL.Path, "status", status, "error", err)
			http.Error(w, http.StatusText(status), status)
			return
		}

		w.Header().Set("Content-Type", contentTypeTwiML)
		w.WriteHeader(http.StatusOK)
		if len(result.Body) == 0 {
			result.Body = TwiMLResponse("")
		}
		_, _ = w.Write(result.Body)
	})
}

// failureStatus keeps the processor's answer for a rejected signature or a
// delivery held by another attempt. Anything else is a 400 for bad input and
// a 500 otherwise, so Twilio retries.
func failureStatus(result core.InboundResult, err error) int {
	switch result.StatusCode {
	case http.StatusUnauthorized, http.StatusConflict:
		return result.StatusCode
	}
	if core.MapError(err).Category == goerrors.CategoryBadInput {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// signedURL rebuilds the URL Twilio signed: the public base when configured,
// otherwise the scheme and host the request arrived with.
func (s *WebhookServer) signedURL(r *http.Request) string {
	if s.publicURL != "" {
		return s.publicBase(r.URL.RequestURI())
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")); proto != "" {
		scheme = strings.ToLower(strings.Split(proto, ",")[0])
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// publicBase joins the origin of the public URL with the request URI.
func (s *WebhookServer) publicBase(requestURI string) string {
	base, err := url.Parse(s.publicURL)
	if err != nil {
		return s.publicURL + requestURI
	}
	return base.Scheme + "://" + base.Host + requestURI
}

type twimlResponse struct {
	XMLName  xml.Name       `xml:"Response"`
	Messages []twimlMessage `xml:"Message,omitempty"`
}

type twimlMessage struct {
	Body string `xml:",chardata"`
}

// TwiMLResponse renders a messaging TwiML document, with a single <Message>
// when reply is not blank.
func TwiMLResponse(reply string) []byte {
	doc := twimlResponse{}
	if strings.TrimSpace(reply) != "" {
		doc.Messages = []twimlMessage{{Body: reply}}
	}
	out, err := xml.Marshal(doc)
	if err != nil {
		return []byte(xml.Header + "<Response></Response>")
	}
	return append([]byte(xml.Header), out...)
}

type inboundMessageHandler struct {
	opts    WebhookOptions
	runtime core.RuntimeEnv
}

func (h inboundMessageHandler) Handle(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	form, err := url.ParseQuery(string(req.Body))
	if err != nil {
		return core.InboundResult{}, core.WrapError(err, goerrors.CategoryBadInput, "twilio: malformed webhook form", nil)
	}
	msg := MessageFromForm(form)
	h.runtime.Println(FormatMessageLine(msg))
	if h.opts.Recorder != nil {
		if err := h.opts.Recorder.RecordMessage(ctx, msg.toRecord(time.Now().UTC())); err != nil {
			h.runtime.Warn("message record failed", "sid", msg.SID, "error", err)
		}
	}

	reply := ""
	if h.opts.OnMessage != nil {
		reply, err = h.opts.OnMessage(ctx, msg)
		if err != nil {
			return core.InboundResult{}, err
		}
	}
	return core.InboundResult{
		Accepted:   true,
		StatusCode: http.StatusOK,
		Body:       TwiMLResponse(reply),
		Metadata:   map[string]any{"message_sid": msg.SID, "replied": strings.TrimSpace(reply) != ""},
	}, nil
}

type statusCallbackHandler struct {
	recorder core.MessageRecorder
	runtime  core.RuntimeEnv
}

func (h statusCallbackHandler) Handle(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	form, err := url.ParseQuery(string(req.Body))
	if err != nil {
		return core.InboundResult{}, core.WrapError(err, goerrors.CategoryBadInput, "twilio: malformed status callback", nil)
	}
	msg := MessageFromForm(form)
	msg.Direction = ""
	h.runtime.Info("message status", "sid", msg.SID, "status", msg.Status, "error_code", msg.ErrorCode)
	if h.recorder != nil {
		if err := h.recorder.RecordMessage(ctx, msg.toRecord(time.Now().UTC())); err != nil {
			return core.InboundResult{}, err
		}
	}
	return core.InboundResult{Accepted: true, StatusCode: http.StatusOK}, nil
}

func statusDeliveryID(req core.InboundRequest) (string, error) {
	form, err := url.ParseQuery(string(req.Body))
	if err != nil {
		return "", core.WrapError(err, goerrors.CategoryBadInput, "twilio: malformed status callback", nil)
	}
	sid := strings.TrimSpace(firstNonEmpty(form.Get("MessageSid"), form.Get("SmsSid")))
	status := strings.ToLower(strings.TrimSpace(firstNonEmpty(form.Get("MessageStatus"), form.Get("SmsStatus"))))
	if sid == "" || status == "" {
		return "", core.BadInput("twilio: status callback requires MessageSid and MessageStatus", nil)
	}
	return sid + ":" + status, nil
}

// MessageFromForm maps a Twilio messaging webhook form onto a Message.
func MessageFromForm(form url.Values) Message {
	msg := Message{
		SID:        strings.TrimSpace(firstNonEmpty(form.Get("MessageSid"), form.Get("SmsSid"))),
		AccountSID: strings.TrimSpace(form.Get("AccountSid")),
		From:       form.Get("From"),
		To:         form.Get("To"),
		Body:       form.Get("Body"),
		Status:     strings.ToLower(strings.TrimSpace(firstNonEmpty(form.Get("MessageStatus"), form.Get("SmsStatus"), StatusReceived))),
		Direction:  DirectionInbound,
	}
	if n, err := strconv.Atoi(strings.TrimSpace(form.Get("NumMedia"))); err == nil {
		msg.NumMedia = n
	}
	for i := 0; i < msg.NumMedia; i++ {
		if media := strings.TrimSpace(form.Get("MediaUrl" + strconv.Itoa(i))); media != "" {
			msg.MediaURLs = append(msg.MediaURLs, media)
		}
	}
	if code, err := strconv.Atoi(strings.TrimSpace(form.Get("ErrorCode"))); err == nil {
		msg.ErrorCode = code
	}
	msg.ErrorMessage = form.Get("ErrorMessage")
	now := time.Now().UTC()
	msg.DateCreated = &now
	return msg
}

func normalizePath(path string, fallback string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		path = fallback
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

// validateRoute keeps a configured path from shadowing the health check or
// every other route, and from being read as a ServeMux method or wildcard.
func validateRoute(path string) error {
	switch {
	case path == "/" || path == healthPath:
		return core.BadInput("twilio: webhook path "+path+" is reserved", map[string]any{"path": path})
	case strings.ContainsAny(path, "{} \t"):
		return core.BadInput("twilio: webhook path must be a literal path", map[string]any{"path": path})
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
