package twilio

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-relay/core"
	"github.com/goliatone/go-relay/transport"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

// Client carries credentials, endpoints and the optional collaborators every
// Twilio call goes through.
type Client struct {
	config       core.TwilioConfig
	apiBase      string
	messagingURL string
	auth         core.BasicAuth
	timeout      time.Duration

	rest      core.TransportAdapter
	form      core.TransportAdapter
	json      core.TransportAdapter
	rateLimit core.RateLimitPolicy
	lookups   repositorycache.CacheService
	recorder  core.MessageRecorder
	logger    glog.Logger
	now       func() time.Time
}

type ClientOption func(*Client)

func WithTransport(adapter core.TransportAdapter) ClientOption {
	return func(c *Client) {
		if adapter != nil {
			c.rest = adapter
		}
	}
}

func WithHTTPClient(doer transport.HTTPDoer) ClientOption {
	return func(c *Client) {
		if doer != nil {
			c.rest = transport.NewRESTAdapter(doer)
		}
	}
}

func WithLogger(logger glog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = glog.Ensure(logger)
	}
}

func WithRateLimitPolicy(policy core.RateLimitPolicy) ClientOption {
	return func(c *Client) {
		c.rateLimit = policy
	}
}

// WithLookupCache caches sender and number SID lookups.
func WithLookupCache(service repositorycache.CacheService) ClientOption {
	return func(c *Client) {
		c.lookups = service
	}
}

func WithMessageRecorder(recorder core.MessageRecorder) ClientOption {
	return func(c *Client) {
		c.recorder = recorder
	}
}

func WithNow(now func() time.Time) ClientOption {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// CreateClient validates credentials and builds a Client. API key credentials
// win over the auth token for basic auth.
func CreateClient(cfg core.TwilioConfig, opts ...ClientOption) (*Client, error) {
	if err := cfg.ValidateCredentials(); err != nil {
		return nil, core.WrapError(err, goerrors.CategoryBadInput, "twilio: invalid credentials", nil)
	}
	cfg.AccountSID = strings.TrimSpace(cfg.AccountSID)

	client := &Client{
		config:       cfg,
		apiBase:      trimBase(cfg.APIBaseURL, core.DefaultAPIBaseURL),
		messagingURL: trimBase(cfg.MessagingBaseURL, core.DefaultMessagingBaseURL),
		auth:         core.BasicAuth{Username: cfg.AccountSID, Password: strings.TrimSpace(cfg.AuthToken)},
		logger:       glog.Nop(),
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	if key, secret := strings.TrimSpace(cfg.APIKey), strings.TrimSpace(cfg.APISecret); key != "" && secret != "" {
		client.auth = core.BasicAuth{Username: key, Password: secret}
	}
	if cfg.RequestTimeoutSeconds > 0 {
		client.timeout = time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	if client.rest == nil {
		client.rest = transport.NewRESTAdapter(nil)
	}
	client.form = transport.NewFormAdapter(client.rest)
	client.json = transport.NewJSONAdapter(client.rest)
	return client, nil
}

func (c *Client) AccountSID() string {
	if c == nil {
		return ""
	}
	return c.config.AccountSID
}

func (c *Client) Config() core.TwilioConfig {
	if c == nil {
		return core.TwilioConfig{}
	}
	return c.config
}

func (c *Client) Logger() glog.Logger {
	if c == nil {
		return glog.Nop()
	}
	return glog.Ensure(c.logger)
}

func (c *Client) accountURL(parts ...string) string {
	return c.apiBase + "/Accounts/" + url.PathEscape(c.config.AccountSID) + "/" + strings.Join(parts, "/")
}

func (c *Client) messagingEndpoint(path string) string {
	return c.messagingURL + "/" + strings.TrimPrefix(path, "/")
}

type apiCall struct {
	bucket string
	method string
	url    string
	query  map[string]string
	form   url.Values
	json   any
}

// do runs one API call through the rate-limit policy and returns the raw
// 2xx body. Any other status becomes an *APIError inside a go-errors envelope.
func (c *Client) do(ctx context.Context, call apiCall) ([]byte, error) {
	if c == nil {
		return nil, core.NewError("twilio: client is nil", goerrors.CategoryInternal, nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	key := core.RateLimitKey{ProviderID: core.ProviderTwilio, AccountID: c.config.AccountSID, BucketKey: call.bucket}
	if c.rateLimit != nil {
		if err := c.rateLimit.BeforeCall(ctx, key); err != nil {
			return nil, err
		}
	}

	req := core.TransportRequest{
		Method:    call.method,
		URL:       call.url,
		Query:     call.query,
		BasicAuth: &c.auth,
		Timeout:   c.timeout,
		Headers:   map[string]string{"Accept": "application/json"},
	}
	adapter := c.rest
	switch {
	case call.json != nil:
		body, err := transport.EncodeJSON(call.json)
		if err != nil {
			return nil, err
		}
		req.Body = body
		adapter = c.json
	case call.form != nil:
		req.Body = transport.EncodeForm(call.form)
		adapter = c.form
	}

	res, err := adapter.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	apiErr := decodeAPIError(res.StatusCode, res.Body)
	if c.rateLimit != nil {
		meta := core.ProviderResponseMeta{StatusCode: res.StatusCode, Headers: res.Headers, Metadata: map[string]any{"bucket": call.bucket}}
		if apiErr != nil && apiErr.Code != 0 {
			meta.Metadata["twilio_code"] = apiErr.Code
		}
		if err := c.rateLimit.AfterCall(ctx, key, meta); err != nil {
			c.Logger().Warn("twilio rate limit bookkeeping failed", "bucket", call.bucket, "error", err)
		}
	}
	if apiErr != nil {
		return nil, apiErr.envelope(call.method, call.url)
	}
	return res.Body, nil
}

func trimBase(value string, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		value = fallback
	}
	return strings.TrimRight(value, "/")
}

func statusOK(code int) bool {
	return code >= http.StatusOK && code < http.StatusMultipleChoices
}
