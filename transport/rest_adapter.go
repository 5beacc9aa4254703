package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-relay/core"
)

const (
	KindREST = "rest"

	DefaultUserAgent = "go-relay/1"

	// RequestIDHeader is the header Twilio stamps on every API response.
	RequestIDHeader = "Twilio-Request-Id"
)

const (
	defaultClientTimeout       = 30 * time.Second
	defaultBodyLimit     int64 = 10 << 20
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RESTAdapter is the plain HTTP leg under the form and JSON adapters. It
// owns URL assembly, auth and the response size cap; status handling is left
// to the caller.
type RESTAdapter struct {
	Client               HTTPDoer
	DefaultHeaders       map[string]string
	MaxResponseBodyBytes int64
	Now                  func() time.Time
}

func NewRESTAdapter(client HTTPDoer) *RESTAdapter {
	if client == nil {
		client = &http.Client{Timeout: defaultClientTimeout}
	}
	return &RESTAdapter{
		Client:               client,
		DefaultHeaders:       map[string]string{"User-Agent": DefaultUserAgent},
		MaxResponseBodyBytes: defaultBodyLimit,
		Now:                  time.Now,
	}
}

func (*RESTAdapter) Kind() string {
	return KindREST
}

func (a *RESTAdapter) Do(ctx context.Context, req core.TransportRequest) (core.TransportResponse, error) {
	if a == nil || a.Client == nil {
		return core.TransportResponse{}, core.NewError("transport: rest adapter requires an http client", goerrors.CategoryInternal, map[string]any{"adapter": KindREST})
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := a.newRequest(ctx, req)
	if err != nil {
		return core.TransportResponse{}, err
	}
	target := map[string]any{"adapter": KindREST, "method": httpReq.Method, "url": redactURL(httpReq.URL)}

	started := a.now()
	httpRes, err := a.Client.Do(httpReq)
	if err != nil {
		return core.TransportResponse{}, core.WrapError(err, goerrors.CategoryExternal, "transport: twilio request failed", target)
	}
	defer httpRes.Body.Close()

	limit := bodyLimit(req.MaxResponseBodyBytes, a.MaxResponseBodyBytes)
	body, err := readCapped(httpRes.Body, limit)
	if err != nil {
		target["status_code"] = httpRes.StatusCode
		target["response_limit_b"] = limit
		return core.TransportResponse{}, core.WrapError(err, goerrors.CategoryExternal, "transport: read twilio response", target)
	}

	headers := flattenHeaders(httpRes.Header)
	meta := map[string]any{
		"duration_ms": a.now().Sub(started).Milliseconds(),
		"kind":        KindREST,
		"method":      httpReq.Method,
	}
	if id := httpRes.Header.Get(RequestIDHeader); id != "" {
		meta["request_id"] = id
	}
	return core.TransportResponse{
		StatusCode: httpRes.StatusCode,
		Headers:    headers,
		Body:       body,
		Metadata:   meta,
	}, nil
}

func (a *RESTAdapter) newRequest(ctx context.Context, req core.TransportRequest) (*http.Request, error) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	target, err := resolveURL(req.URL, req.Query)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, core.WrapError(err, goerrors.CategoryBadInput, "transport: build http request", map[string]any{"adapter": KindREST, "method": method})
	}
	// Request headers win over adapter defaults.
	setHeaders(httpReq.Header, a.DefaultHeaders)
	setHeaders(httpReq.Header, req.Headers)
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", DefaultUserAgent)
	}
	if req.BasicAuth != nil {
		httpReq.SetBasicAuth(req.BasicAuth.Username, req.BasicAuth.Password)
	}
	return httpReq, nil
}

func (a *RESTAdapter) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// resolveURL requires an absolute http(s) URL and merges query parameters
// over any already present in it.
func resolveURL(raw string, query map[string]string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, core.BadInput("transport: request url is required", map[string]any{"adapter": KindREST})
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, core.WrapError(err, goerrors.CategoryBadInput, "transport: invalid request url", map[string]any{"adapter": KindREST})
	}
	if parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, core.BadInput("transport: request url must be absolute http(s)", map[string]any{"adapter": KindREST, "url": redactURL(parsed)})
	}
	if len(query) == 0 {
		return parsed, nil
	}
	values := parsed.Query()
	for key, value := range query {
		if key = strings.TrimSpace(key); key != "" {
			values.Set(key, strings.TrimSpace(value))
		}
	}
	parsed.RawQuery = values.Encode()
	return parsed, nil
}

// redactURL drops userinfo and the query so credentials and phone numbers
// stay out of error metadata.
func redactURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	clean := *u
	clean.User = nil
	clean.RawQuery = ""
	clean.Fragment = ""
	return clean.String()
}

func setHeaders(dst http.Header, src map[string]string) {
	for key, value := range src {
		if key = strings.TrimSpace(key); key != "" {
			dst.Set(key, strings.TrimSpace(value))
		}
	}
}

var errBodyTooLarge = errors.New("response body exceeds limit")

func readCapped(r io.Reader, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w of %d bytes", errBodyTooLarge, limit)
	}
	return body, nil
}

func flattenHeaders(headers http.Header) map[string]string {
	flat := make(map[string]string, len(headers))
	for key, values := range headers {
		flat[key] = strings.Join(values, ",")
	}
	return flat
}

func bodyLimit(perRequest, adapter int64) int64 {
	switch {
	case perRequest > 0:
		return perRequest
	case adapter > 0:
		return adapter
	default:
		return defaultBodyLimit
	}
}

var _ core.TransportAdapter = (*RESTAdapter)(nil)
