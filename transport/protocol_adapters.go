package transport

import (
	"context"
	"encoding/json"
	"maps"
	"net/http"
	"net/url"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-relay/core"
)

const (
	KindForm = "form"
	KindJSON = "json"

	contentTypeForm = "application/x-www-form-urlencoded"
	contentTypeJSON = "application/json"
)

// BodyAdapter fixes the method and content type for one body encoding and
// hands the call to the REST leg underneath.
type BodyAdapter struct {
	kind        string
	method      string
	contentType string
	base        core.TransportAdapter
}

// NewFormAdapter sends url-encoded bodies, the encoding the Twilio REST API
// expects for writes.
func NewFormAdapter(base core.TransportAdapter) *BodyAdapter {
	return newBodyAdapter(KindForm, contentTypeForm, base)
}

// NewJSONAdapter is used by the Content API, which takes JSON documents.
func NewJSONAdapter(base core.TransportAdapter) *BodyAdapter {
	return newBodyAdapter(KindJSON, contentTypeJSON, base)
}

func newBodyAdapter(kind, contentType string, base core.TransportAdapter) *BodyAdapter {
	if base == nil {
		base = NewRESTAdapter(nil)
	}
	return &BodyAdapter{kind: kind, method: http.MethodPost, contentType: contentType, base: base}
}

func (a *BodyAdapter) Kind() string {
	if a == nil {
		return ""
	}
	return a.kind
}

func (a *BodyAdapter) Do(ctx context.Context, req core.TransportRequest) (core.TransportResponse, error) {
	if a == nil || a.base == nil {
		return core.TransportResponse{}, core.NewError("transport: body adapter is nil", goerrors.CategoryInternal, map[string]any{"adapter": "body"})
	}
	if strings.TrimSpace(req.Method) == "" {
		req.Method = a.method
	}
	headers := map[string]string{
		"Content-Type": a.contentType,
		"Accept":       contentTypeJSON,
	}
	maps.Copy(headers, req.Headers)
	req.Headers = headers

	res, err := a.base.Do(ctx, req)
	if err != nil {
		return core.TransportResponse{}, err
	}
	meta := make(map[string]any, len(res.Metadata)+1)
	maps.Copy(meta, res.Metadata)
	meta["protocol_adapter"] = a.kind
	res.Metadata = meta
	return res, nil
}

// EncodeForm encodes values the way Twilio reads repeated parameters such as
// MediaUrl: one key per value, empty values dropped.
func EncodeForm(values url.Values) []byte {
	clean := url.Values{}
	for key, list := range values {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		for _, value := range list {
			if strings.TrimSpace(value) != "" {
				clean.Add(key, value)
			}
		}
	}
	return []byte(clean.Encode())
}

func EncodeJSON(payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, core.WrapError(err, goerrors.CategoryBadInput, "transport: encode json body", map[string]any{"adapter": KindJSON})
	}
	return body, nil
}

var _ core.TransportAdapter = (*BodyAdapter)(nil)
