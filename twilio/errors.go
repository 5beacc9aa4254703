package twilio

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-relay/core"
)

// APIError is the error document Twilio returns with non-2xx responses.
type APIError struct {
	Code     int    `json:"code"`
	Status   int    `json:"status"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Body     string `json:"-"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != 0 {
		return fmt.Sprintf("twilio: %s (code %d, status %d)", msg, e.Code, e.Status)
	}
	return fmt.Sprintf("twilio: %s (status %d)", msg, e.Status)
}

func decodeAPIError(status int, body []byte) *APIError {
	if statusOK(status) {
		return nil
	}
	apiErr := &APIError{Status: status, Body: strings.TrimSpace(string(body))}
	var doc APIError
	if err := json.Unmarshal(body, &doc); err == nil {
		apiErr.Code = doc.Code
		apiErr.Message = doc.Message
		apiErr.MoreInfo = doc.MoreInfo
		if doc.Status != 0 {
			apiErr.Status = doc.Status
		}
	}
	return apiErr
}

func (e *APIError) envelope(method string, url string) *goerrors.Error {
	category := core.CategoryForStatus(e.Status)
	wrapped := core.WrapError(e, category, e.Error(), map[string]any{
		"provider":    core.ProviderTwilio,
		"method":      method,
		"url":         url,
		"status":      e.Status,
		"twilio_code": e.Code,
	})
	if category == goerrors.CategoryExternal || category == goerrors.CategoryBadInput {
		wrapped.WithTextCode(core.ErrorProvider)
	}
	return wrapped
}

// FormatTwilioError renders an error for humans. A Twilio API error anywhere
// in the chain is shown as "code N | status N | message | more: url".
func FormatTwilioError(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr == nil {
		return err.Error()
	}
	parts := make([]string, 0, 4)
	if apiErr.Code != 0 {
		parts = append(parts, "code "+strconv.Itoa(apiErr.Code))
	}
	if apiErr.Status != 0 {
		parts = append(parts, "status "+strconv.Itoa(apiErr.Status))
	}
	if msg := strings.TrimSpace(apiErr.Message); msg != "" {
		parts = append(parts, msg)
	}
	if more := strings.TrimSpace(apiErr.MoreInfo); more != "" {
		parts = append(parts, "more: "+more)
	}
	if len(parts) == 0 {
		return err.Error()
	}
	return strings.Join(parts, " | ")
}

// LogTwilioSendError reports a failed send with enough detail to act on it.
func LogTwilioSendError(err error, destination string, runtime core.RuntimeEnv) {
	if err == nil {
		return
	}
	args := []any{"to", destination, "error", FormatTwilioError(err)}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr != nil {
		if apiErr.Code != 0 {
			args = append(args, "twilio_code", apiErr.Code)
		}
		if apiErr.Body != "" {
			args = append(args, "response", apiErr.Body)
		}
	}
	runtime.Error("twilio send failed", args...)
}

// DeliveryError is returned when a message reaches a failed terminal status.
type DeliveryError struct {
	SID          string
	Status       string
	ErrorCode    int
	ErrorMessage string
}

func (e *DeliveryError) Error() string {
	msg := fmt.Sprintf("twilio: message %s ended with status %s", e.SID, e.Status)
	if e.ErrorCode != 0 {
		msg += fmt.Sprintf(" (error %d", e.ErrorCode)
		if strings.TrimSpace(e.ErrorMessage) != "" {
			msg += ": " + strings.TrimSpace(e.ErrorMessage)
		}
		msg += ")"
	}
	return msg
}

func decodeError(resource string, err error) error {
	return core.WrapError(err, goerrors.CategoryExternal, "twilio: decode "+resource+" response", map[string]any{
		"resource": resource,
	})
}
