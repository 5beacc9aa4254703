package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorBadInput       = "RELAY_BAD_INPUT"
	ErrorNotFound       = "RELAY_NOT_FOUND"
	ErrorUnauthorized   = "RELAY_UNAUTHORIZED"
	ErrorForbidden      = "RELAY_FORBIDDEN"
	ErrorConflict       = "RELAY_CONFLICT"
	ErrorRateLimited    = "RELAY_RATE_LIMITED"
	ErrorProvider       = "RELAY_PROVIDER_ERROR"
	ErrorExternal       = "RELAY_EXTERNAL_FAILURE"
	ErrorStatusTimeout  = "RELAY_STATUS_TIMEOUT"
	ErrorDeliveryFailed = "RELAY_DELIVERY_FAILED"
	ErrorInternal       = "RELAY_INTERNAL_ERROR"
)

// NewError builds an error envelope with the HTTP code and text code derived
// from the category.
func NewError(message string, category goerrors.Category, metadata map[string]any) *goerrors.Error {
	err := goerrors.New(message, category).
		WithCode(HTTPStatus(category)).
		WithTextCode(TextCode(category))
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func WrapError(source error, category goerrors.Category, message string, metadata map[string]any) *goerrors.Error {
	if source == nil {
		return NewError(message, category, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(HTTPStatus(category)).
		WithTextCode(TextCode(category))
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func BadInput(message string, metadata map[string]any) *goerrors.Error {
	return NewError(message, goerrors.CategoryBadInput, metadata)
}

func NotFound(message string, metadata map[string]any) *goerrors.Error {
	return NewError(message, goerrors.CategoryNotFound, metadata)
}

// InvalidField is the validation envelope for one rejected field. Scope
// prefixes the message, e.g. "command" or "query".
func InvalidField(scope, field, message string) *goerrors.Error {
	return goerrors.NewValidation(scope+": validation failed", goerrors.FieldError{Field: field, Message: message}).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorBadInput)
}

// MissingDependency reports a handler constructed without its service.
func MissingDependency(message string) *goerrors.Error {
	return NewError(message, goerrors.CategoryInternal, nil)
}

// MapError converts any error into an envelope, keeping existing envelopes.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case errors.Is(err, ErrStatusTimeout):
		return NewError(err.Error(), goerrors.CategoryOperation, nil).WithTextCode(ErrorStatusTimeout)
	case strings.Contains(msg, "not found"):
		return NewError(err.Error(), goerrors.CategoryNotFound, nil)
	case strings.Contains(msg, "throttl"), strings.Contains(msg, "rate limit"):
		return NewError(err.Error(), goerrors.CategoryRateLimit, nil)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return NewError(err.Error(), goerrors.CategoryBadInput, nil)
	}
	return WrapError(err, goerrors.CategoryInternal, "An unexpected error occurred", nil)
}

// ErrStatusTimeout marks a status wait that ran out of time before a terminal
// status was observed.
var ErrStatusTimeout = errors.New("status wait timed out")

func ensureEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = HTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = TextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func TextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryNotFound:
		return ErrorNotFound
	case goerrors.CategoryAuth:
		return ErrorUnauthorized
	case goerrors.CategoryAuthz:
		return ErrorForbidden
	case goerrors.CategoryConflict:
		return ErrorConflict
	case goerrors.CategoryRateLimit:
		return ErrorRateLimited
	case goerrors.CategoryOperation:
		return ErrorProvider
	case goerrors.CategoryExternal:
		return ErrorExternal
	default:
		return ErrorInternal
	}
}

func HTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryOperation, goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// CategoryForStatus maps a provider HTTP status onto an error category.
func CategoryForStatus(status int) goerrors.Category {
	switch {
	case status == http.StatusNotFound:
		return goerrors.CategoryNotFound
	case status == http.StatusUnauthorized:
		return goerrors.CategoryAuth
	case status == http.StatusForbidden:
		return goerrors.CategoryAuthz
	case status == http.StatusConflict:
		return goerrors.CategoryConflict
	case status == http.StatusTooManyRequests:
		return goerrors.CategoryRateLimit
	case status >= 400 && status < 500:
		return goerrors.CategoryBadInput
	default:
		return goerrors.CategoryExternal
	}
}
