package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

// Kind classifies a gateway failure.
type Kind string

const (
	KindUnavailable    Kind = "unavailable"
	KindRateLimited    Kind = "rate_limited"
	KindFormat         Kind = "format"
	KindInvalidRequest Kind = "invalid_request"
)

// Sentinels matched by errors.Is against an *Error of the same Kind.
var (
	ErrUnavailable    = errors.New("ai service unavailable")
	ErrRateLimited    = errors.New("ai service rate limited")
	ErrFormat         = errors.New("unexpected ai response format")
	ErrInvalidRequest = errors.New("invalid ai request")
	ErrMissingAPIKey  = errors.New("GEMINI_API_KEY is not set")
)

// Error is a failed gateway operation.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the Kind sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrUnavailable:
		return e.Kind == KindUnavailable
	case ErrRateLimited:
		return e.Kind == KindRateLimited
	case ErrFormat:
		return e.Kind == KindFormat
	case ErrInvalidRequest:
		return e.Kind == KindInvalidRequest
	}
	return false
}

func formatError(op, format string, args ...any) error {
	return &Error{Op: op, Kind: KindFormat, Err: fmt.Errorf(format, args...)}
}

// classify wraps a transport or API error from the SDK.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var ge *Error
	if errors.As(err, &ge) {
		return err
	}
	kind := KindUnavailable
	if isRateLimit(err) {
		kind = KindRateLimited
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

func isRateLimit(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || strings.EqualFold(apiErr.Status, "RESOURCE_EXHAUSTED") {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "resource_exhausted") ||
		strings.Contains(msg, "quota")
}
