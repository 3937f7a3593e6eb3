package wizard

import (
	"context"
	"errors"

	"github.com/ashureev/usba/internal/domain"
	"github.com/ashureev/usba/internal/gateway"
)

// User-facing messages.
const (
	MsgRateLimited      = "The AI service is receiving too many requests. Please wait a minute and try again."
	MsgUnavailable      = "The AI service is unavailable right now. Please try again."
	MsgTimeout          = "The AI service took too long to respond. Please try again."
	MsgBadResponse      = "The AI returned a response that could not be read. Please try again."
	MsgCasinoFallback   = "Could not fetch casinos. Please proceed with manual entry."
	MsgLocationFallback = "Could not determine your jurisdiction. Defaulted to Nevada; you can change it."
	MsgInvalidRequest   = "The request could not be processed. Please check your input and try again."
)

// UserMessage maps an error to display text. Rate limiting always gets
// MsgRateLimited.
func UserMessage(err error) string {
	var ve *domain.ValidationError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, gateway.ErrRateLimited):
		return MsgRateLimited
	case errors.As(err, &ve):
		return ve.Err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return MsgTimeout
	case errors.Is(err, gateway.ErrFormat):
		return MsgBadResponse
	case errors.Is(err, gateway.ErrInvalidRequest):
		return MsgInvalidRequest
	default:
		return MsgUnavailable
	}
}

// fallbackMessage keeps the rate-limit message distinct and otherwise uses msg.
func fallbackMessage(err error, msg string) string {
	if errors.Is(err, gateway.ErrRateLimited) {
		return MsgRateLimited
	}
	return msg
}
