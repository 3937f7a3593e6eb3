package domain

import (
	"errors"
	"fmt"
)

// Validation sentinels. They are wrapped in *ValidationError with the offending field.
var (
	ErrInvalidBankroll      = errors.New("bankroll must be greater than zero")
	ErrGoalNotAboveBankroll = errors.New("goal must be greater than bankroll")
	ErrInvalidFreePlay      = errors.New("free play cannot be negative")
	ErrMissingJurisdiction  = errors.New("jurisdiction is required")
	ErrMissingCasino        = errors.New("casino is required")
	ErrInvalidBet           = errors.New("bet must be greater than zero")
	ErrInvalidWin           = errors.New("win cannot be negative")
	ErrStageOutOfRange      = errors.New("stage index out of range")
	ErrEmptyStrategy        = errors.New("bet strategy cannot be empty")
	ErrInvalidHouseEdge     = errors.New("house edge must be between 0 and 100 percent")
)

// ValidationError reports a rejected user-supplied value.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

// IsValidation reports whether err is (or wraps) a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
