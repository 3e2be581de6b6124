package domain

import (
	"context"
	"errors"
)

var (
	ErrValidation       = errors.New("validation error")
	ErrStorage          = errors.New("storage error")
	ErrNotFound         = errors.New("not found")
	ErrRateLimited      = errors.New("rate limited")
	ErrQuotaExceeded    = errors.New("quota exceeded")
	ErrProvider         = errors.New("provider error")
	ErrCancelled        = errors.New("cancelled")
	ErrConversationBusy = errors.New("conversation busy")
	ErrUnauthorized     = errors.New("unauthorized")

	// ErrIdleTimeout is the cancellation cause used when the provider stops
	// sending bytes. It classifies as ReasonCancelled.
	ErrIdleTimeout = errors.New("idle read timeout")
)

// FailureReason is the reason code of a failed stream.
type FailureReason string

const (
	ReasonNone          FailureReason = ""
	ReasonRateLimited   FailureReason = "rate_limited"
	ReasonQuotaExceeded FailureReason = "quota_exceeded"
	ReasonProviderError FailureReason = "provider_error"
	ReasonCancelled     FailureReason = "cancelled"
)

// Err returns the sentinel error of the reason.
func (r FailureReason) Err() error {
	switch r {
	case ReasonRateLimited:
		return ErrRateLimited
	case ReasonQuotaExceeded:
		return ErrQuotaExceeded
	case ReasonCancelled:
		return ErrCancelled
	case ReasonNone:
		return nil
	default:
		return ErrProvider
	}
}

// ReasonOf classifies err. Unknown errors are provider errors.
func ReasonOf(err error) FailureReason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, ErrRateLimited):
		return ReasonRateLimited
	case errors.Is(err, ErrQuotaExceeded):
		return ReasonQuotaExceeded
	case errors.Is(err, ErrCancelled),
		errors.Is(err, ErrIdleTimeout),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return ReasonCancelled
	default:
		return ReasonProviderError
	}
}
