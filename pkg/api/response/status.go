package response

import (
	"errors"
	"net/http"

	"github.com/dskvich/character-chat/pkg/domain"
)

// StatusClientClosedRequest is reported when the caller went away mid-send.
const StatusClientClosedRequest = 499

func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrConversationBusy):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrQuotaExceeded):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrIdleTimeout):
		return http.StatusRequestTimeout
	case errors.Is(err, domain.ErrCancelled):
		return StatusClientClosedRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrStorage):
		return http.StatusInternalServerError
	case errors.Is(err, domain.ErrProvider):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// MessageFor is the client-facing text for err. Only errors raised for the
// caller's own input keep their detail; the rest get a fixed text.
func MessageFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrUnauthorized),
		errors.Is(err, domain.ErrConversationBusy):
		return err.Error()
	case errors.Is(err, domain.ErrRateLimited):
		return "rate limit exceeded, try again later"
	case errors.Is(err, domain.ErrQuotaExceeded):
		return "provider quota exceeded"
	case errors.Is(err, domain.ErrIdleTimeout):
		return "provider stopped responding"
	case errors.Is(err, domain.ErrCancelled):
		return "request cancelled"
	case errors.Is(err, domain.ErrNotFound):
		return "not found"
	case errors.Is(err, domain.ErrProvider):
		return "completion provider failed"
	default:
		return "internal error"
	}
}
