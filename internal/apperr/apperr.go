// Package apperr defines the failure taxonomy shared by every request path.
// Components wrap these sentinels with fmt.Errorf("%w: ...") and the HTTP
// boundary maps them to status codes. Callers should match with errors.Is.
package apperr

import (
	"errors"
	"net/http"
	"time"
)

var (
	// ErrUnauthorized covers invalid, forged and expired session tokens.
	ErrUnauthorized = errors.New("invalid or expired session")

	// ErrValidation covers malformed or too-short input.
	ErrValidation = errors.New("validation failed")

	// ErrThrottled means the model provider rate limited us.
	ErrThrottled = errors.New("rate limited")

	// ErrUpstream covers non-success or malformed responses from external services.
	ErrUpstream = errors.New("upstream failure")

	// ErrSynthesis means the model output broke the article JSON contract.
	ErrSynthesis = errors.New("article synthesis failed")

	ErrTimeout = errors.New("upstream timeout")

	ErrNotFound = errors.New("not found")
)

// RetryAfter is the back-off recommended to callers on ErrThrottled.
const RetryAfter = 15 * time.Second

// Status maps an error to the HTTP status returned at the request boundary.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrThrottled):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrSynthesis):
		return http.StatusBadGateway
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the text that may be shown to the client. Validation
// errors carry their detail; everything else gets a fixed message so that
// upstream bodies and internal state never leak.
func PublicMessage(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "Invalid or expired session"
	case errors.Is(err, ErrValidation):
		return err.Error()
	case errors.Is(err, ErrNotFound):
		return "Not found"
	case errors.Is(err, ErrThrottled):
		return "Rate limited. Please wait a moment and try again."
	case errors.Is(err, ErrSynthesis):
		return "The article draft came back malformed. Try regenerating."
	case errors.Is(err, ErrTimeout):
		return "The request took too long. Please try again."
	default:
		return "Request failed"
	}
}

// FromStatus is the inverse of Status, used by clients decoding error replies.
func FromStatus(code int) error {
	switch code {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusBadRequest:
		return ErrValidation
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrThrottled
	case http.StatusBadGateway:
		return ErrSynthesis
	case http.StatusGatewayTimeout:
		return ErrTimeout
	default:
		return ErrUpstream
	}
}
