package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{fmt.Errorf("%w: bad sig", ErrUnauthorized), http.StatusUnauthorized},
		{fmt.Errorf("%w: too short", ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("%w: gemini 429", ErrThrottled), http.StatusTooManyRequests},
		{fmt.Errorf("%w: not json", ErrSynthesis), http.StatusBadGateway},
		{ErrTimeout, http.StatusGatewayTimeout},
		{ErrNotFound, http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
		{ErrUpstream, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := Status(tc.err); got != tc.want {
			t.Fatalf("Status(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestPublicMessage_DoesNotLeakUpstreamDetail(t *testing.T) {
	err := fmt.Errorf("%w: gemini status 500: internal stack trace", ErrUpstream)
	if msg := PublicMessage(err); strings.Contains(msg, "stack") {
		t.Fatalf("leaked upstream detail: %q", msg)
	}
	err = fmt.Errorf("%w: signature mismatch", ErrUnauthorized)
	if msg := PublicMessage(err); strings.Contains(msg, "signature") {
		t.Fatalf("leaked auth detail: %q", msg)
	}
}

func TestPublicMessage_ValidationKeepsDetail(t *testing.T) {
	err := fmt.Errorf("%w: interview too short to publish", ErrValidation)
	if msg := PublicMessage(err); !strings.Contains(msg, "too short") {
		t.Fatalf("expected detail, got %q", msg)
	}
}

func TestFromStatusRoundTrip(t *testing.T) {
	for _, sentinel := range []error{ErrUnauthorized, ErrValidation, ErrThrottled, ErrSynthesis, ErrTimeout, ErrNotFound} {
		if got := FromStatus(Status(sentinel)); !errors.Is(got, sentinel) {
			t.Fatalf("FromStatus(Status(%v)) = %v", sentinel, got)
		}
	}
	if !errors.Is(FromStatus(http.StatusInternalServerError), ErrUpstream) {
		t.Fatalf("expected upstream for 500")
	}
}
