// Package llm is the boundary to the external language model. The model is a
// black box that either streams text deltas for a chat transcript or returns
// one completion for a single prompt.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"

	"sovereign-journalist/internal/apperr"
	"sovereign-journalist/internal/model"
)

// TextStream yields incremental text. Recv returns io.EOF once the upstream
// stream has ended cleanly; any other error means the stream was aborted.
type TextStream interface {
	Recv() (string, error)
	Close() error
}

type Model interface {
	// Name identifies the model in article metadata.
	Name() string
	StreamChat(ctx context.Context, system string, transcript []model.ChatMessage) (TextStream, error)
	Generate(ctx context.Context, prompt string) (string, error)
}

const (
	defaultTemperature     = 0.7
	defaultMaxOutputTokens = 4096
)

// transportError classifies a failed round trip. Deadlines become
// apperr.ErrTimeout, everything else apperr.ErrUpstream.
func transportError(op string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %s: %v", apperr.ErrTimeout, op, err)
	}
	return fmt.Errorf("%w: %s: %v", apperr.ErrUpstream, op, err)
}

func statusError(op string, status int, body string) error {
	if status == 429 {
		return fmt.Errorf("%w: %s: status %d", apperr.ErrThrottled, op, status)
	}
	return fmt.Errorf("%w: %s: status %d: %s", apperr.ErrUpstream, op, status, truncate(body, 512))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// geminiRole maps transcript roles onto the provider's turn roles.
func geminiRole(role string) string {
	if role == model.RoleAssistant {
		return "model"
	}
	return "user"
}
