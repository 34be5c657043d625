// Package interview authorizes interview turns and relays the model's
// streamed reply.
package interview

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"sovereign-journalist/internal/apperr"
	"sovereign-journalist/internal/auth"
	"sovereign-journalist/internal/llm"
	"sovereign-journalist/internal/model"
)

// DefaultTimeout bounds one interview turn from request to last delta.
const DefaultTimeout = 60 * time.Second

type Orchestrator struct {
	verifier auth.Verifier
	model    llm.Model
	timeout  time.Duration
	log      *zap.Logger
}

func NewOrchestrator(verifier auth.Verifier, m llm.Model, timeout time.Duration, log *zap.Logger) *Orchestrator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{verifier: verifier, model: m, timeout: timeout, log: log.Named("interview")}
}

// Converse checks the token, then opens a model stream for the transcript.
// The token is verified before anything else so an unauthenticated caller
// never causes a model call. The returned stream must be closed.
func (o *Orchestrator) Converse(ctx context.Context, token string, transcript []model.ChatMessage) (llm.TextStream, error) {
	cred, ok := o.verifier.Verify(token)
	if !ok {
		return nil, apperr.ErrUnauthorized
	}
	if len(transcript) == 0 {
		return nil, fmt.Errorf("%w: messages array is required", apperr.ErrValidation)
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	stream, err := o.model.StreamChat(ctx, SystemPrompt(cred), transcript)
	if err != nil {
		deadline := errors.Is(ctx.Err(), context.DeadlineExceeded)
		cancel()
		if deadline && !errors.Is(err, apperr.ErrTimeout) {
			return nil, fmt.Errorf("%w: %v", apperr.ErrTimeout, err)
		}
		return nil, err
	}

	o.log.Debug("turn started", zap.Int("messages", len(transcript)))
	return &boundedStream{inner: stream, ctx: ctx, cancel: cancel, timeout: o.timeout}, nil
}

// boundedStream ties the upstream stream to the turn deadline. Closing it
// releases the deadline context, which also stops the upstream request.
type boundedStream struct {
	inner   llm.TextStream
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
}

func (s *boundedStream) Recv() (string, error) {
	text, err := s.inner.Recv()
	if err == nil || err == io.EOF {
		return text, err
	}
	if errors.Is(s.ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, apperr.ErrTimeout) {
		return "", fmt.Errorf("%w: turn exceeded %s", apperr.ErrTimeout, s.timeout)
	}
	return "", err
}

func (s *boundedStream) Close() error {
	s.cancel()
	return s.inner.Close()
}

// Relay drains stream into emit until it ends. A clean end returns nil; an
// aborted stream returns its error so the caller can tear down the response
// instead of completing it.
func Relay(stream llm.TextStream, emit func(string) error) error {
	for {
		text, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := emit(text); err != nil {
			return err
		}
	}
}
