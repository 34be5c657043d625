package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sovereign-journalist/internal/apperr"
	"sovereign-journalist/internal/model"
)

type State string

const (
	StateIdle         State = "idle"
	StateVerifying    State = "verifying"
	StateSubmitting   State = "submitting"
	StateAuthorized   State = "authorized"
	StateInterviewing State = "interviewing"
	StatePreviewing   State = "previewing"
	StatePublished    State = "published"
	StateError        State = "error"
)

// MinPublishMessages is how long a transcript must be before a draft is
// offered. The server accepts shorter ones; the client asks for more material.
const MinPublishMessages = 6

var ErrInvalidTransition = errors.New("invalid state transition")

// Backend is the subset of API the machine drives.
type Backend interface {
	Verify(ctx context.Context, proofs json.RawMessage) (model.VerifiedCredential, string, error)
	Interview(ctx context.Context, token string, transcript []model.ChatMessage, onDelta func(string)) (string, error)
	Generate(ctx context.Context, token string, transcript []model.ChatMessage) (model.IPFSArticle, error)
	Publish(ctx context.Context, token string, doc model.IPFSArticle) (string, error)
}

// Machine walks a source through verify, interview and publish. It is not
// safe for concurrent use.
type Machine struct {
	backend Backend
	session Session

	state State
	// resume is where Retry returns to from StateError.
	resume State
	err    error
	cid    string

	sleep     func(ctx context.Context, d time.Duration) error
	countdown func(remaining time.Duration)
}

type Option func(*Machine)

// WithCountdown receives the remaining wait once per second before a
// throttled turn is retried.
func WithCountdown(fn func(remaining time.Duration)) Option {
	return func(m *Machine) { m.countdown = fn }
}

func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Machine) { m.sleep = fn }
}

func NewMachine(b Backend, opts ...Option) *Machine {
	m := &Machine{backend: b, state: StateIdle, sleep: sleepContext, countdown: func(time.Duration) {}}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (m *Machine) State() State { return m.state }

// Err is the failure that put the machine in StateError or sent it back to
// StateIdle.
func (m *Machine) Err() error { return m.err }

// CID is set once the article is published.
func (m *Machine) CID() string { return m.cid }

func (m *Machine) Transcript() []model.ChatMessage {
	return append([]model.ChatMessage(nil), m.session.Transcript...)
}

func (m *Machine) Draft() (model.IPFSArticle, bool) {
	if m.session.Draft == nil {
		return model.IPFSArticle{}, false
	}
	return *m.session.Draft, true
}

func (m *Machine) Credential() (model.VerifiedCredential, bool) {
	if m.session.Credential == nil {
		return model.VerifiedCredential{}, false
	}
	return *m.session.Credential, true
}

func (m *Machine) expect(states ...State) error {
	for _, s := range states {
		if m.state == s {
			return nil
		}
	}
	return fmt.Errorf("%w: cannot act from %s", ErrInvalidTransition, m.state)
}

// fail records err. An authorization failure erases the session and sends the
// source back to the start; anything else parks the machine in StateError
// until Retry.
func (m *Machine) fail(err error, resume State) error {
	m.err = err
	if errors.Is(err, apperr.ErrUnauthorized) {
		m.session.Purge()
		m.state = StateIdle
		return err
	}
	m.resume = resume
	m.state = StateError
	return err
}

// StartVerification marks the proof flow as running.
func (m *Machine) StartVerification() error {
	if err := m.expect(StateIdle); err != nil {
		return err
	}
	m.err = nil
	m.state = StateVerifying
	return nil
}

// FailVerification reports that proof generation itself failed.
func (m *Machine) FailVerification(err error) error {
	if err := m.expect(StateVerifying); err != nil {
		return err
	}
	return m.fail(err, StateVerifying)
}

// SubmitProofs exchanges proofs for a session token.
func (m *Machine) SubmitProofs(ctx context.Context, proofs json.RawMessage) error {
	if err := m.expect(StateVerifying); err != nil {
		return err
	}
	m.state = StateSubmitting
	cred, token, err := m.backend.Verify(ctx, proofs)
	if err != nil {
		return m.fail(err, StateVerifying)
	}
	m.session.Credential = &cred
	m.session.Token = token
	m.state = StateAuthorized
	return nil
}

// Ask sends one source message and returns the interviewer's reply. The
// exchange is appended to the transcript only when the reply completed. A
// throttled turn is retried once after the recommended wait.
func (m *Machine) Ask(ctx context.Context, text string, onDelta func(string)) (string, error) {
	if err := m.expect(StateAuthorized, StateInterviewing, StatePreviewing); err != nil {
		return "", err
	}
	m.state = StateInterviewing

	turn := append(m.Transcript(), model.ChatMessage{Role: model.RoleUser, Content: text})
	reply, err := m.backend.Interview(ctx, m.session.Token, turn, onDelta)
	if errors.Is(err, apperr.ErrThrottled) {
		if werr := m.waitThrottled(ctx, err); werr != nil {
			return "", m.fail(werr, StateInterviewing)
		}
		reply, err = m.backend.Interview(ctx, m.session.Token, turn, onDelta)
	}
	if err != nil {
		return "", m.fail(err, StateInterviewing)
	}

	m.session.Transcript = append(turn, model.ChatMessage{Role: model.RoleAssistant, Content: reply})
	m.session.Draft = nil
	return reply, nil
}

func (m *Machine) waitThrottled(ctx context.Context, err error) error {
	wait := apperr.RetryAfter
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		wait = apiErr.RetryAfter
	}
	for remaining := wait; remaining > 0; remaining -= time.Second {
		m.countdown(remaining)
		step := min(time.Second, remaining)
		if err := m.sleep(ctx, step); err != nil {
			return err
		}
	}
	return nil
}

// Generate drafts the article, or regenerates it from StatePreviewing.
func (m *Machine) Generate(ctx context.Context) (model.IPFSArticle, error) {
	if err := m.expect(StateInterviewing, StatePreviewing); err != nil {
		return model.IPFSArticle{}, err
	}
	if n := len(m.session.Transcript); n < MinPublishMessages {
		return model.IPFSArticle{}, fmt.Errorf("%w: interview has %d messages, need %d", apperr.ErrValidation, n, MinPublishMessages)
	}

	from := m.state
	doc, err := m.backend.Generate(ctx, m.session.Token, m.session.Transcript)
	if err != nil {
		return model.IPFSArticle{}, m.fail(err, from)
	}
	m.session.Draft = &doc
	m.state = StatePreviewing
	return doc, nil
}

// Publish pins the draft and erases the session.
func (m *Machine) Publish(ctx context.Context) (string, error) {
	if err := m.expect(StatePreviewing); err != nil {
		return "", err
	}
	if m.session.Draft == nil {
		return "", fmt.Errorf("%w: no draft", ErrInvalidTransition)
	}

	cid, err := m.backend.Publish(ctx, m.session.Token, *m.session.Draft)
	if err != nil {
		return "", m.fail(err, StatePreviewing)
	}
	m.session.Purge()
	m.cid = cid
	m.err = nil
	m.state = StatePublished
	return cid, nil
}

// Retry leaves StateError for the state the failure interrupted.
func (m *Machine) Retry() error {
	if err := m.expect(StateError); err != nil {
		return err
	}
	m.state = m.resume
	m.err = nil
	return nil
}

// Abandon erases the session from any state and returns to idle.
func (m *Machine) Abandon() {
	m.session.Purge()
	m.state = StateIdle
	m.resume = ""
	m.err = nil
}
