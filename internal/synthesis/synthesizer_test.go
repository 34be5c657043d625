package synthesis

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"sovereign-journalist/internal/apperr"
	"sovereign-journalist/internal/auth"
	"sovereign-journalist/internal/llm"
	"sovereign-journalist/internal/model"
)

type fakeModel struct {
	reply  string
	err    error
	calls  int
	prompt string
}

func (f *fakeModel) Name() string { return "gemini-2.5-flash" }

func (f *fakeModel) StreamChat(context.Context, string, []model.ChatMessage) (llm.TextStream, error) {
	return nil, errors.New("not used")
}

func (f *fakeModel) Generate(_ context.Context, prompt string) (string, error) {
	f.calls++
	f.prompt = prompt
	return f.reply, f.err
}

const wellFormed = `{
  "title": "Inside the Widget Recall",
  "subtitle": "A verified engineer describes skipped safety checks.",
  "body": "## What happened\n\nA verified employee at Acme said...",
  "confidenceScore": 72,
  "confidenceReason": "Specific dates and internal process names.",
  "tags": ["safety", "manufacturing"],
  "identityKnown": true,
  "verificationMethod": "model says so"
}`

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T, m *fakeModel) (*Synthesizer, string) {
	t.Helper()
	signer, err := auth.NewSignerWithNow(auth.TokenConfig{Secret: "synth-secret", Expiry: auth.DefaultTTL}, func() time.Time { return fixedNow })
	require.NoError(t, err)
	token, err := signer.Sign(model.VerifiedCredential{
		Provider:   "linkedin",
		Parameters: map[string]string{"company": "Acme", "email": "a@b.co"},
		VerifiedAt: fixedNow,
	})
	require.NoError(t, err)
	return NewSynthesizerWithNow(signer, m, time.Second, nil, func() time.Time { return fixedNow }), token
}

func transcript(n int) []model.ChatMessage {
	out := make([]model.ChatMessage, n)
	for i := range out {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		out[i] = model.ChatMessage{Role: role, Content: "turn " + string(rune('a'+i))}
	}
	return out
}

func TestSynthesize_TooShort(t *testing.T) {
	m := &fakeModel{reply: wellFormed}
	s, token := setup(t, m)

	_, err := s.Synthesize(context.Background(), token, transcript(3))
	require.ErrorIs(t, err, apperr.ErrValidation)
	require.NotErrorIs(t, err, apperr.ErrUnauthorized)
	require.Zero(t, m.calls)
}

func TestSynthesize_BadTokenBeforeLength(t *testing.T) {
	m := &fakeModel{reply: wellFormed}
	s, _ := setup(t, m)

	_, err := s.Synthesize(context.Background(), "forged.token", transcript(1))
	require.ErrorIs(t, err, apperr.ErrUnauthorized)
	require.Zero(t, m.calls)
}

func TestSynthesize_AssemblesArticle(t *testing.T) {
	m := &fakeModel{reply: wellFormed}
	s, token := setup(t, m)
	turns := transcript(4)

	got, err := s.Synthesize(context.Background(), token, turns)
	require.NoError(t, err)

	hash, err := ProofHash(turns)
	require.NoError(t, err)
	confidence := 72
	want := model.IPFSArticle{
		Version:     "1.0",
		PublishedAt: "2026-03-01T12:00:00Z",
		Article: model.ArticleContent{
			Title:            "Inside the Widget Recall",
			Subtitle:         "A verified engineer describes skipped safety checks.",
			Body:             "## What happened\n\nA verified employee at Acme said...",
			Confidence:       &confidence,
			ConfidenceReason: "Specific dates and internal process names.",
		},
		Verification: model.Verification{
			SourceCredential:   "Verified source via linkedin",
			ProofHash:          hash,
			VerificationMethod: "zkTLS (Reclaim Protocol)",
			IdentityKnown:      false,
		},
		Metadata: model.ArticleMetadata{
			AgentModel:     "gemini-2.5-flash",
			InterviewTurns: 4,
			Tags:           []string{"safety", "manufacturing"},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("article mismatch (-want +got):\n%s", diff)
	}

	require.Contains(t, m.prompt, "SOURCE: turn a")
	require.Contains(t, m.prompt, "JOURNALIST: turn b")
	require.Contains(t, m.prompt, "company: Acme")
	require.NotContains(t, m.prompt, "a@b.co")
}

func TestSynthesize_StripsCodeFences(t *testing.T) {
	m := &fakeModel{reply: "```json\n" + wellFormed + "\n```"}
	s, token := setup(t, m)

	got, err := s.Synthesize(context.Background(), token, transcript(6))
	require.NoError(t, err)
	require.Equal(t, "Inside the Widget Recall", got.Article.Title)
	require.Equal(t, 6, got.Metadata.InterviewTurns)
}

func TestSynthesize_LegacySummaryAndMissingFields(t *testing.T) {
	m := &fakeModel{reply: `{"title":"T","summary":"S","body":"B"}`}
	s, token := setup(t, m)

	got, err := s.Synthesize(context.Background(), token, transcript(4))
	require.NoError(t, err)
	require.Equal(t, "S", got.Article.Subtitle)
	require.Nil(t, got.Article.Confidence)
	require.Equal(t, []string{}, got.Metadata.Tags)
}

func TestSynthesize_MalformedOutput(t *testing.T) {
	cases := map[string]string{
		"prose":      "Here is your article: it was great",
		"truncated":  `{"title":"T","body":"B"`,
		"no title":   `{"body":"B"}`,
		"empty body": `{"title":"T","body":"  "}`,
		"bad score":  `{"title":"T","body":"B","confidenceScore":"high"}`,
	}
	for name, reply := range cases {
		t.Run(name, func(t *testing.T) {
			s, token := setup(t, &fakeModel{reply: reply})
			_, err := s.Synthesize(context.Background(), token, transcript(4))
			require.ErrorIs(t, err, apperr.ErrSynthesis)
			require.NotErrorIs(t, err, apperr.ErrUpstream)
		})
	}
}

func TestSynthesize_UpstreamErrorsPassThrough(t *testing.T) {
	s, token := setup(t, &fakeModel{err: apperr.ErrThrottled})
	_, err := s.Synthesize(context.Background(), token, transcript(4))
	require.ErrorIs(t, err, apperr.ErrThrottled)
}

func TestClampConfidence(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	cases := []struct {
		in   *float64
		want int
		nil  bool
	}{
		{in: nil, nil: true},
		{in: f(72), want: 72},
		{in: f(72.5), want: 73},
		{in: f(-4), want: 0},
		{in: f(140), want: 100},
	}
	for _, tc := range cases {
		got := ClampConfidence(tc.in)
		if tc.nil {
			require.Nil(t, got)
			continue
		}
		require.NotNil(t, got)
		require.Equal(t, tc.want, *got)
	}
}

func TestProofHash(t *testing.T) {
	got, err := ProofHash([]model.ChatMessage{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "<b>&"},
	})
	require.NoError(t, err)
	require.Equal(t, "b2dae012c4650552", got)

	empty, err := ProofHash(nil)
	require.NoError(t, err)
	require.Equal(t, "4f53cda18c2baa0c", empty)
	require.Len(t, strings.TrimSpace(empty), 16)
}
