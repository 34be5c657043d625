// Package synthesis turns a finished interview transcript into the article
// document that gets pinned.
package synthesis

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"sovereign-journalist/internal/apperr"
	"sovereign-journalist/internal/auth"
	"sovereign-journalist/internal/llm"
	"sovereign-journalist/internal/model"
)

// MinMessages is the shortest transcript an article may be drafted from.
const MinMessages = 4

const DefaultTimeout = 60 * time.Second

var codeFence = regexp.MustCompile("```json\\n?|\\n?```")

type Synthesizer struct {
	verifier auth.Verifier
	model    llm.Model
	timeout  time.Duration
	now      func() time.Time
	log      *zap.Logger
}

func NewSynthesizer(verifier auth.Verifier, m llm.Model, timeout time.Duration, log *zap.Logger) *Synthesizer {
	return NewSynthesizerWithNow(verifier, m, timeout, log, time.Now)
}

func NewSynthesizerWithNow(verifier auth.Verifier, m llm.Model, timeout time.Duration, log *zap.Logger, now func() time.Time) *Synthesizer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Synthesizer{verifier: verifier, model: m, timeout: timeout, now: now, log: log.Named("synthesis")}
}

// draft is the JSON object the model is asked to return. Anything else it
// adds is ignored.
type draft struct {
	Title            string   `json:"title"`
	Subtitle         string   `json:"subtitle"`
	Summary          string   `json:"summary"`
	Body             string   `json:"body"`
	ConfidenceScore  *float64 `json:"confidenceScore"`
	ConfidenceReason string   `json:"confidenceReason"`
	Tags             []string `json:"tags"`
}

func (s *Synthesizer) Synthesize(ctx context.Context, token string, transcript []model.ChatMessage) (model.IPFSArticle, error) {
	cred, ok := s.verifier.Verify(token)
	if !ok {
		return model.IPFSArticle{}, apperr.ErrUnauthorized
	}
	if len(transcript) < MinMessages {
		return model.IPFSArticle{}, fmt.Errorf("%w: need at least %d messages to generate an article", apperr.ErrValidation, MinMessages)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := s.now()
	raw, err := s.model.Generate(ctx, ArticlePrompt(transcript, cred))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, apperr.ErrTimeout) {
			return model.IPFSArticle{}, fmt.Errorf("%w: %v", apperr.ErrTimeout, err)
		}
		return model.IPFSArticle{}, err
	}

	d, err := parseDraft(raw)
	if err != nil {
		s.log.Warn("model output rejected", zap.Error(err), zap.Int("bytes", len(raw)))
		return model.IPFSArticle{}, err
	}

	hash, err := ProofHash(transcript)
	if err != nil {
		return model.IPFSArticle{}, err
	}

	subtitle := d.Subtitle
	if subtitle == "" {
		subtitle = d.Summary
	}
	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}

	article := model.IPFSArticle{
		Version:     model.ArticleVersion,
		PublishedAt: s.now().UTC().Format(time.RFC3339Nano),
		Article: model.ArticleContent{
			Title:            d.Title,
			Subtitle:         subtitle,
			Body:             d.Body,
			Confidence:       ClampConfidence(d.ConfidenceScore),
			ConfidenceReason: d.ConfidenceReason,
		},
		Verification: model.Verification{
			SourceCredential:   "Verified source via " + credential.ProviderLabel(cred),
			ProofHash:          hash,
			VerificationMethod: model.VerificationMethod,
			IdentityKnown:      false,
		},
		Metadata: model.ArticleMetadata{
			AgentModel:     s.model.Name(),
			InterviewTurns: len(transcript),
			Tags:           tags,
		},
	}

	s.log.Info("article drafted",
		zap.String("proofHash", hash),
		zap.Int("turns", len(transcript)),
		zap.Duration("elapsed", s.now().Sub(start)),
	)
	return article, nil
}

func parseDraft(raw string) (draft, error) {
	cleaned := strings.TrimSpace(codeFence.ReplaceAllString(raw, ""))

	var d draft
	if err := json.Unmarshal([]byte(cleaned), &d); err != nil {
		return draft{}, fmt.Errorf("%w: invalid JSON: %v", apperr.ErrSynthesis, err)
	}
	if strings.TrimSpace(d.Title) == "" || strings.TrimSpace(d.Body) == "" {
		return draft{}, fmt.Errorf("%w: title and body are required", apperr.ErrSynthesis)
	}
	return d, nil
}

// ClampConfidence rounds the model's score and clamps it into [0,100]. A
// missing or non-finite score stays absent.
func ClampConfidence(score *float64) *int {
	if score == nil || math.IsNaN(*score) || math.IsInf(*score, 0) {
		return nil
	}
	v := int(math.Round(math.Max(0, math.Min(100, *score))))
	return &v
}

// ProofHash fingerprints a transcript: the first 16 hex characters of the
// SHA-256 of its compact JSON encoding.
func ProofHash(transcript []model.ChatMessage) (string, error) {
	if transcript == nil {
		transcript = []model.ChatMessage{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(transcript); err != nil {
		return "", fmt.Errorf("encode transcript: %w", err)
	}
	sum := sha256.Sum256(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
	return hex.EncodeToString(sum[:])[:16], nil
}
