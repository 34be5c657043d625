// Package article turns pinned article documents into something a reader can
// display. Pinned documents are immutable, so readers must accept every
// layout that was ever written: the versioned nested form and the older flat
// form with title, summary, body and tags at the top level.
package article

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"sovereign-journalist/internal/apperr"
	"sovereign-journalist/internal/model"
)

// View is the display projection of a pinned article.
type View struct {
	Title              string   `json:"title"`
	Subtitle           string   `json:"subtitle"`
	Body               string   `json:"body"`
	Confidence         int      `json:"confidence"`
	ConfidenceReason   string   `json:"confidenceReason"`
	Tags               []string `json:"tags"`
	PublishedAt        string   `json:"publishedAt"`
	ProofHash          string   `json:"proofHash"`
	SourceCredential   string   `json:"sourceCredential"`
	VerificationMethod string   `json:"verificationMethod"`
	AgentModel         string   `json:"agentModel"`
	InterviewTurns     int      `json:"interviewTurns"`
}

type content struct {
	Title            string   `json:"title"`
	Subtitle         string   `json:"subtitle"`
	Body             string   `json:"body"`
	Confidence       *float64 `json:"confidence"`
	ConfidenceReason string   `json:"confidenceReason"`
}

type document struct {
	content

	Article      *content `json:"article"`
	Verification struct {
		ProofHash          string `json:"proofHash"`
		SourceCredential   string `json:"sourceCredential"`
		VerificationMethod string `json:"verificationMethod"`
	} `json:"verification"`
	Metadata struct {
		AgentModel     string   `json:"agentModel"`
		InterviewTurns int      `json:"interviewTurns"`
		Tags           []string `json:"tags"`
	} `json:"metadata"`

	PublishedAt     string   `json:"publishedAt"`
	Summary         string   `json:"summary"`
	Tags            []string `json:"tags"`
	ConfidenceScore *float64 `json:"confidenceScore"`
	InterviewHash   string   `json:"interviewHash"`
}

// Normalize decodes a pinned document in either layout.
func Normalize(data []byte) (View, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return View{}, fmt.Errorf("%w: decode article: %v", apperr.ErrUpstream, err)
	}

	a := doc.content
	if doc.Article != nil {
		a = *doc.Article
	}

	v := View{
		Title:              firstNonEmpty(a.Title, doc.Title),
		Subtitle:           firstNonEmpty(a.Subtitle, doc.Summary),
		Body:               firstNonEmpty(a.Body, doc.Body),
		ConfidenceReason:   a.ConfidenceReason,
		PublishedAt:        doc.PublishedAt,
		ProofHash:          firstNonEmpty(doc.Verification.ProofHash, doc.InterviewHash),
		SourceCredential:   doc.Verification.SourceCredential,
		VerificationMethod: firstNonEmpty(doc.Verification.VerificationMethod, model.VerificationMethod),
		AgentModel:         doc.Metadata.AgentModel,
		InterviewTurns:     doc.Metadata.InterviewTurns,
	}

	switch {
	case a.Confidence != nil:
		v.Confidence = score(*a.Confidence)
	case doc.ConfidenceScore != nil:
		v.Confidence = score(*doc.ConfidenceScore)
	}

	switch {
	case len(doc.Metadata.Tags) > 0:
		v.Tags = doc.Metadata.Tags
	case len(doc.Tags) > 0:
		v.Tags = doc.Tags
	default:
		v.Tags = []string{}
	}

	if strings.TrimSpace(v.Title) == "" && strings.TrimSpace(v.Body) == "" {
		return View{}, fmt.Errorf("%w: document is not an article", apperr.ErrNotFound)
	}
	return v, nil
}

func score(f float64) int {
	if math.IsNaN(f) {
		return 0
	}
	return int(math.Round(math.Max(0, math.Min(100, f))))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
