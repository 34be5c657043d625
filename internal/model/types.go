package model

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ArticleVersion is the schema version written into every pinned article.
const ArticleVersion = "1.0"

// VerificationMethod labels how the source credential was established. It is
// fixed by the server and never taken from model output.
const VerificationMethod = "zkTLS (Reclaim Protocol)"

// VerifiedCredential is the PII-bearing result of proof extraction. It only
// ever lives inside a signed session token and in request-scoped memory.
type VerifiedCredential struct {
	Provider   string            `json:"provider"`
	Parameters map[string]string `json:"parameters"`
	VerifiedAt time.Time         `json:"verifiedAt"`
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ArticleContent struct {
	Title            string `json:"title"`
	Subtitle         string `json:"subtitle"`
	Body             string `json:"body"`
	Confidence       *int   `json:"confidence,omitempty"`
	ConfidenceReason string `json:"confidenceReason"`
}

type Verification struct {
	SourceCredential   string `json:"sourceCredential"`
	ProofHash          string `json:"proofHash"`
	VerificationMethod string `json:"verificationMethod"`
	IdentityKnown      bool   `json:"identityKnown"`
}

type ArticleMetadata struct {
	AgentModel     string   `json:"agentModel"`
	InterviewTurns int      `json:"interviewTurns"`
	Tags           []string `json:"tags"`
}

// IPFSArticle is the exact document pinned to content-addressed storage.
type IPFSArticle struct {
	Version      string          `json:"version"`
	PublishedAt  string          `json:"publishedAt"`
	Article      ArticleContent  `json:"article"`
	Verification Verification    `json:"verification"`
	Metadata     ArticleMetadata `json:"metadata"`
}

// PublishedArticle is the feed projection built from pin metadata.
type PublishedArticle struct {
	CID             string   `json:"cid"`
	Title           string   `json:"title"`
	Subtitle        string   `json:"subtitle"`
	ConfidenceScore int      `json:"confidenceScore"`
	Tags            []string `json:"tags"`
	PublishedAt     string   `json:"publishedAt"`
}
