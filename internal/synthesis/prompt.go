package synthesis

import (
	"fmt"
	"strings"

	"sovereign-journalist/internal/credential"
	"sovereign-journalist/internal/model"
)

const articleContract = `Based on this interview transcript between an AI journalist and an anonymous verified source, write a professional investigative article.

SOURCE CREDENTIAL (verified via zkTLS): %s (provider: %s)

TRANSCRIPT:
%s

Generate a JSON response with this exact structure:
{
  "title": "Article headline (compelling, journalistic)",
  "subtitle": "2-3 sentence summary for article cards",
  "body": "Full article in markdown format. Professional journalism style. Reference the source's verified credential without revealing identity. Use sections with ## headings.",
  "confidenceScore": <number 1-100 based on specificity and consistency of claims>,
  "confidenceReason": "2-3 sentences explaining why this confidence level. Reference specific evidence or lack thereof.",
  "tags": ["tag1", "tag2", "tag3"]
}

Rules:
- Write in third person ("A verified employee at..." not "I")
- Include a note about zkTLS verification methodology
- Distinguish between verified claims and unverified allegations
- The confidence score should reflect how specific, consistent, and verifiable the claims are
- Keep the article factual and balanced
- Output ONLY valid JSON, no markdown code fences`

// ArticlePrompt renders the single-shot drafting prompt. Turns are labeled
// SOURCE and JOURNALIST.
func ArticlePrompt(transcript []model.ChatMessage, c model.VerifiedCredential) string {
	turns := make([]string, 0, len(transcript))
	for _, m := range transcript {
		speaker := "JOURNALIST"
		if m.Role == model.RoleUser {
			speaker = "SOURCE"
		}
		turns = append(turns, speaker+": "+m.Content)
	}
	return fmt.Sprintf(articleContract, credential.Sanitize(c), credential.ProviderLabel(c), strings.Join(turns, "\n\n"))
}
