package article

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))
	policy   = bluemonday.UGCPolicy()
)

// BodyHTML renders the markdown body and strips anything unsafe. Article
// bodies are model output and are treated as untrusted.
func BodyHTML(body string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(body), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return template.HTML(policy.SanitizeBytes(buf.Bytes())), nil
}

type page struct {
	View
	CID             string
	ShortCID        string
	GatewayURL      string
	BodyHTML        template.HTML
	Published       string
	ConfidenceLevel string
}

// RenderHTML renders the standalone article page.
func RenderHTML(v View, cid, gatewayURL string) ([]byte, error) {
	body, err := BodyHTML(v.Body)
	if err != nil {
		return nil, err
	}

	p := page{
		View:            v,
		CID:             cid,
		ShortCID:        cid,
		GatewayURL:      gatewayURL,
		BodyHTML:        body,
		ConfidenceLevel: confidenceLevel(v.Confidence),
	}
	if len(cid) > 20 {
		p.ShortCID = cid[:20] + "..."
	}
	if t, err := time.Parse(time.RFC3339, v.PublishedAt); err == nil {
		p.Published = t.UTC().Format("January 2, 2006")
	}

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, p); err != nil {
		return nil, fmt.Errorf("render page: %w", err)
	}
	return buf.Bytes(), nil
}

func confidenceLevel(c int) string {
	switch {
	case c >= 70:
		return "high"
	case c >= 40:
		return "medium"
	default:
		return "low"
	}
}

var pageTemplate = template.Must(template.New("article").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}} | Sovereign Journalist</title>
{{if .Subtitle}}<meta name="description" content="{{.Subtitle}}">{{end}}
</head>
<body>
<main>
<article>
<nav><a href="/">feed</a> / article</nav>
<h1>{{.Title}}</h1>
<p class="meta">
{{if .SourceCredential}}<span class="credential">{{.SourceCredential}}</span>{{end}}
<span class="confidence confidence-{{.ConfidenceLevel}}">confidence: {{.Confidence}}%</span>
{{if .Published}}<time datetime="{{.PublishedAt}}">{{.Published}}</time>{{end}}
</p>
{{if .Subtitle}}<p class="subtitle">{{.Subtitle}}</p>{{end}}
<div class="body">{{.BodyHTML}}</div>
{{if .Tags}}<ul class="tags">{{range .Tags}}<li>{{.}}</li>{{end}}</ul>{{end}}
<section class="verification">
<h2>Verification details</h2>
<dl>
<dt>Source Identity</dt><dd>Unknown (by design)</dd>
<dt>Verification Method</dt><dd>{{.VerificationMethod}}</dd>
{{if .SourceCredential}}<dt>Source Credential</dt><dd>{{.SourceCredential}}</dd>{{end}}
<dt>Content ID</dt><dd>{{if .GatewayURL}}<a href="{{.GatewayURL}}" rel="noopener noreferrer">{{.ShortCID}}</a>{{else}}{{.ShortCID}}{{end}}</dd>
{{if .ProofHash}}<dt>Proof Hash</dt><dd>{{.ProofHash}}</dd>{{end}}
<dt>Confidence</dt><dd>{{.Confidence}}%</dd>
{{if .ConfidenceReason}}<dt>Confidence Reasoning</dt><dd>{{.ConfidenceReason}}</dd>{{end}}
{{if .AgentModel}}<dt>AI Model</dt><dd>{{.AgentModel}}</dd>{{end}}
{{if .InterviewTurns}}<dt>Interview Turns</dt><dd>{{.InterviewTurns}}</dd>{{end}}
</dl>
</section>
</article>
</main>
</body>
</html>
`))
