package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/url"
	"path"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"
	"sovereign-journalist/internal/apperr"
	"sovereign-journalist/internal/model"
)

// GenAIClient is the SDK-backed alternative to GeminiClient.
type GenAIClient struct {
	client *genai.Client
	model  string
	log    *zap.Logger
}

func NewGenAIClient(ctx context.Context, cfg GeminiConfig, log *zap.Logger) (*GenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultGeminiModel
	}
	if log == nil {
		log = zap.NewNop()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genaiHTTPOptions(cfg),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIClient{client: client, model: cfg.Model, log: log.Named("genai")}, nil
}

// genaiHTTPOptions maps GeminiConfig onto the SDK's options. The SDK adds the
// API version itself, so a trailing version segment on BaseURL is split off.
func genaiHTTPOptions(cfg GeminiConfig) genai.HTTPOptions {
	var opts genai.HTTPOptions
	if cfg.Timeout > 0 {
		opts.Timeout = genai.Ptr(cfg.Timeout)
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" || base == DefaultGeminiBaseURL {
		return opts
	}
	opts.BaseURL = base
	if u, err := url.Parse(base); err == nil {
		if dir, last := path.Split(u.Path); strings.HasPrefix(last, "v1") {
			u.Path = strings.TrimRight(dir, "/")
			opts.BaseURL, opts.APIVersion = u.String(), last
		}
	}
	return opts
}

func (c *GenAIClient) Name() string { return c.model }

func (c *GenAIClient) config(system string) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](defaultTemperature),
		MaxOutputTokens: defaultMaxOutputTokens,
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	return cfg
}

func (c *GenAIClient) StreamChat(ctx context.Context, system string, transcript []model.ChatMessage) (TextStream, error) {
	contents := make([]*genai.Content, 0, len(transcript))
	for _, m := range transcript {
		contents = append(contents, genai.NewContentFromText(m.Content, genai.Role(geminiRole(m.Role))))
	}

	next, stop := iter.Pull2(c.client.Models.GenerateContentStream(ctx, c.model, contents, c.config(system)))
	s := &genaiStream{next: next, stop: stop}

	// Pull the first chunk so request-level failures surface before the
	// caller commits to streaming.
	text, err := s.pull()
	if err != nil && err != io.EOF {
		stop()
		return nil, err
	}
	s.buffered, s.bufferedErr, s.hasBuffered = text, err, true
	return s, nil
}

func (c *GenAIClient) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), c.config(""))
	if err != nil {
		return "", classifyGenAI(err)
	}
	return resp.Text(), nil
}

type genaiStream struct {
	next func() (*genai.GenerateContentResponse, error, bool)
	stop func()

	buffered    string
	bufferedErr error
	hasBuffered bool
}

func (s *genaiStream) Recv() (string, error) {
	if s.hasBuffered {
		s.hasBuffered = false
		return s.buffered, s.bufferedErr
	}
	return s.pull()
}

func (s *genaiStream) pull() (string, error) {
	for {
		resp, err, ok := s.next()
		if !ok {
			return "", io.EOF
		}
		if err != nil {
			return "", classifyGenAI(err)
		}
		if resp == nil {
			continue
		}
		if text := resp.Text(); text != "" {
			return text, nil
		}
	}
}

func (s *genaiStream) Close() error {
	s.stop()
	return nil
}

func classifyGenAI(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return statusError("genai", apiErr.Code, apiErr.Message)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return statusError("genai", apiErrPtr.Code, apiErrPtr.Message)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: genai: %v", apperr.ErrUpstream, err)
	}
	return transportError("genai", err)
}
