package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"sovereign-journalist/internal/apperr"
	"sovereign-journalist/internal/model"
)

const (
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultGeminiModel   = "gemini-2.5-flash"
	DefaultTimeout       = 60 * time.Second
)

type GeminiConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// GeminiClient talks to the Gemini REST API directly, using the SSE variant
// of streamGenerateContent for interview turns.
type GeminiClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	log        *zap.Logger
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

func NewGeminiClient(cfg GeminiConfig, log *zap.Logger) *GeminiClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultGeminiBaseURL
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultGeminiModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &GeminiClient{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log.Named("gemini"),
	}
}

func (c *GeminiClient) Name() string { return c.model }

func (c *GeminiClient) StreamChat(ctx context.Context, system string, transcript []model.ChatMessage) (TextStream, error) {
	contents := make([]geminiContent, 0, len(transcript))
	for _, m := range transcript {
		contents = append(contents, geminiContent{
			Role:  geminiRole(m.Role),
			Parts: []geminiPart{{Text: m.Content}},
		})
	}
	req := geminiRequest{
		Contents:         contents,
		GenerationConfig: geminiGenerationConfig{Temperature: defaultTemperature, MaxOutputTokens: defaultMaxOutputTokens},
	}
	if system != "" {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: system}}}
	}

	start := time.Now()
	resp, err := c.post(ctx, "streamGenerateContent?alt=sse", req, "text/event-stream")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		c.log.Warn("stream request rejected", zap.Int("status", resp.StatusCode), zap.Duration("elapsed", time.Since(start)))
		return nil, statusError("stream", resp.StatusCode, string(body))
	}

	c.log.Debug("stream opened", zap.Int("turns", len(transcript)), zap.Duration("elapsed", time.Since(start)))
	return newEventStream(resp.Body), nil
}

func (c *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	req := geminiRequest{
		Contents:         []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: geminiGenerationConfig{Temperature: defaultTemperature, MaxOutputTokens: defaultMaxOutputTokens},
	}

	start := time.Now()
	resp, err := c.post(ctx, "generateContent", req, "application/json")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", transportError("read response", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.log.Warn("generate request rejected", zap.Int("status", resp.StatusCode), zap.Duration("elapsed", time.Since(start)))
		return "", statusError("generate", resp.StatusCode, string(body))
	}

	var parsed geminiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", apperr.ErrUpstream, err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("%w: api error %d: %s", apperr.ErrUpstream, parsed.Error.Code, parsed.Error.Message)
	}

	c.log.Debug("generate completed", zap.Duration("elapsed", time.Since(start)))
	return parsed.text(), nil
}

func (c *GeminiClient) post(ctx context.Context, method string, payload geminiRequest, accept string) (*http.Response, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("%w: model API key not configured", apperr.ErrUpstream)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:%s", c.baseURL, c.model, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, fmt.Errorf("%w: request canceled", apperr.ErrUpstream)
		}
		return nil, transportError("request", err)
	}
	return resp, nil
}
