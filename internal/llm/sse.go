package llm

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"sovereign-journalist/internal/apperr"
)

const maxFrameSize = 1024 * 1024

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *geminiError `json:"error,omitempty"`
}

func (r *geminiResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// eventStream decodes server-sent events from the streaming endpoint. Each
// "data:" line carries one JSON response chunk. Chunks that fail to decode
// are skipped so a single bad frame does not cost the whole reply.
type eventStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

func newEventStream(body io.ReadCloser) *eventStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	return &eventStream{body: body, scanner: scanner}
}

func (s *eventStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			s.done = true
			return "", io.EOF
		}

		var chunk geminiResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Error != nil {
			s.done = true
			if chunk.Error.Code == 429 {
				return "", fmt.Errorf("%w: stream: %s", apperr.ErrThrottled, chunk.Error.Status)
			}
			return "", fmt.Errorf("%w: stream error %d: %s", apperr.ErrUpstream, chunk.Error.Code, chunk.Error.Message)
		}
		if text := chunk.text(); text != "" {
			return text, nil
		}
	}
	s.done = true
	if err := s.scanner.Err(); err != nil {
		return "", transportError("read stream", err)
	}
	return "", io.EOF
}

func (s *eventStream) Close() error {
	s.done = true
	return s.body.Close()
}

// DecodeEvents drains an event stream and calls emit for every text delta in
// order. It returns nil on a clean end of stream.
func DecodeEvents(r io.Reader, emit func(string) error) error {
	s := newEventStream(io.NopCloser(r))
	for {
		text, err := s.Recv()
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
