// Package client talks to the journalist server on behalf of a source. It
// holds session material in memory only and erases it on publish or abandon.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"sovereign-journalist/internal/apperr"
	"sovereign-journalist/internal/article"
	"sovereign-journalist/internal/attestation"
	"sovereign-journalist/internal/model"
)

// Error is a non-success reply from the server. It unwraps to the apperr
// sentinel matching its status.
type Error struct {
	Status     int
	Message    string
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (e *Error) Unwrap() error { return apperr.FromStatus(e.Status) }

// ErrStreamAborted means an interview reply ended without a clean close.
var ErrStreamAborted = fmt.Errorf("%w: interview stream aborted", apperr.ErrUpstream)

type API struct {
	baseURL string
	http    *http.Client
}

func NewAPI(baseURL string, hc *http.Client) *API {
	if hc == nil {
		hc = &http.Client{Timeout: 2 * time.Minute}
	}
	return &API{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

type tokenRequest struct {
	SessionToken string              `json:"sessionToken"`
	Messages     []model.ChatMessage `json:"messages,omitempty"`
	Article      *model.IPFSArticle  `json:"article,omitempty"`
}

func (a *API) Verify(ctx context.Context, proofs json.RawMessage) (model.VerifiedCredential, string, error) {
	var out struct {
		Credential   model.VerifiedCredential `json:"credential"`
		SessionToken string                   `json:"sessionToken"`
	}
	if err := a.call(ctx, http.MethodPost, "/api/verify", map[string]json.RawMessage{"proofs": proofs}, &out); err != nil {
		return model.VerifiedCredential{}, "", err
	}
	return out.Credential, out.SessionToken, nil
}

// Interview sends one turn and passes each chunk of the reply to onDelta as
// it arrives. It returns the full reply, or ErrStreamAborted together with
// the partial text if the server broke the stream off.
func (a *API) Interview(ctx context.Context, token string, transcript []model.ChatMessage, onDelta func(string)) (string, error) {
	resp, err := a.do(ctx, http.MethodPost, "/api/interview", tokenRequest{SessionToken: token, Messages: transcript})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var (
		reply   strings.Builder
		pending []byte
	)
	emit := func(p []byte) {
		if len(p) == 0 {
			return
		}
		chunk := string(p)
		reply.WriteString(chunk)
		if onDelta != nil {
			onDelta(chunk)
		}
	}

	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			cut := runeBoundary(pending)
			emit(pending[:cut])
			pending = append(pending[:0], pending[cut:]...)
		}
		if err == nil {
			continue
		}
		emit(pending)
		if err == io.EOF {
			return reply.String(), nil
		}
		if ctx.Err() != nil {
			return reply.String(), ctx.Err()
		}
		return reply.String(), ErrStreamAborted
	}
}

// runeBoundary returns the length of the longest prefix of p that does not
// end inside a multi-byte UTF-8 sequence.
func runeBoundary(p []byte) int {
	for i := len(p) - 1; i >= 0 && i >= len(p)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(p[i]) {
			continue
		}
		if utf8.FullRune(p[i:]) {
			return len(p)
		}
		return i
	}
	return len(p)
}

func (a *API) Generate(ctx context.Context, token string, transcript []model.ChatMessage) (model.IPFSArticle, error) {
	var out struct {
		Article model.IPFSArticle `json:"article"`
	}
	err := a.call(ctx, http.MethodPost, "/api/generate", tokenRequest{SessionToken: token, Messages: transcript}, &out)
	return out.Article, err
}

func (a *API) Publish(ctx context.Context, token string, doc model.IPFSArticle) (string, error) {
	var out struct {
		CID string `json:"cid"`
	}
	err := a.call(ctx, http.MethodPost, "/api/publish", tokenRequest{SessionToken: token, Article: &doc}, &out)
	return out.CID, err
}

func (a *API) Feed(ctx context.Context) ([]model.PublishedArticle, error) {
	var out struct {
		Articles []model.PublishedArticle `json:"articles"`
	}
	err := a.call(ctx, http.MethodGet, "/api/articles", nil, &out)
	return out.Articles, err
}

// ArticleResponse is the normalized article returned by the server.
type ArticleResponse struct {
	CID        string       `json:"cid"`
	Article    article.View `json:"article"`
	GatewayURL string       `json:"gatewayUrl"`
}

func (a *API) Article(ctx context.Context, cid string) (ArticleResponse, error) {
	var out ArticleResponse
	err := a.call(ctx, http.MethodGet, "/api/articles/"+url.PathEscape(cid), nil, &out)
	return out, err
}

func (a *API) Attestation(ctx context.Context) (attestation.Report, error) {
	var out attestation.Report
	err := a.call(ctx, http.MethodGet, "/api/attestation", nil, &out)
	return out, err
}

func (a *API) call(ctx context.Context, method, path string, body, out any) error {
	resp, err := a.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", apperr.ErrUpstream, path, err)
	}
	return nil
}

// do sends the request and converts non-2xx replies into *Error.
func (a *API) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s %s: %v", apperr.ErrUpstream, method, path, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, decodeError(resp)
}

func decodeError(resp *http.Response) error {
	e := &Error{Status: resp.StatusCode}
	var body struct {
		Error      string `json:"error"`
		RetryAfter int    `json:"retryAfter"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		e.Message = body.Error
	} else {
		e.Message = strings.TrimSpace(string(data))
	}

	seconds := body.RetryAfter
	if seconds == 0 {
		seconds, _ = strconv.Atoi(resp.Header.Get("Retry-After"))
	}
	if seconds > 0 {
		e.RetryAfter = time.Duration(seconds) * time.Second
	}
	return e
}
