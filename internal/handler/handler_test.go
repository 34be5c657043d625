package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"sovereign-journalist/internal/apperr"
	"sovereign-journalist/internal/auth"
	"sovereign-journalist/internal/blobstore"
	"sovereign-journalist/internal/interview"
	"sovereign-journalist/internal/llm"
	"sovereign-journalist/internal/middleware"
	"sovereign-journalist/internal/model"
)

type sliceStream struct {
	deltas []string
	err    error
	i      int
}

func (s *sliceStream) Recv() (string, error) {
	if s.i < len(s.deltas) {
		s.i++
		return s.deltas[s.i-1], nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *sliceStream) Close() error { return nil }

type stubModel struct {
	mu      sync.Mutex
	deltas  []string
	failMid error
	openErr error
	opened  int
}

func (m *stubModel) Name() string { return "stub-model" }

func (m *stubModel) StreamChat(context.Context, string, []model.ChatMessage) (llm.TextStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened++
	if m.openErr != nil {
		return nil, m.openErr
	}
	return &sliceStream{deltas: m.deltas, err: m.failMid}, nil
}

func (m *stubModel) Generate(context.Context, string) (string, error) {
	return "", errors.New("not used")
}

type memStore struct {
	mu      sync.Mutex
	docs    map[string][]byte
	listErr error
	fetches int
}

func newMemStore() *memStore { return &memStore{docs: map[string][]byte{}} }

func (s *memStore) Pin(_ context.Context, a model.IPFSArticle) (string, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return "", err
	}
	cid := blobstore.CID(data)
	s.mu.Lock()
	s.docs[cid] = data
	s.mu.Unlock()
	return cid, nil
}

func (s *memStore) List(context.Context) ([]model.PublishedArticle, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.PublishedArticle{}
	for cid := range s.docs {
		out = append(out, model.PublishedArticle{CID: cid, Title: "t"})
	}
	return out, nil
}

func (s *memStore) Fetch(_ context.Context, cid string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	data, ok := s.docs[cid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperr.ErrNotFound, cid)
	}
	return data, nil
}

func (s *memStore) GatewayURL(cid string) string { return "https://gw.example/ipfs/" + cid }

func testSigner(t *testing.T) *auth.Signer {
	t.Helper()
	s, err := auth.NewSigner(auth.TokenConfig{Secret: "handler-secret", Expiry: time.Hour})
	require.NoError(t, err)
	return s
}

func testToken(t *testing.T, s *auth.Signer) string {
	t.Helper()
	tok, err := s.Sign(model.VerifiedCredential{Provider: "github", Parameters: map[string]string{"username": "octo"}, VerifiedAt: time.Now()})
	require.NoError(t, err)
	return tok
}

func init() {
	gin.SetMode(gin.TestMode)
}

func TestVerify(t *testing.T) {
	signer := testSigner(t)
	h := &VerifyHandler{Signer: signer, Log: zap.NewNop()}
	r := gin.New()
	r.POST("/api/verify", h.Verify)

	body := `{"proofs":[{"claimData":{"provider":"github","parameters":"{\"username\":\"octo\"}"}}]}`
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/verify", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Credential   model.VerifiedCredential `json:"credential"`
		SessionToken string                   `json:"sessionToken"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "github", resp.Credential.Provider)
	require.Equal(t, "octo", resp.Credential.Parameters["username"])

	cred, ok := signer.Verify(resp.SessionToken)
	require.True(t, ok)
	require.Equal(t, "github", cred.Provider)
}

func TestVerify_Rejects(t *testing.T) {
	h := &VerifyHandler{Signer: testSigner(t), Log: zap.NewNop()}
	r := gin.New()
	r.POST("/api/verify", h.Verify)

	for _, body := range []string{`{"proofs":[]}`, `{}`, `{"proofs":{"a":1}}`, `not json`} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/verify", strings.NewReader(body)))
		require.Equal(t, http.StatusBadRequest, w.Code, body)
		require.NotContains(t, w.Body.String(), "sessionToken")
	}
}

func interviewServer(t *testing.T, m *stubModel) (*httptest.Server, *auth.Signer) {
	t.Helper()
	signer := testSigner(t)
	orch := interview.NewOrchestrator(signer, m, time.Second, zap.NewNop())
	h := &InterviewHandler{Orchestrator: orch, Log: zap.NewNop()}
	ws := &WebSocketHandler{Orchestrator: orch, Log: zap.NewNop()}

	r := gin.New()
	r.Use(middleware.Recovery(zap.NewNop()))
	r.POST("/api/interview", middleware.RequireSession(signer), h.Stream)
	r.GET("/api/interview/ws", ws.Serve)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, signer
}

func postTurn(t *testing.T, url, token string) *http.Response {
	t.Helper()
	body := fmt.Sprintf(`{"sessionToken":%q,"messages":[{"role":"user","content":"hello"}]}`, token)
	resp, err := http.Post(url+"/api/interview", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestInterviewStream(t *testing.T) {
	srv, signer := interviewServer(t, &stubModel{deltas: []string{"Tell me ", "more."}})

	resp := postTurn(t, srv.URL, testToken(t, signer))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "Tell me more.", string(data))
}

func TestInterviewStream_ThrottledBeforeStreaming(t *testing.T) {
	m := &stubModel{openErr: fmt.Errorf("%w: status 429", apperr.ErrThrottled)}
	srv, signer := interviewServer(t, m)

	resp := postTurn(t, srv.URL, testToken(t, signer))
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, "15", resp.Header.Get("Retry-After"))
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.EqualValues(t, 15, body["retryAfter"])
}

func TestInterviewStream_AbortIsNotACleanEnd(t *testing.T) {
	m := &stubModel{deltas: []string{"partial "}, failMid: fmt.Errorf("%w: stream reset", apperr.ErrUpstream)}
	srv, signer := interviewServer(t, m)

	resp := postTurn(t, srv.URL, testToken(t, signer))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.Error(t, err)
	require.Equal(t, "partial ", string(data))
}

func TestInterviewStream_InvalidTokenMakesNoModelCall(t *testing.T) {
	m := &stubModel{deltas: []string{"x"}}
	srv, _ := interviewServer(t, m)

	resp := postTurn(t, srv.URL, "bogus.token")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Zero(t, m.opened)
}

func dialInterview(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/interview/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrames(t *testing.T, conn *websocket.Conn) []ServerFrame {
	t.Helper()
	var frames []ServerFrame
	for {
		var f ServerFrame
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		require.NoError(t, conn.ReadJSON(&f))
		frames = append(frames, f)
		if f.Type != FrameDelta {
			return frames
		}
	}
}

func TestWebSocketInterview(t *testing.T) {
	srv, signer := interviewServer(t, &stubModel{deltas: []string{"Hel", "lo"}})
	conn := dialInterview(t, srv)

	turn := TurnFrame{SessionToken: testToken(t, signer), Messages: []model.ChatMessage{{Role: model.RoleUser, Content: "hi"}}}
	require.NoError(t, conn.WriteJSON(turn))
	require.Equal(t, []ServerFrame{
		{Type: FrameDelta, Text: "Hel"},
		{Type: FrameDelta, Text: "lo"},
		{Type: FrameDone},
	}, readFrames(t, conn))

	// Later turns reuse the token from the first frame.
	require.NoError(t, conn.WriteJSON(TurnFrame{Messages: turn.Messages}))
	require.Len(t, readFrames(t, conn), 3)

	require.NoError(t, conn.WriteJSON(TurnFrame{}))
	frames := readFrames(t, conn)
	require.Equal(t, FrameError, frames[0].Type)
	require.Equal(t, http.StatusBadRequest, frames[0].Status)
}

func TestWebSocketInterview_Unauthorized(t *testing.T) {
	m := &stubModel{deltas: []string{"x"}}
	srv, _ := interviewServer(t, m)
	conn := dialInterview(t, srv)

	require.NoError(t, conn.WriteJSON(TurnFrame{SessionToken: "nope", Messages: []model.ChatMessage{{Role: model.RoleUser, Content: "hi"}}}))
	frames := readFrames(t, conn)
	require.Equal(t, ServerFrame{Type: FrameError, Error: "Invalid or expired session", Status: http.StatusUnauthorized}, frames[0])

	_, _, err := conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
	require.Zero(t, m.opened)
}

func TestWebSocketInterview_TurnLimit(t *testing.T) {
	m := &stubModel{deltas: []string{"ok"}}
	signer := testSigner(t)
	limiter := middleware.NewRateLimiter(1, time.Minute)
	t.Cleanup(limiter.Close)
	ws := &WebSocketHandler{Orchestrator: interview.NewOrchestrator(signer, m, time.Second, zap.NewNop()), Log: zap.NewNop(), Limiter: limiter}

	r := gin.New()
	r.GET("/api/interview/ws", ws.Serve)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	conn := dialInterview(t, srv)

	turn := TurnFrame{SessionToken: testToken(t, signer), Messages: []model.ChatMessage{{Role: model.RoleUser, Content: "hi"}}}
	require.NoError(t, conn.WriteJSON(turn))
	require.Equal(t, FrameDone, readFrames(t, conn)[1].Type)

	require.NoError(t, conn.WriteJSON(turn))
	frames := readFrames(t, conn)
	require.Len(t, frames, 1)
	require.Equal(t, FrameError, frames[0].Type)
	require.Equal(t, "Rate limit exceeded", frames[0].Error)
	require.Equal(t, http.StatusTooManyRequests, frames[0].Status)
	require.Positive(t, frames[0].RetryAfter)
	m.mu.Lock()
	defer m.mu.Unlock()
	require.Equal(t, 1, m.opened)
}

func TestWebSocketInterview_MidStreamError(t *testing.T) {
	srv, signer := interviewServer(t, &stubModel{deltas: []string{"a"}, failMid: apperr.ErrTimeout})
	conn := dialInterview(t, srv)

	require.NoError(t, conn.WriteJSON(TurnFrame{SessionToken: testToken(t, signer), Messages: []model.ChatMessage{{Role: model.RoleUser, Content: "hi"}}}))
	frames := readFrames(t, conn)
	require.Len(t, frames, 2)
	require.Equal(t, FrameError, frames[1].Type)
	require.Equal(t, http.StatusGatewayTimeout, frames[1].Status)
}

func feedRouter(h *FeedHandler) *gin.Engine {
	r := gin.New()
	r.GET("/api/articles", h.List)
	r.GET("/api/articles/:cid", h.Get)
	r.GET("/article/:cid", h.Page)
	return r
}

func get(r http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestFeed_ListFailureIsEmpty(t *testing.T) {
	s := newMemStore()
	s.listErr = fmt.Errorf("%w: pinning service down", apperr.ErrUpstream)
	r := feedRouter(NewFeedHandler(s, zap.NewNop()))

	w := get(r, "/api/articles")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"articles":[]}`, w.Body.String())
}

func TestFeed_ArticleAndPage(t *testing.T) {
	s := newMemStore()
	score := 80
	cid, err := s.Pin(context.Background(), model.IPFSArticle{
		Version:      model.ArticleVersion,
		PublishedAt:  "2026-03-01T12:00:00Z",
		Article:      model.ArticleContent{Title: "Recall", Body: "**Bold** claim", Confidence: &score},
		Verification: model.Verification{ProofHash: "0123456789abcdef"},
		Metadata:     model.ArticleMetadata{Tags: []string{"safety"}},
	})
	require.NoError(t, err)
	r := feedRouter(NewFeedHandler(s, zap.NewNop()))

	w := get(r, "/api/articles/"+cid)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Article struct {
			Title      string   `json:"title"`
			Confidence int      `json:"confidence"`
			Tags       []string `json:"tags"`
		} `json:"article"`
		GatewayURL string `json:"gatewayUrl"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "Recall", resp.Article.Title)
	require.Equal(t, 80, resp.Article.Confidence)
	require.Equal(t, []string{"safety"}, resp.Article.Tags)
	require.Equal(t, "https://gw.example/ipfs/"+cid, resp.GatewayURL)

	page := get(r, "/article/"+cid)
	require.Equal(t, http.StatusOK, page.Code)
	require.Equal(t, "text/html; charset=utf-8", page.Header().Get("Content-Type"))
	require.Contains(t, page.Body.String(), "<strong>Bold</strong>")

	require.Equal(t, 1, s.fetches, "document should be served from cache")
}

func TestFeed_NotFound(t *testing.T) {
	r := feedRouter(NewFeedHandler(newMemStore(), zap.NewNop()))

	require.Equal(t, http.StatusNotFound, get(r, "/api/articles/bafkreimissingmissing").Code)
	require.Equal(t, http.StatusNotFound, get(r, "/api/articles/bad!").Code)
	require.Equal(t, http.StatusNotFound, get(r, "/article/bafkreimissingmissing").Code)
}
