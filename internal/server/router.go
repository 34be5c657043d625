package server

import (
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"sovereign-journalist/internal/attestation"
	"sovereign-journalist/internal/auth"
	"sovereign-journalist/internal/blobstore"
	"sovereign-journalist/internal/handler"
	"sovereign-journalist/internal/interview"
	"sovereign-journalist/internal/llm"
	"sovereign-journalist/internal/middleware"
	"sovereign-journalist/internal/publish"
	"sovereign-journalist/internal/synthesis"
)

const (
	VerifyRateLimit = 10
	TurnRateLimit   = 30
	rateWindow      = time.Minute
)

type Deps struct {
	Signer      *auth.Signer
	Model       llm.Model
	Store       blobstore.Store
	Attestation *attestation.Service
	// LLMTimeout bounds each interview turn and each draft.
	LLMTimeout  time.Duration
	CORSOrigins []string
	Log         *zap.Logger
}

// NewRouter wires every endpoint. The returned stop func releases the rate
// limiters' background cleanup and must be called once the router is done.
func NewRouter(deps Deps) (*gin.Engine, func()) {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}

	r := gin.New()
	r.Use(middleware.RequestLogger(log.Named("http")))
	r.Use(middleware.Recovery(log))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	versionHandler := &handler.VersionHandler{AgentModel: deps.Model.Name()}
	r.GET("/api/version", versionHandler.Check)

	attestationHandler := &handler.AttestationHandler{Service: deps.Attestation}
	r.GET("/api/attestation", attestationHandler.Report)

	verifyLimiter := middleware.NewRateLimiter(VerifyRateLimit, rateWindow)
	turnLimiter := middleware.NewRateLimiter(TurnRateLimit, rateWindow)

	verifyHandler := &handler.VerifyHandler{Signer: deps.Signer, Log: log.Named("verify")}
	r.POST("/api/verify", middleware.RateLimitMiddleware(verifyLimiter), middleware.LimitBody(middleware.MaxBodyBytes), verifyHandler.Verify)

	orchestrator := interview.NewOrchestrator(deps.Signer, deps.Model, deps.LLMTimeout, log)
	interviewHandler := &handler.InterviewHandler{Orchestrator: orchestrator, Log: log.Named("interview")}
	wsHandler := &handler.WebSocketHandler{
		Orchestrator: orchestrator,
		Log:          log.Named("interview"),
		Limiter:      turnLimiter,
		CheckOrigin:  originChecker(deps.CORSOrigins),
	}
	articleHandler := &handler.ArticleHandler{
		Synthesizer: synthesis.NewSynthesizer(deps.Signer, deps.Model, deps.LLMTimeout, log),
		Publisher:   publish.NewPublisher(deps.Signer, deps.Store, log),
		Log:         log.Named("article"),
	}

	protected := r.Group("/api")
	protected.Use(middleware.LimitBody(middleware.MaxBodyBytes), middleware.RequireSession(deps.Signer))
	protected.POST("/interview", middleware.RateLimitMiddleware(turnLimiter), interviewHandler.Stream)
	protected.POST("/generate", middleware.RateLimitMiddleware(turnLimiter), articleHandler.Generate)
	protected.POST("/publish", articleHandler.Publish)

	r.GET("/api/interview/ws", wsHandler.Serve)

	feedHandler := handler.NewFeedHandler(deps.Store, log.Named("feed"))
	r.GET("/api/articles", feedHandler.List)
	r.GET("/api/articles/:cid", feedHandler.Get)
	r.GET("/article/:cid", feedHandler.Page)

	stop := func() {
		verifyLimiter.Close()
		turnLimiter.Close()
	}
	return r, stop
}

// WithCORS wraps the router for browser clients on other origins. With no
// origins configured the handler is returned unchanged.
func WithCORS(h http.Handler, origins []string) http.Handler {
	if len(origins) == 0 {
		return h
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After", middleware.RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	})(h)
}

// originChecker applies the CORS allowlist to WebSocket upgrades. A nil
// result keeps gorilla's same-origin default.
func originChecker(origins []string) func(*http.Request) bool {
	if len(origins) == 0 {
		return nil
	}
	if slices.Contains(origins, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(origins, origin)
	}
}
