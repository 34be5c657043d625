package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"sovereign-journalist/internal/attestation"
	"sovereign-journalist/internal/auth"
	"sovereign-journalist/internal/blobstore"
	"sovereign-journalist/internal/config"
	"sovereign-journalist/internal/llm"
	"sovereign-journalist/internal/server"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	zcfg.DisableCaller = true
	return zcfg.Build()
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gin.SetMode(cfg.GinMode)

	signer, err := auth.NewSigner(auth.TokenConfig{Secret: cfg.SessionSecret, Expiry: cfg.SessionTTL})
	if err != nil {
		return err
	}

	model, err := newModel(ctx, cfg, logger)
	if err != nil {
		return err
	}

	store, err := newStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	attest := attestation.New(attestation.Config{RemoteURL: cfg.AttestationURL, TDX: cfg.TDXAttestation}, logger)

	router, stopRouter := server.NewRouter(server.Deps{
		Signer:      signer,
		Model:       model,
		Store:       store,
		Attestation: attest,
		LLMTimeout:  cfg.LLM.Timeout,
		CORSOrigins: cfg.CORSOrigins,
		Log:         logger,
	})
	defer stopRouter()

	logger.Info("starting",
		zap.String("llmBackend", cfg.LLM.Backend),
		zap.String("model", model.Name()),
		zap.String("storageBackend", cfg.Storage.Backend),
	)
	return server.Run(ctx, cfg, server.WithCORS(router, cfg.CORSOrigins), logger)
}

func newModel(ctx context.Context, cfg config.Config, logger *zap.Logger) (llm.Model, error) {
	gcfg := llm.GeminiConfig{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout,
	}
	switch cfg.LLM.Backend {
	case config.LLMBackendGenAI:
		return llm.NewGenAIClient(ctx, gcfg, logger)
	case config.LLMBackendREST:
		return llm.NewGeminiClient(gcfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown LLM backend %q", cfg.LLM.Backend)
	}
}

func newStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (blobstore.Store, error) {
	s := cfg.Storage
	switch s.Backend {
	case config.StorageBackendS3:
		return blobstore.NewS3(ctx, blobstore.S3Config{
			Bucket:    s.S3Bucket,
			Region:    s.S3Region,
			Endpoint:  s.S3Endpoint,
			AccessKey: s.S3AccessKey,
			SecretKey: s.S3SecretKey,
			PublicURL: s.S3PublicURL,
		}, logger)
	case config.StorageBackendPinata:
		return blobstore.NewPinata(blobstore.PinataConfig{
			APIKey:    s.PinataAPIKey,
			SecretKey: s.PinataSecretKey,
			APIURL:    s.PinataAPIURL,
			Gateway:   s.PinataGateway,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", s.Backend)
	}
}
