// Package publish pins finished articles.
package publish

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"sovereign-journalist/internal/apperr"
	"sovereign-journalist/internal/auth"
	"sovereign-journalist/internal/blobstore"
	"sovereign-journalist/internal/model"
)

type Publisher struct {
	verifier auth.Verifier
	store    blobstore.Store
	log      *zap.Logger
}

func NewPublisher(verifier auth.Verifier, store blobstore.Store, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{verifier: verifier, store: store, log: log.Named("publish")}
}

// Publish pins the article and returns its content identifier. Nothing is
// recorded locally; the feed is rebuilt from the store's own listing.
func (p *Publisher) Publish(ctx context.Context, token string, article model.IPFSArticle) (string, error) {
	if _, ok := p.verifier.Verify(token); !ok {
		return "", apperr.ErrUnauthorized
	}
	if err := Validate(article); err != nil {
		return "", err
	}

	cid, err := p.store.Pin(ctx, article)
	if err != nil {
		p.log.Warn("pin failed", zap.Error(err))
		return "", err
	}
	p.log.Info("article published", zap.String("cid", cid), zap.String("proofHash", article.Verification.ProofHash))
	return cid, nil
}

// Validate rejects documents that must never be pinned.
func Validate(article model.IPFSArticle) error {
	if strings.TrimSpace(article.Article.Title) == "" || strings.TrimSpace(article.Article.Body) == "" {
		return fmt.Errorf("%w: article must have title and body", apperr.ErrValidation)
	}
	if article.Verification.IdentityKnown {
		return fmt.Errorf("%w: source identity must not be recorded", apperr.ErrValidation)
	}
	if c := article.Article.Confidence; c != nil && (*c < 0 || *c > 100) {
		return fmt.Errorf("%w: confidence must be between 0 and 100", apperr.ErrValidation)
	}
	return nil
}
