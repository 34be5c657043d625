package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"sovereign-journalist/internal/apperr"
	"sovereign-journalist/internal/article"
	"sovereign-journalist/internal/blobstore"
	"sovereign-journalist/internal/model"
	"sovereign-journalist/internal/store"
)

const (
	FeedTTL     = 60 * time.Second
	DocumentTTL = time.Hour

	feedKey = "feed"
)

// FeedHandler serves published articles back out of the blob store. Pinned
// documents are immutable, so fetched bytes are cached far longer than the
// listing.
type FeedHandler struct {
	Store     blobstore.Store
	Feed      *store.Cache[[]model.PublishedArticle]
	Documents *store.Cache[[]byte]
	Log       *zap.Logger
}

func NewFeedHandler(s blobstore.Store, log *zap.Logger) *FeedHandler {
	return &FeedHandler{
		Store:     s,
		Feed:      store.New[[]model.PublishedArticle](store.Options{TTL: FeedTTL, MaxEntries: 1}),
		Documents: store.New[[]byte](store.Options{TTL: DocumentTTL, MaxEntries: 256}),
		Log:       log,
	}
}

// List never fails: a listing error is logged and reported as an empty feed.
func (h *FeedHandler) List(c *gin.Context) {
	articles, err := h.Feed.GetOrLoad(c.Request.Context(), feedKey, h.Store.List)
	if err != nil {
		h.Log.Warn("feed listing failed", zap.Error(err))
		articles = nil
	}
	if articles == nil {
		articles = []model.PublishedArticle{}
	}
	c.JSON(http.StatusOK, gin.H{"articles": articles})
}

func (h *FeedHandler) Get(c *gin.Context) {
	cid := c.Param("cid")
	view, err := h.view(c.Request.Context(), cid)
	if err != nil {
		writeError(c, h.Log, "article", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cid": cid, "article": view, "gatewayUrl": h.Store.GatewayURL(cid)})
}

func (h *FeedHandler) Page(c *gin.Context) {
	cid := c.Param("cid")
	view, err := h.view(c.Request.Context(), cid)
	if err != nil {
		status := apperr.Status(err)
		if status >= http.StatusInternalServerError {
			h.Log.Error("article page failed", zap.Error(err))
		}
		c.Data(status, "text/plain; charset=utf-8", []byte(apperr.PublicMessage(err)))
		return
	}
	page, err := article.RenderHTML(view, cid, h.Store.GatewayURL(cid))
	if err != nil {
		h.Log.Error("article render failed", zap.Error(err))
		c.Data(http.StatusInternalServerError, "text/plain; charset=utf-8", []byte(apperr.PublicMessage(err)))
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", page)
}

func (h *FeedHandler) view(ctx context.Context, cid string) (article.View, error) {
	if !blobstore.ValidCID(cid) {
		return article.View{}, fmt.Errorf("%w: article %q", apperr.ErrNotFound, cid)
	}
	data, err := h.Documents.GetOrLoad(ctx, cid, func(ctx context.Context) ([]byte, error) {
		return h.Store.Fetch(ctx, cid)
	})
	if err != nil {
		return article.View{}, err
	}
	return article.Normalize(data)
}
