package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"
	"sovereign-journalist/internal/middleware"
	"sovereign-journalist/internal/model"
	"sovereign-journalist/internal/publish"
	"sovereign-journalist/internal/synthesis"
)

type ArticleHandler struct {
	Synthesizer *synthesis.Synthesizer
	Publisher   *publish.Publisher
	Log         *zap.Logger
}

type publishRequest struct {
	Article *model.IPFSArticle `json:"article"`
}

func (h *ArticleHandler) Generate(c *gin.Context) {
	var req transcriptRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		invalidBody(c)
		return
	}
	token, _ := middleware.SessionTokenFromContext(c)

	article, err := h.Synthesizer.Synthesize(c.Request.Context(), token, req.Messages)
	if err != nil {
		writeError(c, h.Log, "generate", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"article": article})
}

func (h *ArticleHandler) Publish(c *gin.Context) {
	var req publishRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		invalidBody(c)
		return
	}
	if req.Article == nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "article is required"})
		return
	}
	token, _ := middleware.SessionTokenFromContext(c)

	cid, err := h.Publisher.Publish(c.Request.Context(), token, *req.Article)
	if err != nil {
		writeError(c, h.Log, "publish", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cid": cid})
}
