package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"
	"sovereign-journalist/internal/interview"
	"sovereign-journalist/internal/middleware"
	"sovereign-journalist/internal/model"
)

type InterviewHandler struct {
	Orchestrator *interview.Orchestrator
	Log          *zap.Logger
}

type transcriptRequest struct {
	Messages []model.ChatMessage `json:"messages"`
}

// Stream relays one interview turn as a chunked text/plain body. Errors
// before the first byte are ordinary JSON errors. After that the status line
// is gone, so a failed upstream aborts the connection and the client sees a
// truncated transfer instead of a clean end.
func (h *InterviewHandler) Stream(c *gin.Context) {
	var req transcriptRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		invalidBody(c)
		return
	}
	token, _ := middleware.SessionTokenFromContext(c)

	stream, err := h.Orchestrator.Converse(c.Request.Context(), token, req.Messages)
	if err != nil {
		writeError(c, h.Log, "interview", err)
		return
	}
	defer stream.Close()

	started := false
	err = interview.Relay(stream, func(text string) error {
		if !started {
			c.Header("Content-Type", "text/plain; charset=utf-8")
			c.Header("Cache-Control", "no-cache")
			c.Header("X-Accel-Buffering", "no")
			c.Status(http.StatusOK)
			started = true
		}
		if _, err := c.Writer.WriteString(text); err != nil {
			return err
		}
		c.Writer.Flush()
		return nil
	})
	if err == nil {
		if !started {
			c.Header("Content-Type", "text/plain; charset=utf-8")
			c.Status(http.StatusOK)
			c.Writer.WriteHeaderNow()
		}
		return
	}

	if !started {
		writeError(c, h.Log, "interview", err)
		return
	}
	h.Log.Warn("interview stream aborted", zap.Error(err))
	panic(http.ErrAbortHandler)
}
