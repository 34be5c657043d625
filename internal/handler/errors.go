package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"sovereign-journalist/internal/apperr"
)

// writeError converts a component error into the public JSON error reply.
// Only the taxonomy message leaves the process; the wrapped detail is logged.
func writeError(c *gin.Context, log *zap.Logger, op string, err error) {
	status := apperr.Status(err)
	body := gin.H{"error": apperr.PublicMessage(err)}
	if status == http.StatusTooManyRequests {
		seconds := int(apperr.RetryAfter.Seconds())
		c.Header("Retry-After", strconv.Itoa(seconds))
		body["retryAfter"] = seconds
	}

	switch {
	case status >= http.StatusInternalServerError:
		log.Error(op+" failed", zap.Int("status", status), zap.Error(err))
	case !errors.Is(err, apperr.ErrUnauthorized):
		log.Info(op+" rejected", zap.Int("status", status), zap.Error(err))
	}
	c.AbortWithStatusJSON(status, body)
}

func invalidBody(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON body"})
}
