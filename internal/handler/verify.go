package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"sovereign-journalist/internal/auth"
	"sovereign-journalist/internal/credential"
)

type VerifyHandler struct {
	Signer *auth.Signer
	Log    *zap.Logger
	Now    func() time.Time
}

type verifyRequest struct {
	Proofs json.RawMessage `json:"proofs"`
}

// Verify turns a proof bundle into a credential and a signed session token.
// Neither is retained or logged.
func (h *VerifyHandler) Verify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c)
		return
	}

	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	cred, err := credential.Extract(req.Proofs, now())
	if err != nil {
		writeError(c, h.Log, "verify", err)
		return
	}
	token, err := h.Signer.Sign(cred)
	if err != nil {
		writeError(c, h.Log, "verify", err)
		return
	}

	h.Log.Info("session issued", zap.String("provider", credential.ProviderLabel(cred)))
	c.JSON(http.StatusOK, gin.H{"credential": cred, "sessionToken": token})
}
