package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"sovereign-journalist/internal/attestation"
)

// Version is stamped at build time with -ldflags "-X".
var Version = "dev"

type VersionHandler struct {
	AgentModel string
}

func (h *VersionHandler) Check(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"version": Version, "agentModel": h.AgentModel})
}

type AttestationHandler struct {
	Service *attestation.Service
}

func (h *AttestationHandler) Report(c *gin.Context) {
	c.JSON(http.StatusOK, h.Service.Report(c.Request.Context()))
}
