package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	providers []string
	storage   bool
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(providers []string, storageEnabled bool) *HealthHandler {
	return &HealthHandler{providers: providers, storage: storageEnabled}
}

// Health returns the health status of the service
func (h *HealthHandler) Health(c *gin.Context) {
	storage := "disabled"
	if h.storage {
		storage = "enabled"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"providers": h.providers,
		"storage":   storage,
	})
}
