package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/lookbook/internal/service"
)

// GenerationHandler handles generation endpoints.
type GenerationHandler struct {
	studio *service.Studio
}

// NewGenerationHandler creates a new generation handler.
// Parameters:
//   - studio: studio service instance.
// Returns:
//   - *GenerationHandler: initialized handler.
func NewGenerationHandler(studio *service.Studio) *GenerationHandler {
	return &GenerationHandler{studio: studio}
}

// BatchRequest is the body of a batch generation.
type BatchRequest struct {
	Requests []service.GenerateRequest `json:"requests" binding:"required"`
}

// Create handles POST /api/v1/workspaces/:workspace/generations.
// With wait=true the response carries the finished artifact; otherwise the run
// is returned at once and completes in the background.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *GenerationHandler) Create(c *gin.Context) {
	var req service.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}
	workspaceID := c.Param("workspace")

	wait, _ := strconv.ParseBool(c.Query("wait"))
	if !wait {
		run, err := h.studio.Start(c.Request.Context(), workspaceID, req)
		if err != nil {
			respondError(c, "Generation", err)
			return
		}
		c.JSON(http.StatusAccepted, run)
		return
	}

	result, err := h.studio.Generate(c.Request.Context(), workspaceID, req)
	if err != nil {
		respondError(c, "Generation", err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// Batch handles POST /api/v1/workspaces/:workspace/generations/batch.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *GenerationHandler) Batch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	items, err := h.studio.GenerateBatch(c.Request.Context(), c.Param("workspace"), req.Requests)
	if err != nil {
		respondError(c, "Batch", err)
		return
	}
	failed := 0
	for _, it := range items {
		if it.Err() != nil {
			failed++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"items":  items,
		"total":  len(items),
		"failed": failed,
	})
}

// Get handles GET /api/v1/generations/:id.
func (h *GenerationHandler) Get(c *gin.Context) {
	run, err := h.studio.Run(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "Get generation", err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// List handles GET /api/v1/workspaces/:workspace/generations.
func (h *GenerationHandler) List(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "limit must be between 1 and 500",
			})
			return
		}
		limit = n
	}

	runs, err := h.studio.Runs(c.Request.Context(), c.Param("workspace"), limit)
	if err != nil {
		respondError(c, "List generations", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"generations": runs,
		"total":       len(runs),
	})
}
