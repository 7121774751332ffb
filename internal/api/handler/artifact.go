package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/lookbook/internal/domain"
	"github.com/timmy/lookbook/internal/service"
)

// ArtifactHandler handles artifact and canvas endpoints of a workspace.
type ArtifactHandler struct {
	studio *service.Studio
}

// NewArtifactHandler creates a new artifact handler.
// Parameters:
//   - studio: studio service instance.
// Returns:
//   - *ArtifactHandler: initialized handler.
func NewArtifactHandler(studio *service.Studio) *ArtifactHandler {
	return &ArtifactHandler{studio: studio}
}

// RegisterRequest records an image produced outside the studio.
type RegisterRequest struct {
	Locator  string `json:"locator" binding:"required"`
	ParentID string `json:"parent_id"`
}

// List handles GET /api/v1/workspaces/:workspace/artifacts.
// view=roots limits the result to artifacts without a parent.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ArtifactHandler) List(c *gin.Context) {
	var (
		artifacts []domain.Artifact
		err       error
	)
	switch c.Query("view") {
	case "", "all":
		artifacts, err = h.studio.Artifacts(c.Request.Context(), c.Param("workspace"))
	case "roots":
		artifacts, err = h.studio.Roots(c.Request.Context(), c.Param("workspace"))
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "view must be all or roots",
		})
		return
	}
	if err != nil {
		respondError(c, "List artifacts", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"artifacts": artifacts,
		"total":     len(artifacts),
	})
}

// Register handles POST /api/v1/workspaces/:workspace/artifacts.
func (h *ArtifactHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}
	artifact, err := h.studio.Register(c.Request.Context(), c.Param("workspace"), req.Locator, req.ParentID)
	if err != nil {
		respondError(c, "Register artifact", err)
		return
	}
	c.JSON(http.StatusCreated, artifact)
}

// Get handles GET /api/v1/workspaces/:workspace/artifacts/:id.
func (h *ArtifactHandler) Get(c *gin.Context) {
	artifact, err := h.studio.Artifact(c.Request.Context(), c.Param("workspace"), c.Param("id"))
	if err != nil {
		respondError(c, "Get artifact", err)
		return
	}
	c.JSON(http.StatusOK, artifact)
}

// Children handles GET /api/v1/workspaces/:workspace/artifacts/:id/children.
func (h *ArtifactHandler) Children(c *gin.Context) {
	ctx := c.Request.Context()
	workspaceID, id := c.Param("workspace"), c.Param("id")
	if _, err := h.studio.Artifact(ctx, workspaceID, id); err != nil {
		respondError(c, "List children", err)
		return
	}
	children, err := h.studio.Children(ctx, workspaceID, id)
	if err != nil {
		respondError(c, "List children", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"artifacts": children,
		"total":     len(children),
	})
}

// Lineage handles GET /api/v1/workspaces/:workspace/artifacts/:id/lineage.
func (h *ArtifactHandler) Lineage(c *gin.Context) {
	lineage, err := h.studio.Lineage(c.Request.Context(), c.Param("workspace"), c.Param("id"))
	if err != nil {
		respondError(c, "Get lineage", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"artifacts": lineage,
		"total":     len(lineage),
	})
}

// Delete handles DELETE /api/v1/workspaces/:workspace/artifacts/:id.
// policy is cascade, orphan or reparent; empty uses the configured default.
func (h *ArtifactHandler) Delete(c *gin.Context) {
	result, err := h.studio.DeleteArtifact(c.Request.Context(), c.Param("workspace"), c.Param("id"), c.Query("policy"))
	if err != nil {
		respondError(c, "Delete artifact", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Layout handles GET /api/v1/workspaces/:workspace/layout.
func (h *ArtifactHandler) Layout(c *gin.Context) {
	layout, err := h.studio.Layout(c.Request.Context(), c.Param("workspace"))
	if err != nil {
		respondError(c, "Layout", err)
		return
	}
	c.JSON(http.StatusOK, layout)
}
