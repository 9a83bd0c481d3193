package catalog

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/blueprintstore/internal/apperr"
	"github.com/mbd888/blueprintstore/internal/logging"
	"github.com/mbd888/blueprintstore/internal/validation"
)

var (
	errBlueprintNotFound = apperr.NotFound("blueprint_not_found", "Blueprint not found")
	errInvalidRequest    = apperr.Validation("invalid_request", "Request body must be a JSON blueprint")
)

// Handler provides HTTP endpoints for the catalog.
type Handler struct {
	service *Service
}

// NewHandler creates a new catalog handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up the public read-only catalog routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/blueprints", h.ListBlueprints)
	r.GET("/blueprints/:id", h.GetBlueprint)
}

// RegisterAdminRoutes sets up catalog management routes. The group must
// already require an admin session.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/blueprints", h.CreateBlueprint)
	r.PUT("/blueprints/:id", h.UpdateBlueprint)
	r.DELETE("/blueprints/:id", h.DeleteBlueprint)
	r.POST("/blueprints/:id/artifact", h.UploadArtifact)
}

// adminView adds artifact presence, which the public view omits.
type adminView struct {
	*Blueprint
	HasArtifact bool `json:"hasArtifact"`
}

// ListBlueprints handles GET /api/blueprints
func (h *Handler) ListBlueprints(c *gin.Context) {
	list, err := h.service.List(c.Request.Context())
	if err != nil {
		apperr.Respond(c, apperr.Upstream("catalog_unavailable", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"blueprints": list, "count": len(list)})
}

// GetBlueprint handles GET /api/blueprints/:id
func (h *Handler) GetBlueprint(c *gin.Context) {
	b, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"blueprint": b})
}

// CreateBlueprint handles POST /api/admin/blueprints
func (h *Handler) CreateBlueprint(c *gin.Context) {
	var in Input
	if err := c.ShouldBindJSON(&in); err != nil {
		apperr.Respond(c, errInvalidRequest)
		return
	}

	b, err := h.service.Create(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	logging.L(c.Request.Context()).Info("blueprint created", "blueprint_id", b.ID)
	c.JSON(http.StatusCreated, gin.H{"blueprint": adminView{b, b.HasArtifact()}})
}

// UpdateBlueprint handles PUT /api/admin/blueprints/:id
func (h *Handler) UpdateBlueprint(c *gin.Context) {
	var in Input
	if err := c.ShouldBindJSON(&in); err != nil {
		apperr.Respond(c, errInvalidRequest)
		return
	}

	b, err := h.service.Update(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"blueprint": adminView{b, b.HasArtifact()}})
}

// DeleteBlueprint handles DELETE /api/admin/blueprints/:id
func (h *Handler) DeleteBlueprint(c *gin.Context) {
	id := c.Param("id")
	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	logging.L(c.Request.Context()).Info("blueprint deleted", "blueprint_id", id)
	c.JSON(http.StatusOK, gin.H{"deleted": true, "id": id})
}

// UploadArtifact handles POST /api/admin/blueprints/:id/artifact with a
// multipart file in field "blueprint".
func (h *Handler) UploadArtifact(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxArtifactSize+(1<<16))

	file, header, err := c.Request.FormFile("blueprint")
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			apperr.Respond(c, err)
			return
		}
		apperr.Respond(c, apperr.Validation("missing_file", "Multipart field 'blueprint' is required"))
		return
	}
	defer func() { _ = file.Close() }()

	if header.Size > MaxArtifactSize {
		h.fail(c, ErrTooLarge)
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, MaxArtifactSize+1))
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	key, err := h.service.UploadArtifact(c.Request.Context(), c.Param("id"),
		header.Filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		h.fail(c, err)
		return
	}
	logging.L(c.Request.Context()).Info("blueprint artifact uploaded",
		"blueprint_id", c.Param("id"), "key", key, "bytes", len(data))
	c.JSON(http.StatusCreated, gin.H{"blueprintId": c.Param("id"), "key": key, "size": len(data)})
}

func (h *Handler) fail(c *gin.Context, err error) {
	var verrs validation.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": verrs.Error(),
			"details": verrs,
		})
	case errors.Is(err, ErrNotFound):
		apperr.Respond(c, errBlueprintNotFound)
	case errors.Is(err, ErrExists):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "blueprint_exists", "message": "A blueprint with this id already exists"})
	case errors.Is(err, ErrNotJSON):
		apperr.Respond(c, apperr.Validation("not_json", "Only JSON files are accepted"))
	case errors.Is(err, ErrInvalidJSON):
		apperr.Respond(c, apperr.Validation("invalid_json", "File content is not valid JSON"))
	case errors.Is(err, ErrTooLarge):
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file_too_large", "message": "Blueprint files are limited to 10MB"})
	default:
		apperr.Respond(c, apperr.Upstream("catalog_error", err))
	}
}
