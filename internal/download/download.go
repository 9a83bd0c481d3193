// Package download gates blueprint artifact downloads behind access tokens.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/blueprintstore/internal/apperr"
	"github.com/mbd888/blueprintstore/internal/artifacts"
	"github.com/mbd888/blueprintstore/internal/catalog"
	"github.com/mbd888/blueprintstore/internal/logging"
	"github.com/mbd888/blueprintstore/internal/metrics"
)

var (
	ErrTokenRequired = apperr.Unauthorized("token_required", "An access token is required")
	ErrTokenInvalid  = apperr.Forbidden("token_invalid", "Access token is invalid or expired")
	ErrNotAvailable  = apperr.NotFound("blueprint_unavailable", "Blueprint not found or file not available")
)

// TokenVerifier checks a bearer token for a blueprint.
type TokenVerifier interface {
	Verify(ctx context.Context, token, blueprintID string) bool
}

// ArtifactRef identifies the file a download resolves to.
type ArtifactRef struct {
	BlueprintID string
	Key         string
	Filename    string
}

// Gate authorizes and serves downloads.
type Gate struct {
	catalog   catalog.Store
	artifacts artifacts.Store
	tokens    TokenVerifier
}

// NewGate creates a download gate.
func NewGate(cat catalog.Store, store artifacts.Store, tokens TokenVerifier) *Gate {
	return &Gate{catalog: cat, artifacts: store, tokens: tokens}
}

// AuthorizeDownload resolves the artifact for blueprintID if the
// Authorization header carries a valid token for it. Checks run in order:
// header present (401), token valid (403), artifact present (404).
func (g *Gate) AuthorizeDownload(ctx context.Context, blueprintID, authorization string) (*ArtifactRef, error) {
	token, ok := bearerToken(authorization)
	if !ok {
		return nil, ErrTokenRequired
	}
	if !g.tokens.Verify(ctx, token, blueprintID) {
		return nil, ErrTokenInvalid
	}

	bp, err := g.catalog.Get(ctx, blueprintID)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, ErrNotAvailable
	}
	if err != nil {
		return nil, apperr.Upstream("catalog_error", err)
	}
	if !bp.HasArtifact() {
		return nil, ErrNotAvailable
	}
	return &ArtifactRef{
		BlueprintID: bp.ID,
		Key:         bp.ArtifactKey,
		Filename:    bp.ID + "-blueprint.json",
	}, nil
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

// Handler serves GET /download/:blueprintId.
type Handler struct {
	gate *Gate
}

// NewHandler creates a download handler.
func NewHandler(gate *Gate) *Handler {
	return &Handler{gate: gate}
}

// RegisterRoutes sets up download routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/download/:blueprintId", h.Download)
	r.GET("/download-blueprint/:blueprintId", h.Download)
}

// Download streams the artifact as an attachment.
func (h *Handler) Download(c *gin.Context) {
	ctx := c.Request.Context()
	blueprintID := c.Param("blueprintId")

	ref, err := h.gate.AuthorizeDownload(ctx, blueprintID, c.GetHeader("Authorization"))
	if err != nil {
		metrics.DownloadsTotal.WithLabelValues(outcomeOf(err)).Inc()
		apperr.Respond(c, err)
		return
	}

	obj, err := h.gate.artifacts.Get(ctx, ref.Key)
	if errors.Is(err, artifacts.ErrNotFound) {
		metrics.DownloadsTotal.WithLabelValues("not_found").Inc()
		logging.L(ctx).Error("artifact missing from storage", "blueprint_id", blueprintID, "key", ref.Key)
		apperr.Respond(c, ErrNotAvailable)
		return
	}
	if err != nil {
		metrics.DownloadsTotal.WithLabelValues("error").Inc()
		apperr.Respond(c, apperr.Upstream("storage_error", err))
		return
	}
	defer obj.Body.Close()

	contentType := obj.ContentType
	if contentType == "" {
		contentType = artifacts.ContentTypeJSON
	}
	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, ref.Filename))
	c.Header("Cache-Control", "no-store")
	if obj.Size > 0 {
		c.Header("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	c.Status(http.StatusOK)

	n, err := io.Copy(c.Writer, obj.Body)
	if err != nil {
		metrics.DownloadsTotal.WithLabelValues("interrupted").Inc()
		logging.L(ctx).Warn("download interrupted", "blueprint_id", blueprintID, "bytes", n, "error", err)
		return
	}
	metrics.DownloadsTotal.WithLabelValues("served").Inc()
	logging.L(ctx).Info("blueprint downloaded", "blueprint_id", blueprintID, "bytes", n)
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, ErrTokenRequired):
		return "unauthorized"
	case errors.Is(err, ErrTokenInvalid):
		return "forbidden"
	case errors.Is(err, ErrNotAvailable):
		return "not_found"
	default:
		return "error"
	}
}
