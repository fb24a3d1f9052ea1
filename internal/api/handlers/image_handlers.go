package handlers

import (
	"net/http"
	"path/filepath"
	"strings"

	"cropsight/config"

	"github.com/gin-gonic/gin"
)

// ImageHandler serves stored upload files. The routes are public because the
// detection service fetches images over plain HTTP.
type ImageHandler struct {
	uploadDir string
}

// NewImageHandler creates a new image file handler
func NewImageHandler(cfg *config.Config) *ImageHandler {
	return &ImageHandler{uploadDir: cfg.Server.UploadDir}
}

// RegisterRoutes registers the upload file route
func (h *ImageHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/uploads/request-images/:file", h.handleServeFile)
}

// handleServeFile serves one stored upload. The file name is reduced to its
// base so a crafted path can never escape the upload directory.
func (h *ImageHandler) handleServeFile(c *gin.Context) {
	name := filepath.Base(c.Param("file"))
	if name == "." || name == ".." || strings.ContainsAny(name, "/\\") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file name"})
		return
	}

	c.File(filepath.Join(h.uploadDir, name))
}
