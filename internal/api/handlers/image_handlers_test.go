package handlers

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"cropsight/config"
	"cropsight/internal/core/models"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newImageTestRouter(t *testing.T) (*gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{}
	cfg.Server.UploadDir = t.TempDir()

	router := gin.New()
	// Root-level group, exactly as wired in main: the detection service is
	// handed public_url + "/" + FilePath, with no /api prefix
	NewImageHandler(cfg).RegisterRoutes(router.Group("/"))
	return router, cfg.Server.UploadDir
}

func TestServeFileMatchesStoredFilePath(t *testing.T) {
	router, uploadDir := newImageTestRouter(t)

	require.NoError(t, os.WriteFile(filepath.Join(uploadDir, "leaf.jpg"), []byte("jpeg bytes"), 0644))

	image := models.RequestImage{FilePath: "uploads/request-images/leaf.jpg"}

	// The request path is the stored relative path verbatim, the same string
	// the analyzer appends to the public base URL
	req := httptest.NewRequest(http.MethodGet, "/"+image.FilePath, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "jpeg bytes", rec.Body.String())
}

func TestServeFileMissing(t *testing.T) {
	router, _ := newImageTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/uploads/request-images/nope.jpg", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeFileRejectsTraversal(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{}
	cfg.Server.UploadDir = t.TempDir()
	handler := NewImageHandler(cfg)

	outside := filepath.Join(filepath.Dir(cfg.Server.UploadDir), "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("secret"), 0644))

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/uploads/request-images/x", nil)
	c.Params = gin.Params{{Key: "file", Value: "../secret.txt"}}

	handler.handleServeFile(c)

	assert.NotEqual(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")
}