package handlers

import (
	"net/http"
	"path/filepath"
	"strconv"

	"cropsight/internal/api/middleware"
	"cropsight/internal/core/models"
	"cropsight/internal/services"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// RequestHandler serves the diagnosis request routes
type RequestHandler struct {
	requests *services.RequestService
}

// NewRequestHandler creates a new request handler
func NewRequestHandler(requests *services.RequestService) *RequestHandler {
	return &RequestHandler{requests: requests}
}

// RegisterRoutes registers all request and image routes
func (h *RequestHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/requests", h.handleList)
	router.POST("/requests", h.handleCreate)
	router.GET("/requests/:id", h.handleGet)
	router.PUT("/requests/:id", h.handleUpdate)
	router.POST("/requests/:id/send", h.handleSend)
	router.POST("/requests/:id/images", h.handleUploadImage)
	router.POST("/requests/:id/images/bulk", h.handleBulkUpload)
	router.POST("/requests/:id/report", h.handleGenerateReport)
	router.GET("/requests/:id/report", h.handleGetReport)

	router.DELETE("/images/:id", h.handleDeleteImage)
	router.POST("/images/:id/reanalyze", h.handleReanalyze)
}

type createRequestBody struct {
	FarmID uint `json:"farmId" binding:"required"`
}

type updateRequestBody struct {
	Note               *string `json:"note"`
	ExpertIntervention *bool   `json:"expertIntervention"`
}

func (h *RequestHandler) handleList(c *gin.Context) {
	user := middleware.CurrentUser(c)

	var farmID *uint
	if raw := c.Query("farmId"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid farmId parameter"})
			return
		}
		id := uint(parsed)
		farmID = &id
	}

	requests, err := h.requests.List(user, farmID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": requests})
}

func (h *RequestHandler) handleCreate(c *gin.Context) {
	user := middleware.CurrentUser(c)

	var body createRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request data: " + err.Error()})
		return
	}

	request, err := h.requests.Create(user, body.FarmID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"request": request})
}

func (h *RequestHandler) handleGet(c *gin.Context) {
	user := middleware.CurrentUser(c)
	requestID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	request, err := h.requests.Get(user, requestID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": request})
}

func (h *RequestHandler) handleUpdate(c *gin.Context) {
	user := middleware.CurrentUser(c)
	requestID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var body updateRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request data: " + err.Error()})
		return
	}

	request, err := h.requests.UpdateMeta(user, requestID, body.Note, body.ExpertIntervention)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": request})
}

func (h *RequestHandler) handleSend(c *gin.Context) {
	user := middleware.CurrentUser(c)
	requestID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	request, err := h.requests.Send(user, requestID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": request})
}

// handleUploadImage accepts a single multipart image upload with its metadata
func (h *RequestHandler) handleUploadImage(c *gin.Context) {
	user := middleware.CurrentUser(c)
	requestID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no image uploaded or invalid form data"})
		return
	}

	meta, ok := parseImageMeta(c)
	if !ok {
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read uploaded file"})
		return
	}
	defer src.Close()

	image, err := h.requests.AddImage(user, requestID, meta, src, filepath.Ext(file.Filename))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"image": image})
}

// handleBulkUpload accepts several images in one multipart request with
// per-file metadata in parallel form arrays. Files that fail do not abort
// the rest.
func (h *RequestHandler) handleBulkUpload(c *gin.Context) {
	user := middleware.CurrentUser(c)
	requestID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form data"})
		return
	}
	files := form.File["images"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no images uploaded"})
		return
	}

	metas, ok := parseBulkImageMeta(c, form.Value, len(files))
	if !ok {
		return
	}

	var uploaded []models.RequestImage
	var failures []gin.H
	for i, file := range files {
		src, err := file.Open()
		if err != nil {
			failures = append(failures, gin.H{"file": file.Filename, "error": "failed to read file"})
			continue
		}

		image, err := h.requests.AddImage(user, requestID, metas[i], src, filepath.Ext(file.Filename))
		src.Close()
		if err != nil {
			log.Warnf("Bulk upload: failed to store %s for request %d: %v", file.Filename, requestID, err)
			failures = append(failures, gin.H{"file": file.Filename, "error": err.Error()})
			continue
		}
		uploaded = append(uploaded, *image)
	}

	status := http.StatusCreated
	if len(uploaded) == 0 {
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{
		"images":   uploaded,
		"failures": failures,
	})
}

func (h *RequestHandler) handleDeleteImage(c *gin.Context) {
	user := middleware.CurrentUser(c)
	imageID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := h.requests.DeleteImage(user, imageID); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "image deleted"})
}

func (h *RequestHandler) handleReanalyze(c *gin.Context) {
	user := middleware.CurrentUser(c)
	imageID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	image, err := h.requests.Reanalyze(c.Request.Context(), user, imageID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"image": image})
}

func (h *RequestHandler) handleGenerateReport(c *gin.Context) {
	user := middleware.CurrentUser(c)
	requestID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	request, err := h.requests.GenerateReport(user, requestID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": request.FinalReport})
}

func (h *RequestHandler) handleGetReport(c *gin.Context) {
	user := middleware.CurrentUser(c)
	requestID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	report, err := h.requests.GetReport(user, requestID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if report == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no report has been generated for this request"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}

// parseBulkImageMeta reads the parallel metadata arrays of a bulk upload.
// The type array must match the file count; coordinates are optional but
// must match when present.
func parseBulkImageMeta(c *gin.Context, values map[string][]string, fileCount int) ([]services.ImageMeta, bool) {
	types := values["type"]
	latitudes := values["latitude"]
	longitudes := values["longitude"]

	if len(types) != fileCount {
		c.JSON(http.StatusBadRequest, gin.H{"error": "metadata count does not match image count"})
		return nil, false
	}
	if (len(latitudes) != 0 && len(latitudes) != fileCount) || (len(longitudes) != 0 && len(longitudes) != fileCount) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "coordinate count does not match image count"})
		return nil, false
	}

	metas := make([]services.ImageMeta, fileCount)
	for i := 0; i < fileCount; i++ {
		metas[i].Type = models.ImageType(types[i])

		if len(latitudes) != 0 {
			lat, err := strconv.ParseFloat(latitudes[i], 64)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid latitude"})
				return nil, false
			}
			metas[i].Latitude = lat
		}
		if len(longitudes) != 0 {
			lng, err := strconv.ParseFloat(longitudes[i], 64)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid longitude"})
				return nil, false
			}
			metas[i].Longitude = lng
		}
	}
	return metas, true
}

// parseImageMeta reads the metadata form fields of a single upload,
// responding with 400 on invalid values
func parseImageMeta(c *gin.Context) (services.ImageMeta, bool) {
	meta := services.ImageMeta{
		Type: models.ImageType(c.DefaultPostForm("type", string(models.ImageNormal))),
	}

	if raw := c.PostForm("latitude"); raw != "" {
		lat, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid latitude"})
			return meta, false
		}
		meta.Latitude = lat
	}
	if raw := c.PostForm("longitude"); raw != "" {
		lng, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid longitude"})
			return meta, false
		}
		meta.Longitude = lng
	}
	return meta, true
}
