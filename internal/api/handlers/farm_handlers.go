package handlers

import (
	"net/http"
	"strconv"

	"cropsight/internal/api/middleware"
	"cropsight/internal/core/models"
	"cropsight/internal/services"

	"github.com/gin-gonic/gin"
)

// FarmHandler serves the farm CRUD routes
type FarmHandler struct {
	farms *services.FarmService
}

// NewFarmHandler creates a new farm handler
func NewFarmHandler(farms *services.FarmService) *FarmHandler {
	return &FarmHandler{farms: farms}
}

// RegisterRoutes registers all farm routes
func (h *FarmHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/farms", h.handleList)
	router.POST("/farms", h.handleCreate)
	router.GET("/farms/:id", h.handleGet)
	router.PUT("/farms/:id", h.handleUpdate)
	router.DELETE("/farms/:id", h.handleDelete)
}

type createFarmRequest struct {
	Name    string              `json:"name" binding:"required"`
	Type    models.CropType     `json:"type" binding:"required"`
	Polygon []models.Coordinate `json:"polygon" binding:"required"`
}

type updateFarmRequest struct {
	Name    *string             `json:"name"`
	Type    *models.CropType    `json:"type"`
	Polygon []models.Coordinate `json:"polygon"`
}

func (h *FarmHandler) handleList(c *gin.Context) {
	user := middleware.CurrentUser(c)

	farms, err := h.farms.List(user.ID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"farms": farms})
}

func (h *FarmHandler) handleCreate(c *gin.Context) {
	user := middleware.CurrentUser(c)

	var req createFarmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid farm data: " + err.Error()})
		return
	}

	farm, err := h.farms.Create(user.ID, req.Name, req.Type, req.Polygon)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"farm": farm})
}

func (h *FarmHandler) handleGet(c *gin.Context) {
	user := middleware.CurrentUser(c)
	farmID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	farm, err := h.farms.Get(user.ID, farmID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"farm": farm})
}

func (h *FarmHandler) handleUpdate(c *gin.Context) {
	user := middleware.CurrentUser(c)
	farmID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req updateFarmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid farm data: " + err.Error()})
		return
	}

	farm, err := h.farms.Update(user.ID, farmID, services.FarmUpdate{
		Name:    req.Name,
		Type:    req.Type,
		Polygon: req.Polygon,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"farm": farm})
}

func (h *FarmHandler) handleDelete(c *gin.Context) {
	user := middleware.CurrentUser(c)
	farmID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := h.farms.Delete(user.ID, farmID); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "farm deleted"})
}

// parseIDParam parses a numeric path parameter, responding with 400 on failure
func parseIDParam(c *gin.Context, name string) (uint, bool) {
	raw := c.Param(name)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name + " parameter"})
		return 0, false
	}
	return uint(id), true
}
