package services

import (
	"encoding/json"
	"errors"
	"fmt"

	"cropsight/internal/core/geo"
	"cropsight/internal/core/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// FarmService manages farm records. The farm area is derived from the
// polygon and recomputed on every polygon change, never set directly.
type FarmService struct {
	db *gorm.DB
}

// NewFarmService creates a new farm service
func NewFarmService(db *gorm.DB) *FarmService {
	return &FarmService{db: db}
}

// FarmUpdate carries the optional fields of a farm update
type FarmUpdate struct {
	Name    *string
	Type    *models.CropType
	Polygon []models.Coordinate
}

// List returns the user's farms, newest first
func (s *FarmService) List(userID uint) ([]models.Farm, error) {
	var farms []models.Farm
	if err := s.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&farms).Error; err != nil {
		return nil, fmt.Errorf("failed to list farms: %w", err)
	}
	return farms, nil
}

// Create registers a new farm and computes its area from the polygon
func (s *FarmService) Create(userID uint, name string, cropType models.CropType, polygon []models.Coordinate) (*models.Farm, error) {
	if len(polygon) < 3 {
		return nil, precondition("polygon must have at least 3 points")
	}
	if !models.ValidCropType(cropType) {
		return nil, precondition(fmt.Sprintf("unknown crop type %q", cropType))
	}

	polygonJSON, err := json.Marshal(polygon)
	if err != nil {
		return nil, fmt.Errorf("failed to encode polygon: %w", err)
	}

	farm := models.Farm{
		UserID:  userID,
		Name:    name,
		Type:    cropType,
		Polygon: datatypes.JSON(polygonJSON),
		Area:    geo.PolygonArea(polygon),
	}
	if err := s.db.Create(&farm).Error; err != nil {
		return nil, fmt.Errorf("failed to create farm: %w", err)
	}
	return &farm, nil
}

// Get returns a farm owned by the user
func (s *FarmService) Get(userID, farmID uint) (*models.Farm, error) {
	var farm models.Farm
	if err := s.db.First(&farm, farmID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load farm: %w", err)
	}
	if farm.UserID != userID {
		return nil, ErrForbidden
	}
	return &farm, nil
}

// Update modifies a farm; a polygon change always recomputes the area
func (s *FarmService) Update(userID, farmID uint, update FarmUpdate) (*models.Farm, error) {
	farm, err := s.Get(userID, farmID)
	if err != nil {
		return nil, err
	}

	if update.Name != nil {
		farm.Name = *update.Name
	}
	if update.Type != nil {
		if !models.ValidCropType(*update.Type) {
			return nil, precondition(fmt.Sprintf("unknown crop type %q", *update.Type))
		}
		farm.Type = *update.Type
	}
	if update.Polygon != nil {
		if len(update.Polygon) < 3 {
			return nil, precondition("polygon must have at least 3 points")
		}
		polygonJSON, err := json.Marshal(update.Polygon)
		if err != nil {
			return nil, fmt.Errorf("failed to encode polygon: %w", err)
		}
		farm.Polygon = datatypes.JSON(polygonJSON)
		farm.Area = geo.PolygonArea(update.Polygon)
	}

	if err := s.db.Save(farm).Error; err != nil {
		return nil, fmt.Errorf("failed to update farm: %w", err)
	}
	return farm, nil
}

// Delete removes a farm and, through the cascade, its requests and images
func (s *FarmService) Delete(userID, farmID uint) error {
	farm, err := s.Get(userID, farmID)
	if err != nil {
		return err
	}
	if err := s.db.Delete(farm).Error; err != nil {
		return fmt.Errorf("failed to delete farm: %w", err)
	}
	return nil
}
