package repository

import (
	"errors"

	"cropsight/internal/core/models"

	"gorm.io/gorm"
)

// UserRepository defines the user lookup operations used by auth
type UserRepository interface {
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	Save(user *models.User) error
}

// ImageRepository defines the image queries used by the cleanup service
type ImageRepository interface {
	ListFilePaths() ([]string, error)
}

// GormRepository implements the repositories on top of GORM
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository creates a new repository instance
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// GetByID fetches a user by primary key. Returns nil without error when the
// user does not exist.
func (r *GormRepository) GetByID(id uint) (*models.User, error) {
	var user models.User
	result := r.db.First(&user, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &user, nil
}

// GetByEmail fetches a user by email. Returns nil without error when the
// user does not exist.
func (r *GormRepository) GetByEmail(email string) (*models.User, error) {
	var user models.User
	result := r.db.Where("email = ?", email).First(&user)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &user, nil
}

// Save persists a user record
func (r *GormRepository) Save(user *models.User) error {
	return r.db.Save(user).Error
}

// ListFilePaths returns the stored file path of every request image
func (r *GormRepository) ListFilePaths() ([]string, error) {
	var paths []string
	if err := r.db.Model(&models.RequestImage{}).Pluck("file_path", &paths).Error; err != nil {
		return nil, err
	}
	return paths, nil
}
