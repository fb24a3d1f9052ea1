package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cropsight/config"
	"cropsight/internal/core/models"
	"cropsight/internal/core/processor"
	"cropsight/internal/core/report"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RequestService governs the request lifecycle: creation, draft-only
// mutation, submission and report handling. Request content may only change
// while the request is still a DRAFT, regardless of the caller's role.
type RequestService struct {
	db       *gorm.DB
	cfg      *config.Config
	analyzer *processor.Analyzer
	pool     *processor.WorkerPool
}

// NewRequestService creates a new request service. The pool may be nil; in
// that case uploads do not trigger background analysis.
func NewRequestService(db *gorm.DB, cfg *config.Config, analyzer *processor.Analyzer, pool *processor.WorkerPool) *RequestService {
	return &RequestService{db: db, cfg: cfg, analyzer: analyzer, pool: pool}
}

// ImageMeta carries the client-provided metadata of an uploaded image
type ImageMeta struct {
	Type      models.ImageType
	Latitude  float64
	Longitude float64
}

// List returns requests visible to the user. Farmers must name one of their
// own farms; admins see everything, optionally filtered by farm.
func (s *RequestService) List(user *models.User, farmID *uint) ([]models.Request, error) {
	query := s.db.Preload("Images").Preload("Farm").Order("created_at DESC")

	if user.Role == models.RoleAdmin {
		if farmID != nil {
			query = query.Where("farm_id = ?", *farmID)
		}
	} else {
		if farmID == nil {
			return nil, precondition("farmId is required for farmers")
		}
		if err := s.checkFarmOwnership(user, *farmID); err != nil {
			return nil, err
		}
		query = query.Where("farm_id = ?", *farmID)
	}

	var requests []models.Request
	if err := query.Find(&requests).Error; err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	return requests, nil
}

// Create opens a new DRAFT request against one of the user's farms
func (s *RequestService) Create(user *models.User, farmID uint) (*models.Request, error) {
	if err := s.checkFarmOwnership(user, farmID); err != nil {
		return nil, err
	}

	request := models.Request{
		FarmID: farmID,
		Status: models.RequestDraft,
	}
	if err := s.db.Create(&request).Error; err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return &request, nil
}

// Get returns a request with its images and farm loaded
func (s *RequestService) Get(user *models.User, requestID uint) (*models.Request, error) {
	return s.loadAuthorized(user, requestID, true)
}

// UpdateMeta changes the request note and expert-intervention flag.
// Only DRAFT requests may be updated.
func (s *RequestService) UpdateMeta(user *models.User, requestID uint, note *string, expertIntervention *bool) (*models.Request, error) {
	request, err := s.loadAuthorized(user, requestID, false)
	if err != nil {
		return nil, err
	}
	if err := draftGuard(request, "only draft requests can be updated"); err != nil {
		return nil, err
	}

	if expertIntervention != nil {
		request.ExpertIntervention = *expertIntervention
	}
	if note != nil {
		request.Note = note
	}

	if err := s.db.Save(request).Error; err != nil {
		return nil, fmt.Errorf("failed to update request: %w", err)
	}
	return request, nil
}

// AddImage stores an uploaded file, creates the image record in UPLOADED
// state and schedules its analysis. Uploads are allowed on DRAFT requests
// only.
func (s *RequestService) AddImage(user *models.User, requestID uint, meta ImageMeta, content io.Reader, ext string) (*models.RequestImage, error) {
	request, err := s.loadAuthorized(user, requestID, false)
	if err != nil {
		return nil, err
	}
	if err := draftGuard(request, "images can only be uploaded to draft requests"); err != nil {
		return nil, err
	}
	if meta.Type != models.ImageNormal && meta.Type != models.ImageMacro {
		return nil, precondition(fmt.Sprintf("unknown image type %q", meta.Type))
	}

	fileName, err := s.storeFile(content, ext)
	if err != nil {
		return nil, err
	}

	image := models.RequestImage{
		RequestID: request.ID,
		Type:      meta.Type,
		Status:    models.ImageUploaded,
		FilePath:  "uploads/request-images/" + fileName,
		Latitude:  meta.Latitude,
		Longitude: meta.Longitude,
	}
	if err := s.db.Create(&image).Error; err != nil {
		// The record failed; do not leave the file behind
		if removeErr := os.Remove(filepath.Join(s.cfg.Server.UploadDir, fileName)); removeErr != nil {
			log.Warnf("Failed to remove orphaned upload %s: %v", fileName, removeErr)
		}
		return nil, fmt.Errorf("failed to create image record: %w", err)
	}

	// Touch the parent so its updated_at reflects the new content
	if err := s.db.Model(request).Update("updated_at", gorm.Expr("CURRENT_TIMESTAMP")).Error; err != nil {
		log.Warnf("Failed to touch request %d: %v", request.ID, err)
	}

	if s.pool != nil {
		s.pool.Enqueue(image.ID)
	}

	return &image, nil
}

// storeFile writes the upload under a random name and returns that name
func (s *RequestService) storeFile(content io.Reader, ext string) (string, error) {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		ext = "jpg"
	}
	fileName := strings.ReplaceAll(uuid.New().String(), "-", "") + "." + ext

	if err := os.MkdirAll(s.cfg.Server.UploadDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}

	dst, err := os.Create(filepath.Join(s.cfg.Server.UploadDir, fileName))
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, content); err != nil {
		return "", fmt.Errorf("failed to write upload file: %w", err)
	}
	return fileName, nil
}

// Send submits a DRAFT request for diagnosis. At least one image must be in
// a usable state (UPLOADED, PROCESSING or PROCESSED); failed or never
// uploaded images do not count.
func (s *RequestService) Send(user *models.User, requestID uint) (*models.Request, error) {
	request, err := s.loadAuthorized(user, requestID, false)
	if err != nil {
		return nil, err
	}
	if request.Status != models.RequestDraft {
		return nil, precondition("only draft requests can be sent")
	}

	var usable int64
	err = s.db.Model(&models.RequestImage{}).
		Where("request_id = ? AND status IN ?", request.ID,
			[]models.ImageStatus{models.ImageUploaded, models.ImageProcessing, models.ImageProcessed}).
		Count(&usable).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count request images: %w", err)
	}
	if usable == 0 {
		return nil, precondition("request must have at least one uploaded image before sending")
	}

	request.Status = models.RequestPending
	if err := s.db.Save(request).Error; err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	log.Infof("Request %d sent (farm %d)", request.ID, request.FarmID)
	return request, nil
}

// DeleteImage removes an image record and, best effort, its stored file.
// Deletion is only allowed while the parent request is a DRAFT; a failure to
// remove the file never blocks deleting the record.
func (s *RequestService) DeleteImage(user *models.User, imageID uint) error {
	image, err := s.loadAuthorizedImage(user, imageID)
	if err != nil {
		return err
	}
	if err := draftGuard(&image.Request, "images can only be deleted from draft requests"); err != nil {
		return err
	}

	fullPath := filepath.Join(s.cfg.Server.UploadDir, filepath.Base(image.FilePath))
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		log.Warnf("Failed to remove stored file %s: %v", fullPath, err)
	}

	if err := s.db.Delete(&models.RequestImage{}, image.ID).Error; err != nil {
		return fmt.Errorf("failed to delete image record: %w", err)
	}
	return nil
}

// Reanalyze reruns the analysis for one image and returns it in its new
// terminal state. A concurrent analysis on the same image is rejected.
func (s *RequestService) Reanalyze(ctx context.Context, user *models.User, imageID uint) (*models.RequestImage, error) {
	image, err := s.loadAuthorizedImage(user, imageID)
	if err != nil {
		return nil, err
	}

	result, err := s.analyzer.Analyze(ctx, image.ID)
	if err != nil {
		if errors.Is(err, processor.ErrAlreadyProcessing) {
			return nil, precondition("image is already being processed")
		}
		return nil, err
	}
	return result, nil
}

// GenerateReport synthesizes the markdown report from the request's images
// and stores it as the request's final report, replacing any previous one.
func (s *RequestService) GenerateReport(user *models.User, requestID uint) (*models.Request, error) {
	request, err := s.loadAuthorized(user, requestID, true)
	if err != nil {
		return nil, err
	}

	markdown := report.Build(request)
	request.FinalReport = &markdown
	if err := s.db.Model(request).Update("final_report", markdown).Error; err != nil {
		return nil, fmt.Errorf("failed to store report: %w", err)
	}

	log.Infof("Generated report for request %d (%d images)", request.ID, len(request.Images))
	return request, nil
}

// GetReport returns the stored markdown report, which may be nil when no
// report has been generated yet
func (s *RequestService) GetReport(user *models.User, requestID uint) (*string, error) {
	request, err := s.loadAuthorized(user, requestID, false)
	if err != nil {
		return nil, err
	}
	return request.FinalReport, nil
}

// loadAuthorized loads a request and verifies the caller may access it
func (s *RequestService) loadAuthorized(user *models.User, requestID uint, withImages bool) (*models.Request, error) {
	query := s.db.Preload("Farm")
	if withImages {
		query = query.Preload("Images")
	}

	var request models.Request
	if err := query.First(&request, requestID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load request: %w", err)
	}

	if user.Role != models.RoleAdmin && request.Farm.UserID != user.ID {
		return nil, ErrForbidden
	}
	return &request, nil
}

// loadAuthorizedImage loads an image with its parent request and verifies
// the caller may access it
func (s *RequestService) loadAuthorizedImage(user *models.User, imageID uint) (*models.RequestImage, error) {
	var image models.RequestImage
	if err := s.db.Preload("Request.Farm").First(&image, imageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load image: %w", err)
	}

	if user.Role != models.RoleAdmin && image.Request.Farm.UserID != user.ID {
		return nil, ErrForbidden
	}
	return &image, nil
}

// checkFarmOwnership verifies the farm exists and belongs to the user
func (s *RequestService) checkFarmOwnership(user *models.User, farmID uint) error {
	var farm models.Farm
	if err := s.db.First(&farm, farmID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to load farm: %w", err)
	}
	if farm.UserID != user.ID {
		return ErrForbidden
	}
	return nil
}

// draftGuard enforces the draft-only mutation rule for every caller role
func draftGuard(request *models.Request, reason string) error {
	if request.Status != models.RequestDraft {
		return precondition(reason)
	}
	return nil
}
