package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cropsight/config"
	"cropsight/internal/core/models"
	"cropsight/internal/integrations/leafmodel"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrAlreadyProcessing is returned when an analysis is requested for an image
// that already has one in flight.
var ErrAlreadyProcessing = errors.New("image is already being processed")

// Detector is the contract of the external disease-detection service
type Detector interface {
	Detect(ctx context.Context, imageURL string) (*leafmodel.Result, error)
}

// Broadcaster receives image status updates for live clients
type Broadcaster interface {
	BroadcastImageUpdate(image *models.RequestImage)
}

// Publisher receives completed analysis results, e.g. for MQTT dashboards
type Publisher interface {
	PublishAnalysis(image *models.RequestImage)
}

// Analyzer drives a request image through the analysis state machine:
// UPLOADED -> PROCESSING -> PROCESSED or FAILED. PROCESSING is re-entrant
// from any terminal state via reanalysis. Every attempt first clears the
// derived diagnostic fields, so a failed rerun can never keep stale data
// from a previous run.
type Analyzer struct {
	db          *gorm.DB
	cfg         *config.Config
	detector    Detector
	broadcaster Broadcaster
	publisher   Publisher
}

// NewAnalyzer creates a new image analyzer. Broadcaster and publisher are
// optional and may be nil.
func NewAnalyzer(db *gorm.DB, cfg *config.Config, detector Detector, broadcaster Broadcaster, publisher Publisher) *Analyzer {
	return &Analyzer{
		db:          db,
		cfg:         cfg,
		detector:    detector,
		broadcaster: broadcaster,
		publisher:   publisher,
	}
}

// outcome is the immutable result of one analysis attempt. It is computed in
// full before anything is written, then applied as a single atomic update so
// readers never observe a half-written image.
type outcome struct {
	status  models.ImageStatus
	columns map[string]interface{}
}

// clearedDerivedColumns maps every AI-derived column to nil. They are reset
// together when an attempt starts and on the failure path.
func clearedDerivedColumns() map[string]interface{} {
	return map[string]interface{}{
		"disease_type":   nil,
		"confidence":     nil,
		"treatment_plan": nil,
		"materials":      nil,
		"services":       nil,
		"image_url":      nil,
		"heatmap_url":    nil,
		"overlay_url":    nil,
		"anomaly_score":  nil,
		"is_diseased":    nil,
		"diseases_json":  nil,
		"leafs_data":     nil,
		"summary_json":   nil,
		"processed_at":   nil,
	}
}

// Analyze runs one analysis attempt for the given image and returns the image
// in its terminal state. Detection failures are absorbed into the FAILED
// state and are not returned as errors; an error return means the attempt
// could not be started or persisted at all.
func (a *Analyzer) Analyze(ctx context.Context, imageID uint) (*models.RequestImage, error) {
	var image models.RequestImage
	if err := a.db.First(&image, imageID).Error; err != nil {
		return nil, fmt.Errorf("failed to load image %d: %w", imageID, err)
	}

	// Enter PROCESSING with an optimistic status guard: a concurrent attempt
	// on the same image loses this race and is rejected. The transition is
	// persisted immediately so the image is visibly in flight even if the
	// detection call below is slow or the process dies.
	entry := clearedDerivedColumns()
	entry["status"] = models.ImageProcessing
	res := a.db.Model(&models.RequestImage{}).
		Where("id = ? AND status <> ?", image.ID, models.ImageProcessing).
		Updates(entry)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to mark image %d as processing: %w", image.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrAlreadyProcessing
	}

	log.Infof("Analyzing image %d (%s)", image.ID, image.FilePath)

	result := a.runDetection(ctx, &image)

	if err := a.db.Model(&models.RequestImage{}).Where("id = ?", image.ID).Updates(result.columns).Error; err != nil {
		return nil, fmt.Errorf("failed to persist analysis result for image %d: %w", image.ID, err)
	}

	if err := a.db.First(&image, image.ID).Error; err != nil {
		return nil, fmt.Errorf("failed to reload image %d: %w", image.ID, err)
	}

	log.Infof("Image %d analysis finished with status %s", image.ID, image.Status)

	if a.broadcaster != nil {
		a.broadcaster.BroadcastImageUpdate(&image)
	}
	if a.publisher != nil && image.Status == models.ImageProcessed {
		a.publisher.PublishAnalysis(&image)
	}

	return &image, nil
}

// runDetection calls the model service and folds its answer into an outcome.
// Every path ends in a terminal status; nothing here can leave the image
// stuck in PROCESSING.
func (a *Analyzer) runDetection(ctx context.Context, image *models.RequestImage) outcome {
	imageURL := a.publicImageURL(image)

	result, err := a.detector.Detect(ctx, imageURL)
	if err != nil {
		log.Warnf("Detection failed for image %d: %v", image.ID, err)
		return failedOutcome()
	}
	if len(result.Leafs) == 0 {
		log.Warnf("Detection for image %d returned no leaf records", image.ID)
		return failedOutcome()
	}

	o, err := processedOutcome(result)
	if err != nil {
		log.Errorf("Failed to encode detection result for image %d: %v", image.ID, err)
		return failedOutcome()
	}
	return o
}

// publicImageURL builds the URL under which the model service can fetch the
// stored file
func (a *Analyzer) publicImageURL(image *models.RequestImage) string {
	base := strings.TrimRight(a.cfg.Server.PublicURL, "/")
	return base + "/" + strings.TrimLeft(image.FilePath, "/")
}

// processedOutcome derives every diagnostic column from a successful
// detection with at least one leaf record. The first leaf is canonical for
// the single-image fields; the full leaf array is stored verbatim.
func processedOutcome(result *leafmodel.Result) (outcome, error) {
	first := result.Leafs[0]

	leafsJSON, err := json.Marshal(result.Leafs)
	if err != nil {
		return outcome{}, fmt.Errorf("marshal leafs: %w", err)
	}

	summaryJSON, err := json.Marshal(summaryFor(result))
	if err != nil {
		return outcome{}, fmt.Errorf("marshal summary: %w", err)
	}

	now := time.Now()
	columns := map[string]interface{}{
		"status":        models.ImageProcessed,
		"processed_at":  now,
		"leafs_data":    leafsJSON,
		"summary_json":  summaryJSON,
		"image_url":     first.Image,
		"heatmap_url":   first.Heatmap,
		"overlay_url":   first.Overlay,
		"anomaly_score": first.AnomalyScore,
		"is_diseased":   first.IsDiseased,
	}

	if len(first.Diseases) > 0 {
		diseasesJSON, err := json.Marshal(first.Diseases)
		if err != nil {
			return outcome{}, fmt.Errorf("marshal diseases: %w", err)
		}
		columns["diseases_json"] = diseasesJSON

		lead := first.Diseases[0]
		columns["disease_type"] = lead.Name
		columns["confidence"] = lead.Confidence
		columns["treatment_plan"] = lead.Treatment
	}

	return outcome{status: models.ImageProcessed, columns: columns}, nil
}

// summaryFor prefers the counts reported by the model itself and falls back
// to counting the is_diseased flags, so healthy leafs are reported honestly.
func summaryFor(result *leafmodel.Result) leafmodel.Summary {
	if result.Summary != nil {
		return *result.Summary
	}

	diseased := 0
	for _, leaf := range result.Leafs {
		if leaf.IsDiseased != nil && *leaf.IsDiseased {
			diseased++
		}
	}
	return leafmodel.Summary{
		TotalLeafs:    len(result.Leafs),
		DiseasedLeafs: diseased,
		HealthyLeafs:  len(result.Leafs) - diseased,
	}
}

// failedOutcome clears every derived field. processedAt is set if and only
// if the image reaches PROCESSED, so it stays nil here.
func failedOutcome() outcome {
	columns := clearedDerivedColumns()
	columns["status"] = models.ImageFailed
	return outcome{status: models.ImageFailed, columns: columns}
}
