package processor

import (
	"context"
	"errors"
	"testing"

	"cropsight/config"
	"cropsight/internal/core/models"
	"cropsight/internal/integrations/leafmodel"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type stubDetector struct {
	result  *leafmodel.Result
	err     error
	lastURL string
}

func (d *stubDetector) Detect(ctx context.Context, imageURL string) (*leafmodel.Result, error) {
	d.lastURL = imageURL
	return d.result, d.err
}

type recordingBroadcaster struct {
	updates []models.ImageStatus
}

func (b *recordingBroadcaster) BroadcastImageUpdate(image *models.RequestImage) {
	b.updates = append(b.updates, image.Status)
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Farm{}, &models.Request{}, &models.RequestImage{}))
	return db
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.PublicURL = "http://backend.local"
	return cfg
}

func createTestImage(t *testing.T, db *gorm.DB, status models.ImageStatus) *models.RequestImage {
	t.Helper()
	image := models.RequestImage{
		RequestID: 1,
		Type:      models.ImageNormal,
		Status:    status,
		FilePath:  "uploads/request-images/leaf.jpg",
	}
	require.NoError(t, db.Create(&image).Error)
	return &image
}

func diseasedResult() *leafmodel.Result {
	conf := 0.92
	treatment := "Spray copper fungicide"
	anomaly := 0.81
	diseased := true
	img := "http://model.local/out/leaf.jpg"
	heatmap := "http://model.local/out/heatmap.jpg"
	return &leafmodel.Result{
		Leafs: []leafmodel.LeafRecord{
			{
				Image:        &img,
				Heatmap:      &heatmap,
				AnomalyScore: &anomaly,
				IsDiseased:   &diseased,
				Diseases: leafmodel.DiseaseList{
					{Name: "BlackRot", Confidence: &conf, Treatment: &treatment},
				},
			},
		},
		Summary: &leafmodel.Summary{TotalLeafs: 1, DiseasedLeafs: 1, HealthyLeafs: 0},
	}
}

func TestAnalyzeSuccess(t *testing.T) {
	db := openTestDB(t)
	detector := &stubDetector{result: diseasedResult()}
	broadcaster := &recordingBroadcaster{}
	analyzer := NewAnalyzer(db, testConfig(), detector, broadcaster, nil)

	image := createTestImage(t, db, models.ImageUploaded)

	result, err := analyzer.Analyze(context.Background(), image.ID)
	require.NoError(t, err)

	assert.Equal(t, models.ImageProcessed, result.Status)
	require.NotNil(t, result.ProcessedAt)
	require.NotNil(t, result.DiseaseType)
	assert.Equal(t, "BlackRot", *result.DiseaseType)
	require.NotNil(t, result.Confidence)
	assert.InDelta(t, 0.92, *result.Confidence, 1e-9)
	require.NotNil(t, result.TreatmentPlan)
	assert.Equal(t, "Spray copper fungicide", *result.TreatmentPlan)
	require.NotNil(t, result.IsDiseased)
	assert.True(t, *result.IsDiseased)
	assert.NotEmpty(t, result.LeafsData)
	assert.NotEmpty(t, result.SummaryJSON)
	assert.NotEmpty(t, result.DiseasesJSON)

	// The detection service is pointed at the publicly served file
	assert.Equal(t, "http://backend.local/uploads/request-images/leaf.jpg", detector.lastURL)

	// Live clients saw the terminal state
	require.Len(t, broadcaster.updates, 1)
	assert.Equal(t, models.ImageProcessed, broadcaster.updates[0])
}

func TestAnalyzeDetectionFailure(t *testing.T) {
	db := openTestDB(t)
	detector := &stubDetector{err: errors.New("connection refused")}
	analyzer := NewAnalyzer(db, testConfig(), detector, nil, nil)

	image := createTestImage(t, db, models.ImageUploaded)

	result, err := analyzer.Analyze(context.Background(), image.ID)
	require.NoError(t, err)

	assert.Equal(t, models.ImageFailed, result.Status)
	assert.Nil(t, result.ProcessedAt)
	assert.Nil(t, result.DiseaseType)
	assert.Nil(t, result.Confidence)
	assert.Nil(t, result.IsDiseased)
	assert.Empty(t, result.LeafsData)
}

func TestAnalyzeNoLeafRecordsFails(t *testing.T) {
	db := openTestDB(t)
	detector := &stubDetector{result: &leafmodel.Result{Leafs: nil}}
	analyzer := NewAnalyzer(db, testConfig(), detector, nil, nil)

	image := createTestImage(t, db, models.ImageUploaded)

	result, err := analyzer.Analyze(context.Background(), image.ID)
	require.NoError(t, err)

	assert.Equal(t, models.ImageFailed, result.Status)
	assert.Nil(t, result.ProcessedAt)
}

func TestAnalyzeClearsStaleResultsOnFailedRerun(t *testing.T) {
	db := openTestDB(t)
	detector := &stubDetector{result: diseasedResult()}
	analyzer := NewAnalyzer(db, testConfig(), detector, nil, nil)

	image := createTestImage(t, db, models.ImageUploaded)

	first, err := analyzer.Analyze(context.Background(), image.ID)
	require.NoError(t, err)
	require.Equal(t, models.ImageProcessed, first.Status)
	require.NotNil(t, first.DiseaseType)

	// The rerun fails; nothing from the first run may survive
	detector.result = nil
	detector.err = errors.New("model down")

	second, err := analyzer.Analyze(context.Background(), image.ID)
	require.NoError(t, err)

	assert.Equal(t, models.ImageFailed, second.Status)
	assert.Nil(t, second.DiseaseType)
	assert.Nil(t, second.Confidence)
	assert.Nil(t, second.ProcessedAt)
	assert.Empty(t, second.LeafsData)
	assert.Empty(t, second.SummaryJSON)
}

func TestAnalyzeRejectsConcurrentAttempt(t *testing.T) {
	db := openTestDB(t)
	detector := &stubDetector{result: diseasedResult()}
	analyzer := NewAnalyzer(db, testConfig(), detector, nil, nil)

	image := createTestImage(t, db, models.ImageProcessing)

	_, err := analyzer.Analyze(context.Background(), image.ID)
	assert.ErrorIs(t, err, ErrAlreadyProcessing)
}

func TestAnalyzeReanalysisFromTerminalState(t *testing.T) {
	db := openTestDB(t)
	detector := &stubDetector{err: errors.New("first run failed")}
	analyzer := NewAnalyzer(db, testConfig(), detector, nil, nil)

	image := createTestImage(t, db, models.ImageUploaded)

	failed, err := analyzer.Analyze(context.Background(), image.ID)
	require.NoError(t, err)
	require.Equal(t, models.ImageFailed, failed.Status)

	detector.err = nil
	detector.result = diseasedResult()

	processed, err := analyzer.Analyze(context.Background(), image.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ImageProcessed, processed.Status)
	require.NotNil(t, processed.ProcessedAt)
}

func TestAnalyzeSummaryFallbackCountsFlags(t *testing.T) {
	db := openTestDB(t)

	diseased := true
	healthy := false
	result := &leafmodel.Result{
		Leafs: []leafmodel.LeafRecord{
			{IsDiseased: &diseased},
			{IsDiseased: &healthy},
			{IsDiseased: &healthy},
		},
	}
	detector := &stubDetector{result: result}
	analyzer := NewAnalyzer(db, testConfig(), detector, nil, nil)

	image := createTestImage(t, db, models.ImageUploaded)

	analyzed, err := analyzer.Analyze(context.Background(), image.ID)
	require.NoError(t, err)
	require.Equal(t, models.ImageProcessed, analyzed.Status)

	assert.JSONEq(t, `{"total_leafs":3,"diseased_leafs":1,"healthy_leafs":2}`, string(analyzed.SummaryJSON))
}
