package services

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cropsight/config"
	"cropsight/internal/core/models"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Farm{}, &models.Request{}, &models.RequestImage{}))
	return db
}

func createUser(t *testing.T, db *gorm.DB, email string, role models.UserRole) *models.User {
	t.Helper()
	user := models.User{Email: email, PasswordHash: "x", Name: "Test User", Role: role}
	require.NoError(t, db.Create(&user).Error)
	return &user
}

func createFarm(t *testing.T, db *gorm.DB, userID uint) *models.Farm {
	t.Helper()
	farm := models.Farm{UserID: userID, Name: "North Field", Type: models.CropGrapes}
	require.NoError(t, db.Create(&farm).Error)
	return &farm
}

func newTestRequestService(t *testing.T, db *gorm.DB) *RequestService {
	t.Helper()
	cfg := &config.Config{}
	cfg.Server.UploadDir = t.TempDir()
	return NewRequestService(db, cfg, nil, nil)
}

func requirePrecondition(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	var pre *PreconditionError
	require.ErrorAs(t, err, &pre)
}

func TestCreateRequestRequiresOwnedFarm(t *testing.T) {
	db := openTestDB(t)
	svc := newTestRequestService(t, db)

	owner := createUser(t, db, "owner@example.com", models.RoleFarmer)
	other := createUser(t, db, "other@example.com", models.RoleFarmer)
	farm := createFarm(t, db, owner.ID)

	_, err := svc.Create(other, farm.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.Create(owner, 9999)
	assert.ErrorIs(t, err, ErrNotFound)

	request, err := svc.Create(owner, farm.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestDraft, request.Status)
}

func TestListRequiresFarmIDForFarmers(t *testing.T) {
	db := openTestDB(t)
	svc := newTestRequestService(t, db)

	farmer := createUser(t, db, "farmer@example.com", models.RoleFarmer)
	admin := createUser(t, db, "admin@example.com", models.RoleAdmin)
	farm := createFarm(t, db, farmer.ID)

	_, err := svc.Create(farmer, farm.ID)
	require.NoError(t, err)

	_, err = svc.List(farmer, nil)
	requirePrecondition(t, err)

	requests, err := svc.List(farmer, &farm.ID)
	require.NoError(t, err)
	assert.Len(t, requests, 1)

	// Admins see everything without naming a farm
	requests, err = svc.List(admin, nil)
	require.NoError(t, err)
	assert.Len(t, requests, 1)
}

func TestUpdateMetaDraftOnly(t *testing.T) {
	db := openTestDB(t)
	svc := newTestRequestService(t, db)

	farmer := createUser(t, db, "farmer@example.com", models.RoleFarmer)
	admin := createUser(t, db, "admin@example.com", models.RoleAdmin)
	farm := createFarm(t, db, farmer.ID)

	request, err := svc.Create(farmer, farm.ID)
	require.NoError(t, err)

	note := "north corner looks wilted"
	updated, err := svc.UpdateMeta(farmer, request.ID, &note, nil)
	require.NoError(t, err)
	require.NotNil(t, updated.Note)
	assert.Equal(t, note, *updated.Note)

	require.NoError(t, db.Model(request).Update("status", models.RequestPending).Error)

	_, err = svc.UpdateMeta(farmer, request.ID, &note, nil)
	requirePrecondition(t, err)

	// The draft rule binds admins too
	_, err = svc.UpdateMeta(admin, request.ID, &note, nil)
	requirePrecondition(t, err)
}

func TestSendGating(t *testing.T) {
	db := openTestDB(t)
	svc := newTestRequestService(t, db)

	farmer := createUser(t, db, "farmer@example.com", models.RoleFarmer)
	farm := createFarm(t, db, farmer.ID)

	request, err := svc.Create(farmer, farm.ID)
	require.NoError(t, err)

	// No images at all
	_, err = svc.Send(farmer, request.ID)
	requirePrecondition(t, err)

	// A failed image does not qualify the request
	failed := models.RequestImage{RequestID: request.ID, Type: models.ImageNormal, Status: models.ImageFailed, FilePath: "uploads/request-images/a.jpg"}
	require.NoError(t, db.Create(&failed).Error)
	_, err = svc.Send(farmer, request.ID)
	requirePrecondition(t, err)

	// One uploaded image is enough
	uploaded := models.RequestImage{RequestID: request.ID, Type: models.ImageNormal, Status: models.ImageUploaded, FilePath: "uploads/request-images/b.jpg"}
	require.NoError(t, db.Create(&uploaded).Error)

	sent, err := svc.Send(farmer, request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestPending, sent.Status)

	// A request can only be sent once
	_, err = svc.Send(farmer, request.ID)
	requirePrecondition(t, err)
}

func TestAddImageStoresFileAndRecord(t *testing.T) {
	db := openTestDB(t)
	svc := newTestRequestService(t, db)

	farmer := createUser(t, db, "farmer@example.com", models.RoleFarmer)
	farm := createFarm(t, db, farmer.ID)

	request, err := svc.Create(farmer, farm.ID)
	require.NoError(t, err)

	content := bytes.NewReader([]byte("jpeg bytes"))
	meta := ImageMeta{Type: models.ImageMacro, Latitude: 34.1, Longitude: 35.6}

	image, err := svc.AddImage(farmer, request.ID, meta, content, ".JPG")
	require.NoError(t, err)

	assert.Equal(t, models.ImageUploaded, image.Status)
	assert.Equal(t, models.ImageMacro, image.Type)
	assert.True(t, strings.HasPrefix(image.FilePath, "uploads/request-images/"))
	assert.True(t, strings.HasSuffix(image.FilePath, ".jpg"))

	stored := filepath.Join(svc.cfg.Server.UploadDir, filepath.Base(image.FilePath))
	data, err := os.ReadFile(stored)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg bytes"), data)
}

func TestAddImageRejectsNonDraftAndBadType(t *testing.T) {
	db := openTestDB(t)
	svc := newTestRequestService(t, db)

	farmer := createUser(t, db, "farmer@example.com", models.RoleFarmer)
	farm := createFarm(t, db, farmer.ID)

	request, err := svc.Create(farmer, farm.ID)
	require.NoError(t, err)

	_, err = svc.AddImage(farmer, request.ID, ImageMeta{Type: "PANORAMA"}, bytes.NewReader(nil), ".jpg")
	requirePrecondition(t, err)

	require.NoError(t, db.Model(request).Update("status", models.RequestPending).Error)

	_, err = svc.AddImage(farmer, request.ID, ImageMeta{Type: models.ImageNormal}, bytes.NewReader(nil), ".jpg")
	requirePrecondition(t, err)
}

func TestDeleteImageDraftOnly(t *testing.T) {
	db := openTestDB(t)
	svc := newTestRequestService(t, db)

	farmer := createUser(t, db, "farmer@example.com", models.RoleFarmer)
	other := createUser(t, db, "other@example.com", models.RoleFarmer)
	farm := createFarm(t, db, farmer.ID)

	request, err := svc.Create(farmer, farm.ID)
	require.NoError(t, err)

	image, err := svc.AddImage(farmer, request.ID, ImageMeta{Type: models.ImageNormal}, bytes.NewReader([]byte("x")), ".jpg")
	require.NoError(t, err)

	err = svc.DeleteImage(other, image.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	require.NoError(t, svc.DeleteImage(farmer, image.ID))

	stored := filepath.Join(svc.cfg.Server.UploadDir, filepath.Base(image.FilePath))
	_, err = os.Stat(stored)
	assert.True(t, os.IsNotExist(err))

	var count int64
	require.NoError(t, db.Model(&models.RequestImage{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestGenerateAndGetReport(t *testing.T) {
	db := openTestDB(t)
	svc := newTestRequestService(t, db)

	farmer := createUser(t, db, "farmer@example.com", models.RoleFarmer)
	farm := createFarm(t, db, farmer.ID)

	request, err := svc.Create(farmer, farm.ID)
	require.NoError(t, err)

	stored, err := svc.GetReport(farmer, request.ID)
	require.NoError(t, err)
	assert.Nil(t, stored)

	generated, err := svc.GenerateReport(farmer, request.ID)
	require.NoError(t, err)
	require.NotNil(t, generated.FinalReport)
	assert.Contains(t, *generated.FinalReport, "# AI Diagnostic Report")

	stored, err = svc.GetReport(farmer, request.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, *generated.FinalReport, *stored)
}

func TestAdminBypassesOwnership(t *testing.T) {
	db := openTestDB(t)
	svc := newTestRequestService(t, db)

	farmer := createUser(t, db, "farmer@example.com", models.RoleFarmer)
	admin := createUser(t, db, "admin@example.com", models.RoleAdmin)
	farm := createFarm(t, db, farmer.ID)

	request, err := svc.Create(farmer, farm.ID)
	require.NoError(t, err)

	loaded, err := svc.Get(admin, request.ID)
	require.NoError(t, err)
	assert.Equal(t, request.ID, loaded.ID)
}
