package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// UserRole distinguishes farmers from administrators
type UserRole string

const (
	RoleFarmer UserRole = "FARMER"
	RoleAdmin  UserRole = "ADMIN"
)

// CropType enumerates the crops a farm can grow
type CropType string

const (
	CropGrapes   CropType = "GRAPES"
	CropWheat    CropType = "WHEAT"
	CropCorn     CropType = "CORN"
	CropTomatoes CropType = "TOMATOES"
	CropOlives   CropType = "OLIVES"
	CropDates    CropType = "DATES"
)

// ValidCropType reports whether t is a known crop type
func ValidCropType(t CropType) bool {
	switch t {
	case CropGrapes, CropWheat, CropCorn, CropTomatoes, CropOlives, CropDates:
		return true
	}
	return false
}

// RequestStatus is the lifecycle state of a diagnosis request.
// Only DRAFT -> PENDING is driven by this server; the later states are
// advanced by the expert/processing side.
type RequestStatus string

const (
	RequestDraft      RequestStatus = "DRAFT"
	RequestPending    RequestStatus = "PENDING"
	RequestAccepted   RequestStatus = "ACCEPTED"
	RequestProcessing RequestStatus = "PROCESSING"
	RequestProcessed  RequestStatus = "PROCESSED"
	RequestCompleted  RequestStatus = "COMPLETED"
)

// ImageStatus is the processing state of a single request image
type ImageStatus string

const (
	ImagePending    ImageStatus = "PENDING"
	ImageUploaded   ImageStatus = "UPLOADED"
	ImageProcessing ImageStatus = "PROCESSING"
	ImageProcessed  ImageStatus = "PROCESSED"
	ImageFailed     ImageStatus = "FAILED"
)

// ImageType distinguishes normal field shots from macro close-ups
type ImageType string

const (
	ImageNormal ImageType = "NORMAL"
	ImageMacro  ImageType = "MACRO"
)

// Coordinate is a single GPS point of a farm polygon
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// User is an account that owns farms and requests
type User struct {
	gorm.Model
	Email        string   `gorm:"uniqueIndex;not null"`
	PasswordHash string   `gorm:"not null" json:"-"`
	Name         string   `gorm:"not null"`
	Role         UserRole `gorm:"index;not null;default:FARMER"`
	Farms        []Farm   `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE;"`
}

// Farm is a field registered by a farmer as a GPS polygon
type Farm struct {
	gorm.Model
	UserID  uint           `gorm:"index;not null"`
	Name    string         `gorm:"not null"`
	Type    CropType       `gorm:"not null"`
	Polygon datatypes.JSON `gorm:"type:json"` // ordered []Coordinate
	Area    float64        // square meters, derived from Polygon
	User    User           `gorm:"foreignKey:UserID"`
}

// PolygonPoints decodes the stored polygon column
func (f *Farm) PolygonPoints() []Coordinate {
	var pts []Coordinate
	if len(f.Polygon) == 0 {
		return pts
	}
	if err := json.Unmarshal(f.Polygon, &pts); err != nil {
		return nil
	}
	return pts
}

// Request is one diagnosis request raised against a farm
type Request struct {
	gorm.Model
	FarmID             uint          `gorm:"index;not null"`
	Status             RequestStatus `gorm:"index;not null;default:DRAFT"`
	ExpertIntervention bool
	Note               *string
	FinalReport        *string // markdown, overwritten on each regeneration
	CompletedAt        *time.Time
	Farm               Farm           `gorm:"foreignKey:FarmID"`
	Images             []RequestImage `gorm:"foreignKey:RequestID;constraint:OnDelete:CASCADE;"`
}

// RequestImage is one uploaded leaf photograph and its AI-derived fields.
// All diagnostic fields stay nil until an analysis attempt succeeds.
type RequestImage struct {
	gorm.Model
	RequestID uint        `gorm:"index;not null"`
	Type      ImageType   `gorm:"not null"`
	Status    ImageStatus `gorm:"index;not null;default:PENDING"`
	FilePath  string      `gorm:"not null"` // relative path, e.g. uploads/request-images/<name>
	Latitude  float64
	Longitude float64

	// Legacy single-disease fields, derived from the first disease entry of
	// the first leaf record
	DiseaseType   *string
	Confidence    *float64
	TreatmentPlan *string
	Materials     *string
	Services      *string

	// Visualization and anomaly output, taken from the first leaf record
	ImageURL     *string
	HeatmapURL   *string
	OverlayURL   *string
	AnomalyScore *float64
	IsDiseased   *bool

	// Raw model output
	DiseasesJSON datatypes.JSON `gorm:"type:json"` // first leaf's disease mapping
	LeafsData    datatypes.JSON `gorm:"type:json"` // complete leafs array
	SummaryJSON  datatypes.JSON `gorm:"type:json"` // total/diseased/healthy counts

	// Set exactly when the image reaches PROCESSED, nil otherwise
	ProcessedAt *time.Time

	Request Request `gorm:"foreignKey:RequestID"`
}

// Terminal reports whether the image has reached a terminal processing state
func (i *RequestImage) Terminal() bool {
	return i.Status == ImageProcessed || i.Status == ImageFailed
}

// CountsForSend reports whether the image satisfies the send precondition:
// failed and never-uploaded images do not qualify a request for submission.
func (i *RequestImage) CountsForSend() bool {
	switch i.Status {
	case ImageUploaded, ImageProcessing, ImageProcessed:
		return true
	}
	return false
}
