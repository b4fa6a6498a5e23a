package store

import (
	"encoding/json"
	"time"
)

type Owner struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

type APIKey struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"createdAt"`
}

type CatalogProduct struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Category     string    `json:"category"`
	Barcode      string    `json:"barcode"`
	ThumbnailRef string    `json:"thumbnailRef"`
	Price        float64   `json:"price"`
	CreatedAt    time.Time `json:"createdAt"`
}

// SourceItem is a product record imported server-side for one owner's
// planning run. Plans reference it by Ref.
type SourceItem struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"ownerId"`
	Ref          string    `json:"ref"`
	Name         string    `json:"name"`
	Category     string    `json:"category"`
	ThumbnailRef string    `json:"thumbnailRef"`
	CreatedAt    time.Time `json:"createdAt"`
}

type ShotRecord struct {
	ShotNumber  int    `json:"shotNumber"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Background  string `json:"background,omitempty"`
	Mood        string `json:"mood,omitempty"`
	Focus       string `json:"focus,omitempty"`
}

type PlanRecord struct {
	ID         string       `json:"id"`
	OwnerID    string       `json:"ownerId"`
	SourceRef  string       `json:"sourceRef"`
	Shots      []ShotRecord `json:"shots"`
	Status     string       `json:"status"`
	ApprovedAt *time.Time   `json:"approvedAt,omitempty"`
	Reasoning  string       `json:"reasoning,omitempty"`
	CreatedAt  time.Time    `json:"createdAt"`
}

type JobRecord struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"ownerId"`
	Status         string    `json:"status"`
	TotalUnits     int       `json:"totalUnits"`
	CompletedUnits int       `json:"completedUnits"`
	FailedUnits    int       `json:"failedUnits"`
	StartedAt      time.Time `json:"startedAt"`
	CreatedAt      time.Time `json:"createdAt"`
}

type ArtifactRecord struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"ownerId"`
	JobID        string    `json:"jobId"`
	SourceRef    string    `json:"sourceRef"`
	ShotNumber   int       `json:"shotNumber"`
	Status       string    `json:"status"`
	MediaRef     string    `json:"mediaRef"`
	ObjectKey    string    `json:"objectKey,omitempty"`
	Rating       *int      `json:"rating,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

type VideoProject struct {
	ID         string          `json:"id"`
	OwnerID    string          `json:"ownerId"`
	Title      string          `json:"title"`
	Status     string          `json:"status"`
	Storyboard json.RawMessage `json:"storyboard"`
	MediaRef   string          `json:"mediaRef,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

type CleanupResult struct {
	DeletedJobs       int      `json:"deletedJobs"`
	DeletedArtifacts  int      `json:"deletedArtifacts"`
	DeletedObjectKeys []string `json:"-"`
	RetentionDays     int      `json:"retentionDays"`
}
