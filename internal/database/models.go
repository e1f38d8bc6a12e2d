package database

import (
	"time"
)

// =============================================================================
// CATALOG TABLES
// =============================================================================

// MediaItem is one cataloged resource, file or directory, keyed by its path
type MediaItem struct {
	ID             string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Path           string    `gorm:"not null;uniqueIndex" json:"path"`
	ParentPath     string    `gorm:"not null;index" json:"parent_path"`
	DateAdded      time.Time `gorm:"not null" json:"date_added"`
	LastImportDate time.Time `gorm:"not null;index" json:"last_import_date"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// MediaItemAspect stores one aspect of a media item with its attributes as JSON
type MediaItemAspect struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	MediaItemID string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_item_aspect" json:"media_item_id"`
	AspectID    string    `gorm:"not null;uniqueIndex:idx_item_aspect;index" json:"aspect_id"`
	Attributes  string    `gorm:"type:text" json:"attributes"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// =============================================================================
// IMPORTER STATE
// =============================================================================

// PendingImportJob persists one queued import job between runs.
// Position keeps the queue order, 0 being the head.
type PendingImportJob struct {
	ID                    uint      `gorm:"primaryKey" json:"-"`
	JobID                 string    `gorm:"type:varchar(36);not null;uniqueIndex" json:"job_id"`
	Position              int       `gorm:"not null;index" json:"position"`
	JobType               string    `gorm:"not null" json:"job_type"`
	BasePath              string    `gorm:"not null" json:"base_path"`
	State                 string    `gorm:"not null" json:"state"`
	IncludeSubDirectories bool      `json:"include_sub_directories"`
	ExtractorIDs          string    `gorm:"type:text" json:"extractor_ids"`     // JSON array
	PendingResources      string    `gorm:"type:text" json:"pending_resources"` // JSON array of paths
	CreatedAt             time.Time `json:"created_at"`
}

// Share is a registered directory tree the importer keeps up to date
type Share struct {
	ID                    string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name                  string    `gorm:"not null" json:"name"`
	Path                  string    `gorm:"not null;uniqueIndex" json:"path"`
	Categories            string    `gorm:"type:text" json:"categories"` // JSON array
	IncludeSubDirectories bool      `json:"include_sub_directories"`
	Watch                 bool      `json:"watch"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// AllModels lists every table the importer migrates.
func AllModels() []interface{} {
	return []interface{}{
		&MediaItem{},
		&MediaItemAspect{},
		&PendingImportJob{},
		&Share{},
	}
}
