package importer

import (
	"context"

	"github.com/mantonx/viewra-importer/internal/metadata"
	"github.com/mantonx/viewra-importer/internal/resource"
)

// MediaBrowsing gives read access to what the catalog already knows.
type MediaBrowsing interface {
	// LoadItem returns the item at path, or nil when there is none or it
	// lacks one of the necessary aspects.
	LoadItem(ctx context.Context, path resource.Path, necessary []metadata.AspectID) (*metadata.MediaItem, error)
	// Browse returns the immediate children of dir.
	Browse(ctx context.Context, dir resource.Path, necessary []metadata.AspectID) ([]*metadata.MediaItem, error)
}

// ResultHandler receives import results.
type ResultHandler interface {
	UpdateMediaItem(ctx context.Context, path resource.Path, aspects metadata.Aspects) error
	// DeleteMediaItem removes the item at path and everything below it.
	DeleteMediaItem(ctx context.Context, path resource.Path) error
}

// ExtractorRegistry resolves categories and extractor ids.
type ExtractorRegistry interface {
	IDsForCategories(categories []string) []metadata.ExtractorID
	Resolve(ids []metadata.ExtractorID) ([]metadata.Extractor, []metadata.AspectID)
}

// JobStore persists the queue across restarts.
type JobStore interface {
	LoadJobs(ctx context.Context) ([]JobRecord, error)
	SaveJobs(ctx context.Context, records []JobRecord) error
}

// Throttle blocks while the host is too busy to import.
type Throttle interface {
	Wait(ctx context.Context) error
}
