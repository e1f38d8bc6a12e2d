package metadata

import (
	"context"
	"fmt"

	"github.com/mantonx/viewra-importer/internal/resource"
)

// ExtractorID identifies a metadata extractor.
type ExtractorID string

// ExtractorMetadata describes an extractor.
type ExtractorMetadata struct {
	ID          ExtractorID
	Name        string
	Categories  []string
	AspectTypes []AspectID
}

// Extractor populates aspects for a resource. TryExtract returns false
// when the resource is not something the extractor understands.
type Extractor interface {
	Metadata() ExtractorMetadata
	TryExtract(ctx context.Context, h resource.Handle, aspects Aspects) (bool, error)
}

// Extract runs every extractor against the resource, merging their output
// into one aspect set. It returns nil when no extractor produced anything.
func Extract(ctx context.Context, h resource.Handle, extractors []Extractor) (Aspects, error) {
	aspects := make(Aspects)
	success := false
	for _, extractor := range extractors {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ok, err := extractor.TryExtract(ctx, h, aspects)
		if err != nil {
			return nil, fmt.Errorf("extractor %s failed on %s: %w", extractor.Metadata().Name, h.Path(), err)
		}
		success = success || ok
	}
	if !success {
		return nil, nil
	}
	return aspects, nil
}
