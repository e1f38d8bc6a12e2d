package metadata

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/mantonx/viewra-importer/internal/resource"
)

const ResourceExtractorID ExtractorID = "resource"

// ResourceExtractor fills the media aspect common to every file, including
// a sampled content hash. It only accepts files whose detected mime type is
// audio, video or image.
type ResourceExtractor struct{}

func NewResourceExtractor() *ResourceExtractor {
	return &ResourceExtractor{}
}

func (e *ResourceExtractor) Metadata() ExtractorMetadata {
	return ExtractorMetadata{
		ID:          ResourceExtractorID,
		Name:        "Resource",
		Categories:  []string{CategoryAudio, CategoryVideo, CategoryImage},
		AspectTypes: []AspectID{AspectMedia},
	}
}

func (e *ResourceExtractor) TryExtract(ctx context.Context, h resource.Handle, aspects Aspects) (bool, error) {
	if !h.IsFile() {
		return false, nil
	}
	r, err := h.Open()
	if err != nil {
		return false, fmt.Errorf("failed to open %s: %w", h.Path(), err)
	}
	defer r.Close()

	mime, err := mimetype.DetectReader(r)
	if err != nil {
		return false, fmt.Errorf("failed to detect mime type of %s: %w", h.Path(), err)
	}
	if !isMediaMime(mime.String()) {
		return false, nil
	}

	hash, err := sampledHash(r, h.Size())
	if err != nil {
		return false, fmt.Errorf("failed to hash %s: %w", h.Path(), err)
	}

	media := aspects.GetOrCreate(AspectMedia)
	media.Set(AttrTitle, titleFromName(h.Name()))
	media.Set(AttrMimeType, mime.String())
	media.Set(AttrSize, h.Size())
	media.Set(AttrRecordingTime, h.LastModified().UTC())
	media.Set(AttrContentHash, hash)
	return true, nil
}

func isMediaMime(m string) bool {
	return strings.HasPrefix(m, "audio/") || strings.HasPrefix(m, "video/") || strings.HasPrefix(m, "image/")
}

func titleFromName(name string) string {
	return strings.TrimSuffix(name, path.Ext(name))
}
