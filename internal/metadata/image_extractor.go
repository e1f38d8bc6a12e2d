package metadata

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/chai2010/webp"

	"github.com/mantonx/viewra-importer/internal/resource"
)

const ImageExtractorID ExtractorID = "image"

const (
	AttrImageFormat = "format"
)

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
}

// ImageExtractor reads image dimensions without decoding pixel data.
type ImageExtractor struct{}

func NewImageExtractor() *ImageExtractor {
	return &ImageExtractor{}
}

func (e *ImageExtractor) Metadata() ExtractorMetadata {
	return ExtractorMetadata{
		ID:          ImageExtractorID,
		Name:        "Image",
		Categories:  []string{CategoryImage},
		AspectTypes: []AspectID{AspectMedia, AspectImage},
	}
}

func (e *ImageExtractor) TryExtract(ctx context.Context, h resource.Handle, aspects Aspects) (bool, error) {
	ext := extension(h.Name())
	if !h.IsFile() || !imageExtensions[ext] {
		return false, nil
	}

	r, err := h.Open()
	if err != nil {
		return false, fmt.Errorf("failed to open %s: %w", h.Path(), err)
	}
	defer r.Close()

	var (
		cfg    image.Config
		format string
	)
	if ext == ".webp" {
		cfg, err = webp.DecodeConfig(r)
		format = "webp"
	} else {
		cfg, format, err = image.DecodeConfig(r)
	}
	if errors.Is(err, image.ErrFormat) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to decode image header of %s: %w", h.Path(), err)
	}

	img := aspects.GetOrCreate(AspectImage)
	img.Set(AttrWidth, cfg.Width)
	img.Set(AttrHeight, cfg.Height)
	img.Set(AttrImageFormat, format)
	return true, nil
}
