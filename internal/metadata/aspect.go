// Package metadata defines media item aspects, the extractor contract and
// the built-in extractors used by the importer.
package metadata

import (
	"time"

	"github.com/mantonx/viewra-importer/internal/resource"
)

// AspectID identifies a facet of a media item's metadata.
type AspectID string

// Well-known aspects.
const (
	AspectMedia            AspectID = "media"
	AspectAudio            AspectID = "audio"
	AspectVideo            AspectID = "video"
	AspectImage            AspectID = "image"
	AspectDirectory        AspectID = "directory"
	AspectProviderResource AspectID = "provider-resource"
	AspectImporter         AspectID = "importer"
)

// Attribute names shared between extractors and the catalog.
const (
	AttrTitle          = "title"
	AttrMimeType       = "mime_type"
	AttrSize           = "size"
	AttrRecordingTime  = "recording_time"
	AttrContentHash    = "content_hash"
	AttrPath           = "path"
	AttrDateAdded      = "date_added"
	AttrLastImportDate = "last_import_date"
	AttrDirectoryName  = "name"
)

// Aspect is one facet of metadata. An aspect without attributes is a
// placeholder telling the catalog to clear previously stored values.
type Aspect struct {
	ID         AspectID       `json:"id"`
	Attributes map[string]any `json:"attributes"`
}

// NewAspect returns an empty aspect.
func NewAspect(id AspectID) *Aspect {
	return &Aspect{ID: id, Attributes: make(map[string]any)}
}

func (a *Aspect) Set(key string, value any) {
	a.Attributes[key] = value
}

func (a *Aspect) Get(key string) (any, bool) {
	v, ok := a.Attributes[key]
	return v, ok
}

// IsEmpty reports whether the aspect carries no attributes.
func (a *Aspect) IsEmpty() bool {
	return len(a.Attributes) == 0
}

// Aspects maps aspect ids to their values.
type Aspects map[AspectID]*Aspect

// GetOrCreate returns the aspect with the given id, adding it when missing.
func (as Aspects) GetOrCreate(id AspectID) *Aspect {
	if a, ok := as[id]; ok {
		return a
	}
	a := NewAspect(id)
	as[id] = a
	return a
}

// MediaItem is a catalog entry with its aspects.
type MediaItem struct {
	ID      string  `json:"id"`
	Aspects Aspects `json:"aspects"`
}

// ResourcePath returns the path stored in the provider resource aspect.
func (m *MediaItem) ResourcePath() resource.Path {
	a, ok := m.Aspects[AspectProviderResource]
	if !ok {
		return ""
	}
	p, _ := a.Attributes[AttrPath].(string)
	return resource.Path(p)
}

// LastImportDate returns when the item was last imported, zero if unknown.
func (m *MediaItem) LastImportDate() time.Time {
	a, ok := m.Aspects[AspectImporter]
	if !ok {
		return time.Time{}
	}
	t, _ := a.Attributes[AttrLastImportDate].(time.Time)
	return t
}

// IsDirectory reports whether the item represents a directory.
func (m *MediaItem) IsDirectory() bool {
	_, ok := m.Aspects[AspectDirectory]
	return ok
}
