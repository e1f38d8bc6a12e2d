package metadata

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Media categories used to group extractors.
const (
	CategoryAudio = "Audio"
	CategoryVideo = "Video"
	CategoryImage = "Image"
)

// Registry holds the available extractors and their category index.
type Registry struct {
	mu         sync.RWMutex
	extractors map[ExtractorID]Extractor
	categories map[string][]ExtractorID
	order      []ExtractorID
}

func NewRegistry() *Registry {
	return &Registry{
		extractors: make(map[ExtractorID]Extractor),
		categories: make(map[string][]ExtractorID),
	}
}

// Register adds an extractor. Registering the same id twice is an error.
func (r *Registry) Register(e Extractor) error {
	md := e.Metadata()
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.extractors[md.ID]; exists {
		return fmt.Errorf("extractor %s already registered", md.ID)
	}
	r.extractors[md.ID] = e
	r.order = append(r.order, md.ID)
	for _, category := range md.Categories {
		key := strings.ToLower(category)
		r.categories[key] = append(r.categories[key], md.ID)
	}
	return nil
}

// Get returns the extractor registered under id.
func (r *Registry) Get(id ExtractorID) (Extractor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.extractors[id]
	return e, ok
}

// IDsForCategories returns the extractor ids serving any of the given
// categories in registration order. No categories selects all extractors.
func (r *Registry) IDsForCategories(categories []string) []ExtractorID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(categories) == 0 {
		return append([]ExtractorID(nil), r.order...)
	}

	selected := make(map[ExtractorID]bool)
	for _, category := range categories {
		for _, id := range r.categories[strings.ToLower(strings.TrimSpace(category))] {
			selected[id] = true
		}
	}
	ids := make([]ExtractorID, 0, len(selected))
	for _, id := range r.order {
		if selected[id] {
			ids = append(ids, id)
		}
	}
	return ids
}

// Resolve maps ids to extractors, skipping unknown ids, and returns the
// union of aspect types the resolved extractors are expected to fill.
func (r *Registry) Resolve(ids []ExtractorID) ([]Extractor, []AspectID) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var extractors []Extractor
	seen := make(map[AspectID]bool)
	var aspectTypes []AspectID
	for _, id := range ids {
		e, ok := r.extractors[id]
		if !ok {
			continue
		}
		extractors = append(extractors, e)
		for _, aspect := range e.Metadata().AspectTypes {
			if !seen[aspect] {
				seen[aspect] = true
				aspectTypes = append(aspectTypes, aspect)
			}
		}
	}
	sort.Slice(aspectTypes, func(i, j int) bool { return aspectTypes[i] < aspectTypes[j] })
	return extractors, aspectTypes
}
