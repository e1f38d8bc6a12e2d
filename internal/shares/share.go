// Package shares manages the directory trees the importer keeps in sync
// with the catalog.
package shares

import (
	"errors"
	"fmt"

	"github.com/mantonx/viewra-importer/internal/config"
	"github.com/mantonx/viewra-importer/internal/resource"
)

var (
	ErrShareExists   = errors.New("share already exists")
	ErrShareNotFound = errors.New("share not found")
)

// Share is a registered directory tree.
type Share struct {
	ID                    string        `json:"id"`
	Name                  string        `json:"name"`
	Path                  resource.Path `json:"path"`
	Categories            []string      `json:"categories"`
	IncludeSubDirectories bool          `json:"include_sub_directories"`
	Watch                 bool          `json:"watch"`
}

// FromConfig converts the configured shares.
func FromConfig(cfgs []config.ShareConfig) ([]Share, error) {
	shares := make([]Share, 0, len(cfgs))
	for _, c := range cfgs {
		p, err := resource.ParsePath(c.Path)
		if err != nil {
			return nil, fmt.Errorf("share %q: %w", c.Name, err)
		}
		name := c.Name
		if name == "" {
			name = p.Name()
		}
		shares = append(shares, Share{
			Name:                  name,
			Path:                  p,
			Categories:            c.Categories,
			IncludeSubDirectories: c.IncludeSubDirectories,
			Watch:                 c.Watch,
		})
	}
	return shares, nil
}
