// Package catalog stores imported media items and their aspects in the
// database and answers the importer's browsing queries.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mantonx/viewra-importer/internal/database"
	"github.com/mantonx/viewra-importer/internal/metadata"
	"github.com/mantonx/viewra-importer/internal/resource"
)

// Catalog is the gorm backed media catalog.
type Catalog struct {
	db     *gorm.DB
	logger hclog.Logger
	now    func() time.Time
}

// New returns a catalog using db, which must already be migrated.
func New(db *gorm.DB, logger hclog.Logger) *Catalog {
	return &Catalog{
		db:     db,
		logger: logger.Named("catalog"),
		now:    time.Now,
	}
}

// LoadItem returns the item stored at path. It returns nil when there is no
// such item or when it lacks one of the necessary aspects.
func (c *Catalog) LoadItem(ctx context.Context, path resource.Path, necessary []metadata.AspectID) (*metadata.MediaItem, error) {
	var row database.MediaItem
	err := c.db.WithContext(ctx).Where("path = ?", path.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load media item %s: %w", path, err)
	}

	items, err := c.assemble(ctx, []database.MediaItem{row})
	if err != nil {
		return nil, err
	}
	if !hasAspects(items[0], necessary) {
		return nil, nil
	}
	return items[0], nil
}

// Browse returns the immediate children of dir that carry the necessary
// aspects, ordered by path.
func (c *Catalog) Browse(ctx context.Context, dir resource.Path, necessary []metadata.AspectID) ([]*metadata.MediaItem, error) {
	var rows []database.MediaItem
	err := c.db.WithContext(ctx).
		Where("parent_path = ? AND path <> ?", dir.String(), dir.String()).
		Order("path").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to browse %s: %w", dir, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	items, err := c.assemble(ctx, rows)
	if err != nil {
		return nil, err
	}

	result := items[:0]
	for _, item := range items {
		if hasAspects(item, necessary) {
			result = append(result, item)
		}
	}
	return result, nil
}

// UpdateMediaItem creates or updates the item at path. Empty aspects clear
// the stored aspect. A directory item updated without a directory aspect
// loses its directory aspect and everything stored below it.
func (c *Catalog) UpdateMediaItem(ctx context.Context, path resource.Path, aspects metadata.Aspects) error {
	now := c.now()

	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row database.MediaItem
		err := tx.Where("path = ?", path.String()).Take(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			row = database.MediaItem{
				ID:         uuid.New().String(),
				Path:       path.String(),
				ParentPath: path.Parent().String(),
				DateAdded:  now,
			}
		case err != nil:
			return err
		default:
			if err := c.demoteDirectory(tx, row, aspects); err != nil {
				return err
			}
		}

		row.LastImportDate = now
		if err := tx.Save(&row).Error; err != nil {
			return err
		}

		for id, aspect := range aspects {
			if isSynthesized(id) {
				continue
			}
			if aspect == nil || aspect.IsEmpty() {
				if err := tx.Where("media_item_id = ? AND aspect_id = ?", row.ID, string(id)).
					Delete(&database.MediaItemAspect{}).Error; err != nil {
					return err
				}
				continue
			}

			data, err := json.Marshal(aspect.Attributes)
			if err != nil {
				return fmt.Errorf("failed to encode aspect %s: %w", id, err)
			}
			stored := database.MediaItemAspect{
				MediaItemID: row.ID,
				AspectID:    string(id),
				Attributes:  string(data),
				UpdatedAt:   now,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "media_item_id"}, {Name: "aspect_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"attributes", "updated_at"}),
			}).Create(&stored).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update media item %s: %w", path, err)
	}
	return nil
}

// demoteDirectory handles a directory that has been replaced by a file.
func (c *Catalog) demoteDirectory(tx *gorm.DB, row database.MediaItem, aspects metadata.Aspects) error {
	if _, ok := aspects[metadata.AspectDirectory]; ok {
		return nil
	}

	var count int64
	if err := tx.Model(&database.MediaItemAspect{}).
		Where("media_item_id = ? AND aspect_id = ?", row.ID, string(metadata.AspectDirectory)).
		Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return nil
	}

	if err := tx.Where("media_item_id = ? AND aspect_id = ?", row.ID, string(metadata.AspectDirectory)).
		Delete(&database.MediaItemAspect{}).Error; err != nil {
		return err
	}
	removed, err := deleteWhere(tx, `path LIKE ? ESCAPE '\'`, descendantsPattern(resource.Path(row.Path)))
	if err != nil {
		return err
	}
	c.logger.Debug("directory replaced by file", "path", row.Path, "removed", removed)
	return nil
}

// DeleteMediaItem removes the item at path and every item below it.
func (c *Catalog) DeleteMediaItem(ctx context.Context, path resource.Path) error {
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := deleteWhere(tx, `path = ? OR path LIKE ? ESCAPE '\'`, path.String(), descendantsPattern(path))
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete media item %s: %w", path, err)
	}
	return nil
}

// Count returns the number of cataloged items.
func (c *Catalog) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := c.db.WithContext(ctx).Model(&database.MediaItem{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count media items: %w", err)
	}
	return count, nil
}

// descendantsPattern is a LIKE pattern matching the paths strictly below path.
func descendantsPattern(path resource.Path) string {
	prefix := escapeLike(path.String())
	if path != "/" {
		prefix += "/"
	}
	return prefix + "%"
}

// deleteWhere removes the items matching the condition together with their aspects.
func deleteWhere(tx *gorm.DB, condition string, args ...interface{}) (int, error) {
	var ids []string
	if err := tx.Model(&database.MediaItem{}).Where(condition, args...).Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := tx.Where("media_item_id IN ?", ids).Delete(&database.MediaItemAspect{}).Error; err != nil {
		return 0, err
	}
	if err := tx.Where("id IN ?", ids).Delete(&database.MediaItem{}).Error; err != nil {
		return 0, err
	}
	return len(ids), nil
}

// assemble loads the aspects of rows and builds media items in row order.
func (c *Catalog) assemble(ctx context.Context, rows []database.MediaItem) ([]*metadata.MediaItem, error) {
	ids := make([]string, len(rows))
	items := make([]*metadata.MediaItem, len(rows))
	byID := make(map[string]*metadata.MediaItem, len(rows))

	for i, row := range rows {
		ids[i] = row.ID
		item := &metadata.MediaItem{ID: row.ID, Aspects: make(metadata.Aspects)}
		item.Aspects.GetOrCreate(metadata.AspectProviderResource).Set(metadata.AttrPath, row.Path)
		importerAspect := item.Aspects.GetOrCreate(metadata.AspectImporter)
		importerAspect.Set(metadata.AttrDateAdded, row.DateAdded)
		importerAspect.Set(metadata.AttrLastImportDate, row.LastImportDate)
		items[i] = item
		byID[row.ID] = item
	}

	var stored []database.MediaItemAspect
	if err := c.db.WithContext(ctx).Where("media_item_id IN ?", ids).Find(&stored).Error; err != nil {
		return nil, fmt.Errorf("failed to load aspects: %w", err)
	}

	for _, s := range stored {
		item, ok := byID[s.MediaItemID]
		if !ok {
			continue
		}
		aspect := metadata.NewAspect(metadata.AspectID(s.AspectID))
		if s.Attributes != "" {
			if err := json.Unmarshal([]byte(s.Attributes), &aspect.Attributes); err != nil {
				c.logger.Warn("skipping undecodable aspect", "item", s.MediaItemID, "aspect", s.AspectID, "error", err)
				continue
			}
		}
		item.Aspects[aspect.ID] = aspect
	}
	return items, nil
}

func hasAspects(item *metadata.MediaItem, necessary []metadata.AspectID) bool {
	for _, id := range necessary {
		if _, ok := item.Aspects[id]; !ok {
			return false
		}
	}
	return true
}

func isSynthesized(id metadata.AspectID) bool {
	return id == metadata.AspectProviderResource || id == metadata.AspectImporter
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
