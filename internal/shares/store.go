package shares

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mantonx/viewra-importer/internal/database"
	"github.com/mantonx/viewra-importer/internal/resource"
)

// Store persists registered shares.
type Store interface {
	List(ctx context.Context) ([]Share, error)
	Save(ctx context.Context, share Share) (Share, error)
	Delete(ctx context.Context, path resource.Path) error
}

// GormStore keeps shares in the database.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) List(ctx context.Context) ([]Share, error) {
	var rows []database.Share
	if err := s.db.WithContext(ctx).Order("path").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list shares: %w", err)
	}

	shares := make([]Share, 0, len(rows))
	for _, row := range rows {
		share := Share{
			ID:                    row.ID,
			Name:                  row.Name,
			Path:                  resource.Path(row.Path),
			IncludeSubDirectories: row.IncludeSubDirectories,
			Watch:                 row.Watch,
		}
		if row.Categories != "" {
			if err := json.Unmarshal([]byte(row.Categories), &share.Categories); err != nil {
				return nil, fmt.Errorf("invalid categories for share %s: %w", row.Path, err)
			}
		}
		shares = append(shares, share)
	}
	return shares, nil
}

// Save inserts share, assigning an id. A share with the same path is
// rejected with ErrShareExists.
func (s *GormStore) Save(ctx context.Context, share Share) (Share, error) {
	categories, err := json.Marshal(share.Categories)
	if err != nil {
		return Share{}, fmt.Errorf("failed to encode categories: %w", err)
	}
	if share.ID == "" {
		share.ID = uuid.New().String()
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing database.Share
		err := tx.Where("path = ?", share.Path.String()).Take(&existing).Error
		if err == nil {
			return ErrShareExists
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return tx.Create(&database.Share{
			ID:                    share.ID,
			Name:                  share.Name,
			Path:                  share.Path.String(),
			Categories:            string(categories),
			IncludeSubDirectories: share.IncludeSubDirectories,
			Watch:                 share.Watch,
		}).Error
	})
	if err != nil {
		if errors.Is(err, ErrShareExists) {
			return Share{}, fmt.Errorf("%s: %w", share.Path, ErrShareExists)
		}
		return Share{}, fmt.Errorf("failed to save share %s: %w", share.Path, err)
	}
	return share, nil
}

func (s *GormStore) Delete(ctx context.Context, path resource.Path) error {
	result := s.db.WithContext(ctx).Where("path = ?", path.String()).Delete(&database.Share{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete share %s: %w", path, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%s: %w", path, ErrShareNotFound)
	}
	return nil
}
