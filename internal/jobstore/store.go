// Package jobstore persists the importer queue in the database so pending
// jobs survive a restart.
package jobstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/mantonx/viewra-importer/internal/database"
	"github.com/mantonx/viewra-importer/internal/importer"
)

// Store is a gorm backed importer.JobStore.
type Store struct {
	db     *gorm.DB
	logger hclog.Logger
}

// New returns a store using db, which must already be migrated.
func New(db *gorm.DB, logger hclog.Logger) *Store {
	return &Store{db: db, logger: logger.Named("jobstore")}
}

// LoadJobs returns the persisted records in queue order. Rows that cannot
// be decoded are skipped.
func (s *Store) LoadJobs(ctx context.Context) ([]importer.JobRecord, error) {
	var rows []database.PendingImportJob
	if err := s.db.WithContext(ctx).Order("position").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load pending import jobs: %w", err)
	}

	records := make([]importer.JobRecord, 0, len(rows))
	for _, row := range rows {
		record, err := toRecord(row)
		if err != nil {
			s.logger.Warn("skipping unreadable pending job", "job_id", row.JobID, "error", err)
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// SaveJobs replaces the persisted queue with records.
func (s *Store) SaveJobs(ctx context.Context, records []importer.JobRecord) error {
	rows := make([]database.PendingImportJob, 0, len(records))
	for i, record := range records {
		row, err := fromRecord(i, record)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).
			Delete(&database.PendingImportJob{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(rows, 100).Error
	})
	if err != nil {
		return fmt.Errorf("failed to save pending import jobs: %w", err)
	}

	s.logger.Debug("saved pending import jobs", "count", len(rows))
	return nil
}

func fromRecord(position int, record importer.JobRecord) (database.PendingImportJob, error) {
	extractors, err := json.Marshal(record.ExtractorIDs)
	if err != nil {
		return database.PendingImportJob{}, fmt.Errorf("failed to encode extractors of job %s: %w", record.ID, err)
	}
	pending, err := json.Marshal(record.PendingResources)
	if err != nil {
		return database.PendingImportJob{}, fmt.Errorf("failed to encode pending resources of job %s: %w", record.ID, err)
	}

	return database.PendingImportJob{
		JobID:                 record.ID,
		Position:              position,
		JobType:               string(record.Type),
		BasePath:              record.BasePath,
		State:                 string(record.State),
		IncludeSubDirectories: record.IncludeSubDirectories,
		ExtractorIDs:          string(extractors),
		PendingResources:      string(pending),
	}, nil
}

func toRecord(row database.PendingImportJob) (importer.JobRecord, error) {
	record := importer.JobRecord{
		ID:                    row.JobID,
		Type:                  importer.JobType(row.JobType),
		BasePath:              row.BasePath,
		IncludeSubDirectories: row.IncludeSubDirectories,
		State:                 importer.JobState(row.State),
	}
	if row.ExtractorIDs != "" {
		if err := json.Unmarshal([]byte(row.ExtractorIDs), &record.ExtractorIDs); err != nil {
			return importer.JobRecord{}, fmt.Errorf("invalid extractor ids: %w", err)
		}
	}
	if row.PendingResources != "" {
		if err := json.Unmarshal([]byte(row.PendingResources), &record.PendingResources); err != nil {
			return importer.JobRecord{}, fmt.Errorf("invalid pending resources: %w", err)
		}
	}
	return record, nil
}
