// Package archive persists finished searches so they can be listed after the
// live session has been cleaned up.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/quotescout/internal/models"
	"github.com/zulandar/quotescout/internal/session"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned by Get for an unknown job.
var ErrNotFound = errors.New("archive: search not found")

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 50

// Store reads and writes archived searches.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// NewStore creates a Store over an already migrated database.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Save archives a finished session. Saving the same job again replaces the
// previous record, which happens when a job id is reused after its grace
// period.
func (s *Store) Save(ctx context.Context, snap session.Snapshot) error {
	rec, err := recordFromSnapshot(snap, s.now())
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_id = ?", snap.JobID).Delete(&models.SearchWorker{}).Error; err != nil {
			return err
		}
		if err := tx.Where("job_id = ?", snap.JobID).Delete(&models.SearchContractor{}).Error; err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
	})
	if err != nil {
		return fmt.Errorf("archive: save %s: %w", snap.JobID, err)
	}
	return nil
}

// List returns the most recently completed searches, newest first, without
// their workers or contractors.
func (s *Store) List(ctx context.Context, limit int) ([]models.SearchRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	var out []models.SearchRecord
	if err := s.db.WithContext(ctx).Order("completed_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("archive: list: %w", err)
	}
	return out, nil
}

// Get returns one archived search with its workers and contractors.
func (s *Store) Get(ctx context.Context, jobID string) (*models.SearchRecord, error) {
	var rec models.SearchRecord
	err := s.db.WithContext(ctx).
		Preload("Workers", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Preload("Contractors", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		First(&rec, "job_id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("archive: get %s: %w", jobID, err)
	}
	return &rec, nil
}

// Prune deletes searches completed more than olderThan ago and returns how
// many were removed.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().Add(-olderThan).UTC()
	var removed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stale := tx.Model(&models.SearchRecord{}).Select("job_id").Where("completed_at < ?", cutoff)
		if err := tx.Where("job_id IN (?)", stale).Delete(&models.SearchWorker{}).Error; err != nil {
			return err
		}
		if err := tx.Where("job_id IN (?)", stale).Delete(&models.SearchContractor{}).Error; err != nil {
			return err
		}
		res := tx.Where("completed_at < ?", cutoff).Delete(&models.SearchRecord{})
		removed = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("archive: prune: %w", err)
	}
	return removed, nil
}

// Contractors decodes the archived contractor payloads of rec.
func Contractors(rec *models.SearchRecord) ([]models.Contractor, error) {
	out := make([]models.Contractor, 0, len(rec.Contractors))
	for _, c := range rec.Contractors {
		var full models.Contractor
		if err := json.Unmarshal([]byte(c.Payload), &full); err != nil {
			return nil, fmt.Errorf("archive: decode contractor %s: %w", c.LeadID, err)
		}
		out = append(out, full)
	}
	return out, nil
}

func recordFromSnapshot(snap session.Snapshot, now time.Time) (models.SearchRecord, error) {
	c := snap.Params.Classification
	rec := models.SearchRecord{
		JobID:            snap.JobID,
		ZipCode:          snap.Params.ZipCode,
		City:             snap.Params.City,
		Category:         c.Category,
		Subcategory:      c.Subcategory,
		ProblemSummary:   c.ProblemSummary,
		ScopeOfWork:      c.ScopeOfWork,
		Outcome:          snap.Outcome,
		ErrorMsg:         snap.ErrorMsg,
		TotalContractors: len(snap.Contractors),
		CreatedAt:        snap.CreatedAt.UTC(),
		CompletedAt:      now.UTC(),
	}
	if snap.CompletedAt != nil {
		rec.CompletedAt = snap.CompletedAt.UTC()
	}

	for _, w := range snap.Workers {
		logs, err := json.Marshal(w.Logs)
		if err != nil {
			return rec, fmt.Errorf("archive: encode logs for %s: %w", w.Platform, err)
		}
		rec.Workers = append(rec.Workers, models.SearchWorker{
			JobID:       snap.JobID,
			Platform:    w.Platform,
			Status:      string(w.Status),
			ErrorMsg:    w.Error,
			LiveViewURL: w.LiveViewURL,
			Logs:        string(logs),
			StartedAt:   w.StartedAt,
			EndedAt:     w.EndedAt,
		})
	}
	for _, ct := range snap.Contractors {
		payload, err := json.Marshal(ct)
		if err != nil {
			return rec, fmt.Errorf("archive: encode contractor %s: %w", ct.ID, err)
		}
		rec.Contractors = append(rec.Contractors, models.SearchContractor{
			JobID:       snap.JobID,
			LeadID:      ct.ID,
			Platform:    ct.Platform,
			Name:        ct.Name,
			Rating:      ct.Rating,
			ReviewCount: ct.ReviewCount,
			ProfileURL:  ct.ProfileURL,
			Payload:     string(payload),
		})
	}
	return rec, nil
}
