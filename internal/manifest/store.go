package manifest

import (
	"context"
	"fmt"
	"time"

	"github.com/EmpoweredVote/geosplit/internal/db"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const schema = "geosplit"

type runRow struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey;column:id"`
	Layer         string         `gorm:"column:layer;index"`
	SearchPattern string         `gorm:"column:search_pattern"`
	GeometryTypes pq.StringArray `gorm:"type:text[];column:geometry_types"`
	BoundaryPath  string         `gorm:"column:boundary_path"`
	OutputDir     string         `gorm:"column:output_dir"`
	StartedAt     time.Time      `gorm:"column:started_at"`
	FinishedAt    time.Time      `gorm:"column:finished_at"`
	FilesMatched  int            `gorm:"column:files_matched"`
	FilesSkipped  int            `gorm:"column:files_skipped"`
	GroupsWritten int            `gorm:"column:groups_written"`
	GroupsFailed  int            `gorm:"column:groups_failed"`
}

func (runRow) TableName() string { return schema + ".runs" }

type outputRow struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey;column:id"`
	RunID          uuid.UUID `gorm:"type:uuid;index;column:run_id"`
	MunicipalityID uuid.UUID `gorm:"type:uuid;index;column:municipality_id"`
	Municipality   string    `gorm:"column:municipality"`
	Code           string    `gorm:"column:code"`
	GeometryType   string    `gorm:"size:20;column:geometry_type"`
	Path           string    `gorm:"column:path"`
	Rows           int       `gorm:"column:rows"`
	Digest         string    `gorm:"size:64;column:digest"`
}

func (outputRow) TableName() string { return schema + ".outputs" }

func toRows(r *Run) (runRow, []outputRow) {
	run := runRow{
		ID:            r.ID,
		Layer:         r.Layer,
		SearchPattern: r.SearchPattern,
		GeometryTypes: pq.StringArray(r.GeometryTypes),
		BoundaryPath:  r.BoundaryPath,
		OutputDir:     r.OutputDir,
		StartedAt:     r.StartedAt,
		FinishedAt:    r.FinishedAt,
		FilesMatched:  r.FilesMatched,
		FilesSkipped:  r.FilesSkipped,
		GroupsWritten: r.GroupsWritten,
		GroupsFailed:  r.GroupsFailed,
	}
	outs := make([]outputRow, 0, len(r.Outputs))
	for _, o := range r.Outputs {
		outs = append(outs, outputRow{
			ID:             o.ID,
			RunID:          r.ID,
			MunicipalityID: o.MunicipalityID,
			Municipality:   o.Municipality,
			Code:           o.Code,
			GeometryType:   o.GeometryType,
			Path:           o.Path,
			Rows:           o.Rows,
			Digest:         o.Digest,
		})
	}
	return run, outs
}

// Store persists manifests in Postgres.
type Store struct {
	db *gorm.DB
}

// NewStore wraps an open connection.
func NewStore(d *gorm.DB) *Store { return &Store{db: d} }

// Migrate creates the geosplit schema and its tables.
func (s *Store) Migrate() error {
	return db.EnsureSchema(s.db, schema, &runRow{}, &outputRow{})
}

// Save writes the run and its outputs in one transaction. Saving the same
// run again updates it.
func (s *Store) Save(ctx context.Context, r *Run) error {
	run, outs := toRows(r)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&run).Error; err != nil {
			return fmt.Errorf("insert run %s: %w", run.ID, err)
		}
		if len(outs) == 0 {
			return nil
		}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&outs).Error; err != nil {
			return fmt.Errorf("insert outputs: %w", err)
		}
		return nil
	})
}

// Outputs lists the outputs recorded for a run, by path.
func (s *Store) Outputs(ctx context.Context, runID uuid.UUID) ([]Output, error) {
	var rows []outputRow
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("path").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list outputs: %w", err)
	}
	out := make([]Output, 0, len(rows))
	for _, o := range rows {
		out = append(out, Output{
			ID:             o.ID,
			Municipality:   o.Municipality,
			MunicipalityID: o.MunicipalityID,
			Code:           o.Code,
			GeometryType:   o.GeometryType,
			Path:           o.Path,
			Rows:           o.Rows,
			Digest:         o.Digest,
		})
	}
	return out, nil
}
