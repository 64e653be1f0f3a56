// Package query answers read-only history questions. With a running
// engine reads hit the live in-memory table; without one (one-shot CLI
// reports) the table is rebuilt from the checkpoint plus the
// un-checkpointed tail of the interval log.
package query

import (
	"time"

	"github.com/pkg/errors"

	"github.com/lereldarion/xstalker/internal/aggregate"
	"github.com/lereldarion/xstalker/internal/database"
	"github.com/lereldarion/xstalker/internal/models"
)

const replayBatch = 500

// Service is the read path. It never writes to the store.
type Service struct {
	repo  *database.Repository
	table *aggregate.Table
	width time.Duration
}

// NewService builds a query service over the live table of a running
// engine.
func NewService(repo *database.Repository, table *aggregate.Table) *Service {
	return &Service{repo: repo, table: table, width: table.Width()}
}

// NewStoreService builds a query service that reads only from the
// store, for use without a running engine.
func NewStoreService(repo *database.Repository, width time.Duration) *Service {
	return &Service{repo: repo, width: width}
}

// SlotWidth returns the bucket granularity.
func (s *Service) SlotWidth() time.Duration {
	return s.width
}

// Buckets returns buckets with slot start in [from, to), optionally
// restricted to one category, sorted by slot then category.
func (s *Service) Buckets(from, to time.Time, category string) ([]aggregate.Bucket, error) {
	t, err := s.source()
	if err != nil {
		return nil, err
	}
	return t.Query(from, to, category), nil
}

// Totals sums durations per category over slots starting in [from, to).
func (s *Service) Totals(from, to time.Time) (map[string]time.Duration, error) {
	t, err := s.source()
	if err != nil {
		return nil, err
	}
	return t.Totals(from, to), nil
}

// Categories lists every category observed in the store.
func (s *Service) Categories() ([]string, error) {
	return s.repo.DistinctCategories()
}

// Stats reports store table sizes and the checkpoint cursor.
func (s *Service) Stats() (*models.StoreStats, error) {
	return s.repo.Stats()
}

func (s *Service) source() (*aggregate.Table, error) {
	if s.table != nil {
		return s.table, nil
	}
	return s.loadTable()
}

// loadTable rebuilds a table the way engine recovery does, minus the
// quarantine writes: rows that cannot be folded are skipped because the
// read path must not mutate the store.
func (s *Service) loadTable() (*aggregate.Table, error) {
	cursor, rows, err := s.repo.LoadCheckpoint()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load checkpoint")
	}

	t := aggregate.NewTable(s.width)
	cells := make(map[aggregate.Key]time.Duration, len(rows))
	for _, row := range rows {
		k := aggregate.Key{Slot: row.SlotStart.UTC(), Category: row.Category}
		cells[k] += time.Duration(row.DurationNS)
	}
	t.Load(cells)

	err = s.repo.ReplayAfter(cursor, replayBatch, func(rec *models.Interval) error {
		if rec.Category == "" || !rec.EndAt.After(rec.StartAt) {
			return nil
		}
		t.Apply(aggregate.Fold(rec.Category, rec.StartAt, rec.EndAt, s.width))
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to fold interval tail")
	}
	return t, nil
}
