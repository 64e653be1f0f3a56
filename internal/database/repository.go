package database

import (
	"time"

	"github.com/pkg/errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lereldarion/xstalker/internal/models"
)

// Repository handles all database operations for the interval log,
// bucket table and checkpoints.
type Repository struct {
	db *DB
}

// NewRepository creates a new repository instance
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// AppendInterval appends a closed interval to the log and fills in its
// sequence number. Appending the same IntervalID twice is not an error:
// the existing row's sequence is returned instead, which makes retries
// after an ambiguous failure safe.
func (r *Repository) AppendInterval(interval *models.Interval) error {
	result := r.db.Create(interval)
	if result.Error == nil {
		return nil
	}
	if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
		var existing models.Interval
		if err := r.db.Where("interval_id = ?", interval.IntervalID).First(&existing).Error; err != nil {
			return errors.Wrap(err, "failed to resolve duplicate interval")
		}
		interval.Seq = existing.Seq
		return nil
	}
	return errors.Wrap(result.Error, "failed to append interval")
}

// ReplayAfter scans interval rows with Seq > cursor in ascending order,
// in batches, invoking fn for each. fn errors abort the scan.
func (r *Repository) ReplayAfter(cursor uint64, batchSize int, fn func(*models.Interval) error) error {
	if batchSize <= 0 {
		batchSize = 500
	}
	last := cursor
	for {
		var batch []models.Interval
		result := r.db.Where("seq > ?", last).Order("seq ASC").Limit(batchSize).Find(&batch)
		if result.Error != nil {
			return errors.Wrap(result.Error, "failed to scan interval log")
		}
		if len(batch) == 0 {
			return nil
		}
		for i := range batch {
			if err := fn(&batch[i]); err != nil {
				return err
			}
		}
		last = batch[len(batch)-1].Seq
	}
}

// Quarantine moves a corrupt interval row out of the log, preserving it
// in quarantined_intervals with the validation failure.
func (r *Repository) Quarantine(interval *models.Interval, reason string) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		q := models.QuarantinedInterval{
			Seq:        interval.Seq,
			IntervalID: interval.IntervalID,
			Category:   interval.Category,
			StartAt:    interval.StartAt,
			EndAt:      interval.EndAt,
			Reason:     reason,
		}
		if err := tx.Create(&q).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Interval{}, interval.Seq).Error
	})
	return errors.Wrap(err, "failed to quarantine interval")
}

// FlushBuckets upserts dirty bucket cells and advances the checkpoint
// cursor in a single transaction. Either the bucket table and the
// cursor both move, or neither does.
func (r *Repository) FlushBuckets(buckets []models.Bucket, cursor uint64) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		for i := range buckets {
			b := models.Bucket{
				SlotStart:  buckets[i].SlotStart,
				Category:   buckets[i].Category,
				DurationNS: buckets[i].DurationNS,
			}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "slot_start"}, {Name: "category"}},
				DoUpdates: clause.AssignmentColumns([]string{"duration_ns", "updated_at"}),
			}).Create(&b).Error
			if err != nil {
				return err
			}
		}
		cp := models.Checkpoint{ID: 1, Seq: cursor, WrittenAt: time.Now().UTC()}
		return tx.Save(&cp).Error
	})
	return errors.Wrap(err, "failed to flush buckets")
}

// LoadCheckpoint returns the persisted cursor and the full bucket
// table. A store without a checkpoint yields cursor 0 and no buckets.
func (r *Repository) LoadCheckpoint() (uint64, []models.Bucket, error) {
	cursor, err := r.Cursor()
	if err != nil {
		return 0, nil, err
	}

	var buckets []models.Bucket
	result := r.db.Find(&buckets)
	if result.Error != nil {
		return 0, nil, errors.Wrap(result.Error, "failed to load bucket table")
	}
	return cursor, buckets, nil
}

// Cursor returns the checkpoint cursor, 0 when none has been written.
func (r *Repository) Cursor() (uint64, error) {
	var cp models.Checkpoint
	result := r.db.First(&cp, 1)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, errors.Wrap(result.Error, "failed to read checkpoint")
	}
	return cp.Seq, nil
}

// QueryBuckets returns checkpointed buckets with slot start in
// [from, to), optionally restricted to one category.
func (r *Repository) QueryBuckets(from, to time.Time, category string) ([]models.Bucket, error) {
	query := r.db.Where("slot_start >= ? AND slot_start < ?", from.UTC(), to.UTC())
	if category != "" {
		query = query.Where("category = ?", category)
	}

	var buckets []models.Bucket
	result := query.Order("slot_start ASC, category ASC").Find(&buckets)
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "failed to query buckets")
	}
	return buckets, nil
}

// LatestInterval retrieves the most recently appended interval, nil
// when the log is empty.
func (r *Repository) LatestInterval() (*models.Interval, error) {
	var interval models.Interval
	result := r.db.Order("seq DESC").First(&interval)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(result.Error, "failed to get latest interval")
	}
	return &interval, nil
}

// RecordRejection inserts an out-of-order rejection into the log.
func (r *Repository) RecordRejection(rejection *models.RejectedEvent) error {
	result := r.db.Create(rejection)
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to insert rejected event")
	}
	return nil
}

// PruneIntervals deletes interval rows that ended before the given
// time. Only rows already covered by the checkpoint are touched, so
// pruning can never lose unfolded history.
func (r *Repository) PruneIntervals(before time.Time) (int64, error) {
	result := r.db.
		Where("end_at < ? AND seq <= (SELECT seq FROM checkpoints ORDER BY id DESC LIMIT 1)", before.UTC()).
		Delete(&models.Interval{})
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, "failed to prune intervals")
	}
	return result.RowsAffected, nil
}

// DistinctCategories lists every category present in the store.
func (r *Repository) DistinctCategories() ([]string, error) {
	var categories []string
	result := r.db.Raw(
		"SELECT category FROM intervals UNION SELECT category FROM buckets ORDER BY category",
	).Scan(&categories)
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "failed to list categories")
	}
	return categories, nil
}

// Stats reports table sizes and the checkpoint cursor.
func (r *Repository) Stats() (*models.StoreStats, error) {
	stats := &models.StoreStats{}

	counts := []struct {
		model interface{}
		dst   *int64
	}{
		{&models.Interval{}, &stats.Intervals},
		{&models.Bucket{}, &stats.Buckets},
		{&models.QuarantinedInterval{}, &stats.Quarantined},
		{&models.RejectedEvent{}, &stats.Rejected},
	}
	for _, c := range counts {
		if err := r.db.Model(c.model).Count(c.dst).Error; err != nil {
			return nil, errors.Wrap(err, "failed to count rows")
		}
	}

	cursor, err := r.Cursor()
	if err != nil {
		return nil, err
	}
	stats.Cursor = cursor
	return stats, nil
}

// Clear removes all tracking data from the database.
func (r *Repository) Clear() error {
	tables := []string{
		"intervals",
		"buckets",
		"checkpoints",
		"quarantined_intervals",
		"rejected_events",
	}
	for _, table := range tables {
		result := r.db.Exec("DELETE FROM " + table)
		if result.Error != nil {
			return errors.Wrap(result.Error, "failed to clear "+table)
		}
	}
	return nil
}
