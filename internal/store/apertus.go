package store

import (
	"context"
	"time"

	"github.com/infinitio/oracles/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ApertusStore struct{ db *gorm.DB }

func (s *Store) Apertus() *ApertusStore { return &ApertusStore{s.DB} }

func (as *ApertusStore) Upsert(ctx context.Context, rec *domain.ApertusRecord) error {
	if rec.Time.IsZero() {
		rec.Time = time.Now().UTC()
	}
	return as.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"host", "port_tcp", "port_ssl", "time",
		}),
	}).Create(rec).Error
}

func (as *ApertusStore) Get(ctx context.Context, id string) (*domain.ApertusRecord, error) {
	var rec domain.ApertusRecord
	if err := as.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

func (as *ApertusStore) Delete(ctx context.Context, id string) error {
	return as.db.WithContext(ctx).Delete(&domain.ApertusRecord{}, "id = ?", id).Error
}

// UpdateBandwidth refreshes a relay's load report, which doubles as its
// heartbeat.
func (as *ApertusStore) UpdateBandwidth(ctx context.Context, id string, load float64, transfers int) error {
	res := as.db.WithContext(ctx).Model(&domain.ApertusRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"load":                load,
			"number_of_transfers": transfers,
			"time":                time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// PickLeastLoaded returns the live relay with the lowest reported load.
func (as *ApertusStore) PickLeastLoaded(ctx context.Context, ttl time.Duration) (*domain.ApertusRecord, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	var rec domain.ApertusRecord
	err := as.db.WithContext(ctx).
		Where("time >= ?", cutoff).
		Order("load, number_of_transfers").
		First(&rec).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

func (as *ApertusStore) SweepStale(ctx context.Context, ttl time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	res := as.db.WithContext(ctx).Delete(&domain.ApertusRecord{}, "time < ?", cutoff)
	return res.RowsAffected, res.Error
}
