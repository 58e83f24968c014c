package store

import (
	"context"
	"time"

	"github.com/infinitio/oracles/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TrophoniusStore struct{ db *gorm.DB }

func (s *Store) Trophonius() *TrophoniusStore { return &TrophoniusStore{s.DB} }

// Upsert registers a gateway or refreshes its heartbeat.
func (ts *TrophoniusStore) Upsert(ctx context.Context, rec *domain.TrophoniusRecord) error {
	if rec.Time.IsZero() {
		rec.Time = time.Now().UTC()
	}
	return ts.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"hostname", "ip", "port_client", "port_client_ssl", "port_control",
			"users", "version", "zone", "shutting_down", "time",
		}),
	}).Create(rec).Error
}

func (ts *TrophoniusStore) Get(ctx context.Context, id string) (*domain.TrophoniusRecord, error) {
	var rec domain.TrophoniusRecord
	if err := ts.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

func (ts *TrophoniusStore) Delete(ctx context.Context, id string) error {
	return ts.db.WithContext(ctx).Delete(&domain.TrophoniusRecord{}, "id = ?", id).Error
}

// Pick returns the live, non-draining gateway with the fewest users,
// preferring the requested zone when set. ErrRecordNotFound when the fleet
// is empty.
func (ts *TrophoniusStore) Pick(ctx context.Context, zone string, ttl time.Duration) (*domain.TrophoniusRecord, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	q := ts.db.WithContext(ctx).
		Where("time >= ? AND shutting_down = ?", cutoff, false)
	if zone != "" {
		q = q.Where("zone = ?", zone)
	}
	var rec domain.TrophoniusRecord
	if err := q.Order("users").First(&rec).Error; err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

// SweepStale removes gateways whose heartbeat expired and returns their ids
// so the caller can detach the devices they held.
func (ts *TrophoniusStore) SweepStale(ctx context.Context, ttl time.Duration) ([]string, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	var ids []string
	err := ts.db.WithContext(ctx).Model(&domain.TrophoniusRecord{}).
		Where("time < ?", cutoff).Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	err = ts.db.WithContext(ctx).Delete(&domain.TrophoniusRecord{}, "id IN ?", ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
