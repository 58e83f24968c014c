package store

import (
	"context"
	"time"

	"github.com/infinitio/oracles/internal/domain"

	"gorm.io/gorm"
)

type MailMarkStore struct{ db *gorm.DB }

func (s *Store) MailMarks() *MailMarkStore { return &MailMarkStore{s.DB} }

// Claim stamps the named mailing as sent now if the previous run is older
// than the period, and reports whether this caller won the claim. Two crons
// firing together send one summary, not two.
func (m *MailMarkStore) Claim(ctx context.Context, name string, period time.Duration) (bool, error) {
	now := time.Now().UTC()
	claimed := false
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.MailMark{}).
			Where("name = ? AND last_sent < ?", name, now.Add(-period)).
			Update("last_sent", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			claimed = true
			return nil
		}
		var existing domain.MailMark
		err := tx.First(&existing, "name = ?", name).Error
		if err == nil {
			return nil // fresh mark, someone else sent recently
		}
		if err != gorm.ErrRecordNotFound {
			return err
		}
		if err := tx.Create(&domain.MailMark{Name: name, LastSent: now}).Error; err != nil {
			return err
		}
		claimed = true
		return nil
	})
	return claimed, err
}

func (m *MailMarkStore) LastSent(ctx context.Context, name string) (time.Time, error) {
	var mark domain.MailMark
	if err := m.db.WithContext(ctx).First(&mark, "name = ?", name).Error; err != nil {
		return time.Time{}, notFound(err)
	}
	return mark.LastSent, nil
}
