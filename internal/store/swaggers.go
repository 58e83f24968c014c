package store

import (
	"context"

	"github.com/infinitio/oracles/internal/domain"

	"gorm.io/gorm"
)

type SwaggerStore struct{ db *gorm.DB }

func (s *Store) Swaggers() *SwaggerStore { return &SwaggerStore{s.DB} }

// Increment bumps the mutual counter for both directions and returns the new
// count. A first-time pair starts at 1, which is the caller's cue to send
// NEW_SWAGGER to both sides.
func (sw *SwaggerStore) Increment(ctx context.Context, a, b domain.UserID) (int64, error) {
	var count int64
	err := sw.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, pair := range [][2]domain.UserID{{a, b}, {b, a}} {
			res := tx.Model(&domain.Swagger{}).
				Where("user_id = ? AND peer_id = ?", pair[0], pair[1]).
				Update("count", gorm.Expr("count + 1"))
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				if err := tx.Create(&domain.Swagger{UserID: pair[0], PeerID: pair[1], Count: 1}).Error; err != nil {
					return err
				}
			}
		}
		var row domain.Swagger
		if err := tx.First(&row, "user_id = ? AND peer_id = ?", a, b).Error; err != nil {
			return err
		}
		count = row.Count
		return nil
	})
	return count, err
}

func (sw *SwaggerStore) ListForUser(ctx context.Context, userID domain.UserID) ([]domain.Swagger, error) {
	var rows []domain.Swagger
	err := sw.db.WithContext(ctx).
		Where("user_id = ?", userID).Order("count DESC").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// PeerIDs is ListForUser projected to the peer column, most swagged first.
func (sw *SwaggerStore) PeerIDs(ctx context.Context, userID domain.UserID) ([]domain.UserID, error) {
	var ids []domain.UserID
	err := sw.db.WithContext(ctx).Model(&domain.Swagger{}).
		Where("user_id = ?", userID).Order("count DESC").Pluck("peer_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
