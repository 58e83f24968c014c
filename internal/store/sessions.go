package store

import (
	"context"
	"time"

	"github.com/infinitio/oracles/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type SessionStore struct{ db *gorm.DB }

func (s *Store) Sessions() *SessionStore { return &SessionStore{s.DB} }

func (ss *SessionStore) Create(ctx context.Context, sess *domain.Session) error {
	if sess.ID == uuid.Nil {
		sess.ID = uuid.New()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	return ss.db.WithContext(ctx).Create(sess).Error
}

func (ss *SessionStore) Get(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	var sess domain.Session
	if err := ss.db.WithContext(ctx).First(&sess, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &sess, nil
}

func (ss *SessionStore) Delete(ctx context.Context, id domain.SessionID) error {
	return ss.db.WithContext(ctx).Delete(&domain.Session{}, "id = ?", id).Error
}

// DeleteForDevice removes any previous session of the same user and device,
// so a device holds at most one session at a time.
func (ss *SessionStore) DeleteForDevice(ctx context.Context, userID domain.UserID, deviceID domain.DeviceID) error {
	return ss.db.WithContext(ctx).
		Delete(&domain.Session{}, "user_id = ? AND device_id = ?", userID, deviceID).Error
}

func (ss *SessionStore) DeleteForUser(ctx context.Context, userID domain.UserID) (int64, error) {
	tx := ss.db.WithContext(ctx).Delete(&domain.Session{}, "user_id = ?", userID)
	return tx.RowsAffected, tx.Error
}

func (ss *SessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tx := ss.db.WithContext(ctx).Delete(&domain.Session{}, "expires_at < ?", now)
	return tx.RowsAffected, tx.Error
}
