package store

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/infinitio/oracles/internal/domain"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type UserStore struct{ db *gorm.DB }

func (s *Store) Users() *UserStore { return &UserStore{db: s.DB} }

func (u *UserStore) Create(ctx context.Context, usr *domain.User) error {
	if usr.ID == uuid.Nil {
		usr.ID = uuid.New()
	}
	usr.Email = strings.ToLower(usr.Email)
	usr.LWHandle = strings.ToLower(usr.Handle)
	if usr.CreatedAt.IsZero() {
		usr.CreatedAt = time.Now().UTC()
	}
	return u.db.WithContext(ctx).Create(usr).Error
}

func (u *UserStore) GetByID(ctx context.Context, id domain.UserID) (*domain.User, error) {
	var user domain.User
	if err := u.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (u *UserStore) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	var user domain.User
	if err := u.db.WithContext(ctx).First(&user, "email = ?", strings.ToLower(email)).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (u *UserStore) GetByHandle(ctx context.Context, handle string) (*domain.User, error) {
	var user domain.User
	if err := u.db.WithContext(ctx).First(&user, "lw_handle = ?", strings.ToLower(handle)).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// Search matches fullname, handle or email by case-insensitive prefix.
func (u *UserStore) Search(ctx context.Context, q string, limit, skip int) ([]*domain.User, error) {
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	pat := strings.ToLower(q) + "%"
	var users []*domain.User
	err := u.db.WithContext(ctx).
		Where("register_status = ?", domain.RegisterOK).
		Where("LOWER(fullname) LIKE ? OR lw_handle LIKE ? OR email LIKE ?", pat, pat, pat).
		Order("fullname").
		Limit(limit).Offset(skip).
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}

// Promote fills in the registration fields of a ghost in place, keeping its
// id so swaggers and transactions pointing at it stay valid.
func (u *UserStore) Promote(ctx context.Context, id domain.UserID, updates map[string]any) error {
	updates["register_status"] = domain.RegisterOK
	return u.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ? AND register_status = ?", id, domain.RegisterGhost).
		Updates(updates).Error
}

func (u *UserStore) Update(ctx context.Context, id domain.UserID, updates map[string]any) error {
	return u.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (u *UserStore) SetOnline(ctx context.Context, id domain.UserID, online bool) error {
	updates := map[string]any{"online": online}
	if online {
		updates["last_connection"] = time.Now().UTC()
	}
	return u.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", id).Updates(updates).Error
}

func (u *UserStore) SetAvatar(ctx context.Context, id domain.UserID, avatar []byte) error {
	return u.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", id).Update("avatar", avatar).Error
}

func (u *UserStore) ConnectedIDs(ctx context.Context) ([]domain.UserID, error) {
	var ids []domain.UserID
	err := u.db.WithContext(ctx).Model(&domain.User{}).
		Where("online = ?", true).Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// AppendPendingNotification queues a payload on a user that has no device to
// deliver it to right now. Delivered and cleared on the next login, and kept
// across ghost promotion.
func (u *UserStore) AppendPendingNotification(ctx context.Context, id domain.UserID, payload []byte) error {
	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var usr domain.User
		if err := tx.First(&usr, "id = ?", id).Error; err != nil {
			return notFound(err)
		}
		pending := []json.RawMessage{}
		if len(usr.PendingNotifications) > 0 {
			if err := json.Unmarshal(usr.PendingNotifications, &pending); err != nil {
				return err
			}
		}
		pending = append(pending, payload)
		blob, err := json.Marshal(pending)
		if err != nil {
			return err
		}
		return tx.Model(&domain.User{}).
			Where("id = ?", id).
			Update("pending_notifications", datatypes.JSON(blob)).Error
	})
}

// TakePendingNotifications returns and clears the queued payloads.
func (u *UserStore) TakePendingNotifications(ctx context.Context, id domain.UserID) ([]json.RawMessage, error) {
	var pending []json.RawMessage
	err := u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var usr domain.User
		if err := tx.First(&usr, "id = ?", id).Error; err != nil {
			return notFound(err)
		}
		if len(usr.PendingNotifications) > 0 {
			if err := json.Unmarshal(usr.PendingNotifications, &pending); err != nil {
				return err
			}
		}
		if len(pending) == 0 {
			return nil
		}
		return tx.Model(&domain.User{}).
			Where("id = ?", id).
			Update("pending_notifications", nil).Error
	})
	if err != nil {
		return nil, err
	}
	return pending, nil
}

// RegisteredSince counts non-ghost accounts created after the given time,
// for the daily summary.
func (u *UserStore) RegisteredSince(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := u.db.WithContext(ctx).Model(&domain.User{}).
		Where("register_status = ? AND created_at >= ?", domain.RegisterOK, since).
		Count(&n).Error
	return n, err
}
