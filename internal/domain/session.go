package domain

import "time"

// Session is the opaque record the login cookie points at.
type Session struct {
	ID        SessionID `gorm:"type:uuid;primaryKey"`
	UserID    UserID    `gorm:"type:uuid;index;not null"`
	DeviceID  *DeviceID `gorm:"type:uuid"`
	Email     string    `gorm:"type:text;index"`
	ExpiresAt time.Time `gorm:"not null;index"`
	CreatedAt time.Time `gorm:"not null"`
}

func (Session) TableName() string { return "sessions" }

func (s *Session) Expired(now time.Time) bool { return now.After(s.ExpiresAt) }
