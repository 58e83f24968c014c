package domain

import "time"

type Device struct {
	ID    DeviceID `gorm:"type:uuid;primaryKey" json:"id"`
	Owner UserID   `gorm:"type:uuid;primaryKey;index" json:"owner"`

	Name     string `gorm:"type:text;not null" json:"name"`
	Passport string `gorm:"type:text" json:"passport"`

	// Trophonius is the id of the gateway currently holding this device's
	// connection, nil while offline. At most one gateway claims a device.
	Trophonius *string `gorm:"type:text;index" json:"trophonius,omitempty"`

	OS        string    `gorm:"type:text" json:"os,omitempty"`
	Version   string    `gorm:"type:text" json:"version,omitempty"`
	PushToken *string   `gorm:"type:text" json:"-"`
	CreatedAt time.Time `gorm:"not null" json:"-"`
	UpdatedAt time.Time `gorm:"not null" json:"-"`
}

func (Device) TableName() string { return "devices" }

func (d *Device) Online() bool { return d.Trophonius != nil }
