package domain

import (
	"time"

	"gorm.io/datatypes"
)

type User struct {
	ID             UserID         `gorm:"type:uuid;primaryKey" json:"id"`
	Email          string         `gorm:"type:text;uniqueIndex:ux_users_email;not null" json:"email"`
	Fullname       string         `gorm:"type:text;not null" json:"fullname"`
	Handle         string         `gorm:"type:text" json:"handle"`
	LWHandle       string         `gorm:"type:text;uniqueIndex:ux_users_lw_handle" json:"-"`
	RegisterStatus RegisterStatus `gorm:"type:text;not null;default:ghost" json:"register_status"`

	PasswordHash   []byte `gorm:"type:bytea" json:"-"`
	PasswordSalt   []byte `gorm:"type:bytea" json:"-"`
	PasswordParams []byte `gorm:"type:bytea" json:"-"`

	PublicKey string `gorm:"type:text" json:"public_key,omitempty"`
	Identity  string `gorm:"type:text" json:"-"`

	Avatar []byte `gorm:"type:bytea" json:"-"`

	// Notifications authored while the user was a ghost or offline,
	// delivered on the next login and preserved across ghost promotion.
	PendingNotifications datatypes.JSON `gorm:"type:jsonb" json:"-"`

	Favorites datatypes.JSONSlice[string] `gorm:"type:jsonb" json:"favorites,omitempty"`

	Online         bool       `gorm:"not null;default:false" json:"online"`
	LastConnection *time.Time `json:"-"`
	CreatedAt      time.Time  `gorm:"not null" json:"creation_time"`

	Devices []Device `gorm:"foreignKey:Owner;references:ID;constraint:OnDelete:CASCADE" json:"-"`
}

func (User) TableName() string { return "users" }

// FavoritesJSON wraps a favorites slice for column updates.
func FavoritesJSON(v []string) datatypes.JSONSlice[string] {
	return datatypes.NewJSONSlice(v)
}

// DeviceIDs projects the loaded devices, the original user.devices list.
func (u *User) DeviceIDs() []DeviceID {
	ids := make([]DeviceID, 0, len(u.Devices))
	for _, d := range u.Devices {
		ids = append(ids, d.ID)
	}
	return ids
}

// Swagger is one direction of the mutual interaction counter between two
// users. Rows come in pairs and the counts stay equal by construction.
type Swagger struct {
	UserID UserID `gorm:"type:uuid;primaryKey"`
	PeerID UserID `gorm:"type:uuid;primaryKey"`
	Count  int64  `gorm:"not null;default:0"`
}

func (Swagger) TableName() string { return "swaggers" }
