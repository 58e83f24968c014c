package domain

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// Endpoint is one candidate address a peer can be reached at.
type Endpoint struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

// Node is the endpoint set one device published for a transaction.
type Node struct {
	Locals    []Endpoint `json:"locals"`
	Externals []Endpoint `json:"externals"`
}

// Nodes is keyed by NodeKey(user, device); nil values mark a device that
// disconnected after publishing.
type Nodes map[string]*Node

func NodeKey(user UserID, device DeviceID) string {
	return fmt.Sprintf("%s-%s", user, device)
}

type Transaction struct {
	ID TransactionID `gorm:"type:uuid;primaryKey" json:"_id"`

	SenderID       UserID   `gorm:"type:uuid;index;not null" json:"sender_id"`
	SenderFullname string   `gorm:"type:text" json:"sender_fullname"`
	SenderDeviceID DeviceID `gorm:"type:uuid;not null" json:"sender_device_id"`

	RecipientID         UserID    `gorm:"type:uuid;index;not null" json:"recipient_id"`
	RecipientFullname   string    `gorm:"type:text" json:"recipient_fullname"`
	RecipientDeviceID   *DeviceID `gorm:"type:uuid" json:"recipient_device_id,omitempty"`
	RecipientDeviceName string    `gorm:"type:text" json:"recipient_device_name"`

	Files       datatypes.JSONSlice[string] `gorm:"type:jsonb" json:"files"`
	FilesCount  int                         `gorm:"not null" json:"files_count"`
	TotalSize   int64                       `gorm:"not null" json:"total_size"`
	IsDirectory bool                        `gorm:"not null" json:"is_directory"`
	Message     string                      `gorm:"type:text" json:"message"`

	Status Status    `gorm:"not null;index" json:"status"`
	Ctime  time.Time `gorm:"not null" json:"ctime"`
	Mtime  time.Time `gorm:"not null;index" json:"mtime"`

	// Relay picked once direct connection failed; all nil until then.
	FallbackHost    *string `gorm:"type:text" json:"fallback_host,omitempty"`
	FallbackPortTCP *int    `json:"fallback_port_tcp,omitempty"`
	FallbackPortSSL *int    `json:"fallback_port_ssl,omitempty"`
	FallbackID      *string `gorm:"type:text;index" json:"-"`

	Nodes datatypes.JSONType[Nodes] `gorm:"type:jsonb" json:"-"`

	// Strings concatenates the participant names and file names for the
	// substring search endpoint.
	Strings string `gorm:"type:text" json:"-"`
}

func (Transaction) TableName() string { return "transactions" }

// FilesJSON wraps a file list for the JSON column.
func FilesJSON(v []string) datatypes.JSONSlice[string] {
	return datatypes.NewJSONSlice(v)
}

func (t *Transaction) IsSender(u UserID) bool    { return t.SenderID == u }
func (t *Transaction) IsRecipient(u UserID) bool { return t.RecipientID == u }

func (t *Transaction) Involves(u UserID) bool {
	return t.IsSender(u) || t.IsRecipient(u)
}

// DownloadName is the single name the ghost-download email advertises:
// one file keeps its name, a directory becomes <name>.zip, anything else
// is archive.zip.
func (t *Transaction) DownloadName() string {
	if len(t.Files) == 1 && !t.IsDirectory {
		return t.Files[0]
	}
	if t.IsDirectory && len(t.Files) >= 1 {
		return t.Files[0] + ".zip"
	}
	return "archive.zip"
}
