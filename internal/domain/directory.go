package domain

import "time"

// TrophoniusRecord is one push gateway's directory entry, upserted on every
// heartbeat and swept once the heartbeat goes stale.
type TrophoniusRecord struct {
	ID            string    `gorm:"type:text;primaryKey" json:"id"`
	Hostname      string    `gorm:"type:text" json:"hostname"`
	IP            string    `gorm:"type:text" json:"ip"`
	PortClient    int       `json:"port_client"`
	PortClientSSL int       `json:"port_client_ssl"`
	PortControl   int       `json:"port"`
	Users         int       `gorm:"not null;default:0" json:"users"`
	Version       string    `gorm:"type:text" json:"version,omitempty"`
	Zone          string    `gorm:"type:text;index" json:"zone,omitempty"`
	ShuttingDown  bool      `gorm:"not null;default:false" json:"shutting_down"`
	Time          time.Time `gorm:"not null;index" json:"-"`
}

func (TrophoniusRecord) TableName() string { return "trophonius" }

// ApertusRecord is one relay's directory entry.
type ApertusRecord struct {
	ID                string    `gorm:"type:text;primaryKey" json:"id"`
	Host              string    `gorm:"type:text" json:"host"`
	PortTCP           int       `json:"port_tcp"`
	PortSSL           int       `json:"port_ssl"`
	Load              float64   `gorm:"not null;default:0" json:"load"`
	NumberOfTransfers int       `gorm:"not null;default:0" json:"number_of_transfers"`
	Time              time.Time `gorm:"not null;index" json:"-"`
}

func (ApertusRecord) TableName() string { return "apertus" }

// MailMark tracks when a periodic mailing last ran.
type MailMark struct {
	Name     string    `gorm:"type:text;primaryKey"`
	LastSent time.Time `gorm:"not null"`
}

func (MailMark) TableName() string { return "mail_marks" }
