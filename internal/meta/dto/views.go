package dto

import (
	"github.com/infinitio/oracles/internal/domain"
)

// UserView is what other users may see of an account.
type UserView struct {
	ID               domain.UserID     `json:"id"`
	Fullname         string            `json:"fullname"`
	Handle           string            `json:"handle"`
	PublicKey        string            `json:"public_key,omitempty"`
	RegisterStatus   string            `json:"register_status"`
	ConnectedDevices []domain.DeviceID `json:"connected_devices"`
	Status           bool              `json:"status"`
}

// SelfView adds the fields only the account owner sees.
type SelfView struct {
	UserView
	Email     string            `json:"email"`
	Identity  string            `json:"identity,omitempty"`
	Devices   []domain.DeviceID `json:"devices"`
	Favorites []string          `json:"favorites"`
}

type DeviceView struct {
	ID       domain.DeviceID `json:"id"`
	Name     string          `json:"name"`
	Passport string          `json:"passport"`
	OS       string          `json:"os,omitempty"`
	Version  string          `json:"version,omitempty"`
}

type TrophoniusView struct {
	Hostname string `json:"hostname"`
	Port     int    `json:"port"`
	PortSSL  int    `json:"port_ssl"`
}

type SwaggerView struct {
	ID    domain.UserID `json:"id"`
	Count int64         `json:"swag"`
}
