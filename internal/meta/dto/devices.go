package dto

import (
	"github.com/google/uuid"
)

type CreateDeviceRequest struct {
	ID      *uuid.UUID `json:"id,omitempty"`
	Name    string     `json:"name"`
	OS      string     `json:"OS,omitempty"`
	Version string     `json:"version,omitempty"`
}

type UpdateDeviceRequest struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

type DeleteDeviceRequest struct {
	ID uuid.UUID `json:"id"`
}

type EditUserRequest struct {
	Fullname string `json:"fullname"`
	Handle   string `json:"handle"`
}

type FavoriteRequest struct {
	UserID uuid.UUID `json:"user_id"`
}

type ReportRequest struct {
	UserName  string   `json:"user_name,omitempty"`
	Client    string   `json:"client_os,omitempty"`
	Version   string   `json:"version,omitempty"`
	Message   string   `json:"message,omitempty"`
	Backtrace []string `json:"backtrace,omitempty"`
	Extra     string   `json:"additional_info,omitempty"`
}
