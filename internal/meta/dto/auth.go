package dto

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/infinitio/oracles/internal/domain"
)

type LoginRequest struct {
	Email          string     `json:"email"`
	Password       string     `json:"password"`
	DeviceID       *uuid.UUID `json:"device_id,omitempty"`
	DeviceName     string     `json:"device_name,omitempty"`
	OS             string     `json:"OS,omitempty"`
	Version        string     `json:"version,omitempty"`
	PickTrophonius bool       `json:"pick_trophonius,omitempty"`
	PushToken      *string    `json:"device_push_token,omitempty"`
}

type LoginResponse struct {
	SessionID            domain.SessionID  `json:"session_id"`
	Self                 SelfView          `json:"self"`
	Device               *DeviceView       `json:"device,omitempty"`
	Trophonius           *TrophoniusView   `json:"trophonius,omitempty"`
	PendingNotifications []json.RawMessage `json:"pending_notifications,omitempty"`
}

type WebLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	Fullname  string `json:"fullname"`
	Handle    string `json:"handle"`
	PublicKey string `json:"public_key,omitempty"`
	Identity  string `json:"identity,omitempty"`
}

type RegisterResponse struct {
	RegisteredUserID domain.UserID `json:"registered_user_id"`
}

type LostPasswordRequest struct {
	Email string `json:"email"`
}

type ResetAccountRequest struct {
	Password string `json:"password"`
}
