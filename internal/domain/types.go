package domain

import "github.com/google/uuid"

type (
	UserID        = uuid.UUID
	DeviceID      = uuid.UUID
	TransactionID = uuid.UUID
	SessionID     = uuid.UUID
)

type RegisterStatus string

const (
	RegisterGhost RegisterStatus = "ghost"
	RegisterOK    RegisterStatus = "ok"
)
