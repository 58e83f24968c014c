package dto

import (
	"github.com/google/uuid"

	"github.com/infinitio/oracles/internal/domain"
)

type CreateTransactionRequest struct {
	// Recipient is a user id or an email address; unknown emails get a
	// ghost account.
	Recipient   string          `json:"id_or_email"`
	Files       []string        `json:"files"`
	FilesCount  int             `json:"files_count"`
	TotalSize   int64           `json:"total_size"`
	IsDirectory bool            `json:"is_directory"`
	Message     string          `json:"message,omitempty"`
	DeviceID    domain.DeviceID `json:"device_id"`
}

type CreateTransactionResponse struct {
	CreatedTransactionID domain.TransactionID `json:"created_transaction_id"`
	RecipientIsGhost     bool                 `json:"recipient_is_ghost"`
	Recipient            UserView             `json:"recipient"`
}

type UpdateTransactionRequest struct {
	TransactionID domain.TransactionID `json:"transaction_id"`
	Status        int                  `json:"status"`
	// DeviceID and DeviceName stamp the accepting device.
	DeviceID   *uuid.UUID `json:"device_id,omitempty"`
	DeviceName string     `json:"device_name,omitempty"`
}

type UpdateTransactionResponse struct {
	UpdatedTransactionID domain.TransactionID `json:"updated_transaction_id"`
	Status               int                  `json:"status"`
}

type EndpointsRequest struct {
	DeviceID  domain.DeviceID   `json:"device"`
	Locals    []domain.Endpoint `json:"locals"`
	Externals []domain.Endpoint `json:"externals"`
}

type PeerEndpointsResponse struct {
	Locals    []string `json:"locals"`
	Externals []string `json:"externals"`
}

type CloudBufferResponse struct {
	Protocol string   `json:"protocol"`
	URLs     []string `json:"urls"`
}
