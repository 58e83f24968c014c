// Package notification defines the push notification type ids and the wire
// envelopes exchanged with the gateways. The numeric ids are a stable wire
// contract shared with every client platform.
package notification

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Type int

const (
	None                 Type = 0
	UserStatus           Type = 8
	NewSwagger           Type = 9
	PeerConnectionUpdate Type = 11
	PeerTransaction      Type = 12
	Configuration        Type = 14
	NetworkUpdate        Type = 128
	Ping                 Type = 208
	Message              Type = 217
	Suicide              Type = 666
	// ConnectionOK doubles as the gateway's authentication response.
	ConnectionOK Type = -666
)

// Payload is what the coordinator authors: a free-form body that the
// notifier stamps with notification_type and timestamp before shipping.
type Payload map[string]any

// Envelope is one line on the gateway control port.
type Envelope struct {
	Notification Payload     `json:"notification"`
	ToDevices    []uuid.UUID `json:"to_devices"`
	UserID       string      `json:"user_id,omitempty"`
}

// Stamp returns a copy of p carrying the type and emission timestamp, the
// form clients receive on their gateway connection.
func Stamp(t Type, p Payload) Payload {
	out := make(Payload, len(p)+2)
	for k, v := range p {
		out[k] = v
	}
	out["notification_type"] = int(t)
	out["timestamp"] = float64(time.Now().UnixNano()) / float64(time.Second)
	return out
}

// Line serializes e as a single newline-terminated JSON document.
func (e Envelope) Line() ([]byte, error) {
	buf, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return append(buf, '\n'), nil
}
