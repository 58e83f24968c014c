package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/infinitio/oracles/internal/domain"
	"github.com/infinitio/oracles/internal/notification"
)

// PushSink ships synthesized alerts to the APNs/GCM provider. Nil URL
// disables it.
type PushSink struct {
	URL    string
	Client *http.Client
	Log    *slog.Logger
}

func NewPushSink(url string, log *slog.Logger) *PushSink {
	return &PushSink{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
		Log:    log,
	}
}

type pushMessage struct {
	Token    string               `json:"token"`
	Platform string               `json:"platform"`
	Alert    string               `json:"alert,omitempty"`
	Badge    int                  `json:"badge,omitempty"`
	Sound    string               `json:"sound,omitempty"`
	Payload  notification.Payload `json:"payload"`
}

func (p *PushSink) send(ctx context.Context, msg pushMessage) {
	if p == nil || p.URL == "" {
		return
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.Client.Do(req)
	if err != nil {
		p.Log.Warn("push provider unreachable", "err", err)
		return
	}
	resp.Body.Close()
}

func mobilePlatform(os string) string {
	switch os {
	case "iOS", "ios":
		return "ios"
	case "Android", "android":
		return "android"
	}
	return ""
}

// maybePush mirrors the notification to the mobile provider when the payload
// maps to a user-facing alert. Everything else ships content-available only.
func (s *Service) maybePush(ctx context.Context, typ notification.Type, payload notification.Payload, device *domain.Device) {
	if device.PushToken == nil {
		return
	}
	platform := mobilePlatform(device.OS)
	if platform == "" {
		return
	}
	msg := pushMessage{
		Token:    *device.PushToken,
		Platform: platform,
		Payload:  payload,
	}
	if alert, badge := synthesizeAlert(typ, payload, device); alert != "" {
		msg.Alert = alert
		msg.Badge = badge
		msg.Sound = "default"
	}
	s.push.send(ctx, msg)
}

// synthesizeAlert builds the platform alert text for the cases that warrant
// a user notification; an empty alert means silent delivery.
func synthesizeAlert(typ notification.Type, payload notification.Payload, device *domain.Device) (string, int) {
	switch typ {
	case notification.PeerTransaction:
		status, _ := payload["status"].(domain.Status)
		if raw, ok := payload["status"].(int); ok {
			status = domain.Status(raw)
		}
		recipientID, _ := payload["recipient_id"].(string)
		senderID, _ := payload["sender_id"].(string)
		senderName, _ := payload["sender_fullname"].(string)
		recipientName, _ := payload["recipient_fullname"].(string)
		selfTransfer := senderID != "" && senderID == recipientID

		toRecipient := recipientID != "" && recipientID == device.Owner.String()
		switch {
		case toRecipient && status == domain.StatusInitialized:
			if selfTransfer {
				return "Open Infinit for the transfer to begin", 1
			}
			return fmt.Sprintf("Accept transfer from %s", senderName), 1
		case !toRecipient && status == domain.StatusRejected && !selfTransfer:
			return fmt.Sprintf("Canceled by %s", recipientName), 0
		case status == domain.StatusFinished:
			if !toRecipient && recipientName != "" && !selfTransfer {
				return fmt.Sprintf("Transfer received by %s", recipientName), 0
			}
			return "Transfer received", 0
		}
	case notification.NewSwagger:
		name, _ := payload["contact_fullname"].(string)
		email, _ := payload["contact_email"].(string)
		if email != "" {
			return fmt.Sprintf("Your contact %s (%s) joined", name, email), 0
		}
	}
	return "", 0
}
