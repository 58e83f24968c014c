// Package mailer is the opaque template-email sink. The coordinator only
// ever says "send this template to these people with these variables"; the
// rendering happens on the provider side.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Template names known to the provider.
const (
	TemplateWelcome       = "welcome"
	TemplateInvitation    = "send-file"
	TemplateGhostDownload = "send-file-url"
	TemplateDailySummary  = "daily-summary"
	TemplateLostPassword  = "lost-password"
	TemplateReport        = "report"
)

type Recipient struct {
	Email    string `json:"email"`
	Fullname string `json:"fullname,omitempty"`
}

type Mailer interface {
	Send(ctx context.Context, template string, to []Recipient, vars map[string]any) error
}

// HTTP posts one JSON envelope per send to the provider.
type HTTP struct {
	URL    string
	Key    string
	Client *http.Client
	Log    *slog.Logger
}

func NewHTTP(url, key string, log *slog.Logger) *HTTP {
	return &HTTP{
		URL:    url,
		Key:    key,
		Client: &http.Client{Timeout: 10 * time.Second},
		Log:    log,
	}
}

func (m *HTTP) Send(ctx context.Context, template string, to []Recipient, vars map[string]any) error {
	body, err := json.Marshal(map[string]any{
		"template":   template,
		"recipients": to,
		"vars":       vars,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if m.Key != "" {
		req.Header.Set("Authorization", "Bearer "+m.Key)
	}
	resp, err := m.Client.Do(req)
	if err != nil {
		return fmt.Errorf("mailer send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("mailer send: provider returned %d", resp.StatusCode)
	}
	m.Log.Debug("mail queued", "template", template, "recipients", len(to))
	return nil
}

// Null drops everything, for environments without a provider and for tests.
type Null struct{}

func (Null) Send(context.Context, string, []Recipient, map[string]any) error { return nil }

// Recorder captures sends for assertions.
type Recorder struct {
	Sent []RecordedMail
}

type RecordedMail struct {
	Template string
	To       []Recipient
	Vars     map[string]any
}

func (r *Recorder) Send(_ context.Context, template string, to []Recipient, vars map[string]any) error {
	r.Sent = append(r.Sent, RecordedMail{Template: template, To: to, Vars: vars})
	return nil
}
