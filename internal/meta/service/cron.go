package service

import (
	"context"
	"time"

	"github.com/infinitio/oracles/internal/domain"
	"github.com/infinitio/oracles/internal/mailer"
)

// SweepResult reports what one cron pass removed.
type SweepResult struct {
	Trophonius int `json:"trophonius"`
	Apertus    int `json:"apertus"`
	Sessions   int `json:"sessions"`
}

// Sweep drops directory records whose heartbeat expired and expired
// sessions. Devices held by a dead gateway are disconnected with the usual
// fan-out.
func (s *Service) Sweep(ctx context.Context) (*SweepResult, error) {
	var res SweepResult

	gone, err := s.store.Trophonius().SweepStale(ctx, s.cfg.TrophoniusTTL)
	if err != nil {
		return nil, err
	}
	res.Trophonius = len(gone)
	for _, id := range gone {
		devices, err := s.store.Devices().OnGateway(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, d := range devices {
			if err := s.DisconnectDevice(ctx, id, d.Owner, d.ID); err != nil {
				s.log.Warn("disconnect on sweep failed", "gateway", id, "device", d.ID, "err", err)
			}
		}
	}

	relays, err := s.store.Apertus().SweepStale(ctx, s.cfg.ApertusTTL)
	if err != nil {
		return nil, err
	}
	res.Apertus = int(relays)

	sessions, err := s.store.Sessions().DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	res.Sessions = int(sessions)

	s.log.Info("cron sweep", "trophonius", res.Trophonius, "apertus", res.Apertus, "sessions", res.Sessions)
	return &res, nil
}

const dailySummaryPeriod = 24 * time.Hour

// DailySummary mails each user with unaccepted incoming transfers since
// their last login one aggregated reminder. At most one run per period
// fleet-wide; concurrent crons race on a mail mark.
func (s *Service) DailySummary(ctx context.Context) (int, error) {
	won, err := s.store.MailMarks().Claim(ctx, "daily-summary", dailySummaryPeriod)
	if err != nil {
		return 0, err
	}
	if !won {
		return 0, nil
	}

	recipients, err := s.store.Transactions().RecipientsWithStatus(ctx, domain.StatusInitialized)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, uid := range recipients {
		user, err := s.store.Users().GetByID(ctx, uid)
		if err != nil {
			continue
		}
		if user.RegisterStatus != domain.RegisterOK {
			continue // ghosts already got the invitation mail
		}
		pending, err := s.store.Transactions().PendingForRecipient(ctx, uid)
		if err != nil {
			continue
		}
		bySender := map[string]int{}
		for _, tr := range pending {
			if tr.Status != domain.StatusInitialized {
				continue
			}
			if user.LastConnection != nil && !tr.Mtime.After(*user.LastConnection) {
				continue
			}
			bySender[tr.SenderFullname]++
		}
		if len(bySender) == 0 {
			continue
		}
		err = s.mailer.Send(ctx, mailer.TemplateDailySummary,
			[]mailer.Recipient{{Email: user.Email, Fullname: user.Fullname}},
			map[string]any{"senders": bySender})
		if err != nil {
			s.log.Warn("daily summary mail failed", "email", user.Email, "err", err)
			continue
		}
		sent++
	}
	s.log.Info("daily summary", "sent", sent)
	return sent, nil
}
