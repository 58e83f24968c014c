package service

import (
	"context"
	"strings"

	"github.com/infinitio/oracles/internal/errcode"
	"github.com/infinitio/oracles/internal/mailer"
	"github.com/infinitio/oracles/internal/meta/dto"
)

// DebugReport forwards a client crash or user report to the operator.
// Accepted types are "backtrace" and "user".
func (s *Service) DebugReport(ctx context.Context, kind string, req dto.ReportRequest) error {
	switch kind {
	case "backtrace", "user":
	default:
		return errcode.New(errcode.BadRequest, "unknown report type "+kind)
	}
	err := s.mailer.Send(ctx, mailer.TemplateReport,
		[]mailer.Recipient{{Email: s.cfg.OperatorMail}},
		map[string]any{
			"type":      kind,
			"user_name": req.UserName,
			"client":    req.Client,
			"version":   req.Version,
			"message":   req.Message,
			"backtrace": strings.Join(req.Backtrace, "\n"),
			"extra":     req.Extra,
		})
	if err != nil {
		s.log.Warn("report mail failed", "type", kind, "err", err)
	}
	return nil
}
