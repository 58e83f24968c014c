// Package notifier fans coordinator notifications out to the gateways
// holding the target devices, and mirrors selected ones to the mobile push
// provider.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/infinitio/oracles/internal/domain"
	"github.com/infinitio/oracles/internal/metrics"
	"github.com/infinitio/oracles/internal/notification"
	"github.com/infinitio/oracles/internal/store"
)

const dialTimeout = 4 * time.Second

// Target names one explicit device.
type Target struct {
	UserID   domain.UserID
	DeviceID domain.DeviceID
}

// Options selects recipients for one Notify call. Users expands to all of a
// user's online devices; Devices addresses devices directly. Payloads for
// users with no online device are queued on the user record instead.
type Options struct {
	Users      []domain.UserID
	Devices    []Target
	MinVersion string
}

type Notifier interface {
	Notify(ctx context.Context, typ notification.Type, payload notification.Payload, opts Options) error
}

// Service resolves targets through the store and speaks newline JSON to the
// gateway control ports.
type Service struct {
	store *store.Store
	push  *PushSink
	log   *slog.Logger
}

func New(st *store.Store, push *PushSink, log *slog.Logger) *Service {
	return &Service{store: st, push: push, log: log}
}

func (s *Service) Notify(ctx context.Context, typ notification.Type, payload notification.Payload, opts Options) error {
	stamped := notification.Stamp(typ, payload)

	var targets []*domain.Device

	for _, uid := range opts.Users {
		devices, err := s.store.Devices().OnlineForUser(ctx, uid)
		if err != nil {
			return fmt.Errorf("resolve devices of %s: %w", uid, err)
		}
		if len(devices) == 0 {
			s.queueOffline(ctx, uid, stamped)
			continue
		}
		targets = append(targets, devices...)
	}
	for _, t := range opts.Devices {
		d, err := s.store.Devices().Get(ctx, t.UserID, t.DeviceID)
		if err != nil {
			if err == store.ErrRecordNotFound {
				continue
			}
			return fmt.Errorf("resolve device %s: %w", t.DeviceID, err)
		}
		targets = append(targets, d)
	}

	// Group by gateway; devices without one only get the mobile mirror.
	byGateway := map[string][]*domain.Device{}
	for _, d := range targets {
		if opts.MinVersion != "" && versionLess(d.Version, opts.MinVersion) {
			continue
		}
		if d.Trophonius != nil {
			byGateway[*d.Trophonius] = append(byGateway[*d.Trophonius], d)
		}
		s.maybePush(ctx, typ, stamped, d)
	}

	for gw, ts := range byGateway {
		rec, err := s.store.Trophonius().Get(ctx, gw)
		if err != nil {
			s.log.Warn("notification target on unknown gateway", "gateway", gw, "err", err)
			metrics.NotificationsTotal.WithLabelValues(strconv.Itoa(int(typ)), "skipped").Add(float64(len(ts)))
			continue
		}
		env := notification.Envelope{Notification: stamped}
		for _, d := range ts {
			env.ToDevices = append(env.ToDevices, d.ID)
		}
		if err := s.sendToGateway(rec, env); err != nil {
			// Not retried: clients resync on reconnect.
			s.log.Warn("gateway send failed", "gateway", gw, "err", err)
			metrics.NotificationsTotal.WithLabelValues(strconv.Itoa(int(typ)), "failed").Add(float64(len(ts)))
			continue
		}
		metrics.NotificationsTotal.WithLabelValues(strconv.Itoa(int(typ)), "sent").Add(float64(len(ts)))
	}
	return nil
}

func (s *Service) queueOffline(ctx context.Context, uid domain.UserID, stamped notification.Payload) {
	blob, err := json.Marshal(stamped)
	if err != nil {
		s.log.Error("marshal pending notification", "err", err)
		return
	}
	if err := s.store.Users().AppendPendingNotification(ctx, uid, blob); err != nil {
		s.log.Warn("queue pending notification", "user", uid, "err", err)
	}
}

func (s *Service) sendToGateway(rec *domain.TrophoniusRecord, env notification.Envelope) error {
	line, err := env.Line()
	if err != nil {
		return err
	}
	host := rec.Hostname
	if host == "" {
		host = rec.IP
	}
	addr := net.JoinHostPort(host, strconv.Itoa(rec.PortControl))
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()
	conn.SetWriteDeadline(time.Now().Add(dialTimeout))
	_, err = conn.Write(line)
	return err
}

// versionLess compares dotted numeric versions; unparsable components
// compare as zero so an empty device version never passes a filter.
func versionLess(a, b string) bool {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var av, bv int
		if i < len(as) {
			av, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			bv, _ = strconv.Atoi(bs[i])
		}
		if av != bv {
			return av < bv
		}
	}
	return false
}
