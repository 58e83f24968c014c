package service

import (
	"context"
	"errors"

	"github.com/infinitio/oracles/internal/domain"
	"github.com/infinitio/oracles/internal/errcode"
	"github.com/infinitio/oracles/internal/meta/dto"
	"github.com/infinitio/oracles/internal/notification"
	"github.com/infinitio/oracles/internal/notifier"
	"github.com/infinitio/oracles/internal/store"
)

// ErrNoTrophonius is surfaced as HTTP 503.
var ErrNoTrophonius = errors.New("no trophonius available")

// PickTrophonius returns the gateway a client should connect to.
func (s *Service) PickTrophonius(ctx context.Context, zone string) (*dto.TrophoniusView, error) {
	rec, err := s.store.Trophonius().Pick(ctx, zone, s.cfg.TrophoniusTTL)
	if err == store.ErrRecordNotFound {
		return nil, ErrNoTrophonius
	}
	if err != nil {
		return nil, err
	}
	return &dto.TrophoniusView{
		Hostname: rec.Hostname,
		Port:     rec.PortClient,
		PortSSL:  rec.PortClientSSL,
	}, nil
}

func (s *Service) RegisterTrophonius(ctx context.Context, id string, hb dto.TrophoniusHeartbeat) error {
	return s.store.Trophonius().Upsert(ctx, &domain.TrophoniusRecord{
		ID:            id,
		Hostname:      hb.Hostname,
		IP:            hb.IP,
		PortClient:    hb.PortClient,
		PortClientSSL: hb.PortClientSSL,
		PortControl:   hb.Port,
		Users:         hb.Users,
		Version:       hb.Version,
		Zone:          hb.Zone,
		ShuttingDown:  hb.ShuttingDown,
	})
}

// UnregisterTrophonius removes a gateway and disconnects everything it held.
func (s *Service) UnregisterTrophonius(ctx context.Context, id string) error {
	devices, err := s.store.Devices().OnGateway(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Trophonius().Delete(ctx, id); err != nil {
		return err
	}
	for _, d := range devices {
		if err := s.DisconnectDevice(ctx, id, d.Owner, d.ID); err != nil {
			s.log.Warn("disconnect on gateway removal failed",
				"gateway", id, "device", d.ID, "err", err)
		}
	}
	return nil
}

// ConnectDevice records that a gateway now holds a device's connection.
func (s *Service) ConnectDevice(ctx context.Context, gateway string, userID domain.UserID, deviceID domain.DeviceID) error {
	if _, err := s.store.Trophonius().Get(ctx, gateway); err == store.ErrRecordNotFound {
		return errcode.New(errcode.BadRequest, "unknown gateway")
	} else if err != nil {
		return err
	}
	device, err := s.store.Devices().Get(ctx, userID, deviceID)
	if err == store.ErrRecordNotFound {
		return errcode.New(errcode.DeviceNotFound, deviceID.String())
	}
	if err != nil {
		return err
	}

	wasOnline, err := s.store.Devices().OnlineForUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.store.Devices().SetTrophonius(ctx, userID, device.ID, &gateway); err != nil {
		return err
	}
	if err := s.store.Users().SetOnline(ctx, userID, true); err != nil {
		return err
	}
	if len(wasOnline) == 0 {
		s.notifyUserStatus(ctx, userID, true)
	}
	return nil
}

// DisconnectDevice undoes ConnectDevice: detaches the device, nulls its
// endpoints everywhere, tells affected peers, and flips the user offline
// when it was the last device.
func (s *Service) DisconnectDevice(ctx context.Context, gateway string, userID domain.UserID, deviceID domain.DeviceID) error {
	device, err := s.store.Devices().Get(ctx, userID, deviceID)
	if err == store.ErrRecordNotFound {
		return errcode.New(errcode.DeviceNotFound, deviceID.String())
	}
	if err != nil {
		return err
	}
	// Another gateway may have claimed the device since; leave it alone.
	if device.Trophonius == nil || *device.Trophonius != gateway {
		return nil
	}
	if err := s.store.Devices().SetTrophonius(ctx, userID, deviceID, nil); err != nil {
		return err
	}

	touched, err := s.store.Transactions().ClearNodesForDevice(ctx, userID, deviceID)
	if err != nil {
		return err
	}
	for _, tr := range touched {
		peerUser, peerDevice, ok := peerOf(tr, userID, deviceID)
		if !ok {
			continue
		}
		s.notifyConnectionUpdate(ctx, tr, peerUser, peerDevice, userID, deviceID, nil, false)
	}

	online, err := s.store.Devices().OnlineForUser(ctx, userID)
	if err != nil {
		return err
	}
	if len(online) == 0 {
		if err := s.store.Users().SetOnline(ctx, userID, false); err != nil {
			return err
		}
		s.notifyUserStatus(ctx, userID, false)
	}
	return nil
}

// peerOf returns the other side's device for a transaction one side just
// left.
func peerOf(tr *domain.Transaction, userID domain.UserID, deviceID domain.DeviceID) (domain.UserID, domain.DeviceID, bool) {
	if tr.SenderID == userID && tr.SenderDeviceID == deviceID {
		if tr.RecipientDeviceID == nil {
			return domain.UserID{}, domain.DeviceID{}, false
		}
		return tr.RecipientID, *tr.RecipientDeviceID, true
	}
	return tr.SenderID, tr.SenderDeviceID, true
}

// notifyUserStatus tells everyone who swagged with the user that they went
// on or offline.
func (s *Service) notifyUserStatus(ctx context.Context, userID domain.UserID, online bool) {
	peers, err := s.store.Swaggers().PeerIDs(ctx, userID)
	if err != nil {
		s.log.Warn("user status fan-out failed", "user", userID, "err", err)
		return
	}
	if len(peers) == 0 {
		return
	}
	err = s.notifier.Notify(ctx, notification.UserStatus, notification.Payload{
		"user_id": userID.String(),
		"status":  online,
	}, notifier.Options{Users: peers})
	if err != nil {
		s.log.Warn("user status fan-out failed", "user", userID, "err", err)
	}
}

func (s *Service) RegisterApertus(ctx context.Context, id string, hb dto.ApertusHeartbeat) error {
	return s.store.Apertus().Upsert(ctx, &domain.ApertusRecord{
		ID:      id,
		Host:    hb.Host,
		PortTCP: hb.PortTCP,
		PortSSL: hb.PortSSL,
	})
}

func (s *Service) UnregisterApertus(ctx context.Context, id string) error {
	return s.store.Apertus().Delete(ctx, id)
}

func (s *Service) ApertusBandwidth(ctx context.Context, id string, hb dto.ApertusBandwidth) error {
	err := s.store.Apertus().UpdateBandwidth(ctx, id, hb.Bandwidth, hb.NumberOfTransfers)
	if err == store.ErrRecordNotFound {
		return errcode.New(errcode.BadRequest, "unknown apertus")
	}
	return err
}

// Fallback picks a relay for a transaction, atomically, first pick wins.
func (s *Service) Fallback(ctx context.Context, session *domain.Session, id domain.TransactionID) (*dto.FallbackResponse, error) {
	tr, err := s.GetTransaction(ctx, session, id)
	if err != nil {
		return nil, err
	}
	if tr.FallbackHost == nil {
		relay, err := s.store.Apertus().PickLeastLoaded(ctx, s.cfg.ApertusTTL)
		if err == store.ErrRecordNotFound {
			return nil, errcode.New(errcode.NoApertus, "")
		}
		if err != nil {
			return nil, err
		}
		tr, err = s.store.Transactions().SetFallback(ctx, id, relay)
		if err != nil {
			return nil, err
		}
	}
	if tr.FallbackHost == nil {
		return nil, errcode.New(errcode.NoApertus, "")
	}
	resp := &dto.FallbackResponse{FallbackHost: *tr.FallbackHost}
	if tr.FallbackPortTCP != nil {
		resp.FallbackPortTCP = *tr.FallbackPortTCP
	}
	if tr.FallbackPortSSL != nil {
		resp.FallbackPortSSL = *tr.FallbackPortSSL
	}
	return resp, nil
}
