package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/infinitio/oracles/internal/domain"
	"github.com/infinitio/oracles/internal/errcode"
	"github.com/infinitio/oracles/internal/meta/dto"
	"github.com/infinitio/oracles/internal/store"
)

func deviceView(d *domain.Device) dto.DeviceView {
	return dto.DeviceView{
		ID:       d.ID,
		Name:     d.Name,
		Passport: d.Passport,
		OS:       d.OS,
		Version:  d.Version,
	}
}

func (s *Service) CreateDevice(ctx context.Context, session *domain.Session, req dto.CreateDeviceRequest) (*dto.DeviceView, error) {
	if req.Name == "" {
		return nil, errcode.New(errcode.DeviceNotValid, "empty name")
	}
	id := uuid.New()
	if req.ID != nil {
		id = *req.ID
	}
	if _, err := s.store.Devices().Get(ctx, session.UserID, id); err == nil {
		return nil, errcode.New(errcode.DeviceAlreadyRegistered, id.String())
	}
	passport, err := s.signPassport(session.UserID, id)
	if err != nil {
		return nil, err
	}
	device := &domain.Device{
		ID:        id,
		Owner:     session.UserID,
		Name:      req.Name,
		Passport:  passport,
		OS:        req.OS,
		Version:   req.Version,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.store.Devices().Upsert(ctx, device); err != nil {
		return nil, err
	}
	view := deviceView(device)
	return &view, nil
}

func (s *Service) UpdateDevice(ctx context.Context, session *domain.Session, req dto.UpdateDeviceRequest) (*dto.DeviceView, error) {
	if req.Name == "" {
		return nil, errcode.New(errcode.DeviceNotValid, "empty name")
	}
	device, err := s.store.Devices().Get(ctx, session.UserID, req.ID)
	if err == store.ErrRecordNotFound {
		return nil, errcode.New(errcode.DeviceNotFound, req.ID.String())
	}
	if err != nil {
		return nil, err
	}
	if err := s.store.Devices().Update(ctx, session.UserID, req.ID, map[string]any{"name": req.Name}); err != nil {
		return nil, err
	}
	device.Name = req.Name
	view := deviceView(device)
	return &view, nil
}

func (s *Service) DeleteDevice(ctx context.Context, session *domain.Session, id domain.DeviceID) error {
	err := s.store.Devices().Delete(ctx, session.UserID, id)
	if err == store.ErrRecordNotFound {
		return errcode.New(errcode.DeviceNotFound, id.String())
	}
	return err
}

func (s *Service) Devices(ctx context.Context, session *domain.Session) ([]dto.DeviceView, error) {
	devices, err := s.store.Devices().ListForUser(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	views := make([]dto.DeviceView, 0, len(devices))
	for _, d := range devices {
		views = append(views, deviceView(d))
	}
	return views, nil
}

func (s *Service) DeviceView(ctx context.Context, session *domain.Session, id domain.DeviceID) (*dto.DeviceView, error) {
	device, err := s.store.Devices().Get(ctx, session.UserID, id)
	if err == store.ErrRecordNotFound {
		return nil, errcode.New(errcode.DeviceNotFound, id.String())
	}
	if err != nil {
		return nil, err
	}
	view := deviceView(device)
	return &view, nil
}
