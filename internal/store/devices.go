package store

import (
	"context"

	"github.com/infinitio/oracles/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DeviceStore struct{ db *gorm.DB }

func (s *Store) Devices() *DeviceStore { return &DeviceStore{db: s.DB} }

func (d *DeviceStore) Upsert(ctx context.Context, device *domain.Device) error {
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}, {Name: "owner"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "os", "version", "updated_at"}),
	}).Create(device).Error
}

func (d *DeviceStore) Get(ctx context.Context, owner domain.UserID, id domain.DeviceID) (*domain.Device, error) {
	var device domain.Device
	err := d.db.WithContext(ctx).First(&device, "id = ? AND owner = ?", id, owner).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &device, nil
}

func (d *DeviceStore) ListForUser(ctx context.Context, owner domain.UserID) ([]*domain.Device, error) {
	var devices []*domain.Device
	err := d.db.WithContext(ctx).
		Where("owner = ?", owner).Order("created_at").Find(&devices).Error
	if err != nil {
		return nil, err
	}
	return devices, nil
}

func (d *DeviceStore) Delete(ctx context.Context, owner domain.UserID, id domain.DeviceID) error {
	tx := d.db.WithContext(ctx).Delete(&domain.Device{}, "id = ? AND owner = ?", id, owner)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (d *DeviceStore) Update(ctx context.Context, owner domain.UserID, id domain.DeviceID, updates map[string]any) error {
	return d.db.WithContext(ctx).Model(&domain.Device{}).
		Where("id = ? AND owner = ?", id, owner).
		Updates(updates).Error
}

// SetTrophonius records which gateway holds the device's connection, or
// clears it with nil on disconnect.
func (d *DeviceStore) SetTrophonius(ctx context.Context, owner domain.UserID, id domain.DeviceID, gateway *string) error {
	return d.db.WithContext(ctx).Model(&domain.Device{}).
		Where("id = ? AND owner = ?", id, owner).
		Update("trophonius", gateway).Error
}

// OnGateway lists the devices a gateway currently holds.
func (d *DeviceStore) OnGateway(ctx context.Context, gateway string) ([]*domain.Device, error) {
	var devices []*domain.Device
	err := d.db.WithContext(ctx).
		Where("trophonius = ?", gateway).Find(&devices).Error
	if err != nil {
		return nil, err
	}
	return devices, nil
}

// ClearGateway detaches every device registered on a gateway that went away
// and returns the owners so their peers can be told.
func (d *DeviceStore) ClearGateway(ctx context.Context, gateway string) ([]domain.UserID, error) {
	var owners []domain.UserID
	err := d.db.WithContext(ctx).Model(&domain.Device{}).
		Where("trophonius = ?", gateway).
		Distinct().Pluck("owner", &owners).Error
	if err != nil {
		return nil, err
	}
	err = d.db.WithContext(ctx).Model(&domain.Device{}).
		Where("trophonius = ?", gateway).
		Update("trophonius", nil).Error
	if err != nil {
		return nil, err
	}
	return owners, nil
}

// OnlineForUser lists the user's devices currently held by a gateway.
func (d *DeviceStore) OnlineForUser(ctx context.Context, owner domain.UserID) ([]*domain.Device, error) {
	var devices []*domain.Device
	err := d.db.WithContext(ctx).
		Where("owner = ? AND trophonius IS NOT NULL", owner).Find(&devices).Error
	if err != nil {
		return nil, err
	}
	return devices, nil
}
