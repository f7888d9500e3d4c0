package repository

import (
	"context"
	"time"

	"example.com/backstage/services/ota/internal/apperrors"
	"example.com/backstage/services/ota/internal/models"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
)

// CreateDevice inserts a device. A duplicate identifier yields a ConflictError.
func (r *repository) CreateDevice(ctx context.Context, device *models.Device) error {
	db, err := r.conn(ctx)
	if err != nil {
		return err
	}
	return translate(db.Create(device).Error, "device", device.Identifier)
}

// FindDeviceByID retrieves a device by internal id
func (r *repository) FindDeviceByID(ctx context.Context, id uuid.UUID) (*models.Device, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}

	var device models.Device
	if err := db.First(&device, "id = ?", id).Error; err != nil {
		return nil, translate(err, "device", id.String())
	}
	return &device, nil
}

// ListDevices returns all devices, most recently registered first
func (r *repository) ListDevices(ctx context.Context) ([]*models.Device, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}

	var devices []*models.Device
	if err := db.Order("created_at DESC").Find(&devices).Error; err != nil {
		return nil, pkgerrors.Wrap(err, "failed to list devices")
	}
	return devices, nil
}

// ListDevicesByGroup returns the devices of a group in registration order
func (r *repository) ListDevicesByGroup(ctx context.Context, group string) ([]*models.Device, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}

	var devices []*models.Device
	err = db.Where("device_group = ?", group).Order("created_at ASC").Order("id ASC").Find(&devices).Error
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to list devices in group %s", group)
	}
	return devices, nil
}

// UpdateDeviceLastSeen sets the heartbeat timestamp
func (r *repository) UpdateDeviceLastSeen(ctx context.Context, id uuid.UUID, at time.Time) error {
	db, err := r.conn(ctx)
	if err != nil {
		return err
	}

	res := db.Model(&models.Device{}).Where("id = ?", id).Update("last_seen_at", at)
	if res.Error != nil {
		return translate(res.Error, "device", id.String())
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("device", id.String())
	}
	return nil
}

// UpdateDeviceFirmware points a device at the firmware it now runs
func (r *repository) UpdateDeviceFirmware(ctx context.Context, id, firmwareID uuid.UUID) error {
	db, err := r.conn(ctx)
	if err != nil {
		return err
	}

	res := db.Model(&models.Device{}).Where("id = ?", id).Update("current_firmware_id", firmwareID)
	if res.Error != nil {
		return translate(res.Error, "device", id.String())
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("device", id.String())
	}
	return nil
}
