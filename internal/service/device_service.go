package service

import (
	"context"

	"example.com/backstage/services/ota/internal/audit"
	"example.com/backstage/services/ota/internal/auth"
	"example.com/backstage/services/ota/internal/metrics"
	"example.com/backstage/services/ota/internal/models"
	"example.com/backstage/services/ota/internal/validation"

	"github.com/google/uuid"
)

// RegisterDevice adds a device to the registry
func (s *service) RegisterDevice(ctx context.Context, id auth.Identity, req RegisterDeviceRequest) (*models.Device, error) {
	if err := auth.Require(id, auth.CapDevicesWrite); err != nil {
		return nil, err
	}
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	device, err := s.devices.Register(ctx, req.Identifier, req.Name, req.Group)
	if err != nil {
		return nil, err
	}

	s.metrics.IncrementCounter(metrics.DevicesRegistered)
	s.record(ctx, id, audit.ActionDeviceRegister, "device", device.ID.String(), map[string]interface{}{
		"deviceIdentifier": device.Identifier,
		"deviceGroup":      device.Group,
	})
	return device, nil
}

// ListDevices returns every device, newest first
func (s *service) ListDevices(ctx context.Context, id auth.Identity) ([]*models.Device, error) {
	if err := auth.Require(id, auth.CapDevicesRead); err != nil {
		return nil, err
	}
	return s.devices.List(ctx)
}

// GetDevice returns one device
func (s *service) GetDevice(ctx context.Context, id auth.Identity, deviceID uuid.UUID) (*models.Device, error) {
	if err := auth.Require(id, auth.CapDevicesRead); err != nil {
		return nil, err
	}
	return s.devices.Get(ctx, deviceID)
}

// DeviceHeartbeat records that a known device was seen
func (s *service) DeviceHeartbeat(ctx context.Context, id auth.Identity, deviceID uuid.UUID) error {
	if err := auth.Require(id, auth.CapDevicesWrite); err != nil {
		return err
	}
	if _, err := s.devices.Get(ctx, deviceID); err != nil {
		return err
	}
	return s.devices.Touch(ctx, deviceID)
}
