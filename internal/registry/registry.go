// Package registry tracks device identity, group membership, heartbeats and
// the firmware each device currently runs.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"example.com/backstage/services/ota/internal/apperrors"
	"example.com/backstage/services/ota/internal/cache"
	"example.com/backstage/services/ota/internal/models"
	"example.com/backstage/services/ota/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const deviceCacheTTL = 24 * time.Hour

// Registry is the device registry
type Registry struct {
	repo  repository.DeviceRepository
	cache cache.RedisClient
	log   *logrus.Logger
	now   func() time.Time
}

// New creates a registry. A nil cache disables caching.
func New(repo repository.DeviceRepository, c cache.RedisClient, log *logrus.Logger) *Registry {
	if c == nil {
		c = cache.NewNoopClient()
	}
	return &Registry{
		repo:  repo,
		cache: c,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Register adds a device. An identifier that already exists is a ConflictError
// and the existing record is left untouched.
func (r *Registry) Register(ctx context.Context, identifier, name, group string) (*models.Device, error) {
	identifier = strings.TrimSpace(identifier)
	name = strings.TrimSpace(name)
	group = strings.TrimSpace(group)

	fields := map[string]string{}
	if identifier == "" {
		fields["deviceIdentifier"] = "required"
	}
	if name == "" {
		fields["name"] = "required"
	}
	if group == "" {
		fields["deviceGroup"] = "required"
	}
	if len(fields) > 0 {
		return nil, apperrors.Validation("invalid device registration", fields)
	}

	device := &models.Device{
		Identifier: identifier,
		Name:       name,
		Group:      group,
	}
	if err := r.repo.CreateDevice(ctx, device); err != nil {
		if apperrors.IsKind(err, apperrors.KindConflict) {
			return nil, apperrors.Conflict("device %s already registered", identifier)
		}
		return nil, err
	}

	r.cacheDevice(ctx, device)

	r.log.WithFields(logrus.Fields{
		"device_id":  device.ID,
		"identifier": device.Identifier,
		"group":      device.Group,
	}).Info("Device registered")

	return device, nil
}

// Get returns a device, reading through the cache
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (*models.Device, error) {
	if cached, err := r.cache.Get(ctx, cacheKey(id)); err == nil {
		var device models.Device
		if err := json.Unmarshal([]byte(cached), &device); err == nil {
			return &device, nil
		}
	} else if !errors.Is(err, cache.ErrMiss) {
		r.log.WithError(err).Debug("Device cache read failed")
	}

	device, err := r.repo.FindDeviceByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.cacheDevice(ctx, device)
	return device, nil
}

// List returns every device, most recently registered first
func (r *Registry) List(ctx context.Context) ([]*models.Device, error) {
	return r.repo.ListDevices(ctx)
}

// ListByGroup returns the devices of a group in registration order
func (r *Registry) ListByGroup(ctx context.Context, group string) ([]*models.Device, error) {
	return r.repo.ListDevicesByGroup(ctx, group)
}

// Touch records a heartbeat. Calling it repeatedly only moves the timestamp.
func (r *Registry) Touch(ctx context.Context, id uuid.UUID) error {
	if err := r.repo.UpdateDeviceLastSeen(ctx, id, r.now()); err != nil {
		return err
	}
	r.invalidate(ctx, id)
	return nil
}

// AssignFirmware points a device at the firmware it now runs
func (r *Registry) AssignFirmware(ctx context.Context, id, firmwareID uuid.UUID) error {
	if err := r.repo.UpdateDeviceFirmware(ctx, id, firmwareID); err != nil {
		return err
	}
	r.invalidate(ctx, id)
	return nil
}

func cacheKey(id uuid.UUID) string {
	return fmt.Sprintf("device:%s", id)
}

func (r *Registry) cacheDevice(ctx context.Context, device *models.Device) {
	data, err := json.Marshal(device)
	if err != nil {
		r.log.WithError(err).Warn("Failed to marshal device for cache")
		return
	}
	if err := r.cache.Set(ctx, cacheKey(device.ID), string(data), deviceCacheTTL); err != nil {
		r.log.WithError(err).WithField("device_id", device.ID).Warn("Failed to cache device")
	}
}

func (r *Registry) invalidate(ctx context.Context, id uuid.UUID) {
	if err := r.cache.Delete(ctx, cacheKey(id)); err != nil {
		r.log.WithError(err).WithField("device_id", id).Warn("Failed to invalidate device cache")
	}
}
